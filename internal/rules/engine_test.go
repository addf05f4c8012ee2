package rules

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

func newRuleView(t *testing.T, code, name string, weight float64, condition map[string]interface{}) RuleView {
	t.Helper()
	node, err := Parse(condition)
	require.NoError(t, err)
	return RuleView{Code: code, Name: name, Weight: weight, Condition: node}
}

func baseTransaction() *models.Transaction {
	return &models.Transaction{
		ID:        uuid.New(),
		SenderID:  "sender-1",
		AmountZAR: 5000,
		Currency:  "ZAR",
		Channel:   models.ChannelMobileBanking,
		Metadata:  models.JSONB{},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestEvaluate_CriticalAmountSingleRule(t *testing.T) {
	tx := baseTransaction()
	tx.AmountZAR = 250000

	critical := newRuleView(t, "RULE_CRITICAL_AMOUNT", "Critical-Value Transaction", 0.45, map[string]interface{}{
		"field": "amount_zar", "operator": "gt", "threshold": float64(200000),
	})

	score, triggered, explanation := Evaluate(tx, []RuleView{critical})

	assert.Equal(t, 0.45, score)
	assert.Equal(t, []string{"RULE_CRITICAL_AMOUNT"}, triggered)
	assert.Equal(t, Explain{Fired: true, Weight: 0.45, Name: "Critical-Value Transaction"}, explanation["RULE_CRITICAL_AMOUNT"])

	highAmount := newRuleView(t, "RULE_HIGH_AMOUNT", "High-Value Transaction", 0.25, map[string]interface{}{
		"field": "amount_zar", "operator": "gt", "threshold": float64(50000),
	})
	score, triggered, _ = Evaluate(tx, []RuleView{critical, highAmount})
	assert.InDelta(t, 0.70, score, 0.0001)
	assert.Equal(t, []string{"RULE_CRITICAL_AMOUNT", "RULE_HIGH_AMOUNT"}, triggered)
}

func TestEvaluate_WeightSumCapsAtOne(t *testing.T) {
	tx := baseTransaction()
	tx.AmountZAR = 999999

	r1 := newRuleView(t, "R1", "r1", 0.7, map[string]interface{}{"field": "amount_zar", "operator": "gt", "threshold": float64(0)})
	r2 := newRuleView(t, "R2", "r2", 0.7, map[string]interface{}{"field": "amount_zar", "operator": "gt", "threshold": float64(0)})

	score, triggered, _ := Evaluate(tx, []RuleView{r1, r2})
	assert.Equal(t, 1.0, score)
	assert.Len(t, triggered, 2)
}

func TestEvaluate_UnknownOperatorNeverFires(t *testing.T) {
	tx := baseTransaction()

	rule := newRuleView(t, "RULE_MAGIC", "magic", 0.5, map[string]interface{}{
		"field": "amount_zar", "operator": "magic", "threshold": float64(0),
	})

	score, triggered, explanation := Evaluate(tx, []RuleView{rule})
	assert.Equal(t, 0.0, score)
	assert.Empty(t, triggered)
	assert.False(t, explanation["RULE_MAGIC"].(Explain).Fired)
}

func TestEvaluate_MissingFieldDoesNotFire(t *testing.T) {
	tx := baseTransaction()

	rule := newRuleView(t, "RULE_FOREIGN_IP", "foreign ip", 0.18, map[string]interface{}{
		"field": "metadata.ip_country_flagged", "operator": "eq", "target": "true",
	})

	score, triggered, _ := Evaluate(tx, []RuleView{rule})
	assert.Equal(t, 0.0, score)
	assert.Empty(t, triggered)
}

func TestEvaluate_CompoundAndOr(t *testing.T) {
	tx := baseTransaction()
	tx.Channel = models.ChannelAPI
	tx.DeviceFingerprint = ""

	apiNoFingerprint := newRuleView(t, "RULE_API_NO_FINGERPRINT", "api no fingerprint", 0.15, map[string]interface{}{
		"and": []interface{}{
			map[string]interface{}{"field": "channel", "operator": "eq", "target": "api"},
			map[string]interface{}{"field": "device_fingerprint", "operator": "eq", "target": ""},
		},
	})

	score, triggered, _ := Evaluate(tx, []RuleView{apiNoFingerprint})
	assert.Equal(t, 0.15, score)
	assert.Equal(t, []string{"RULE_API_NO_FINGERPRINT"}, triggered)

	orRule := newRuleView(t, "RULE_OR", "or rule", 0.10, map[string]interface{}{
		"or": []interface{}{
			map[string]interface{}{"field": "channel", "operator": "eq", "target": "pos"},
			map[string]interface{}{"field": "channel", "operator": "eq", "target": "api"},
		},
	})
	score, triggered, _ = Evaluate(tx, []RuleView{orRule})
	assert.Equal(t, 0.10, score)
	assert.Equal(t, []string{"RULE_OR"}, triggered)
}

func TestEvaluate_InNotInContains(t *testing.T) {
	tx := baseTransaction()
	tx.MerchantCategory = "online_gambling"

	suspicious := newRuleView(t, "RULE_SUSPICIOUS_MERCHANT", "suspicious merchant", 0.20, map[string]interface{}{
		"field": "merchant_category", "operator": "in",
		"list": []interface{}{"cryptocurrency_exchange", "online_gambling"},
	})
	score, triggered, _ := Evaluate(tx, []RuleView{suspicious})
	assert.Equal(t, 0.20, score)
	assert.Equal(t, []string{"RULE_SUSPICIOUS_MERCHANT"}, triggered)

	tx.IPAddress = "suspicious-tor-exit-node"
	containsRule := newRuleView(t, "RULE_TOR", "tor exit", 0.1, map[string]interface{}{
		"field": "ip_address", "operator": "contains", "substring": "TOR",
	})
	score, _, _ = Evaluate(tx, []RuleView{containsRule})
	assert.Equal(t, 0.1, score)
}

func TestEvaluate_EmptyCombinators(t *testing.T) {
	andNode, err := Parse(map[string]interface{}{"and": []interface{}{}})
	require.NoError(t, err)
	assert.True(t, evaluateNode(andNode, map[string]interface{}{}))

	orNode, err := Parse(map[string]interface{}{"or": []interface{}{}})
	require.NoError(t, err)
	assert.False(t, evaluateNode(orNode, map[string]interface{}{}))
}
