package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/models"
)

func TestBlend_WithMLSignal(t *testing.T) {
	ml := 0.8
	composite := blend(0.5, 0.5, 0.5, &ml)
	assert.InDelta(t, 0.30*0.5+0.22*0.5+0.23*0.5+0.25*0.8, composite, 0.0001)
}

func TestBlend_WithoutMLSignal(t *testing.T) {
	composite := blend(0.5, 0.5, 0.5, nil)
	assert.InDelta(t, 0.35*0.5+0.33*0.5+0.32*0.5, composite, 0.0001)
}

func TestBlend_CapsAtOne(t *testing.T) {
	ml := 1.0
	composite := blend(1.0, 1.0, 1.0, &ml)
	assert.Equal(t, 1.0, composite)
}

func TestClassify_InclusiveBoundaries(t *testing.T) {
	cfg := configs.RiskConfig{HighThreshold: 0.6, CriticalThreshold: 0.85}

	assert.Equal(t, models.RiskLevelLow, classify(0.0, cfg))
	assert.Equal(t, models.RiskLevelLow, classify(0.3999, cfg))
	assert.Equal(t, models.RiskLevelMedium, classify(0.4, cfg))
	assert.Equal(t, models.RiskLevelMedium, classify(0.5999, cfg))
	assert.Equal(t, models.RiskLevelHigh, classify(0.6, cfg))
	assert.Equal(t, models.RiskLevelHigh, classify(0.8499, cfg))
	assert.Equal(t, models.RiskLevelCritical, classify(0.85, cfg))
	assert.Equal(t, models.RiskLevelCritical, classify(1.0, cfg))
}

func baseTxnForAlert() *models.Transaction {
	return &models.Transaction{ID: uuid.New(), SenderID: "sender-1"}
}

func TestBuildAlert_FraudSuspectedWinsTieBreak(t *testing.T) {
	txn := baseTxnForAlert()
	score := &models.RiskScore{RiskLevel: models.RiskLevelCritical}
	sig := signals{ruleScore: 0.6, velocity: VelocityResult{Breach: true}}

	alert := buildAlert(txn, score, sig)

	assert.Equal(t, models.AlertTypeFraudSuspected, alert.AlertType)
	assert.Equal(t, models.RiskLevelCritical, alert.Severity)
	assert.Equal(t, models.AlertStatusOpen, alert.Status)
}

func TestBuildAlert_VelocityBreachWhenRuleScoreLow(t *testing.T) {
	txn := baseTxnForAlert()
	score := &models.RiskScore{RiskLevel: models.RiskLevelHigh}
	sig := signals{ruleScore: 0.2, velocity: VelocityResult{Breach: true}}

	alert := buildAlert(txn, score, sig)

	assert.Equal(t, models.AlertTypeVelocityBreach, alert.AlertType)
}

func TestBuildAlert_AnomalyDetectedAsFallback(t *testing.T) {
	txn := baseTxnForAlert()
	score := &models.RiskScore{RiskLevel: models.RiskLevelHigh}
	sig := signals{ruleScore: 0.1, velocity: VelocityResult{Breach: false}}

	alert := buildAlert(txn, score, sig)

	assert.Equal(t, models.AlertTypeAnomalyDetected, alert.AlertType)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, round4(0.12345))
	assert.Equal(t, 0.5, round4(0.5))
}
