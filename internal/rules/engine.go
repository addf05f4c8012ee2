package rules

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

// RuleView is the minimal, already-active subset of a FraudRule the engine
// needs to evaluate and report on — decoupled from the repository type so
// tests can inject rules without a database.
type RuleView struct {
	Code      string
	Name      string
	Weight    float64
	Condition *Node
}

// Explain carries the per-rule trace recorded for every rule examined,
// fired or not, matching the explanation[code] shape in §4.1.
type Explain struct {
	Fired  bool    `json:"fired"`
	Weight float64 `json:"weight"`
	Name   string  `json:"name"`
}

// Evaluate runs every rule's condition against txFields and returns the
// weighted rule_score, the ordered list of triggered codes (preserving
// input order), and a per-rule explanation — exactly the Rule Engine
// contract in §4.1.
func Evaluate(tx *models.Transaction, activeRules []RuleView) (score float64, triggered []string, explanation models.JSONB) {
	fields := transactionFields(tx)
	explanation = make(models.JSONB, len(activeRules))

	var sum float64
	for _, rule := range activeRules {
		fired := evaluateNode(rule.Condition, fields)
		explanation[rule.Code] = Explain{Fired: fired, Weight: rule.Weight, Name: rule.Name}
		if fired {
			triggered = append(triggered, rule.Code)
			sum += rule.Weight
		}
	}

	if sum > 1.0 {
		sum = 1.0
	}
	return sum, triggered, explanation
}

// evaluateNode recursively evaluates a combinator/leaf node. Empty
// combinator lists evaluate to true ("and") / false ("or") per §4.1.
func evaluateNode(node *Node, fields map[string]interface{}) bool {
	if node == nil {
		return false
	}

	switch {
	case node.And != nil:
		for _, child := range node.And {
			if !evaluateNode(child, fields) {
				return false
			}
		}
		return true

	case node.Or != nil:
		for _, child := range node.Or {
			if evaluateNode(child, fields) {
				return true
			}
		}
		return false

	default:
		return evaluateLeaf(node, fields)
	}
}

func evaluateLeaf(node *Node, fields map[string]interface{}) bool {
	op, ok := operators[node.Operator]
	if !ok {
		log.Warn().Str("operator", node.Operator).Str("field", node.Field).Msg("rules: unknown operator, leaf does not fire")
		return false
	}

	value, found := resolveField(fields, node.Field)
	if !found {
		return false
	}

	fired, err := op(value, node.Params)
	if err != nil {
		log.Warn().Err(err).Str("operator", node.Operator).Str("field", node.Field).Msg("rules: operator coercion failed, leaf does not fire")
		return false
	}
	return fired
}

// resolveField walks a dotted path against the transaction's field map. A
// missing field yields (nil, false) — never an error — per §4.1.
func resolveField(fields map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = fields
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// transactionFields renders a transaction into the generic nested map the
// field-path resolver walks, round-tripping through its JSON tags so
// "metadata.ip_country_flagged" and "amount_zar" resolve the same way they
// would against the wire representation.
func transactionFields(tx *models.Transaction) map[string]interface{} {
	raw, err := json.Marshal(tx)
	if err != nil {
		return map[string]interface{}{}
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return map[string]interface{}{}
	}
	return fields
}
