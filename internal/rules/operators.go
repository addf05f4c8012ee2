package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// operatorFunc evaluates a leaf's operator against the resolved field value.
// A coercion failure returns (false, error); the caller logs and treats the
// leaf as not-triggered, it never aborts scoring.
type operatorFunc func(value interface{}, params map[string]interface{}) (bool, error)

// operators is the closed, single-registration lookup table described in
// §4.1 — adding a new operator is one entry here.
var operators = map[string]operatorFunc{
	"gt":       numericCompare(func(v, t float64) bool { return v > t }),
	"gte":      numericCompare(func(v, t float64) bool { return v >= t }),
	"lt":       numericCompare(func(v, t float64) bool { return v < t }),
	"lte":      numericCompare(func(v, t float64) bool { return v <= t }),
	"eq":       stringCompare(func(v, t string) bool { return v == t }),
	"neq":      stringCompare(func(v, t string) bool { return v != t }),
	"in":       membership(true),
	"not_in":   membership(false),
	"contains": containsOp,
}

func numericCompare(cmp func(value, threshold float64) bool) operatorFunc {
	return func(value interface{}, params map[string]interface{}) (bool, error) {
		threshold, err := toFloat64(params["threshold"])
		if err != nil {
			return false, fmt.Errorf("invalid threshold: %w", err)
		}
		v, err := toFloat64(value)
		if err != nil {
			return false, fmt.Errorf("invalid value: %w", err)
		}
		return cmp(v, threshold), nil
	}
}

func stringCompare(cmp func(value, target string) bool) operatorFunc {
	return func(value interface{}, params map[string]interface{}) (bool, error) {
		target := toStringified(params["target"])
		v := toStringified(value)
		return cmp(v, target), nil
	}
}

func membership(wantMember bool) operatorFunc {
	return func(value interface{}, params map[string]interface{}) (bool, error) {
		rawList, ok := params["list"].([]interface{})
		if !ok {
			return false, fmt.Errorf("'list' must be an array")
		}
		v := toStringified(value)
		member := false
		for _, item := range rawList {
			if toStringified(item) == v {
				member = true
				break
			}
		}
		return member == wantMember, nil
	}
}

func containsOp(value interface{}, params map[string]interface{}) (bool, error) {
	substring, ok := params["substring"].(string)
	if !ok {
		return false, fmt.Errorf("'substring' must be a string")
	}
	v := toStringified(value)
	return strings.Contains(strings.ToLower(v), strings.ToLower(substring)), nil
}

// toFloat64 parses a transaction field's runtime value as a real number.
func toFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case string:
		return strconv.ParseFloat(val, 64)
	case nil:
		return 0, fmt.Errorf("value is absent")
	default:
		return 0, fmt.Errorf("cannot parse %T as a number", v)
	}
}

// toStringified stringifies any value for eq/neq/in/not_in/contains, per
// §4.1's "string-equality after stringifying both sides".
func toStringified(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
