// Package rules implements the dynamic predicate-tree rule engine: a JSON
// condition tree of combinators ("and"/"or") and operator leaves, evaluated
// against a transaction. Dispatch is by node type
// (evaluateNode/evaluateLeaf) against a combinator/leaf tagged
// union with a single operator lookup table, so that adding an operator is
// one registration.
package rules

import (
	"fmt"
)

// Node is a tagged-variant predicate tree node: either a combinator (And/Or
// non-nil, possibly empty) or a leaf (Field/Operator set).
type Node struct {
	And []*Node
	Or  []*Node

	Field    string
	Operator string
	Params   map[string]interface{}
}

// Parse builds a Node from a raw condition tree (as decoded from JSONB). It
// validates shape at rule-creation time so malformed rules fail before they
// ever reach scoring, per the "earlier failure = better UX" design note.
func Parse(raw map[string]interface{}) (*Node, error) {
	if raw == nil {
		return nil, fmt.Errorf("rules: condition is empty")
	}

	if rawAnd, ok := raw["and"]; ok {
		children, err := parseChildren(rawAnd)
		if err != nil {
			return nil, fmt.Errorf("rules: invalid 'and' node: %w", err)
		}
		return &Node{And: children}, nil
	}

	if rawOr, ok := raw["or"]; ok {
		children, err := parseChildren(rawOr)
		if err != nil {
			return nil, fmt.Errorf("rules: invalid 'or' node: %w", err)
		}
		return &Node{Or: children}, nil
	}

	field, _ := raw["field"].(string)
	operator, _ := raw["operator"].(string)
	if field == "" || operator == "" {
		return nil, fmt.Errorf("rules: leaf node requires 'field' and 'operator'")
	}

	return &Node{Field: field, Operator: operator, Params: raw}, nil
}

func parseChildren(raw interface{}) ([]*Node, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an array of nodes")
	}
	children := make([]*Node, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected a node object")
		}
		child, err := Parse(m)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// IsLeaf reports whether n is an operator leaf rather than a combinator.
func (n *Node) IsLeaf() bool {
	return n.And == nil && n.Or == nil
}
