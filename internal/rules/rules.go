// Package rules compiles declarative JSON rule definitions into typed,
// validated rules whose conditions can be rendered as store filters or
// evaluated directly in memory.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// RuleDef mirrors one entry of the rules JSON file.
type RuleDef struct {
	Name       string         `json:"name"`
	Predicate  string         `json:"predicate"`
	Conditions []ConditionDef `json:"conditions"`
	Actions    ActionsDef     `json:"actions"`
}

// ConditionDef is one raw condition: a field, a comparison predicate and the
// comparison value.
type ConditionDef struct {
	Field     string    `json:"field"`
	Predicate string    `json:"predicate"`
	Value     FlexValue `json:"value"`
}

// ActionsDef is the raw action set of a rule.
type ActionsDef struct {
	MarkAsRead   bool   `json:"mark_as_read,omitempty"`
	MarkAsUnread bool   `json:"mark_as_unread,omitempty"`
	MoveMessage  string `json:"move_message,omitempty"`
}

// FlexValue accepts both JSON strings and bare numbers, so day counts may be
// written as "2" or 2.
type FlexValue string

func (v *FlexValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = FlexValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*v = FlexValue(n.String())
		return nil
	}
	return fmt.Errorf("value must be a string or number, got %s", strconv.Quote(string(data)))
}

// Parse decodes a rules JSON document.
func Parse(data []byte) ([]RuleDef, error) {
	var defs []RuleDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return defs, nil
}

// Load reads and decodes a rules file.
func Load(path string) ([]RuleDef, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}
