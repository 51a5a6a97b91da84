package rules

import (
	"strconv"
	"strings"
	"time"
)

// Field identifies the record attribute a condition tests.
type Field int

const (
	FieldSender Field = iota
	FieldRecipient
	FieldSubject
	FieldSnippet
	FieldReceived
)

// Mode is a rule's condition combination mode.
type Mode int

const (
	ModeAll Mode = iota // conjunction
	ModeAny             // disjunction
)

func (m Mode) String() string {
	if m == ModeAll {
		return "all"
	}
	return "any"
}

type stringOp int

const (
	opContains stringOp = iota
	opNotContains
	opEquals
	opNotEquals
)

type dateOp int

const (
	opBefore dateOp = iota // received strictly before the reference instant
	opAfter                // received strictly after the reference instant
)

// Actions is a rule's validated action set. MarkRead and MarkUnread are
// mutually exclusive; Move is empty when no move is requested.
type Actions struct {
	MarkRead   bool
	MarkUnread bool
	Move       string
}

// Rule is a compiled, validated rule.
type Rule struct {
	Name       string
	Mode       Mode
	Conditions []Condition
	Actions    Actions
}

// Filter returns the rule's condition tree as a filter expression.
func (r Rule) Filter() Expr {
	children := make([]Expr, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		children = append(children, c)
	}
	return group{mode: r.Mode, children: children}
}

var fieldNames = map[string]Field{
	"from":     FieldSender,
	"to":       FieldRecipient,
	"subject":  FieldSubject,
	"message":  FieldSnippet,
	"received": FieldReceived,
}

var stringOps = map[string]stringOp{
	"contains":         opContains,
	"does_not_contain": opNotContains,
	"equals":           opEquals,
	"not_equals":       opNotEquals,
	"does_not_equal":   opNotEquals,
}

// Absolute date predicates compare against a fixed instant; relative ones
// against "now minus N days", recomputed at every evaluation.
var absoluteDateOps = map[string]dateOp{
	"less_than":    opBefore,
	"greater_than": opAfter,
}

var relativeDateOps = map[string]dateOp{
	"less_than_days":    opAfter,  // received within the last N days
	"greater_than_days": opBefore, // received more than N days ago
}

// Compile validates every rule definition in order and returns the compiled
// set, or a ValidationError for the first offending rule. Compilation is pure:
// it touches neither the store nor the remote mailbox.
func Compile(defs []RuleDef) ([]Rule, error) {
	compiled := make([]Rule, 0, len(defs))
	for i, def := range defs {
		rule, err := compileRule(def, i)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

func compileRule(def RuleDef, index int) (Rule, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return Rule{}, defect(def, index, "name must be present and non-empty")
	}

	var mode Mode
	switch def.Predicate {
	case "all":
		mode = ModeAll
	case "any":
		mode = ModeAny
	default:
		return Rule{}, defect(def, index, "predicate must be %q or %q, got %q", "all", "any", def.Predicate)
	}

	if len(def.Conditions) == 0 {
		return Rule{}, defect(def, index, "conditions must be non-empty; a rule with no conditions matches nothing")
	}
	conditions := make([]Condition, 0, len(def.Conditions))
	for j, cd := range def.Conditions {
		cond, err := compileCondition(def, index, j, cd)
		if err != nil {
			return Rule{}, err
		}
		conditions = append(conditions, cond)
	}

	actions, err := compileActions(def, index)
	if err != nil {
		return Rule{}, err
	}

	return Rule{Name: name, Mode: mode, Conditions: conditions, Actions: actions}, nil
}

func compileCondition(def RuleDef, index, condIndex int, cd ConditionDef) (Condition, error) {
	field, ok := fieldNames[cd.Field]
	if !ok {
		return nil, defect(def, index, "condition %d: unknown field %q", condIndex, cd.Field)
	}
	value := string(cd.Value)
	if value == "" {
		return nil, defect(def, index, "condition %d: value must be present", condIndex)
	}

	if field == FieldReceived {
		if op, ok := relativeDateOps[cd.Predicate]; ok {
			days, convErr := strconv.Atoi(value)
			if convErr != nil {
				return nil, defect(def, index, "condition %d: day count %q is not an integer", condIndex, value)
			}
			if days < 0 {
				return nil, defect(def, index, "condition %d: day count must be non-negative, got %d", condIndex, days)
			}
			return relativeCondition{op: op, days: days}, nil
		}
		if op, ok := absoluteDateOps[cd.Predicate]; ok {
			unix, convErr := parseInstant(value)
			if convErr != nil {
				return nil, defect(def, index, "condition %d: %q is neither an RFC 3339 timestamp nor epoch seconds", condIndex, value)
			}
			return absoluteCondition{op: op, unix: unix}, nil
		}
		if _, isString := stringOps[cd.Predicate]; isString {
			return nil, defect(def, index, "condition %d: predicate %q does not apply to the received date", condIndex, cd.Predicate)
		}
		return nil, defect(def, index, "condition %d: unknown predicate %q", condIndex, cd.Predicate)
	}

	op, ok := stringOps[cd.Predicate]
	if !ok {
		if _, isDate := absoluteDateOps[cd.Predicate]; isDate {
			return nil, defect(def, index, "condition %d: predicate %q requires the received field", condIndex, cd.Predicate)
		}
		if _, isDate := relativeDateOps[cd.Predicate]; isDate {
			return nil, defect(def, index, "condition %d: predicate %q requires the received field", condIndex, cd.Predicate)
		}
		return nil, defect(def, index, "condition %d: unknown predicate %q", condIndex, cd.Predicate)
	}
	return stringCondition{field: field, op: op, needle: strings.ToLower(value)}, nil
}

func compileActions(def RuleDef, index int) (Actions, error) {
	a := def.Actions
	move := strings.TrimSpace(a.MoveMessage)
	if !a.MarkAsRead && !a.MarkAsUnread && a.MoveMessage == "" {
		return Actions{}, defect(def, index, "actions must be non-empty; a rule with no actions is a no-op")
	}
	if a.MarkAsRead && a.MarkAsUnread {
		return Actions{}, defect(def, index, "mark_as_read and mark_as_unread conflict; a rule may request at most one")
	}
	if a.MoveMessage != "" && move == "" {
		return Actions{}, defect(def, index, "move_message must be a non-empty folder name")
	}
	return Actions{MarkRead: a.MarkAsRead, MarkUnread: a.MarkAsUnread, Move: move}, nil
}

// parseInstant accepts RFC 3339 or bare epoch seconds.
func parseInstant(value string) (int64, error) {
	if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
		return unix, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
