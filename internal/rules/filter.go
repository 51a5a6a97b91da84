package rules

import (
	"strings"
	"time"
)

// Fields is the view of one stored record that conditions are evaluated
// against. Received is epoch seconds UTC.
type Fields struct {
	Sender    string
	Recipient string
	Subject   string
	Snippet   string
	Received  int64
}

// Expr is a filter expression: a leaf condition or an AND/OR group. The same
// tree renders to a store-level WHERE clause and evaluates records in memory;
// both derivations must agree on every record.
type Expr interface {
	// SQL renders the expression as a parameterized WHERE fragment. now
	// anchors relative date conditions.
	SQL(now time.Time) (string, []any)
	// Match evaluates the expression against one record at the same instant.
	Match(f Fields, now time.Time) bool
}

// Condition is one compiled atomic test. Only this package constructs
// conditions, so field/predicate combinations that failed compilation cannot
// exist at evaluation time.
type Condition interface {
	Expr
	sealed()
}

type group struct {
	mode     Mode
	children []Expr
}

func (g group) SQL(now time.Time) (string, []any) {
	sep := " AND "
	if g.mode == ModeAny {
		sep = " OR "
	}
	parts := make([]string, 0, len(g.children))
	var args []any
	for _, child := range g.children {
		clause, childArgs := child.SQL(now)
		parts = append(parts, "("+clause+")")
		args = append(args, childArgs...)
	}
	return strings.Join(parts, sep), args
}

func (g group) Match(f Fields, now time.Time) bool {
	if g.mode == ModeAll {
		for _, child := range g.children {
			if !child.Match(f, now) {
				return false
			}
		}
		return true
	}
	for _, child := range g.children {
		if child.Match(f, now) {
			return true
		}
	}
	return false
}

type stringCondition struct {
	field  Field
	op     stringOp
	needle string // already lowercased
}

func (c stringCondition) sealed() {}

var fieldColumns = map[Field]string{
	FieldSender:    "sender",
	FieldRecipient: "recipient",
	FieldSubject:   "subject",
	FieldSnippet:   "snippet",
}

// fold is a custom SQL function the store registers over strings.ToLower.
// SQLite's built-in LOWER only folds ASCII, so rendering through fold keeps
// the store derivation agreeing with Match on non-ASCII text.
func (c stringCondition) SQL(time.Time) (string, []any) {
	col := fieldColumns[c.field]
	switch c.op {
	case opContains:
		return "fold(" + col + `) LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(c.needle) + "%"}
	case opNotContains:
		return "fold(" + col + `) NOT LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(c.needle) + "%"}
	case opEquals:
		return "fold(" + col + ") = ?", []any{c.needle}
	default:
		return "fold(" + col + ") != ?", []any{c.needle}
	}
}

func (c stringCondition) Match(f Fields, _ time.Time) bool {
	var raw string
	switch c.field {
	case FieldSender:
		raw = f.Sender
	case FieldRecipient:
		raw = f.Recipient
	case FieldSubject:
		raw = f.Subject
	case FieldSnippet:
		raw = f.Snippet
	}
	val := strings.ToLower(raw)
	switch c.op {
	case opContains:
		return strings.Contains(val, c.needle)
	case opNotContains:
		return !strings.Contains(val, c.needle)
	case opEquals:
		return val == c.needle
	default:
		return val != c.needle
	}
}

// escapeLike neutralizes LIKE wildcards so substring matching stays literal,
// keeping the SQL path equivalent to strings.Contains.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// absoluteCondition compares the received timestamp against a fixed instant.
type absoluteCondition struct {
	op   dateOp
	unix int64
}

func (c absoluteCondition) sealed() {}

func (c absoluteCondition) SQL(time.Time) (string, []any) {
	if c.op == opBefore {
		return "received < ?", []any{c.unix}
	}
	return "received > ?", []any{c.unix}
}

func (c absoluteCondition) Match(f Fields, _ time.Time) bool {
	if c.op == opBefore {
		return f.Received < c.unix
	}
	return f.Received > c.unix
}

// relativeCondition compares the received timestamp against now minus N days.
// The cutoff is recomputed from the now passed in at each evaluation, so the
// same stored data can match differently on different days.
type relativeCondition struct {
	op   dateOp
	days int
}

func (c relativeCondition) sealed() {}

func (c relativeCondition) cutoff(now time.Time) int64 {
	return now.Add(-time.Duration(c.days) * 24 * time.Hour).Unix()
}

func (c relativeCondition) SQL(now time.Time) (string, []any) {
	if c.op == opAfter {
		return "received >= ?", []any{c.cutoff(now)}
	}
	return "received <= ?", []any{c.cutoff(now)}
}

func (c relativeCondition) Match(f Fields, now time.Time) bool {
	if c.op == opAfter {
		return f.Received >= c.cutoff(now)
	}
	return f.Received <= c.cutoff(now)
}
