package rules

import "fmt"

// ValidationError reports the first defect found in a rule definition. The
// rule is identified by name when it has one, by list index otherwise.
type ValidationError struct {
	Rule   string
	Index  int
	Defect string
}

func (e *ValidationError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("rule %q: %s", e.Rule, e.Defect)
	}
	return fmt.Sprintf("rule %d: %s", e.Index, e.Defect)
}

func defect(def RuleDef, index int, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: def.Name, Index: index, Defect: fmt.Sprintf(format, args...)}
}
