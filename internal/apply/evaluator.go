// Package apply evaluates compiled rules against the record store and executes
// their actions against the remote mailbox.
package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/joshsymonds/mailfold/internal/rules"
	"github.com/joshsymonds/mailfold/internal/store"
)

// Evaluator finds the stored records a compiled rule matches. Matching happens
// at the store as a rendered filter query; the filter tree's in-memory Match
// is the reference semantics the query must agree with.
type Evaluator struct {
	Store store.Store
}

// Matches returns the records satisfying the rule at the instant now. The
// result order is stable across repeated calls on unchanged data.
func (e Evaluator) Matches(ctx context.Context, rule rules.Rule, now time.Time) ([]store.Record, error) {
	recs, err := e.Store.QueryFilter(ctx, rule.Filter(), now)
	if err != nil {
		return nil, fmt.Errorf("evaluate rule %q: %w", rule.Name, err)
	}
	return recs, nil
}
