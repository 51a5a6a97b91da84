package apply

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/mailfold/internal/rules"
	"github.com/joshsymonds/mailfold/internal/store"
)

// Runner applies a compiled rule set in its declared order. Each rule's
// matches are re-read from the store after the previous rule's actions were
// mirrored, so when two rules touch the same record with conflicting actions
// the later rule wins.
type Runner struct {
	Store    store.Store
	Executor *Executor
	Logger   *slog.Logger
	Clock    func() time.Time
}

// NewRunner constructs a Runner around an executor.
func NewRunner(st store.Store, exec *Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Runner{Store: st, Executor: exec, Logger: logger, Clock: time.Now}
}

// Run evaluates and applies every rule. A store failure aborts the run; action
// failures are carried in the outcomes.
func (r *Runner) Run(ctx context.Context, ruleSet []rules.Rule) ([]Outcome, error) {
	evaluator := Evaluator{Store: r.Store}
	outcomes := make([]Outcome, 0, len(ruleSet))
	for _, rule := range ruleSet {
		now := r.Clock()
		matches, err := evaluator.Matches(ctx, rule, now)
		if err != nil {
			return outcomes, err
		}
		out := r.Executor.Apply(ctx, rule, matches)
		outcomes = append(outcomes, out)
		r.Logger.InfoContext(ctx, "rule applied",
			slog.String("rule", rule.Name),
			slog.Int("matched", out.Matched),
			slog.Int("attempted", out.Attempted),
			slog.Int("succeeded", out.Succeeded),
			slog.Int("failed", out.Failed),
			slog.Int("skipped", out.Skipped),
		)
		for _, f := range out.Failures {
			r.Logger.WarnContext(ctx, "action failed",
				slog.String("rule", rule.Name),
				slog.String("record", f.RecordID),
				slog.String("action", f.Action),
				slog.Any("error", f.Err),
			)
		}
	}
	return outcomes, nil
}
