package apply

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gc "github.com/joshsymonds/mailfold/internal/gmail"
	"github.com/joshsymonds/mailfold/internal/rate"
	"github.com/joshsymonds/mailfold/internal/rules"
	"github.com/joshsymonds/mailfold/internal/store"
)

// System labels a move never strips from a message.
var unalteredSystemLabels = map[string]struct{}{
	"CHAT": {}, "UNREAD": {}, "DRAFT": {}, "IMPORTANT": {},
	"STARRED": {}, "TRASH": {}, "SPAM": {}, "SENT": {},
}

// Failure records one isolated per-record action failure.
type Failure struct {
	RecordID string
	Action   string
	Err      error
}

// Outcome summarizes one rule application. Attempted counts records that
// needed at least one remote call; Skipped counts records whose actions were
// already satisfied locally.
type Outcome struct {
	Rule      string
	Matched   int
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Failures  []Failure
}

// Executor applies a rule's actions to its matching records via the remote
// mailbox and mirrors the resulting state into the store.
type Executor struct {
	Client   gc.Client
	Store    store.Store
	Registry *Registry
	Limiter  rate.Limiter
	Logger   *slog.Logger
	Workers  int // parallel records; <= 1 applies sequentially
	DryRun   bool
}

type recordResult struct {
	attempted bool
	failures  []Failure
}

// Apply executes the rule's actions for every record. Per-record failures are
// isolated: one record's remote-call failure is recorded and the remaining
// records still run. Within a record, the read-state change is applied before
// the move, so a partial failure leaves a reproducible intermediate state.
func (e *Executor) Apply(ctx context.Context, rule rules.Rule, records []store.Record) Outcome {
	out := Outcome{Rule: rule.Name, Matched: len(records)}
	if len(records) == 0 {
		return out
	}
	if e.DryRun {
		e.Logger.InfoContext(ctx, "dry-run, skipping actions",
			slog.String("rule", rule.Name), slog.Int("matched", len(records)))
		out.Skipped = len(records)
		return out
	}

	results := make([]recordResult, len(records))
	workers := e.Workers
	if workers <= 1 || len(records) == 1 {
		for i, rec := range records {
			results[i] = e.applyRecord(ctx, rule, rec)
		}
	} else {
		if workers > len(records) {
			workers = len(records)
		}
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					results[i] = e.applyRecord(ctx, rule, records[i])
				}
			}()
		}
		dispatched := make([]bool, len(records))
	dispatch:
		for i := range records {
			select {
			case jobs <- i:
				dispatched[i] = true
			case <-ctx.Done():
				break dispatch
			}
		}
		close(jobs)
		wg.Wait()
		// Records never handed to a worker are failures, not satisfied state.
		for i, rec := range records {
			if !dispatched[i] {
				results[i] = recordResult{failures: []Failure{
					{RecordID: rec.ID, Action: "apply", Err: ctx.Err()},
				}}
			}
		}
	}

	for _, res := range results {
		switch {
		case len(res.failures) > 0:
			out.Failed++
			out.Failures = append(out.Failures, res.failures...)
		case res.attempted:
			out.Succeeded++
		default:
			out.Skipped++
		}
		if res.attempted {
			out.Attempted++
		}
	}
	return out
}

// applyRecord runs the fixed action sequence for one record: read state first,
// then move. Actions already satisfied by local state are skipped without a
// remote call, which keeps repeated runs stable and cheap.
func (e *Executor) applyRecord(ctx context.Context, rule rules.Rule, rec store.Record) recordResult {
	var res recordResult

	if rule.Actions.MarkRead || rule.Actions.MarkUnread {
		wantRead := rule.Actions.MarkRead
		if rec.Read != wantRead {
			res.attempted = true
			if err := e.setReadState(ctx, &rec, wantRead); err != nil {
				res.failures = append(res.failures, Failure{RecordID: rec.ID, Action: "mark", Err: err})
			}
		}
	}

	if rule.Actions.Move != "" {
		attempted, err := e.move(ctx, &rec, rule.Actions.Move)
		res.attempted = res.attempted || attempted
		if err != nil {
			res.failures = append(res.failures, Failure{RecordID: rec.ID, Action: "move", Err: err})
		}
	}
	return res
}

func (e *Executor) setReadState(ctx context.Context, rec *store.Record, read bool) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	if err := e.Client.Modify(ctx, gc.MessageID(rec.ID), gc.ReadStateOps(read)); err != nil {
		return fmt.Errorf("set read=%t: %w", read, err)
	}
	if err := e.Store.SetRead(ctx, rec.ID, read); err != nil {
		return err
	}
	rec.Read = read
	return nil
}

// move resolves the destination folder, applies the label swap remotely and
// mirrors the new label set locally. The record keeps its protected system
// labels; other labels are replaced by the destination.
func (e *Executor) move(ctx context.Context, rec *store.Record, folder string) (bool, error) {
	labelID, err := e.Registry.Resolve(ctx, folder)
	if err != nil {
		// Resolution failure aborts only this record's move.
		return false, fmt.Errorf("resolve folder %q: %w", folder, err)
	}
	if rec.HasLabel(string(labelID)) {
		return false, nil
	}

	ops := gc.ModifyOps{AddLabels: []gc.LabelID{labelID}}
	next := make([]string, 0, len(rec.Labels)+1)
	for _, l := range rec.Labels {
		if _, keep := unalteredSystemLabels[l]; keep {
			next = append(next, l)
			continue
		}
		ops.RemoveLabels = append(ops.RemoveLabels, gc.LabelID(l))
	}
	next = append(next, string(labelID))

	if err := e.wait(ctx); err != nil {
		return true, err
	}
	if err := e.Client.Modify(ctx, gc.MessageID(rec.ID), ops); err != nil {
		return true, fmt.Errorf("move to %q: %w", folder, err)
	}
	if err := e.Store.SetLabels(ctx, rec.ID, next); err != nil {
		return true, err
	}
	rec.Labels = next
	return true, nil
}

func (e *Executor) wait(ctx context.Context) error {
	if e.Limiter == nil {
		return nil
	}
	return e.Limiter.Wait(ctx)
}
