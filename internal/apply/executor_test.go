package apply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	gc "github.com/joshsymonds/mailfold/internal/gmail"
	"github.com/joshsymonds/mailfold/internal/rules"
	"github.com/joshsymonds/mailfold/internal/store"
)

type modifyCall struct {
	id  gc.MessageID
	ops gc.ModifyOps
}

type fakeClient struct {
	mu           sync.Mutex
	labelsByName map[string]gc.LabelID
	nextLabel    int
	modifyCalls  []modifyCall
	createCalls  []string
	listCalls    int
	modifyErr    map[gc.MessageID]error
	createErr    error

	// When set, Modify announces itself here and then parks until the
	// context is canceled.
	modifyStarted chan struct{}
}

func newFakeClient(labels map[string]gc.LabelID) *fakeClient {
	if labels == nil {
		labels = map[string]gc.LabelID{}
	}
	return &fakeClient{labelsByName: labels}
}

func (f *fakeClient) List(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	_ = ctx
	_ = q
	_ = pageToken
	_ = pageSize
	return gc.ListPage{}, nil
}

func (f *fakeClient) GetMetadata(ctx context.Context, id gc.MessageID) (gc.MessageMeta, error) {
	_ = ctx
	return gc.MessageMeta{ID: id}, nil
}

func (f *fakeClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	if f.modifyStarted != nil {
		f.modifyStarted <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.modifyErr[id]; err != nil {
		return err
	}
	f.modifyCalls = append(f.modifyCalls, modifyCall{id: id, ops: ops})
	return nil
}

func (f *fakeClient) ListLabels(ctx context.Context) (map[string]gc.LabelID, map[gc.LabelID]string, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	byName := map[string]gc.LabelID{}
	byID := map[gc.LabelID]string{}
	for name, id := range f.labelsByName {
		byName[name] = id
		byID[id] = name
	}
	return byName, byID, nil
}

func (f *fakeClient) CreateLabel(ctx context.Context, name string) (gc.LabelID, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, name)
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextLabel++
	id := gc.LabelID(fmt.Sprintf("Label_%d", f.nextLabel))
	f.labelsByName[name] = id
	return id, nil
}

func (f *fakeClient) modifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.modifyCalls)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, client *fakeClient) (*Executor, *store.SQLite) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	exec := &Executor{
		Client:   client,
		Store:    st,
		Registry: NewRegistry(client),
		Logger:   slogDiscard(),
	}
	return exec, st
}

func workRule(t *testing.T) rules.Rule {
	t.Helper()
	return compileRule(t, rules.RuleDef{
		Name:       "company mail",
		Predicate:  "all",
		Conditions: []rules.ConditionDef{{Field: "from", Predicate: "contains", Value: "company.com"}},
		Actions:    rules.ActionsDef{MarkAsRead: true, MoveMessage: "Work"},
	})
}

func TestApplyMarksReadAndMovesCreatingLabel(t *testing.T) {
	client := newFakeClient(nil)
	exec, st := newTestExecutor(t, client)
	ctx := context.Background()

	rec := store.Record{
		ID: "m1", Sender: "bob@company.com", Subject: "hi",
		Received: 1700000000, Read: false, Labels: []string{"INBOX", "UNREAD"},
	}
	if _, err := st.UpsertBatch(ctx, []store.Record{rec}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rule := workRule(t)
	matches, err := Evaluator{Store: st}.Matches(ctx, rule, time.Unix(1700000100, 0))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	out := exec.Apply(ctx, rule, matches)
	if out.Attempted != 1 || out.Succeeded != 1 || out.Failed != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(client.createCalls) != 1 || client.createCalls[0] != "Work" {
		t.Fatalf("expected label Work to be created, got %v", client.createCalls)
	}

	got, err := st.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !got.Read {
		t.Fatalf("record should be marked read locally")
	}
	workID := string(client.labelsByName["Work"])
	if !got.HasLabel(workID) {
		t.Fatalf("record labels %v missing %s", got.Labels, workID)
	}
	// UNREAD is a protected system label; the move must not strip it (the
	// read-state action handles it remotely).
	if !got.HasLabel("UNREAD") {
		t.Fatalf("move stripped a protected system label: %v", got.Labels)
	}
	if got.HasLabel("INBOX") {
		t.Fatalf("move should replace non-system labels, still has INBOX: %v", got.Labels)
	}
}

func TestApplyTwiceIsIdempotent(t *testing.T) {
	client := newFakeClient(nil)
	exec, st := newTestExecutor(t, client)
	ctx := context.Background()
	now := time.Unix(1700000100, 0)

	rec := store.Record{
		ID: "m1", Sender: "bob@company.com", Subject: "hi",
		Received: 1700000000, Read: false, Labels: []string{"INBOX"},
	}
	if _, err := st.UpsertBatch(ctx, []store.Record{rec}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	rule := workRule(t)

	matches, err := Evaluator{Store: st}.Matches(ctx, rule, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	first := exec.Apply(ctx, rule, matches)
	if first.Succeeded != 1 {
		t.Fatalf("first run outcome: %+v", first)
	}
	callsAfterFirst := client.modifyCount()

	// Second run re-reads local state and must issue no remote calls.
	matches, err = Evaluator{Store: st}.Matches(ctx, rule, now)
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	second := exec.Apply(ctx, rule, matches)
	if second.Attempted != 0 || second.Skipped != 1 {
		t.Fatalf("second run outcome: %+v", second)
	}
	if client.modifyCount() != callsAfterFirst {
		t.Fatalf("second run issued %d extra remote calls", client.modifyCount()-callsAfterFirst)
	}
}

func TestApplyIsolatesPerRecordFailures(t *testing.T) {
	client := newFakeClient(nil)
	client.modifyErr = map[gc.MessageID]error{"m2": errors.New("backend unavailable")}
	exec, st := newTestExecutor(t, client)
	ctx := context.Background()

	records := []store.Record{
		{ID: "m1", Sender: "a@company.com", Received: 1, Labels: []string{"INBOX"}},
		{ID: "m2", Sender: "b@company.com", Received: 2, Labels: []string{"INBOX"}},
		{ID: "m3", Sender: "c@company.com", Received: 3, Labels: []string{"INBOX"}},
	}
	if _, err := st.UpsertBatch(ctx, records); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rule := compileRule(t, rules.RuleDef{
		Name:       "mark all",
		Predicate:  "all",
		Conditions: []rules.ConditionDef{{Field: "from", Predicate: "contains", Value: "company.com"}},
		Actions:    rules.ActionsDef{MarkAsRead: true},
	})

	out := exec.Apply(ctx, rule, records)
	if out.Succeeded != 2 || out.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(out.Failures) != 1 || out.Failures[0].RecordID != "m2" {
		t.Fatalf("unexpected failures: %+v", out.Failures)
	}

	// The failing record keeps its local state; siblings were mirrored.
	for id, wantRead := range map[string]bool{"m1": true, "m2": false, "m3": true} {
		got, err := st.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Read != wantRead {
			t.Fatalf("record %s read=%t, want %t", id, got.Read, wantRead)
		}
	}
}

func TestApplyMoveResolutionFailureOnlyAbortsMove(t *testing.T) {
	client := newFakeClient(nil)
	client.createErr = errors.New("quota exceeded")
	exec, st := newTestExecutor(t, client)
	ctx := context.Background()

	rec := store.Record{ID: "m1", Sender: "bob@company.com", Received: 1, Labels: []string{"INBOX"}}
	if _, err := st.UpsertBatch(ctx, []store.Record{rec}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	out := exec.Apply(ctx, workRule(t), []store.Record{rec})
	if out.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(out.Failures) != 1 || out.Failures[0].Action != "move" {
		t.Fatalf("expected a single move failure, got %+v", out.Failures)
	}

	// The read-state action ran before the move and stuck.
	got, err := st.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !got.Read {
		t.Fatalf("read-state action should have applied despite the move failure")
	}
}

func TestApplyDryRunIssuesNoCalls(t *testing.T) {
	client := newFakeClient(nil)
	exec, st := newTestExecutor(t, client)
	exec.DryRun = true
	ctx := context.Background()

	rec := store.Record{ID: "m1", Sender: "bob@company.com", Received: 1, Labels: []string{"INBOX"}}
	if _, err := st.UpsertBatch(ctx, []store.Record{rec}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	out := exec.Apply(ctx, workRule(t), []store.Record{rec})
	if out.Skipped != 1 || client.modifyCount() != 0 || len(client.createCalls) != 0 {
		t.Fatalf("dry-run mutated something: outcome=%+v calls=%d", out, client.modifyCount())
	}
}

// Cancellation mid-dispatch must not report untouched records as skipped:
// skipped means their actions were already satisfied locally, and a record no
// worker ever saw is neither satisfied nor attempted.
func TestApplyCancellationCountsUndispatchedAsFailed(t *testing.T) {
	client := newFakeClient(nil)
	client.modifyStarted = make(chan struct{})
	exec, st := newTestExecutor(t, client)
	exec.Workers = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := []store.Record{
		{ID: "m1", Sender: "a@company.com", Received: 1, Labels: []string{"INBOX"}},
		{ID: "m2", Sender: "b@company.com", Received: 2, Labels: []string{"INBOX"}},
		{ID: "m3", Sender: "c@company.com", Received: 3, Labels: []string{"INBOX"}},
	}
	if _, err := st.UpsertBatch(ctx, records); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rule := compileRule(t, rules.RuleDef{
		Name:       "mark all",
		Predicate:  "all",
		Conditions: []rules.ConditionDef{{Field: "from", Predicate: "contains", Value: "company.com"}},
		Actions:    rules.ActionsDef{MarkAsRead: true},
	})

	// Both workers park inside Modify; once they have, cancel so the third
	// record is never dispatched.
	go func() {
		<-client.modifyStarted
		<-client.modifyStarted
		cancel()
	}()

	out := exec.Apply(ctx, rule, records)
	if out.Failed != 3 || out.Succeeded != 0 || out.Skipped != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	var undispatched *Failure
	for i := range out.Failures {
		if out.Failures[i].RecordID == "m3" {
			undispatched = &out.Failures[i]
		}
	}
	if undispatched == nil {
		t.Fatalf("no failure reported for the undispatched record: %+v", out.Failures)
	}
	if !errors.Is(undispatched.Err, context.Canceled) {
		t.Fatalf("undispatched failure err = %v, want context.Canceled", undispatched.Err)
	}
}

func TestRunnerLaterRuleWins(t *testing.T) {
	client := newFakeClient(nil)
	exec, st := newTestExecutor(t, client)
	ctx := context.Background()

	rec := store.Record{ID: "m1", Sender: "bob@company.com", Received: 1700000000, Read: false, Labels: []string{"INBOX", "UNREAD"}}
	if _, err := st.UpsertBatch(ctx, []store.Record{rec}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	conds := []rules.ConditionDef{{Field: "from", Predicate: "contains", Value: "company.com"}}
	defs := []rules.RuleDef{
		{Name: "rule A", Predicate: "all", Conditions: conds, Actions: rules.ActionsDef{MarkAsRead: true}},
		{Name: "rule B", Predicate: "all", Conditions: conds, Actions: rules.ActionsDef{MarkAsUnread: true}},
	}
	compiled, err := rules.Compile(defs)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	runner := NewRunner(st, exec, slogDiscard())
	runner.Clock = func() time.Time { return time.Unix(1700000100, 0) }

	outcomes, err := runner.Run(ctx, compiled)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}

	got, err := st.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Read {
		t.Fatalf("later rule marks unread; last write must win")
	}
}
