package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/mailfold/internal/rules"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRecords(n int, received int64) []Record {
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Record{
			ID:        string(rune('a' + i)),
			Sender:    "sender@example.com",
			Recipient: "me@example.com",
			Subject:   "hello",
			Received:  received + int64(i),
			Labels:    []string{"INBOX", "UNREAD"},
		})
	}
	return out
}

func TestUpsertBatchAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stored, err := s.UpsertBatch(ctx, seedRecords(5, 1700000000))
	require.NoError(t, err)
	assert.Equal(t, 5, stored)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestUpsertMergesMutableFieldsOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := Record{
		ID: "m1", Sender: "alice@example.com", Subject: "original",
		Received: 1700000000, Read: false, Labels: []string{"INBOX", "UNREAD"},
	}
	_, err := s.UpsertBatch(ctx, []Record{first})
	require.NoError(t, err)

	// A re-fetch of a known identifier carries fresh flags and labels but must
	// never rewrite the immutable attributes.
	refetch := Record{
		ID: "m1", Sender: "mallory@example.com", Subject: "tampered",
		Received: 1800000000, Read: true, Labels: []string{"INBOX"},
	}
	_, err = s.UpsertBatch(ctx, []Record{refetch})
	require.NoError(t, err)

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Sender)
	assert.Equal(t, "original", got.Subject)
	assert.Equal(t, int64(1700000000), got.Received)
	assert.True(t, got.Read)
	assert.Equal(t, []string{"INBOX"}, got.Labels)
}

func TestSetReadAndSetLabels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, seedRecords(1, 1700000000))
	require.NoError(t, err)

	require.NoError(t, s.SetRead(ctx, "a", true))
	require.NoError(t, s.SetLabels(ctx, "a", []string{"INBOX", "Work"}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.Equal(t, []string{"INBOX", "Work"}, got.Labels)
}

func TestQueryFilterStableOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000100, 0)

	_, err := s.UpsertBatch(ctx, seedRecords(10, 1700000000))
	require.NoError(t, err)

	defs := []rules.RuleDef{{
		Name:       "everything",
		Predicate:  "all",
		Conditions: []rules.ConditionDef{{Field: "from", Predicate: "contains", Value: "example.com"}},
		Actions:    rules.ActionsDef{MarkAsRead: true},
	}}
	compiled, err := rules.Compile(defs)
	require.NoError(t, err)
	expr := compiled[0].Filter()

	first, err := s.QueryFilter(ctx, expr, now)
	require.NoError(t, err)
	require.Len(t, first, 10)

	for i := 0; i < 3; i++ {
		again, err := s.QueryFilter(ctx, expr, now)
		require.NoError(t, err)
		assert.Equal(t, first, again, "repeated evaluation must not reorder")
	}
}

func TestLabelRoundTrip(t *testing.T) {
	assert.Nil(t, SplitLabels(""))
	assert.Equal(t, []string{"INBOX", "UNREAD"}, SplitLabels(JoinLabels([]string{"INBOX", "UNREAD"})))
}
