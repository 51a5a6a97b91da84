// Package store persists mailbox message metadata in a local SQLite database.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joshsymonds/mailfold/internal/rules"
)

// Record is one mailbox message known locally. Received is epoch seconds UTC.
// Sender, subject and the received timestamp are immutable once stored;
// re-ingesting a known identifier merges only the read flag and labels.
type Record struct {
	ID        string
	Sender    string
	Recipient string
	Subject   string
	Snippet   string
	Received  int64
	Read      bool
	Labels    []string
}

// FilterFields projects the record into the shape rule conditions evaluate.
func (r Record) FilterFields() rules.Fields {
	return rules.Fields{
		Sender:    r.Sender,
		Recipient: r.Recipient,
		Subject:   r.Subject,
		Snippet:   r.Snippet,
		Received:  r.Received,
	}
}

// HasLabel reports whether the record currently carries the given label ID.
func (r Record) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

const labelSeparator = "|"

// JoinLabels encodes a label list for a single TEXT column.
func JoinLabels(labels []string) string {
	return strings.Join(labels, labelSeparator)
}

// SplitLabels decodes a label column back into the ordered label list.
func SplitLabels(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, labelSeparator)
}

// Store is the persistence surface consumed by the ingestion pipeline, the
// rule evaluator and the action executor.
type Store interface {
	// UpsertBatch persists the batch in one transaction, all or nothing, and
	// returns the number of records written.
	UpsertBatch(ctx context.Context, records []Record) (int, error)
	// QueryFilter returns the records matching the filter expression,
	// anchored at now, in an order stable across calls.
	QueryFilter(ctx context.Context, expr rules.Expr, now time.Time) ([]Record, error)
	All(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	SetRead(ctx context.Context, id string, read bool) error
	SetLabels(ctx context.Context, id string, labels []string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Error wraps a failed store operation. Store failures are fatal to their
// containing batch or evaluation call, unlike per-item fetch failures.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
