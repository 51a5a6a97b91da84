// Package ingest fetches remote message metadata for a time window and
// persists it as one atomic batch.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	gc "github.com/joshsymonds/mailfold/internal/gmail"
	"github.com/joshsymonds/mailfold/internal/rate"
	"github.com/joshsymonds/mailfold/internal/store"
)

const (
	defaultWorkers  = 5
	defaultPageSize = 500
)

// Spec describes one pipeline run over the window [Start, End) in epoch
// seconds.
type Spec struct {
	Start    int64
	End      int64
	Workers  int
	PageSize int
}

// Report counts the run's outcome per stage. A run with fetch failures is
// still a success; only a store or listing failure aborts it.
type Report struct {
	Listed  int
	Fetched int
	Failed  int
	Stored  int
}

// Service is the ingestion pipeline.
type Service struct {
	Client  gc.Client
	Store   store.Store
	Limiter rate.Limiter
	Logger  *slog.Logger
}

// NewService constructs a pipeline with sane defaults.
func NewService(client gc.Client, st store.Store, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{Client: client, Store: st, Limiter: limiter, Logger: logger}
}

type fetchResult struct {
	meta gc.MessageMeta
	id   gc.MessageID
	err  error
}

// Run lists all message identifiers in the window, fetches metadata for each
// with a bounded worker pool, and commits the full batch in one transaction.
// Individual fetch failures are logged, counted and skipped; they never abort
// sibling fetches or the commit.
func (s *Service) Run(ctx context.Context, spec Spec) (Report, error) {
	ids, err := s.listWindow(ctx, spec)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Listed: len(ids)}
	if len(ids) == 0 {
		s.Logger.InfoContext(ctx, "nothing to ingest", slog.Int64("start", spec.Start), slog.Int64("end", spec.End))
		return rep, nil
	}

	metas := s.fetchAll(ctx, ids, spec.Workers, &rep)

	// Join barrier passed. A canceled run discards the batch rather than
	// committing a partial window.
	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("ingest canceled, batch discarded: %w", err)
	}

	records := make([]store.Record, 0, len(metas))
	for _, meta := range metas {
		records = append(records, toRecord(meta))
	}
	stored, err := s.Store.UpsertBatch(ctx, records)
	if err != nil {
		return rep, fmt.Errorf("commit batch for window [%d,%d): %w", spec.Start, spec.End, err)
	}
	rep.Stored = stored

	s.Logger.InfoContext(ctx, "ingest complete",
		slog.Int("listed", rep.Listed),
		slog.Int("fetched", rep.Fetched),
		slog.Int("failed", rep.Failed),
		slog.Int("stored", rep.Stored),
	)
	return rep, nil
}

func (s *Service) listWindow(ctx context.Context, spec Spec) ([]gc.MessageID, error) {
	pageSize := spec.PageSize
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}
	query := gc.Query{Raw: fmt.Sprintf("after:%d before:%d", spec.Start, spec.End)}

	var (
		ids   []gc.MessageID
		token string
	)
	for {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		page, err := s.Client.List(ctx, query, token, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list window [%d,%d): %w", spec.Start, spec.End, err)
		}
		ids = append(ids, page.IDs...)
		if page.NextPageToken == "" {
			return ids, nil
		}
		token = page.NextPageToken
	}
}

// fetchAll runs the bounded worker pool. Workers share nothing mutable; each
// result travels through the results channel to the single collector loop.
func (s *Service) fetchAll(ctx context.Context, ids []gc.MessageID, workers int, rep *Report) []gc.MessageMeta {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	jobs := make(chan gc.MessageID)
	results := make(chan fetchResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				meta, err := s.fetchOne(ctx, id)
				results <- fetchResult{meta: meta, id: id, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-ctx.Done():
				// Stop dispatching; in-flight fetches drain below.
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	metas := make([]gc.MessageMeta, 0, len(ids))
	for res := range results {
		if res.err != nil {
			rep.Failed++
			s.Logger.WarnContext(ctx, "fetch failed, skipping message",
				slog.String("id", string(res.id)), slog.Any("error", res.err))
			continue
		}
		rep.Fetched++
		metas = append(metas, res.meta)
	}
	return metas
}

func (s *Service) fetchOne(ctx context.Context, id gc.MessageID) (gc.MessageMeta, error) {
	if err := s.wait(ctx); err != nil {
		return gc.MessageMeta{}, err
	}
	meta, err := s.Client.GetMetadata(ctx, id)
	if err != nil {
		return gc.MessageMeta{}, fmt.Errorf("fetch metadata %s: %w", id, err)
	}
	return meta, nil
}

func (s *Service) wait(ctx context.Context) error {
	if s.Limiter == nil {
		return nil
	}
	return s.Limiter.Wait(ctx)
}

func toRecord(meta gc.MessageMeta) store.Record {
	labels := make([]string, 0, len(meta.Labels))
	for _, l := range meta.Labels {
		labels = append(labels, string(l))
	}
	return store.Record{
		ID:        string(meta.ID),
		Sender:    meta.Sender,
		Recipient: meta.Recipient,
		Subject:   meta.Subject,
		Snippet:   meta.Snippet,
		Received:  meta.Received.Unix(),
		Read:      !meta.Unread,
		Labels:    labels,
	}
}
