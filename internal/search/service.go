package search

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"threadgraph/api/internal/logging"
)

// recoverNotifier is implemented by indexes that can report coming back
// after an outage.
type recoverNotifier interface {
	OnRecover(fn func())
}

// Service is the facade that tries the index first and falls back to PG FTS.
// The index is only queried once it holds every stored node: after boot or an
// outage, searches stay on PG FTS until a full reindex succeeds.
type Service struct {
	index    Index
	fallback Fallback
	synced   atomic.Bool
	log      *zap.Logger
}

// NewService creates a search service. index may be nil if Meilisearch is not
// configured.
func NewService(index Index, fallback Fallback, log *zap.Logger) *Service {
	s := &Service{
		index:    index,
		fallback: fallback,
		log:      logging.OrNop(log).With(zap.String("component", "search")),
	}
	// Without a source of truth there is nothing to catch up from.
	s.synced.Store(fallback == nil)
	if n, ok := index.(recoverNotifier); ok {
		n.OnRecover(func() { s.ReindexAllFromPG(context.Background()) })
	}
	return s
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy() && s.synced.Load()
}

// Search tries the index if it is healthy and in sync, otherwise PG FTS. Backend
// failures are logged and produce an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.synced.Store(false)
		s.log.Warn("index search failed, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNode pushes one post to the index (fire-and-forget). A post that
// cannot reach the index marks it stale until the next reindex.
func (s *Service) IndexNode(rec NodeRecord) {
	if s.index == nil {
		return
	}
	if !s.index.Healthy() {
		s.synced.Store(false)
		return
	}
	go func() {
		if err := s.index.IndexNode(rec); err != nil {
			s.synced.Store(false)
			s.log.Warn("index node", zap.Int64("node_id", rec.ID), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every stored node into the index and, on success,
// lets searches use it again.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.index.IndexNodes(records); err != nil {
		s.log.Warn("reindex nodes", zap.Error(err))
		return
	}
	s.synced.Store(true)
	s.log.Info("reindexed nodes", zap.Int("count", len(records)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
