package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Service is the facade that tries the search engine first and falls back to
// Postgres.
type Service struct {
	engine   Engine
	fallback *Postgres
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewService creates a search service. engine may be nil if Meilisearch is
// not configured.
func NewService(engine Engine, fallback *Postgres, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, fallback: fallback, log: logger.Named("search")}
}

func (s *Service) engineUp() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Search tries the engine if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalize(q)
	if s.engineUp() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("engine search failed, falling back to postgres", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMember pushes one member to the engine without waiting.
func (s *Service) IndexMember(member Member) {
	if !s.engineUp() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.engine.IndexMembers([]Member{member}); err != nil {
			s.log.Warn("index member", zap.String("member", member.MemberID), zap.Error(err))
		}
	}()
}

// DeleteMember removes a member from the engine without waiting.
func (s *Service) DeleteMember(id string) {
	if !s.engineUp() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.engine.DeleteMember(id); err != nil {
			s.log.Warn("delete member", zap.String("member", id), zap.Error(err))
		}
	}()
}

// ReindexAll loads the whole directory from Postgres into the engine.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.engineUp() || s.fallback == nil {
		return
	}
	members, err := s.fallback.LoadAll(ctx)
	if err != nil {
		s.log.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.engine.IndexMembers(members); err != nil {
		s.log.Warn("reindex failed", zap.Int("members", len(members)), zap.Error(err))
		return
	}
	s.log.Info("reindexed directory", zap.Int("members", len(members)))
}

// Wait blocks until queued index operations finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
