package search

import (
	"context"
	"log"
	"sync"
)

// Service is the facade that tries Meilisearch first and falls back to
// PostgreSQL.
type Service struct {
	engine   Engine
	fallback Searcher
	pending  sync.WaitGroup
}

// NewService creates a search service. engine may be nil if Meilisearch
// is not configured.
func NewService(engine Engine, fallback Searcher) *Service {
	return &Service{engine: engine, fallback: fallback}
}

// Search tries the engine if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if blank(q) {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: postgres error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) writable() bool {
	return s.engine != nil && s.engine.Healthy()
}

// IndexPages indexes pages (fire-and-forget).
func (s *Service) IndexPages(pages ...PageRecord) {
	if len(pages) == 0 || !s.writable() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.engine.IndexPages(pages); err != nil {
			log.Printf("search: index %d pages: %v", len(pages), err)
		}
	}()
}

// DeletePages removes pages from the index (fire-and-forget).
func (s *Service) DeletePages(ids ...string) {
	if len(ids) == 0 || !s.writable() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.engine.DeletePages(ids); err != nil {
			log.Printf("search: delete %d pages: %v", len(ids), err)
		}
	}()
}

// Flush waits for in-flight index writes.
func (s *Service) Flush() {
	s.pending.Wait()
}

// RecordLoader reads every page for a full reindex.
type RecordLoader interface {
	LoadPageRecords(ctx context.Context) ([]PageRecord, error)
}

// Reindex pushes every page from loader into the engine. Called at
// startup when the engine is healthy.
func (s *Service) Reindex(ctx context.Context, loader RecordLoader) {
	if !s.writable() || loader == nil {
		return
	}
	records, err := loader.LoadPageRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.engine.IndexPages(records); err != nil {
		log.Printf("search: reindex pages: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
