package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

type fakeEngine struct {
	mu        sync.Mutex
	healthy   bool
	results   []Result
	err       error
	indexed   []PageRecord
	deleted   []string
	searchHit int
}

func (f *fakeEngine) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchHit++
	return f.results, len(f.results), f.err
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) IndexPages(pages []PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, pages...)
	return nil
}

func (f *fakeEngine) DeletePages(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeFallback struct {
	results []Result
	err     error
	calls   int
}

func (f *fakeFallback) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), f.err
}

func (f *fakeFallback) Healthy() bool { return true }

type loaderFunc func(ctx context.Context) ([]PageRecord, error)

func (f loaderFunc) LoadPageRecords(ctx context.Context) ([]PageRecord, error) { return f(ctx) }

func TestSearchPrefersHealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: true, results: []Result{{ID: "pg-1", Title: "Roadmap"}}}
	fallback := &fakeFallback{results: []Result{{ID: "pg-2"}}}
	svc := NewService(engine, fallback)

	resp := svc.Search(context.Background(), Query{Text: "road", SpaceIDs: []string{"sp-1"}})
	if len(resp.Results) != 1 || resp.Results[0].ID != "pg-1" || resp.Query != "road" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback should not run when the engine answers")
	}
}

func TestSearchFallsBack(t *testing.T) {
	cases := map[string]*fakeEngine{
		"unhealthy": {healthy: false},
		"errors":    {healthy: true, err: errors.New("timeout")},
	}
	for name, engine := range cases {
		t.Run(name, func(t *testing.T) {
			fallback := &fakeFallback{results: []Result{{ID: "pg-2"}}}
			resp := NewService(engine, fallback).Search(context.Background(), Query{Text: "x", SpaceIDs: []string{"sp-1"}})
			if fallback.calls != 1 || len(resp.Results) != 1 || resp.Results[0].ID != "pg-2" {
				t.Fatalf("expected fallback results, got %+v", resp)
			}
		})
	}
}

func TestSearchBlankAndFailingQueriesReturnEmptyList(t *testing.T) {
	fallback := &fakeFallback{err: errors.New("db down")}
	svc := NewService(nil, fallback)

	for name, q := range map[string]Query{
		"blank text": {Text: "  ", SpaceIDs: []string{"sp-1"}},
		"no spaces":  {Text: "road"},
	} {
		resp := svc.Search(context.Background(), q)
		if resp.Results == nil || len(resp.Results) != 0 {
			t.Fatalf("%s: expected empty non-nil results, got %+v", name, resp)
		}
	}
	if fallback.calls != 0 {
		t.Fatal("blank queries should not reach the database")
	}

	resp := svc.Search(context.Background(), Query{Text: "road", SpaceIDs: []string{"sp-1"}})
	if resp.Results == nil || resp.Total != 0 {
		t.Fatalf("expected empty results on error, got %+v", resp)
	}
}

func TestIndexAndDeleteAreSkippedWhenUnhealthy(t *testing.T) {
	engine := &fakeEngine{healthy: false}
	svc := NewService(engine, nil)
	svc.IndexPages(PageRecord{ID: "pg-1"})
	svc.DeletePages("pg-1")
	svc.Flush()
	if len(engine.indexed) != 0 || len(engine.deleted) != 0 {
		t.Fatal("unhealthy engine should not receive writes")
	}

	engine.healthy = true
	svc.IndexPages(PageRecord{ID: "pg-1"}, PageRecord{ID: "pg-2"})
	svc.DeletePages("pg-3")
	svc.Flush()
	if len(engine.indexed) != 2 || len(engine.deleted) != 1 {
		t.Fatalf("expected writes, got indexed=%v deleted=%v", engine.indexed, engine.deleted)
	}
}

func TestReindex(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	svc := NewService(engine, nil)
	svc.Reindex(context.Background(), loaderFunc(func(context.Context) ([]PageRecord, error) {
		return []PageRecord{{ID: "pg-1"}, {ID: "pg-2"}}, nil
	}))
	if len(engine.indexed) != 2 {
		t.Fatalf("expected 2 reindexed pages, got %d", len(engine.indexed))
	}

	svc.Reindex(context.Background(), loaderFunc(func(context.Context) ([]PageRecord, error) {
		return nil, errors.New("db down")
	}))
	if len(engine.indexed) != 2 {
		t.Fatal("failed load should not index anything")
	}
}

func TestSpaceFilter(t *testing.T) {
	if got := spaceFilter([]string{"sp-1", "sp-2"}); got != `spaceId = "sp-1" OR spaceId = "sp-2"` {
		t.Fatalf("spaceFilter() = %s", got)
	}
}

func TestHitToResult(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":         raw("pg-1"),
		"title":      raw("Team Roadmap"),
		"spaceId":    raw("sp-1"),
		"parentId":   raw(""),
		"path":       raw("team-roadmap-1a2b3c4d"),
		"type":       raw("page"),
		"_formatted": raw(map[string]string{"title": "Team <mark>Road</mark>map"}),
	}
	got := hitToResult(hit)
	if got.ID != "pg-1" || got.Title != "Team Roadmap" || got.Snippet != "Team <mark>Road</mark>map" || got.Type != "page" {
		t.Fatalf("hitToResult() = %+v", got)
	}
}

func TestQueryBounds(t *testing.T) {
	if (Query{}).limit() != 20 || (Query{Limit: 500}).limit() != 20 || (Query{Limit: 5}).limit() != 5 {
		t.Fatal("unexpected limit bounds")
	}
	if (Query{Offset: -3}).offset() != 0 {
		t.Fatal("negative offset should clamp to zero")
	}
}
