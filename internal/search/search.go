package search

import (
	"context"
	"strings"
)

// Result is a single page hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet,omitempty"`
	SpaceID  string `json:"spaceId"`
	ParentID string `json:"parentId,omitempty"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Icon     string `json:"icon,omitempty"`
}

// Query describes a search request. SpaceIDs restricts hits to the
// spaces the caller can read and must not be empty.
type Query struct {
	Text     string
	SpaceIDs []string
	Limit    int
	Offset   int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a page title search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Engine is a search index that can also be written to.
type Engine interface {
	Searcher
	IndexPages(pages []PageRecord) error
	DeletePages(ids []string) error
}

// PageRecord is the data indexed for a page.
type PageRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	SpaceID  string `json:"spaceId"`
	ParentID string `json:"parentId"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Icon     string `json:"icon"`
}

func (r PageRecord) result() Result {
	return Result{ID: r.ID, Title: r.Title, SpaceID: r.SpaceID, ParentID: r.ParentID, Path: r.Path, Type: r.Type, Icon: r.Icon}
}

func blank(q Query) bool {
	return strings.TrimSpace(q.Text) == "" || len(q.SpaceIDs) == 0
}
