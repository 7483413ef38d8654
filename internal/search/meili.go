package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxPages = "canopy_pages"

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the pages index.
// The returned value is usable even when the server is down; a background
// loop flips it healthy once the server answers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPages,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxPages, err)
	}

	index := m.client.Index(idxPages)
	filterable := []interface{}{"spaceId", "parentId", "type"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxPages, err)
	}
	searchable := []string{"title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxPages, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// spaceFilter restricts hits to the given spaces.
func spaceFilter(spaceIDs []string) string {
	clauses := make([]string, len(spaceIDs))
	for i, id := range spaceIDs {
		clauses[i] = fmt.Sprintf("spaceId = %q", id)
	}
	return strings.Join(clauses, " OR ")
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxPages,
			Query:                 q.Text,
			Limit:                 int64(q.limit()),
			Offset:                int64(q.offset()),
			Filter:                spaceFilter(q.SpaceIDs),
			AttributesToHighlight: []string{"title"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:       decodeString(hit, "id"),
		Title:    decodeString(hit, "title"),
		Snippet:  decodeFormattedString(hit, "title"),
		SpaceID:  decodeString(hit, "spaceId"),
		ParentID: decodeString(hit, "parentId"),
		Path:     decodeString(hit, "path"),
		Type:     decodeString(hit, "type"),
		Icon:     decodeString(hit, "icon"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// IndexPages adds or updates pages in the index.
func (m *Meili) IndexPages(pages []PageRecord) error {
	if len(pages) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPages).AddDocuments(pages, nil)
	return err
}

// DeletePages removes pages from the index.
func (m *Meili) DeletePages(ids []string) error {
	index := m.client.Index(idxPages)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete page %s: %w", id, err)
		}
	}
	return nil
}
