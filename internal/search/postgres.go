package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Postgres implements Searcher with a case-insensitive title match. It is
// the fallback when Meilisearch is down.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *Postgres) Healthy() bool {
	return true
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search ranks exact title matches first, then earlier match positions.
func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if blank(q) {
		return nil, 0, nil
	}
	text := strings.TrimSpace(q.Text)
	pattern := "%" + likeEscaper.Replace(text) + "%"

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM pages
		WHERE space_id = ANY($1) AND title ILIKE $2
	`, q.SpaceIDs, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("page search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, space_id, COALESCE(parent_id, ''), path, type, icon
		FROM pages
		WHERE space_id = ANY($1) AND title ILIKE $2
		ORDER BY (LOWER(title) = LOWER($3)) DESC, POSITION(LOWER($3) IN LOWER(title)), title, id
		LIMIT $4 OFFSET $5
	`, q.SpaceIDs, pattern, text, q.limit(), q.offset())
	if err != nil {
		return nil, 0, fmt.Errorf("page search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r PageRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.SpaceID, &r.ParentID, &r.Path, &r.Type, &r.Icon); err != nil {
			return nil, 0, fmt.Errorf("page search scan: %w", err)
		}
		results = append(results, r.result())
	}
	return results, total, rows.Err()
}

// LoadPageRecords returns every page for full reindexing.
func (p *Postgres) LoadPageRecords(ctx context.Context) ([]PageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, space_id, COALESCE(parent_id, ''), path, type, icon
		FROM pages
	`)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	records := make([]PageRecord, 0)
	for rows.Next() {
		var r PageRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.SpaceID, &r.ParentID, &r.Path, &r.Type, &r.Icon); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return records, nil
}
