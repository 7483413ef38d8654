package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"canopy/api/internal/store"
	"golang.org/x/oauth2"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newFakeNotion(t *testing.T, broken bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-id" || secret != "client-secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if got := r.Form.Get("redirect_uri"); got != "http://localhost:3000/api/notion/callback" {
			t.Errorf("redirect_uri = %q", got)
		}
		switch r.Form.Get("code") {
		case "used":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		case "boom":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":   "secret-token",
				"token_type":     "bearer",
				"workspace_name": "Acme HQ",
				"workspace_icon": "🏢",
			})
		}
	})

	authorized := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret-token" || r.Header.Get("Notion-Version") == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthorized"})
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("POST /v1/search", authorized(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StartCursor string `json:"start_cursor"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.StartCursor == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"results": []map[string]any{
					pageObject("p-a", map[string]any{"type": "workspace", "workspace": true}, "Roadmap"),
					{
						"object": "database", "id": "d-1",
						"parent": map[string]any{"type": "page_id", "page_id": "p-a"},
						"title":  []map[string]string{{"plain_text": "Tasks"}},
					},
				},
				"has_more":    true,
				"next_cursor": "cursor-2",
			})
			return
		}
		results := []map[string]any{
			pageObject("r-1", map[string]any{"type": "database_id", "database_id": "d-1"}, "Row"),
			pageObject("r-1-deep", map[string]any{"type": "page_id", "page_id": "r-1-note"}, "Row detail"),
			pageObject("r-1-note", map[string]any{"type": "page_id", "page_id": "r-1"}, "Row note"),
			pageObject("p-b", map[string]any{"type": "block_id", "block_id": "blk-col"}, "Nested"),
			pageObject("p-c", map[string]any{"type": "page_id", "page_id": "p-unshared"}, "Orphan"),
		}
		archived := pageObject("p-x", map[string]any{"type": "workspace", "workspace": true}, "Old")
		archived["archived"] = true
		results = append(results, archived)
		if broken {
			results = append(results, pageObject("p-bad", map[string]any{"type": "block_id", "block_id": "blk-gone"}, "Lost"))
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "has_more": false})
	}))
	mux.HandleFunc("GET /v1/blocks/{id}", authorized(func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "blk-col":
			writeJSON(w, http.StatusOK, map[string]any{"object": "block", "id": "blk-col", "type": "column",
				"parent": map[string]any{"type": "block_id", "block_id": "blk-list"}})
		case "blk-list":
			writeJSON(w, http.StatusOK, map[string]any{"object": "block", "id": "blk-list", "type": "column_list",
				"parent": map[string]any{"type": "page_id", "page_id": "p-a"}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "object_not_found"})
		}
	}))
	mux.HandleFunc("GET /v1/blocks/{id}/children", authorized(func(w http.ResponseWriter, r *http.Request) {
		children := map[string][]map[string]string{
			"blk-list": {{"id": "blk-other"}, {"id": "blk-col"}},
			"p-a":      {{"id": "blk-list"}},
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": children[r.PathValue("id")], "has_more": false})
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func pageObject(id string, parent map[string]any, title string) map[string]any {
	return map[string]any{
		"object": "page",
		"id":     id,
		"parent": parent,
		"icon":   map[string]string{"type": "emoji", "emoji": "📄"},
		"properties": map[string]any{
			"Name": map[string]any{"type": "title", "title": []map[string]string{{"plain_text": title}}},
		},
	}
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL + "/v1/oauth/token",
		APIURL:       srv.URL + "/v1",
		PublicURL:    "https://app.canopy.dev",
	})
}

func TestRedirectURI(t *testing.T) {
	cases := map[string]string{
		"localhost:3000":    "http://localhost:3000/api/notion/callback",
		"127.0.0.1:8787":    "http://127.0.0.1:8787/api/notion/callback",
		"app.canopy.dev":    "https://app.canopy.dev/api/notion/callback",
		"evil.example.com":  "https://app.canopy.dev/api/notion/callback",
	}
	for host, want := range cases {
		if got := RedirectURI(host, "https://app.canopy.dev/"); got != want {
			t.Fatalf("RedirectURI(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestExchange(t *testing.T) {
	client := newTestClient(newFakeNotion(t, false))
	ctx := context.Background()

	grant, err := client.Exchange(ctx, "fresh", "localhost:3000")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if grant.Token.AccessToken != "secret-token" || grant.WorkspaceName != "Acme HQ" || grant.WorkspaceIcon != "🏢" {
		t.Fatalf("unexpected grant %+v", grant)
	}

	if _, err := client.Exchange(ctx, "used", "localhost:3000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode for used code, got %v", err)
	}
	if _, err := client.Exchange(ctx, "", "localhost:3000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode for empty code, got %v", err)
	}
	if _, err := client.Exchange(ctx, "boom", "localhost:3000"); err == nil || errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected generic exchange error, got %v", err)
	}
}

func TestEnabled(t *testing.T) {
	if New(Config{}).Enabled() {
		t.Fatal("client without credentials should be disabled")
	}
	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client should be disabled")
	}
}

func TestImportBuildsHierarchyUnderWorkspaceRoot(t *testing.T) {
	client := newTestClient(newFakeNotion(t, false))
	grant := Grant{Token: &oauth2.Token{AccessToken: "secret-token"}, WorkspaceName: "Acme HQ", WorkspaceIcon: "🏢"}

	pages, err := client.Import(context.Background(), grant, Target{SpaceID: "sp-1", UserID: "usr-1", RootIndex: 3})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(pages) != 5 {
		t.Fatalf("expected 5 pages, got %d: %+v", len(pages), pages)
	}

	root := pages[0]
	if root.Title != "Acme HQ" || root.Icon != "🏢" || root.ParentID != nil || root.Index != 3 {
		t.Fatalf("unexpected root %+v", root)
	}
	byTitle := map[string]store.Page{}
	for _, page := range pages[1:] {
		if page.SpaceID != "sp-1" || page.CreatedBy != "usr-1" {
			t.Fatalf("page not scoped to target: %+v", page)
		}
		byTitle[page.Title] = page
	}

	roadmap := byTitle["Roadmap"]
	want := []struct {
		title    string
		parentID string
		index    int
		kind     string
	}{
		{title: "Roadmap", parentID: root.ID, index: 0, kind: store.PageTypePage},
		{title: "Tasks", parentID: roadmap.ID, index: 0, kind: store.PageTypeBoard},
		{title: "Nested", parentID: roadmap.ID, index: 1, kind: store.PageTypePage},
		{title: "Orphan", parentID: root.ID, index: 1, kind: store.PageTypePage},
	}
	for _, w := range want {
		page, ok := byTitle[w.title]
		if !ok {
			t.Fatalf("missing page %q", w.title)
		}
		if page.ParentID == nil || *page.ParentID != w.parentID || page.Index != w.index || page.Type != w.kind {
			t.Fatalf("page %q = parent %v index %d type %s, want %s %d %s", w.title, page.ParentID, page.Index, page.Type, w.parentID, w.index, w.kind)
		}
	}
	for _, title := range []string{"Row", "Row note", "Row detail"} {
		if _, ok := byTitle[title]; ok {
			t.Fatalf("database row content %q should not become a page", title)
		}
	}
	if _, ok := byTitle["Old"]; ok {
		t.Fatal("archived pages should be skipped")
	}
}

func TestImportReportsLocatedError(t *testing.T) {
	client := newTestClient(newFakeNotion(t, true))
	grant := Grant{Token: &oauth2.Token{AccessToken: "secret-token"}, WorkspaceName: "Acme HQ"}
	ctx := context.Background()

	_, err := client.Import(ctx, grant, Target{SpaceID: "sp-1", UserID: "usr-1"})
	var importErr *ImportError
	if !errors.As(err, &importErr) {
		t.Fatalf("expected ImportError, got %v", err)
	}
	if importErr.PageID != "p-bad" || importErr.Title != "Lost" || importErr.Type != "page" {
		t.Fatalf("unexpected ImportError %+v", importErr)
	}

	_, path, err := client.newAPI(ctx, grant).locate(ctx, "blk-col")
	if err != nil {
		t.Fatalf("locate() error = %v", err)
	}
	got := (&ImportError{PageID: "p-b", Type: "page", Title: "Nested", Blocks: path}).Error()
	if got != "Error importing page named Nested with id p-b. Location: column_list(1) -> column(2)" {
		t.Fatalf("ImportError = %q", got)
	}
}

func TestImportErrorUnwraps(t *testing.T) {
	cause := errors.New("not found")
	err := error(&ImportError{PageID: "p-1", Type: "database", Title: "Tasks", Err: cause})
	var importErr *ImportError
	if !errors.As(err, &importErr) || !errors.Is(err, cause) {
		t.Fatalf("ImportError should unwrap to its cause: %v", err)
	}
	if importErr.Error() != "Error importing database named Tasks with id p-1. Location: " {
		t.Fatalf("unexpected message %q", importErr.Error())
	}
}
