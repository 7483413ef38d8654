package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"canopy/api/internal/banner"
	"canopy/api/internal/notion"
	"canopy/api/internal/search"
	"canopy/api/internal/store"
)

type fakeUploader struct {
	enabled bool
	got     banner.Upload
	body    []byte
	err     error
}

func (f *fakeUploader) Enabled() bool { return f.enabled }

func (f *fakeUploader) Put(_ context.Context, upload banner.Upload) (string, error) {
	f.got = upload
	f.body, _ = io.ReadAll(upload.Body)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example/covers/" + upload.SpaceID + "/" + upload.PageID + "/x.png", nil
}

type fakeImporter struct {
	exchangeErr error
	importErr   error
	pages       []store.Page
	target      notion.Target
	host        string
}

func (f *fakeImporter) Enabled() bool { return true }

func (f *fakeImporter) Exchange(_ context.Context, code, host string) (notion.Grant, error) {
	f.host = host
	if f.exchangeErr != nil {
		return notion.Grant{}, f.exchangeErr
	}
	return notion.Grant{WorkspaceName: "Acme"}, nil
}

func (f *fakeImporter) Import(_ context.Context, _ notion.Grant, target notion.Target) ([]store.Page, error) {
	f.target = target
	if f.importErr != nil {
		return nil, f.importErr
	}
	return f.pages, nil
}

type fakeIndex struct {
	query   search.Query
	indexed []search.PageRecord
	deleted []string
}

func (f *fakeIndex) Search(_ context.Context, q search.Query) search.Response {
	f.query = q
	return search.Response{Results: []search.Result{{ID: "a", Title: "a"}}, Total: 1, Query: q.Text}
}

func (f *fakeIndex) IndexPages(pages ...search.PageRecord) { f.indexed = append(f.indexed, pages...) }

func (f *fakeIndex) DeletePages(ids ...string) { f.deleted = append(f.deleted, ids...) }

func TestSetHeaderImage(t *testing.T) {
	fs, _, handler, token := seedSpace(t)

	gallery := banner.Gallery()[0].Images[0]
	rr, payload := doJSON(t, handler, http.MethodPut, "/api/pages/a/header-image", token, map[string]any{"headerImage": gallery})
	if rr.Code != http.StatusOK || payload["headerImage"] != gallery {
		t.Fatalf("expected gallery cover, got %d %v", rr.Code, payload)
	}
	if got := fs.pages["a"].HeaderImage; got == nil || *got != gallery {
		t.Fatalf("expected stored cover %q, got %v", gallery, got)
	}

	rr, payload = doJSON(t, handler, http.MethodPut, "/api/pages/a/header-image", token, `{"headerImage":null}`)
	if rr.Code != http.StatusOK || payload["headerImage"] != nil {
		t.Fatalf("expected cover removed, got %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, handler, http.MethodPut, "/api/pages/a/header-image", token, map[string]any{"headerImage": "javascript:alert(1)"})
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 for bad cover, got %d %v", rr.Code, payload)
	}
}

func uploadRequest(t *testing.T, path, token, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="cover.png"`)
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(body)
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadHeaderImage(t *testing.T) {
	fs, svc, handler, token := seedSpace(t)
	uploads := &fakeUploader{enabled: true}
	svc.covers = uploads

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, uploadRequest(t, "/api/pages/a1/header-image/upload", token, "image/png", []byte("\x89PNG\r\n\x1a\nrest")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if uploads.got.SpaceID != "sp1" || uploads.got.PageID != "a1" || uploads.got.ContentType != "image/png" {
		t.Fatalf("unexpected upload %+v", uploads.got)
	}
	if got := fs.pages["a1"].HeaderImage; got == nil || *got != "https://cdn.example/covers/sp1/a1/x.png" {
		t.Fatalf("expected stored upload url, got %v", got)
	}

	uploads.err = banner.ErrUnsupportedType
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, uploadRequest(t, "/api/pages/a1/header-image/upload", token, "text/plain", []byte("hello")))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unsupported type, got %d", rr.Code)
	}
}

func TestUploadHeaderImageDisabled(t *testing.T) {
	_, _, handler, token := seedSpace(t)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, uploadRequest(t, "/api/pages/a/header-image/upload", token, "image/png", []byte("x")))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without object storage, got %d", rr.Code)
	}
}

func TestCoversGalleryIsPublic(t *testing.T) {
	_, _, handler, _ := seedSpace(t)
	rr, payload := doJSON(t, handler, http.MethodGet, "/api/covers", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if groups, _ := payload["groups"].([]any); len(groups) == 0 {
		t.Fatalf("expected gallery groups, got %v", payload)
	}
	if payload["uploads"] != false {
		t.Fatalf("expected uploads disabled, got %v", payload["uploads"])
	}
}

func TestNotionImportInsertsPagesAfterExistingRoots(t *testing.T) {
	fs, svc, handler, token := seedSpace(t)
	index := &fakeIndex{}
	svc.index = index
	rootID := "pg_root"
	importer := &fakeImporter{pages: []store.Page{
		{ID: rootID, SpaceID: "sp1", Title: "Acme", Type: store.PageTypePage, Index: 3},
		{ID: "pg_child", SpaceID: "sp1", ParentID: &rootID, Title: "Docs", Type: store.PageTypePage},
	}}
	svc.notion = importer

	req := httptest.NewRequest(http.MethodPost, "/api/notion/import", bytes.NewBufferString(`{"spaceId":"sp1","code":"abc"}`))
	req.Host = "localhost:3000"
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["rootPageId"] != rootID || payload["imported"] != float64(2) {
		t.Fatalf("unexpected import payload %v", payload)
	}
	if importer.target.RootIndex != 3 || importer.target.UserID != "u1" || importer.host != "localhost:3000" {
		t.Fatalf("unexpected import target %+v host %q", importer.target, importer.host)
	}
	if _, ok := fs.pages["pg_child"]; !ok {
		t.Fatalf("expected imported pages to be stored")
	}
	if len(index.indexed) != 2 {
		t.Fatalf("expected imported pages indexed, got %d", len(index.indexed))
	}
}

func TestNotionImportErrors(t *testing.T) {
	located := &notion.ImportError{
		PageID: "p1", Type: "page", Title: "Plans",
		Blocks: []notion.BlockRef{{Type: "column_list", Index: 0}},
		Err:    errors.New("boom"),
	}
	cases := map[string]struct {
		body    string
		setup   func(*fakeImporter)
		message string
	}{
		"missing code":   {body: `{"spaceId":"sp1"}`, message: "Missing code or spaceId in request body"},
		"invalid code":   {body: `{"spaceId":"sp1","code":"x"}`, setup: func(f *fakeImporter) { f.exchangeErr = notion.ErrInvalidCode }, message: msgImportInvalidCode},
		"exchange fails": {body: `{"spaceId":"sp1","code":"x"}`, setup: func(f *fakeImporter) { f.exchangeErr = errors.New("dial tcp") }, message: msgImportFailed},
		"located error":  {body: `{"spaceId":"sp1","code":"x"}`, setup: func(f *fakeImporter) { f.importErr = located }, message: located.Error()},
		"import fails":   {body: `{"spaceId":"sp1","code":"x"}`, setup: func(f *fakeImporter) { f.importErr = errors.New("rate limited") }, message: msgImportFailed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, svc, handler, token := seedSpace(t)
			importer := &fakeImporter{}
			if tc.setup != nil {
				tc.setup(importer)
			}
			svc.notion = importer

			rr, payload := doJSON(t, handler, http.MethodPost, "/api/notion/import", token, tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
			}
			if payload["error"] != tc.message {
				t.Fatalf("expected message %q, got %v", tc.message, payload["error"])
			}
		})
	}
}

func TestSearchScopesToMemberSpaces(t *testing.T) {
	fs, svc, handler, token := seedSpace(t)
	fs.addSpace("sp2", "other", "u1")
	fs.addUser("u9", "Zed", "editor")
	fs.addSpace("sp9", "private", "u9")
	index := &fakeIndex{}
	svc.index = index

	rr, payload := doJSON(t, handler, http.MethodGet, "/api/search?q=road&limit=5", token, nil)
	if rr.Code != http.StatusOK || payload["total"] != float64(1) {
		t.Fatalf("expected one result, got %d %v", rr.Code, payload)
	}
	if len(index.query.SpaceIDs) != 2 || index.query.Limit != 5 || index.query.Text != "road" {
		t.Fatalf("unexpected query %+v", index.query)
	}

	rr, _ = doJSON(t, handler, http.MethodGet, "/api/search?q=road&spaceId=sp9", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign space, got %d", rr.Code)
	}
}

func TestPageMutationsReachSearchIndex(t *testing.T) {
	_, svc, handler, token := seedSpace(t)
	index := &fakeIndex{}
	svc.index = index

	doJSON(t, handler, http.MethodPost, "/api/pages/c/move", token, map[string]string{"intent": "child", "targetId": "a"})
	if len(index.indexed) != 1 || index.indexed[0].ID != "c" || index.indexed[0].ParentID != "a" {
		t.Fatalf("expected moved page reindexed under a, got %+v", index.indexed)
	}

	doJSON(t, handler, http.MethodDelete, "/api/pages/a", token, nil)
	if len(index.deleted) != 4 {
		t.Fatalf("expected a and its three children removed from the index, got %v", index.deleted)
	}
}
