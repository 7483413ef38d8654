package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

const (
	apiVersion = "2022-06-28"
	pageSize   = 100
	// maxResponseBody caps error bodies echoed into logs.
	maxResponseBody = 4 << 10
)

type richText struct {
	PlainText string `json:"plain_text"`
}

type icon struct {
	Type     string `json:"type"`
	Emoji    string `json:"emoji"`
	External *struct {
		URL string `json:"url"`
	} `json:"external"`
	File *struct {
		URL string `json:"url"`
	} `json:"file"`
}

func (i *icon) String() string {
	if i == nil {
		return ""
	}
	switch {
	case i.Type == "emoji":
		return i.Emoji
	case i.External != nil:
		return i.External.URL
	case i.File != nil:
		return i.File.URL
	}
	return ""
}

type parent struct {
	Type       string `json:"type"`
	PageID     string `json:"page_id"`
	DatabaseID string `json:"database_id"`
	BlockID    string `json:"block_id"`
	Workspace  bool   `json:"workspace"`
}

// ID returns the parent object id, empty for workspace-level objects.
func (p parent) ID() string {
	switch p.Type {
	case "page_id":
		return p.PageID
	case "database_id":
		return p.DatabaseID
	case "block_id":
		return p.BlockID
	}
	return ""
}

type property struct {
	Type  string     `json:"type"`
	Title []richText `json:"title"`
}

// Object is a page or database as returned by the search endpoint.
type Object struct {
	Object     string              `json:"object"`
	ID         string              `json:"id"`
	Parent     parent              `json:"parent"`
	Icon       *icon               `json:"icon"`
	Title      []richText          `json:"title"`
	Properties map[string]property `json:"properties"`
	Archived   bool                `json:"archived"`
}

// PlainTitle joins the title fragments. Databases carry the title at the
// top level, pages in their title-typed property.
func (o Object) PlainTitle() string {
	parts := o.Title
	if o.Object == "page" {
		for _, prop := range o.Properties {
			if prop.Type == "title" {
				parts = prop.Title
				break
			}
		}
	}
	var buf bytes.Buffer
	for _, part := range parts {
		buf.WriteString(part.PlainText)
	}
	return buf.String()
}

type block struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Type   string `json:"type"`
	Parent parent `json:"parent"`
}

type listResponse[T any] struct {
	Results    []T    `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// api is an authenticated view of the REST API for one grant.
type api struct {
	http    *http.Client
	baseURL string
}

func (c *Client) newAPI(ctx context.Context, grant Grant) *api {
	return &api{
		http:    oauth2.NewClient(ctx, oauth2.StaticTokenSource(grant.Token)),
		baseURL: c.apiURL,
	}
}

func (a *api) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Notion-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("notion %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return fmt.Errorf("notion %s %s returned %d: %s", method, path, resp.StatusCode, detail)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// search lists every page and database shared with the integration.
func (a *api) search(ctx context.Context) ([]Object, error) {
	var objects []Object
	cursor := ""
	for {
		body := map[string]any{"page_size": pageSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var page listResponse[Object]
		if err := a.do(ctx, http.MethodPost, "/search", body, &page); err != nil {
			return nil, err
		}
		objects = append(objects, page.Results...)
		if !page.HasMore || page.NextCursor == "" {
			return objects, nil
		}
		cursor = page.NextCursor
	}
}

func (a *api) block(ctx context.Context, id string) (block, error) {
	var b block
	err := a.do(ctx, http.MethodGet, "/blocks/"+url.PathEscape(id), nil, &b)
	return b, err
}

// childIndex is the zero-based position of childID among parentID's
// children, or -1 when absent.
func (a *api) childIndex(ctx context.Context, parentID, childID string) (int, error) {
	offset := 0
	cursor := ""
	for {
		query := url.Values{"page_size": {fmt.Sprint(pageSize)}}
		if cursor != "" {
			query.Set("start_cursor", cursor)
		}
		var page listResponse[block]
		path := "/blocks/" + url.PathEscape(parentID) + "/children?" + query.Encode()
		if err := a.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return -1, err
		}
		for i, child := range page.Results {
			if child.ID == childID {
				return offset + i, nil
			}
		}
		offset += len(page.Results)
		if !page.HasMore || page.NextCursor == "" {
			return -1, nil
		}
		cursor = page.NextCursor
	}
}
