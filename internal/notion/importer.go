package notion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"canopy/api/internal/store"
	"canopy/api/internal/util"
)

// maxBlockDepth bounds the walk from a nested block up to its page.
const maxBlockDepth = 16

// BlockRef is one hop in the path from a page down to the block that
// holds a child page. Index is zero-based.
type BlockRef struct {
	Type  string
	Index int
}

// ImportError locates the object an import failed on.
type ImportError struct {
	PageID string
	Type   string
	Title  string
	Blocks []BlockRef
	Err    error
}

func (e *ImportError) Error() string {
	hops := make([]string, 0, len(e.Blocks))
	for _, hop := range e.Blocks {
		hops = append(hops, fmt.Sprintf("%s(%d)", hop.Type, hop.Index+1))
	}
	return fmt.Sprintf("Error importing %s named %s with id %s. Location: %s",
		e.Type, e.Title, e.PageID, strings.Join(hops, " -> "))
}

func (e *ImportError) Unwrap() error { return e.Err }

// Target is where imported pages land.
type Target struct {
	SpaceID   string
	UserID    string
	RootIndex int
}

// Import lists the workspace and returns the pages to insert, parents
// before children. The first page is the import root, titled after the
// workspace. Databases become boards; rows of a database are board
// content and are not imported as pages.
func (c *Client) Import(ctx context.Context, grant Grant, target Target) ([]store.Page, error) {
	remote := c.newAPI(ctx, grant)
	objects, err := remote.search(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	title := grant.WorkspaceName
	if title == "" {
		title = "Notion import"
	}
	root := store.Page{
		ID:        util.NewID("pg"),
		SpaceID:   target.SpaceID,
		Title:     title,
		Icon:      grant.WorkspaceIcon,
		Path:      util.PagePath(title),
		Type:      store.PageTypePage,
		Index:     target.RootIndex,
		IsEmpty:   true,
		CreatedBy: target.UserID,
		UpdatedBy: target.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	byNotionID := make(map[string]Object, len(objects))
	for _, obj := range objects {
		if obj.Archived || (obj.Object != "page" && obj.Object != "database") {
			continue
		}
		byNotionID[obj.ID] = obj
	}

	// Resolve each object's parent among imported objects. Pages nested in
	// blocks are attached to the page that contains the block.
	parentOf := make(map[string]string, len(byNotionID))
	skipped := make(map[string]bool)
	var order []string
	for _, obj := range objects {
		if _, ok := byNotionID[obj.ID]; !ok {
			continue
		}
		if obj.Parent.Type == "database_id" {
			skipped[obj.ID] = true
			continue
		}
		parentID := obj.Parent.ID()
		if obj.Parent.Type == "block_id" {
			pageID, path, err := remote.locate(ctx, parentID)
			if err != nil {
				return nil, &ImportError{PageID: obj.ID, Type: obj.Object, Title: obj.PlainTitle(), Blocks: path, Err: err}
			}
			parentID = pageID
		}
		if parent, ok := byNotionID[parentID]; !ok || parent.Object != "page" {
			parentID = ""
		}
		parentOf[obj.ID] = parentID
		order = append(order, obj.ID)
	}

	pages := []store.Page{root}
	ids := map[string]string{"": root.ID}
	nextIndex := map[string]int{}
	var visit func(notionID string, depth int) error
	visit = func(notionID string, depth int) error {
		if _, done := ids[notionID]; done || skipped[notionID] {
			return nil
		}
		obj := byNotionID[notionID]
		if depth > len(order) {
			return &ImportError{PageID: obj.ID, Type: obj.Object, Title: obj.PlainTitle(), Err: errors.New("parent cycle")}
		}
		parentNotionID := parentOf[notionID]
		if err := visit(parentNotionID, depth+1); err != nil {
			return err
		}
		// Pages under a database row are row content, like the row itself.
		if skipped[parentNotionID] {
			skipped[notionID] = true
			return nil
		}
		parentID := ids[parentNotionID]
		page := store.Page{
			ID:        util.NewID("pg"),
			SpaceID:   target.SpaceID,
			ParentID:  &parentID,
			Title:     obj.PlainTitle(),
			Icon:      obj.Icon.String(),
			Type:      store.PageTypePage,
			Index:     nextIndex[parentID],
			IsEmpty:   true,
			CreatedBy: target.UserID,
			UpdatedBy: target.UserID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if obj.Object == "database" {
			page.Type = store.PageTypeBoard
		}
		page.Path = util.PagePath(page.Title)
		nextIndex[parentID]++
		ids[notionID] = page.ID
		pages = append(pages, page)
		return nil
	}
	for _, notionID := range order {
		if err := visit(notionID, 0); err != nil {
			return nil, err
		}
	}

	log.Printf("import: space=%s workspace=%q pages=%d", target.SpaceID, title, len(pages))
	return pages, nil
}

// locate walks from a block up to the page containing it and returns that
// page id plus the block path from the page downwards.
func (a *api) locate(ctx context.Context, blockID string) (string, []BlockRef, error) {
	var path []BlockRef
	id := blockID
	for depth := 0; depth < maxBlockDepth; depth++ {
		b, err := a.block(ctx, id)
		if err != nil {
			return "", path, err
		}
		parentID := b.Parent.ID()
		index, err := a.childIndex(ctx, parentID, b.ID)
		if err != nil {
			return "", path, err
		}
		path = append([]BlockRef{{Type: b.Type, Index: index}}, path...)
		if b.Parent.Type != "block_id" {
			return parentID, path, nil
		}
		id = parentID
	}
	return "", path, fmt.Errorf("block %s nested deeper than %d levels", blockID, maxBlockDepth)
}
