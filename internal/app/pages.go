package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"canopy/api/internal/dnd"
	"canopy/api/internal/rbac"
	"canopy/api/internal/store"
	"canopy/api/internal/tree"
	"canopy/api/internal/util"
)

type CreatePageInput struct {
	Title    string `json:"title"`
	Icon     string `json:"icon"`
	ParentID string `json:"parentId"`
	Type     string `json:"type"`
}

type MovePageInput struct {
	Intent   string `json:"intent"`
	TargetID string `json:"targetId"`
}

// kindOf maps a page type to its drop behaviour: boards render their own
// content and never hold child pages.
func kindOf(pageType string) dnd.Kind {
	if pageType == store.PageTypeBoard {
		return dnd.KindLeaf
	}
	return dnd.KindContainer
}

func pagePayload(page store.Page) map[string]any {
	return map[string]any{
		"id":          page.ID,
		"spaceId":     page.SpaceID,
		"parentId":    page.ParentID,
		"title":       page.Title,
		"icon":        page.Icon,
		"path":        page.Path,
		"type":        page.Type,
		"index":       page.Index,
		"headerImage": page.HeaderImage,
		"isEmpty":     page.IsEmpty,
		"updatedBy":   page.UpdatedBy,
		"updatedAt":   page.UpdatedAt,
	}
}

// spaceTree is a consistent read of one space: the rows and the snapshot
// built from them.
type spaceTree struct {
	tree  *tree.Tree
	pages map[string]store.Page
}

func (s *Service) loadTree(ctx context.Context, spaceID string) (spaceTree, error) {
	pages, err := s.store.ListPages(ctx, spaceID)
	if err != nil {
		return spaceTree{}, err
	}
	return newSpaceTree(spaceID, pages)
}

func newSpaceTree(spaceID string, pages []store.Page) (spaceTree, error) {
	items := make([]tree.Item, 0, len(pages))
	byID := make(map[string]store.Page, len(pages))
	for _, page := range pages {
		parentID := ""
		if page.ParentID != nil {
			parentID = *page.ParentID
		}
		items = append(items, tree.Item{
			ID:       page.ID,
			ParentID: parentID,
			Index:    page.Index,
			Kind:     kindOf(page.Type),
		})
		byID[page.ID] = page
	}
	snapshot, err := tree.New(items)
	if err != nil {
		return spaceTree{}, fmt.Errorf("load page tree for %s: %w", spaceID, err)
	}
	return spaceTree{tree: snapshot, pages: byID}, nil
}

// nested renders the snapshot as the sidebar consumes it, with indexes taken
// from the snapshot rather than the stored rows.
func (st spaceTree) nested() []map[string]any {
	var render func(branches []*tree.Branch) []map[string]any
	render = func(branches []*tree.Branch) []map[string]any {
		out := make([]map[string]any, 0, len(branches))
		for i, branch := range branches {
			page := st.pages[branch.ID]
			page.Index = i
			item := pagePayload(page)
			item["depth"] = branch.Depth
			item["children"] = render(branch.Children)
			out = append(out, item)
		}
		return out
	}
	return render(st.tree.Nested())
}

func (s *Service) PageTree(ctx context.Context, session Session, spaceID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, spaceID, rbac.ActionRead); err != nil {
		return nil, err
	}
	st, err := s.loadTree(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"spaceId": spaceID,
		"pages":   st.nested(),
	}, nil
}

// CreatePage appends the page as the last child of its parent, or the last
// root page when no parent is given.
func (s *Service) CreatePage(ctx context.Context, session Session, spaceID string, input CreatePageInput) (map[string]any, error) {
	if err := s.authorize(ctx, session, spaceID, rbac.ActionWrite); err != nil {
		return nil, err
	}

	pageType := strings.TrimSpace(input.Type)
	if pageType == "" {
		pageType = store.PageTypePage
	}
	if pageType != store.PageTypePage && pageType != store.PageTypeBoard {
		return nil, errValidation("type must be page or board", map[string]string{"type": pageType})
	}
	title := strings.TrimSpace(input.Title)

	unlock := s.lockSpace(spaceID)
	defer unlock()

	st, err := s.loadTree(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	parentID := strings.TrimSpace(input.ParentID)
	if parentID != "" {
		parent, ok := st.tree.Node(parentID)
		if !ok {
			return nil, errNotFound("Parent page")
		}
		if !parent.AcceptsChildren() {
			return nil, errValidation("Boards cannot contain pages", map[string]string{"parentId": parentID})
		}
	}

	page := store.Page{
		ID:        util.NewID("pg"),
		SpaceID:   spaceID,
		Title:     title,
		Icon:      strings.TrimSpace(input.Icon),
		Path:      util.PagePath(title),
		Type:      pageType,
		Index:     st.tree.NextIndex(parentID),
		IsEmpty:   true,
		CreatedBy: session.UserID,
		UpdatedBy: session.UserID,
	}
	if parentID != "" {
		page.ParentID = &parentID
	}
	if err := s.store.InsertPage(ctx, page); err != nil {
		return nil, err
	}
	s.indexPages(page)

	created, err := s.store.GetPage(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	return pagePayload(created), nil
}

// DeletePage removes a page with its whole subtree and closes the gap it
// leaves among its siblings.
func (s *Service) DeletePage(ctx context.Context, session Session, pageID string) (map[string]any, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, session, page.SpaceID, rbac.ActionWrite); err != nil {
		return nil, err
	}

	unlock := s.lockSpace(page.SpaceID)
	defer unlock()

	st, err := s.loadTree(ctx, page.SpaceID)
	if err != nil {
		return nil, err
	}
	removed, renumbered, err := st.tree.Remove(pageID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeletePages(ctx, page.SpaceID, session.UserID, removed, storePlacements(renumbered)); err != nil {
		return nil, err
	}
	if s.index != nil {
		s.index.DeletePages(removed...)
	}
	for _, id := range removed {
		delete(st.pages, id)
	}

	return map[string]any{
		"deleted": removed,
		"pages":   st.nested(),
	}, nil
}

// MovePage applies an explicit move, as sent by keyboard reordering or the
// "move to" menu. Invalid moves answer with a none intent.
func (s *Service) MovePage(ctx context.Context, session Session, pageID string, input MovePageInput) (map[string]any, error) {
	op := dnd.Op(strings.TrimSpace(input.Intent))
	if op != dnd.OpAdjacent && op != dnd.OpChild {
		return nil, errValidation("intent must be adjacent or child", map[string]string{"intent": input.Intent})
	}
	if strings.TrimSpace(input.TargetID) == "" {
		return nil, errValidation("targetId is required", nil)
	}

	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, session, page.SpaceID, rbac.ActionWrite); err != nil {
		return nil, err
	}

	unlock := s.lockSpace(page.SpaceID)
	defer unlock()

	st, err := s.loadTree(ctx, page.SpaceID)
	if err != nil {
		return nil, err
	}
	source, _ := st.tree.Node(pageID)
	target, ok := st.tree.Node(input.TargetID)
	if !ok {
		return nil, errNotFound("Target page")
	}

	intent, err := dnd.Classify(source, target, op == dnd.OpAdjacent, st.tree)
	if err != nil && !errors.Is(err, dnd.ErrInvalidDrop) {
		return nil, err
	}
	if err != nil {
		log.Printf("move %s: %v", pageID, err)
	}
	return s.applyIntent(ctx, session, page.SpaceID, st, intent)
}

func noIntent(st spaceTree) map[string]any {
	return map[string]any{
		"intent":     dnd.None(),
		"placements": []map[string]any{},
		"pages":      st.nested(),
	}
}

// applyIntent persists an intent classified against st. The placements are
// planned again from the rows read under the store's space lock, so a
// concurrent writer on another replica can never have this move close a
// cycle. An intent the current tree no longer allows becomes none.
func (s *Service) applyIntent(ctx context.Context, session Session, spaceID string, st spaceTree, intent dnd.Intent) (map[string]any, error) {
	if intent.IsNone() {
		return noIntent(st), nil
	}

	var placements []tree.Placement
	err := s.store.MovePages(ctx, spaceID, session.UserID, func(pages []store.Page) ([]store.PagePlacement, error) {
		current, err := newSpaceTree(spaceID, pages)
		if err != nil {
			return nil, err
		}
		placements, err = current.tree.Apply(intent)
		if err != nil {
			return nil, err
		}
		st = current
		return storePlacements(placements), nil
	})
	if errors.Is(err, dnd.ErrInvalidDrop) {
		log.Printf("move in %s: tree changed underneath: %v", spaceID, err)
		current, err := s.loadTree(ctx, spaceID)
		if err != nil {
			return nil, err
		}
		return noIntent(current), nil
	}
	if err != nil {
		return nil, err
	}

	moved := make([]store.Page, 0, len(placements))
	changed := make([]map[string]any, 0, len(placements))
	for _, placement := range placements {
		page := st.pages[placement.ID]
		page.ParentID = parentRef(placement.ParentID)
		page.Index = placement.Index
		page.UpdatedBy = session.UserID
		st.pages[placement.ID] = page
		moved = append(moved, page)
		changed = append(changed, map[string]any{
			"id":       placement.ID,
			"parentId": page.ParentID,
			"index":    placement.Index,
		})
	}
	s.indexPages(moved...)

	return map[string]any{
		"intent":     intent,
		"placements": changed,
		"pages":      st.nested(),
	}, nil
}

func storePlacements(placements []tree.Placement) []store.PagePlacement {
	out := make([]store.PagePlacement, 0, len(placements))
	for _, placement := range placements {
		out = append(out, store.PagePlacement{
			PageID:   placement.ID,
			ParentID: parentRef(placement.ParentID),
			Index:    placement.Index,
		})
	}
	return out
}

func parentRef(parentID string) *string {
	if parentID == "" {
		return nil
	}
	return &parentID
}
