package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"canopy/api/internal/dnd"
	"canopy/api/internal/rbac"
	"canopy/api/internal/session"
	"canopy/api/internal/util"
)

type StartDragInput struct {
	SpaceID string `json:"spaceId"`
	PageID  string `json:"pageId"`
}

// ZoneInput is one drop zone under the pointer as measured by the client.
// Kind and parent come from the server's own tree, never from the client.
type ZoneInput struct {
	ID    string  `json:"id"`
	Top   float64 `json:"top"`
	Depth int     `json:"depth"`
}

type HoverInput struct {
	Zones    []ZoneInput `json:"zones"`
	PointerY float64     `json:"pointerY"`
}

// DropInput carries the zones at release. PointerY, when present, is
// treated as one last hover before the drop.
type DropInput struct {
	Zones    []ZoneInput `json:"zones"`
	PointerY *float64    `json:"pointerY"`
}

func gesturePayload(g *dnd.Gesture) map[string]any {
	return map[string]any{
		"id":       g.ID,
		"spaceId":  g.SpaceID,
		"sourceId": g.Source.ID,
		"targetId": g.TargetID,
		"adjacent": g.Adjacent,
		"dropped":  g.Dropped,
	}
}

// StartDrag opens a gesture for one page. The returned id addresses every
// later pointer event of the same drag.
func (s *Service) StartDrag(ctx context.Context, session Session, input StartDragInput) (map[string]any, error) {
	spaceID := strings.TrimSpace(input.SpaceID)
	pageID := strings.TrimSpace(input.PageID)
	if spaceID == "" || pageID == "" {
		return nil, errValidation("spaceId and pageId are required", nil)
	}
	if err := s.authorize(ctx, session, spaceID, rbac.ActionWrite); err != nil {
		return nil, err
	}

	st, err := s.loadTree(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	source, ok := st.tree.Node(pageID)
	if !ok {
		return nil, errNotFound("Page")
	}

	g := dnd.NewGesture(util.NewID("drag"), spaceID, source)
	if err := s.gestures.SaveGesture(ctx, g); err != nil {
		return nil, err
	}
	return gesturePayload(g), nil
}

func (s *Service) loadGesture(ctx context.Context, caller Session, dragID string, action rbac.Action) (*dnd.Gesture, error) {
	g, err := s.gestures.LoadGesture(ctx, dragID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, errNotFound("Drag")
	}
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, caller, g.SpaceID, action); err != nil {
		return nil, err
	}
	return g, nil
}

// HoverDrag records one pointer tick. Only ids and geometry are needed, so
// no tree is loaded.
func (s *Service) HoverDrag(ctx context.Context, session Session, dragID string, input HoverInput) (map[string]any, error) {
	g, err := s.loadGesture(ctx, session, dragID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	g.Hover(hoverStack(input.Zones), input.PointerY)
	if err := s.gestures.SaveGesture(ctx, g); err != nil {
		return nil, err
	}
	return gesturePayload(g), nil
}

// DropDrag classifies the release against a fresh snapshot and applies the
// intent. The drop is claimed in the gesture store before anything is read,
// so overlapping releases of one gesture, on any replica, move the page at
// most once; the losers answer with a none intent.
func (s *Service) DropDrag(ctx context.Context, caller Session, dragID string, input DropInput) (map[string]any, error) {
	g, err := s.loadGesture(ctx, caller, dragID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	claimed, err := s.gestures.ClaimDrop(ctx, g.ID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, errNotFound("Drag")
	}
	if err != nil {
		return nil, err
	}
	if !claimed || g.Dropped {
		st, err := s.loadTree(ctx, g.SpaceID)
		if err != nil {
			return nil, err
		}
		return noIntent(st), nil
	}
	defer func() {
		g.Dropped = true
		if err := s.gestures.SaveGesture(context.WithoutCancel(ctx), g); err != nil {
			log.Printf("drag %s: save spent gesture: %v", g.ID, err)
		}
	}()

	unlock := s.lockSpace(g.SpaceID)
	defer unlock()

	st, err := s.loadTree(ctx, g.SpaceID)
	if err != nil {
		return nil, err
	}
	source, ok := st.tree.Node(g.Source.ID)
	if !ok {
		return nil, errNotFound("Page")
	}
	g.Source = source

	zones := make([]dnd.Zone, 0, len(input.Zones))
	for _, zone := range input.Zones {
		node, ok := st.tree.Node(zone.ID)
		if !ok {
			continue
		}
		zones = append(zones, dnd.Zone{Node: node, Top: zone.Top, Depth: zone.Depth})
	}
	if input.PointerY != nil {
		g.Hover(zones, *input.PointerY)
	}

	intent, err := g.Drop(zones, st.tree)
	if err != nil {
		log.Printf("drag %s: %v", g.ID, err)
	}
	return s.applyIntent(ctx, caller, g.SpaceID, st, intent)
}

// CancelDrag releases outside every zone. Nothing is persisted.
func (s *Service) CancelDrag(ctx context.Context, session Session, dragID string) error {
	g, err := s.loadGesture(ctx, session, dragID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	return s.gestures.DeleteGesture(ctx, g.ID)
}

func hoverStack(zones []ZoneInput) dnd.Stack {
	stack := make(dnd.Stack, 0, len(zones))
	for _, zone := range zones {
		if zone.ID == "" {
			continue
		}
		stack = append(stack, dnd.Zone{Node: dnd.Node{ID: zone.ID}, Top: zone.Top, Depth: zone.Depth})
	}
	return stack
}
