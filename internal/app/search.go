package app

import (
	"context"

	"canopy/api/internal/rbac"
	"canopy/api/internal/search"
)

// Search queries one space when spaceID is set, otherwise every space the
// caller belongs to.
func (s *Service) Search(ctx context.Context, session Session, text, spaceID string, limit, offset int) (search.Response, error) {
	var spaceIDs []string
	if spaceID != "" {
		if err := s.authorize(ctx, session, spaceID, rbac.ActionRead); err != nil {
			return search.Response{}, err
		}
		spaceIDs = []string{spaceID}
	} else {
		spaces, err := s.store.ListSpacesForUser(ctx, session.UserID)
		if err != nil {
			return search.Response{}, err
		}
		for _, space := range spaces {
			spaceIDs = append(spaceIDs, space.ID)
		}
	}
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.index.Search(ctx, search.Query{
		Text:     text,
		SpaceIDs: spaceIDs,
		Limit:    limit,
		Offset:   offset,
	}), nil
}
