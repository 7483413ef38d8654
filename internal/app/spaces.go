package app

import (
	"context"
	"strings"

	"canopy/api/internal/rbac"
	"canopy/api/internal/spacedomain"
	"canopy/api/internal/store"
	"canopy/api/internal/util"
)

type CreateSpaceInput struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

func spacePayload(space store.Space) map[string]any {
	return map[string]any{
		"id":        space.ID,
		"name":      space.Name,
		"domain":    space.Domain,
		"createdBy": space.CreatedBy,
		"createdAt": space.CreatedAt,
		"updatedAt": space.UpdatedAt,
	}
}

func (s *Service) ListSpaces(ctx context.Context, session Session) ([]map[string]any, error) {
	spaces, err := s.store.ListSpacesForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(spaces))
	for _, space := range spaces {
		items = append(items, spacePayload(space))
	}
	return items, nil
}

// CreateSpace validates the form and makes the caller the space admin. An
// omitted domain is derived from the name.
func (s *Service) CreateSpace(ctx context.Context, session Session, input CreateSpaceInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, errForbidden()
	}

	name := strings.TrimSpace(input.Name)
	domain := spacedomain.Normalize(input.Domain)
	if domain == "" {
		domain = spacedomain.FromName(name)
	}

	fieldErrors, err := spacedomain.Check(ctx, s.store, "", name, domain)
	if err != nil {
		return nil, err
	}
	if !fieldErrors.Empty() {
		return nil, errValidation("Space is invalid", fieldErrors)
	}

	space := store.Space{
		ID:        util.NewID("sp"),
		Name:      name,
		Domain:    domain,
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertSpace(ctx, space); err != nil {
		return nil, err
	}
	created, err := s.store.GetSpace(ctx, space.ID)
	if err != nil {
		return nil, err
	}
	return spacePayload(created), nil
}

// CheckDomain backs the as-you-type availability hint on the space form.
func (s *Service) CheckDomain(ctx context.Context, domain, spaceID string) (map[string]any, error) {
	domain = spacedomain.Normalize(domain)
	fieldErrors, err := spacedomain.Check(ctx, s.store, spaceID, "", domain)
	if err != nil {
		return nil, err
	}
	delete(fieldErrors, "name")
	message, invalid := fieldErrors["domain"]
	return map[string]any{
		"domain":    domain,
		"available": !invalid,
		"exists":    message == spacedomain.MsgDomainExists,
		"error":     message,
	}, nil
}
