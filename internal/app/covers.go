package app

import (
	"context"
	"errors"
	"io"
	"net/http"

	"canopy/api/internal/banner"
	"canopy/api/internal/rbac"
)

type HeaderImageInput struct {
	HeaderImage *string `json:"headerImage"`
}

func (s *Service) Covers() map[string]any {
	return map[string]any{
		"groups":  banner.Gallery(),
		"uploads": s.covers != nil && s.covers.Enabled(),
	}
}

// SetHeaderImage sets or clears a page cover. A null or blank value
// removes it.
func (s *Service) SetHeaderImage(ctx context.Context, session Session, pageID string, input HeaderImageInput) (map[string]any, error) {
	headerImage, err := banner.NormalizeHeaderImage(input.HeaderImage)
	if err != nil {
		return nil, errValidation(err.Error(), map[string]any{"headerImage": input.HeaderImage})
	}
	return s.updateHeaderImage(ctx, session, pageID, func(string) (*string, error) {
		return headerImage, nil
	})
}

// UploadHeaderImage stores a cover in object storage and points the page
// at it.
func (s *Service) UploadHeaderImage(ctx context.Context, session Session, pageID, contentType string, body io.Reader) (map[string]any, error) {
	if s.covers == nil || !s.covers.Enabled() {
		return nil, domainError(http.StatusServiceUnavailable, "UPLOADS_DISABLED", banner.ErrUploadsDisabled.Error(), nil)
	}
	return s.updateHeaderImage(ctx, session, pageID, func(spaceID string) (*string, error) {
		url, err := s.covers.Put(ctx, banner.Upload{
			SpaceID:     spaceID,
			PageID:      pageID,
			ContentType: contentType,
			Body:        body,
		})
		switch {
		case errors.Is(err, banner.ErrTooLarge):
			return nil, domainError(http.StatusRequestEntityTooLarge, "COVER_TOO_LARGE", err.Error(), nil)
		case errors.Is(err, banner.ErrUnsupportedType), errors.Is(err, banner.ErrEmptyUpload):
			return nil, errValidation(err.Error(), nil)
		case err != nil:
			return nil, err
		}
		return &url, nil
	})
}

func (s *Service) updateHeaderImage(ctx context.Context, session Session, pageID string, resolve func(spaceID string) (*string, error)) (map[string]any, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, session, page.SpaceID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	headerImage, err := resolve(page.SpaceID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdatePageHeaderImage(ctx, pageID, headerImage, session.UserID); err != nil {
		return nil, err
	}
	page.HeaderImage = headerImage
	page.UpdatedBy = session.UserID
	return pagePayload(page), nil
}
