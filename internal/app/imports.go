package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"canopy/api/internal/notion"
	"canopy/api/internal/rbac"
)

const (
	msgImportInvalidCode = "Invalid code. Please try importing again"
	msgImportFailed      = "Something went wrong!"
)

type NotionImportInput struct {
	SpaceID string `json:"spaceId"`
	Code    string `json:"code"`
}

func importError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "IMPORT_FAILED", message, nil)
}

// ImportNotion exchanges the OAuth code and copies the workspace's page
// hierarchy into the space under a single new root page.
func (s *Service) ImportNotion(ctx context.Context, session Session, input NotionImportInput, host string) (map[string]any, error) {
	spaceID := strings.TrimSpace(input.SpaceID)
	code := strings.TrimSpace(input.Code)
	if spaceID == "" || code == "" {
		return nil, importError("Missing code or spaceId in request body")
	}
	if s.notion == nil || !s.notion.Enabled() {
		return nil, domainError(http.StatusServiceUnavailable, "IMPORT_DISABLED", "Notion import is not configured", nil)
	}
	if err := s.authorize(ctx, session, spaceID, rbac.ActionWrite); err != nil {
		return nil, err
	}

	grant, err := s.notion.Exchange(ctx, code, host)
	if errors.Is(err, notion.ErrInvalidCode) {
		return nil, importError(msgImportInvalidCode)
	}
	if err != nil {
		log.Printf("import: exchange for space %s: %v", spaceID, err)
		return nil, importError(msgImportFailed)
	}

	unlock := s.lockSpace(spaceID)
	defer unlock()

	st, err := s.loadTree(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	pages, err := s.notion.Import(ctx, grant, notion.Target{
		SpaceID:   spaceID,
		UserID:    session.UserID,
		RootIndex: st.tree.NextIndex(""),
	})
	var located *notion.ImportError
	if errors.As(err, &located) {
		log.Printf("import: %v", err)
		return nil, importError(located.Error())
	}
	if err != nil {
		log.Printf("import: space %s: %v", spaceID, err)
		return nil, importError(msgImportFailed)
	}

	if err := s.store.InsertPages(ctx, pages); err != nil {
		return nil, err
	}
	s.indexPages(pages...)

	rootID := ""
	if len(pages) > 0 {
		rootID = pages[0].ID
	}
	return map[string]any{
		"spaceId":    spaceID,
		"rootPageId": rootID,
		"imported":   len(pages),
	}, nil
}
