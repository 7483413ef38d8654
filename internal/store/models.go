package store

import "time"

const (
	PageTypePage  = "page"
	PageTypeBoard = "board"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Space is a workspace: a named, domain-addressed container of pages.
type Space struct {
	ID        string
	Name      string
	Domain    string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SpaceRole struct {
	SpaceID   string
	UserID    string
	Role      string
	GrantedAt time.Time
}

type Page struct {
	ID          string
	SpaceID     string
	ParentID    *string
	Title       string
	Icon        string
	Path        string
	Type        string
	Index       int
	HeaderImage *string
	IsEmpty     bool
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PagePlacement is the persisted position of a page after a move.
type PagePlacement struct {
	PageID   string
	ParentID *string
	Index    int
}
