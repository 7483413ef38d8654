package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"canopy/api/internal/auth"
	"canopy/api/internal/authpw"
	"canopy/api/internal/banner"
	"canopy/api/internal/config"
	"canopy/api/internal/notion"
	"canopy/api/internal/rbac"
	"canopy/api/internal/search"
	"canopy/api/internal/session"
	"canopy/api/internal/store"
	"canopy/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	ListSpacesForUser(ctx context.Context, userID string) ([]store.Space, error)
	GetSpace(ctx context.Context, spaceID string) (store.Space, error)
	DomainExists(ctx context.Context, domain, excludeSpaceID string) (bool, error)
	InsertSpace(ctx context.Context, space store.Space) error
	GetSpaceRole(ctx context.Context, spaceID, userID string) (string, error)
	ListPages(ctx context.Context, spaceID string) ([]store.Page, error)
	GetPage(ctx context.Context, pageID string) (store.Page, error)
	InsertPage(ctx context.Context, page store.Page) error
	InsertPages(ctx context.Context, pages []store.Page) error
	MovePages(ctx context.Context, spaceID, updatedBy string, plan func(pages []store.Page) ([]store.PagePlacement, error)) error
	DeletePages(ctx context.Context, spaceID, updatedBy string, pageIDs []string, renumber []store.PagePlacement) error
	UpdatePageHeaderImage(ctx context.Context, pageID string, headerImage *string, updatedBy string) error
	Ping(ctx context.Context) error
}

// refreshStore keeps refresh tokens by hash. Postgres and Redis both satisfy it.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type pageIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPages(pages ...search.PageRecord)
	DeletePages(ids ...string)
}

type notionImporter interface {
	Enabled() bool
	Exchange(ctx context.Context, code, host string) (notion.Grant, error)
	Import(ctx context.Context, grant notion.Grant, target notion.Target) ([]store.Page, error)
}

type coverUploader interface {
	Enabled() bool
	Put(ctx context.Context, upload banner.Upload) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	refresh  refreshStore
	gestures session.GestureStore
	index    pageIndex
	notion   notionImporter
	covers   coverUploader
	accounts *authpw.Service

	// Page mutations are serialized per space so concurrent moves never
	// read a tree another request is rewriting.
	spaceMu    sync.Mutex
	spaceLocks map[string]*sync.Mutex
}

type Option func(*Service)

// WithRefreshStore moves refresh tokens out of Postgres.
func WithRefreshStore(refresh *session.RedisStore) Option {
	return func(s *Service) {
		if refresh != nil {
			s.refresh = refresh
		}
	}
}

func WithGestures(gestures session.GestureStore) Option {
	return func(s *Service) {
		if gestures != nil {
			s.gestures = gestures
		}
	}
}

func WithSearch(index *search.Service) Option {
	return func(s *Service) {
		if index != nil {
			s.index = index
		}
	}
}

func WithNotion(client *notion.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.notion = client
		}
	}
}

func WithCovers(uploader *banner.Uploader) Option {
	return func(s *Service) {
		if uploader != nil {
			s.covers = uploader
		}
	}
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts ...Option) *Service {
	s := newService(cfg, dataStore)
	s.refresh = dataStore
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newService(cfg config.Config, data dataStore) *Service {
	return &Service{
		cfg:        cfg,
		store:      data,
		gestures:   session.NewMemoryGestures(cfg.GestureTTL),
		accounts:   authpw.NewService(data),
		spaceLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockSpace(spaceID string) func() {
	s.spaceMu.Lock()
	mu, ok := s.spaceLocks[spaceID]
	if !ok {
		mu = &sync.Mutex{}
		s.spaceLocks[spaceID] = mu
	}
	s.spaceMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Bootstrap seeds a starter space for the demo user on an empty install.
func (s *Service) Bootstrap(ctx context.Context) error {
	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}
	spaces, err := s.store.ListSpacesForUser(ctx, owner.ID)
	if err != nil {
		return err
	}
	if len(spaces) > 0 {
		return nil
	}

	space := store.Space{
		ID:        util.NewID("sp"),
		Name:      "Getting Started",
		Domain:    "getting-started",
		CreatedBy: owner.ID,
	}
	if err := s.store.InsertSpace(ctx, space); err != nil {
		return err
	}

	seeds := []struct {
		key, parent, title, icon, kind string
	}{
		{key: "welcome", title: "Welcome", icon: "👋", kind: store.PageTypePage},
		{key: "guide", parent: "welcome", title: "Drag pages to reorder them", kind: store.PageTypePage},
		{key: "nesting", parent: "welcome", title: "Drop onto a page to nest it", kind: store.PageTypePage},
		{key: "roadmap", title: "Roadmap", icon: "🗺️", kind: store.PageTypeBoard},
		{key: "notes", title: "Meeting notes", kind: store.PageTypePage},
	}
	ids := make(map[string]string, len(seeds))
	next := make(map[string]int)
	pages := make([]store.Page, 0, len(seeds))
	for _, seed := range seeds {
		page := store.Page{
			ID:        util.NewID("pg"),
			SpaceID:   space.ID,
			Title:     seed.title,
			Icon:      seed.icon,
			Path:      util.PagePath(seed.title),
			Type:      seed.kind,
			Index:     next[seed.parent],
			IsEmpty:   true,
			CreatedBy: owner.ID,
			UpdatedBy: owner.ID,
		}
		if seed.parent != "" {
			parentID := ids[seed.parent]
			page.ParentID = &parentID
		}
		next[seed.parent]++
		ids[seed.key] = page.ID
		pages = append(pages, page)
	}
	if err := s.store.InsertPages(ctx, pages); err != nil {
		return err
	}
	s.indexPages(pages...)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.accounts.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Redis only remembers the user id.
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.NewOpaqueToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// authorize resolves the caller's role in a space. Non-members get 404 so
// space ids are not enumerable.
func (s *Service) authorize(ctx context.Context, session Session, spaceID string, action rbac.Action) error {
	role, err := s.store.GetSpaceRole(ctx, spaceID, session.UserID)
	if err != nil {
		return err
	}
	if role == "" {
		return errNotFound("Space")
	}
	if !s.Can(role, action) {
		return errForbidden()
	}
	return nil
}

func (s *Service) indexPages(pages ...store.Page) {
	if s.index == nil || len(pages) == 0 {
		return
	}
	records := make([]search.PageRecord, 0, len(pages))
	for _, page := range pages {
		records = append(records, pageRecord(page))
	}
	s.index.IndexPages(records...)
}

func pageRecord(page store.Page) search.PageRecord {
	parentID := ""
	if page.ParentID != nil {
		parentID = *page.ParentID
	}
	return search.PageRecord{
		ID:       page.ID,
		Title:    page.Title,
		SpaceID:  page.SpaceID,
		ParentID: parentID,
		Path:     page.Path,
		Type:     page.Type,
		Icon:     page.Icon,
	}
}
