package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, email, role FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email, role)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.canopy.dev'), 'editor')
		RETURNING id, display_name, email, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users WHERE LOWER(email)=LOWER($1)
	`, strings.TrimSpace(email)).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "viewer"
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ListSpacesForUser returns the spaces the user holds any role in.
func (s *PostgresStore) ListSpacesForUser(ctx context.Context, userID string) ([]Space, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.domain, s.created_by, s.created_at, s.updated_at
		FROM spaces s
		JOIN space_roles sr ON sr.space_id = s.id
		WHERE sr.user_id = $1
		ORDER BY s.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	items := make([]Space, 0)
	for rows.Next() {
		var item Space
		if err := rows.Scan(&item.ID, &item.Name, &item.Domain, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSpace(ctx context.Context, spaceID string) (Space, error) {
	var item Space
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, domain, created_by, created_at, updated_at
		FROM spaces WHERE id=$1
	`, spaceID).Scan(&item.ID, &item.Name, &item.Domain, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Space{}, err
	}
	return item, nil
}

// DomainExists reports whether another space already uses domain.
// excludeSpaceID lets a space keep its own domain when renaming.
func (s *PostgresStore) DomainExists(ctx context.Context, domain, excludeSpaceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM spaces WHERE domain=$1 AND id <> $2)
	`, domain, excludeSpaceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check domain: %w", err)
	}
	return exists, nil
}

// InsertSpace creates the space and grants its creator the admin role in one
// transaction.
func (s *PostgresStore) InsertSpace(ctx context.Context, space Space) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert space: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO spaces (id, name, domain, created_by)
		VALUES ($1, $2, $3, $4)
	`, space.ID, space.Name, space.Domain, space.CreatedBy); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert space: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO space_roles (space_id, user_id, role)
		VALUES ($1, $2, 'admin')
	`, space.ID, space.CreatedBy); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("grant space admin: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert space: %w", err)
	}
	return nil
}

// GetSpaceRole returns the user's role in a space, or "" without one.
func (s *PostgresStore) GetSpaceRole(ctx context.Context, spaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM space_roles WHERE space_id=$1 AND user_id=$2`, spaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read space role: %w", err)
	}
	return role, nil
}

const pageColumns = `id, space_id, parent_id, title, icon, path, type, sort_index, header_image, is_empty, created_by, updated_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (Page, error) {
	var item Page
	var parentID, headerImage sql.NullString
	err := row.Scan(&item.ID, &item.SpaceID, &parentID, &item.Title, &item.Icon, &item.Path, &item.Type,
		&item.Index, &headerImage, &item.IsEmpty, &item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Page{}, err
	}
	if parentID.Valid {
		item.ParentID = &parentID.String
	}
	if headerImage.Valid {
		item.HeaderImage = &headerImage.String
	}
	return item, nil
}

func (s *PostgresStore) ListPages(ctx context.Context, spaceID string) ([]Page, error) {
	return listPages(ctx, s.db, spaceID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listPages(ctx context.Context, q queryer, spaceID string) ([]Page, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE space_id=$1
		ORDER BY sort_index ASC, created_at ASC
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		item, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, pageID)
	item, err := scanPage(row)
	if err != nil {
		return Page{}, err
	}
	return item, nil
}

const insertPageSQL = `
	INSERT INTO pages (id, space_id, parent_id, title, icon, path, type, sort_index, header_image, is_empty, created_by, updated_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
`

func (s *PostgresStore) InsertPage(ctx context.Context, page Page) error {
	_, err := s.db.ExecContext(ctx, insertPageSQL, page.ID, page.SpaceID, page.ParentID, page.Title, page.Icon,
		page.Path, page.Type, page.Index, page.HeaderImage, page.IsEmpty, page.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// lockSpaceTx takes the space row lock. Every page-tree write holds it
// until its transaction ends, on whichever replica it runs.
func lockSpaceTx(ctx context.Context, tx *sql.Tx, spaceID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM spaces WHERE id=$1 FOR UPDATE`, spaceID).Scan(&id)
	if err != nil {
		return fmt.Errorf("lock space %s: %w", spaceID, err)
	}
	return nil
}

// MovePages reads the space's pages under the space lock and persists the
// placements plan derives from them, all or nothing. Errors returned by plan
// abort the move and are passed back unwrapped.
func (s *PostgresStore) MovePages(ctx context.Context, spaceID, updatedBy string, plan func(pages []Page) ([]PagePlacement, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move: %w", err)
	}
	if err := lockSpaceTx(ctx, tx, spaceID); err != nil {
		_ = tx.Rollback()
		return err
	}
	pages, err := listPages(ctx, tx, spaceID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	placements, err := plan(pages)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := updatePlacements(ctx, tx, spaceID, updatedBy, placements); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}
	return nil
}

func updatePlacements(ctx context.Context, tx *sql.Tx, spaceID, updatedBy string, placements []PagePlacement) error {
	for _, p := range placements {
		result, err := tx.ExecContext(ctx, `
			UPDATE pages SET parent_id=$3, sort_index=$4, updated_by=$5, updated_at=NOW()
			WHERE id=$1 AND space_id=$2
		`, p.PageID, spaceID, p.ParentID, p.Index, updatedBy)
		if err != nil {
			return fmt.Errorf("move page %s: %w", p.PageID, err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("move page %s: %w", p.PageID, sql.ErrNoRows)
		}
	}
	return nil
}

// DeletePages removes a subtree and renumbers the surviving siblings in one
// transaction. pageIDs must list parents before their children.
func (s *PostgresStore) DeletePages(ctx context.Context, spaceID, updatedBy string, pageIDs []string, renumber []PagePlacement) error {
	if len(pageIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete pages: %w", err)
	}
	if err := lockSpaceTx(ctx, tx, spaceID); err != nil {
		_ = tx.Rollback()
		return err
	}
	// Children first so the parent foreign key never dangles.
	for i := len(pageIDs) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id=$1 AND space_id=$2`, pageIDs[i], spaceID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete page %s: %w", pageIDs[i], err)
		}
	}
	if err := updatePlacements(ctx, tx, spaceID, updatedBy, renumber); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete pages: %w", err)
	}
	return nil
}

// InsertPages inserts a batch, typically an imported hierarchy, all or
// nothing. Parents must precede their children and every page belongs to
// the same space.
func (s *PostgresStore) InsertPages(ctx context.Context, pages []Page) error {
	if len(pages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert pages: %w", err)
	}
	if err := lockSpaceTx(ctx, tx, pages[0].SpaceID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, page := range pages {
		if _, err := tx.ExecContext(ctx, insertPageSQL, page.ID, page.SpaceID, page.ParentID, page.Title, page.Icon,
			page.Path, page.Type, page.Index, page.HeaderImage, page.IsEmpty, page.CreatedBy); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert page %s: %w", page.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert pages: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePageHeaderImage(ctx context.Context, pageID string, headerImage *string, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pages SET header_image=$2, updated_by=$3, updated_at=NOW() WHERE id=$1
	`, pageID, headerImage, updatedBy)
	if err != nil {
		return fmt.Errorf("update header image: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
