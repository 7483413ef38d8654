// Package authpw provides email/password accounts.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"canopy/api/internal/store"
	"canopy/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	ErrMissingFields      = errors.New("email, password and display name are required")
	ErrInvalidEmail       = errors.New("email address is not valid")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// UserStore is the slice of the store authpw needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(users UserStore) *Service {
	return &Service{store: users, cost: bcrypt.DefaultCost}
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates an editor account and returns it without the hash.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return store.User{}, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, ErrInvalidEmail
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return store.User{}, ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := store.User{
		ID:           util.NewID("usr"),
		DisplayName:  name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "editor",
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn checks credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	user.PasswordHash = ""
	return user, nil
}
