// Package storage defines persistence contracts for auth service state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/emberchat/ember/internal/services/auth/user"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// AccessToken stores one issued bearer token.
type AccessToken struct {
	Token    string
	UserID   string
	IssuedAt time.Time
}

// ProfileUpdate describes mutable profile fields; nil means unchanged.
type ProfileUpdate struct {
	Username *string
	Color    *string
}

// UserStore persists user identity records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) error
	GetUserByID(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate, updatedAt time.Time) (user.User, error)
}

// TokenStore persists issued access tokens.
type TokenStore interface {
	InsertToken(ctx context.Context, token AccessToken) error
	GetToken(ctx context.Context, token string) (AccessToken, error)
}
