// Package user provides auth user management.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/emberchat/ember/internal/platform/errors"
	"github.com/emberchat/ember/internal/platform/id"
)

// DefaultColor is the display color assigned when registration omits one.
const DefaultColor = "#3498db"

var (
	// ErrEmptyUsername indicates a missing username.
	ErrEmptyUsername = apperrors.New(apperrors.CodeUserEmptyUsername, "username is required")
	// ErrInvalidUsername indicates a username that does not match the required format.
	ErrInvalidUsername = apperrors.New(apperrors.CodeUserInvalidUsername, "username must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")
	// ErrInvalidColor indicates a color tag that is not a hex triplet.
	ErrInvalidColor = apperrors.New(apperrors.CodeUserInvalidColor, "color must be a #rrggbb hex value")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
	colorPattern    = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// User represents an authenticated identity record.
type User struct {
	ID           string
	Email        string
	Username     string
	Color        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateInput describes the metadata needed to create a user.
type CreateInput struct {
	Email    string
	Password string
	Username string
	Color    string
}

// ValidateUsername enforces canonical username constraints used by invites
// and chat display across services.
func ValidateUsername(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyUsername
	}
	if !usernamePattern.MatchString(s) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateColor enforces the display color format.
func ValidateColor(s string) error {
	if !colorPattern.MatchString(s) {
		return ErrInvalidColor
	}
	return nil
}

// Create builds a durable user identity from untrusted registration input.
//
// This is the canonical point where a raw credential becomes a bcrypt hash;
// the plaintext password never leaves this function.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, apperrors.New(apperrors.CodeAuthInvalidCredentials, "a valid email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return User{}, apperrors.New(apperrors.CodeAuthInvalidCredentials, "password is required")
	}

	username := strings.TrimSpace(input.Username)
	if err := ValidateUsername(username); err != nil {
		return User{}, err
	}

	color := strings.TrimSpace(input.Color)
	if color == "" {
		color = DefaultColor
	}
	if err := ValidateColor(color); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:           userID,
		Email:        email,
		Username:     username,
		Color:        color,
		PasswordHash: string(hash),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}, nil
}

// CheckPassword reports whether the candidate password matches the stored hash.
func (u User) CheckPassword(candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(candidate)) == nil
}
