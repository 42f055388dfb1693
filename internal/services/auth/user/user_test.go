package user

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/emberchat/ember/internal/platform/errors"
)

func TestCreateHashesPasswordAndAppliesDefaults(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	u, err := Create(CreateInput{
		Email:    " Alice@Example.com ",
		Password: "sekrit",
		Username: "alice",
	}, now, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Fatalf("email = %q, want normalized lowercase", u.Email)
	}
	if u.Color != DefaultColor {
		t.Fatalf("color = %q, want default %q", u.Color, DefaultColor)
	}
	if u.PasswordHash == "" || u.PasswordHash == "sekrit" {
		t.Fatalf("password hash = %q, want bcrypt hash", u.PasswordHash)
	}
	if !u.CheckPassword("sekrit") {
		t.Fatal("expected password to verify")
	}
	if u.CheckPassword("wrong") {
		t.Fatal("expected wrong password to fail")
	}
	if !u.CreatedAt.Equal(now()) {
		t.Fatalf("created at = %v, want %v", u.CreatedAt, now())
	}
}

func TestCreateRejectsInvalidUsername(t *testing.T) {
	_, err := Create(CreateInput{
		Email:    "bob@example.com",
		Password: "pw",
		Username: "Bad Name!",
	}, nil, nil)
	if !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidUsername)
	}
}

func TestCreateRejectsInvalidColor(t *testing.T) {
	_, err := Create(CreateInput{
		Email:    "bob@example.com",
		Password: "pw",
		Username: "bob",
		Color:    "blue",
	}, nil, nil)
	if !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidColor)
	}
}

func TestCreateRejectsMissingCredentials(t *testing.T) {
	cases := []CreateInput{
		{Email: "", Password: "pw", Username: "bob"},
		{Email: "not-an-email", Password: "pw", Username: "bob"},
		{Email: "bob@example.com", Password: "", Username: "bob"},
	}
	for _, input := range cases {
		_, err := Create(input, nil, nil)
		if apperrors.CodeOf(err) != apperrors.CodeAuthInvalidCredentials {
			t.Fatalf("input %+v: code = %q, want %q", input, apperrors.CodeOf(err), apperrors.CodeAuthInvalidCredentials)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	if err := ValidateUsername("good.name-1"); err != nil {
		t.Fatalf("valid username rejected: %v", err)
	}
	if err := ValidateUsername(""); !errors.Is(err, ErrEmptyUsername) {
		t.Fatalf("err = %v, want %v", err, ErrEmptyUsername)
	}
	if err := ValidateUsername("ab"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidUsername)
	}
}
