package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberchat/ember/internal/services/auth/storage"
	"github.com/emberchat/ember/internal/services/auth/user"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testUser(id, email, username string) user.User {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return user.User{
		ID:           id,
		Email:        email,
		Username:     username,
		Color:        "#3498db",
		PasswordHash: "$2a$10$fakehashfakehashfakehash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestCreateAndGetUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	want := testUser("user-1", "a@example.com", "alice")
	if err := store.CreateUser(ctx, want); err != nil {
		t.Fatalf("create user: %v", err)
	}

	byID, err := store.GetUserByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Email != want.Email || byID.Username != want.Username {
		t.Fatalf("got %+v, want %+v", byID, want)
	}
	if !byID.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created at = %v, want %v", byID.CreatedAt, want.CreatedAt)
	}

	byEmail, err := store.GetUserByEmail(ctx, "A@Example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != "user-1" {
		t.Fatalf("id = %q, want user-1", byEmail.ID)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "a@example.com", "alice")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err := store.CreateUser(ctx, testUser("user-2", "a@example.com", "other"))
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("err = %v, want %v", err, storage.ErrAlreadyExists)
	}
}

func TestGetUserMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetUserByID(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestListUsersOrdered(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := testUser("user-1", "a@example.com", "alice")
	second := testUser("user-2", "b@example.com", "bob")
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	second.UpdatedAt = second.CreatedAt
	if err := store.CreateUser(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := store.CreateUser(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len = %d, want 2", len(users))
	}
	if users[0].ID != "user-1" || users[1].ID != "user-2" {
		t.Fatalf("order = %q, %q; want user-1, user-2", users[0].ID, users[1].ID)
	}
}

func TestUpdateProfile(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "a@example.com", "alice")); err != nil {
		t.Fatalf("create user: %v", err)
	}

	newName := "alicia"
	newColor := "#ff0000"
	updatedAt := time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)
	updated, err := store.UpdateProfile(ctx, "user-1", storage.ProfileUpdate{Username: &newName, Color: &newColor}, updatedAt)
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Username != "alicia" || updated.Color != "#ff0000" {
		t.Fatalf("updated = %+v", updated)
	}
	if !updated.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("updated at = %v, want %v", updated.UpdatedAt, updatedAt)
	}

	_, err = store.UpdateProfile(ctx, "missing", storage.ProfileUpdate{Username: &newName}, updatedAt)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, testUser("user-1", "a@example.com", "alice")); err != nil {
		t.Fatalf("create user: %v", err)
	}

	issuedAt := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	token := storage.AccessToken{Token: "tok-1", UserID: "user-1", IssuedAt: issuedAt}
	if err := store.InsertToken(ctx, token); err != nil {
		t.Fatalf("insert token: %v", err)
	}

	got, err := store.GetToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got.UserID != "user-1" || !got.IssuedAt.Equal(issuedAt) {
		t.Fatalf("got %+v", got)
	}

	_, err = store.GetToken(ctx, "unknown")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, storage.ErrNotFound)
	}
}
