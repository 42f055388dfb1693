// Package sqlite provides a SQLite-backed auth storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/emberchat/ember/internal/platform/storage/sqlitemigrate"
	"github.com/emberchat/ember/internal/services/auth/storage"
	"github.com/emberchat/ember/internal/services/auth/storage/sqlite/migrations"
	"github.com/emberchat/ember/internal/services/auth/user"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists auth state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite auth store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateUser inserts one user record.
func (s *Store) CreateUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (id, email, username, color, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Email,
		u.Username,
		u.Color,
		u.PasswordHash,
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const userColumns = "id, email, username, color, password_hash, created_at, updated_at"

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var createdAt, updatedAt int64
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Color, &u.PasswordHash, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

// GetUserByID returns one user by id.
func (s *Store) GetUserByID(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", strings.TrimSpace(userID))
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, err
		}
		return user.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns one user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, err
		}
		return user.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		var u user.User
		var createdAt, updatedAt int64
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.Color, &u.PasswordHash, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = fromMillis(createdAt)
		u.UpdatedAt = fromMillis(updatedAt)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// UpdateProfile applies the non-nil fields of update to one user.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update storage.ProfileUpdate, updatedAt time.Time) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	var sets []string
	var args []any
	if update.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *update.Username)
	}
	if update.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, *update.Color)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, toMillis(updatedAt))
		args = append(args, userID)

		result, err := s.sqlDB.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return user.User{}, fmt.Errorf("update profile: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return user.User{}, fmt.Errorf("update profile rows affected: %w", err)
		}
		if affected == 0 {
			return user.User{}, storage.ErrNotFound
		}
	}
	return s.GetUserByID(ctx, userID)
}

// InsertToken records one issued access token.
func (s *Store) InsertToken(ctx context.Context, token storage.AccessToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(token.Token) == "" {
		return fmt.Errorf("token is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		"INSERT INTO access_tokens (token, user_id, issued_at) VALUES (?, ?, ?)",
		token.Token,
		token.UserID,
		toMillis(token.IssuedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetToken returns one issued token record.
func (s *Store) GetToken(ctx context.Context, token string) (storage.AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.AccessToken{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		"SELECT token, user_id, issued_at FROM access_tokens WHERE token = ?",
		strings.TrimSpace(token),
	)
	var record storage.AccessToken
	var issuedAt int64
	if err := row.Scan(&record.Token, &record.UserID, &issuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AccessToken{}, storage.ErrNotFound
		}
		return storage.AccessToken{}, fmt.Errorf("get token: %w", err)
	}
	record.IssuedAt = fromMillis(issuedAt)
	return record, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
