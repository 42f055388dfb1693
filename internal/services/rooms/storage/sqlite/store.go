// Package sqlite provides a SQLite-backed rooms storage implementation.
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
	"github.com/emberchat/ember/internal/services/rooms/room"
	"github.com/emberchat/ember/internal/services/rooms/storage"
	"github.com/emberchat/ember/internal/services/rooms/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists rooms state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite rooms store and applies embedded migrations.
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

// CreateRoom inserts one room and returns it with its assigned id.
func (s *Store) CreateRoom(ctx context.Context, r room.Room) (room.Room, error) {
	if err := ctx.Err(); err != nil {
		return room.Room{}, err
	}
	if s == nil || s.sqlDB == nil {
		return room.Room{}, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO rooms (name, owner_id, allow_history_for_invited, created_at)
		 VALUES (?, ?, ?, ?)`,
		r.Name,
		r.OwnerID,
		boolToInt(r.AllowHistoryForInvited),
		toMillis(r.CreatedAt),
	)
	if err != nil {
		return room.Room{}, fmt.Errorf("create room: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return room.Room{}, fmt.Errorf("create room id: %w", err)
	}
	r.ID = id
	return r, nil
}

const roomColumns = "id, name, owner_id, allow_history_for_invited, created_at"

// GetRoom returns one room by id.
func (s *Store) GetRoom(ctx context.Context, roomID int64) (room.Room, error) {
	if err := ctx.Err(); err != nil {
		return room.Room{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = ?", roomID)
	var r room.Room
	var allowHistory int
	var createdAt int64
	if err := row.Scan(&r.ID, &r.Name, &r.OwnerID, &allowHistory, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return room.Room{}, storage.ErrNotFound
		}
		return room.Room{}, fmt.Errorf("get room: %w", err)
	}
	r.AllowHistoryForInvited = allowHistory != 0
	r.CreatedAt = fromMillis(createdAt)
	return r, nil
}

// ListRoomsForUser returns rooms the user belongs to, oldest first.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]room.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT r.id, r.name, r.owner_id, r.allow_history_for_invited, r.created_at
		 FROM rooms r
		 JOIN room_members m ON m.room_id = r.id
		 WHERE m.user_id = ?
		 ORDER BY r.created_at, r.id`,
		strings.TrimSpace(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var result []room.Room
	for rows.Next() {
		var r room.Room
		var allowHistory int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Name, &r.OwnerID, &allowHistory, &createdAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		r.AllowHistoryForInvited = allowHistory != 0
		r.CreatedAt = fromMillis(createdAt)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return result, nil
}

// AddMember records one membership.
func (s *Store) AddMember(ctx context.Context, m room.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.RoomID <= 0 || strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("membership key is incomplete")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		"INSERT INTO room_members (room_id, user_id, can_see_history) VALUES (?, ?, ?)",
		m.RoomID,
		m.UserID,
		boolToInt(m.CanSeeHistory),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// GetMember returns one membership record.
func (s *Store) GetMember(ctx context.Context, roomID int64, userID string) (room.Member, error) {
	if err := ctx.Err(); err != nil {
		return room.Member{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		"SELECT room_id, user_id, can_see_history FROM room_members WHERE room_id = ? AND user_id = ?",
		roomID,
		strings.TrimSpace(userID),
	)
	var m room.Member
	var canSee int
	if err := row.Scan(&m.RoomID, &m.UserID, &canSee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return room.Member{}, storage.ErrNotFound
		}
		return room.Member{}, fmt.Errorf("get member: %w", err)
	}
	m.CanSeeHistory = canSee != 0
	return m, nil
}

// MarkGrantRedeemed records a grant jti as spent.
func (s *Store) MarkGrantRedeemed(ctx context.Context, jwtID string, redeemedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	jwtID = strings.TrimSpace(jwtID)
	if jwtID == "" {
		return fmt.Errorf("grant jti is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		"INSERT INTO redeemed_grants (jti, redeemed_at) VALUES (?, ?)",
		jwtID,
		toMillis(redeemedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("mark grant redeemed: %w", err)
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
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
