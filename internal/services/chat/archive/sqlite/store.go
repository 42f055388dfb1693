// Package sqlite provides a durable SQLite-backed chat archive.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/emberchat/ember/internal/platform/id"
	sqlitemigrate "github.com/emberchat/ember/internal/platform/storage/sqlitemigrate"
	"github.com/emberchat/ember/internal/services/chat/archive"
	"github.com/emberchat/ember/internal/services/chat/archive/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists the chat archive in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite archive and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("archive path is required")
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

// Append stores one message and returns the stored record.
func (s *Store) Append(ctx context.Context, ch archive.Channel, draft archive.Draft) (archive.Message, error) {
	if err := ctx.Err(); err != nil {
		return archive.Message{}, err
	}
	messageID, err := id.NewID()
	if err != nil {
		return archive.Message{}, err
	}

	msg := archive.Message{
		ID:          messageID,
		Channel:     ch,
		AuthorID:    strings.TrimSpace(draft.AuthorID),
		AuthorName:  strings.TrimSpace(draft.AuthorName),
		AuthorColor: strings.TrimSpace(draft.AuthorColor),
		Body:        draft.Body,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO messages (id, channel, author_id, author_name, author_color, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		int64(msg.Channel),
		msg.AuthorID,
		msg.AuthorName,
		msg.AuthorColor,
		msg.Body,
		toMillis(msg.CreatedAt),
	)
	if err != nil {
		return archive.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// History returns the channel's most recent limit messages, oldest first.
func (s *Store) History(ctx context.Context, ch archive.Channel, limit int) ([]archive.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = ch.HistoryLimit()
	}

	// rowid preserves append order for same-millisecond messages.
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, channel, author_id, author_name, author_color, body, created_at
		 FROM (
		     SELECT rowid AS seq, *
		     FROM messages
		     WHERE channel = ?
		     ORDER BY created_at DESC, seq DESC
		     LIMIT ?
		 )
		 ORDER BY created_at, seq`,
		int64(ch),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []archive.Message
	byID := make(map[string]*archive.Message)
	for rows.Next() {
		var msg archive.Message
		var channel, createdAt int64
		if err := rows.Scan(&msg.ID, &channel, &msg.AuthorID, &msg.AuthorName, &msg.AuthorColor, &msg.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Channel = archive.Channel(channel)
		msg.CreatedAt = fromMillis(createdAt)
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	for i := range history {
		byID[history[i].ID] = &history[i]
	}

	if len(history) > 0 {
		if err := s.attachReactions(ctx, ch, byID); err != nil {
			return nil, err
		}
	}
	return history, nil
}

func (s *Store) attachReactions(ctx context.Context, ch archive.Channel, byID map[string]*archive.Message) error {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT r.message_id, r.emoji, r.count
		 FROM message_reactions r
		 JOIN messages m ON m.id = r.message_id
		 WHERE m.channel = ?`,
		int64(ch),
	)
	if err != nil {
		return fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, emoji string
		var count int
		if err := rows.Scan(&messageID, &emoji, &count); err != nil {
			return fmt.Errorf("scan reaction: %w", err)
		}
		msg, ok := byID[messageID]
		if !ok {
			continue
		}
		if msg.Reactions == nil {
			msg.Reactions = make(map[string]int)
		}
		msg.Reactions[emoji] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate reactions: %w", err)
	}
	return nil
}

// IncrementReaction bumps one reaction tally and returns the new count.
func (s *Store) IncrementReaction(ctx context.Context, messageID string, emoji string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	messageID = strings.TrimSpace(messageID)
	emoji = strings.TrimSpace(emoji)
	if messageID == "" || emoji == "" {
		return 0, archive.ErrNotFound
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reaction tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM messages WHERE id = ?", messageID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, archive.ErrNotFound
		}
		return 0, fmt.Errorf("check message: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO message_reactions (message_id, emoji, count) VALUES (?, ?, 1)
		 ON CONFLICT (message_id, emoji) DO UPDATE SET count = count + 1`,
		messageID,
		emoji,
	)
	if err != nil {
		return 0, fmt.Errorf("increment reaction: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx, "SELECT count FROM message_reactions WHERE message_id = ? AND emoji = ?", messageID, emoji).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("read reaction count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reaction tx: %w", err)
	}
	return count, nil
}
