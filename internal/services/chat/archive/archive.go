// Package archive is the append-only per-channel message log with reaction
// tallies. The session router is its only writer; ordering within a channel
// is strict append order.
package archive

import (
	"context"
	"errors"
	"time"
)

// Channel identifies a broadcast scope. Zero is the shared general channel;
// positive values are room ids from the room directory.
type Channel int64

// General is the shared default channel every connection joins.
const General Channel = 0

// Room returns the channel for a room id.
func Room(roomID int64) Channel {
	return Channel(roomID)
}

// IsRoom reports whether the channel is room scoped.
func (c Channel) IsRoom() bool {
	return c > 0
}

// RoomID returns the room id for a room channel, or zero for general.
func (c Channel) RoomID() int64 {
	if c > 0 {
		return int64(c)
	}
	return 0
}

// History caps per channel kind.
const (
	GeneralHistoryLimit = 50
	RoomHistoryLimit    = 100
)

// HistoryLimit returns the backlog cap for the channel.
func (c Channel) HistoryLimit() int {
	if c.IsRoom() {
		return RoomHistoryLimit
	}
	return GeneralHistoryLimit
}

// ErrNotFound indicates the message id is unknown to the store.
var ErrNotFound = errors.New("message not found")

// Draft is the author-supplied part of a message before it is stored.
type Draft struct {
	AuthorID    string
	AuthorName  string
	AuthorColor string
	Body        string
}

// Message is one stored chat message. Immutable except for reaction counts.
type Message struct {
	ID          string
	Channel     Channel
	AuthorID    string
	AuthorName  string
	AuthorColor string
	Body        string
	CreatedAt   time.Time
	Reactions   map[string]int
}

// Store is the append-only message log consumed by the session router.
type Store interface {
	// Append assigns an id and server timestamp to the draft and stores it.
	Append(ctx context.Context, ch Channel, draft Draft) (Message, error)
	// History returns the most recent limit messages for the channel in
	// chronological order, oldest of the returned window first.
	History(ctx context.Context, ch Channel, limit int) ([]Message, error)
	// IncrementReaction bumps the (message, emoji) tally by one and returns
	// the new count, or ErrNotFound for an unknown message id.
	IncrementReaction(ctx context.Context, messageID string, emoji string) (int, error)
}
