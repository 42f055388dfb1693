// Package storage defines persistence contracts for the rooms service.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/emberchat/ember/internal/services/rooms/room"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a record with the same key exists.
	ErrAlreadyExists = errors.New("already exists")
)

// Store persists rooms, memberships, and redeemed invite grants.
type Store interface {
	// CreateRoom inserts one room and returns it with its assigned id.
	CreateRoom(ctx context.Context, r room.Room) (room.Room, error)
	// GetRoom returns one room by id.
	GetRoom(ctx context.Context, roomID int64) (room.Room, error)
	// ListRoomsForUser returns rooms the user belongs to, oldest first.
	ListRoomsForUser(ctx context.Context, userID string) ([]room.Room, error)
	// AddMember records a membership. Adding an existing member returns
	// ErrAlreadyExists.
	AddMember(ctx context.Context, m room.Member) error
	// GetMember returns one membership record, or ErrNotFound.
	GetMember(ctx context.Context, roomID int64, userID string) (room.Member, error)
	// MarkGrantRedeemed records a grant jti as spent. A second redemption
	// of the same jti returns ErrAlreadyExists.
	MarkGrantRedeemed(ctx context.Context, jwtID string, redeemedAt time.Time) error
}
