// Package room provides room directory domain records and validation.
package room

import (
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/emberchat/ember/internal/platform/errors"
)

// MaxNameRunes caps room name length.
const MaxNameRunes = 100

var (
	// ErrEmptyName indicates a missing room name.
	ErrEmptyName = apperrors.New(apperrors.CodeRoomNameEmpty, "room name is required")
	// ErrNameTooLong indicates a room name above the length cap.
	ErrNameTooLong = apperrors.New(apperrors.CodeRoomNameEmpty, "room name must be at most 100 characters")
	// ErrOwnerRequired indicates a missing owner id.
	ErrOwnerRequired = apperrors.New(apperrors.CodeRoomOwnerRequired, "room owner is required")
)

// Room is one durable room definition.
//
// IDs are positive integers assigned by storage; the chat service uses them
// directly as broadcast channel keys.
type Room struct {
	ID                     int64
	Name                   string
	OwnerID                string
	AllowHistoryForInvited bool
	CreatedAt              time.Time
}

// Member records that a user belongs to a room and whether they may view
// its message history.
type Member struct {
	RoomID        int64
	UserID        string
	CanSeeHistory bool
}

// New validates room creation input and stamps the creation time.
//
// The owner always becomes a member with history visibility; invited members
// inherit allowHistoryForInvited unless the invite overrides it.
func New(name string, ownerID string, allowHistoryForInvited bool, now func() time.Time) (Room, error) {
	if now == nil {
		now = time.Now
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameRunes {
		return Room{}, ErrNameTooLong
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Room{}, ErrOwnerRequired
	}
	return Room{
		Name:                   name,
		OwnerID:                ownerID,
		AllowHistoryForInvited: allowHistoryForInvited,
		CreatedAt:              now().UTC(),
	}, nil
}
