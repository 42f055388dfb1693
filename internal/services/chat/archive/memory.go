package archive

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/emberchat/ember/internal/platform/id"
)

// maxChannelMessages bounds how many messages a channel retains in memory.
// Reactions on messages evicted by this cap read as not found.
const maxChannelMessages = 1000

// MemoryStore keeps the message log in process memory. State is rebuilt
// empty on restart.
type MemoryStore struct {
	mu        sync.Mutex
	byChannel map[Channel][]*Message
	byID      map[string]*Message
}

// NewMemoryStore creates an empty in-memory archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byChannel: make(map[Channel][]*Message),
		byID:      make(map[string]*Message),
	}
}

// Append stores one message and returns the stored record.
func (s *MemoryStore) Append(ctx context.Context, ch Channel, draft Draft) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	messageID, err := id.NewID()
	if err != nil {
		return Message{}, err
	}

	msg := &Message{
		ID:          messageID,
		Channel:     ch,
		AuthorID:    strings.TrimSpace(draft.AuthorID),
		AuthorName:  strings.TrimSpace(draft.AuthorName),
		AuthorColor: strings.TrimSpace(draft.AuthorColor),
		Body:        draft.Body,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	log := append(s.byChannel[ch], msg)
	if len(log) > maxChannelMessages {
		evicted := log[:len(log)-maxChannelMessages]
		log = log[len(log)-maxChannelMessages:]
		for _, old := range evicted {
			delete(s.byID, old.ID)
		}
	}
	s.byChannel[ch] = log
	s.byID[msg.ID] = msg
	s.mu.Unlock()

	return copyMessage(msg), nil
}

// History returns the channel's most recent limit messages, oldest first.
func (s *MemoryStore) History(ctx context.Context, ch Channel, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = ch.HistoryLimit()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.byChannel[ch]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	history := make([]Message, 0, len(log))
	for _, msg := range log {
		history = append(history, copyMessage(msg))
	}
	return history, nil
}

// IncrementReaction bumps one reaction tally and returns the new count.
func (s *MemoryStore) IncrementReaction(ctx context.Context, messageID string, emoji string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return 0, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[strings.TrimSpace(messageID)]
	if !ok {
		return 0, ErrNotFound
	}
	if msg.Reactions == nil {
		msg.Reactions = make(map[string]int)
	}
	msg.Reactions[emoji]++
	return msg.Reactions[emoji], nil
}

func copyMessage(msg *Message) Message {
	out := *msg
	if len(msg.Reactions) > 0 {
		out.Reactions = make(map[string]int, len(msg.Reactions))
		for emoji, count := range msg.Reactions {
			out.Reactions[emoji] = count
		}
	} else {
		out.Reactions = nil
	}
	return out
}
