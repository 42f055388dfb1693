// Package server hosts the chat HTTP/WebSocket process: the session router,
// presence registry, typing aggregator, and the archive-backed history
// surface. Identity and room membership live in the auth and rooms services;
// this process only queries them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/emberchat/ember/internal/platform/timeouts"
	"github.com/emberchat/ember/internal/services/chat/archive"
	archivesqlite "github.com/emberchat/ember/internal/services/chat/archive/sqlite"
	"github.com/emberchat/ember/internal/services/shared/authclient"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes = 2000
)

// Config defines the inputs for the chat transport boundary.
type Config struct {
	HTTPAddr          string
	AuthBaseURL       string
	RoomsBaseURL      string
	ResourceSecret    string
	ArchivePath       string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the chat HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	archiveStore    *archivesqlite.Store
}

// wsFrame is the wire envelope for every inbound and outbound event.
type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type messagePayload struct {
	Content string `json:"content"`
	RoomID  int64  `json:"roomId,omitempty"`
}

type typingPayload struct {
	RoomID int64 `json:"roomId,omitempty"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type roomJoinPayload struct {
	RoomID int64 `json:"roomId"`
}

// messageRecord is the outbound message shape. roomId is omitted for the
// general channel.
type messageRecord struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	User      string         `json:"user"`
	Color     string         `json:"color,omitempty"`
	Content   string         `json:"content"`
	RoomID    int64          `json:"roomId,omitempty"`
	CreatedAt string         `json:"createdAt"`
	Reactions map[string]int `json:"reactions,omitempty"`
}

type reactionRecord struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Count     int    `json:"count"`
}

type historyPayload struct {
	RoomID   int64           `json:"roomId,omitempty"`
	Messages []messageRecord `json:"messages"`
}

func toMessageRecord(msg archive.Message) messageRecord {
	return messageRecord{
		ID:        msg.ID,
		UserID:    msg.AuthorID,
		User:      msg.AuthorName,
		Color:     msg.AuthorColor,
		Content:   msg.Body,
		RoomID:    msg.Channel.RoomID(),
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		Reactions: msg.Reactions,
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("chat: marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

// NewServer builds a configured chat server wired to the auth and rooms
// services. An empty ArchivePath selects the in-memory archive.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	resolver := authclient.New(config.AuthBaseURL, config.ResourceSecret)
	if resolver == nil {
		return nil, errors.New("auth base url and resource secret are required")
	}
	oracle := newRoomsOracle(config.RoomsBaseURL, config.ResourceSecret)
	if oracle == nil {
		return nil, errors.New("rooms base url and resource secret are required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	var store archive.Store = archive.NewMemoryStore()
	var archiveStore *archivesqlite.Store
	if strings.TrimSpace(config.ArchivePath) != "" {
		opened, err := archivesqlite.Open(config.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("open chat archive: %w", err)
		}
		archiveStore = opened
		store = opened
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(resolver, oracle, store),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		archiveStore:    archiveStore,
	}, nil
}

// Run creates and serves a chat server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init chat server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve chat: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("chat server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("chat server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.archiveStore != nil {
		if err := s.archiveStore.Close(); err != nil {
			log.Printf("close chat archive: %v", err)
		}
	}
}
