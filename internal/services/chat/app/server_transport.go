package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emberchat/ember/internal/platform/id"
	"github.com/emberchat/ember/internal/services/chat/archive"
	"github.com/emberchat/ember/internal/services/shared/authclient"
	"golang.org/x/net/websocket"
)

type wsIdentityContextKey struct{}

// NewHandler creates the chat routes: the health endpoint and the
// authenticated WebSocket surface.
func NewHandler(resolver identityResolver, oracle membershipOracle, store archive.Store) http.Handler {
	h := &chatHandler{
		resolver: resolver,
		oracle:   oracle,
		router:   newRouter(store),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(h.handleWSConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		accessToken := accessTokenFromRequest(r)
		if accessToken == "" {
			log.Printf("chat: websocket unauthorized: missing token for remote=%s", r.RemoteAddr)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		identity, err := h.resolver.Resolve(r.Context(), accessToken)
		if err != nil {
			if !errors.Is(err, authclient.ErrUnauthorized) {
				log.Printf("chat: websocket unauthorized: introspection failed for remote=%s err=%v", r.RemoteAddr, err)
			}
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), wsIdentityContextKey{}, identity)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

// accessTokenFromRequest reads the bearer credential from the Authorization
// header, falling back to the access_token query parameter for browser
// WebSocket clients that cannot set headers.
func accessTokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

type chatHandler struct {
	resolver identityResolver
	oracle   membershipOracle
	router   *router
}

func (h *chatHandler) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	identity, ok := request.Context().Value(wsIdentityContextKey{}).(authclient.Identity)
	if !ok || strings.TrimSpace(identity.ID) == "" {
		return
	}
	ctx := request.Context()

	sessionID, err := id.NewID()
	if err != nil {
		log.Printf("chat: assign session id: %v", err)
		return
	}
	peer := newWSPeer(json.NewEncoder(conn))
	session := &wsSession{
		id:     sessionID,
		userID: identity.ID,
		name:   identity.Username,
		color:  identity.Color,
		peer:   peer,
	}

	h.router.connect(ctx, session)
	defer func() {
		h.router.disconnect(session)
		peer.close()
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			log.Printf("chat: rate limit exceeded user=%q session=%s", session.userID, session.id)
			return
		}

		// Malformed, forbidden, and not-found events all drop silently.
		switch frame.Type {
		case "message":
			h.handleMessageFrame(ctx, session, frame)
		case "typing:start":
			h.handleTypingFrame(ctx, session, frame, true)
		case "typing:stop":
			h.handleTypingFrame(ctx, session, frame, false)
		case "reaction":
			h.handleReactionFrame(ctx, session, frame)
		case "room:join":
			h.handleRoomJoinFrame(ctx, session, frame)
		}
	}
}

// channelFor maps an optional room id onto a channel, or false when the
// caller may not act there. Oracle failures read as non-membership.
func (h *chatHandler) channelFor(ctx context.Context, session *wsSession, roomID int64) (archive.Channel, bool) {
	if roomID == 0 {
		return archive.General, true
	}
	if roomID < 0 {
		return archive.General, false
	}
	m, err := h.oracle.Membership(ctx, roomID, session.userID)
	if err != nil {
		log.Printf("chat: membership check room=%d user=%q: %v", roomID, session.userID, err)
		return archive.General, false
	}
	if !m.Member {
		return archive.General, false
	}
	return archive.Room(roomID), true
}

func (h *chatHandler) handleMessageFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload messagePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	body := strings.TrimSpace(payload.Content)
	if body == "" || utf8.RuneCountInString(body) > maxMessageBodyRunes {
		return
	}
	ch, ok := h.channelFor(ctx, session, payload.RoomID)
	if !ok {
		return
	}
	h.router.sendMessage(ctx, session, ch, body)
}

func (h *chatHandler) handleTypingFrame(ctx context.Context, session *wsSession, frame wsFrame, active bool) {
	var payload typingPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return
		}
	}
	ch, ok := h.channelFor(ctx, session, payload.RoomID)
	if !ok {
		return
	}
	h.router.setTyping(session, ch, active)
}

func (h *chatHandler) handleReactionFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload reactionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	messageID := strings.TrimSpace(payload.MessageID)
	emoji := strings.TrimSpace(payload.Emoji)
	if messageID == "" || emoji == "" {
		return
	}
	h.router.react(ctx, session, messageID, emoji)
}

func (h *chatHandler) handleRoomJoinFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload roomJoinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	if payload.RoomID <= 0 {
		return
	}
	m, err := h.oracle.Membership(ctx, payload.RoomID, session.userID)
	if err != nil {
		log.Printf("chat: membership check room=%d user=%q: %v", payload.RoomID, session.userID, err)
		return
	}
	if !m.Member {
		// Non-members learn nothing, not even that the room exists.
		return
	}
	h.router.joinRoom(ctx, session, payload.RoomID, m.CanSeeHistory)
}
