package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberchat/ember/internal/services/chat/archive"
	"github.com/emberchat/ember/internal/services/shared/authclient"
	"golang.org/x/net/websocket"
)

type wsTestFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsTestMessage struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	User    string `json:"user"`
	Color   string `json:"color"`
	Content string `json:"content"`
	RoomID  int64  `json:"roomId"`
}

type wsTestHistory struct {
	RoomID   int64           `json:"roomId"`
	Messages []wsTestMessage `json:"messages"`
}

type wsTestReaction struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Count     int    `json:"count"`
}

type fakeResolver struct {
	identities map[string]authclient.Identity
}

func (f fakeResolver) Resolve(_ context.Context, accessToken string) (authclient.Identity, error) {
	identity, ok := f.identities[strings.TrimSpace(accessToken)]
	if !ok {
		return authclient.Identity{}, authclient.ErrUnauthorized
	}
	return identity, nil
}

type fakeOracle struct {
	members map[int64]map[string]membership
}

func (f fakeOracle) Membership(_ context.Context, roomID int64, userID string) (membership, error) {
	return f.members[roomID][userID], nil
}

func testResolver() fakeResolver {
	return fakeResolver{identities: map[string]authclient.Identity{
		"token-a": {ID: "user-a", Username: "ada", Color: "#3498db"},
		"token-b": {ID: "user-b", Username: "bert", Color: "#e74c3c"},
		"token-c": {ID: "user-c", Username: "cleo"},
	}}
}

func newChatServer(t *testing.T, oracle membershipOracle, store archive.Store) *httptest.Server {
	t.Helper()
	if store == nil {
		store = archive.NewMemoryStore()
	}
	srv := httptest.NewServer(NewHandler(testResolver(), oracle, store))
	t.Cleanup(srv.Close)
	return srv
}

func dialChat(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, err := dialChatErr(srv, token)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func dialChatErr(srv *httptest.Server, token string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, srv.URL)
	if err != nil {
		return nil, err
	}
	if token != "" {
		cfg.Header = make(http.Header)
		cfg.Header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DialConfig(cfg)
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(300 * time.Millisecond))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err == nil {
		t.Fatalf("unexpected frame: type=%q payload=%s", got.Type, string(got.Payload))
	}
	_ = conn.SetDeadline(time.Time{})
}

func readHistory(t *testing.T, conn *websocket.Conn) wsTestHistory {
	t.Helper()
	got := readFrame(t, conn)
	if got.Type != "history" {
		t.Fatalf("frame type = %q, want history", got.Type)
	}
	var history wsTestHistory
	if err := json.Unmarshal(got.Payload, &history); err != nil {
		t.Fatalf("decode history payload: %v", err)
	}
	return history
}

func readMessage(t *testing.T, conn *websocket.Conn) wsTestMessage {
	t.Helper()
	got := readFrame(t, conn)
	if got.Type != "message" {
		t.Fatalf("frame type = %q, want message", got.Type)
	}
	var msg wsTestMessage
	if err := json.Unmarshal(got.Payload, &msg); err != nil {
		t.Fatalf("decode message payload: %v", err)
	}
	return msg
}

func readTyping(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	got := readFrame(t, conn)
	if got.Type != "typing" {
		t.Fatalf("frame type = %q, want typing", got.Type)
	}
	var names []string
	if err := json.Unmarshal(got.Payload, &names); err != nil {
		t.Fatalf("decode typing payload: %v", err)
	}
	return names
}

func readReaction(t *testing.T, conn *websocket.Conn) wsTestReaction {
	t.Helper()
	got := readFrame(t, conn)
	if got.Type != "reaction" {
		t.Fatalf("frame type = %q, want reaction", got.Type)
	}
	var reaction wsTestReaction
	if err := json.Unmarshal(got.Payload, &reaction); err != nil {
		t.Fatalf("decode reaction payload: %v", err)
	}
	return reaction
}

// dialAndDrain opens a connection and consumes the initial general backlog.
func dialAndDrain(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn := dialChat(t, srv, token)
	readHistory(t, conn)
	return conn
}

func TestWebSocketHandshakeRequiresToken(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	if _, err := dialChatErr(srv, ""); err == nil {
		t.Fatal("expected handshake failure without token")
	}
	if _, err := dialChatErr(srv, "token-bogus"); err == nil {
		t.Fatal("expected handshake failure for unknown token")
	}
}

func TestWebSocketHandshakeQueryParamToken(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=token-a"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	history := readHistory(t, conn)
	if history.RoomID != 0 {
		t.Errorf("general history roomId = %d, want 0", history.RoomID)
	}
}

func TestConnectDeliversGeneralBacklog(t *testing.T) {
	store := archive.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, archive.General, archive.Draft{
			AuthorID:   "user-a",
			AuthorName: "ada",
			Body:       fmt.Sprintf("earlier %d", i),
		}); err != nil {
			t.Fatalf("seed archive: %v", err)
		}
	}
	srv := newChatServer(t, fakeOracle{}, store)

	conn := dialChat(t, srv, "token-b")
	history := readHistory(t, conn)
	if len(history.Messages) != 3 {
		t.Fatalf("backlog length = %d, want 3", len(history.Messages))
	}
	for i, msg := range history.Messages {
		if want := fmt.Sprintf("earlier %d", i); msg.Content != want {
			t.Errorf("backlog[%d] = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestGeneralMessageReachesAllConnections(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	writeFrame(t, connA, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "hello everyone"},
	})

	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := readMessage(t, conn)
		if msg.Content != "hello everyone" {
			t.Errorf("content = %q", msg.Content)
		}
		if msg.UserID != "user-a" || msg.User != "ada" || msg.Color != "#3498db" {
			t.Errorf("author = %q %q %q", msg.UserID, msg.User, msg.Color)
		}
		if msg.RoomID != 0 {
			t.Errorf("roomId = %d, want omitted/0", msg.RoomID)
		}
		if msg.ID == "" {
			t.Error("empty message id")
		}
	}
}

func roomOracle() fakeOracle {
	return fakeOracle{members: map[int64]map[string]membership{
		7: {
			"user-a": {Member: true, CanSeeHistory: true},
			"user-c": {Member: true, CanSeeHistory: false},
		},
	}}
}

func TestRoomJoinMemberVersusNonMember(t *testing.T) {
	store := archive.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Append(ctx, archive.Room(7), archive.Draft{AuthorID: "user-a", AuthorName: "ada", Body: "room backlog"}); err != nil {
		t.Fatalf("seed archive: %v", err)
	}
	srv := newChatServer(t, roomOracle(), store)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	writeFrame(t, connA, map[string]any{
		"type":    "room:join",
		"payload": map[string]any{"roomId": 7},
	})
	history := readHistory(t, connA)
	if history.RoomID != 7 {
		t.Fatalf("history roomId = %d, want 7", history.RoomID)
	}
	if len(history.Messages) != 1 || history.Messages[0].Content != "room backlog" {
		t.Fatalf("history = %+v", history.Messages)
	}

	// The non-member gets no response at all to the same join.
	writeFrame(t, connB, map[string]any{
		"type":    "room:join",
		"payload": map[string]any{"roomId": 7},
	})
	expectNoFrame(t, connB)

	// And receives no room-scoped broadcasts thereafter.
	writeFrame(t, connA, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "members only", "roomId": 7},
	})
	msg := readMessage(t, connA)
	if msg.RoomID != 7 {
		t.Errorf("message roomId = %d", msg.RoomID)
	}
	expectNoFrame(t, connB)
}

func TestRoomJoinWithoutHistoryRights(t *testing.T) {
	store := archive.NewMemoryStore()
	if _, err := store.Append(context.Background(), archive.Room(7), archive.Draft{AuthorID: "user-a", Body: "secret"}); err != nil {
		t.Fatalf("seed archive: %v", err)
	}
	srv := newChatServer(t, roomOracle(), store)

	connC := dialAndDrain(t, srv, "token-c")
	writeFrame(t, connC, map[string]any{
		"type":    "room:join",
		"payload": map[string]any{"roomId": 7},
	})

	history := readHistory(t, connC)
	if history.RoomID != 7 {
		t.Fatalf("history roomId = %d, want 7", history.RoomID)
	}
	if len(history.Messages) != 0 {
		t.Fatalf("backlog leaked to member without history rights: %+v", history.Messages)
	}
}

func TestRoomMessageReachesOnlyJoinedConnections(t *testing.T) {
	srv := newChatServer(t, roomOracle(), nil)

	connA := dialAndDrain(t, srv, "token-a")
	connC := dialAndDrain(t, srv, "token-c")
	connB := dialAndDrain(t, srv, "token-b")

	for _, conn := range []*websocket.Conn{connA, connC} {
		writeFrame(t, conn, map[string]any{
			"type":    "room:join",
			"payload": map[string]any{"roomId": 7},
		})
		readHistory(t, conn)
	}

	writeFrame(t, connA, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "room chatter", "roomId": 7},
	})

	for _, conn := range []*websocket.Conn{connA, connC} {
		msg := readMessage(t, conn)
		if msg.Content != "room chatter" || msg.RoomID != 7 {
			t.Errorf("msg = %+v", msg)
		}
	}
	expectNoFrame(t, connB)
}

func TestNonMemberRoomEventsHaveNoEffect(t *testing.T) {
	srv := newChatServer(t, roomOracle(), nil)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	writeFrame(t, connA, map[string]any{
		"type":    "room:join",
		"payload": map[string]any{"roomId": 7},
	})
	readHistory(t, connA)

	writeFrame(t, connB, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "sneaky", "roomId": 7},
	})
	writeFrame(t, connB, map[string]any{
		"type":    "typing:start",
		"payload": map[string]any{"roomId": 7},
	})

	expectNoFrame(t, connA)
	expectNoFrame(t, connB)
}

func TestTypingLifecycle(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	writeFrame(t, connA, map[string]any{"type": "typing:start", "payload": map[string]any{}})
	for _, conn := range []*websocket.Conn{connA, connB} {
		if names := readTyping(t, conn); len(names) != 1 || names[0] != "ada" {
			t.Fatalf("typing = %v, want [ada]", names)
		}
	}

	// Insertion order is stable.
	writeFrame(t, connB, map[string]any{"type": "typing:start", "payload": map[string]any{}})
	for _, conn := range []*websocket.Conn{connA, connB} {
		if names := readTyping(t, conn); len(names) != 2 || names[0] != "ada" || names[1] != "bert" {
			t.Fatalf("typing = %v, want [ada bert]", names)
		}
	}

	// Duplicate start is a no-op.
	writeFrame(t, connA, map[string]any{"type": "typing:start", "payload": map[string]any{}})
	expectNoFrame(t, connA)

	writeFrame(t, connA, map[string]any{"type": "typing:stop", "payload": map[string]any{}})
	for _, conn := range []*websocket.Conn{connA, connB} {
		if names := readTyping(t, conn); len(names) != 1 || names[0] != "bert" {
			t.Fatalf("typing = %v, want [bert]", names)
		}
	}
}

func TestTypingClearedOnDisconnect(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	writeFrame(t, connA, map[string]any{"type": "typing:start", "payload": map[string]any{}})
	if names := readTyping(t, connB); len(names) != 1 {
		t.Fatalf("typing = %v", names)
	}

	_ = connA.Close()

	if names := readTyping(t, connB); len(names) != 0 {
		t.Fatalf("typing after disconnect = %v, want empty", names)
	}
}

func TestTypingClearedOnMessageSend(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	writeFrame(t, connA, map[string]any{"type": "typing:start", "payload": map[string]any{}})
	readTyping(t, connA)
	readTyping(t, connB)

	writeFrame(t, connA, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "done typing"},
	})

	for _, conn := range []*websocket.Conn{connA, connB} {
		readMessage(t, conn)
		if names := readTyping(t, conn); len(names) != 0 {
			t.Fatalf("typing after send = %v, want empty", names)
		}
	}
}

func TestTypingMovesBetweenRooms(t *testing.T) {
	oracle := fakeOracle{members: map[int64]map[string]membership{
		7: {"user-a": {Member: true, CanSeeHistory: true}},
		8: {"user-a": {Member: true, CanSeeHistory: true}},
	}}
	srv := newChatServer(t, oracle, nil)

	connA := dialAndDrain(t, srv, "token-a")
	for _, roomID := range []int{7, 8} {
		writeFrame(t, connA, map[string]any{
			"type":    "room:join",
			"payload": map[string]any{"roomId": roomID},
		})
		readHistory(t, connA)
	}

	writeFrame(t, connA, map[string]any{"type": "typing:start", "payload": map[string]any{"roomId": 7}})
	if names := readTyping(t, connA); len(names) != 1 {
		t.Fatalf("typing = %v", names)
	}

	// Starting in another room moves the indicator: first the old room's
	// emptied list, then the new room's.
	writeFrame(t, connA, map[string]any{"type": "typing:start", "payload": map[string]any{"roomId": 8}})
	if names := readTyping(t, connA); len(names) != 0 {
		t.Fatalf("old room typing = %v, want empty", names)
	}
	if names := readTyping(t, connA); len(names) != 1 || names[0] != "ada" {
		t.Fatalf("new room typing = %v, want [ada]", names)
	}
}

func TestReactionBroadcastsGlobally(t *testing.T) {
	srv := newChatServer(t, roomOracle(), nil)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	writeFrame(t, connA, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "react to me"},
	})
	msg := readMessage(t, connA)
	readMessage(t, connB)

	writeFrame(t, connB, map[string]any{
		"type":    "reaction",
		"payload": map[string]any{"messageId": msg.ID, "emoji": "👍"},
	})
	for _, conn := range []*websocket.Conn{connA, connB} {
		reaction := readReaction(t, conn)
		if reaction.MessageID != msg.ID || reaction.Emoji != "👍" || reaction.Count != 1 {
			t.Fatalf("reaction = %+v", reaction)
		}
	}

	writeFrame(t, connA, map[string]any{
		"type":    "reaction",
		"payload": map[string]any{"messageId": msg.ID, "emoji": "👍"},
	})
	for _, conn := range []*websocket.Conn{connA, connB} {
		if reaction := readReaction(t, conn); reaction.Count != 2 {
			t.Fatalf("count = %d, want 2", reaction.Count)
		}
	}
}

func TestReactionUnknownMessageDropped(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	conn := dialAndDrain(t, srv, "token-a")
	writeFrame(t, conn, map[string]any{
		"type":    "reaction",
		"payload": map[string]any{"messageId": "missing", "emoji": "👍"},
	})
	expectNoFrame(t, conn)
}

func TestConcurrentReactionsAreMonotonic(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	writeFrame(t, connA, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "race target"},
	})
	msg := readMessage(t, connA)
	readMessage(t, connB)

	var wg sync.WaitGroup
	for _, conn := range []*websocket.Conn{connA, connB} {
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			_ = json.NewEncoder(conn).Encode(map[string]any{
				"type":    "reaction",
				"payload": map[string]any{"messageId": msg.ID, "emoji": "🔥"},
			})
		}(conn)
	}
	wg.Wait()

	// Every observer sees 1 then 2, never 2 then 1.
	for _, conn := range []*websocket.Conn{connA, connB} {
		first := readReaction(t, conn)
		second := readReaction(t, conn)
		if first.Count != 1 || second.Count != 2 {
			t.Fatalf("observed counts %d then %d, want 1 then 2", first.Count, second.Count)
		}
	}
}

func TestMalformedEventsDroppedSilently(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	conn := dialAndDrain(t, srv, "token-a")

	writeFrame(t, conn, map[string]any{"type": "message", "payload": map[string]any{"content": "   "}})
	writeFrame(t, conn, map[string]any{"type": "reaction", "payload": map[string]any{"messageId": "", "emoji": ""}})
	writeFrame(t, conn, map[string]any{"type": "room:join", "payload": map[string]any{"roomId": -1}})
	writeFrame(t, conn, map[string]any{"type": "bogus", "payload": map[string]any{}})
	expectNoFrame(t, conn)

	// The connection stays usable afterwards.
	writeFrame(t, conn, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "still alive"},
	})
	if msg := readMessage(t, conn); msg.Content != "still alive" {
		t.Fatalf("content = %q", msg.Content)
	}
}

func TestDisconnectOtherConnectionsUnaffected(t *testing.T) {
	srv := newChatServer(t, fakeOracle{}, nil)

	connA := dialAndDrain(t, srv, "token-a")
	connB := dialAndDrain(t, srv, "token-b")

	_ = connA.Close()

	writeFrame(t, connB, map[string]any{
		"type":    "message",
		"payload": map[string]any{"content": "after a left"},
	})
	if msg := readMessage(t, connB); msg.Content != "after a left" {
		t.Fatalf("content = %q", msg.Content)
	}
}
