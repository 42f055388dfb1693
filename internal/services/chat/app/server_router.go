package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/emberchat/ember/internal/services/chat/archive"
)

// peerQueueDepth bounds each connection's outbound frame queue. Broadcasts
// are fire-and-forget; frames beyond the queue depth are dropped.
const peerQueueDepth = 64

type wsPeer struct {
	mu       sync.Mutex
	closed   bool
	outbound chan wsFrame
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	peer := &wsPeer{outbound: make(chan wsFrame, peerQueueDepth)}
	go func() {
		for frame := range peer.outbound {
			if err := encoder.Encode(frame); err != nil {
				return
			}
		}
	}()
	return peer
}

// send enqueues one frame without blocking. Frames to closed or saturated
// peers are dropped.
func (p *wsPeer) send(frame wsFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.outbound <- frame:
	default:
	}
}

func (p *wsPeer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.outbound)
}

// wsSession is the per-connection context: the resolved identity plus the
// outbound peer. The channel subscription set lives in the router index.
type wsSession struct {
	id     string
	userID string
	name   string
	color  string
	peer   *wsPeer
}

type presenceEntry struct {
	name  string
	color string
	conns int
}

// router owns all live session state: the connection table, the channel
// subscription index, presence, and typing sets. A single mutex linearizes
// every mutation; collaborator lookups happen before the lock is taken.
type router struct {
	mu       sync.Mutex
	store    archive.Store
	sessions map[*wsSession]struct{}
	subs     map[archive.Channel]map[*wsSession]struct{}
	presence map[string]*presenceEntry
	typing   map[archive.Channel][]string
}

func newRouter(store archive.Store) *router {
	return &router{
		store:    store,
		sessions: make(map[*wsSession]struct{}),
		subs:     make(map[archive.Channel]map[*wsSession]struct{}),
		presence: make(map[string]*presenceEntry),
		typing:   make(map[archive.Channel][]string),
	}
}

// connect registers the session, joins it to general, and delivers the
// general backlog to that connection only.
func (rt *router) connect(ctx context.Context, session *wsSession) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.sessions[session] = struct{}{}
	rt.subscribe(archive.General, session)

	entry, ok := rt.presence[session.userID]
	if !ok {
		entry = &presenceEntry{name: session.name, color: session.color}
		rt.presence[session.userID] = entry
	}
	entry.conns++
	entry.name = session.name
	entry.color = session.color

	rt.sendHistory(ctx, session, archive.General)
}

// disconnect releases all per-connection state. Idempotent.
func (rt *router) disconnect(session *wsSession) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.sessions[session]; !ok {
		return
	}
	delete(rt.sessions, session)
	for ch, members := range rt.subs {
		delete(members, session)
		if len(members) == 0 {
			delete(rt.subs, ch)
		}
	}

	if entry, ok := rt.presence[session.userID]; ok {
		entry.conns--
		if entry.conns <= 0 {
			delete(rt.presence, session.userID)
		}
	}

	for _, ch := range rt.typingChannels(session.userID) {
		rt.removeTyping(ch, session.userID)
		rt.broadcastTyping(ch)
	}
}

// sendMessage appends a validated message and fans it out to the channel's
// audience. Membership was checked by the transport before this call.
func (rt *router) sendMessage(ctx context.Context, session *wsSession, ch archive.Channel, body string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.sessions[session]; !ok {
		return
	}

	msg, err := rt.store.Append(ctx, ch, archive.Draft{
		AuthorID:    session.userID,
		AuthorName:  session.name,
		AuthorColor: session.color,
		Body:        body,
	})
	if err != nil {
		log.Printf("chat: append message channel=%d user=%q: %v", ch, session.userID, err)
		return
	}

	frame := wsFrame{Type: "message", Payload: mustJSON(toMessageRecord(msg))}
	for receiver := range rt.audience(ch) {
		receiver.peer.send(frame)
	}

	// Sending a message implicitly ends the author's typing signal there.
	if rt.removeTyping(ch, session.userID) {
		rt.broadcastTyping(ch)
	}
}

// setTyping adds or removes the user from the channel's typing set and
// broadcasts the updated display-name list to the channel's audience.
func (rt *router) setTyping(session *wsSession, ch archive.Channel, active bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.sessions[session]; !ok {
		return
	}

	if active {
		// A user types in at most one room at a time; general is tracked
		// independently.
		if ch.IsRoom() {
			for _, other := range rt.typingChannels(session.userID) {
				if other.IsRoom() && other != ch {
					rt.removeTyping(other, session.userID)
					rt.broadcastTyping(other)
				}
			}
		}
		if !rt.addTyping(ch, session.userID) {
			return
		}
	} else if !rt.removeTyping(ch, session.userID) {
		return
	}
	rt.broadcastTyping(ch)
}

// joinRoom subscribes the session to the room channel and delivers its
// backlog when the membership record grants history visibility. An empty
// backlog is sent otherwise; it is indistinguishable from an empty room.
func (rt *router) joinRoom(ctx context.Context, session *wsSession, roomID int64, canSeeHistory bool) {
	ch := archive.Room(roomID)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.sessions[session]; !ok {
		return
	}
	rt.subscribe(ch, session)

	if canSeeHistory {
		rt.sendHistory(ctx, session, ch)
		return
	}
	session.peer.send(wsFrame{Type: "history", Payload: mustJSON(historyPayload{
		RoomID:   roomID,
		Messages: []messageRecord{},
	})})
}

// react increments one reaction tally and broadcasts the new count to every
// connection regardless of channel.
func (rt *router) react(ctx context.Context, session *wsSession, messageID string, emoji string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.sessions[session]; !ok {
		return
	}
	count, err := rt.store.IncrementReaction(ctx, messageID, emoji)
	if err != nil {
		// Unknown messages drop silently.
		return
	}

	frame := wsFrame{Type: "reaction", Payload: mustJSON(reactionRecord{
		MessageID: messageID,
		Emoji:     emoji,
		Count:     count,
	})}
	for receiver := range rt.sessions {
		receiver.peer.send(frame)
	}
}

// The helpers below assume rt.mu is held.

func (rt *router) subscribe(ch archive.Channel, session *wsSession) {
	members, ok := rt.subs[ch]
	if !ok {
		members = make(map[*wsSession]struct{})
		rt.subs[ch] = members
	}
	members[session] = struct{}{}
}

// audience returns the sessions a channel-scoped broadcast reaches.
func (rt *router) audience(ch archive.Channel) map[*wsSession]struct{} {
	if ch.IsRoom() {
		return rt.subs[ch]
	}
	return rt.sessions
}

func (rt *router) sendHistory(ctx context.Context, session *wsSession, ch archive.Channel) {
	backlog, err := rt.store.History(ctx, ch, ch.HistoryLimit())
	if err != nil {
		log.Printf("chat: load history channel=%d: %v", ch, err)
		return
	}
	records := make([]messageRecord, 0, len(backlog))
	for _, msg := range backlog {
		records = append(records, toMessageRecord(msg))
	}
	session.peer.send(wsFrame{Type: "history", Payload: mustJSON(historyPayload{
		RoomID:   ch.RoomID(),
		Messages: records,
	})})
}

func (rt *router) addTyping(ch archive.Channel, userID string) bool {
	for _, existing := range rt.typing[ch] {
		if existing == userID {
			return false
		}
	}
	rt.typing[ch] = append(rt.typing[ch], userID)
	return true
}

func (rt *router) removeTyping(ch archive.Channel, userID string) bool {
	ids := rt.typing[ch]
	for i, existing := range ids {
		if existing != userID {
			continue
		}
		ids = append(ids[:i], ids[i+1:]...)
		if len(ids) == 0 {
			delete(rt.typing, ch)
		} else {
			rt.typing[ch] = ids
		}
		return true
	}
	return false
}

func (rt *router) typingChannels(userID string) []archive.Channel {
	var channels []archive.Channel
	for ch, ids := range rt.typing {
		for _, existing := range ids {
			if existing == userID {
				channels = append(channels, ch)
				break
			}
		}
	}
	return channels
}

// broadcastTyping sends the channel's typing display names, in insertion
// order, to the channel's audience. Ids that no longer resolve through
// presence are filtered out.
func (rt *router) broadcastTyping(ch archive.Channel) {
	names := make([]string, 0, len(rt.typing[ch]))
	for _, userID := range rt.typing[ch] {
		entry, ok := rt.presence[userID]
		if !ok {
			continue
		}
		names = append(names, entry.name)
	}
	frame := wsFrame{Type: "typing", Payload: mustJSON(names)}
	for receiver := range rt.audience(ch) {
		receiver.peer.send(frame)
	}
}
