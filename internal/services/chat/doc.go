// Package chat hosts the real-time messaging surface: the WebSocket
// session router, typing indicators, presence tracking, reactions, and
// the message archive that backs history replay on connect and join.
package chat
