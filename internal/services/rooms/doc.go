// Package rooms hosts the room directory: durable room definitions,
// membership records with history visibility, invite flows, and the
// membership query surface the chat service consults on every
// room-scoped event.
package rooms
