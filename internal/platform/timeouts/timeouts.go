// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// HTTPClient caps the total time for one collaborator HTTP request.
const HTTPClient = 5 * time.Second

// Introspect caps the wait for a single token introspection call.
const Introspect = 3 * time.Second

// MembershipQuery caps the wait for a single room membership lookup.
const MembershipQuery = 3 * time.Second
