/*
Package randx provides generators for unique identifiers used across the
signaling server: message ids and connection ids.
*/
package randx

import "github.com/google/uuid"

// MessageID generates a UUID v4 string used as the unique id of a chat message.
func MessageID() string {
	return uuid.New().String()
}

// ConnectionID generates a UUID v4 string identifying a single live
// WebSocket connection. Connection identity is distinct from participant
// identity: one participant may reconnect on a new connection id.
func ConnectionID() string {
	return uuid.New().String()
}
