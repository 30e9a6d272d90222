/*
Package signaling contains the core logic of the pairing server.

This file defines the Participant, an occupant of a room, and the Outbox
interface through which the coordinator delivers events to a participant's
live connection without knowing anything about the transport.
*/
package signaling

// Outbox is the delivery side of one live connection. Deliver must never
// block: implementations enqueue the event and return, dropping it if the
// connection cannot keep up. Kick asks the transport to close the
// connection, used when a reconnecting participant replaces it.
type Outbox interface {
	// ConnID returns the transport-level connection id, distinct from the
	// participant id.
	ConnID() string

	// Deliver queues an outbound event for the connection.
	Deliver(evt Event)

	// Kick closes the connection with the given reason.
	Kick(reason string)
}

// Participant represents one occupant of a room.
type Participant struct {
	// ID is the caller-supplied opaque participant id; the routing key
	// within a room.
	ID string

	// Name is the caller-supplied display name, used only for presentation
	// in relayed events.
	Name string

	// outbox is the live connection; exactly one per participant at a time.
	outbox Outbox
}

// NewParticipant binds an identity to a live connection outbox.
func NewParticipant(id, name string, outbox Outbox) *Participant {
	return &Participant{
		ID:     id,
		Name:   name,
		outbox: outbox,
	}
}
