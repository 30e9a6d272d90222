/*
Package signaling contains the core logic of the pairing server.

This file defines the Room, the capacity-2 coordination unit. A single
mutex serializes every operation on one room, which is what guarantees the
occupancy invariant and the message ordering guarantee; operations on
different rooms share nothing and run fully in parallel. Delivery to an
occupant is a non-blocking enqueue on its Outbox, so a slow connection
never stalls the room.
*/
package signaling

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"pairdesk/internal/pkg/logx"
)

// MaxOccupants is the hard capacity limit of every room: sessions pair
// exactly two participants.
const MaxOccupants = 2

// JoinStatus is the explicit result of an admission attempt.
type JoinStatus int

const (
	// JoinAdmitted means the participant was inserted as a new occupant.
	JoinAdmitted JoinStatus = iota

	// JoinReconnected means the participant id was already present and its
	// connection was replaced, last-writer-wins.
	JoinReconnected

	// JoinRoomFull means the room already holds two distinct participant
	// ids; no state was mutated.
	JoinRoomFull
)

// RouteResult is the outcome of a targeted negotiation relay.
type RouteResult int

const (
	// RouteDelivered means the payload was forwarded to the target exactly
	// once, with no retry.
	RouteDelivered RouteResult = iota

	// RouteTargetNotFound means the target id is not an occupant; nothing
	// was sent. This is the common legitimate case of a peer that already
	// disconnected mid-negotiation.
	RouteTargetNotFound
)

// Room is a single ephemeral pairing session.
type Room struct {
	// ID is the caller-supplied opaque room id.
	ID string

	// mu serializes all operations on this room.
	mu sync.Mutex

	// occupants maps participant id to Participant, size 0..2.
	occupants map[string]*Participant

	// log is the ordered chat history, replayed in full to late joiners
	// and discarded with the room.
	log []ChatMessage

	// closed marks a room that became empty and was handed back to the
	// coordinator for deletion. A closed room admits nobody; the
	// coordinator creates a fresh one instead.
	closed bool

	// structured logger with room context.
	logger zerolog.Logger
}

// newRoom creates an empty Room.
func newRoom(roomID string) *Room {
	roomLogger := logx.Logger().With().
		Str("room_id", roomID).
		Logger()

	return &Room{
		ID:        roomID,
		occupants: make(map[string]*Participant),
		logger:    roomLogger,
	}
}

// join admits the participant, replaces its connection on reconnect, or
// rejects on capacity. The second return value is false when the room is
// already closed and the caller must retry against a fresh room.
//
// On admission and reconnection the joining connection receives, in order:
// the connected ack, a user-joined event per current occupant, and the full
// message log. A fresh admission additionally announces the newcomer to the
// existing occupant, completing the pairing announcement in both directions.
func (r *Room) join(p *Participant) (JoinStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinAdmitted, false
	}

	existing, reconnect := r.occupants[p.ID]

	if !reconnect && len(r.occupants) >= MaxOccupants {
		r.logger.Info().
			Str("participant_id", p.ID).
			Msg("Join rejected, room is full.")
		return JoinRoomFull, true
	}

	if reconnect && existing.outbox.ConnID() != p.outbox.ConnID() {
		r.logger.Info().
			Str("participant_id", p.ID).
			Str("stale_conn_id", existing.outbox.ConnID()).
			Msg("Participant reconnected. Replacing connection, last-writer-wins.")
		existing.outbox.Kick("Session replaced by a new connection.")
	}

	r.occupants[p.ID] = p

	if len(r.occupants) > MaxOccupants {
		panic(fmt.Sprintf("room %s occupancy invariant violated: %d occupants", r.ID, len(r.occupants)))
	}

	r.deliverTo(p, EventConnected, nil)

	for id, other := range r.occupants {
		if id == p.ID {
			continue
		}
		r.deliverTo(p, EventUserJoined, UserEventPayload{ID: other.ID, Name: other.Name})
	}

	for _, msg := range r.log {
		r.deliverTo(p, EventMessage, msg)
	}

	status := JoinReconnected
	if !reconnect {
		status = JoinAdmitted
		r.deliverExcept(p.ID, EventUserJoined, UserEventPayload{ID: p.ID, Name: p.Name})
	}

	r.logger.Info().
		Str("participant_id", p.ID).
		Int("occupants", len(r.occupants)).
		Bool("reconnect", reconnect).
		Msg("Participant joined room.")

	return status, true
}

// sendMessage validates, appends, and relays one chat message. Empty
// content or an unknown sender is a silent drop: the message is neither
// appended nor relayed, and no notice goes back to the sender.
func (r *Room) sendMessage(senderID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.occupants[senderID]
	if content == "" || !ok {
		r.logger.Warn().
			Str("sender_id", senderID).
			Bool("sender_present", ok).
			Msg("Dropping malformed chat message.")
		return
	}

	msg := newChatMessage(senderID, sender.Name, content)
	r.log = append(r.log, msg)

	r.deliverExcept(senderID, EventMessage, msg)
}

// relayToPeer forwards an opaque negotiation payload to one target
// occupant, exactly once. An absent target is reported, not an error.
func (r *Room) relayToPeer(senderID, targetID string, kind NegotiationKind, payload []byte) RouteResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.occupants[targetID]
	if !ok {
		r.logger.Warn().
			Str("sender_id", senderID).
			Str("target_id", targetID).
			Str("kind", string(kind)).
			Msg("Negotiation target not found. Dropping payload.")
		return RouteTargetNotFound
	}

	evt, err := newNegotiationEvent(kind, senderID, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", string(kind)).Msg("Failed to build negotiation event.")
		return RouteTargetNotFound
	}

	target.outbox.Deliver(evt)
	return RouteDelivered
}

// relayToOthers forwards an opaque negotiation payload to every occupant
// except the sender. With two-party rooms that is the single peer, if any.
func (r *Room) relayToOthers(senderID string, kind NegotiationKind, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	evt, err := newNegotiationEvent(kind, senderID, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", string(kind)).Msg("Failed to build negotiation event.")
		return
	}

	for id, occupant := range r.occupants {
		if id != senderID {
			occupant.outbox.Deliver(evt)
		}
	}
}

// endCall notifies the other occupant(s) that the sender ended the call.
// Membership is untouched: ending a call is orthogonal to leaving the room.
func (r *Room) endCall(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deliverExcept(senderID, EventCallEnded, CallEndedPayload{From: senderID})
}

// leave removes the participant if present and notifies the remaining
// occupant. connID restricts the removal to the connection that currently
// owns the participant entry, so a stale connection's disconnect never
// evicts a reconnected participant; an empty connID removes
// unconditionally (explicit leave). Returns true when the room became
// empty and was closed.
func (r *Room) leave(participantID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.occupants[participantID]
	if !ok {
		return false
	}

	if connID != "" && p.outbox.ConnID() != connID {
		r.logger.Info().
			Str("participant_id", participantID).
			Str("stale_conn_id", connID).
			Msg("Ignoring leave for stale connection.")
		return false
	}

	delete(r.occupants, participantID)

	r.deliverExcept(participantID, EventUserLeft, UserEventPayload{ID: p.ID, Name: p.Name})

	r.logger.Info().
		Str("participant_id", participantID).
		Int("occupants", len(r.occupants)).
		Msg("Participant left room.")

	if len(r.occupants) == 0 {
		r.closed = true
		return true
	}

	return false
}

// deliverTo builds an event and queues it for a single participant.
// Must be called with r.mu held.
func (r *Room) deliverTo(p *Participant, eventType EventType, payload any) {
	evt, err := NewEvent(eventType, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to build event.")
		return
	}
	p.outbox.Deliver(evt)
}

// deliverExcept builds an event and queues it for every occupant except
// the given participant id. Must be called with r.mu held.
func (r *Room) deliverExcept(exceptID string, eventType EventType, payload any) {
	evt, err := NewEvent(eventType, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to build event.")
		return
	}

	for id, occupant := range r.occupants {
		if id != exceptID {
			occupant.outbox.Deliver(evt)
		}
	}
}

// isClosed reports whether the room was emptied and closed.
func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// OccupantIDs returns the ids of the current occupants.
func (r *Room) OccupantIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.occupants))
	for id := range r.occupants {
		ids = append(ids, id)
	}
	return ids
}

// LogLen reports the number of messages in the room's chat log.
func (r *Room) LogLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.log)
}
