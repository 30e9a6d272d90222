/*
Package signaling contains the core logic of the pairing server.

This file defines the Coordinator, which exclusively owns the table of
active rooms. Rooms are created lazily on first join and deleted the
instant they become empty. The Coordinator mediates every room mutation;
the Registry only resolves a disconnecting connection back to an identity.
*/
package signaling

import (
	"sync"

	"github.com/rs/zerolog"

	"pairdesk/internal/pkg/logx"
)

// Coordinator owns the set of rooms and routes every inbound operation to
// the right room.
type Coordinator struct {
	// mu protects concurrent access to the rooms map.
	mu sync.RWMutex

	// rooms maps room id to the live Room instance.
	rooms map[string]*Room

	// registry resolves connection ids to identities on disconnect.
	registry *Registry

	// structured logger with Coordinator context.
	logger zerolog.Logger
}

// NewCoordinator constructs a Coordinator around the given Registry. The
// room table is owned by this instance, so multiple Coordinators can run
// side by side in tests.
func NewCoordinator(registry *Registry) *Coordinator {
	coordinatorLogger := logx.Logger().With().Str("component", "Coordinator").Logger()

	return &Coordinator{
		rooms:    make(map[string]*Room),
		registry: registry,
		logger:   coordinatorLogger,
	}
}

// Registry exposes the connection registry backing this Coordinator.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Join admits a participant into the room, lazily creating it. The room is
// re-fetched if it was closed between lookup and lock, so a join can never
// land in a torn-down room.
func (c *Coordinator) Join(roomID string, p *Participant) JoinStatus {
	for {
		room := c.getOrCreateRoom(roomID)

		status, ok := room.join(p)
		if ok {
			return status
		}
	}
}

// SendMessage appends a chat message to the room log and relays it to
// every occupant except the sender. Unknown room, empty content, and
// non-occupant senders are silent drops.
func (c *Coordinator) SendMessage(roomID, senderID, content string) {
	room := c.getRoom(roomID)
	if room == nil {
		c.logger.Warn().Str("room_id", roomID).Str("sender_id", senderID).Msg("Chat message for unknown room dropped.")
		return
	}

	room.sendMessage(senderID, content)
}

// RelayToPeer forwards an opaque negotiation payload to one target
// occupant of the room.
func (c *Coordinator) RelayToPeer(roomID, senderID, targetID string, kind NegotiationKind, payload []byte) RouteResult {
	room := c.getRoom(roomID)
	if room == nil {
		c.logger.Warn().Str("room_id", roomID).Str("sender_id", senderID).Msg("Negotiation payload for unknown room dropped.")
		return RouteTargetNotFound
	}

	return room.relayToPeer(senderID, targetID, kind, payload)
}

// RelayToOthers forwards an opaque negotiation payload to every occupant
// of the room except the sender.
func (c *Coordinator) RelayToOthers(roomID, senderID string, kind NegotiationKind, payload []byte) {
	room := c.getRoom(roomID)
	if room == nil {
		c.logger.Warn().Str("room_id", roomID).Str("sender_id", senderID).Msg("Negotiation payload for unknown room dropped.")
		return
	}

	room.relayToOthers(senderID, kind, payload)
}

// EndCall broadcasts a call-ended notification attributed to the sender.
func (c *Coordinator) EndCall(roomID, senderID string) {
	room := c.getRoom(roomID)
	if room == nil {
		return
	}

	room.endCall(senderID)
}

// Leave removes the participant from the room and tears the room down if
// it became empty. Idempotent: leaving an unknown room or a room the
// participant is not in is a no-op.
func (c *Coordinator) Leave(roomID, participantID string) {
	c.leaveConn(roomID, participantID, "")
}

// Disconnect resolves the connection to an identity and, if resolvable,
// behaves exactly like Leave restricted to that connection, then
// unregisters it. An unresolvable connection is the defined-safe no-op:
// disconnect may race arbitrarily with any in-flight operation.
func (c *Coordinator) Disconnect(connID string) {
	identity, ok := c.registry.Resolve(connID)
	if !ok {
		return
	}

	c.leaveConn(identity.RoomID, identity.ParticipantID, connID)
	c.registry.Unregister(connID)
}

// leaveConn removes the participant (optionally only when still bound to
// connID) and deletes the room when it empties.
func (c *Coordinator) leaveConn(roomID, participantID, connID string) {
	room := c.getRoom(roomID)
	if room == nil {
		return
	}

	if room.leave(participantID, connID) {
		c.removeRoom(room)
	}
}

// getRoom returns the live room for the id, or nil.
func (c *Coordinator) getRoom(roomID string) *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.rooms[roomID]
}

// getOrCreateRoom returns the live room for the id, replacing a closed
// entry with a fresh room so joins never race into a deleted one.
func (c *Coordinator) getOrCreateRoom(roomID string) *Room {
	c.mu.RLock()
	room, ok := c.rooms[roomID]
	c.mu.RUnlock()

	if ok && !room.isClosed() {
		return room
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if room, ok := c.rooms[roomID]; ok && !room.isClosed() {
		return room
	}

	room = newRoom(roomID)
	c.rooms[roomID] = room

	c.logger.Info().Str("room_id", roomID).Msg("Room created.")
	return room
}

// removeRoom deletes the room from the table if it is still the entry for
// its id. The room is already closed, so state discarded here includes the
// whole message log.
func (c *Coordinator) removeRoom(room *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.rooms[room.ID]; ok && current == room {
		delete(c.rooms, room.ID)
		c.logger.Info().Str("room_id", room.ID).Msg("Room emptied and deleted.")
	}
}

// GetRoom returns the live room for the id, or nil. Exposed for the
// transport layer and tests.
func (c *Coordinator) GetRoom(roomID string) *Room {
	return c.getRoom(roomID)
}

// RoomCount reports the number of live rooms.
func (c *Coordinator) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.rooms)
}

// Shutdown discards all room state. In-memory only: nothing survives the
// process anyway, so this exists for symmetry with server shutdown.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info().Int("rooms", len(c.rooms)).Msg("Coordinator shutting down. Discarding all rooms.")
	c.rooms = make(map[string]*Room)
}
