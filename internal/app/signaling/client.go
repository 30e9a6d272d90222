/*
Package signaling contains the core logic of the pairing server.

This file defines the Client, the WebSocket transport for one connection.
It runs the read and write pumps, dispatches inbound events to the
Coordinator, and implements the Outbox interface the rooms deliver through.
Delivery is enqueue-and-return on a bounded queue; a connection that cannot
keep up loses events rather than stalling room processing.
*/
package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pairdesk/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// maximum allowed size (in bytes) for chat message content.
	MaxContentBytes = 5000

	// size of the per-connection outbound queue.
	sendQueueSize = 256

	// WsCloseCodeSessionReplaced is a custom WebSocket Close Code
	// (4000-4999 range) signaling that the session was replaced by a new
	// connection for the same participant id.
	WsCloseCodeSessionReplaced = 4001

	// roomFullCloseDelay is how long the server keeps a rejected
	// connection open so the room-full notice flushes before the close.
	roomFullCloseDelay = time.Second
)

// Client represents one active WebSocket connection and its identity claims.
type Client struct {
	// connID is the transport-level connection id.
	connID string

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// identity holds the claims registered for this connection.
	identity Identity

	// coordinator receives every inbound operation from this connection.
	coordinator *Coordinator

	// send is the bounded queue of marshaled outbound events.
	send chan []byte

	// sendMu guards sendClosed so Deliver never writes to a closed queue.
	sendMu     sync.Mutex
	sendClosed bool

	// joined tracks whether this connection has completed room admission.
	// Touched only by the read pump goroutine.
	joined bool

	// structured logger with connection and room context.
	logger zerolog.Logger
}

// NewClient constructs a Client for an upgraded connection.
func NewClient(connID string, wsConn *websocket.Conn, identity Identity, coordinator *Coordinator) *Client {
	clientLogger := logx.Logger().With().
		Str("conn_id", connID).
		Str("participant_id", identity.ParticipantID).
		Str("room_id", identity.RoomID).
		Logger()

	return &Client{
		connID:      connID,
		conn:        wsConn,
		identity:    identity,
		coordinator: coordinator,
		send:        make(chan []byte, sendQueueSize),
		logger:      clientLogger,
	}
}

// ConnID implements Outbox.
func (c *Client) ConnID() string {
	return c.connID
}

// Deliver implements Outbox. It marshals the event and enqueues it without
// blocking; on a full or closed queue the event is dropped and logged.
func (c *Client) Deliver(evt Event) {
	messageBytes, err := json.Marshal(evt)
	if err != nil {
		c.logger.Error().Err(err).Str("event_type", string(evt.Type)).Msg("Error marshaling event for client")
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}

	select {
	case c.send <- messageBytes:
	default:
		c.logger.Warn().
			Str("event_type", string(evt.Type)).
			Int("queue_len", len(c.send)).
			Msg("Client send queue full, dropping event")
	}
}

// Kick implements Outbox. It sends a close frame announcing the session
// replacement and closes the underlying connection; the read pump then
// exits and runs the normal disconnect cleanup, which the room ignores as
// stale.
func (c *Client) Kick(reason string) {
	c.logger.Warn().
		Int("close_code", WsCloseCodeSessionReplaced).
		Str("reason", reason).
		Msg("Kicking connection.")

	closeMessage := websocket.FormatCloseMessage(WsCloseCodeSessionReplaced, reason)

	if err := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send close frame on kick.")
	}

	c.conn.Close()
}

// closeSend marks the outbound queue closed and closes it, terminating the
// write pump.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// ReadPump reads events from the WebSocket connection until it closes,
// handling heartbeats (Pong) and dispatching each event. On exit it runs
// the disconnect cleanup, which reconciles room state exactly like an
// explicit leave.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundEvent(messageBytes)
	}
}

// cleanupOnDisconnect reconciles server state when the read pump exits.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.coordinator.Disconnect(c.connID)

	c.closeSend()

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// processInboundEvent parses one raw inbound frame and dispatches it.
// Everything except join-room requires a completed admission first.
func (c *Client) processInboundEvent(messageBytes []byte) {
	var evt Event
	if err := json.Unmarshal(messageBytes, &evt); err != nil {
		c.logger.Warn().Err(err).
			Bytes("message_bytes", messageBytes).
			Msg("Client sent invalid JSON")
		return
	}

	if evt.Type == EventJoinRoom {
		c.handleJoinRoom()
		return
	}

	if !c.joined {
		c.logger.Warn().
			Str("event_type", string(evt.Type)).
			Msg("Event received before room admission, dropping")
		return
	}

	switch evt.Type {
	case EventSendMessage:
		c.handleSendMessage(evt.Payload)

	case EventCallOffer:
		c.handleCallOffer(evt.Payload)

	case EventCallAnswer:
		c.handleCallAnswer(evt.Payload)

	case EventIceCandidate:
		c.handleIceCandidate(evt.Payload)

	case EventEndCall:
		c.coordinator.EndCall(c.identity.RoomID, c.identity.ParticipantID)

	default:
		c.logger.Warn().Str("event_type", string(evt.Type)).Msg("Client sent unsupported event type")
	}
}

// handleJoinRoom performs room admission with the identity registered at
// connect time. The event's own payload is ignored: the handshake identity
// is the single source of truth, so the two can never disagree. A repeated
// join-room from the same connection replays state like a reconnect.
func (c *Client) handleJoinRoom() {
	p := NewParticipant(c.identity.ParticipantID, c.identity.DisplayName, c)

	status := c.coordinator.Join(c.identity.RoomID, p)

	if status == JoinRoomFull {
		c.logger.Info().Msg("Room is full. Notifying client and scheduling close.")

		evt, err := NewEvent(EventRoomFull, nil)
		if err == nil {
			c.Deliver(evt)
		}

		// Leave the socket open briefly so the notice flushes, then close.
		time.AfterFunc(roomFullCloseDelay, func() {
			c.conn.Close()
		})
		return
	}

	c.joined = true
}

// handleSendMessage validates the inbound chat payload and hands it to the
// coordinator. Malformed payloads are dropped silently per the relay's
// at-most-effort contract.
func (c *Client) handleSendMessage(payloadBytes json.RawMessage) {
	var payload SendMessagePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid send-message payload")
		return
	}

	if payload.SenderID == "" {
		c.logger.Warn().Msg("Chat message missing sender id, dropping")
		return
	}

	if len(payload.Content) > MaxContentBytes {
		c.logger.Warn().Int("content_bytes", len(payload.Content)).Msg("Chat message content too long, dropping")
		return
	}

	c.coordinator.SendMessage(c.identity.RoomID, payload.SenderID, payload.Content)
}

// handleCallOffer relays a targeted offer to the addressed peer.
func (c *Client) handleCallOffer(payloadBytes json.RawMessage) {
	var payload OfferPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid call-offer payload")
		return
	}

	if payload.To == "" || len(payload.Offer) == 0 {
		c.logger.Warn().Msg("Call offer missing target or offer, dropping")
		return
	}

	c.coordinator.RelayToPeer(c.identity.RoomID, c.identity.ParticipantID, payload.To, KindOffer, payload.Offer)
}

// handleCallAnswer relays an answer to the room's other occupant.
func (c *Client) handleCallAnswer(payloadBytes json.RawMessage) {
	var payload AnswerPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid call-answer payload")
		return
	}

	if len(payload.Answer) == 0 {
		c.logger.Warn().Msg("Call answer missing answer, dropping")
		return
	}

	c.coordinator.RelayToOthers(c.identity.RoomID, c.identity.ParticipantID, KindAnswer, payload.Answer)
}

// handleIceCandidate relays an ICE candidate to the room's other occupant.
func (c *Client) handleIceCandidate(payloadBytes json.RawMessage) {
	var payload CandidatePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid ice-candidate payload")
		return
	}

	if len(payload.Candidate) == 0 {
		c.logger.Warn().Msg("ICE candidate missing candidate, dropping")
		return
	}

	c.coordinator.RelayToOthers(c.identity.RoomID, c.identity.ParticipantID, KindCandidate, payload.Candidate)
}

// WritePump writes queued events from the send channel to the WebSocket
// connection and keeps the heartbeat alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage writes one queued frame. Returns false when the write
// pump should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends the periodic heartbeat Ping. Returns false when
// the write pump should terminate.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
