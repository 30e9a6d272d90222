/*
Package signaling contains the core logic of the pairing server: room
membership, two-party capacity enforcement, chat relay with replay, and
WebRTC negotiation relay between the two occupants of a room.

This file defines the wire event envelope and the typed payloads exchanged
with clients over the WebSocket connection.
*/
package signaling

import (
	"encoding/json"
	"time"

	"pairdesk/internal/pkg/randx"
)

// EventType identifies a wire event.
type EventType string

// Inbound (client to server) event types.
const (
	EventJoinRoom     EventType = "join-room"
	EventSendMessage  EventType = "send-message"
	EventCallOffer    EventType = "call-offer"
	EventCallAnswer   EventType = "call-answer"
	EventIceCandidate EventType = "ice-candidate"
	EventEndCall      EventType = "end-call"
)

// Outbound (server to client) event types. EventCallOffer, EventCallAnswer
// and EventIceCandidate are reused in both directions.
const (
	EventConnected  EventType = "connected"
	EventRoomFull   EventType = "room-full"
	EventUserJoined EventType = "user-joined"
	EventUserLeft   EventType = "user-left"
	EventMessage    EventType = "message"
	EventCallEnded  EventType = "call-ended"
)

// Event is the JSON envelope for every message in either direction.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event envelope. A nil payload produces
// an event with no payload field (connected, room-full).
func NewEvent(eventType EventType, payload any) (Event, error) {
	evt := Event{Type: eventType}

	if payload == nil {
		return evt, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	evt.Payload = raw
	return evt, nil
}

// UserEventPayload carries the identity of a participant for user-joined
// and user-left events.
type UserEventPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChatMessage is the authoritative record of one chat message: the form it
// is stored in the room log and relayed to occupants.
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

// newChatMessage builds the stored record for a validated inbound message,
// assigning the server-side id and timestamp.
func newChatMessage(senderID, senderName, content string) ChatMessage {
	return ChatMessage{
		ID:         randx.MessageID(),
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// SendMessagePayload is the inbound payload of a send-message event.
type SendMessagePayload struct {
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
}

// OfferPayload is the inbound payload of a call-offer event. The offer is
// opaque SDP data; the server never inspects it.
type OfferPayload struct {
	To    string          `json:"to"`
	Offer json.RawMessage `json:"offer"`
}

// AnswerPayload is the inbound payload of a call-answer event.
type AnswerPayload struct {
	Answer json.RawMessage `json:"answer"`
}

// CandidatePayload is the inbound payload of an ice-candidate event.
type CandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
}

// CallEndedPayload is the outbound payload of a call-ended event.
type CallEndedPayload struct {
	From string `json:"from"`
}

// NegotiationKind distinguishes the three relayed WebRTC payload kinds.
type NegotiationKind string

const (
	KindOffer     NegotiationKind = "offer"
	KindAnswer    NegotiationKind = "answer"
	KindCandidate NegotiationKind = "candidate"
)

// NegotiationPayload is the outbound payload of a relayed negotiation
// event. Exactly one of Offer, Answer, or Candidate is set, matching the
// event type.
type NegotiationPayload struct {
	From      string          `json:"from"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// newNegotiationEvent builds the outbound relay event for a negotiation
// payload, selecting the event type and payload field from the kind.
func newNegotiationEvent(kind NegotiationKind, from string, payload json.RawMessage) (Event, error) {
	negotiation := NegotiationPayload{From: from}

	var eventType EventType

	switch kind {
	case KindOffer:
		eventType = EventCallOffer
		negotiation.Offer = payload
	case KindAnswer:
		eventType = EventCallAnswer
		negotiation.Answer = payload
	case KindCandidate:
		eventType = EventIceCandidate
		negotiation.Candidate = payload
	}

	return NewEvent(eventType, negotiation)
}
