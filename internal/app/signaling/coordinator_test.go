package signaling

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeOutbox records everything delivered to one fake connection.
type fakeOutbox struct {
	mu     sync.Mutex
	connID string
	events []Event
	kicks  []string
}

func newFakeOutbox(connID string) *fakeOutbox {
	return &fakeOutbox{connID: connID}
}

func (f *fakeOutbox) ConnID() string { return f.connID }

func (f *fakeOutbox) Deliver(evt Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeOutbox) Kick(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks = append(f.kicks, reason)
}

func (f *fakeOutbox) eventsOfType(eventType EventType) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []Event
	for _, evt := range f.events {
		if evt.Type == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

func (f *fakeOutbox) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func decodeUserEvent(t *testing.T, evt Event) UserEventPayload {
	t.Helper()
	var payload UserEventPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	return payload
}

func decodeChatMessage(t *testing.T, evt Event) ChatMessage {
	t.Helper()
	var msg ChatMessage
	require.NoError(t, json.Unmarshal(evt.Payload, &msg))
	return msg
}

func join(t *testing.T, c *Coordinator, roomID, participantID, name string, outbox *fakeOutbox) JoinStatus {
	t.Helper()
	return c.Join(roomID, NewParticipant(participantID, name, outbox))
}

func TestJoin_FirstOccupantAdmitted(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")

	// When the first participant joins a room that does not exist yet
	status := join(t, c, "room-1", "alice", "Alice", alice)

	// Then the room is lazily created and the join acknowledged
	req.Equal(JoinAdmitted, status)
	req.Equal(1, c.RoomCount())
	req.Len(alice.eventsOfType(EventConnected), 1)

	// And there is nobody to announce yet
	req.Empty(alice.eventsOfType(EventUserJoined))
}

func TestJoin_PairingAnnouncement(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	// Given alice alone in the room
	join(t, c, "room-1", "alice", "Alice", alice)

	// When bob joins
	status := join(t, c, "room-1", "bob", "Bob", bob)
	req.Equal(JoinAdmitted, status)

	// Then both sides learn about each other exactly once
	aliceSaw := alice.eventsOfType(EventUserJoined)
	req.Len(aliceSaw, 1)
	req.Equal(UserEventPayload{ID: "bob", Name: "Bob"}, decodeUserEvent(t, aliceSaw[0]))

	bobSaw := bob.eventsOfType(EventUserJoined)
	req.Len(bobSaw, 1)
	req.Equal(UserEventPayload{ID: "alice", Name: "Alice"}, decodeUserEvent(t, bobSaw[0]))
}

func TestJoin_RoomFullRejection(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")
	carol := newFakeOutbox("conn-carol")

	// Given alice and bob occupying the room
	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	// When carol tries to join
	status := join(t, c, "room-1", "carol", "Carol", carol)

	// Then she is rejected and the occupant set is unchanged
	req.Equal(JoinRoomFull, status)
	req.ElementsMatch([]string{"alice", "bob"}, c.GetRoom("room-1").OccupantIDs())
	req.Zero(carol.eventCount())
}

func TestJoin_ReconnectReplacesConnection(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	aliceOld := newFakeOutbox("conn-alice-1")
	aliceNew := newFakeOutbox("conn-alice-2")
	bob := newFakeOutbox("conn-bob")

	join(t, c, "room-1", "alice", "Alice", aliceOld)
	join(t, c, "room-1", "bob", "Bob", bob)

	// When alice rejoins with the same id on a new connection
	status := join(t, c, "room-1", "alice", "Alice", aliceNew)

	// Then it is reported as a reconnect, not an admission
	req.Equal(JoinReconnected, status)
	req.ElementsMatch([]string{"alice", "bob"}, c.GetRoom("room-1").OccupantIDs())

	// And the old connection is kicked
	req.Len(aliceOld.kicks, 1)

	// And subsequent traffic reaches the new connection only
	c.SendMessage("room-1", "bob", "hello again")
	req.Len(aliceNew.eventsOfType(EventMessage), 1)
	req.Empty(aliceOld.eventsOfType(EventMessage))

	// And bob is not told about a new pairing
	req.Len(bob.eventsOfType(EventUserJoined), 1)
}

func TestJoin_StaleDisconnectDoesNotEvictReconnectedParticipant(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	c := NewCoordinator(registry)
	aliceOld := newFakeOutbox("conn-alice-1")
	aliceNew := newFakeOutbox("conn-alice-2")

	req.Nil(registry.Register("conn-alice-1", Identity{ParticipantID: "alice", DisplayName: "Alice", RoomID: "room-1"}))
	join(t, c, "room-1", "alice", "Alice", aliceOld)

	req.Nil(registry.Register("conn-alice-2", Identity{ParticipantID: "alice", DisplayName: "Alice", RoomID: "room-1"}))
	join(t, c, "room-1", "alice", "Alice", aliceNew)

	// When the replaced connection finally reports its disconnect
	c.Disconnect("conn-alice-1")

	// Then alice is still in the room on the new connection
	req.ElementsMatch([]string{"alice"}, c.GetRoom("room-1").OccupantIDs())

	// And the stale registry entry is gone while the live one remains
	_, ok := registry.Resolve("conn-alice-1")
	req.False(ok)
	_, ok = registry.Resolve("conn-alice-2")
	req.True(ok)
}

func TestSendMessage_RelayExcludesSender(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	// When alice sends a message
	c.SendMessage("room-1", "alice", "hi")

	// Then bob receives it and alice gets no echo
	bobMessages := bob.eventsOfType(EventMessage)
	req.Len(bobMessages, 1)

	msg := decodeChatMessage(t, bobMessages[0])
	req.Equal("alice", msg.SenderID)
	req.Equal("Alice", msg.SenderName)
	req.Equal("hi", msg.Content)
	req.NotEmpty(msg.ID)
	req.NotZero(msg.Timestamp)

	req.Empty(alice.eventsOfType(EventMessage))
}

func TestSendMessage_MalformedIsSilentlyDropped(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	// Empty content
	c.SendMessage("room-1", "alice", "")

	// Sender not an occupant
	c.SendMessage("room-1", "mallory", "hi")

	// Unknown room
	c.SendMessage("room-2", "alice", "hi")

	// Nothing appended, nothing relayed
	req.Zero(c.GetRoom("room-1").LogLen())
	req.Empty(alice.eventsOfType(EventMessage))
	req.Empty(bob.eventsOfType(EventMessage))
}

func TestSendMessage_ReplayOnJoinPreservesOrder(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	// Given alice sent three messages before bob joined
	join(t, c, "room-1", "alice", "Alice", alice)
	c.SendMessage("room-1", "alice", "one")
	c.SendMessage("room-1", "alice", "two")
	c.SendMessage("room-1", "alice", "three")

	// When bob joins
	join(t, c, "room-1", "bob", "Bob", bob)

	// Then he receives the full history in original order
	replayed := bob.eventsOfType(EventMessage)
	req.Len(replayed, 3)
	req.Equal("one", decodeChatMessage(t, replayed[0]).Content)
	req.Equal("two", decodeChatMessage(t, replayed[1]).Content)
	req.Equal("three", decodeChatMessage(t, replayed[2]).Content)
}

func TestLeave_NotifiesRemainingOccupant(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	// When alice leaves
	c.Leave("room-1", "alice")

	// Then bob is told, with the departed display name
	left := bob.eventsOfType(EventUserLeft)
	req.Len(left, 1)
	req.Equal(UserEventPayload{ID: "alice", Name: "Alice"}, decodeUserEvent(t, left[0]))

	req.ElementsMatch([]string{"bob"}, c.GetRoom("room-1").OccupantIDs())
}

func TestLeave_TearsDownEmptyRoom(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	// Given alice alone with some history
	join(t, c, "room-1", "alice", "Alice", alice)
	c.SendMessage("room-1", "alice", "talking to myself")

	// When she leaves
	c.Leave("room-1", "alice")

	// Then the room and its log are gone
	req.Zero(c.RoomCount())
	req.Nil(c.GetRoom("room-1"))

	// And a later join to the same id starts a fresh room
	join(t, c, "room-1", "bob", "Bob", bob)
	req.Empty(bob.eventsOfType(EventMessage))
	req.Empty(bob.eventsOfType(EventUserJoined))
	req.ElementsMatch([]string{"bob"}, c.GetRoom("room-1").OccupantIDs())
}

func TestLeave_IsIdempotent(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	c.Leave("room-1", "alice")
	c.Leave("room-1", "alice")
	c.Leave("room-1", "nobody")
	c.Leave("room-404", "alice")

	// A single user-left notification, nothing else
	req.Len(bob.eventsOfType(EventUserLeft), 1)
	req.ElementsMatch([]string{"bob"}, c.GetRoom("room-1").OccupantIDs())
}

func TestDisconnect_BehavesLikeLeave(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	c := NewCoordinator(registry)
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	req.Nil(registry.Register("conn-alice", Identity{ParticipantID: "alice", DisplayName: "Alice", RoomID: "room-1"}))
	req.Nil(registry.Register("conn-bob", Identity{ParticipantID: "bob", DisplayName: "Bob", RoomID: "room-1"}))
	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	// When alice's connection drops without an explicit leave
	c.Disconnect("conn-alice")

	// Then bob gets the same user-left notification as an explicit leave
	left := bob.eventsOfType(EventUserLeft)
	req.Len(left, 1)
	req.Equal(UserEventPayload{ID: "alice", Name: "Alice"}, decodeUserEvent(t, left[0]))

	// And the connection is unregistered
	_, ok := registry.Resolve("conn-alice")
	req.False(ok)

	// When bob's connection drops too
	c.Disconnect("conn-bob")

	// Then the room is torn down
	req.Zero(c.RoomCount())
}

func TestDisconnect_UnresolvableIsNoOp(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")

	join(t, c, "room-1", "alice", "Alice", alice)

	// A connection the registry never saw, or already cleaned up
	c.Disconnect("conn-ghost")
	c.Disconnect("conn-ghost")

	req.ElementsMatch([]string{"alice"}, c.GetRoom("room-1").OccupantIDs())
}

func TestRelayToPeer_DeliversOfferToTarget(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	offer := []byte(`{"type":"offer","sdp":"v=0"}`)
	result := c.RelayToPeer("room-1", "alice", "bob", KindOffer, offer)

	req.Equal(RouteDelivered, result)

	offers := bob.eventsOfType(EventCallOffer)
	req.Len(offers, 1)

	var payload NegotiationPayload
	req.NoError(json.Unmarshal(offers[0].Payload, &payload))
	req.Equal("alice", payload.From)
	req.JSONEq(string(offer), string(payload.Offer))

	req.Empty(alice.eventsOfType(EventCallOffer))
}

func TestRelayToPeer_TargetNotFoundIsSilent(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")

	join(t, c, "room-1", "alice", "Alice", alice)
	before := alice.eventCount()

	result := c.RelayToPeer("room-1", "alice", "bob", KindOffer, []byte(`{}`))

	// The peer already disconnected mid-negotiation: nothing is sent and
	// no error surfaces to the sender.
	req.Equal(RouteTargetNotFound, result)
	req.Equal(before, alice.eventCount())

	// Same outcome for a room that does not exist
	req.Equal(RouteTargetNotFound, c.RelayToPeer("room-404", "alice", "bob", KindOffer, []byte(`{}`)))
}

func TestRelayToOthers_AnswerAndCandidate(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	c.RelayToOthers("room-1", "bob", KindAnswer, []byte(`{"type":"answer"}`))
	c.RelayToOthers("room-1", "alice", KindCandidate, []byte(`{"candidate":"x"}`))

	answers := alice.eventsOfType(EventCallAnswer)
	req.Len(answers, 1)
	var answer NegotiationPayload
	req.NoError(json.Unmarshal(answers[0].Payload, &answer))
	req.Equal("bob", answer.From)
	req.NotEmpty(answer.Answer)
	req.Empty(bob.eventsOfType(EventCallAnswer))

	candidates := bob.eventsOfType(EventIceCandidate)
	req.Len(candidates, 1)
	var candidate NegotiationPayload
	req.NoError(json.Unmarshal(candidates[0].Payload, &candidate))
	req.Equal("alice", candidate.From)
	req.NotEmpty(candidate.Candidate)
}

func TestEndCall_NotifiesPeerWithoutAffectingMembership(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	bob := newFakeOutbox("conn-bob")

	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-1", "bob", "Bob", bob)

	c.EndCall("room-1", "alice")

	ended := bob.eventsOfType(EventCallEnded)
	req.Len(ended, 1)

	var payload CallEndedPayload
	req.NoError(json.Unmarshal(ended[0].Payload, &payload))
	req.Equal("alice", payload.From)

	req.Empty(alice.eventsOfType(EventCallEnded))

	// Ending a call is orthogonal to leaving the room
	req.ElementsMatch([]string{"alice", "bob"}, c.GetRoom("room-1").OccupantIDs())
}

func TestJoin_CapacityInvariantUnderConcurrency(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())

	const attempts = 16

	statuses := make([]JoinStatus, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			outbox := newFakeOutbox(string(rune('a' + n)))
			statuses[n] = c.Join("room-1", NewParticipant(string(rune('a'+n)), "P", outbox))
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, status := range statuses {
		if status == JoinAdmitted {
			admitted++
		}
	}

	// Exactly two distinct ids fit; everyone else must have been rejected
	req.Equal(2, admitted)
	req.Len(c.GetRoom("room-1").OccupantIDs(), 2)
}

func TestRooms_AreIsolated(t *testing.T) {
	req := require.New(t)
	c := NewCoordinator(NewRegistry())
	alice := newFakeOutbox("conn-alice")
	carol := newFakeOutbox("conn-carol")

	join(t, c, "room-1", "alice", "Alice", alice)
	join(t, c, "room-2", "carol", "Carol", carol)

	c.SendMessage("room-1", "alice", "private")
	c.EndCall("room-1", "alice")

	req.Empty(carol.eventsOfType(EventMessage))
	req.Empty(carol.eventsOfType(EventCallEnded))
	req.Equal(2, c.RoomCount())
}
