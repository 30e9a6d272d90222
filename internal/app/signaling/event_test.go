package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEvent_NilPayloadOmitsField(t *testing.T) {
	req := require.New(t)

	evt, err := NewEvent(EventConnected, nil)
	req.NoError(err)

	raw, err := json.Marshal(evt)
	req.NoError(err)
	req.JSONEq(`{"type":"connected"}`, string(raw))
}

func TestNewNegotiationEvent_SelectsTypeAndField(t *testing.T) {
	req := require.New(t)
	payload := json.RawMessage(`{"sdp":"v=0"}`)

	cases := []struct {
		kind      NegotiationKind
		eventType EventType
		field     string
	}{
		{KindOffer, EventCallOffer, "offer"},
		{KindAnswer, EventCallAnswer, "answer"},
		{KindCandidate, EventIceCandidate, "candidate"},
	}

	for _, tc := range cases {
		evt, err := newNegotiationEvent(tc.kind, "alice", payload)
		req.NoError(err)
		req.Equal(tc.eventType, evt.Type)

		var decoded map[string]json.RawMessage
		req.NoError(json.Unmarshal(evt.Payload, &decoded))
		req.JSONEq(`"alice"`, string(decoded["from"]))
		req.JSONEq(string(payload), string(decoded[tc.field]))
		req.Len(decoded, 2, "only from and the kind-specific field should be present")
	}
}

func TestNewChatMessage_AssignsIDAndTimestamp(t *testing.T) {
	req := require.New(t)

	first := newChatMessage("alice", "Alice", "hi")
	second := newChatMessage("alice", "Alice", "hi")

	req.NotEmpty(first.ID)
	req.NotEqual(first.ID, second.ID)
	req.NotZero(first.Timestamp)
	req.Equal("alice", first.SenderID)
	req.Equal("Alice", first.SenderName)
	req.Equal("hi", first.Content)
}
