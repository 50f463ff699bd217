package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope kinds. join and message are accepted from clients; joined, message
// and error are sent to clients.
const (
	KindJoin    = "join"
	KindMessage = "message"
	KindJoined  = "joined"
	KindError   = "error"
)

// Envelope is the tagged frame exchanged over the websocket. Every frame,
// inbound or outbound, carries a kind; the remaining fields are populated
// depending on the kind.
type Envelope struct {
	Kind     string          `json:"kind"`
	RoomID   string          `json:"room_id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Sequence int64           `json:"sequence,omitempty"`
	Ts       time.Time       `json:"ts,omitempty"`
}

// ParseInbound decodes and validates a client frame. Only join and message
// kinds are accepted from clients, and both require a room id.
func ParseInbound(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Kind {
	case KindJoin, KindMessage:
	default:
		return Envelope{}, fmt.Errorf("unsupported kind %q", env.Kind)
	}
	if env.RoomID == "" {
		return Envelope{}, fmt.Errorf("%s frame requires room_id", env.Kind)
	}
	if env.Kind == KindMessage && len(env.Payload) == 0 {
		return Envelope{}, fmt.Errorf("message frame requires payload")
	}
	return env, nil
}

// ErrorEnvelope builds an error frame carrying a human-readable reason.
func ErrorEnvelope(reason string) Envelope {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	return Envelope{
		Kind:    KindError,
		Payload: payload,
		Ts:      time.Now().UTC(),
	}
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}
