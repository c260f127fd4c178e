package socketio

import (
	"encoding/json"
	"fmt"
)

// Message types on the wire.
const (
	MessageTypeEvent = "event"
	MessageTypeAck   = "ack"
)

// Message is the wire envelope. Events carry a name and payload; an event
// with a non-empty ID requests an acknowledgement, which echoes the ID back
// with type "ack".
type Message struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AckEnvelope is the payload of every acknowledgement. Failures travel as
// data, not as transport errors, so one side's handler error reaches the
// requester intact.
type AckEnvelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// RemoteError is a handler failure reported by the peer through an ack.
type RemoteError struct {
	Event   string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error for %s: %s", e.Event, e.Message)
}

func encodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	switch msg.Type {
	case MessageTypeEvent, MessageTypeAck:
	default:
		return Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}
