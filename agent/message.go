package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is a routed inter-agent message.
// The payload is opaque to the core; it is stored as a JSON string.
type Message struct {
	// ID is a unique identifier for this message, automatically generated.
	ID string `json:"id"`

	// Type is an optional caller-defined label (e.g., "request", "finding").
	Type string `json:"type,omitempty"`

	From ID `json:"from"`
	To   ID `json:"to"`

	// Seq is the delivery sequence number, strictly increasing per recipient.
	// It is zero until the router delivers the message.
	Seq uint64 `json:"seq"`

	// Payload contains the message data as a JSON string.
	Payload string `json:"payload"`

	// SentAt is set by the router at delivery.
	SentAt time.Time `json:"sent_at"`

	// Metadata contains optional key-value pairs for correlation.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a message with the given type and payload.
// The payload is serialized to JSON unless it already is raw JSON.
func NewMessage(msgType string, payload any) (*Message, error) {
	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		data = p
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}
	return &Message{
		ID:      uuid.New().String(),
		Type:    msgType,
		Payload: string(data),
	}, nil
}

// WithMetadata adds metadata to the message and returns it for chaining.
//
//	msg, _ := NewMessage("request", data)
//	msg.WithMetadata("priority", "high").WithMetadata("source", "triage")
func (m *Message) WithMetadata(key, value string) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
	return m
}

// UnmarshalPayload deserializes the message payload into v.
func (m *Message) UnmarshalPayload(v any) error {
	if m.Payload == "" {
		return fmt.Errorf("message payload is empty")
	}
	return json.Unmarshal([]byte(m.Payload), v)
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := *m
	if m.Metadata != nil {
		clone.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// String returns a human-readable representation of the message for debugging.
func (m *Message) String() string {
	return fmt.Sprintf("Message{ID:%s, From:%s, To:%s, Seq:%d}", m.ID, m.From, m.To, m.Seq)
}
