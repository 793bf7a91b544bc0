package room

import "github.com/vmihailenco/msgpack/v5"

// Data message types.
const (
	MessageChat = "chat"
	MessageRaw  = "raw"
)

// DataMessage is one message on a data channel. Payloads are msgpack; a
// message that does not decode is delivered as MessageRaw with the bytes in
// Raw.
type DataMessage struct {
	Type    string             `msgpack:"type"`
	From    string             `msgpack:"from,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`

	Raw []byte `msgpack:"-"`
}

// DecodePayload decodes the message payload into v.
func (m DataMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// Text returns the chat text of a chat message, or the raw bytes as text.
func (m DataMessage) Text() string {
	if m.Type == MessageRaw {
		return string(m.Raw)
	}
	var s string
	if err := m.DecodePayload(&s); err != nil {
		return ""
	}
	return s
}

// NewDataMessage creates a message of type t carrying payload.
func NewDataMessage(t, from string, payload any) (DataMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return DataMessage{}, err
	}
	return DataMessage{Type: t, From: from, Payload: b}, nil
}

// ParseDataMessage decodes b, falling back to a raw message.
func ParseDataMessage(b []byte) DataMessage {
	var m DataMessage
	if err := msgpack.Unmarshal(b, &m); err != nil || m.Type == "" {
		return DataMessage{Type: MessageRaw, Raw: append([]byte(nil), b...)}
	}
	return m
}

// Encode returns the wire form of m.
func (m DataMessage) Encode() ([]byte, error) {
	return msgpack.Marshal(m)
}
