// Package chat implements the real-time publish path: decode an inbound
// event, persist the message, then fan the persisted form out to every
// connection.
package chat

import (
	"encoding/json"
	"fmt"
)

// Event names carried in Envelope.Event.
const (
	EventNewMessage = "newMessage"
	EventMessage    = "message"
	EventError      = "error"
)

// ErrorCode is the machine-readable code of an error event.
type ErrorCode string

// Error codes sent to the originating connection.
const (
	CodeInvalidMessage         ErrorCode = "InvalidMessage"
	CodePersistenceUnavailable ErrorCode = "PersistenceUnavailable"
	CodeRateLimited            ErrorCode = "RateLimited"
	CodeUnauthorized           ErrorCode = "Unauthorized"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessageData is the payload of a newMessage event.
type NewMessageData struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Encode builds a frame for event with data as its payload.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return frame, nil
}

// Decode parses one inbound frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrInvalidMessage)
	}
	return env, nil
}

// DecodeNewMessage extracts the payload of a newMessage event.
func DecodeNewMessage(env Envelope) (NewMessageData, error) {
	if env.Event != EventNewMessage {
		return NewMessageData{}, fmt.Errorf("%w: unsupported event %q", ErrInvalidMessage, env.Event)
	}
	var data NewMessageData
	if len(env.Data) == 0 {
		return data, fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return NewMessageData{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return data, nil
}
