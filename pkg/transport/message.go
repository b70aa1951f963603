package transport

import (
	"time"

	"github.com/google/uuid"
)

// Message is a device-to-cloud or cloud-to-device message.
type Message struct {
	// ID uniquely identifies the message.
	ID uuid.UUID

	// Payload is the message body.
	Payload []byte

	// Properties carries application-defined message annotations.
	Properties map[string]string

	// EnqueuedAt is when the message was created or enqueued by the hub.
	EnqueuedAt time.Time
}

// NewMessage creates a message with a fresh ID and the current timestamp.
func NewMessage(payload []byte) Message {
	return Message{
		ID:         uuid.New(),
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
}
