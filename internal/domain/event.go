package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallEvent is an archived telephony event: webhooks, routing decisions
// and state changes, kept for audit and replay.
type CallEvent struct {
	ID         uuid.UUID
	CallRef    string
	EventType  string
	Source     string
	Payload    map[string]any
	ReceivedAt time.Time
}
