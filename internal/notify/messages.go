package notify

import (
	"time"

	"github.com/google/uuid"
)

// AgentNotification tells one agent's client about a call waiting for
// them. The client dials into the conference itself; the router never
// forces a call onto the agent.
type AgentNotification struct {
	EventID        uuid.UUID      `json:"event_id"`
	CallRef        string         `json:"call_ref"`
	CallerNumber   string         `json:"caller_number"`
	CallerName     string         `json:"caller_name,omitempty"`
	QueueName      string         `json:"queue_name"`
	Context        map[string]any `json:"context,omitempty"`
	ConferenceName string         `json:"conference_name"`
	AgentID        string         `json:"agent_id"`
	SentAt         time.Time      `json:"sent_at"`
}

// CallEventMessage reports a call state change on the shared stream.
type CallEventMessage struct {
	EventID   uuid.UUID      `json:"event_id"`
	CallRef   string         `json:"call_ref"`
	EventType string         `json:"event_type"`
	QueueName string         `json:"queue_name,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// QueueStatsMessage is the periodic per-queue snapshot emitted by the
// monitor.
type QueueStatsMessage struct {
	QueueName            string    `json:"queue_name"`
	Depth                int       `json:"depth"`
	OldestWaitSeconds    int       `json:"oldest_wait_seconds"`
	EstimatedWaitSeconds int       `json:"estimated_wait_seconds"`
	AvailableAgents      int       `json:"available_agents"`
	BusyAgents           int       `json:"busy_agents"`
	SampledAt            time.Time `json:"sampled_at"`
}
