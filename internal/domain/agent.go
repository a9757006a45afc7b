package domain

import "time"

// AgentAvailability enumerates the authoritative agent states.
type AgentAvailability string

const (
	AgentAvailable AgentAvailability = "available"
	AgentBusy      AgentAvailability = "busy"
	AgentAfterCall AgentAvailability = "after-call"
	AgentOnBreak   AgentAvailability = "break"
	AgentOffline   AgentAvailability = "offline"
)

// AllAvailabilities lists every status set the registry maintains.
var AllAvailabilities = []AgentAvailability{
	AgentAvailable, AgentBusy, AgentAfterCall, AgentOnBreak, AgentOffline,
}

// Valid reports whether s is a known availability value.
func (s AgentAvailability) Valid() bool {
	for _, known := range AllAvailabilities {
		if s == known {
			return true
		}
	}
	return false
}

// Agent is the durable directory record for a human agent.
type Agent struct {
	ID          string
	Name        string
	Email       string
	DialAddress string
	CreatedAt   time.Time
}

// AgentStatusRecord is the ephemeral, per-agent availability record the
// registry keeps. It expires after a bounded inactivity window.
type AgentStatusRecord struct {
	AgentID        string    `json:"agent_id"`
	Status         AgentAvailability `json:"status"`
	CurrentCallRef string    `json:"current_call_ref,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

// QueuedCall is the ephemeral record of a call waiting in a named queue.
type QueuedCall struct {
	CallRef      string         `json:"call_ref"`
	QueueName    string         `json:"queue_name"`
	Priority     int            `json:"priority"`
	Context      map[string]any `json:"context,omitempty"`
	CallerNumber string         `json:"caller_number,omitempty"`
	CallerName   string         `json:"caller_name,omitempty"`
	EnqueuedAt   time.Time      `json:"enqueued_at"`
}

// PriorityFromUrgency maps an upstream urgency label to the 1-10 priority
// scale, where a lower number is more urgent.
func PriorityFromUrgency(urgency string) int {
	switch urgency {
	case "high":
		return 2
	case "medium":
		return 5
	case "low":
		return 8
	default:
		return 5
	}
}

// ClampPriority bounds a priority to the 1-10 scale.
func ClampPriority(priority int) int {
	if priority < 1 {
		return 1
	}
	if priority > 10 {
		return 10
	}
	return priority
}
