package routing

import "time"

// Action is the instruction class of a routing decision.
type Action string

const (
	// ActionJoinConference connects the caller into a named conference.
	ActionJoinConference Action = "join_conference"
	// ActionHold plays a hold prompt, waits, then re-invokes route.
	ActionHold Action = "hold"
	// ActionTransferAI hands the caller to an AI fallback destination.
	ActionTransferAI Action = "transfer_ai"
	// ActionEnd plays a closing prompt and hangs up.
	ActionEnd Action = "end"
)

// Decision is the coordinator's answer to one routing invocation. It is
// always producible: failures degrade to hold rather than erroring, so
// a live caller is never left without instructions.
type Decision struct {
	Action         Action         `json:"action"`
	CallRef        string         `json:"call_ref"`
	QueueName      string         `json:"queue_name,omitempty"`
	Message        string         `json:"message"`
	ConferenceName string         `json:"conference_name,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	FallbackTarget string         `json:"fallback_target,omitempty"`
	Position       int            `json:"position,omitempty"`
	EstimatedWait  time.Duration  `json:"estimated_wait,omitempty"`
	RetryAfter     time.Duration  `json:"retry_after,omitempty"`
}
