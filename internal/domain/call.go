package domain

import "time"

// CallStatus enumerates the lifecycle states of a call.
//
// Transitions follow waiting -> assigned -> active -> ended, with failed
// reachable from any non-terminal state.
type CallStatus string

const (
	CallStatusWaiting  CallStatus = "waiting"
	CallStatusAssigned CallStatus = "assigned"
	CallStatusActive   CallStatus = "active"
	CallStatusEnded    CallStatus = "ended"
	CallStatusFailed   CallStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded || s == CallStatusFailed
}

// Direction of the call relative to the platform.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// HandlerType identifies what kind of agent currently owns the call.
type HandlerType string

const (
	HandlerAI    HandlerType = "ai"
	HandlerHuman HandlerType = "human"
)

// Call models one telephone interaction from first contact to hangup.
type Call struct {
	ID             int64
	ExternalRef    string
	Direction      Direction
	HandlerType    HandlerType
	Status         CallStatus
	QueueName      *string
	Priority       int
	AgentID        *string
	ConferenceName *string
	FromNumber     string
	ToNumber       string
	Context        map[string]any
	CreatedAt      time.Time
	AssignedAt     *time.Time
	AnsweredAt     *time.Time
	EndedAt        *time.Time
}

// LegType identifies the kind of handler that owns a call leg.
type LegType string

const (
	LegTypeAIAgent    LegType = "ai_agent"
	LegTypeHumanAgent LegType = "human_agent"
	LegTypeTransfer   LegType = "transfer"
)

// LegStatus enumerates call leg states.
type LegStatus string

const (
	LegStatusConnecting LegStatus = "connecting"
	LegStatusActive     LegStatus = "active"
	LegStatusCompleted  LegStatus = "completed"
)

// TransitionReason records why a leg ended.
type TransitionReason string

const (
	ReasonTakeover        TransitionReason = "takeover"
	ReasonTransfer        TransitionReason = "transfer"
	ReasonCustomerRequest TransitionReason = "customer_request"
	ReasonHangup          TransitionReason = "hangup"
	ReasonQueueRouting    TransitionReason = "queue_routing"
	ReasonCustomerLeft    TransitionReason = "customer_left"
)

// CallLeg is one handler-segment of a call: the period during which one
// specific agent, AI or human, owned it.
type CallLeg struct {
	ID               int64
	CallID           int64
	LegNumber        int
	LegType          LegType
	AgentID          *string
	AIAgentName      *string
	Status           LegStatus
	ConferenceName   *string
	TransitionReason *TransitionReason
	StartedAt        time.Time
	EndedAt          *time.Time
	DurationSeconds  *int
}

// MapPlatformState converts a telephony platform call state into our status.
// Unknown states map to the zero value, which callers must ignore.
func MapPlatformState(state string) CallStatus {
	switch state {
	case "created", "ringing":
		return CallStatusWaiting
	case "answered":
		return CallStatusActive
	case "ended":
		return CallStatusEnded
	case "failed", "busy", "no-answer":
		return CallStatusFailed
	default:
		return ""
	}
}
