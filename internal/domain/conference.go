package domain

import (
	"fmt"
	"time"
)

// ConferenceType categorises the rendezvous points the router manages.
type ConferenceType string

const (
	ConferenceTypeAgent       ConferenceType = "agent"
	ConferenceTypeAI          ConferenceType = "ai"
	ConferenceTypeHold        ConferenceType = "hold"
	ConferenceTypeInteraction ConferenceType = "interaction"
)

// ConferenceStatus enumerates conference states.
type ConferenceStatus string

const (
	ConferenceStatusActive ConferenceStatus = "active"
	ConferenceStatusEnded  ConferenceStatus = "ended"
)

// Conference is a named rendezvous point where participants' media is joined.
// Owner fields are mutually exclusive by type.
type Conference struct {
	ID           int64
	Name         string
	Type         ConferenceType
	OwnerAgentID *string
	OwnerAIAgent *string
	QueueName    *string
	Status       ConferenceStatus
	CreatedAt    time.Time
	EndedAt      *time.Time
}

// ParticipantType categorises conference membership.
type ParticipantType string

const (
	ParticipantCustomer   ParticipantType = "customer"
	ParticipantAgent      ParticipantType = "agent"
	ParticipantAI         ParticipantType = "ai"
	ParticipantSupervisor ParticipantType = "supervisor"
)

// ParticipantStatus enumerates participant states.
type ParticipantStatus string

const (
	ParticipantStatusJoining ParticipantStatus = "joining"
	ParticipantStatusActive  ParticipantStatus = "active"
	ParticipantStatusLeft    ParticipantStatus = "left"
	ParticipantStatusMuted   ParticipantStatus = "muted"
)

// ConferenceParticipant is one call leg's membership in a conference.
type ConferenceParticipant struct {
	ID              int64
	ConferenceID    int64
	CallID          *int64
	Type            ParticipantType
	ParticipantID   string
	ExternalRef     string
	Status          ParticipantStatus
	JoinedAt        *time.Time
	LeftAt          *time.Time
	DurationSeconds *int
	Muted           bool
	Deaf            bool
}

// Conference naming schemes. Names are the platform-side identity of a
// conference, so they must be stable and collision-free.

func AgentConferenceName(agentID string) string {
	return fmt.Sprintf("agent-conf-%s", agentID)
}

func AIConferenceName(aiAgent string) string {
	return fmt.Sprintf("ai-conf-%s", aiAgent)
}

func HoldConferenceName(queueName string) string {
	return fmt.Sprintf("hold-conf-%s", queueName)
}

func InteractionConferenceName(callRef string) string {
	return fmt.Sprintf("interaction-%s", callRef)
}
