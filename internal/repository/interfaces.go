package repository

import (
	"context"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// AgentRepository manages the durable agent directory.
type AgentRepository interface {
	Create(ctx context.Context, agent *domain.Agent) error
	GetByID(ctx context.Context, agentID string) (domain.Agent, error)
	List(ctx context.Context, limit int) ([]domain.Agent, error)
}

// CallRepository persists call records.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	Get(ctx context.Context, id int64) (*domain.Call, error)
	GetByRef(ctx context.Context, externalRef string) (*domain.Call, error)
	Update(ctx context.Context, call *domain.Call) error
	ListByStatus(ctx context.Context, status domain.CallStatus, limit int) ([]*domain.Call, error)
	// ListAssignedBefore returns calls stuck in assigned since before the
	// cutoff, oldest first.
	ListAssignedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Call, error)
}

// CallLegRepository persists call legs. At most one leg per call may be
// open (connecting or active) at a time; CreateNext enforces this by
// closing the open leg in the same transaction that creates its
// successor.
type CallLegRepository interface {
	CreateInitial(ctx context.Context, leg *domain.CallLeg) error
	CreateNext(ctx context.Context, leg *domain.CallLeg, priorReason domain.TransitionReason) error
	OpenLeg(ctx context.Context, callID int64) (*domain.CallLeg, error)
	MarkActive(ctx context.Context, legID int64, at time.Time) error
	Close(ctx context.Context, legID int64, reason domain.TransitionReason, at time.Time) error
	ListByCall(ctx context.Context, callID int64) ([]domain.CallLeg, error)
}

// ConferenceRepository manages named conference records.
type ConferenceRepository interface {
	// GetOrCreate returns the active conference with conf.Name, creating
	// it when absent. Concurrent callers always converge on one record.
	GetOrCreate(ctx context.Context, conf *domain.Conference) (*domain.Conference, error)
	GetActiveByName(ctx context.Context, name string) (*domain.Conference, error)
	End(ctx context.Context, name string, at time.Time) error
	ListActive(ctx context.Context, limit int) ([]*domain.Conference, error)
}

// ParticipantRepository tracks conference membership.
type ParticipantRepository interface {
	Add(ctx context.Context, participant *domain.ConferenceParticipant) error
	FindActive(ctx context.Context, conferenceID int64, externalRef string) (*domain.ConferenceParticipant, error)
	ListActive(ctx context.Context, conferenceID int64) ([]domain.ConferenceParticipant, error)
	MarkLeft(ctx context.Context, participantID int64, at time.Time) error
	// MarkAllLeft closes every active participant of the conference and
	// returns how many were closed.
	MarkAllLeft(ctx context.Context, conferenceID int64, at time.Time) (int, error)
}

// EventStore archives telephony events in a write-heavy store.
type EventStore interface {
	Append(ctx context.Context, event domain.CallEvent) error
	ListByCallRef(ctx context.Context, callRef string, limit int) ([]domain.CallEvent, error)
}
