package conference

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/repository"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

// CallStates is the slice of the call lifecycle the manager drives from
// join and leave events.
type CallStates interface {
	ConfirmActive(ctx context.Context, callRef string) (*domain.Call, error)
	End(ctx context.Context, callRef string, reason domain.TransitionReason) (*domain.Call, error)
}

// Manager owns conference records and participant tracking. Joins and
// leaves arrive as confirmed platform webhooks, never as assumptions.
type Manager struct {
	conferences  repository.ConferenceRepository
	participants repository.ParticipantRepository
	hints        Hints
	calls        CallStates
	log          *zap.Logger
}

// NewManager constructs a conference manager.
func NewManager(
	conferences repository.ConferenceRepository,
	participants repository.ParticipantRepository,
	hints Hints,
	calls CallStates,
	log *zap.Logger,
) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		conferences:  conferences,
		participants: participants,
		hints:        hints,
		calls:        calls,
		log:          log,
	}
}

// GetOrCreate returns the live conference with the given name, creating
// it when absent. Safe under concurrent callers.
func (m *Manager) GetOrCreate(ctx context.Context, conf *domain.Conference) (*domain.Conference, error) {
	if conf.Name == "" {
		return nil, fmt.Errorf("%w: conference name is required", apperrors.ErrValidation)
	}
	result, err := m.conferences.GetOrCreate(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("conference: get or create %s: %w", conf.Name, err)
	}
	return result, nil
}

// ExpectParticipant registers who an upcoming join belongs to.
func (m *Manager) ExpectParticipant(ctx context.Context, conferenceName, externalRef string, hint ParticipantHint) error {
	return m.hints.Set(ctx, conferenceName, externalRef, hint)
}

// RecordJoin registers a confirmed join. An explicit hint set by the
// router wins; without one the join is classified heuristically: the
// first arrival into an agent's personal conference is taken to be that
// agent when no live agent participant exists yet, everyone else is a
// customer.
func (m *Manager) RecordJoin(ctx context.Context, conferenceName, externalRef string, callID *int64) (*domain.ConferenceParticipant, error) {
	conf, err := m.conferences.GetActiveByName(ctx, conferenceName)
	if err != nil {
		return nil, fmt.Errorf("conference: lookup %s: %w", conferenceName, err)
	}

	hint, err := m.hints.Take(ctx, conferenceName, externalRef)
	if err != nil {
		m.log.Warn("hint lookup failed",
			zap.String("conference", conferenceName), zap.Error(err))
	}

	now := time.Now().UTC()
	participant := &domain.ConferenceParticipant{
		ConferenceID: conf.ID,
		CallID:       callID,
		ExternalRef:  externalRef,
		Status:       domain.ParticipantStatusActive,
		JoinedAt:     &now,
	}

	if hint != nil {
		participant.Type = hint.Type
		participant.ParticipantID = hint.ParticipantID
		if participant.CallID == nil {
			participant.CallID = hint.CallID
		}
	} else {
		participant.Type = m.classify(ctx, conf)
		if participant.Type == domain.ParticipantAgent && conf.OwnerAgentID != nil {
			participant.ParticipantID = *conf.OwnerAgentID
		}
		if participant.Type == domain.ParticipantAI && conf.OwnerAIAgent != nil {
			participant.ParticipantID = *conf.OwnerAIAgent
		}
	}

	if err := m.participants.Add(ctx, participant); err != nil {
		return nil, fmt.Errorf("conference: add participant: %w", err)
	}

	if participant.Type == domain.ParticipantCustomer {
		// The customer landing in the conference is the signal the hookup
		// succeeded.
		if _, err := m.calls.ConfirmActive(ctx, externalRef); err != nil &&
			!apperrors.Is(err, apperrors.ErrNotFound) && !apperrors.Is(err, apperrors.ErrInvalidTransition) {
			m.log.Warn("call activation failed",
				zap.String("call_ref", externalRef), zap.Error(err))
		}
	}

	m.log.Info("participant joined",
		zap.String("conference", conferenceName),
		zap.String("call_ref", externalRef),
		zap.String("type", string(participant.Type)))
	return participant, nil
}

func (m *Manager) classify(ctx context.Context, conf *domain.Conference) domain.ParticipantType {
	switch conf.Type {
	case domain.ConferenceTypeAgent:
		live, err := m.participants.ListActive(ctx, conf.ID)
		if err != nil {
			m.log.Warn("participant list failed",
				zap.String("conference", conf.Name), zap.Error(err))
			return domain.ParticipantCustomer
		}
		for _, p := range live {
			if p.Type == domain.ParticipantAgent {
				return domain.ParticipantCustomer
			}
		}
		return domain.ParticipantAgent
	case domain.ConferenceTypeAI:
		return domain.ParticipantCustomer
	default:
		return domain.ParticipantCustomer
	}
}

// RecordLeave registers a confirmed leave. A customer leaving closes
// their call; an emptied per-call conference is ended.
func (m *Manager) RecordLeave(ctx context.Context, conferenceName, externalRef string) error {
	conf, err := m.conferences.GetActiveByName(ctx, conferenceName)
	if err != nil {
		return fmt.Errorf("conference: lookup %s: %w", conferenceName, err)
	}
	participant, err := m.participants.FindActive(ctx, conf.ID, externalRef)
	if err != nil {
		return fmt.Errorf("conference: find participant %s: %w", externalRef, err)
	}

	now := time.Now().UTC()
	if err := m.participants.MarkLeft(ctx, participant.ID, now); err != nil {
		return fmt.Errorf("conference: mark left: %w", err)
	}

	if participant.Type == domain.ParticipantCustomer {
		if _, err := m.calls.End(ctx, externalRef, domain.ReasonCustomerLeft); err != nil &&
			!apperrors.Is(err, apperrors.ErrNotFound) {
			m.log.Warn("call close failed",
				zap.String("call_ref", externalRef), zap.Error(err))
		}
	}

	// Interaction conferences exist for one call; tear down once empty.
	if conf.Type == domain.ConferenceTypeInteraction {
		remaining, err := m.participants.ListActive(ctx, conf.ID)
		if err == nil && len(remaining) == 0 {
			if err := m.End(ctx, conferenceName); err != nil {
				m.log.Warn("conference teardown failed",
					zap.String("conference", conferenceName), zap.Error(err))
			}
		}
	}

	m.log.Info("participant left",
		zap.String("conference", conferenceName),
		zap.String("call_ref", externalRef),
		zap.String("type", string(participant.Type)))
	return nil
}

// End closes the conference and every live participant in it.
func (m *Manager) End(ctx context.Context, conferenceName string) error {
	conf, err := m.conferences.GetActiveByName(ctx, conferenceName)
	if err != nil {
		return fmt.Errorf("conference: lookup %s: %w", conferenceName, err)
	}

	now := time.Now().UTC()
	closed, err := m.participants.MarkAllLeft(ctx, conf.ID, now)
	if err != nil {
		return fmt.Errorf("conference: close participants: %w", err)
	}
	if err := m.conferences.End(ctx, conferenceName, now); err != nil {
		return fmt.Errorf("conference: end %s: %w", conferenceName, err)
	}

	m.log.Info("conference ended",
		zap.String("conference", conferenceName),
		zap.Int("participants_closed", closed))
	return nil
}

// Participants lists the live members of a conference.
func (m *Manager) Participants(ctx context.Context, conferenceName string) ([]domain.ConferenceParticipant, error) {
	conf, err := m.conferences.GetActiveByName(ctx, conferenceName)
	if err != nil {
		return nil, fmt.Errorf("conference: lookup %s: %w", conferenceName, err)
	}
	return m.participants.ListActive(ctx, conf.ID)
}

// ListActive lists live conferences.
func (m *Manager) ListActive(ctx context.Context, limit int) ([]*domain.Conference, error) {
	return m.conferences.ListActive(ctx, limit)
}
