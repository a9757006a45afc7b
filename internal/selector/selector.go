package selector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/registry"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

// AgentDirectory resolves agent IDs to durable agent records.
type AgentDirectory interface {
	GetByID(ctx context.Context, agentID string) (domain.Agent, error)
}

// Cursor persists the per-queue round-robin position.
type Cursor interface {
	// Last returns the index of the previously selected candidate, or -1
	// when the queue has no cursor yet.
	Last(ctx context.Context, queueName string) (int, error)
	Set(ctx context.Context, queueName string, index int) error
}

// Selector picks one agent for a queue, walking the sorted available
// set round-robin from the persisted cursor. Selection and the busy
// flip happen in a single conditional step, so two concurrent routing
// attempts can never claim the same agent.
type Selector struct {
	registry registry.Registry
	agents   AgentDirectory
	cursor   Cursor
	log      *zap.Logger
}

// New constructs a Selector.
func New(reg registry.Registry, agents AgentDirectory, cursor Cursor, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{registry: reg, agents: agents, cursor: cursor, log: log}
}

// Select claims one available agent for callRef. It returns ErrNoAgent
// when every candidate is rejected, which is the expected outcome under
// full occupancy rather than a failure.
func (s *Selector) Select(ctx context.Context, queueName, callRef string) (domain.Agent, error) {
	candidates, err := s.registry.ListAvailable(ctx)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("selector: list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return domain.Agent{}, apperrors.ErrNoAgent
	}

	last, err := s.cursor.Last(ctx, queueName)
	if err != nil {
		s.log.Warn("round-robin cursor unavailable, starting from head",
			zap.String("queue", queueName), zap.Error(err))
		last = -1
	}

	for offset := 0; offset < len(candidates); offset++ {
		idx := (last + 1 + offset) % len(candidates)
		agentID := candidates[idx]

		agent, err := s.agents.GetByID(ctx, agentID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			// Member with no directory record: drop the stale entry.
			if healErr := s.registry.Heal(ctx, agentID); healErr != nil {
				s.log.Warn("heal failed", zap.String("agent_id", agentID), zap.Error(healErr))
			}
			continue
		}
		if err != nil {
			return domain.Agent{}, fmt.Errorf("selector: resolve agent %s: %w", agentID, err)
		}
		if agent.DialAddress == "" {
			s.log.Debug("skipping agent without dial address", zap.String("agent_id", agentID))
			continue
		}

		record, err := s.registry.GetStatus(ctx, agentID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			// Set membership outlived the status record.
			if healErr := s.registry.Heal(ctx, agentID); healErr != nil {
				s.log.Warn("heal failed", zap.String("agent_id", agentID), zap.Error(healErr))
			}
			continue
		}
		if err != nil {
			return domain.Agent{}, fmt.Errorf("selector: check status %s: %w", agentID, err)
		}
		if record.Status != domain.AgentAvailable {
			// Membership disagreed with the record; reconcile the sets.
			if healErr := s.registry.Heal(ctx, agentID); healErr != nil {
				s.log.Warn("heal failed", zap.String("agent_id", agentID), zap.Error(healErr))
			}
			continue
		}

		claimed, err := s.registry.MarkBusyIfAvailable(ctx, agentID, callRef)
		if err != nil {
			return domain.Agent{}, fmt.Errorf("selector: claim agent %s: %w", agentID, err)
		}
		if !claimed {
			// Lost the race to a concurrent selection.
			continue
		}

		if err := s.cursor.Set(ctx, queueName, idx); err != nil {
			s.log.Warn("round-robin cursor update failed",
				zap.String("queue", queueName), zap.Error(err))
		}
		return agent, nil
	}

	return domain.Agent{}, apperrors.ErrNoAgent
}

// Claim claims one specific agent for callRef, bypassing the
// round-robin walk. The agent must resolve in the directory, carry a
// dial address, and flip from available to busy in the same step.
func (s *Selector) Claim(ctx context.Context, agentID, callRef string) (domain.Agent, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("selector: resolve agent %s: %w", agentID, err)
	}
	if agent.DialAddress == "" {
		return domain.Agent{}, fmt.Errorf("%w: agent %s has no dial address", apperrors.ErrNoAgent, agentID)
	}

	claimed, err := s.registry.MarkBusyIfAvailable(ctx, agentID, callRef)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("selector: claim agent %s: %w", agentID, err)
	}
	if !claimed {
		return domain.Agent{}, fmt.Errorf("%w: agent %s is not available", apperrors.ErrNoAgent, agentID)
	}
	return agent, nil
}
