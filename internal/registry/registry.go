package registry

import (
	"context"

	"github.com/acme/callcenter-router/internal/domain"
)

// Registry tracks agent availability. Status records are ephemeral and
// expire after a bounded inactivity window; the status sets are healed
// lazily when a stale member is observed.
type Registry interface {
	// SetStatus moves the agent into the given status. The move is atomic:
	// an agent is a member of exactly one status set afterwards.
	SetStatus(ctx context.Context, agentID string, status domain.AgentAvailability, callRef string) error

	// GetStatus returns the agent's current status record, or ErrNotFound
	// when the record expired or was never written.
	GetStatus(ctx context.Context, agentID string) (domain.AgentStatusRecord, error)

	// ListAvailable returns the IDs in the available set, sorted.
	ListAvailable(ctx context.Context) ([]string, error)

	// ListByStatus returns the IDs in the given status set, sorted.
	ListByStatus(ctx context.Context, status domain.AgentAvailability) ([]string, error)

	// MarkBusyIfAvailable atomically claims the agent for callRef. It
	// returns false when the agent is not in the available set, in which
	// case nothing changes.
	MarkBusyIfAvailable(ctx context.Context, agentID, callRef string) (bool, error)

	// Heal reconciles the agent's set membership with its record: an
	// expired or missing record drops the agent from every set, a live
	// record drops stray memberships in the other sets.
	Heal(ctx context.Context, agentID string) error
}
