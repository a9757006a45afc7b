package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

type memoryRecord struct {
	record    domain.AgentStatusRecord
	expiresAt time.Time
}

// MemoryRegistry is an in-process Registry used by tests and local runs.
// It mirrors the Redis layout: per-status membership plus an expiring
// record per agent.
type MemoryRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	sets    map[domain.AgentAvailability]map[string]struct{}
	records map[string]memoryRecord
	now     func() time.Time
}

// NewMemoryRegistry constructs an in-memory registry.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	sets := make(map[domain.AgentAvailability]map[string]struct{})
	for _, status := range domain.AllAvailabilities {
		sets[status] = make(map[string]struct{})
	}
	return &MemoryRegistry{
		ttl:     ttl,
		sets:    sets,
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

func (m *MemoryRegistry) SetStatus(_ context.Context, agentID string, status domain.AgentAvailability, callRef string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, set := range m.sets {
		delete(set, agentID)
	}
	m.sets[status][agentID] = struct{}{}
	m.records[agentID] = memoryRecord{
		record: domain.AgentStatusRecord{
			AgentID:        agentID,
			Status:         status,
			CurrentCallRef: callRef,
			ChangedAt:      m.now().UTC(),
		},
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryRegistry) GetStatus(_ context.Context, agentID string) (domain.AgentStatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.records[agentID]
	if !ok || m.now().After(entry.expiresAt) {
		return domain.AgentStatusRecord{}, fmt.Errorf("%w: agent %s has no status record", apperrors.ErrNotFound, agentID)
	}
	return entry.record, nil
}

func (m *MemoryRegistry) ListAvailable(ctx context.Context) ([]string, error) {
	return m.ListByStatus(ctx, domain.AgentAvailable)
}

func (m *MemoryRegistry) ListByStatus(_ context.Context, status domain.AgentAvailability) ([]string, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sets[status]))
	for id := range m.sets[status] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryRegistry) MarkBusyIfAvailable(_ context.Context, agentID, callRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sets[domain.AgentAvailable][agentID]; !ok {
		return false, nil
	}
	delete(m.sets[domain.AgentAvailable], agentID)
	m.sets[domain.AgentBusy][agentID] = struct{}{}
	m.records[agentID] = memoryRecord{
		record: domain.AgentStatusRecord{
			AgentID:        agentID,
			Status:         domain.AgentBusy,
			CurrentCallRef: callRef,
			ChangedAt:      m.now().UTC(),
		},
		expiresAt: m.now().Add(m.ttl),
	}
	return true, nil
}

func (m *MemoryRegistry) Heal(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.records[agentID]
	if ok && m.now().Before(entry.expiresAt) {
		// Live record wins over stray memberships.
		for status, set := range m.sets {
			if status == entry.record.Status {
				set[agentID] = struct{}{}
			} else {
				delete(set, agentID)
			}
		}
		return nil
	}
	delete(m.records, agentID)
	for _, set := range m.sets {
		delete(set, agentID)
	}
	return nil
}

// ExpireRecord force-expires an agent's record, leaving any stale set
// membership in place. Test hook.
func (m *MemoryRegistry) ExpireRecord(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.records[agentID]; ok {
		entry.expiresAt = m.now().Add(-time.Second)
		m.records[agentID] = entry
	}
}
