package queuestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

type memoryEntry struct {
	call  domain.QueuedCall
	score float64
	seq   int64
}

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu            sync.Mutex
	avgHandleTime time.Duration
	queues        map[string][]memoryEntry
	seq           int64
}

// NewMemoryStore constructs an in-memory queue store.
func NewMemoryStore(avgHandleTime time.Duration) *MemoryStore {
	if avgHandleTime <= 0 {
		avgHandleTime = 180 * time.Second
	}
	return &MemoryStore{
		avgHandleTime: avgHandleTime,
		queues:        make(map[string][]memoryEntry),
	}
}

func (m *MemoryStore) Enqueue(_ context.Context, call domain.QueuedCall) (EnqueueResult, error) {
	if call.CallRef == "" || call.QueueName == "" {
		return EnqueueResult{}, fmt.Errorf("%w: call ref and queue name are required", apperrors.ErrValidation)
	}
	if call.EnqueuedAt.IsZero() {
		call.EnqueuedAt = time.Now().UTC()
	}
	call.Priority = domain.ClampPriority(call.Priority)

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.queues[call.QueueName]
	for idx, entry := range entries {
		if entry.call.CallRef == call.CallRef {
			return EnqueueResult{
				Position:      idx + 1,
				EstimatedWait: time.Duration(idx+1) * m.avgHandleTime,
				Duplicate:     true,
			}, nil
		}
	}

	m.seq++
	entries = append(entries, memoryEntry{
		call:  call,
		score: Score(call.Priority, call.EnqueuedAt),
		seq:   m.seq,
	})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].seq < entries[j].seq
	})
	m.queues[call.QueueName] = entries

	position := 0
	for idx, entry := range entries {
		if entry.call.CallRef == call.CallRef {
			position = idx + 1
			break
		}
	}
	return EnqueueResult{
		Position:      position,
		EstimatedWait: time.Duration(position) * m.avgHandleTime,
	}, nil
}

func (m *MemoryStore) Dequeue(_ context.Context, queueName string) (domain.QueuedCall, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.queues[queueName]
	if len(entries) == 0 {
		return domain.QueuedCall{}, false, nil
	}
	head := entries[0]
	m.queues[queueName] = entries[1:]
	return head.call, true, nil
}

func (m *MemoryStore) Remove(_ context.Context, queueName, callRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.queues[queueName]
	for idx, entry := range entries {
		if entry.call.CallRef == callRef {
			m.queues[queueName] = append(entries[:idx:idx], entries[idx+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Status(_ context.Context, queueName string) (QueueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.queues[queueName]
	status := QueueStatus{
		QueueName:     queueName,
		Depth:         len(entries),
		EstimatedWait: time.Duration(len(entries)) * m.avgHandleTime,
	}
	now := time.Now()
	for _, entry := range entries {
		status.Entries = append(status.Entries, entry.call)
		if wait := now.Sub(entry.call.EnqueuedAt); wait > status.OldestWait {
			status.OldestWait = wait
		}
	}
	return status, nil
}

func (m *MemoryStore) Queues(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
