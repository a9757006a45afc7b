package queuestore

import (
	"context"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
)

// EnqueueResult reports where a call landed in its queue.
type EnqueueResult struct {
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
	Duplicate     bool          `json:"duplicate"`
}

// QueueStatus is a point-in-time snapshot of one queue, including the
// waiting entries in dequeue order.
type QueueStatus struct {
	QueueName     string              `json:"queue_name"`
	Depth         int                 `json:"depth"`
	OldestWait    time.Duration       `json:"oldest_wait"`
	EstimatedWait time.Duration       `json:"estimated_wait"`
	Entries       []domain.QueuedCall `json:"entries,omitempty"`
}

// Store holds waiting calls in per-queue priority order. Ordering is by
// priority first (lower number is more urgent), then by enqueue time.
type Store interface {
	// Enqueue adds the call to its queue. Re-enqueueing the same callRef
	// is a no-op that keeps the original position and reports Duplicate.
	Enqueue(ctx context.Context, call domain.QueuedCall) (EnqueueResult, error)

	// Dequeue atomically removes and returns the highest-priority call.
	// The bool is false when the queue is empty.
	Dequeue(ctx context.Context, queueName string) (domain.QueuedCall, bool, error)

	// Remove deletes one call from its queue, reporting whether it was
	// present.
	Remove(ctx context.Context, queueName, callRef string) (bool, error)

	// Status snapshots one queue.
	Status(ctx context.Context, queueName string) (QueueStatus, error)

	// Queues lists every queue that has seen traffic, sorted.
	Queues(ctx context.Context) ([]string, error)
}

// Score ranks a queued call. Priority dominates (lower number is more
// urgent); within a priority band earlier arrivals sort first. Dequeue
// pops the lowest score.
func Score(priority int, enqueuedAt time.Time) float64 {
	priority = domain.ClampPriority(priority)
	return float64(priority)*1_000_000 + float64(enqueuedAt.Unix())
}
