package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/callcenter-router/internal/app"
	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/notify"
)

// Monitor periodically broadcasts queue statistics and reclaims calls
// stuck in assigned because the selected agent never joined. A Redis
// lock keeps one instance active per tick across replicas.
type Monitor struct {
	container  *app.Container
	instanceID string
}

// New constructs a monitor.
func New(container *app.Container) *Monitor {
	return &Monitor{container: container, instanceID: uuid.NewString()}
}

// Run executes the monitoring loop until cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	cfg := m.container.Config
	interval := cfg.Monitor.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.tick(ctx); err != nil && ctx.Err() == nil {
			m.container.Logger.Error("monitor tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	tracer := otel.Tracer("callcenter.monitor")
	tctx, span := tracer.Start(ctx, "monitor.tick")
	defer span.End()

	acquired, err := m.acquireLock(tctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !acquired {
		span.SetAttributes(attribute.Bool("lock.acquired", false))
		return nil
	}
	defer m.releaseLock(tctx)

	if err := m.broadcastStats(tctx); err != nil {
		span.RecordError(err)
		m.container.Logger.Warn("monitor: broadcast queue stats", zap.Error(err))
	}

	if err := m.reapStaleAssignments(tctx); err != nil {
		span.RecordError(err)
		m.container.Logger.Warn("monitor: reap stale assignments", zap.Error(err))
	}

	return nil
}

func (m *Monitor) broadcastStats(ctx context.Context) error {
	coord := m.container.Coordination()
	pubs := m.container.Publishers()
	logger := m.container.Logger

	names, err := coord.Queues.Queues(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
	}
	for _, name := range m.container.Config.Routing.Queues {
		if !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}

	available, err := coord.Registry.ListByStatus(ctx, domain.AgentAvailable)
	if err != nil {
		return err
	}
	busy, err := coord.Registry.ListByStatus(ctx, domain.AgentBusy)
	if err != nil {
		return err
	}

	sampledAt := time.Now().UTC()
	for _, name := range names {
		status, err := coord.Queues.Status(ctx, name)
		if err != nil {
			logger.Warn("monitor: queue status", zap.String("queue", name), zap.Error(err))
			continue
		}
		msg := notify.QueueStatsMessage{
			QueueName:            status.QueueName,
			Depth:                status.Depth,
			OldestWaitSeconds:    int(status.OldestWait / time.Second),
			EstimatedWaitSeconds: int(status.EstimatedWait / time.Second),
			AvailableAgents:      len(available),
			BusyAgents:           len(busy),
			SampledAt:            sampledAt,
		}
		if err := pubs.QueueStats.PublishQueueStats(ctx, msg); err != nil {
			logger.Warn("monitor: publish queue stats", zap.String("queue", name), zap.Error(err))
		}
	}

	return nil
}

// reapStaleAssignments releases calls whose selected agent never joined
// within the assignment window. The hold loop normally does this on the
// next poll; the reaper covers callers whose poll never came back.
func (m *Monitor) reapStaleAssignments(ctx context.Context) error {
	cfg := m.container.Config
	repos := m.container.Repositories()

	timeout := cfg.Routing.AssignTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cutoff := time.Now().UTC().Add(-timeout)

	stale, err := repos.Calls.ListAssignedBefore(ctx, cutoff, 100)
	if err != nil {
		return err
	}

	tracer := otel.Tracer("callcenter.monitor")
	for _, call := range stale {
		rctx, rspan := tracer.Start(ctx, "monitor.reap", trace.WithAttributes(
			attribute.String("call.ref", call.ExternalRef),
		))
		m.reapOne(rctx, call, rspan)
		rspan.End()
	}

	return nil
}

func (m *Monitor) reapOne(ctx context.Context, call *domain.Call, span trace.Span) {
	cfg := m.container.Config
	services := m.container.Services()
	coord := m.container.Coordination()
	logger := m.container.Logger

	agentID := ""
	if call.AgentID != nil {
		agentID = *call.AgentID
	}
	queueName := ""
	if call.QueueName != nil {
		queueName = *call.QueueName
	}

	released, err := services.Lifecycle.ReleaseAssignment(ctx, call.ExternalRef)
	if err != nil {
		span.RecordError(err)
		logger.Warn("monitor: release assignment",
			zap.String("call_ref", call.ExternalRef), zap.Error(err))
		return
	}

	if agentID != "" {
		if err := coord.Registry.SetStatus(ctx, agentID, domain.AgentAvailable, ""); err != nil {
			span.RecordError(err)
			logger.Warn("monitor: free claimed agent",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	if queueName != "" {
		_, err := coord.Queues.Enqueue(ctx, requeueEntry(released, cfg.Routing.DefaultPriority))
		if err != nil {
			span.RecordError(err)
			logger.Warn("monitor: re-enqueue released call",
				zap.String("call_ref", released.ExternalRef), zap.Error(err))
			return
		}
	}

	logger.Info("monitor: reclaimed stale assignment",
		zap.String("call_ref", released.ExternalRef),
		zap.String("agent_id", agentID),
		zap.String("queue", queueName))
}

// requeueEntry rebuilds the queue entry for a reclaimed call from its
// durable record, keeping the original priority and caller payload.
func requeueEntry(call *domain.Call, defaultPriority int) domain.QueuedCall {
	priority := call.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	entry := domain.QueuedCall{
		CallRef:      call.ExternalRef,
		Priority:     priority,
		Context:      call.Context,
		CallerNumber: call.FromNumber,
		EnqueuedAt:   call.CreatedAt,
	}
	if call.QueueName != nil {
		entry.QueueName = *call.QueueName
	}
	if name, ok := call.Context["caller_name"].(string); ok {
		entry.CallerName = name
	}
	return entry
}

func (m *Monitor) lockKey() string {
	prefix := m.container.Config.Monitor.LockKeyPrefix
	if prefix == "" {
		prefix = "monitor:lock:"
	}
	return prefix + "tick"
}

func (m *Monitor) acquireLock(ctx context.Context) (bool, error) {
	ttl := m.container.Config.Monitor.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return m.container.Redis.Inner().SetNX(ctx, m.lockKey(), m.instanceID, ttl).Result()
}

func (m *Monitor) releaseLock(ctx context.Context) {
	script := redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
	if err := script.Run(ctx, m.container.Redis.Inner(), []string{m.lockKey()}, m.instanceID).Err(); err != nil && err != redis.Nil {
		m.container.Logger.Warn("monitor: release lock", zap.Error(err))
	}
}
