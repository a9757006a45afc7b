package routing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/callcenter-router/internal/conference"
	"github.com/acme/callcenter-router/internal/config"
	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/lifecycle"
	"github.com/acme/callcenter-router/internal/notify"
	"github.com/acme/callcenter-router/internal/queuestore"
	"github.com/acme/callcenter-router/internal/registry"
	"github.com/acme/callcenter-router/internal/repository"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

// AgentSelector picks one claimable agent for a queue, or claims a
// specific agent for a direct transfer.
type AgentSelector interface {
	Select(ctx context.Context, queueName, callRef string) (domain.Agent, error)
	Claim(ctx context.Context, agentID, callRef string) (domain.Agent, error)
}

// AgentNotifier delivers assignment notifications to agents.
type AgentNotifier interface {
	NotifyAgent(ctx context.Context, note notify.AgentNotification) error
}

// CallEventSink publishes call events for downstream consumers.
type CallEventSink interface {
	PublishCallEvent(ctx context.Context, msg notify.CallEventMessage) error
}

// Coordinator orchestrates queueing, selection, conference setup and
// call state for every routing invocation. It is the error boundary:
// Route always returns a Decision, degrading to hold when a dependency
// fails, because a live caller must never be left without instructions.
type Coordinator struct {
	queues      queuestore.Store
	selector    AgentSelector
	registry    registry.Registry
	lifecycle   *lifecycle.Service
	conferences *conference.Manager
	notifier    AgentNotifier
	callEvents  CallEventSink
	events      repository.EventStore
	cfg         config.RoutingConfig
	log         *zap.Logger
}

// NewCoordinator constructs a routing coordinator. notifier, callEvents
// and events may be nil; those side channels are then skipped.
func NewCoordinator(
	queues queuestore.Store,
	sel AgentSelector,
	reg registry.Registry,
	lc *lifecycle.Service,
	conferences *conference.Manager,
	notifier AgentNotifier,
	callEvents CallEventSink,
	events repository.EventStore,
	cfg config.RoutingConfig,
	log *zap.Logger,
) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		queues:      queues,
		selector:    sel,
		registry:    reg,
		lifecycle:   lc,
		conferences: conferences,
		notifier:    notifier,
		callEvents:  callEvents,
		events:      events,
		cfg:         cfg,
		log:         log,
	}
}

// RouteRequest carries one routing invocation.
type RouteRequest struct {
	QueueName    string
	CallRef      string
	Priority     int
	Urgency      string
	CallerNumber string
	CallerName   string
	Context      map[string]any
}

func (r RouteRequest) priority(defaultPriority int) int {
	if r.Priority >= 1 && r.Priority <= 10 {
		return r.Priority
	}
	if r.Urgency != "" {
		return domain.PriorityFromUrgency(r.Urgency)
	}
	if defaultPriority >= 1 && defaultPriority <= 10 {
		return defaultPriority
	}
	return 5
}

// Route produces the routing decision for one invocation. Invoked on
// first contact and again on every hold-loop callback for the same
// call reference; both paths are idempotent.
func (c *Coordinator) Route(ctx context.Context, req RouteRequest) Decision {
	if req.CallRef == "" || req.QueueName == "" {
		return Decision{
			Action:  ActionEnd,
			CallRef: req.CallRef,
			Message: "We are sorry, we cannot route your call right now. Please call back later.",
		}
	}

	if req.CallerName != "" {
		if req.Context == nil {
			req.Context = map[string]any{}
		}
		if _, ok := req.Context["caller_name"]; !ok {
			req.Context["caller_name"] = req.CallerName
		}
	}

	call, err := c.lifecycle.UpsertWaiting(ctx, lifecycle.UpsertParams{
		ExternalRef: req.CallRef,
		QueueName:   req.QueueName,
		Priority:    req.priority(c.cfg.DefaultPriority),
		FromNumber:  req.CallerNumber,
		Context:     req.Context,
	})
	if err != nil {
		c.log.Error("call upsert failed, degrading to hold",
			zap.String("call_ref", req.CallRef), zap.Error(err))
		return c.holdDecision(req, 0, 0)
	}

	// Hold-loop callbacks carry only the call reference; the first
	// contact's payload lives on the call record.
	if req.Context == nil {
		req.Context = call.Context
	}
	if req.CallerNumber == "" {
		req.CallerNumber = call.FromNumber
	}
	if req.CallerName == "" {
		if name, ok := req.Context["caller_name"].(string); ok {
			req.CallerName = name
		}
	}
	if req.Priority == 0 && call.Priority != 0 {
		req.Priority = call.Priority
	}

	switch call.Status {
	case domain.CallStatusActive:
		if call.ConferenceName != nil {
			return Decision{
				Action:         ActionJoinConference,
				CallRef:        req.CallRef,
				QueueName:      req.QueueName,
				ConferenceName: *call.ConferenceName,
				Message:        "Reconnecting you now.",
			}
		}
	case domain.CallStatusEnded, domain.CallStatusFailed:
		return Decision{
			Action:  ActionEnd,
			CallRef: req.CallRef,
			Message: "This call is complete. Goodbye.",
		}
	case domain.CallStatusAssigned:
		if call.AssignedAt != nil && time.Since(*call.AssignedAt) < c.assignTimeout() {
			// Claimed agent still has time to join.
			return Decision{
				Action:     ActionHold,
				CallRef:    req.CallRef,
				QueueName:  req.QueueName,
				Message:    "Connecting you to an agent now, one moment.",
				RetryAfter: c.holdRetry(),
			}
		}
		released, err := c.lifecycle.ReleaseAssignment(ctx, req.CallRef)
		if err != nil {
			c.log.Error("assignment release failed, degrading to hold",
				zap.String("call_ref", req.CallRef), zap.Error(err))
			return c.holdDecision(req, 0, 0)
		}
		call = released
		c.log.Warn("agent never joined, call returned to queue",
			zap.String("call_ref", req.CallRef))
	}

	if err := c.lifecycle.EnsureInitialLeg(ctx, call.ID, c.fallbackTarget(req.QueueName)); err != nil {
		c.log.Warn("initial leg not recorded",
			zap.String("call_ref", req.CallRef), zap.Error(err))
	}

	enq, err := c.queues.Enqueue(ctx, domain.QueuedCall{
		CallRef:      req.CallRef,
		QueueName:    req.QueueName,
		Priority:     req.priority(c.cfg.DefaultPriority),
		Context:      req.Context,
		CallerNumber: req.CallerNumber,
		CallerName:   req.CallerName,
		EnqueuedAt:   call.CreatedAt,
	})
	if err != nil {
		c.log.Error("enqueue failed, degrading to hold",
			zap.String("call_ref", req.CallRef), zap.Error(err))
		return c.holdDecision(req, 0, 0)
	}

	agent, err := c.selector.Select(ctx, req.QueueName, req.CallRef)
	if apperrors.Is(err, apperrors.ErrNoAgent) {
		return c.noCandidate(ctx, req, call, enq)
	}
	if err != nil {
		c.log.Error("selection failed, degrading to hold",
			zap.String("call_ref", req.CallRef), zap.Error(err))
		return c.holdDecision(req, enq.Position, enq.EstimatedWait)
	}

	return c.assign(ctx, req, call, agent, enq, domain.ReasonTakeover)
}

func (c *Coordinator) assign(ctx context.Context, req RouteRequest, call *domain.Call, agent domain.Agent, enq queuestore.EnqueueResult, reason domain.TransitionReason) Decision {
	if req.QueueName != "" {
		if _, err := c.queues.Remove(ctx, req.QueueName, req.CallRef); err != nil {
			c.log.Warn("queue entry removal failed",
				zap.String("call_ref", req.CallRef), zap.Error(err))
		}
	}

	confName := domain.InteractionConferenceName(req.CallRef)
	conf := &domain.Conference{
		Name: confName,
		Type: domain.ConferenceTypeInteraction,
	}
	if req.QueueName != "" {
		conf.QueueName = &req.QueueName
	}
	if _, err := c.conferences.GetOrCreate(ctx, conf); err != nil {
		c.log.Error("conference setup failed, releasing agent",
			zap.String("call_ref", req.CallRef), zap.Error(err))
		c.releaseClaim(ctx, agent.ID, req, call)
		return c.holdDecision(req, enq.Position, enq.EstimatedWait)
	}

	if err := c.conferences.ExpectParticipant(ctx, confName, req.CallRef, conference.ParticipantHint{
		Type:          domain.ParticipantCustomer,
		ParticipantID: req.CallRef,
		CallID:        &call.ID,
	}); err != nil {
		c.log.Warn("participant hint not stored",
			zap.String("call_ref", req.CallRef), zap.Error(err))
	}

	if _, err := c.lifecycle.Assign(ctx, req.CallRef, agent.ID, confName, reason); err != nil {
		c.log.Error("assignment failed, releasing agent",
			zap.String("call_ref", req.CallRef), zap.Error(err))
		c.releaseClaim(ctx, agent.ID, req, call)
		return c.holdDecision(req, enq.Position, enq.EstimatedWait)
	}

	if c.notifier != nil {
		if err := c.notifier.NotifyAgent(ctx, notify.AgentNotification{
			CallRef:        req.CallRef,
			CallerNumber:   req.CallerNumber,
			CallerName:     req.CallerName,
			QueueName:      req.QueueName,
			Context:        req.Context,
			ConferenceName: confName,
			AgentID:        agent.ID,
		}); err != nil {
			// The join timeout requeues the call if the agent never hears
			// about it.
			c.log.Warn("agent notification failed",
				zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}

	c.publishCallEvent(ctx, notify.CallEventMessage{
		CallRef:   req.CallRef,
		EventType: "call.assigned",
		QueueName: req.QueueName,
		AgentID:   agent.ID,
	})
	c.archive(ctx, req.CallRef, "routing.assigned", map[string]any{
		"queue":      req.QueueName,
		"agent_id":   agent.ID,
		"conference": confName,
	})

	return Decision{
		Action:         ActionJoinConference,
		CallRef:        req.CallRef,
		QueueName:      req.QueueName,
		ConferenceName: confName,
		AgentID:        agent.ID,
		Message:        "Connecting you to an agent now.",
	}
}

func (c *Coordinator) noCandidate(ctx context.Context, req RouteRequest, call *domain.Call, enq queuestore.EnqueueResult) Decision {
	elapsed := time.Since(call.CreatedAt)
	if elapsed >= c.maxWait() {
		target := c.fallbackTarget(req.QueueName)
		if _, err := c.queues.Remove(ctx, req.QueueName, req.CallRef); err != nil {
			c.log.Warn("queue entry removal failed",
				zap.String("call_ref", req.CallRef), zap.Error(err))
		}
		c.publishCallEvent(ctx, notify.CallEventMessage{
			CallRef:   req.CallRef,
			EventType: "call.ai_fallback",
			QueueName: req.QueueName,
		})
		c.archive(ctx, req.CallRef, "routing.ai_fallback", map[string]any{
			"queue":           req.QueueName,
			"fallback_target": target,
			"waited_seconds":  int(elapsed.Seconds()),
		})
		return Decision{
			Action:         ActionTransferAI,
			CallRef:        req.CallRef,
			QueueName:      req.QueueName,
			FallbackTarget: target,
			Message:        "All of our agents are still busy. Transferring you to our automated assistant.",
		}
	}

	c.archive(ctx, req.CallRef, "routing.hold", map[string]any{
		"queue":    req.QueueName,
		"position": enq.Position,
	})
	return c.holdDecision(req, enq.Position, enq.EstimatedWait)
}

func (c *Coordinator) holdDecision(req RouteRequest, position int, estimatedWait time.Duration) Decision {
	message := "All of our agents are currently busy. Please hold and we will connect you shortly."
	if position > 0 {
		minutes := int(estimatedWait.Minutes())
		if minutes < 1 {
			minutes = 1
		}
		message = fmt.Sprintf("You are number %d in line. Estimated wait time is about %d minutes. Please hold.", position, minutes)
	}
	return Decision{
		Action:        ActionHold,
		CallRef:       req.CallRef,
		QueueName:     req.QueueName,
		Message:       message,
		Position:      position,
		EstimatedWait: estimatedWait,
		RetryAfter:    c.holdRetry(),
	}
}

// releaseClaim undoes a successful selection whose assignment could not
// complete, returning the agent to the available pool.
func (c *Coordinator) releaseClaim(ctx context.Context, agentID string, req RouteRequest, call *domain.Call) {
	if err := c.registry.SetStatus(ctx, agentID, domain.AgentAvailable, ""); err != nil {
		c.log.Warn("agent release failed",
			zap.String("agent_id", agentID), zap.Error(err))
	}
	if req.QueueName == "" {
		return
	}
	// Put the call back in line; it was removed during the attempt.
	if _, err := c.queues.Enqueue(ctx, domain.QueuedCall{
		CallRef:      req.CallRef,
		QueueName:    req.QueueName,
		Priority:     req.priority(c.cfg.DefaultPriority),
		Context:      req.Context,
		CallerNumber: req.CallerNumber,
		CallerName:   req.CallerName,
		EnqueuedAt:   call.CreatedAt,
	}); err != nil {
		c.log.Warn("re-enqueue failed",
			zap.String("call_ref", req.CallRef), zap.Error(err))
	}
}

// Cancel removes a call from routing: its queue entry is deleted and
// the call record closed. Used when the caller hangs up while waiting.
func (c *Coordinator) Cancel(ctx context.Context, callRef string) error {
	call, err := c.lifecycle.End(ctx, callRef, domain.ReasonHangup)
	if err != nil {
		return fmt.Errorf("routing: cancel %s: %w", callRef, err)
	}
	if call.QueueName != nil {
		if _, err := c.queues.Remove(ctx, *call.QueueName, callRef); err != nil {
			c.log.Warn("queue entry removal failed",
				zap.String("call_ref", callRef), zap.Error(err))
		}
	}
	c.publishCallEvent(ctx, notify.CallEventMessage{
		CallRef:   callRef,
		EventType: "call.cancelled",
	})
	return nil
}

// Transfer moves a call into another queue at escalated priority and
// routes it there immediately.
func (c *Coordinator) Transfer(ctx context.Context, callRef, targetQueue string, priority int) Decision {
	if priority < 1 || priority > 10 {
		priority = 7
	}
	req := RouteRequest{QueueName: targetQueue, CallRef: callRef, Priority: priority}

	call, err := c.lifecycle.UpsertWaiting(ctx, lifecycle.UpsertParams{ExternalRef: callRef, QueueName: targetQueue})
	if err != nil {
		c.log.Error("transfer lookup failed, degrading to hold",
			zap.String("call_ref", callRef), zap.Error(err))
		return c.holdDecision(req, 0, 0)
	}
	if call.QueueName != nil && *call.QueueName != targetQueue {
		if _, err := c.queues.Remove(ctx, *call.QueueName, callRef); err != nil {
			c.log.Warn("queue entry removal failed",
				zap.String("call_ref", callRef), zap.Error(err))
		}
	}
	req.Context = call.Context
	req.CallerNumber = call.FromNumber

	call.QueueName = &targetQueue
	if err := c.lifecycle.UpdateQueue(ctx, callRef, targetQueue, priority); err != nil {
		c.log.Warn("queue reassignment not persisted",
			zap.String("call_ref", callRef), zap.Error(err))
	}
	c.archive(ctx, callRef, "routing.transfer", map[string]any{
		"target_queue": targetQueue,
		"priority":     priority,
	})
	return c.Route(ctx, req)
}

// TransferToAgent hands the call to one named agent, skipping queue
// selection. The agent is availability-checked and claimed in one step;
// an unclaimable agent fails the transfer without touching the call.
func (c *Coordinator) TransferToAgent(ctx context.Context, callRef, agentID string) (Decision, error) {
	call, err := c.lifecycle.UpsertWaiting(ctx, lifecycle.UpsertParams{ExternalRef: callRef})
	if err != nil {
		return Decision{}, fmt.Errorf("routing: transfer lookup %s: %w", callRef, err)
	}
	if call.Status == domain.CallStatusEnded || call.Status == domain.CallStatusFailed {
		return Decision{}, fmt.Errorf("%w: call %s is %s", apperrors.ErrInvalidTransition, callRef, call.Status)
	}

	agent, err := c.selector.Claim(ctx, agentID, callRef)
	if err != nil {
		return Decision{}, err
	}
	var priorAgent string
	if call.AgentID != nil {
		priorAgent = *call.AgentID
	}

	req := RouteRequest{
		CallRef:      callRef,
		CallerNumber: call.FromNumber,
		Context:      call.Context,
	}
	if call.QueueName != nil {
		req.QueueName = *call.QueueName
	}
	if name, ok := call.Context["caller_name"].(string); ok {
		req.CallerName = name
	}
	c.archive(ctx, callRef, "routing.transfer", map[string]any{
		"target_agent": agentID,
	})

	decision := c.assign(ctx, req, call, agent, queuestore.EnqueueResult{}, domain.ReasonTransfer)
	if decision.Action != ActionJoinConference {
		return decision, fmt.Errorf("%w: transfer to agent %s did not complete", apperrors.ErrUnavailable, agentID)
	}

	if priorAgent != "" && priorAgent != agentID {
		if err := c.registry.SetStatus(ctx, priorAgent, domain.AgentAvailable, ""); err != nil {
			c.log.Warn("prior agent release failed",
				zap.String("agent_id", priorAgent), zap.Error(err))
		}
	}
	return decision, nil
}

func (c *Coordinator) publishCallEvent(ctx context.Context, msg notify.CallEventMessage) {
	if c.callEvents == nil {
		return
	}
	if err := c.callEvents.PublishCallEvent(ctx, msg); err != nil {
		c.log.Warn("call event publish failed",
			zap.String("call_ref", msg.CallRef), zap.Error(err))
	}
}

func (c *Coordinator) archive(ctx context.Context, callRef, eventType string, payload map[string]any) {
	if c.events == nil {
		return
	}
	if err := c.events.Append(ctx, domain.CallEvent{
		CallRef:   callRef,
		EventType: eventType,
		Source:    "router",
		Payload:   payload,
	}); err != nil {
		c.log.Warn("event archive failed",
			zap.String("call_ref", callRef), zap.Error(err))
	}
}

func (c *Coordinator) holdRetry() time.Duration {
	if c.cfg.HoldRetry > 0 {
		return c.cfg.HoldRetry
	}
	return 15 * time.Second
}

func (c *Coordinator) maxWait() time.Duration {
	if c.cfg.MaxWait > 0 {
		return c.cfg.MaxWait
	}
	return 120 * time.Second
}

func (c *Coordinator) assignTimeout() time.Duration {
	if c.cfg.AssignTimeout > 0 {
		return c.cfg.AssignTimeout
	}
	return 30 * time.Second
}

func (c *Coordinator) fallbackTarget(queueName string) string {
	if target, ok := c.cfg.AIFallback[queueName]; ok && target != "" {
		return target
	}
	return queueName + "-ai"
}
