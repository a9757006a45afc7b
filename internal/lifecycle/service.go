package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/repository"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

// Service owns call and call-leg state transitions. All status changes
// go through here so the transition rules live in one place.
type Service struct {
	calls repository.CallRepository
	legs  repository.CallLegRepository
	log   *zap.Logger
}

// NewService constructs a lifecycle service.
func NewService(calls repository.CallRepository, legs repository.CallLegRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{calls: calls, legs: legs, log: log}
}

// canTransition encodes the call state machine. assigned may fall back
// to waiting when the claimed agent never joins.
func canTransition(from, to domain.CallStatus) bool {
	switch from {
	case domain.CallStatusWaiting:
		return to == domain.CallStatusAssigned || to == domain.CallStatusActive ||
			to == domain.CallStatusEnded || to == domain.CallStatusFailed
	case domain.CallStatusAssigned:
		// assigned -> assigned is a handoff to a different agent.
		return to == domain.CallStatusAssigned || to == domain.CallStatusActive ||
			to == domain.CallStatusWaiting || to == domain.CallStatusEnded ||
			to == domain.CallStatusFailed
	case domain.CallStatusActive:
		return to == domain.CallStatusAssigned || to == domain.CallStatusEnded
	default:
		return false
	}
}

// UpsertParams describe the call to register or refresh.
type UpsertParams struct {
	ExternalRef string
	Direction   domain.Direction
	HandlerType domain.HandlerType
	QueueName   string
	Priority    int
	FromNumber  string
	ToNumber    string
	Context     map[string]any
}

// UpsertWaiting returns the call for the reference, creating a waiting
// record on first contact. An existing call is returned unchanged, so
// replayed webhooks cannot reset state.
func (s *Service) UpsertWaiting(ctx context.Context, params UpsertParams) (*domain.Call, error) {
	if params.ExternalRef == "" {
		return nil, fmt.Errorf("%w: external ref is required", apperrors.ErrValidation)
	}

	existing, err := s.calls.GetByRef(ctx, params.ExternalRef)
	if err == nil {
		return existing, nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("lifecycle: lookup call: %w", err)
	}

	call := &domain.Call{
		ExternalRef: params.ExternalRef,
		Direction:   params.Direction,
		HandlerType: params.HandlerType,
		Status:      domain.CallStatusWaiting,
		FromNumber:  params.FromNumber,
		ToNumber:    params.ToNumber,
		Context:     params.Context,
		CreatedAt:   time.Now().UTC(),
	}
	if params.QueueName != "" {
		call.QueueName = &params.QueueName
	}
	if params.Priority != 0 {
		call.Priority = domain.ClampPriority(params.Priority)
	}
	if call.HandlerType == "" {
		call.HandlerType = domain.HandlerAI
	}
	if call.Direction == "" {
		call.Direction = domain.DirectionInbound
	}

	if err := s.calls.Create(ctx, call); err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			// Lost a create race; the other writer's record wins.
			return s.calls.GetByRef(ctx, params.ExternalRef)
		}
		return nil, fmt.Errorf("lifecycle: create call: %w", err)
	}
	s.log.Info("call registered",
		zap.String("call_ref", call.ExternalRef),
		zap.Stringp("queue", call.QueueName))
	return call, nil
}

// StartInitialLeg opens leg 1 for a call that has no legs yet.
func (s *Service) StartInitialLeg(ctx context.Context, callID int64, leg *domain.CallLeg) error {
	leg.CallID = callID
	leg.Status = domain.LegStatusConnecting
	if err := s.legs.CreateInitial(ctx, leg); err != nil {
		return fmt.Errorf("lifecycle: initial leg: %w", err)
	}
	return nil
}

// EnsureInitialLeg opens the intake AI leg for a call that has no leg
// history yet. Calls that already have legs are left alone.
func (s *Service) EnsureInitialLeg(ctx context.Context, callID int64, aiAgentName string) error {
	legs, err := s.legs.ListByCall(ctx, callID)
	if err != nil {
		return fmt.Errorf("lifecycle: leg history: %w", err)
	}
	if len(legs) > 0 {
		return nil
	}
	leg := &domain.CallLeg{
		CallID:  callID,
		LegType: domain.LegTypeAIAgent,
		Status:  domain.LegStatusConnecting,
	}
	if aiAgentName != "" {
		leg.AIAgentName = &aiAgentName
	}
	if err := s.legs.CreateInitial(ctx, leg); err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			return nil
		}
		return fmt.Errorf("lifecycle: initial leg: %w", err)
	}
	return nil
}

// Assign claims the call for an agent: waiting -> assigned, a new human
// leg replacing whatever leg was open. The prior leg is closed with the
// given reason in the same operation that creates its successor. A
// transfer produces a transfer-typed leg.
func (s *Service) Assign(ctx context.Context, callRef, agentID, conferenceName string, priorReason domain.TransitionReason) (*domain.Call, error) {
	call, err := s.calls.GetByRef(ctx, callRef)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: lookup call %s: %w", callRef, err)
	}
	if !canTransition(call.Status, domain.CallStatusAssigned) {
		return nil, fmt.Errorf("%w: %s -> assigned for call %s", apperrors.ErrInvalidTransition, call.Status, callRef)
	}

	now := time.Now().UTC()
	call.Status = domain.CallStatusAssigned
	call.HandlerType = domain.HandlerHuman
	call.AgentID = &agentID
	call.ConferenceName = &conferenceName
	call.AssignedAt = &now
	if err := s.calls.Update(ctx, call); err != nil {
		return nil, fmt.Errorf("lifecycle: update call %s: %w", callRef, err)
	}

	legType := domain.LegTypeHumanAgent
	if priorReason == domain.ReasonTransfer {
		legType = domain.LegTypeTransfer
	}
	leg := &domain.CallLeg{
		CallID:         call.ID,
		LegType:        legType,
		AgentID:        &agentID,
		ConferenceName: &conferenceName,
	}
	if err := s.createLeg(ctx, call.ID, leg, priorReason); err != nil {
		return nil, err
	}

	s.log.Info("call assigned",
		zap.String("call_ref", callRef),
		zap.String("agent_id", agentID),
		zap.String("conference", conferenceName))
	return call, nil
}

func (s *Service) createLeg(ctx context.Context, callID int64, leg *domain.CallLeg, priorReason domain.TransitionReason) error {
	if _, err := s.legs.OpenLeg(ctx, callID); apperrors.Is(err, apperrors.ErrNotFound) {
		if err := s.legs.CreateInitial(ctx, leg); err == nil {
			return nil
		}
		// Raced with another leg writer; fall through to CreateNext.
	} else if err != nil {
		return fmt.Errorf("lifecycle: open leg lookup: %w", err)
	}
	if err := s.legs.CreateNext(ctx, leg, priorReason); err != nil {
		return fmt.Errorf("lifecycle: next leg: %w", err)
	}
	return nil
}

// ConfirmActive marks the call live once the customer's join is
// confirmed. The agent joining is not the signal; the customer is.
func (s *Service) ConfirmActive(ctx context.Context, callRef string) (*domain.Call, error) {
	call, err := s.calls.GetByRef(ctx, callRef)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: lookup call %s: %w", callRef, err)
	}
	if call.Status == domain.CallStatusActive {
		return call, nil
	}
	if !canTransition(call.Status, domain.CallStatusActive) {
		return nil, fmt.Errorf("%w: %s -> active for call %s", apperrors.ErrInvalidTransition, call.Status, callRef)
	}

	now := time.Now().UTC()
	call.Status = domain.CallStatusActive
	call.AnsweredAt = &now
	if err := s.calls.Update(ctx, call); err != nil {
		return nil, fmt.Errorf("lifecycle: update call %s: %w", callRef, err)
	}

	if leg, err := s.legs.OpenLeg(ctx, call.ID); err == nil && leg.Status == domain.LegStatusConnecting {
		if err := s.legs.MarkActive(ctx, leg.ID, now); err != nil {
			s.log.Warn("leg activation failed", zap.String("call_ref", callRef), zap.Error(err))
		}
	}
	return call, nil
}

// End closes the call and its open leg.
func (s *Service) End(ctx context.Context, callRef string, reason domain.TransitionReason) (*domain.Call, error) {
	call, err := s.calls.GetByRef(ctx, callRef)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: lookup call %s: %w", callRef, err)
	}
	if call.Status == domain.CallStatusEnded {
		return call, nil
	}
	if !canTransition(call.Status, domain.CallStatusEnded) {
		return nil, fmt.Errorf("%w: %s -> ended for call %s", apperrors.ErrInvalidTransition, call.Status, callRef)
	}

	now := time.Now().UTC()
	call.Status = domain.CallStatusEnded
	call.EndedAt = &now
	if err := s.calls.Update(ctx, call); err != nil {
		return nil, fmt.Errorf("lifecycle: update call %s: %w", callRef, err)
	}
	s.closeOpenLeg(ctx, call, reason, now)

	s.log.Info("call ended",
		zap.String("call_ref", callRef),
		zap.String("reason", string(reason)))
	return call, nil
}

// Fail marks a non-live call failed.
func (s *Service) Fail(ctx context.Context, callRef string, reason domain.TransitionReason) (*domain.Call, error) {
	call, err := s.calls.GetByRef(ctx, callRef)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: lookup call %s: %w", callRef, err)
	}
	if call.Status == domain.CallStatusFailed {
		return call, nil
	}
	if !canTransition(call.Status, domain.CallStatusFailed) {
		return nil, fmt.Errorf("%w: %s -> failed for call %s", apperrors.ErrInvalidTransition, call.Status, callRef)
	}

	now := time.Now().UTC()
	call.Status = domain.CallStatusFailed
	call.EndedAt = &now
	if err := s.calls.Update(ctx, call); err != nil {
		return nil, fmt.Errorf("lifecycle: update call %s: %w", callRef, err)
	}
	s.closeOpenLeg(ctx, call, reason, now)
	return call, nil
}

// ReleaseAssignment returns an assigned call to waiting, clearing the
// agent claim. Used when the claimed agent never joined in time.
func (s *Service) ReleaseAssignment(ctx context.Context, callRef string) (*domain.Call, error) {
	call, err := s.calls.GetByRef(ctx, callRef)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: lookup call %s: %w", callRef, err)
	}
	if call.Status != domain.CallStatusAssigned {
		return nil, fmt.Errorf("%w: %s -> waiting for call %s", apperrors.ErrInvalidTransition, call.Status, callRef)
	}

	now := time.Now().UTC()
	call.Status = domain.CallStatusWaiting
	call.AgentID = nil
	call.ConferenceName = nil
	call.AssignedAt = nil
	if err := s.calls.Update(ctx, call); err != nil {
		return nil, fmt.Errorf("lifecycle: update call %s: %w", callRef, err)
	}
	s.closeOpenLeg(ctx, call, domain.ReasonQueueRouting, now)

	s.log.Warn("assignment released", zap.String("call_ref", callRef))
	return call, nil
}

func (s *Service) closeOpenLeg(ctx context.Context, call *domain.Call, reason domain.TransitionReason, at time.Time) {
	leg, err := s.legs.OpenLeg(ctx, call.ID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn("open leg lookup failed", zap.String("call_ref", call.ExternalRef), zap.Error(err))
		return
	}
	if err := s.legs.Close(ctx, leg.ID, reason, at); err != nil {
		s.log.Warn("leg close failed", zap.String("call_ref", call.ExternalRef), zap.Error(err))
	}
}

// UpdateQueue points a non-terminal call at a different queue, updating
// its stored priority when one is given.
func (s *Service) UpdateQueue(ctx context.Context, callRef, queueName string, priority int) error {
	call, err := s.calls.GetByRef(ctx, callRef)
	if err != nil {
		return fmt.Errorf("lifecycle: lookup call %s: %w", callRef, err)
	}
	if call.Status.Terminal() {
		return fmt.Errorf("%w: call %s is %s", apperrors.ErrInvalidTransition, callRef, call.Status)
	}
	call.QueueName = &queueName
	if priority != 0 {
		call.Priority = domain.ClampPriority(priority)
	}
	if err := s.calls.Update(ctx, call); err != nil {
		return fmt.Errorf("lifecycle: update call %s: %w", callRef, err)
	}
	return nil
}

// ApplyPlatformState folds a raw platform call-state webhook into the
// state machine. Unknown and non-advancing states are ignored.
func (s *Service) ApplyPlatformState(ctx context.Context, callRef, state string) (*domain.Call, error) {
	target := domain.MapPlatformState(state)
	switch target {
	case domain.CallStatusActive:
		return s.ConfirmActive(ctx, callRef)
	case domain.CallStatusEnded:
		return s.End(ctx, callRef, domain.ReasonHangup)
	case domain.CallStatusFailed:
		return s.Fail(ctx, callRef, domain.ReasonHangup)
	default:
		return s.calls.GetByRef(ctx, callRef)
	}
}

// Legs returns the full leg history of a call.
func (s *Service) Legs(ctx context.Context, callID int64) ([]domain.CallLeg, error) {
	return s.legs.ListByCall(ctx, callID)
}
