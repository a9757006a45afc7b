package lifecycle

import (
	"context"
	"testing"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/repository/memory"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store.Calls(), store.Legs(), nil), store
}

func registerCall(t *testing.T, svc *Service, ref string) *domain.Call {
	t.Helper()
	call, err := svc.UpsertWaiting(context.Background(), UpsertParams{
		ExternalRef: ref,
		QueueName:   "support",
		FromNumber:  "+15550001111",
		ToNumber:    "+15559990000",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return call
}

func TestUpsertWaitingIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	first := registerCall(t, svc, "call-1")
	if first.Status != domain.CallStatusWaiting {
		t.Fatalf("expected waiting, got %s", first.Status)
	}

	again, err := svc.UpsertWaiting(context.Background(), UpsertParams{ExternalRef: "call-1"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same call record, got %d and %d", first.ID, again.ID)
	}
}

func TestEnsureInitialLegIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	call := registerCall(t, svc, "call-1")

	if err := svc.EnsureInitialLeg(ctx, call.ID, "triage-bot"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := svc.EnsureInitialLeg(ctx, call.ID, "triage-bot"); err != nil {
		t.Fatalf("repeat ensure: %v", err)
	}

	legs, err := store.Legs().ListByCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	if len(legs) != 1 {
		t.Fatalf("expected one leg, got %d", len(legs))
	}
	if legs[0].LegType != domain.LegTypeAIAgent || legs[0].Status != domain.LegStatusConnecting {
		t.Fatalf("unexpected leg %s %s", legs[0].LegType, legs[0].Status)
	}
}

func TestAssignWithTransferReasonCreatesTransferLeg(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	call := registerCall(t, svc, "call-1")

	if _, err := svc.Assign(ctx, "call-1", "agent-a", "interaction-call-1", domain.ReasonQueueRouting); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.Assign(ctx, "call-1", "agent-b", "interaction-call-1", domain.ReasonTransfer); err != nil {
		t.Fatalf("handoff: %v", err)
	}

	legs, err := store.Legs().ListByCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	last := legs[len(legs)-1]
	if last.LegType != domain.LegTypeTransfer {
		t.Fatalf("expected transfer leg, got %s", last.LegType)
	}
	if last.AgentID == nil || *last.AgentID != "agent-b" {
		t.Fatalf("expected agent-b on transfer leg, got %v", last.AgentID)
	}
}

func TestAssignClosesPriorLegBeforeCreatingNext(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	call := registerCall(t, svc, "call-1")

	aiName := "triage-bot"
	if err := svc.StartInitialLeg(ctx, call.ID, &domain.CallLeg{
		LegType:     domain.LegTypeAIAgent,
		AIAgentName: &aiName,
	}); err != nil {
		t.Fatalf("initial leg: %v", err)
	}

	if _, err := svc.Assign(ctx, "call-1", "agent-a", "agent-conf-agent-a", domain.ReasonTakeover); err != nil {
		t.Fatalf("assign: %v", err)
	}

	legs, err := svc.Legs(ctx, call.ID)
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	if len(legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(legs))
	}

	prior, next := legs[0], legs[1]
	if prior.Status != domain.LegStatusCompleted {
		t.Fatalf("expected prior leg completed, got %s", prior.Status)
	}
	if prior.TransitionReason == nil || *prior.TransitionReason != domain.ReasonTakeover {
		t.Fatalf("expected takeover reason on prior leg, got %v", prior.TransitionReason)
	}
	if prior.DurationSeconds == nil {
		t.Fatal("expected duration on closed leg")
	}
	if next.LegNumber != 2 || next.Status != domain.LegStatusConnecting {
		t.Fatalf("expected leg 2 connecting, got %d %s", next.LegNumber, next.Status)
	}

	open := 0
	for _, leg := range legs {
		if leg.Status == domain.LegStatusConnecting || leg.Status == domain.LegStatusActive {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one open leg, got %d", open)
	}
}

func TestConfirmActiveActivatesCallAndLeg(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	call := registerCall(t, svc, "call-1")

	if _, err := svc.Assign(ctx, "call-1", "agent-a", "agent-conf-agent-a", domain.ReasonQueueRouting); err != nil {
		t.Fatalf("assign: %v", err)
	}
	updated, err := svc.ConfirmActive(ctx, "call-1")
	if err != nil {
		t.Fatalf("confirm active: %v", err)
	}
	if updated.Status != domain.CallStatusActive {
		t.Fatalf("expected active, got %s", updated.Status)
	}
	if updated.AnsweredAt == nil {
		t.Fatal("expected answered timestamp")
	}

	legs, err := svc.Legs(ctx, call.ID)
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	if legs[0].Status != domain.LegStatusActive {
		t.Fatalf("expected active leg, got %s", legs[0].Status)
	}
}

func TestEndClosesCallAndOpenLeg(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	call := registerCall(t, svc, "call-1")

	if _, err := svc.Assign(ctx, "call-1", "agent-a", "agent-conf-agent-a", domain.ReasonQueueRouting); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.ConfirmActive(ctx, "call-1"); err != nil {
		t.Fatalf("confirm active: %v", err)
	}
	ended, err := svc.End(ctx, "call-1", domain.ReasonCustomerLeft)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != domain.CallStatusEnded || ended.EndedAt == nil {
		t.Fatalf("expected ended with timestamp, got %+v", ended)
	}

	legs, err := svc.Legs(ctx, call.ID)
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	last := legs[len(legs)-1]
	if last.Status != domain.LegStatusCompleted {
		t.Fatalf("expected closed leg, got %s", last.Status)
	}
	if last.TransitionReason == nil || *last.TransitionReason != domain.ReasonCustomerLeft {
		t.Fatalf("expected customer_left reason, got %v", last.TransitionReason)
	}
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	registerCall(t, svc, "call-1")

	if _, err := svc.End(ctx, "call-1", domain.ReasonHangup); err != nil {
		t.Fatalf("end from waiting: %v", err)
	}
	if _, err := svc.Assign(ctx, "call-1", "agent-a", "conf", domain.ReasonQueueRouting); !apperrors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := svc.ConfirmActive(ctx, "call-1"); !apperrors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestReleaseAssignmentReturnsCallToWaiting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	registerCall(t, svc, "call-1")

	if _, err := svc.Assign(ctx, "call-1", "agent-a", "agent-conf-agent-a", domain.ReasonQueueRouting); err != nil {
		t.Fatalf("assign: %v", err)
	}
	released, err := svc.ReleaseAssignment(ctx, "call-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != domain.CallStatusWaiting {
		t.Fatalf("expected waiting, got %s", released.Status)
	}
	if released.AgentID != nil || released.AssignedAt != nil {
		t.Fatalf("expected claim cleared, got %+v", released)
	}
}

func TestApplyPlatformStateMapsStates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	registerCall(t, svc, "call-1")

	call, err := svc.ApplyPlatformState(ctx, "call-1", "ringing")
	if err != nil {
		t.Fatalf("apply ringing: %v", err)
	}
	if call.Status != domain.CallStatusWaiting {
		t.Fatalf("expected waiting after ringing, got %s", call.Status)
	}

	call, err = svc.ApplyPlatformState(ctx, "call-1", "answered")
	if err != nil {
		t.Fatalf("apply answered: %v", err)
	}
	if call.Status != domain.CallStatusActive {
		t.Fatalf("expected active after answered, got %s", call.Status)
	}

	call, err = svc.ApplyPlatformState(ctx, "call-1", "ended")
	if err != nil {
		t.Fatalf("apply ended: %v", err)
	}
	if call.Status != domain.CallStatusEnded {
		t.Fatalf("expected ended, got %s", call.Status)
	}

	registerCall(t, svc, "call-2")
	call, err = svc.ApplyPlatformState(ctx, "call-2", "no-answer")
	if err != nil {
		t.Fatalf("apply no-answer: %v", err)
	}
	if call.Status != domain.CallStatusFailed {
		t.Fatalf("expected failed after no-answer, got %s", call.Status)
	}
}
