package conference

import (
	"context"
	"sync"
	"testing"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/lifecycle"
	"github.com/acme/callcenter-router/internal/repository/memory"
)

func newTestManager(t *testing.T) (*Manager, *lifecycle.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	calls := lifecycle.NewService(store.Calls(), store.Legs(), nil)
	mgr := NewManager(store.Conferences(), store.Participants(), NewMemoryHints(), calls, nil)
	return mgr, calls, store
}

func agentConference(t *testing.T, mgr *Manager, agentID string) *domain.Conference {
	t.Helper()
	conf, err := mgr.GetOrCreate(context.Background(), &domain.Conference{
		Name:         domain.AgentConferenceName(agentID),
		Type:         domain.ConferenceTypeAgent,
		OwnerAgentID: &agentID,
	})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	return conf
}

func TestGetOrCreateIsIdempotentUnderConcurrency(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	agentID := "agent-a"

	const callers = 12
	var wg sync.WaitGroup
	ids := make(chan int64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conf, err := mgr.GetOrCreate(context.Background(), &domain.Conference{
				Name:         domain.AgentConferenceName(agentID),
				Type:         domain.ConferenceTypeAgent,
				OwnerAgentID: &agentID,
			})
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			ids <- conf.ID
		}()
	}
	wg.Wait()
	close(ids)

	distinct := make(map[int64]struct{})
	for id := range ids {
		distinct[id] = struct{}{}
	}
	if len(distinct) != 1 {
		t.Fatalf("expected one conference record, got %d", len(distinct))
	}
}

func TestRecordJoinHonoursExplicitHint(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)
	conf := agentConference(t, mgr, "agent-a")

	// Without the hint the first joiner would be classified as the agent.
	if err := mgr.ExpectParticipant(ctx, conf.Name, "cust-ref", ParticipantHint{
		Type:          domain.ParticipantCustomer,
		ParticipantID: "cust-ref",
	}); err != nil {
		t.Fatalf("expect participant: %v", err)
	}

	participant, err := mgr.RecordJoin(ctx, conf.Name, "cust-ref", nil)
	if err != nil {
		t.Fatalf("record join: %v", err)
	}
	if participant.Type != domain.ParticipantCustomer {
		t.Fatalf("expected customer from hint, got %s", participant.Type)
	}
}

func TestRecordJoinFallsBackToFirstJoinerHeuristic(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)
	conf := agentConference(t, mgr, "agent-a")

	first, err := mgr.RecordJoin(ctx, conf.Name, "agent-leg-ref", nil)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	if first.Type != domain.ParticipantAgent {
		t.Fatalf("expected agent for first joiner, got %s", first.Type)
	}
	if first.ParticipantID != "agent-a" {
		t.Fatalf("expected owner id, got %s", first.ParticipantID)
	}

	second, err := mgr.RecordJoin(ctx, conf.Name, "cust-ref", nil)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if second.Type != domain.ParticipantCustomer {
		t.Fatalf("expected customer for second joiner, got %s", second.Type)
	}
}

func TestCustomerJoinActivatesCall(t *testing.T) {
	ctx := context.Background()
	mgr, calls, store := newTestManager(t)
	conf := agentConference(t, mgr, "agent-a")

	if _, err := calls.UpsertWaiting(ctx, lifecycle.UpsertParams{ExternalRef: "cust-ref"}); err != nil {
		t.Fatalf("upsert call: %v", err)
	}
	if _, err := calls.Assign(ctx, "cust-ref", "agent-a", conf.Name, domain.ReasonQueueRouting); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := mgr.RecordJoin(ctx, conf.Name, "agent-leg-ref", nil); err != nil {
		t.Fatalf("agent join: %v", err)
	}
	if _, err := mgr.RecordJoin(ctx, conf.Name, "cust-ref", nil); err != nil {
		t.Fatalf("customer join: %v", err)
	}

	call, err := store.Calls().GetByRef(ctx, "cust-ref")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if call.Status != domain.CallStatusActive {
		t.Fatalf("expected active after customer join, got %s", call.Status)
	}
}

func TestCustomerLeaveEndsCallAndLeg(t *testing.T) {
	ctx := context.Background()
	mgr, calls, store := newTestManager(t)
	conf := agentConference(t, mgr, "agent-a")

	call, err := calls.UpsertWaiting(ctx, lifecycle.UpsertParams{ExternalRef: "cust-ref"})
	if err != nil {
		t.Fatalf("upsert call: %v", err)
	}
	if _, err := calls.Assign(ctx, "cust-ref", "agent-a", conf.Name, domain.ReasonQueueRouting); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := mgr.RecordJoin(ctx, conf.Name, "agent-leg-ref", nil); err != nil {
		t.Fatalf("agent join: %v", err)
	}
	if _, err := mgr.RecordJoin(ctx, conf.Name, "cust-ref", nil); err != nil {
		t.Fatalf("customer join: %v", err)
	}

	if err := mgr.RecordLeave(ctx, conf.Name, "cust-ref"); err != nil {
		t.Fatalf("customer leave: %v", err)
	}

	updated, err := store.Calls().GetByRef(ctx, "cust-ref")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if updated.Status != domain.CallStatusEnded {
		t.Fatalf("expected ended after customer leave, got %s", updated.Status)
	}

	legs, err := store.Legs().ListByCall(ctx, call.ID)
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

	// The agent's personal conference survives the call.
	if _, err := mgr.Participants(ctx, conf.Name); err != nil {
		t.Fatalf("expected conference still active: %v", err)
	}
}

func TestEndClosesAllParticipants(t *testing.T) {
	ctx := context.Background()
	mgr, _, store := newTestManager(t)
	conf := agentConference(t, mgr, "agent-a")

	if _, err := mgr.RecordJoin(ctx, conf.Name, "agent-leg-ref", nil); err != nil {
		t.Fatalf("agent join: %v", err)
	}
	if _, err := mgr.RecordJoin(ctx, conf.Name, "cust-ref", nil); err != nil {
		t.Fatalf("customer join: %v", err)
	}

	if err := mgr.End(ctx, conf.Name); err != nil {
		t.Fatalf("end: %v", err)
	}

	live, err := store.Participants().ListActive(ctx, conf.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected no live participants, got %d", len(live))
	}
	if err := mgr.RecordLeave(ctx, conf.Name, "cust-ref"); err == nil {
		t.Fatal("expected leave on ended conference to fail")
	}
}
