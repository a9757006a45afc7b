package selector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/registry"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

type stubDirectory struct {
	agents map[string]domain.Agent
}

func (d *stubDirectory) GetByID(_ context.Context, agentID string) (domain.Agent, error) {
	agent, ok := d.agents[agentID]
	if !ok {
		return domain.Agent{}, fmt.Errorf("%w: agent %s", apperrors.ErrNotFound, agentID)
	}
	return agent, nil
}

func directoryOf(ids ...string) *stubDirectory {
	agents := make(map[string]domain.Agent, len(ids))
	for _, id := range ids {
		agents[id] = domain.Agent{ID: id, Name: id, DialAddress: "sip:" + id + "@agents.example.com"}
	}
	return &stubDirectory{agents: agents}
}

func newTestSelector(t *testing.T, dir *stubDirectory, ids ...string) (*Selector, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry(time.Hour)
	for _, id := range ids {
		if err := reg.SetStatus(context.Background(), id, domain.AgentAvailable, ""); err != nil {
			t.Fatalf("seed agent %s: %v", id, err)
		}
	}
	return New(reg, dir, NewMemoryCursor(), nil), reg
}

func TestSelectRotatesAcrossAgents(t *testing.T) {
	ctx := context.Background()
	dir := directoryOf("agent-a", "agent-b", "agent-c")
	sel, reg := newTestSelector(t, dir, "agent-a", "agent-b", "agent-c")

	var picks []string
	for i := 0; i < 6; i++ {
		agent, err := sel.Select(ctx, "support", fmt.Sprintf("call-%d", i))
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		picks = append(picks, agent.ID)
		// Return the agent so the next round has a full candidate list.
		if err := reg.SetStatus(ctx, agent.ID, domain.AgentAvailable, ""); err != nil {
			t.Fatalf("reset agent: %v", err)
		}
	}

	want := []string{"agent-a", "agent-b", "agent-c", "agent-a", "agent-b", "agent-c"}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("expected rotation %v, got %v", want, picks)
		}
	}
}

func TestSelectSkipsAgentWithoutDialAddress(t *testing.T) {
	ctx := context.Background()
	dir := directoryOf("agent-a", "agent-b")
	dir.agents["agent-a"] = domain.Agent{ID: "agent-a", Name: "agent-a"}
	sel, _ := newTestSelector(t, dir, "agent-a", "agent-b")

	agent, err := sel.Select(ctx, "support", "call-1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent.ID != "agent-b" {
		t.Fatalf("expected agent-b, got %s", agent.ID)
	}
}

func TestSelectReturnsNoAgentWhenEmpty(t *testing.T) {
	sel, _ := newTestSelector(t, directoryOf())
	_, err := sel.Select(context.Background(), "support", "call-1")
	if !apperrors.Is(err, apperrors.ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}

func TestSelectHealsStaleMembership(t *testing.T) {
	ctx := context.Background()
	dir := directoryOf("agent-a")
	sel, reg := newTestSelector(t, dir, "agent-a")
	reg.ExpireRecord("agent-a")

	_, err := sel.Select(ctx, "support", "call-1")
	if !apperrors.Is(err, apperrors.ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent for stale member, got %v", err)
	}

	available, err := reg.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("expected stale member removed, got %v", available)
	}
}

// divergentRegistry reports membership that disagrees with the status
// record and counts heal attempts.
type divergentRegistry struct {
	registry.Registry
	record domain.AgentStatusRecord
	healed []string
}

func (r *divergentRegistry) GetStatus(context.Context, string) (domain.AgentStatusRecord, error) {
	return r.record, nil
}

func (r *divergentRegistry) Heal(ctx context.Context, agentID string) error {
	r.healed = append(r.healed, agentID)
	return r.Registry.Heal(ctx, agentID)
}

func TestSelectHealsMembershipRecordDisagreement(t *testing.T) {
	ctx := context.Background()
	dir := directoryOf("agent-a")
	base := registry.NewMemoryRegistry(time.Hour)
	if err := base.SetStatus(ctx, "agent-a", domain.AgentAvailable, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reg := &divergentRegistry{
		Registry: base,
		record:   domain.AgentStatusRecord{AgentID: "agent-a", Status: domain.AgentOnBreak},
	}
	sel := New(reg, dir, NewMemoryCursor(), nil)

	_, err := sel.Select(ctx, "support", "call-1")
	if !apperrors.Is(err, apperrors.ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
	if len(reg.healed) != 1 || reg.healed[0] != "agent-a" {
		t.Fatalf("expected one heal for agent-a, got %v", reg.healed)
	}
}

func TestClaimFlipsSpecificAgentToBusy(t *testing.T) {
	ctx := context.Background()
	dir := directoryOf("agent-a", "agent-b")
	sel, reg := newTestSelector(t, dir, "agent-a", "agent-b")

	agent, err := sel.Claim(ctx, "agent-b", "call-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if agent.ID != "agent-b" {
		t.Fatalf("expected agent-b, got %s", agent.ID)
	}

	record, err := reg.GetStatus(ctx, "agent-b")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if record.Status != domain.AgentBusy || record.CurrentCallRef != "call-1" {
		t.Fatalf("expected busy on call-1, got %s %s", record.Status, record.CurrentCallRef)
	}

	// A claimed agent cannot be claimed again.
	if _, err := sel.Claim(ctx, "agent-b", "call-2"); !apperrors.Is(err, apperrors.ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent for busy agent, got %v", err)
	}
}

func TestClaimRejectsUnknownAndUndialableAgents(t *testing.T) {
	ctx := context.Background()
	dir := directoryOf("agent-a")
	dir.agents["agent-nodial"] = domain.Agent{ID: "agent-nodial", Name: "agent-nodial"}
	sel, _ := newTestSelector(t, dir, "agent-a", "agent-nodial")

	if _, err := sel.Claim(ctx, "ghost", "call-1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := sel.Claim(ctx, "agent-nodial", "call-1"); !apperrors.Is(err, apperrors.ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent without dial address, got %v", err)
	}
}

func TestConcurrentSelectNeverDoubleAssigns(t *testing.T) {
	ctx := context.Background()
	dir := directoryOf("agent-a")
	sel, _ := newTestSelector(t, dir, "agent-a")

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := sel.Select(ctx, "support", fmt.Sprintf("call-%d", n))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case apperrors.Is(err, apperrors.ErrNoAgent):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one successful selection, got %d", won)
	}
}
