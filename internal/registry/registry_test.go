package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

func TestSetStatusMovesMembership(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	if err := reg.SetStatus(ctx, "agent-1", domain.AgentAvailable, ""); err != nil {
		t.Fatalf("set available: %v", err)
	}
	if err := reg.SetStatus(ctx, "agent-1", domain.AgentOnBreak, ""); err != nil {
		t.Fatalf("set break: %v", err)
	}

	available, err := reg.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("expected empty available set, got %v", available)
	}

	onBreak, err := reg.ListByStatus(ctx, domain.AgentOnBreak)
	if err != nil {
		t.Fatalf("list break: %v", err)
	}
	if len(onBreak) != 1 || onBreak[0] != "agent-1" {
		t.Fatalf("expected agent-1 on break, got %v", onBreak)
	}

	record, err := reg.GetStatus(ctx, "agent-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if record.Status != domain.AgentOnBreak {
		t.Fatalf("expected break status, got %s", record.Status)
	}
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	reg := NewMemoryRegistry(time.Hour)
	err := reg.SetStatus(context.Background(), "agent-1", domain.AgentAvailability("lunch"), "")
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkBusyIfAvailableClaimsOnce(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	if err := reg.SetStatus(ctx, "agent-1", domain.AgentAvailable, ""); err != nil {
		t.Fatalf("set available: %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan string, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := reg.MarkBusyIfAvailable(ctx, "agent-1", "call-ref")
			if err != nil {
				t.Errorf("mark busy: %v", err)
				return
			}
			if ok {
				wins <- "agent-1"
			}
		}()
	}
	wg.Wait()
	close(wins)

	total := 0
	for range wins {
		total++
	}
	if total != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", total)
	}

	record, err := reg.GetStatus(ctx, "agent-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if record.Status != domain.AgentBusy || record.CurrentCallRef != "call-ref" {
		t.Fatalf("expected busy on call-ref, got %+v", record)
	}
}

func TestMarkBusyIfAvailableFailsWhenNotAvailable(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	if err := reg.SetStatus(ctx, "agent-1", domain.AgentAfterCall, ""); err != nil {
		t.Fatalf("set after-call: %v", err)
	}
	ok, err := reg.MarkBusyIfAvailable(ctx, "agent-1", "call-ref")
	if err != nil {
		t.Fatalf("mark busy: %v", err)
	}
	if ok {
		t.Fatal("expected claim to fail for non-available agent")
	}
}

func TestHealRemovesStaleMembership(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	if err := reg.SetStatus(ctx, "agent-1", domain.AgentAvailable, ""); err != nil {
		t.Fatalf("set available: %v", err)
	}
	reg.ExpireRecord("agent-1")

	if _, err := reg.GetStatus(ctx, "agent-1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for expired record, got %v", err)
	}

	if err := reg.Heal(ctx, "agent-1"); err != nil {
		t.Fatalf("heal: %v", err)
	}
	available, err := reg.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("expected stale member removed, got %v", available)
	}
}

func TestHealReconcilesDivergentMembership(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	if err := reg.SetStatus(ctx, "agent-1", domain.AgentBusy, "call-1"); err != nil {
		t.Fatalf("set busy: %v", err)
	}
	// Membership drifted out of step with the record.
	reg.mu.Lock()
	reg.sets[domain.AgentAvailable]["agent-1"] = struct{}{}
	reg.mu.Unlock()

	if err := reg.Heal(ctx, "agent-1"); err != nil {
		t.Fatalf("heal: %v", err)
	}

	available, err := reg.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("expected stray membership removed, got %v", available)
	}
	busy, err := reg.ListByStatus(ctx, domain.AgentBusy)
	if err != nil {
		t.Fatalf("list busy: %v", err)
	}
	if len(busy) != 1 || busy[0] != "agent-1" {
		t.Fatalf("expected agent-1 kept busy, got %v", busy)
	}
}

func TestHealKeepsLiveRecord(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)

	if err := reg.SetStatus(ctx, "agent-1", domain.AgentAvailable, ""); err != nil {
		t.Fatalf("set available: %v", err)
	}
	if err := reg.Heal(ctx, "agent-1"); err != nil {
		t.Fatalf("heal: %v", err)
	}
	available, err := reg.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 1 {
		t.Fatalf("expected live member kept, got %v", available)
	}
}
