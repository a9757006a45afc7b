package monitor

import (
	"testing"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
)

func TestRequeueEntryKeepsOriginalPriorityAndPayload(t *testing.T) {
	queue := "support"
	enqueued := time.Now().UTC().Add(-90 * time.Second)
	call := &domain.Call{
		ExternalRef: "C1",
		QueueName:   &queue,
		Priority:    2,
		FromNumber:  "+15550001111",
		Context:     map[string]any{"issue": "billing", "caller_name": "Pat"},
		CreatedAt:   enqueued,
	}

	entry := requeueEntry(call, 5)
	if entry.CallRef != "C1" || entry.QueueName != "support" {
		t.Fatalf("unexpected target %s/%s", entry.QueueName, entry.CallRef)
	}
	if entry.Priority != 2 {
		t.Fatalf("expected original priority 2, got %d", entry.Priority)
	}
	if entry.CallerNumber != "+15550001111" || entry.CallerName != "Pat" {
		t.Fatalf("caller payload lost: %q %q", entry.CallerNumber, entry.CallerName)
	}
	if entry.Context["issue"] != "billing" {
		t.Fatalf("context lost: %v", entry.Context)
	}
	if !entry.EnqueuedAt.Equal(enqueued) {
		t.Fatalf("expected original enqueue time kept, got %s", entry.EnqueuedAt)
	}
}

func TestRequeueEntryFallsBackToDefaultPriority(t *testing.T) {
	queue := "support"
	entry := requeueEntry(&domain.Call{
		ExternalRef: "C2",
		QueueName:   &queue,
		CreatedAt:   time.Now().UTC(),
	}, 5)
	if entry.Priority != 5 {
		t.Fatalf("expected default priority 5, got %d", entry.Priority)
	}
	if entry.CallerName != "" {
		t.Fatalf("expected no caller name, got %q", entry.CallerName)
	}
}
