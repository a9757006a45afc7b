package queuestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acme/callcenter-router/internal/domain"
)

func queuedCall(ref string, priority int, enqueuedAt time.Time) domain.QueuedCall {
	return domain.QueuedCall{
		CallRef:    ref,
		QueueName:  "support",
		Priority:   priority,
		EnqueuedAt: enqueuedAt,
	}
}

func TestDequeueOrdersByPriorityThenArrival(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	base := time.Now().UTC()

	// Low priority arrives first, then two urgent entries in order.
	for _, call := range []domain.QueuedCall{
		queuedCall("low-1", 8, base),
		queuedCall("high-1", 2, base.Add(time.Second)),
		queuedCall("high-2", 2, base.Add(2*time.Second)),
	} {
		if _, err := store.Enqueue(ctx, call); err != nil {
			t.Fatalf("enqueue %s: %v", call.CallRef, err)
		}
	}

	want := []string{"high-1", "high-2", "low-1"}
	for _, expected := range want {
		got, ok, err := store.Dequeue(ctx, "support")
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if !ok {
			t.Fatalf("expected entry %s, queue empty", expected)
		}
		if got.CallRef != expected {
			t.Fatalf("expected %s, got %s", expected, got.CallRef)
		}
	}
	if _, ok, _ := store.Dequeue(ctx, "support"); ok {
		t.Fatal("expected empty queue after draining")
	}
}

func TestEnqueueReportsPositionAndWait(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3 * time.Minute)
	base := time.Now().UTC()

	first, err := store.Enqueue(ctx, queuedCall("c1", 5, base))
	if err != nil {
		t.Fatalf("enqueue c1: %v", err)
	}
	if first.Position != 1 || first.EstimatedWait != 3*time.Minute {
		t.Fatalf("expected position 1 wait 3m, got %+v", first)
	}

	second, err := store.Enqueue(ctx, queuedCall("c2", 5, base.Add(time.Second)))
	if err != nil {
		t.Fatalf("enqueue c2: %v", err)
	}
	if second.Position != 2 || second.EstimatedWait != 6*time.Minute {
		t.Fatalf("expected position 2 wait 6m, got %+v", second)
	}

	// An urgent arrival jumps ahead of the waiting entries.
	urgent, err := store.Enqueue(ctx, queuedCall("vip", 2, base.Add(2*time.Second)))
	if err != nil {
		t.Fatalf("enqueue vip: %v", err)
	}
	if urgent.Position != 1 {
		t.Fatalf("expected urgent entry at position 1, got %d", urgent.Position)
	}
}

func TestEnqueueDeduplicatesByCallRef(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	base := time.Now().UTC()

	if _, err := store.Enqueue(ctx, queuedCall("c1", 5, base)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	again, err := store.Enqueue(ctx, queuedCall("c1", 2, base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if !again.Duplicate {
		t.Fatal("expected duplicate flag on re-enqueue")
	}
	if again.Position != 1 {
		t.Fatalf("expected original position preserved, got %d", again.Position)
	}

	status, err := store.Status(ctx, "support")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Depth != 1 {
		t.Fatalf("expected single entry after duplicate enqueue, got depth %d", status.Depth)
	}
}

func TestStatusListsEntriesInDequeueOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	base := time.Now().UTC()

	calls := []domain.QueuedCall{
		queuedCall("low-1", 8, base.Add(-5*time.Minute)),
		queuedCall("high-1", 2, base.Add(-time.Minute)),
	}
	calls[0].CallerNumber = "+15550001111"
	for _, call := range calls {
		if _, err := store.Enqueue(ctx, call); err != nil {
			t.Fatalf("enqueue %s: %v", call.CallRef, err)
		}
	}

	status, err := store.Status(ctx, "support")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Depth != 2 || len(status.Entries) != 2 {
		t.Fatalf("expected 2 entries, got depth %d entries %d", status.Depth, len(status.Entries))
	}
	if status.Entries[0].CallRef != "high-1" || status.Entries[1].CallRef != "low-1" {
		t.Fatalf("expected dequeue order high-1, low-1, got %s, %s",
			status.Entries[0].CallRef, status.Entries[1].CallRef)
	}
	if status.Entries[1].CallerNumber != "+15550001111" {
		t.Fatalf("entry payload lost: %+v", status.Entries[1])
	}
	// Longest wait belongs to low-1, not to the head of the queue.
	if status.OldestWait < 4*time.Minute {
		t.Fatalf("expected oldest wait around 5m, got %s", status.OldestWait)
	}
}

func TestConcurrentDequeueNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	base := time.Now().UTC()

	const entries = 50
	for i := 0; i < entries; i++ {
		call := queuedCall(refName(i), 5, base.Add(time.Duration(i)*time.Second))
		if _, err := store.Enqueue(ctx, call); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var wg sync.WaitGroup
	seen := make(chan string, entries)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				call, ok, err := store.Dequeue(ctx, "support")
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if !ok {
					return
				}
				seen <- call.CallRef
			}
		}()
	}
	wg.Wait()
	close(seen)

	refs := make(map[string]int)
	for ref := range seen {
		refs[ref]++
	}
	if len(refs) != entries {
		t.Fatalf("expected %d distinct entries, got %d", entries, len(refs))
	}
	for ref, count := range refs {
		if count != 1 {
			t.Fatalf("entry %s dequeued %d times", ref, count)
		}
	}
}

func TestRemoveDeletesQueuedEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	base := time.Now().UTC()

	if _, err := store.Enqueue(ctx, queuedCall("c1", 5, base)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	removed, err := store.Remove(ctx, "support", "c1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatal("expected entry to be removed")
	}
	removed, err = store.Remove(ctx, "support", "c1")
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if removed {
		t.Fatal("expected second remove to be a no-op")
	}
}

func refName(i int) string {
	return fmt.Sprintf("call-%02d", i)
}
