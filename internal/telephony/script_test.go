package telephony

import (
	"testing"
	"time"

	"github.com/acme/callcenter-router/internal/routing"
)

func mainSection(t *testing.T, script Script) []Instruction {
	t.Helper()
	main, ok := script.Sections["main"]
	if !ok || len(main) == 0 {
		t.Fatalf("expected non-empty main section, got %+v", script.Sections)
	}
	return main
}

func TestRenderJoinDecision(t *testing.T) {
	script := RenderDecision(routing.Decision{
		Action:         routing.ActionJoinConference,
		CallRef:        "C1",
		Message:        "Connecting you to an agent now.",
		ConferenceName: "interaction-C1",
	}, "https://router.example.com")

	main := mainSection(t, script)
	if len(main) != 2 {
		t.Fatalf("expected speak+join, got %d instructions", len(main))
	}
	if _, ok := main[0]["speak"]; !ok {
		t.Fatalf("expected speak first, got %+v", main[0])
	}
	join, ok := main[1]["join_conference"].(map[string]any)
	if !ok {
		t.Fatalf("expected join_conference, got %+v", main[1])
	}
	if join["name"] != "interaction-C1" {
		t.Fatalf("expected interaction-C1, got %v", join["name"])
	}
}

func TestRenderHoldDecisionEndsWithRouteCallback(t *testing.T) {
	script := RenderDecision(routing.Decision{
		Action:     routing.ActionHold,
		CallRef:    "C1",
		QueueName:  "support",
		Message:    "Please hold.",
		RetryAfter: 15 * time.Second,
	}, "https://router.example.com")

	main := mainSection(t, script)
	if len(main) != 3 {
		t.Fatalf("expected speak+pause+callback, got %d instructions", len(main))
	}
	pause, ok := main[1]["pause"].(map[string]any)
	if !ok || pause["seconds"] != 15 {
		t.Fatalf("expected 15 second pause, got %+v", main[1])
	}
	cb, ok := main[2]["callback"].(map[string]any)
	if !ok {
		t.Fatalf("expected callback, got %+v", main[2])
	}
	url, _ := cb["url"].(string)
	want := "https://router.example.com/api/v1/queues/support/route?call_ref=C1"
	if url != want {
		t.Fatalf("expected callback %s, got %s", want, url)
	}
}

func TestRenderFallbackDecision(t *testing.T) {
	script := RenderDecision(routing.Decision{
		Action:         routing.ActionTransferAI,
		CallRef:        "C1",
		Message:        "Transferring you now.",
		FallbackTarget: "support-ai",
	}, "https://router.example.com")

	main := mainSection(t, script)
	last := main[len(main)-1]
	dest, ok := last["transfer"].(map[string]any)
	if !ok || dest["to"] != "support-ai" {
		t.Fatalf("expected transfer to support-ai, got %+v", last)
	}
}

func TestRenderEndDecision(t *testing.T) {
	script := RenderDecision(routing.Decision{
		Action:  routing.ActionEnd,
		Message: "Goodbye.",
	}, "https://router.example.com")

	main := mainSection(t, script)
	if _, ok := main[len(main)-1]["hangup"]; !ok {
		t.Fatalf("expected hangup, got %+v", main[len(main)-1])
	}
}
