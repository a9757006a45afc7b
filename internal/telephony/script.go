package telephony

import (
	"fmt"
	"time"

	"github.com/acme/callcenter-router/internal/routing"
)

// Script is the declarative call-control document returned to the
// platform in webhook responses. The platform executes the main section
// top to bottom.
type Script struct {
	Sections map[string][]Instruction `json:"sections"`
}

// Instruction is one call-control verb with its arguments.
type Instruction map[string]any

func speak(text string) Instruction {
	return Instruction{"speak": map[string]any{"text": text}}
}

func pause(d time.Duration) Instruction {
	return Instruction{"pause": map[string]any{"seconds": int(d.Seconds())}}
}

func joinConference(name string) Instruction {
	return Instruction{"join_conference": map[string]any{"name": name}}
}

func transfer(target string) Instruction {
	return Instruction{"transfer": map[string]any{"to": target}}
}

func callback(url string) Instruction {
	return Instruction{"callback": map[string]any{"url": url}}
}

func hangup() Instruction {
	return Instruction{"hangup": map[string]any{}}
}

// RenderDecision turns a routing decision into the script the platform
// executes. Hold decisions end with a callback that re-invokes the
// route endpoint; the platform's callback is the only retry mechanism.
func RenderDecision(decision routing.Decision, baseURL string) Script {
	var main []Instruction
	if decision.Message != "" {
		main = append(main, speak(decision.Message))
	}

	switch decision.Action {
	case routing.ActionJoinConference:
		main = append(main, joinConference(decision.ConferenceName))
	case routing.ActionHold:
		if decision.RetryAfter > 0 {
			main = append(main, pause(decision.RetryAfter))
		}
		main = append(main, callback(routeCallbackURL(baseURL, decision)))
	case routing.ActionTransferAI:
		main = append(main, transfer(decision.FallbackTarget))
	case routing.ActionEnd:
		main = append(main, hangup())
	}

	return Script{Sections: map[string][]Instruction{"main": main}}
}

func routeCallbackURL(baseURL string, decision routing.Decision) string {
	return fmt.Sprintf("%s/api/v1/queues/%s/route?call_ref=%s",
		baseURL, decision.QueueName, decision.CallRef)
}
