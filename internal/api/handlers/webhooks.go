package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/routing"
	"github.com/acme/callcenter-router/internal/telephony"
)

type routeCallRequest struct {
	CallRef      string         `json:"call_ref"`
	Priority     int            `json:"priority"`
	Urgency      string         `json:"urgency"`
	CallerNumber string         `json:"caller_number"`
	CallerName   string         `json:"caller_name"`
	Context      map[string]any `json:"context"`
}

// routeCall is the platform-facing routing webhook. It answers both the
// initial inbound invocation and every hold-loop callback, and always
// responds with an executable call-control script.
func (h *HandlerSet) routeCall(ctx *fiber.Ctx) error {
	var req routeCallRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	if req.CallRef == "" {
		req.CallRef = ctx.Query("call_ref")
	}

	decision := h.coordinator.Route(ctx.Context(), routing.RouteRequest{
		QueueName:    ctx.Params("name"),
		CallRef:      req.CallRef,
		Priority:     req.Priority,
		Urgency:      req.Urgency,
		CallerNumber: req.CallerNumber,
		CallerName:   req.CallerName,
		Context:      req.Context,
	})

	script := telephony.RenderDecision(decision, h.baseURL)
	return ctx.Status(http.StatusOK).JSON(script)
}

type callStateWebhookRequest struct {
	CallRef string         `json:"call_ref"`
	State   string         `json:"state"`
	Payload map[string]any `json:"payload"`
}

// callStateWebhook ingests platform call state transitions. State is
// taken from the platform as confirmed fact, never assumed locally.
func (h *HandlerSet) callStateWebhook(ctx *fiber.Ctx) error {
	var req callStateWebhookRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.CallRef == "" || req.State == "" {
		return fiber.NewError(http.StatusBadRequest, "call_ref and state are required")
	}

	h.archiveEvent(ctx, req.CallRef, "call.state."+req.State, req.Payload)

	call, err := h.lifecycle.ApplyPlatformState(ctx.Context(), req.CallRef, req.State)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"call_ref": call.ExternalRef,
		"status":   call.Status,
	})
}

type conferenceWebhookRequest struct {
	ConferenceName string         `json:"conference_name"`
	ParticipantRef string         `json:"participant_ref"`
	Event          string         `json:"event"`
	CallRef        string         `json:"call_ref"`
	Payload        map[string]any `json:"payload"`
}

// conferenceWebhook ingests confirmed join and leave events for a
// conference participant.
func (h *HandlerSet) conferenceWebhook(ctx *fiber.Ctx) error {
	var req conferenceWebhookRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.ConferenceName == "" || req.ParticipantRef == "" {
		return fiber.NewError(http.StatusBadRequest, "conference_name and participant_ref are required")
	}

	if req.CallRef != "" {
		h.archiveEvent(ctx, req.CallRef, "conference."+req.Event, req.Payload)
	}

	switch req.Event {
	case "join":
		var callID *int64
		if req.CallRef != "" {
			if call, err := h.calls.GetByRef(ctx.Context(), req.CallRef); err == nil {
				callID = &call.ID
			}
		}
		participant, err := h.conferences.RecordJoin(ctx.Context(), req.ConferenceName, req.ParticipantRef, callID)
		if err != nil {
			return translateError(err)
		}
		return ctx.Status(http.StatusOK).JSON(fiber.Map{
			"participant_type": participant.Type,
			"conference_name":  req.ConferenceName,
		})
	case "leave":
		if err := h.conferences.RecordLeave(ctx.Context(), req.ConferenceName, req.ParticipantRef); err != nil {
			return translateError(err)
		}
		return ctx.Status(http.StatusOK).JSON(fiber.Map{"conference_name": req.ConferenceName})
	default:
		return fiber.NewError(http.StatusBadRequest, "event must be join or leave")
	}
}

type hangupWebhookRequest struct {
	CallRef string         `json:"call_ref"`
	Payload map[string]any `json:"payload"`
}

// hangupWebhook handles the caller abandoning before assignment. The
// call leaves its queue and ends.
func (h *HandlerSet) hangupWebhook(ctx *fiber.Ctx) error {
	var req hangupWebhookRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.CallRef == "" {
		return fiber.NewError(http.StatusBadRequest, "call_ref is required")
	}

	h.archiveEvent(ctx, req.CallRef, "call.hangup", req.Payload)

	if err := h.coordinator.Cancel(ctx.Context(), req.CallRef); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"call_ref": req.CallRef})
}

// archiveEvent records an inbound webhook in the event archive. Archive
// failures are logged, never surfaced: the webhook itself must still be
// processed.
func (h *HandlerSet) archiveEvent(ctx *fiber.Ctx, callRef, eventType string, payload map[string]any) {
	if h.events == nil {
		return
	}
	err := h.events.Append(ctx.Context(), domain.CallEvent{
		ID:         uuid.New(),
		CallRef:    callRef,
		EventType:  eventType,
		Source:     "webhook",
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		h.container.Logger.Warn("event archive append failed",
			zap.String("call_ref", callRef),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
