package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/callcenter-router/internal/domain"
)

type callResponse struct {
	ID             int64          `json:"id"`
	CallRef        string         `json:"call_ref"`
	Direction      string         `json:"direction"`
	HandlerType    string         `json:"handler_type"`
	Status         string         `json:"status"`
	QueueName      *string        `json:"queue_name,omitempty"`
	AgentID        *string        `json:"agent_id,omitempty"`
	ConferenceName *string        `json:"conference_name,omitempty"`
	FromNumber     string         `json:"from_number,omitempty"`
	ToNumber       string         `json:"to_number,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	AssignedAt     *time.Time     `json:"assigned_at,omitempty"`
	AnsweredAt     *time.Time     `json:"answered_at,omitempty"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	Legs           []legResponse  `json:"legs,omitempty"`
}

type legResponse struct {
	LegNumber        int        `json:"leg_number"`
	LegType          string     `json:"leg_type"`
	AgentID          *string    `json:"agent_id,omitempty"`
	AIAgentName      *string    `json:"ai_agent_name,omitempty"`
	Status           string     `json:"status"`
	ConferenceName   *string    `json:"conference_name,omitempty"`
	TransitionReason *string    `json:"transition_reason,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	DurationSeconds  *int       `json:"duration_seconds,omitempty"`
}

func toCallResponse(call *domain.Call, legs []domain.CallLeg) callResponse {
	resp := callResponse{
		ID:             call.ID,
		CallRef:        call.ExternalRef,
		Direction:      string(call.Direction),
		HandlerType:    string(call.HandlerType),
		Status:         string(call.Status),
		QueueName:      call.QueueName,
		AgentID:        call.AgentID,
		ConferenceName: call.ConferenceName,
		FromNumber:     call.FromNumber,
		ToNumber:       call.ToNumber,
		Context:        call.Context,
		CreatedAt:      call.CreatedAt,
		AssignedAt:     call.AssignedAt,
		AnsweredAt:     call.AnsweredAt,
		EndedAt:        call.EndedAt,
	}
	for _, leg := range legs {
		lr := legResponse{
			LegNumber:       leg.LegNumber,
			LegType:         string(leg.LegType),
			AgentID:         leg.AgentID,
			AIAgentName:     leg.AIAgentName,
			Status:          string(leg.Status),
			ConferenceName:  leg.ConferenceName,
			StartedAt:       leg.StartedAt,
			EndedAt:         leg.EndedAt,
			DurationSeconds: leg.DurationSeconds,
		}
		if leg.TransitionReason != nil {
			reason := string(*leg.TransitionReason)
			lr.TransitionReason = &reason
		}
		resp.Legs = append(resp.Legs, lr)
	}
	return resp
}

func (h *HandlerSet) listCalls(ctx *fiber.Ctx) error {
	status := domain.CallStatus(ctx.Query("status", string(domain.CallStatusWaiting)))
	limit := ctx.QueryInt("limit", 100)

	calls, err := h.calls.ListByStatus(ctx.Context(), status, limit)
	if err != nil {
		return translateError(err)
	}

	out := make([]callResponse, 0, len(calls))
	for _, call := range calls {
		out = append(out, toCallResponse(call, nil))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"calls": out})
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	call, err := h.calls.GetByRef(ctx.Context(), ctx.Params("ref"))
	if err != nil {
		return translateError(err)
	}

	legs, err := h.lifecycle.Legs(ctx.Context(), call.ID)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(call, legs))
}

type eventResponse struct {
	ID         string         `json:"id"`
	CallRef    string         `json:"call_ref"`
	EventType  string         `json:"event_type"`
	Source     string         `json:"source"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

func (h *HandlerSet) callEvents(ctx *fiber.Ctx) error {
	limit := ctx.QueryInt("limit", 100)
	events, err := h.events.ListByCallRef(ctx.Context(), ctx.Params("ref"), limit)
	if err != nil {
		return translateError(err)
	}

	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, eventResponse{
			ID:         event.ID.String(),
			CallRef:    event.CallRef,
			EventType:  event.EventType,
			Source:     event.Source,
			Payload:    event.Payload,
			ReceivedAt: event.ReceivedAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"events": out})
}

type transferCallRequest struct {
	QueueName string `json:"queue_name"`
	AgentID   string `json:"agent_id"`
	Priority  int    `json:"priority"`
}

func (h *HandlerSet) transferCall(ctx *fiber.Ctx) error {
	var req transferCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	switch {
	case req.AgentID != "":
		decision, err := h.coordinator.TransferToAgent(ctx.Context(), ctx.Params("ref"), req.AgentID)
		if err != nil {
			return translateError(err)
		}
		return ctx.Status(http.StatusOK).JSON(decision)
	case req.QueueName != "":
		decision := h.coordinator.Transfer(ctx.Context(), ctx.Params("ref"), req.QueueName, req.Priority)
		return ctx.Status(http.StatusOK).JSON(decision)
	default:
		return fiber.NewError(http.StatusBadRequest, "queue_name or agent_id is required")
	}
}

// endCall terminates a call administratively: the platform leg is hung
// up out of band, then routing state is closed out.
func (h *HandlerSet) endCall(ctx *fiber.Ctx) error {
	ref := ctx.Params("ref")

	if h.platform != nil {
		if err := h.platform.EndCall(ctx.Context(), ref); err != nil {
			// The hangup webhook reconciles state if the platform side
			// already dropped the call.
			h.container.Logger.Warn("platform hangup failed",
				zap.String("call_ref", ref), zap.Error(err))
		}
	}
	if err := h.coordinator.Cancel(ctx.Context(), ref); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}
