package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/repository"
)

type createAgentRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	DialAddress string `json:"dial_address"`
}

type agentResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	DialAddress string    `json:"dial_address"`
	CreatedAt   time.Time `json:"created_at"`
}

func toAgentResponse(agent domain.Agent) agentResponse {
	return agentResponse{
		ID:          agent.ID,
		Name:        agent.Name,
		Email:       agent.Email,
		DialAddress: agent.DialAddress,
		CreatedAt:   agent.CreatedAt,
	}
}

func (h *HandlerSet) createAgent(ctx *fiber.Ctx) error {
	var req createAgentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" || req.DialAddress == "" {
		return fiber.NewError(http.StatusBadRequest, "id and dial_address are required")
	}

	agent := domain.Agent{
		ID:          req.ID,
		Name:        req.Name,
		Email:       req.Email,
		DialAddress: req.DialAddress,
	}
	if err := h.agents.Create(ctx.Context(), &agent); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toAgentResponse(agent))
}

func (h *HandlerSet) listAgents(ctx *fiber.Ctx) error {
	limit := ctx.QueryInt("limit", 100)
	agents, err := h.agents.List(ctx.Context(), limit)
	if err != nil {
		return translateError(err)
	}

	out := make([]agentResponse, 0, len(agents))
	for _, agent := range agents {
		out = append(out, toAgentResponse(agent))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"agents": out})
}

func (h *HandlerSet) getAgent(ctx *fiber.Ctx) error {
	agent, err := h.agents.GetByID(ctx.Context(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toAgentResponse(agent))
}

// agentStatus reads the live availability record. An expired or missing
// record reads as offline rather than an error.
func (h *HandlerSet) agentStatus(ctx *fiber.Ctx) error {
	agentID := ctx.Params("id")
	if _, err := h.agents.GetByID(ctx.Context(), agentID); err != nil {
		return translateError(err)
	}

	record, err := h.registry.GetStatus(ctx.Context(), agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ctx.Status(http.StatusOK).JSON(domain.AgentStatusRecord{
				AgentID: agentID,
				Status:  domain.AgentOffline,
			})
		}
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(record)
}

type setAgentStatusRequest struct {
	Status  string `json:"status"`
	CallRef string `json:"call_ref"`
}

func (h *HandlerSet) setAgentStatus(ctx *fiber.Ctx) error {
	agentID := ctx.Params("id")
	if _, err := h.agents.GetByID(ctx.Context(), agentID); err != nil {
		return translateError(err)
	}

	var req setAgentStatusRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	status := domain.AgentAvailability(req.Status)
	if err := h.registry.SetStatus(ctx.Context(), agentID, status, req.CallRef); err != nil {
		return translateError(err)
	}

	record, err := h.registry.GetStatus(ctx.Context(), agentID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(record)
}
