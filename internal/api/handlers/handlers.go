package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/callcenter-router/internal/app"
	"github.com/acme/callcenter-router/internal/conference"
	"github.com/acme/callcenter-router/internal/lifecycle"
	"github.com/acme/callcenter-router/internal/queuestore"
	"github.com/acme/callcenter-router/internal/registry"
	"github.com/acme/callcenter-router/internal/repository"
	"github.com/acme/callcenter-router/internal/routing"
	"github.com/acme/callcenter-router/internal/telephony"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container   *app.Container
	coordinator *routing.Coordinator
	lifecycle   *lifecycle.Service
	conferences *conference.Manager
	registry    registry.Registry
	queues      queuestore.Store
	agents      repository.AgentRepository
	calls       repository.CallRepository
	events      repository.EventStore
	platform    telephony.Provider
	baseURL     string
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	coord := container.Coordination()
	repos := container.Repositories()
	return &HandlerSet{
		container:   container,
		coordinator: services.Coordinator,
		lifecycle:   services.Lifecycle,
		conferences: services.Conferences,
		registry:    coord.Registry,
		queues:      coord.Queues,
		agents:      repos.Agents,
		calls:       repos.Calls,
		events:      repos.Events,
		platform:    container.Providers().Telephony,
		baseURL:     container.Config.HTTP.BaseURL,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	queues := v1.Group("/queues")
	queues.Get("/", h.listQueues)
	queues.Get("/:name", h.queueStatus)
	// hold-loop callbacks re-invoke the same route endpoint
	queues.Post("/:name/route", h.routeCall)
	queues.Get("/:name/route", h.routeCall)

	webhooks := v1.Group("/webhooks")
	webhooks.Post("/call-state", h.callStateWebhook)
	webhooks.Post("/conference", h.conferenceWebhook)
	webhooks.Post("/hangup", h.hangupWebhook)

	agents := v1.Group("/agents")
	agents.Post("/", h.createAgent)
	agents.Get("/", h.listAgents)
	agents.Get("/:id", h.getAgent)
	agents.Get("/:id/status", h.agentStatus)
	agents.Put("/:id/status", h.setAgentStatus)

	calls := v1.Group("/calls")
	calls.Get("/", h.listCalls)
	calls.Get("/:ref", h.getCall)
	calls.Get("/:ref/events", h.callEvents)
	calls.Post("/:ref/transfer", h.transferCall)
	calls.Delete("/:ref", h.endCall)

	conferences := v1.Group("/conferences")
	conferences.Get("/", h.listConferences)
	conferences.Get("/:name/participants", h.conferenceParticipants)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
