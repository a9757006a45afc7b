package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/callcenter-router/internal/domain"
)

type queueEntryResponse struct {
	CallRef       string    `json:"call_ref"`
	Priority      int       `json:"priority"`
	CallerNumber  string    `json:"caller_number,omitempty"`
	CallerName    string    `json:"caller_name,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	WaitedSeconds int       `json:"waited_seconds"`
}

type queueStatusResponse struct {
	QueueName            string               `json:"queue_name"`
	Depth                int                  `json:"depth"`
	OldestWaitSeconds    int                  `json:"oldest_wait_seconds"`
	EstimatedWaitSeconds int                  `json:"estimated_wait_seconds"`
	Entries              []queueEntryResponse `json:"entries,omitempty"`
}

func toQueueEntries(entries []domain.QueuedCall) []queueEntryResponse {
	out := make([]queueEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, queueEntryResponse{
			CallRef:       entry.CallRef,
			Priority:      entry.Priority,
			CallerNumber:  entry.CallerNumber,
			CallerName:    entry.CallerName,
			EnqueuedAt:    entry.EnqueuedAt,
			WaitedSeconds: int(time.Since(entry.EnqueuedAt) / time.Second),
		})
	}
	return out
}

func (h *HandlerSet) listQueues(ctx *fiber.Ctx) error {
	known, err := h.queues.Queues(ctx.Context())
	if err != nil {
		return translateError(err)
	}

	// configured queues show up even before their first call
	names := make(map[string]bool, len(known))
	for _, name := range known {
		names[name] = true
	}
	for _, name := range h.container.Config.Routing.Queues {
		names[name] = true
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	statuses := make([]queueStatusResponse, 0, len(sorted))
	for _, name := range sorted {
		status, err := h.queues.Status(ctx.Context(), name)
		if err != nil {
			return translateError(err)
		}
		statuses = append(statuses, queueStatusResponse{
			QueueName:            status.QueueName,
			Depth:                status.Depth,
			OldestWaitSeconds:    int(status.OldestWait / time.Second),
			EstimatedWaitSeconds: int(status.EstimatedWait / time.Second),
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"queues": statuses})
}

func (h *HandlerSet) queueStatus(ctx *fiber.Ctx) error {
	status, err := h.queues.Status(ctx.Context(), ctx.Params("name"))
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(queueStatusResponse{
		QueueName:            status.QueueName,
		Depth:                status.Depth,
		OldestWaitSeconds:    int(status.OldestWait / time.Second),
		EstimatedWaitSeconds: int(status.EstimatedWait / time.Second),
		Entries:              toQueueEntries(status.Entries),
	})
}
