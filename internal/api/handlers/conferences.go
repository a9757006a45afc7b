package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/callcenter-router/internal/domain"
)

type conferenceResponse struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	OwnerAgentID *string    `json:"owner_agent_id,omitempty"`
	OwnerAIAgent *string    `json:"owner_ai_agent,omitempty"`
	QueueName    *string    `json:"queue_name,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

type participantResponse struct {
	Type          string     `json:"type"`
	ParticipantID string     `json:"participant_id"`
	ExternalRef   string     `json:"external_ref"`
	Status        string     `json:"status"`
	JoinedAt      *time.Time `json:"joined_at,omitempty"`
	LeftAt        *time.Time `json:"left_at,omitempty"`
	Muted         bool       `json:"muted"`
	Deaf          bool       `json:"deaf"`
}

func toConferenceResponse(conf *domain.Conference) conferenceResponse {
	return conferenceResponse{
		Name:         conf.Name,
		Type:         string(conf.Type),
		OwnerAgentID: conf.OwnerAgentID,
		OwnerAIAgent: conf.OwnerAIAgent,
		QueueName:    conf.QueueName,
		Status:       string(conf.Status),
		CreatedAt:    conf.CreatedAt,
		EndedAt:      conf.EndedAt,
	}
}

func (h *HandlerSet) listConferences(ctx *fiber.Ctx) error {
	limit := ctx.QueryInt("limit", 100)
	conferences, err := h.conferences.ListActive(ctx.Context(), limit)
	if err != nil {
		return translateError(err)
	}

	out := make([]conferenceResponse, 0, len(conferences))
	for _, conf := range conferences {
		out = append(out, toConferenceResponse(conf))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"conferences": out})
}

func (h *HandlerSet) conferenceParticipants(ctx *fiber.Ctx) error {
	participants, err := h.conferences.Participants(ctx.Context(), ctx.Params("name"))
	if err != nil {
		return translateError(err)
	}

	out := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, participantResponse{
			Type:          string(p.Type),
			ParticipantID: p.ParticipantID,
			ExternalRef:   p.ExternalRef,
			Status:        string(p.Status),
			JoinedAt:      p.JoinedAt,
			LeftAt:        p.LeftAt,
			Muted:         p.Muted,
			Deaf:          p.Deaf,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"participants": out})
}
