package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/repository"
)

// AgentRepository implements repository.AgentRepository using PostgreSQL.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs a new repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

type agentRecord struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Email       string    `db:"email"`
	DialAddress string    `db:"dial_address"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r agentRecord) toDomain() domain.Agent {
	return domain.Agent{
		ID:          r.ID,
		Name:        r.Name,
		Email:       r.Email,
		DialAddress: r.DialAddress,
		CreatedAt:   r.CreatedAt,
	}
}

// Create inserts a new agent.
func (r *AgentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	q := `INSERT INTO agents (id, name, email, dial_address, created_at)
	 VALUES (:id, :name, :email, :dial_address, :created_at)`

	params := map[string]any{
		"id":           agent.ID,
		"name":         agent.Name,
		"email":        agent.Email,
		"dial_address": agent.DialAddress,
		"created_at":   agent.CreatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: agent %s exists", repository.ErrConflict, agent.ID)
		}
		return fmt.Errorf("agent repo: insert: %w", err)
	}
	return nil
}

// GetByID fetches one agent.
func (r *AgentRepository) GetByID(ctx context.Context, agentID string) (domain.Agent, error) {
	q := `SELECT id, name, email, dial_address, created_at FROM agents WHERE id = $1`
	var record agentRecord
	if err := r.db.QueryRowxContext(ctx, q, agentID).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return domain.Agent{}, repository.ErrNotFound
		}
		return domain.Agent{}, fmt.Errorf("agent repo: get: %w", err)
	}
	return record.toDomain(), nil
}

// List returns agents in id order.
func (r *AgentRepository) List(ctx context.Context, limit int) ([]domain.Agent, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT id, name, email, dial_address, created_at FROM agents ORDER BY id ASC LIMIT $1`
	rows, err := r.db.QueryxContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("agent repo: list: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var record agentRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("agent repo: scan: %w", err)
		}
		agents = append(agents, record.toDomain())
	}
	return agents, rows.Err()
}
