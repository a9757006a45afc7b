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

// ConferenceRepository implements repository.ConferenceRepository using
// PostgreSQL. A partial unique index on (name) WHERE status = 'active'
// guarantees one live record per conference name.
type ConferenceRepository struct {
	db *sqlx.DB
}

// NewConferenceRepository constructs a new repository.
func NewConferenceRepository(db *sqlx.DB) *ConferenceRepository {
	return &ConferenceRepository{db: db}
}

type conferenceRecord struct {
	ID           int64      `db:"id"`
	Name         string     `db:"name"`
	Type         string     `db:"conference_type"`
	OwnerAgentID *string    `db:"owner_agent_id"`
	OwnerAIAgent *string    `db:"owner_ai_agent"`
	QueueName    *string    `db:"queue_name"`
	Status       string     `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
	EndedAt      *time.Time `db:"ended_at"`
}

func (r conferenceRecord) toDomain() *domain.Conference {
	return &domain.Conference{
		ID:           r.ID,
		Name:         r.Name,
		Type:         domain.ConferenceType(r.Type),
		OwnerAgentID: r.OwnerAgentID,
		OwnerAIAgent: r.OwnerAIAgent,
		QueueName:    r.QueueName,
		Status:       domain.ConferenceStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		EndedAt:      r.EndedAt,
	}
}

const conferenceColumns = `id, name, conference_type, owner_agent_id, owner_ai_agent,
	queue_name, status, created_at, ended_at`

// GetOrCreate inserts the conference or returns the live record that
// beat us to it. ON CONFLICT DO NOTHING keeps concurrent callers from
// creating duplicates.
func (r *ConferenceRepository) GetOrCreate(ctx context.Context, conf *domain.Conference) (*domain.Conference, error) {
	if conf.CreatedAt.IsZero() {
		conf.CreatedAt = time.Now().UTC()
	}
	if conf.Status == "" {
		conf.Status = domain.ConferenceStatusActive
	}

	q := `INSERT INTO conferences (
		name, conference_type, owner_agent_id, owner_ai_agent, queue_name, status, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (name) WHERE status = 'active' DO NOTHING
	RETURNING id`

	err := r.db.QueryRowxContext(ctx, q,
		conf.Name, conf.Type, conf.OwnerAgentID, conf.OwnerAIAgent,
		conf.QueueName, conf.Status, conf.CreatedAt,
	).Scan(&conf.ID)
	if err == nil {
		return conf, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("conference repo: insert: %w", err)
	}
	// Insert skipped: another caller holds the active record.
	return r.GetActiveByName(ctx, conf.Name)
}

// GetActiveByName fetches the live conference with the given name.
func (r *ConferenceRepository) GetActiveByName(ctx context.Context, name string) (*domain.Conference, error) {
	q := `SELECT ` + conferenceColumns + ` FROM conferences WHERE name = $1 AND status = 'active'`
	var record conferenceRecord
	if err := r.db.QueryRowxContext(ctx, q, name).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("conference repo: get: %w", err)
	}
	return record.toDomain(), nil
}

// End marks the live conference ended.
func (r *ConferenceRepository) End(ctx context.Context, name string, at time.Time) error {
	q := `UPDATE conferences SET status = 'ended', ended_at = $2
	 WHERE name = $1 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, q, name, at)
	if err != nil {
		return fmt.Errorf("conference repo: end: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conference repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListActive returns live conferences, newest first.
func (r *ConferenceRepository) ListActive(ctx context.Context, limit int) ([]*domain.Conference, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + conferenceColumns + `
	  FROM conferences WHERE status = 'active'
	 ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryxContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("conference repo: list: %w", err)
	}
	defer rows.Close()

	var confs []*domain.Conference
	for rows.Next() {
		var record conferenceRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("conference repo: scan: %w", err)
		}
		confs = append(confs, record.toDomain())
	}
	return confs, rows.Err()
}
