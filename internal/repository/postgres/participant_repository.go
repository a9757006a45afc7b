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

// ParticipantRepository implements repository.ParticipantRepository
// using PostgreSQL.
type ParticipantRepository struct {
	db *sqlx.DB
}

// NewParticipantRepository constructs a new repository.
func NewParticipantRepository(db *sqlx.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

type participantRecord struct {
	ID              int64      `db:"id"`
	ConferenceID    int64      `db:"conference_id"`
	CallID          *int64     `db:"call_id"`
	Type            string     `db:"participant_type"`
	ParticipantID   string     `db:"participant_id"`
	ExternalRef     string     `db:"external_ref"`
	Status          string     `db:"status"`
	JoinedAt        *time.Time `db:"joined_at"`
	LeftAt          *time.Time `db:"left_at"`
	DurationSeconds *int       `db:"duration_seconds"`
	Muted           bool       `db:"muted"`
	Deaf            bool       `db:"deaf"`
}

func (r participantRecord) toDomain() domain.ConferenceParticipant {
	return domain.ConferenceParticipant{
		ID:              r.ID,
		ConferenceID:    r.ConferenceID,
		CallID:          r.CallID,
		Type:            domain.ParticipantType(r.Type),
		ParticipantID:   r.ParticipantID,
		ExternalRef:     r.ExternalRef,
		Status:          domain.ParticipantStatus(r.Status),
		JoinedAt:        r.JoinedAt,
		LeftAt:          r.LeftAt,
		DurationSeconds: r.DurationSeconds,
		Muted:           r.Muted,
		Deaf:            r.Deaf,
	}
}

const participantColumns = `id, conference_id, call_id, participant_type, participant_id,
	external_ref, status, joined_at, left_at, duration_seconds, muted, deaf`

// Add inserts a participant record.
func (r *ParticipantRepository) Add(ctx context.Context, participant *domain.ConferenceParticipant) error {
	if participant.Status == "" {
		participant.Status = domain.ParticipantStatusActive
	}

	q := `INSERT INTO conference_participants (
		conference_id, call_id, participant_type, participant_id,
		external_ref, status, joined_at, muted, deaf
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id`

	err := r.db.QueryRowxContext(ctx, q,
		participant.ConferenceID, participant.CallID, participant.Type, participant.ParticipantID,
		participant.ExternalRef, participant.Status, participant.JoinedAt,
		participant.Muted, participant.Deaf,
	).Scan(&participant.ID)
	if err != nil {
		return fmt.Errorf("participant repo: insert: %w", err)
	}
	return nil
}

// FindActive locates a live participant by conference and call reference.
func (r *ParticipantRepository) FindActive(ctx context.Context, conferenceID int64, externalRef string) (*domain.ConferenceParticipant, error) {
	q := `SELECT ` + participantColumns + `
	  FROM conference_participants
	 WHERE conference_id = $1 AND external_ref = $2 AND status IN ('joining', 'active', 'muted')
	 ORDER BY id DESC
	 LIMIT 1`

	var record participantRecord
	if err := r.db.QueryRowxContext(ctx, q, conferenceID, externalRef).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("participant repo: find: %w", err)
	}
	participant := record.toDomain()
	return &participant, nil
}

// ListActive returns the live participants of a conference in join order.
func (r *ParticipantRepository) ListActive(ctx context.Context, conferenceID int64) ([]domain.ConferenceParticipant, error) {
	q := `SELECT ` + participantColumns + `
	  FROM conference_participants
	 WHERE conference_id = $1 AND status IN ('joining', 'active', 'muted')
	 ORDER BY id ASC`

	rows, err := r.db.QueryxContext(ctx, q, conferenceID)
	if err != nil {
		return nil, fmt.Errorf("participant repo: list: %w", err)
	}
	defer rows.Close()

	var participants []domain.ConferenceParticipant
	for rows.Next() {
		var record participantRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("participant repo: scan: %w", err)
		}
		participants = append(participants, record.toDomain())
	}
	return participants, rows.Err()
}

// MarkLeft closes one participant and computes the stay duration.
func (r *ParticipantRepository) MarkLeft(ctx context.Context, participantID int64, at time.Time) error {
	q := `UPDATE conference_participants SET
		status = 'left',
		left_at = $2,
		duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - joined_at))::int)
	 WHERE id = $1 AND status IN ('joining', 'active', 'muted')`

	res, err := r.db.ExecContext(ctx, q, participantID, at)
	if err != nil {
		return fmt.Errorf("participant repo: mark left: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("participant repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkAllLeft closes every live participant of a conference.
func (r *ParticipantRepository) MarkAllLeft(ctx context.Context, conferenceID int64, at time.Time) (int, error) {
	q := `UPDATE conference_participants SET
		status = 'left',
		left_at = $2,
		duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - joined_at))::int)
	 WHERE conference_id = $1 AND status IN ('joining', 'active', 'muted')`

	res, err := r.db.ExecContext(ctx, q, conferenceID, at)
	if err != nil {
		return 0, fmt.Errorf("participant repo: mark all left: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("participant repo: rows affected: %w", err)
	}
	return int(n), nil
}
