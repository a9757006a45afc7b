package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/repository"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

// CallLegRepository implements repository.CallLegRepository using PostgreSQL.
type CallLegRepository struct {
	db *sqlx.DB
}

// NewCallLegRepository constructs a new repository.
func NewCallLegRepository(db *sqlx.DB) *CallLegRepository {
	return &CallLegRepository{db: db}
}

type callLegRecord struct {
	ID               int64      `db:"id"`
	CallID           int64      `db:"call_id"`
	LegNumber        int        `db:"leg_number"`
	LegType          string     `db:"leg_type"`
	AgentID          *string    `db:"agent_id"`
	AIAgentName      *string    `db:"ai_agent_name"`
	Status           string     `db:"status"`
	ConferenceName   *string    `db:"conference_name"`
	TransitionReason *string    `db:"transition_reason"`
	StartedAt        time.Time  `db:"started_at"`
	EndedAt          *time.Time `db:"ended_at"`
	DurationSeconds  *int       `db:"duration_seconds"`
}

func (r callLegRecord) toDomain() domain.CallLeg {
	leg := domain.CallLeg{
		ID:              r.ID,
		CallID:          r.CallID,
		LegNumber:       r.LegNumber,
		LegType:         domain.LegType(r.LegType),
		AgentID:         r.AgentID,
		AIAgentName:     r.AIAgentName,
		Status:          domain.LegStatus(r.Status),
		ConferenceName:  r.ConferenceName,
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		DurationSeconds: r.DurationSeconds,
	}
	if r.TransitionReason != nil {
		reason := domain.TransitionReason(*r.TransitionReason)
		leg.TransitionReason = &reason
	}
	return leg
}

const legColumns = `id, call_id, leg_number, leg_type, agent_id, ai_agent_name,
	status, conference_name, transition_reason, started_at, ended_at, duration_seconds`

const openLegQuery = `SELECT ` + legColumns + `
  FROM call_legs
 WHERE call_id = $1 AND status IN ('connecting', 'active')
 ORDER BY leg_number DESC
 LIMIT 1`

// CreateInitial inserts leg number 1 for a call that has no legs yet.
func (r *CallLegRepository) CreateInitial(ctx context.Context, leg *domain.CallLeg) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var count int
		if err := tx.QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM call_legs WHERE call_id = $1`, leg.CallID,
		).Scan(&count); err != nil {
			return fmt.Errorf("leg repo: count legs: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: call %d already has legs", repository.ErrConflict, leg.CallID)
		}
		leg.LegNumber = 1
		return insertLeg(ctx, tx, leg)
	})
}

// CreateNext closes the open leg and inserts its successor in one
// transaction, so no two legs of a call are ever open together.
func (r *CallLegRepository) CreateNext(ctx context.Context, leg *domain.CallLeg, priorReason domain.TransitionReason) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var prior callLegRecord
		err := tx.QueryRowxContext(ctx, openLegQuery+` FOR UPDATE`, leg.CallID).StructScan(&prior)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("leg repo: lock open leg: %w", err)
		}
		now := time.Now().UTC()
		if err == nil {
			if err := closeLeg(ctx, tx, prior.ID, priorReason, now); err != nil {
				return err
			}
		}

		var maxLeg int
		if err := tx.QueryRowxContext(ctx,
			`SELECT COALESCE(MAX(leg_number), 0) FROM call_legs WHERE call_id = $1`, leg.CallID,
		).Scan(&maxLeg); err != nil {
			return fmt.Errorf("leg repo: max leg number: %w", err)
		}
		leg.LegNumber = maxLeg + 1
		return insertLeg(ctx, tx, leg)
	})
}

func insertLeg(ctx context.Context, tx *sqlx.Tx, leg *domain.CallLeg) error {
	if leg.StartedAt.IsZero() {
		leg.StartedAt = time.Now().UTC()
	}
	if leg.Status == "" {
		leg.Status = domain.LegStatusConnecting
	}

	q := `INSERT INTO call_legs (
		call_id, leg_number, leg_type, agent_id, ai_agent_name,
		status, conference_name, started_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

	err := tx.QueryRowxContext(ctx, q,
		leg.CallID, leg.LegNumber, leg.LegType, leg.AgentID, leg.AIAgentName,
		leg.Status, leg.ConferenceName, leg.StartedAt,
	).Scan(&leg.ID)
	if err != nil {
		return fmt.Errorf("leg repo: insert: %w", err)
	}
	return nil
}

func closeLeg(ctx context.Context, tx *sqlx.Tx, legID int64, reason domain.TransitionReason, at time.Time) error {
	q := `UPDATE call_legs SET
		status = 'completed',
		transition_reason = $2,
		ended_at = $3,
		duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - started_at))::int)
	 WHERE id = $1 AND status IN ('connecting', 'active')`

	res, err := tx.ExecContext(ctx, q, legID, reason, at)
	if err != nil {
		return fmt.Errorf("leg repo: close: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("leg repo: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: leg %d is not open", apperrors.ErrInvalidTransition, legID)
	}
	return nil
}

// OpenLeg returns the connecting or active leg of a call.
func (r *CallLegRepository) OpenLeg(ctx context.Context, callID int64) (*domain.CallLeg, error) {
	var record callLegRecord
	if err := r.db.QueryRowxContext(ctx, openLegQuery, callID).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("leg repo: open leg: %w", err)
	}
	leg := record.toDomain()
	return &leg, nil
}

// MarkActive flips a connecting leg to active.
func (r *CallLegRepository) MarkActive(ctx context.Context, legID int64, at time.Time) error {
	q := `UPDATE call_legs SET status = 'active' WHERE id = $1 AND status = 'connecting'`
	res, err := r.db.ExecContext(ctx, q, legID)
	if err != nil {
		return fmt.Errorf("leg repo: mark active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("leg repo: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: leg %d is not connecting", apperrors.ErrInvalidTransition, legID)
	}
	return nil
}

// Close ends an open leg with a reason.
func (r *CallLegRepository) Close(ctx context.Context, legID int64, reason domain.TransitionReason, at time.Time) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return closeLeg(ctx, tx, legID, reason, at)
	})
}

// ListByCall returns every leg of a call in leg order.
func (r *CallLegRepository) ListByCall(ctx context.Context, callID int64) ([]domain.CallLeg, error) {
	q := `SELECT ` + legColumns + ` FROM call_legs WHERE call_id = $1 ORDER BY leg_number ASC`
	rows, err := r.db.QueryxContext(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("leg repo: list: %w", err)
	}
	defer rows.Close()

	var legs []domain.CallLeg
	for rows.Next() {
		var record callLegRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("leg repo: scan: %w", err)
		}
		legs = append(legs, record.toDomain())
	}
	return legs, rows.Err()
}
