package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/callcenter-router/internal/domain"
	"github.com/acme/callcenter-router/internal/repository"
)

// CallRepository implements repository.CallRepository using PostgreSQL.
type CallRepository struct {
	db *sqlx.DB
}

// NewCallRepository constructs a new repository.
func NewCallRepository(db *sqlx.DB) *CallRepository {
	return &CallRepository{db: db}
}

type callRecord struct {
	ID             int64           `db:"id"`
	ExternalRef    string          `db:"external_ref"`
	Direction      string          `db:"direction"`
	HandlerType    string          `db:"handler_type"`
	Status         string          `db:"status"`
	QueueName      *string         `db:"queue_name"`
	Priority       int             `db:"priority"`
	AgentID        *string         `db:"agent_id"`
	ConferenceName *string         `db:"conference_name"`
	FromNumber     string          `db:"from_number"`
	ToNumber       string          `db:"to_number"`
	Context        json.RawMessage `db:"context"`
	CreatedAt      time.Time       `db:"created_at"`
	AssignedAt     *time.Time      `db:"assigned_at"`
	AnsweredAt     *time.Time      `db:"answered_at"`
	EndedAt        *time.Time      `db:"ended_at"`
}

func (r callRecord) toDomain() (*domain.Call, error) {
	call := &domain.Call{
		ID:             r.ID,
		ExternalRef:    r.ExternalRef,
		Direction:      domain.Direction(r.Direction),
		HandlerType:    domain.HandlerType(r.HandlerType),
		Status:         domain.CallStatus(r.Status),
		QueueName:      r.QueueName,
		Priority:       r.Priority,
		AgentID:        r.AgentID,
		ConferenceName: r.ConferenceName,
		FromNumber:     r.FromNumber,
		ToNumber:       r.ToNumber,
		CreatedAt:      r.CreatedAt,
		AssignedAt:     r.AssignedAt,
		AnsweredAt:     r.AnsweredAt,
		EndedAt:        r.EndedAt,
	}
	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &call.Context); err != nil {
			return nil, fmt.Errorf("call repo: decode context: %w", err)
		}
	}
	return call, nil
}

func marshalContext(ctx map[string]any) (json.RawMessage, error) {
	if ctx == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("call repo: encode context: %w", err)
	}
	return raw, nil
}

const callColumns = `id, external_ref, direction, handler_type, status, queue_name,
	priority, agent_id, conference_name, from_number, to_number, context,
	created_at, assigned_at, answered_at, ended_at`

// Create inserts a new call and populates its surrogate id.
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	payload, err := marshalContext(call.Context)
	if err != nil {
		return err
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}

	q := `INSERT INTO calls (
		external_ref, direction, handler_type, status, queue_name, priority,
		agent_id, conference_name, from_number, to_number, context,
		created_at, assigned_at, answered_at, ended_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING id`

	err = r.db.QueryRowxContext(ctx, q,
		call.ExternalRef, call.Direction, call.HandlerType, call.Status, call.QueueName,
		call.Priority, call.AgentID, call.ConferenceName, call.FromNumber, call.ToNumber,
		payload, call.CreatedAt, call.AssignedAt, call.AnsweredAt, call.EndedAt,
	).Scan(&call.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: call %s exists", repository.ErrConflict, call.ExternalRef)
		}
		return fmt.Errorf("call repo: insert: %w", err)
	}
	return nil
}

// Get fetches a call by surrogate id.
func (r *CallRepository) Get(ctx context.Context, id int64) (*domain.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return r.getOne(ctx, q, id)
}

// GetByRef fetches a call by its platform reference.
func (r *CallRepository) GetByRef(ctx context.Context, externalRef string) (*domain.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE external_ref = $1`
	return r.getOne(ctx, q, externalRef)
}

func (r *CallRepository) getOne(ctx context.Context, q string, arg any) (*domain.Call, error) {
	var record callRecord
	if err := r.db.QueryRowxContext(ctx, q, arg).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get: %w", err)
	}
	return record.toDomain()
}

// Update rewrites the mutable columns of a call.
func (r *CallRepository) Update(ctx context.Context, call *domain.Call) error {
	payload, err := marshalContext(call.Context)
	if err != nil {
		return err
	}

	q := `UPDATE calls SET
		handler_type = :handler_type,
		status = :status,
		queue_name = :queue_name,
		priority = :priority,
		agent_id = :agent_id,
		conference_name = :conference_name,
		context = :context,
		assigned_at = :assigned_at,
		answered_at = :answered_at,
		ended_at = :ended_at
	 WHERE id = :id`

	params := map[string]any{
		"id":              call.ID,
		"handler_type":    call.HandlerType,
		"status":          call.Status,
		"queue_name":      call.QueueName,
		"priority":        call.Priority,
		"agent_id":        call.AgentID,
		"conference_name": call.ConferenceName,
		"context":         payload,
		"assigned_at":     call.AssignedAt,
		"answered_at":     call.AnsweredAt,
		"ended_at":        call.EndedAt,
	}

	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("call repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByStatus returns calls in the given status, newest first.
func (r *CallRepository) ListByStatus(ctx context.Context, status domain.CallStatus, limit int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, q, status, limit)
}

// ListAssignedBefore returns calls stuck in assigned since before cutoff.
func (r *CallRepository) ListAssignedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + callColumns + `
	  FROM calls
	 WHERE status = $1 AND assigned_at < $2
	 ORDER BY assigned_at ASC
	 LIMIT $3`
	return r.list(ctx, q, domain.CallStatusAssigned, cutoff, limit)
}

func (r *CallRepository) list(ctx context.Context, q string, args ...any) ([]*domain.Call, error) {
	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("call repo: list: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		var record callRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("call repo: scan: %w", err)
		}
		call, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
