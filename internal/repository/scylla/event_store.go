package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/callcenter-router/internal/domain"
)

// EventStore archives telephony events in Scylla, partitioned by call
// reference with a daily bucket to keep partitions bounded.
type EventStore struct {
	session *gocql.Session
}

// NewEventStore creates a new event store.
func NewEventStore(session *gocql.Session) *EventStore {
	return &EventStore{session: session}
}

// Append writes one event. Events are immutable once written.
func (s *EventStore) Append(ctx context.Context, event domain.CallEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("event store: encode payload: %w", err)
	}

	if err := s.session.Query(`INSERT INTO events_by_call (call_ref, bucket, event_id, event_type, source, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.CallRef, bucketDate(event.ReceivedAt), event.ID.String(),
		event.EventType, event.Source, string(payload), event.ReceivedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("event store: insert events_by_call: %w", err)
	}
	return nil
}

// listLookbackDays bounds how far back ListByCallRef walks the daily
// buckets. Calls outlive a day rarely; a month covers archived lookups.
const listLookbackDays = 31

// ListByCallRef returns the archived events for one call, newest first,
// walking daily buckets from today backwards until the limit fills.
func (s *EventStore) ListByCallRef(ctx context.Context, callRef string, limit int) ([]domain.CallEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var events []domain.CallEvent
	for _, bucket := range lookbackBuckets(time.Now().UTC(), listLookbackDays) {
		if len(events) >= limit {
			break
		}
		batch, err := s.listBucket(ctx, callRef, bucket, limit-len(events))
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	return events, nil
}

func (s *EventStore) listBucket(ctx context.Context, callRef, bucket string, limit int) ([]domain.CallEvent, error) {
	iter := s.session.Query(`SELECT call_ref, event_id, event_type, source, payload, received_at
		FROM events_by_call WHERE call_ref = ? AND bucket = ? LIMIT ?`,
		callRef, bucket, limit,
	).WithContext(ctx).Iter()

	var (
		events     []domain.CallEvent
		eventID    string
		eventType  string
		source     string
		rawPayload string
		receivedAt time.Time
		ref        string
	)
	for iter.Scan(&ref, &eventID, &eventType, &source, &rawPayload, &receivedAt) {
		event := domain.CallEvent{
			CallRef:    ref,
			EventType:  eventType,
			Source:     source,
			ReceivedAt: receivedAt,
		}
		if id, err := uuid.Parse(eventID); err == nil {
			event.ID = id
		}
		if rawPayload != "" {
			if err := json.Unmarshal([]byte(rawPayload), &event.Payload); err != nil {
				return nil, fmt.Errorf("event store: decode payload: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("event store: list events_by_call: %w", err)
	}
	return events, nil
}

func bucketDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// lookbackBuckets lists daily bucket keys from now backwards.
func lookbackBuckets(now time.Time, days int) []string {
	buckets := make([]string, 0, days)
	for offset := 0; offset < days; offset++ {
		buckets = append(buckets, bucketDate(now.AddDate(0, 0, -offset)))
	}
	return buckets
}
