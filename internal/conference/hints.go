package conference

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/callcenter-router/internal/domain"
)

// ParticipantHint tells the join handler who an arriving call reference
// is, so classification does not fall back to the first-joiner guess.
type ParticipantHint struct {
	Type          domain.ParticipantType `json:"type"`
	ParticipantID string                 `json:"participant_id"`
	CallID        *int64                 `json:"call_id,omitempty"`
}

// Hints stores short-lived participant hints keyed by conference name
// and external call reference.
type Hints interface {
	Set(ctx context.Context, conferenceName, externalRef string, hint ParticipantHint) error
	// Take returns and consumes the hint, or nil when none was set.
	Take(ctx context.Context, conferenceName, externalRef string) (*ParticipantHint, error)
}

// RedisHints keeps hints in Redis with a TTL, so hints for joins that
// never happen age out on their own.
type RedisHints struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHints constructs a Redis-backed hint store.
func NewRedisHints(client *redis.Client, ttl time.Duration) *RedisHints {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisHints{client: client, ttl: ttl}
}

func hintKey(conferenceName, externalRef string) string {
	return fmt.Sprintf("conf:hint:%s:%s", conferenceName, externalRef)
}

func (h *RedisHints) Set(ctx context.Context, conferenceName, externalRef string, hint ParticipantHint) error {
	payload, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("hints: marshal: %w", err)
	}
	if err := h.client.Set(ctx, hintKey(conferenceName, externalRef), payload, h.ttl).Err(); err != nil {
		return fmt.Errorf("hints: set: %w", err)
	}
	return nil
}

func (h *RedisHints) Take(ctx context.Context, conferenceName, externalRef string) (*ParticipantHint, error) {
	raw, err := h.client.GetDel(ctx, hintKey(conferenceName, externalRef)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hints: take: %w", err)
	}
	var hint ParticipantHint
	if err := json.Unmarshal(raw, &hint); err != nil {
		return nil, fmt.Errorf("hints: decode: %w", err)
	}
	return &hint, nil
}

// MemoryHints is an in-process hint store used by tests and local runs.
type MemoryHints struct {
	mu    sync.Mutex
	hints map[string]ParticipantHint
}

// NewMemoryHints constructs an in-memory hint store.
func NewMemoryHints() *MemoryHints {
	return &MemoryHints{hints: make(map[string]ParticipantHint)}
}

func (h *MemoryHints) Set(_ context.Context, conferenceName, externalRef string, hint ParticipantHint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hints[hintKey(conferenceName, externalRef)] = hint
	return nil
}

func (h *MemoryHints) Take(_ context.Context, conferenceName, externalRef string) (*ParticipantHint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := hintKey(conferenceName, externalRef)
	hint, ok := h.hints[key]
	if !ok {
		return nil, nil
	}
	delete(h.hints, key)
	return &hint, nil
}
