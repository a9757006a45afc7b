package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/callcenter-router/internal/domain"
	apperrors "github.com/acme/callcenter-router/pkg/errors"
)

// RedisRegistry keeps one membership set per status plus a JSON record
// per agent. The record carries the TTL; set membership is healed
// against it.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry constructs a registry backed by Redis.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func statusSetKey(status domain.AgentAvailability) string {
	return fmt.Sprintf("agents:status:%s", status)
}

func statusRecordKey(agentID string) string {
	return fmt.Sprintf("agent:status:%s", agentID)
}

// SetStatus writes the record and moves membership in one script.
func (r *RedisRegistry) SetStatus(ctx context.Context, agentID string, status domain.AgentAvailability, callRef string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}

	record := domain.AgentStatusRecord{
		AgentID:        agentID,
		Status:         status,
		CurrentCallRef: callRef,
		ChangedAt:      time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("registry: marshal record: %w", err)
	}

	script := redis.NewScript(`
local record = KEYS[1]
local target = KEYS[2]
local agent = ARGV[1]
for i = 3, #KEYS do
  redis.call('SREM', KEYS[i], agent)
end
redis.call('SADD', target, agent)
redis.call('SET', record, ARGV[2], 'PX', ARGV[3])
return 1
`)

	keys := []string{statusRecordKey(agentID), statusSetKey(status)}
	for _, other := range domain.AllAvailabilities {
		if other != status {
			keys = append(keys, statusSetKey(other))
		}
	}
	if err := script.Run(ctx, r.client, keys, agentID, payload, r.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("registry: set status: %w", err)
	}
	return nil
}

// GetStatus reads the agent's record.
func (r *RedisRegistry) GetStatus(ctx context.Context, agentID string) (domain.AgentStatusRecord, error) {
	raw, err := r.client.Get(ctx, statusRecordKey(agentID)).Bytes()
	if err == redis.Nil {
		return domain.AgentStatusRecord{}, fmt.Errorf("%w: agent %s has no status record", apperrors.ErrNotFound, agentID)
	}
	if err != nil {
		return domain.AgentStatusRecord{}, fmt.Errorf("registry: get status: %w", err)
	}
	var record domain.AgentStatusRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.AgentStatusRecord{}, fmt.Errorf("registry: decode record: %w", err)
	}
	return record, nil
}

// ListAvailable returns the available set, sorted for deterministic
// round-robin walks.
func (r *RedisRegistry) ListAvailable(ctx context.Context) ([]string, error) {
	return r.ListByStatus(ctx, domain.AgentAvailable)
}

// ListByStatus returns the members of one status set, sorted.
func (r *RedisRegistry) ListByStatus(ctx context.Context, status domain.AgentAvailability) ([]string, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}
	ids, err := r.client.SMembers(ctx, statusSetKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list %s: %w", status, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// MarkBusyIfAvailable claims the agent with a compare-and-swap: only a
// current member of the available set is moved to busy.
func (r *RedisRegistry) MarkBusyIfAvailable(ctx context.Context, agentID, callRef string) (bool, error) {
	record := domain.AgentStatusRecord{
		AgentID:        agentID,
		Status:         domain.AgentBusy,
		CurrentCallRef: callRef,
		ChangedAt:      time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("registry: marshal record: %w", err)
	}

	script := redis.NewScript(`
local avail = KEYS[1]
local busy = KEYS[2]
local record = KEYS[3]
local agent = ARGV[1]
if redis.call('SISMEMBER', avail, agent) == 0 then
  return 0
end
redis.call('SMOVE', avail, busy, agent)
redis.call('SET', record, ARGV[2], 'PX', ARGV[3])
return 1
`)

	keys := []string{
		statusSetKey(domain.AgentAvailable),
		statusSetKey(domain.AgentBusy),
		statusRecordKey(agentID),
	}
	res, err := script.Run(ctx, r.client, keys, agentID, payload, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("registry: mark busy: %w", err)
	}
	return res == 1, nil
}

// Heal reconciles set membership with the record. An expired record
// drops the agent from every set; a live record drops memberships that
// disagree with it.
func (r *RedisRegistry) Heal(ctx context.Context, agentID string) error {
	script := redis.NewScript(`
local agent = ARGV[1]
local raw = redis.call('GET', KEYS[1])
if not raw then
  local removed = 0
  for i = 2, #KEYS do
    removed = removed + redis.call('SREM', KEYS[i], agent)
  end
  return removed
end
local status = cjson.decode(raw)['status']
local removed = 0
for i = 2, #KEYS do
  if ARGV[i] == status then
    redis.call('SADD', KEYS[i], agent)
  else
    removed = removed + redis.call('SREM', KEYS[i], agent)
  end
end
return removed
`)

	keys := []string{statusRecordKey(agentID)}
	args := []interface{}{agentID}
	for _, status := range domain.AllAvailabilities {
		keys = append(keys, statusSetKey(status))
		args = append(args, string(status))
	}
	if err := script.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("registry: heal %s: %w", agentID, err)
	}
	return nil
}
