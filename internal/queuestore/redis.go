package queuestore

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

// RedisStore keeps each queue as a sorted set of call references, with
// the serialized entries in a companion hash. Members are references
// rather than payloads so a call can be removed by reference alone.
type RedisStore struct {
	client        *redis.Client
	avgHandleTime time.Duration
}

// NewRedisStore constructs a queue store backed by Redis.
func NewRedisStore(client *redis.Client, avgHandleTime time.Duration) *RedisStore {
	if avgHandleTime <= 0 {
		avgHandleTime = 180 * time.Second
	}
	return &RedisStore{client: client, avgHandleTime: avgHandleTime}
}

func queueKey(queueName string) string {
	return fmt.Sprintf("queue:%s", queueName)
}

func queueItemsKey(queueName string) string {
	return fmt.Sprintf("queue:items:%s", queueName)
}

const knownQueuesKey = "queues:known"

// Enqueue inserts the call, or reports the existing position when the
// reference is already queued.
func (s *RedisStore) Enqueue(ctx context.Context, call domain.QueuedCall) (EnqueueResult, error) {
	if call.CallRef == "" || call.QueueName == "" {
		return EnqueueResult{}, fmt.Errorf("%w: call ref and queue name are required", apperrors.ErrValidation)
	}
	if call.EnqueuedAt.IsZero() {
		call.EnqueuedAt = time.Now().UTC()
	}
	call.Priority = domain.ClampPriority(call.Priority)

	payload, err := json.Marshal(call)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queuestore: marshal entry: %w", err)
	}

	script := redis.NewScript(`
local zkey = KEYS[1]
local hkey = KEYS[2]
local known = KEYS[3]
local ref = ARGV[1]
if redis.call('ZSCORE', zkey, ref) then
  return {0, redis.call('ZRANK', zkey, ref)}
end
redis.call('ZADD', zkey, ARGV[2], ref)
redis.call('HSET', hkey, ref, ARGV[3])
redis.call('SADD', known, ARGV[4])
return {1, redis.call('ZRANK', zkey, ref)}
`)

	keys := []string{queueKey(call.QueueName), queueItemsKey(call.QueueName), knownQueuesKey}
	res, err := script.Run(ctx, s.client, keys,
		call.CallRef, Score(call.Priority, call.EnqueuedAt), payload, call.QueueName,
	).Int64Slice()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queuestore: enqueue: %w", err)
	}
	if len(res) != 2 {
		return EnqueueResult{}, fmt.Errorf("queuestore: enqueue: unexpected reply %v", res)
	}

	position := int(res[1]) + 1
	return EnqueueResult{
		Position:      position,
		EstimatedWait: time.Duration(position) * s.avgHandleTime,
		Duplicate:     res[0] == 0,
	}, nil
}

// Dequeue pops the lowest-score entry atomically.
func (s *RedisStore) Dequeue(ctx context.Context, queueName string) (domain.QueuedCall, bool, error) {
	script := redis.NewScript(`
local zkey = KEYS[1]
local hkey = KEYS[2]
local refs = redis.call('ZRANGE', zkey, 0, 0)
if #refs == 0 then
  return false
end
local ref = refs[1]
redis.call('ZREM', zkey, ref)
local payload = redis.call('HGET', hkey, ref)
redis.call('HDEL', hkey, ref)
return payload
`)

	raw, err := script.Run(ctx, s.client, []string{queueKey(queueName), queueItemsKey(queueName)}).Text()
	if err == redis.Nil {
		return domain.QueuedCall{}, false, nil
	}
	if err != nil {
		return domain.QueuedCall{}, false, fmt.Errorf("queuestore: dequeue %s: %w", queueName, err)
	}

	var call domain.QueuedCall
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		return domain.QueuedCall{}, false, fmt.Errorf("queuestore: decode entry: %w", err)
	}
	return call, true, nil
}

// Remove deletes one queued call by reference.
func (s *RedisStore) Remove(ctx context.Context, queueName, callRef string) (bool, error) {
	script := redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return removed
`)
	removed, err := script.Run(ctx, s.client, []string{queueKey(queueName), queueItemsKey(queueName)}, callRef).Int()
	if err != nil {
		return false, fmt.Errorf("queuestore: remove %s from %s: %w", callRef, queueName, err)
	}
	return removed == 1, nil
}

// Status snapshots queue depth, waits, and the waiting entries in
// dequeue order.
func (s *RedisStore) Status(ctx context.Context, queueName string) (QueueStatus, error) {
	refs, err := s.client.ZRange(ctx, queueKey(queueName), 0, -1).Result()
	if err != nil {
		return QueueStatus{}, fmt.Errorf("queuestore: members %s: %w", queueName, err)
	}

	status := QueueStatus{
		QueueName:     queueName,
		Depth:         len(refs),
		EstimatedWait: time.Duration(len(refs)) * s.avgHandleTime,
	}
	if len(refs) == 0 {
		return status, nil
	}

	raw, err := s.client.HMGet(ctx, queueItemsKey(queueName), refs...).Result()
	if err != nil {
		return QueueStatus{}, fmt.Errorf("queuestore: entries %s: %w", queueName, err)
	}
	now := time.Now()
	for _, item := range raw {
		payload, ok := item.(string)
		if !ok {
			// Entry removed between the range and the hash read.
			continue
		}
		var call domain.QueuedCall
		if err := json.Unmarshal([]byte(payload), &call); err != nil {
			return QueueStatus{}, fmt.Errorf("queuestore: decode entry: %w", err)
		}
		status.Entries = append(status.Entries, call)
		if wait := now.Sub(call.EnqueuedAt); wait > status.OldestWait {
			status.OldestWait = wait
		}
	}
	return status, nil
}

// Queues lists queues that have seen at least one enqueue.
func (s *RedisStore) Queues(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, knownQueuesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("queuestore: list queues: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
