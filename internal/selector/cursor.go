package selector

import (
	"context"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// RedisCursor persists round-robin positions as plain integer keys.
type RedisCursor struct {
	client *redis.Client
}

// NewRedisCursor constructs a Redis-backed cursor.
func NewRedisCursor(client *redis.Client) *RedisCursor {
	return &RedisCursor{client: client}
}

func cursorKey(queueName string) string {
	return fmt.Sprintf("rr:%s", queueName)
}

func (c *RedisCursor) Last(ctx context.Context, queueName string) (int, error) {
	idx, err := c.client.Get(ctx, cursorKey(queueName)).Int()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("cursor: get %s: %w", queueName, err)
	}
	return idx, nil
}

func (c *RedisCursor) Set(ctx context.Context, queueName string, index int) error {
	if err := c.client.Set(ctx, cursorKey(queueName), index, 0).Err(); err != nil {
		return fmt.Errorf("cursor: set %s: %w", queueName, err)
	}
	return nil
}

// MemoryCursor is an in-process Cursor used by tests and local runs.
type MemoryCursor struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewMemoryCursor constructs an in-memory cursor.
func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{cursors: make(map[string]int)}
}

func (c *MemoryCursor) Last(_ context.Context, queueName string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.cursors[queueName]
	if !ok {
		return -1, nil
	}
	return idx, nil
}

func (c *MemoryCursor) Set(_ context.Context, queueName string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[queueName] = index
	return nil
}
