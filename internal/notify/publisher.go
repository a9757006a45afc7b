package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// AgentNotifier delivers notifications to per-agent topics, so each
// agent's client only ever reads its own channel.
type AgentNotifier struct {
	writer      *kafka.Writer
	topicPrefix string
}

// NewAgentNotifier constructs an agent notifier.
func NewAgentNotifier(k *Kafka, topicPrefix string) *AgentNotifier {
	if topicPrefix == "" {
		topicPrefix = "agent-notify."
	}
	return &AgentNotifier{writer: k.NewMultiTopicWriter(), topicPrefix: topicPrefix}
}

// NotifyAgent emits one notification on the agent's channel.
func (n *AgentNotifier) NotifyAgent(ctx context.Context, note AgentNotification) error {
	if note.AgentID == "" {
		return fmt.Errorf("agent notifier: agent id is required")
	}
	if note.EventID == uuid.Nil {
		note.EventID = uuid.New()
	}
	if note.SentAt.IsZero() {
		note.SentAt = time.Now().UTC()
	}

	value, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("agent notifier: marshal message: %w", err)
	}
	record := kafka.Message{
		Topic: n.topicPrefix + note.AgentID,
		Key:   []byte(note.CallRef),
		Value: value,
		Time:  note.SentAt,
	}
	if err := n.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("agent notifier: write message: %w", err)
	}
	return nil
}

// Close closes the notifier.
func (n *AgentNotifier) Close() error {
	return n.writer.Close()
}

// CallEventPublisher emits call state changes on the shared stream.
type CallEventPublisher struct {
	writer *kafka.Writer
}

// NewCallEventPublisher constructs a call event publisher for the topic.
func NewCallEventPublisher(k *Kafka, topic string) *CallEventPublisher {
	return &CallEventPublisher{writer: k.NewWriter(topic)}
}

// PublishCallEvent emits one call event.
func (p *CallEventPublisher) PublishCallEvent(ctx context.Context, msg CallEventMessage) error {
	if msg.EventID == uuid.Nil {
		msg.EventID = uuid.New()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("call event publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(msg.CallRef),
		Value: value,
		Time:  msg.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("call event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *CallEventPublisher) Close() error {
	return p.writer.Close()
}

// QueueStatsPublisher emits periodic queue snapshots.
type QueueStatsPublisher struct {
	writer *kafka.Writer
}

// NewQueueStatsPublisher constructs a stats publisher for the topic.
func NewQueueStatsPublisher(k *Kafka, topic string) *QueueStatsPublisher {
	return &QueueStatsPublisher{writer: k.NewWriter(topic)}
}

// PublishQueueStats emits one queue snapshot.
func (p *QueueStatsPublisher) PublishQueueStats(ctx context.Context, msg QueueStatsMessage) error {
	if msg.SampledAt.IsZero() {
		msg.SampledAt = time.Now().UTC()
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue stats publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(msg.QueueName),
		Value: value,
		Time:  msg.SampledAt,
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("queue stats publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *QueueStatsPublisher) Close() error {
	return p.writer.Close()
}
