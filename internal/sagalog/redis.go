package sagalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"
	"marketplace/internal/tools/logger"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

type RedisConfig struct {
	StreamPrefix    string
	Group           string
	Consumer        string
	Partitions      int
	MaxLen          int64
	Block           time.Duration
	RedeliveryDelay time.Duration
}

// RedisLog keeps one Redis stream per partition and consumes it through a
// consumer group. Unacknowledged messages stay in the group's pending list
// and are read again before new ones.
type RedisLog struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

func NewRedisLog(client redis.UniversalClient, cfg RedisConfig) *RedisLog {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "saga"
	}
	if cfg.Group == "" {
		cfg.Group = "saga-executor"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "executor-1"
	}
	if cfg.Partitions < 1 {
		cfg.Partitions = 1
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = time.Second
	}
	return &RedisLog{client: client, cfg: cfg}
}

func (l *RedisLog) Partitions() int { return l.cfg.Partitions }

func (l *RedisLog) stream(partition int) string {
	return fmt.Sprintf("%s:%d", l.cfg.StreamPrefix, partition)
}

func (l *RedisLog) deadLetterStream() string {
	return l.cfg.StreamPrefix + ":dead"
}

func (l *RedisLog) Publish(ctx context.Context, ev models.SagaEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: l.stream(PartitionFor(ev.OrderID, l.cfg.Partitions)),
		Values: map[string]any{payloadField: string(data)},
	}
	if l.cfg.MaxLen > 0 {
		args.MaxLen = l.cfg.MaxLen
		args.Approx = true
	}
	if err := l.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: xadd: %v", domainErrors.ErrLogUnavailable, err)
	}
	return nil
}

// EnsureGroups creates the consumer group on every partition stream.
func (l *RedisLog) EnsureGroups(ctx context.Context) error {
	for p := 0; p < l.cfg.Partitions; p++ {
		if err := l.ensureGroup(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (l *RedisLog) ensureGroup(ctx context.Context, partition int) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream(partition), l.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group: %v", domainErrors.ErrLogUnavailable, err)
	}
	return nil
}

func (l *RedisLog) Subscribe(ctx context.Context, partition int, h Handler) error {
	if partition < 0 || partition >= l.cfg.Partitions {
		return fmt.Errorf("partition %d out of range [0, %d)", partition, l.cfg.Partitions)
	}
	if err := l.ensureGroup(ctx, partition); err != nil {
		return err
	}
	stream := l.stream(partition)

	// "0" перечитывает pending этого консьюмера, ">" берёт новые сообщения
	cursor := "0"
	for ctx.Err() == nil {
		args := &redis.XReadGroupArgs{
			Group:    l.cfg.Group,
			Consumer: l.cfg.Consumer,
			Streams:  []string{stream, cursor},
			Count:    1,
			Block:    l.cfg.Block,
		}
		if cursor == "0" {
			args.Block = -1
		}

		res, err := l.client.XReadGroup(ctx, args).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Logger.WarnContext(ctx, "xreadgroup failed", "stream", stream, "error", err)
			l.pause(ctx)
			continue
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			cursor = ">"
			continue
		}

		msg := res[0].Messages[0]
		ev, err := decodeMessage(msg)
		if err != nil {
			l.deadLetter(ctx, stream, msg, err)
			continue
		}

		if err := h(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Logger.WarnContext(ctx, "saga handler failed, redelivering",
				"partition", partition, "order_id", ev.OrderID, "event_id", ev.EventID, "error", err)
			cursor = "0"
			l.pause(ctx)
			continue
		}

		if err := l.client.XAck(ctx, stream, l.cfg.Group, msg.ID).Err(); err != nil {
			// сообщение останется в pending и будет обработано повторно
			logger.Logger.WarnContext(ctx, "xack failed", "stream", stream, "id", msg.ID, "error", err)
			cursor = "0"
		}
	}
	return nil
}

func (l *RedisLog) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(l.cfg.RedeliveryDelay):
	}
}

// deadLetter moves an undecodable message aside so it does not block the
// partition forever.
func (l *RedisLog) deadLetter(ctx context.Context, stream string, msg redis.XMessage, cause error) {
	logger.Logger.ErrorContext(ctx, "undecodable saga message moved to dead letter stream",
		"stream", stream, "id", msg.ID, "error", cause)

	values := map[string]any{"source": stream, "source_id": msg.ID, "error": cause.Error()}
	if raw, ok := msg.Values[payloadField]; ok {
		values[payloadField] = raw
	}
	if err := l.client.XAdd(ctx, &redis.XAddArgs{Stream: l.deadLetterStream(), Values: values}).Err(); err != nil {
		logger.Logger.ErrorContext(ctx, "dead letter xadd failed", "error", err)
		l.pause(ctx)
		return
	}
	_ = l.client.XAck(ctx, stream, l.cfg.Group, msg.ID).Err()
}

func decodeMessage(msg redis.XMessage) (models.SagaEvent, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return models.SagaEvent{}, fmt.Errorf("message %s has no %s field", msg.ID, payloadField)
	}
	var ev models.SagaEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return models.SagaEvent{}, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	return ev, nil
}
