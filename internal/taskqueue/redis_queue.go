package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the queue key.
const DefaultRedisPrefix = "shellguard:"

// redisPollInterval bounds each BRPOP so cancellation is noticed even when
// the client does not apply context deadlines to blocking reads.
const redisPollInterval = time.Second

// RedisQueue is a Queue on a single Redis list, <prefix>tasks. Producers
// LPUSH and workers BRPOP, so the list is FIFO. Values are gob-encoded.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue constructs a Redis-backed Queue. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "tasks",
		logger: slog.Default(),
	}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// BRPop returns [key, value].
		res, err := q.client.BRPop(ctx, redisPollInterval, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(res) != 2 {
			q.logger.WarnContext(ctx, "redis_queue_unexpected_reply", slog.Int("len", len(res)))
			continue
		}
		return DecodeTask([]byte(res[1]))
	}
}

// Len returns LLEN of the list, or 0 when Redis cannot be reached.
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.logger.Warn("redis_queue_len_failed", slog.Any("error", err))
		return 0
	}
	return int(n)
}
