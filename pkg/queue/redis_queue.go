package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue durable TaskQueue on Redis. Visibility deadlines live in a
// sorted set; bodies, receive counts and send times in hashes.
type RedisQueue struct {
	client redis.UniversalClient
	config Config
	keys   redisKeys
	dlq    *redisKeys
	now    func() time.Time
	closed atomic.Bool

	sent, received, acked, deadLettered atomic.Int64
}

type redisKeys struct {
	visible, bodies, receives, sent string
}

func newRedisKeys(tag, name string) redisKeys {
	prefix := fmt.Sprintf("queue:{%s}:%s", tag, name)
	return redisKeys{
		visible:  prefix + ":visible",
		bodies:   prefix + ":bodies",
		receives: prefix + ":receives",
		sent:     prefix + ":sent",
	}
}

func (k redisKeys) list() []string {
	return []string{k.visible, k.bodies, k.receives, k.sent}
}

// RedisOption configures a RedisQueue
type RedisOption func(*RedisQueue)

// WithRedisClock replaces time.Now, for tests
func WithRedisClock(now func() time.Time) RedisOption {
	return func(q *RedisQueue) {
		q.now = now
	}
}

// NewRedisQueue creates a queue named config.Name. When MaxReceiveCount is
// set, exhausted messages move to a sibling queue named "<name>-dlq", which
// DeadLetterQueue opens.
func NewRedisQueue(client redis.UniversalClient, config Config, opts ...RedisOption) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfiguration)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	q := &RedisQueue{
		client: client,
		config: config,
		keys:   newRedisKeys(config.Name, config.Name),
		now:    time.Now,
	}
	if config.MaxReceiveCount > 0 {
		dlq := newRedisKeys(config.Name, deadLetterName(config.Name))
		q.dlq = &dlq
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

func deadLetterName(name string) string {
	return name + "-dlq"
}

// DeadLetterQueue opens the dead letter queue of q. It never dead-letters
// further, so its messages are redelivered until acked.
func (q *RedisQueue) DeadLetterQueue() *RedisQueue {
	config := q.config
	config.Name = deadLetterName(q.config.Name)
	config.MaxReceiveCount = 0

	return &RedisQueue{
		client: q.client,
		config: config,
		keys:   newRedisKeys(q.config.Name, config.Name),
		now:    q.now,
	}
}

// Send enqueues body, visible immediately
func (q *RedisQueue) Send(ctx context.Context, body []byte) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}

	id := uuid.NewString()
	nowMs := q.now().UnixMilli()

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.bodies, id, body)
		pipe.HSet(ctx, q.keys.receives, id, 0)
		pipe.HSet(ctx, q.keys.sent, id, nowMs)
		pipe.ZAdd(ctx, q.keys.visible, redis.Z{Score: float64(nowMs), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", q.config.Name, err)
	}

	q.sent.Add(1)
	return id, nil
}

// Receive returns up to max visible messages, polling until wait elapses
func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)

	for {
		if q.closed.Load() {
			return nil, ErrQueueClosed
		}

		msgs, err := q.receiveOnce(ctx, max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining > q.config.PollInterval {
			remaining = q.config.PollInterval
		}
		if err := sleepCtx(ctx, remaining); err != nil {
			return nil, err
		}
	}
}

func (q *RedisQueue) receiveOnce(ctx context.Context, max int) ([]*Message, error) {
	keys := q.keys.list()
	dlqEnabled := "0"
	if q.dlq != nil {
		keys = append(keys, q.dlq.list()...)
		dlqEnabled = "1"
	} else {
		// the script always addresses eight keys
		keys = append(keys, q.keys.list()...)
	}

	now := q.now()
	raw, err := receiveLua.Run(ctx, q.client, keys,
		now.UnixMilli(),
		max,
		now.Add(q.config.VisibilityTimeout).UnixMilli(),
		q.config.MaxReceiveCount,
		dlqEnabled,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.config.Name, err)
	}
	if len(raw) == 0 || (len(raw)-1)%4 != 0 {
		return nil, fmt.Errorf("receive from %s: malformed script reply of %d elements", q.config.Name, len(raw))
	}

	if dead, _ := strconv.ParseInt(raw[0], 10, 64); dead > 0 {
		q.deadLettered.Add(dead)
	}

	msgs := make([]*Message, 0, (len(raw)-1)/4)
	for i := 1; i+3 < len(raw); i += 4 {
		count, err := strconv.Atoi(raw[i+1])
		if err != nil {
			return nil, fmt.Errorf("receive from %s: bad receive count %q", q.config.Name, raw[i+1])
		}
		sentMs, _ := strconv.ParseInt(raw[i+2], 10, 64)
		msgs = append(msgs, &Message{
			ID:            raw[i],
			Body:          []byte(raw[i+3]),
			ReceiveCount:  count,
			ReceiptHandle: receiptHandle(raw[i], count),
			SentAt:        time.UnixMilli(sentMs),
		})
	}
	q.received.Add(int64(len(msgs)))
	return msgs, nil
}

// Ack deletes the message if receiptHandle belongs to its latest delivery
func (q *RedisQueue) Ack(ctx context.Context, receiptHandle string) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	id, count, err := parseReceipt(receiptHandle)
	if err != nil {
		return err
	}

	result, err := ackLua.Run(ctx, q.client, q.keys.list(), id, count).Int()
	if err != nil {
		return fmt.Errorf("ack on %s: %w", q.config.Name, err)
	}
	if result != 1 {
		return ErrReceiptExpired
	}

	q.acked.Add(1)
	return nil
}

// Close stops the queue; the shared redis client stays open
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

// Health pings redis
func (q *RedisQueue) Health(ctx context.Context) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	return q.client.Ping(ctx).Err()
}

// Stats returns queue depth and this instance's counters
func (q *RedisQueue) Stats(ctx context.Context) (*QueueStats, error) {
	nowMs := strconv.FormatInt(q.now().UnixMilli(), 10)

	pipe := q.client.Pipeline()
	visible := pipe.ZCount(ctx, q.keys.visible, "-inf", nowMs)
	inFlight := pipe.ZCount(ctx, q.keys.visible, "("+nowMs, "+inf")
	var dead *redis.IntCmd
	if q.dlq != nil {
		dead = pipe.ZCard(ctx, q.dlq.visible)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("stats for %s: %w", q.config.Name, err)
	}

	stats := &QueueStats{
		Name:         q.config.Name,
		Visible:      visible.Val(),
		InFlight:     inFlight.Val(),
		Sent:         q.sent.Load(),
		Received:     q.received.Load(),
		Acked:        q.acked.Load(),
		DeadLettered: q.deadLettered.Load(),
	}
	if dead != nil {
		stats.DeadLetters = dead.Val()
	}
	return stats, nil
}
