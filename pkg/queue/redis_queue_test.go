package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisQueue(t *testing.T, clock *fakeClock) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewRedisQueue(client, DefaultConfig("orders"), WithRedisClock(clock.Now))
	require.NoError(t, err)
	return q, mr
}

func TestRedisQueue_SendReceiveAck(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, mr := setupRedisQueue(t, clock)

	id, err := q.Send(ctx, []byte(`{"order_id":"ORD1"}`))
	require.NoError(t, err)
	assert.True(t, mr.Exists("queue:{orders}:orders:bodies"))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, `{"order_id":"ORD1"}`, string(msgs[0].Body))
	assert.Equal(t, 1, msgs[0].ReceiveCount)
	assert.Equal(t, clock.Now().UnixMilli(), msgs[0].SentAt.UnixMilli())

	require.NoError(t, q.Ack(ctx, msgs[0].ReceiptHandle))
	assert.ErrorIs(t, q.Ack(ctx, msgs[0].ReceiptHandle), ErrReceiptExpired)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Visible)
	assert.Equal(t, int64(0), stats.InFlight)
	assert.Equal(t, int64(1), stats.Acked)
}

func TestRedisQueue_VisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, _ := setupRedisQueue(t, clock)

	_, err := q.Send(ctx, []byte("task"))
	require.NoError(t, err)

	first, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.InFlight)

	clock.Advance(60 * time.Second)
	none, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	clock.Advance(31 * time.Second)
	again, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].ReceiveCount)
	assert.ErrorIs(t, q.Ack(ctx, first[0].ReceiptHandle), ErrReceiptExpired)
}

func TestRedisQueue_DeadLetter(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, _ := setupRedisQueue(t, clock)
	dlq := q.DeadLetterQueue()

	_, err := q.Send(ctx, []byte("poison"))
	require.NoError(t, err)

	deliveries := 0
	for i := 0; i < 5; i++ {
		msgs, err := q.Receive(ctx, 10, 0)
		require.NoError(t, err)
		deliveries += len(msgs)
		clock.Advance(91 * time.Second)
	}
	assert.Equal(t, 3, deliveries)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DeadLettered)
	assert.Equal(t, int64(1), stats.DeadLetters)
	assert.Equal(t, int64(0), stats.Visible+stats.InFlight)

	dead, err := dlq.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", string(dead[0].Body))
	require.NoError(t, dlq.Ack(ctx, dead[0].ReceiptHandle))
}

func TestRedisQueue_BatchOrder(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, _ := setupRedisQueue(t, clock)

	for i := 0; i < 12; i++ {
		_, err := q.Send(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	batch, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, batch, 10)
	assert.Equal(t, "a", string(batch[0].Body))
	assert.Equal(t, "j", string(batch[9].Body))

	rest, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestRedisQueue_ReceiveWaits(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, _ := setupRedisQueue(t, clock)

	start := time.Now()
	msgs, err := q.Receive(ctx, 10, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRedisQueue_Closed(t *testing.T) {
	ctx := context.Background()
	q, _ := setupRedisQueue(t, newFakeClock())

	require.NoError(t, q.Health(ctx))
	require.NoError(t, q.Close())

	_, err := q.Send(ctx, []byte("x"))
	assert.ErrorIs(t, err, ErrQueueClosed)
	_, err = q.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Health(ctx), ErrQueueClosed)
}

func TestNewRedisQueue_Invalid(t *testing.T) {
	_, err := NewRedisQueue(nil, DefaultConfig("x"))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
