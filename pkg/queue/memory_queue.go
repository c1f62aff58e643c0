package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue in-process TaskQueue. Messages live only as long as the process.
type MemoryQueue struct {
	config     Config
	deadLetter TaskQueue
	now        func() time.Time

	mu       sync.Mutex
	messages map[string]*memoryMessage
	order    []string
	closed   bool
	wake     chan struct{}

	sent, received, acked, deadLettered int64
}

type memoryMessage struct {
	id           string
	body         []byte
	receiveCount int
	visibleAt    time.Time
	sentAt       time.Time
}

// MemoryOption configures a MemoryQueue
type MemoryOption func(*MemoryQueue)

// WithDeadLetter routes messages past MaxReceiveCount to dlq
func WithDeadLetter(dlq TaskQueue) MemoryOption {
	return func(mq *MemoryQueue) {
		mq.deadLetter = dlq
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) MemoryOption {
	return func(mq *MemoryQueue) {
		mq.now = now
	}
}

// NewMemoryQueue creates a new memory queue instance
func NewMemoryQueue(config Config, opts ...MemoryOption) (*MemoryQueue, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	mq := &MemoryQueue{
		config:   config,
		now:      time.Now,
		messages: make(map[string]*memoryMessage),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(mq)
	}
	return mq, nil
}

// Send enqueues a message, visible immediately
func (mq *MemoryQueue) Send(ctx context.Context, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return "", ErrQueueClosed
	}

	now := mq.now()
	msg := &memoryMessage{
		id:        uuid.NewString(),
		body:      append([]byte(nil), body...),
		visibleAt: now,
		sentAt:    now,
	}
	mq.messages[msg.id] = msg
	mq.order = append(mq.order, msg.id)
	mq.sent++

	select {
	case mq.wake <- struct{}{}:
	default:
	}
	return msg.id, nil
}

// Receive returns up to max visible messages
func (mq *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)

	for {
		msgs, err := mq.receiveOnce(ctx, max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining > mq.config.PollInterval {
			remaining = mq.config.PollInterval
		}

		timer := time.NewTimer(remaining)
		select {
		case <-mq.wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

func (mq *MemoryQueue) receiveOnce(ctx context.Context, max int) ([]*Message, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil, ErrQueueClosed
	}

	now := mq.now()
	var out []*Message
	kept := mq.order[:0]

	for _, id := range mq.order {
		msg, ok := mq.messages[id]
		if !ok {
			continue
		}
		if len(out) >= max || msg.visibleAt.After(now) {
			kept = append(kept, id)
			continue
		}

		if mq.config.MaxReceiveCount > 0 && msg.receiveCount >= mq.config.MaxReceiveCount {
			delete(mq.messages, id)
			mq.deadLettered++
			if mq.deadLetter != nil {
				if _, err := mq.deadLetter.Send(ctx, msg.body); err != nil {
					// keep it here rather than lose it
					mq.messages[id] = msg
					mq.deadLettered--
					kept = append(kept, id)
				}
			}
			continue
		}

		msg.receiveCount++
		msg.visibleAt = now.Add(mq.config.VisibilityTimeout)
		mq.received++
		out = append(out, &Message{
			ID:            msg.id,
			Body:          append([]byte(nil), msg.body...),
			ReceiveCount:  msg.receiveCount,
			ReceiptHandle: receiptHandle(msg.id, msg.receiveCount),
			SentAt:        msg.sentAt,
		})
		kept = append(kept, id)
	}

	// clear the tail so dropped ids can be collected
	for i := len(kept); i < len(mq.order); i++ {
		mq.order[i] = ""
	}
	mq.order = kept
	return out, nil
}

// Ack deletes the message if receiptHandle belongs to its latest delivery
func (mq *MemoryQueue) Ack(ctx context.Context, receiptHandle string) error {
	id, count, err := parseReceipt(receiptHandle)
	if err != nil {
		return err
	}

	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return ErrQueueClosed
	}

	msg, ok := mq.messages[id]
	if !ok || msg.receiveCount != count {
		return ErrReceiptExpired
	}
	delete(mq.messages, id)
	mq.acked++
	return nil
}

// Close closes the queue
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	mq.closed = true
	return nil
}

// Health checks the health of the queue
func (mq *MemoryQueue) Health(ctx context.Context) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return ErrQueueClosed
	}
	return nil
}

// Stats returns queue statistics
func (mq *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	mq.mu.Lock()
	now := mq.now()
	stats := &QueueStats{
		Name:         mq.config.Name,
		Sent:         mq.sent,
		Received:     mq.received,
		Acked:        mq.acked,
		DeadLettered: mq.deadLettered,
	}
	for _, msg := range mq.messages {
		if msg.visibleAt.After(now) {
			stats.InFlight++
		} else {
			stats.Visible++
		}
	}
	dlq := mq.deadLetter
	mq.mu.Unlock()

	if dlq != nil {
		dlqStats, err := dlq.Stats(ctx)
		if err != nil {
			return nil, err
		}
		stats.DeadLetters = dlqStats.Visible + dlqStats.InFlight
	}
	return stats, nil
}
