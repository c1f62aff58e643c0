package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskQueue at-least-once queue with visibility timeout and dead-lettering.
// A received message stays invisible for the visibility timeout; unless it
// is acked in that window it becomes visible again. Once a message has been
// received MaxReceiveCount times, the next receive moves it to the dead
// letter queue instead of delivering it again.
type TaskQueue interface {
	// Send enqueues body and returns the message id
	Send(ctx context.Context, body []byte) (string, error)

	// Receive returns up to max visible messages, waiting up to wait for at
	// least one to become available
	Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error)

	// Ack deletes a received message; the receipt of an earlier delivery is rejected
	Ack(ctx context.Context, receiptHandle string) error

	// Close closes the queue
	Close() error

	// Health checks the health of the queue
	Health(ctx context.Context) error

	// Stats returns queue depth and counters
	Stats(ctx context.Context) (*QueueStats, error)
}

// Message a delivery of a queued task
type Message struct {
	ID            string
	Body          []byte
	ReceiveCount  int
	ReceiptHandle string
	SentAt        time.Time
}

// Config queue configuration
type Config struct {
	Name              string        `json:"name"`
	VisibilityTimeout time.Duration `json:"visibility_timeout"`
	MaxReceiveCount   int           `json:"max_receive_count"` // 0 disables dead-lettering
	PollInterval      time.Duration `json:"poll_interval"`
}

// DefaultConfig returns the standard order task queue settings
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		VisibilityTimeout: 90 * time.Second,
		MaxReceiveCount:   3,
		PollInterval:      100 * time.Millisecond,
	}
}

func (c *Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidConfiguration)
	}
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("%w: visibility timeout must be positive", ErrInvalidConfiguration)
	}
	if c.MaxReceiveCount < 0 {
		return fmt.Errorf("%w: max receive count must not be negative", ErrInvalidConfiguration)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return nil
}

// QueueStats represents queue statistics
type QueueStats struct {
	Name         string `json:"name"`
	Visible      int64  `json:"visible"`
	InFlight     int64  `json:"in_flight"`
	DeadLetters  int64  `json:"dead_letters"`
	Sent         int64  `json:"sent"`
	Received     int64  `json:"received"`
	Acked        int64  `json:"acked"`
	DeadLettered int64  `json:"dead_lettered"`
}

// Common errors
var (
	ErrQueueClosed          = errors.New("queue is closed")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidReceipt       = errors.New("invalid receipt handle")
	ErrReceiptExpired       = errors.New("receipt handle expired: message was redelivered or already deleted")
)

func receiptHandle(id string, receiveCount int) string {
	return id + ":" + strconv.Itoa(receiveCount)
}

func parseReceipt(handle string) (string, int, error) {
	i := strings.LastIndexByte(handle, ':')
	if i <= 0 || i == len(handle)-1 {
		return "", 0, ErrInvalidReceipt
	}
	count, err := strconv.Atoi(handle[i+1:])
	if err != nil || count <= 0 {
		return "", 0, ErrInvalidReceipt
	}
	return handle[:i], count, nil
}

// sleepCtx waits d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
