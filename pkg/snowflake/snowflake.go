package snowflake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// Epoch 2024-01-01T00:00:00Z in milliseconds
	Epoch int64 = 1704067200000

	// NodeBits bits for the node id; node ids come from checkout.id_node
	NodeBits uint8 = 10

	// StepBits bits for the per-millisecond sequence
	StepBits uint8 = 12

	nodeMask  = -1 ^ (-1 << NodeBits)
	stepMask  = -1 ^ (-1 << StepBits)
	timeShift = NodeBits + StepBits
	nodeShift = StepBits
)

// ErrInvalidID the string is not a prefixed snowflake id
var ErrInvalidID = errors.New("invalid snowflake id")

// IDGenerator ID generator using snowflake algorithm
type IDGenerator struct {
	mu        sync.Mutex
	timestamp int64
	nodeID    int64
	step      int64
	prefix    string
	nowMillis func() int64
}

// Option configures a generator
type Option func(*IDGenerator)

// WithPrefix sets the prefix used by NextString
func WithPrefix(prefix string) Option {
	return func(g *IDGenerator) {
		g.prefix = prefix
	}
}

// WithClock replaces the millisecond clock
func WithClock(nowMillis func() int64) Option {
	return func(g *IDGenerator) {
		g.nowMillis = nowMillis
	}
}

// NewIDGenerator creates a new ID generator
func NewIDGenerator(nodeID int64, opts ...Option) (*IDGenerator, error) {
	if nodeID < 0 || nodeID > nodeMask {
		return nil, fmt.Errorf("node id %d out of range [0, %d]", nodeID, nodeMask)
	}

	g := &IDGenerator{
		nodeID:    nodeID,
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NextID generates a new ID
func (g *IDGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowMillis()
	if now < g.timestamp {
		// clock stepped back; keep issuing from the last timestamp
		now = g.timestamp
	}

	if g.timestamp == now {
		g.step = (g.step + 1) & stepMask

		if g.step == 0 {
			// Sequence exhausted, wait for next millisecond
			for now <= g.timestamp {
				now = g.nowMillis()
			}
		}
	} else {
		g.step = 0
	}

	g.timestamp = now

	return ((now - Epoch) << timeShift) |
		(g.nodeID << nodeShift) |
		g.step
}

// NextString generates a prefixed decimal id such as ORD1234567890
func (g *IDGenerator) NextString() string {
	return g.prefix + strconv.FormatInt(g.NextID(), 10)
}

// ParseString strips prefix and returns the numeric id
func ParseString(prefix, s string) (int64, error) {
	if !strings.HasPrefix(s, prefix) {
		return 0, fmt.Errorf("%w: %q lacks prefix %q", ErrInvalidID, s, prefix)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(s, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}
