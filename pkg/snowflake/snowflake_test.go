package snowflake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseID(id int64) (timestamp, nodeID, step int64) {
	return (id >> timeShift) + Epoch, (id >> nodeShift) & nodeMask, id & stepMask
}

func TestNewIDGenerator(t *testing.T) {
	for _, node := range []int64{0, 1, nodeMask} {
		gen, err := NewIDGenerator(node)
		assert.NoError(t, err)
		assert.NotNil(t, gen)
	}

	for _, node := range []int64{-1, nodeMask + 1} {
		gen, err := NewIDGenerator(node)
		assert.Error(t, err)
		assert.Nil(t, gen)
	}
}

func TestNextID_UniqueAndOrdered(t *testing.T) {
	gen, err := NewIDGenerator(1)
	require.NoError(t, err)

	const n = 5000
	seen := make(map[int64]bool, n)
	var prev int64
	for i := 0; i < n; i++ {
		id := gen.NextID()
		require.False(t, seen[id], "duplicate id %d", id)
		require.Greater(t, id, prev)
		seen[id] = true
		prev = id
	}
}

func TestNextID_Concurrent(t *testing.T) {
	gen, err := NewIDGenerator(7)
	require.NoError(t, err)

	const workers, perWorker = 10, 200
	ids := make(chan int64, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- gen.NextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestNextID_ClockBackwards(t *testing.T) {
	now := Epoch + 10_000
	gen, err := NewIDGenerator(3, WithClock(func() int64 { return now }))
	require.NoError(t, err)

	first := gen.NextID()
	now -= 5_000
	second := gen.NextID()

	assert.Greater(t, second, first)
	firstTS, _, _ := parseID(first)
	secondTS, _, step := parseID(second)
	assert.Equal(t, firstTS, secondTS)
	assert.Equal(t, int64(1), step)
}

func TestNextID_SequenceRollover(t *testing.T) {
	now := Epoch + 1
	calls := 0
	gen, err := NewIDGenerator(3, WithClock(func() int64 {
		calls++
		if calls > stepMask+2 {
			return Epoch + 2
		}
		return now
	}))
	require.NoError(t, err)

	var last int64
	for i := 0; i <= stepMask+1; i++ {
		last = gen.NextID()
	}
	timestamp, _, step := parseID(last)
	assert.Equal(t, Epoch+2, timestamp)
	assert.Equal(t, int64(0), step)
}

func TestParseID(t *testing.T) {
	gen, err := NewIDGenerator(123)
	require.NoError(t, err)

	before := time.Now().UnixMilli()
	id := gen.NextID()
	after := time.Now().UnixMilli()

	timestamp, nodeID, step := parseID(id)
	assert.Equal(t, int64(123), nodeID)
	assert.Equal(t, int64(0), step)
	assert.True(t, timestamp >= before && timestamp <= after)
}

func TestNextString(t *testing.T) {
	gen, err := NewIDGenerator(5, WithPrefix("ORD"))
	require.NoError(t, err)

	s := gen.NextString()
	assert.Regexp(t, `^ORD[0-9]+$`, s)
	assert.LessOrEqual(t, len(s), 32)

	id, err := ParseString("ORD", s)
	require.NoError(t, err)
	_, nodeID, _ := parseID(id)
	assert.Equal(t, int64(5), nodeID)

	for _, bad := range []string{"", "ORD", "ORDabc", "INV123", "ORD-5"} {
		_, err := ParseString("ORD", bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, int64(1023), int64(nodeMask))
	assert.Equal(t, int64(4095), int64(stepMask))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), Epoch)
}
