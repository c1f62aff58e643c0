package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/model"
	"storefront/internal/repository/memrepo"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.ConfirmationEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event *model.ConfirmationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type env struct {
	orders    *memrepo.Orders
	stock     *memrepo.Stock
	carts     *memrepo.Carts
	publisher *recordingPublisher
	finalizer *Finalizer
}

func newEnv(stock map[uint64]int) *env {
	e := &env{
		orders:    memrepo.NewOrders(),
		stock:     memrepo.NewStock(stock),
		carts:     memrepo.NewCarts(),
		publisher: &recordingPublisher{},
	}
	e.finalizer = NewFinalizer(e.orders, e.stock, e.carts, e.publisher, nil, nil)
	return e
}

func line(productID uint64, price string, qty int) model.CartLine {
	p := decimal.RequireFromString(price)
	return model.CartLine{
		ProductID: productID,
		Name:      "item",
		UnitPrice: p,
		Quantity:  qty,
		LineTotal: model.LineTotal(p, qty),
	}
}

func sampleTask(orderID string, lines ...model.CartLine) *model.OrderTask {
	totals := model.ComputeTotals(lines, decimal.RequireFromString("0.08"))
	return &model.OrderTask{
		OrderID:                orderID,
		UserID:                 42,
		Items:                  lines,
		Subtotal:               totals.Subtotal,
		Tax:                    totals.Tax,
		Total:                  totals.Total,
		PaymentAuthorizationID: "auth_1",
		ShippingAddress:        "1 Main St",
		EnqueuedAt:             time.Now(),
		DeliveryAttempt:        1,
	}
}

func (e *env) fillCart(t *testing.T, lines ...model.CartLine) {
	t.Helper()
	for _, l := range lines {
		require.NoError(t, e.carts.PutItem(context.Background(), 42, l))
	}
}

func TestFinalize_Completes(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10, 2: 5})
	lines := []model.CartLine{line(1, "29.99", 2), line(2, "49.99", 1)}
	e.fillCart(t, append(lines, line(3, "5.00", 1))...)
	task := sampleTask("ORD1", lines...)

	outcome, err := e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.True(t, outcome.Ack())

	order, err := e.orders.Get(context.Background(), "ORD1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	assert.True(t, order.InventoryApplied)
	assert.NotNil(t, order.CompletedAt)
	assert.True(t, order.IsNotified())

	assert.Equal(t, 8, e.stock.Quantity(1))
	assert.Equal(t, 4, e.stock.Quantity(2))

	snapshot, err := e.carts.GetSnapshot(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, snapshot.Lines, 1, "lines added after checkout stay in the cart")
	assert.Equal(t, uint64(3), snapshot.Lines[0].ProductID)

	require.Equal(t, 1, e.publisher.count())
	event := e.publisher.events[0]
	assert.Equal(t, "ORD1", event.OrderID)
	assert.Equal(t, "118.77", event.Total.StringFixed(2))
	assert.Equal(t, 3, event.ItemCount)
}

func TestFinalize_DoubleDeliveryIsIdempotent(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	task := sampleTask("ORD2", line(1, "10.00", 3))

	first, err := e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, first)

	task.DeliveryAttempt = 2
	second, err := e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second)

	assert.Equal(t, 1, e.orders.Len())
	assert.Equal(t, 7, e.stock.Quantity(1))
	assert.Equal(t, 1, e.stock.Decrements)
	assert.Equal(t, 1, e.publisher.count())
}

func TestFinalize_InsufficientStock(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10, 2: 2})
	task := sampleTask("ORD3", line(1, "10.00", 1), line(2, "5.00", 3))

	outcome, err := e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, outcome.Ack())

	order, err := e.orders.Get(context.Background(), "ORD3")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, order.Status)
	require.NotNil(t, order.FailureReason)
	assert.Contains(t, *order.FailureReason, "product 2")

	assert.Equal(t, 10, e.stock.Quantity(1), "earlier decrement restored")
	assert.Equal(t, 2, e.stock.Quantity(2))
	assert.Zero(t, e.publisher.count())

	// redelivery leaves the failed order alone
	outcome, err = e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 10, e.stock.Quantity(1))
}

func TestFinalize_RejectsBrokenArithmetic(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	task := sampleTask("ORD4", line(1, "10.00", 1))
	task.Total = task.Total.Add(decimal.RequireFromString("0.01"))

	outcome, err := e.finalizer.Finalize(context.Background(), task)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.ErrorIs(t, err, model.ErrInvalidTask)
	assert.True(t, outcome.Ack())
	assert.Zero(t, e.orders.Len())
	assert.Equal(t, 10, e.stock.Quantity(1))
}

func TestFinalize_StoreErrorIsTransient(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	task := sampleTask("ORD5", line(1, "10.00", 2))

	e.stock.Err = errors.New("deadlock found")
	outcome, err := e.finalizer.Finalize(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.False(t, outcome.Ack())

	order, err := e.orders.Get(context.Background(), "ORD5")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)

	// redelivery resumes the PROCESSING order
	e.stock.Err = nil
	outcome, err = e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 8, e.stock.Quantity(1))
	assert.Equal(t, 1, e.orders.Len())
}

func TestFinalize_CartErrorAfterInventory(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	task := sampleTask("ORD6", line(1, "10.00", 2))

	e.carts.Err = errors.New("redis down")
	outcome, err := e.finalizer.Finalize(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)

	order, err := e.orders.Get(context.Background(), "ORD6")
	require.NoError(t, err)
	assert.True(t, order.InventoryApplied)

	e.carts.Err = nil
	outcome, err = e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 8, e.stock.Quantity(1))
	assert.Equal(t, 1, e.stock.Decrements)
}

func TestFinalize_PublishFailureRetriesOnlyTheEvent(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	task := sampleTask("ORD7", line(1, "10.00", 1))

	e.publisher.err = errors.New("broker unavailable")
	outcome, err := e.finalizer.Finalize(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)

	order, err := e.orders.Get(context.Background(), "ORD7")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	assert.False(t, order.IsNotified())

	e.publisher.err = nil
	outcome, err = e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, e.publisher.count())
	assert.Equal(t, 9, e.stock.Quantity(1))

	outcome, err = e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, e.publisher.count())
}

func TestFinalize_ConcurrentDeliveries(t *testing.T) {
	e := newEnv(map[uint64]int{1: 100})
	task := sampleTask("ORD8", line(1, "1.00", 5))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			copyTask := *task
			outcome, err := e.finalizer.Finalize(context.Background(), &copyTask)
			if outcome == OutcomeRetry {
				// lost the confirmation claim to a delivery still publishing
				assert.ErrorIs(t, err, ErrConfirmationInFlight)
				return
			}
			assert.NoError(t, err)
			assert.True(t, outcome.Ack())
		}()
	}
	wg.Wait()

	assert.Equal(t, 95, e.stock.Quantity(1))
	assert.Equal(t, 1, e.orders.Len())
	assert.Equal(t, 1, e.publisher.count())

	order, err := e.orders.Get(context.Background(), "ORD8")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	assert.True(t, order.IsNotified())
}

// gatedPublisher blocks inside Publish until released
type gatedPublisher struct {
	recordingPublisher
	entered chan struct{}
	release chan struct{}
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (p *gatedPublisher) Publish(ctx context.Context, event *model.ConfirmationEvent) error {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	return p.recordingPublisher.Publish(ctx, event)
}

func TestFinalize_RedeliveryWhilePublishing(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	publisher := newGatedPublisher()
	e.finalizer = NewFinalizer(e.orders, e.stock, e.carts, publisher, nil, nil)
	task := sampleTask("ORD10", line(1, "5.00", 2))

	type result struct {
		outcome Outcome
		err     error
	}
	first := make(chan result, 1)
	go func() {
		copyTask := *task
		outcome, err := e.finalizer.Finalize(context.Background(), &copyTask)
		first <- result{outcome, err}
	}()

	select {
	case <-publisher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery never reached publish")
	}

	// the order is COMPLETED but not yet notified
	copyTask := *task
	outcome, err := e.finalizer.Finalize(context.Background(), &copyTask)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.ErrorIs(t, err, ErrConfirmationInFlight)

	close(publisher.release)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, OutcomeCompleted, res.outcome)

	// redelivered later, the event is already out
	copyTask = *task
	outcome, err = e.finalizer.Finalize(context.Background(), &copyTask)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, 1, publisher.count())
	assert.Equal(t, 8, e.stock.Quantity(1))
}

func TestFinalize_ExpiredClaimIsTakenOver(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	e.finalizer = NewFinalizer(e.orders, e.stock, e.carts, e.publisher, nil, nil, WithNotifyLease(time.Minute))
	ctx := context.Background()
	task := sampleTask("ORD11", line(1, "5.00", 1))

	// a delivery completed the order, claimed the event and died
	_, _, err := e.orders.PutIfAbsent(ctx, task.NewOrder(model.OrderStatusProcessing))
	require.NoError(t, err)
	require.NoError(t, e.orders.MarkCompleted(ctx, "ORD11", time.Now().UTC()))
	claimedAt := time.Now().UTC()
	require.NoError(t, e.orders.ClaimNotify(ctx, "ORD11", "crashed", claimedAt, time.Minute))

	e.finalizer.now = func() time.Time { return claimedAt.Add(30 * time.Second) }
	outcome, err := e.finalizer.Finalize(ctx, task)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.ErrorIs(t, err, ErrConfirmationInFlight)
	assert.Equal(t, 0, e.publisher.count())

	e.finalizer.now = func() time.Time { return claimedAt.Add(2 * time.Minute) }
	outcome, err = e.finalizer.Finalize(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, e.publisher.count())

	order, err := e.orders.Get(ctx, "ORD11")
	require.NoError(t, err)
	assert.True(t, order.IsNotified())
}
