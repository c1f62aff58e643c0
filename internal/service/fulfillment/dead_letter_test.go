package fulfillment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/model"
	"storefront/internal/repository/memrepo"
)

func TestDeadLetterHandler_MissingOrderCreatedFailed(t *testing.T) {
	orders := memrepo.NewOrders()
	h := NewDeadLetterHandler(orders, memrepo.NewStock(nil), nil)

	action, err := h.Handle(context.Background(), sampleTask("ORD10", line(1, "3.00", 1)))
	require.NoError(t, err)
	assert.Equal(t, DeadLetterCreatedFailed, action)

	order, err := orders.Get(context.Background(), "ORD10")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, order.Status)
	require.NotNil(t, order.FailureReason)
	assert.Equal(t, ReasonDeadLettered, *order.FailureReason)
}

func TestDeadLetterHandler_ProcessingOrderRestored(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	task := sampleTask("ORD11", line(1, "3.00", 4))

	// a delivery took the stock, then the publisher kept the task failing
	_, _, err := e.orders.PutIfAbsent(context.Background(), task.NewOrder(model.OrderStatusProcessing))
	require.NoError(t, err)
	require.NoError(t, e.stock.Decrement(context.Background(), "ORD11", 1, 4))
	require.Equal(t, 6, e.stock.Quantity(1))

	h := NewDeadLetterHandler(e.orders, e.stock, nil)
	action, err := h.Handle(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, DeadLetterMarkedFailed, action)
	assert.Equal(t, 10, e.stock.Quantity(1))

	order, err := e.orders.Get(context.Background(), "ORD11")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, order.Status)

	// handling the same dead letter again changes nothing
	action, err = h.Handle(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, DeadLetterUnchanged, action)
	assert.Equal(t, 10, e.stock.Quantity(1))

	// a late redelivery of the task cannot take the stock again
	outcome, err := e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 10, e.stock.Quantity(1))
}

func TestDeadLetterHandler_CompletedOrderUnchanged(t *testing.T) {
	e := newEnv(map[uint64]int{1: 10})
	task := sampleTask("ORD12", line(1, "3.00", 1))

	outcome, err := e.finalizer.Finalize(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)

	h := NewDeadLetterHandler(e.orders, e.stock, nil)
	action, err := h.Handle(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, DeadLetterUnchanged, action)

	order, err := e.orders.Get(context.Background(), "ORD12")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	assert.Equal(t, 9, e.stock.Quantity(1))
}

func TestDeadLetterHandler_StoreError(t *testing.T) {
	orders := memrepo.NewOrders()
	orders.Err = assert.AnError
	h := NewDeadLetterHandler(orders, memrepo.NewStock(nil), nil)

	_, err := h.Handle(context.Background(), sampleTask("ORD13", line(1, "3.00", 1)))
	assert.ErrorIs(t, err, assert.AnError)
}
