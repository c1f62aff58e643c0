package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOrderTask(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		body, err := EncodeOrderTask(sampleTask())
		require.NoError(t, err)

		task, err := DecodeOrderTask(body)
		require.NoError(t, err)
		assert.Equal(t, "ORD1", task.OrderID)
		assert.Equal(t, "118.77", task.Total.StringFixed(2))
		assert.NoError(t, task.Validate())
	})

	t.Run("numeric money accepted", func(t *testing.T) {
		body := []byte(`{"order_id":"ORD2","user_id":1,"payment_authorization_id":"a",
			"items":[{"product_id":5,"unit_price":10,"quantity":1,"line_total":10}],
			"subtotal":10,"tax":0.8,"total":10.8}`)

		task, err := DecodeOrderTask(body)
		require.NoError(t, err)
		assert.NoError(t, task.Validate())
	})

	t.Run("missing required field", func(t *testing.T) {
		body := []byte(`{"order_id":"ORD3","user_id":1,"items":[],"subtotal":"0","tax":"0","total":"0"}`)
		_, err := DecodeOrderTask(body)
		assert.ErrorIs(t, err, ErrInvalidTask)
	})

	t.Run("non positive quantity", func(t *testing.T) {
		body := []byte(`{"order_id":"ORD4","user_id":1,"payment_authorization_id":"a",
			"items":[{"product_id":5,"unit_price":"10","quantity":0,"line_total":"0"}],
			"subtotal":"0","tax":"0","total":"0"}`)
		_, err := DecodeOrderTask(body)
		assert.ErrorIs(t, err, ErrInvalidTask)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeOrderTask([]byte("not json"))
		assert.ErrorIs(t, err, ErrInvalidTask)
	})
}
