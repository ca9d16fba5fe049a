package events

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-marketplace/internal/models"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(AggregatePayout, 42, TypePayoutCreated, PayoutChanged{
		PayoutID:   42,
		VendorID:   7,
		Reference:  "PO-1",
		Amount:     decimal.RequireFromString("30.00"),
		Status:     models.PayoutStatusPending,
		EarningIDs: []int64{1, 2, 3},
	})
	require.NoError(t, err)

	assert.Equal(t, "payout", msg.AggregateType)
	assert.Equal(t, "42", msg.AggregateID)
	assert.Equal(t, "payout.created", msg.EventType)
	assert.Empty(t, msg.ID, "ids are assigned when the message is enqueued")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, "30", decoded["amount"])
	assert.Equal(t, "pending", decoded["status"])
	assert.Len(t, decoded["earning_ids"], 3)
}

func TestNewMessageRejectsUnencodablePayload(t *testing.T) {
	_, err := NewMessage(AggregateOrder, 1, TypeOrderPlaced, map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
