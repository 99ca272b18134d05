package models

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name string
		tx   TransferTransaction
		want Status
	}{
		{"fresh row", TransferTransaction{Flow: FlowEvent}, StatusPending},
		{"reserved", TransferTransaction{Flow: FlowEvent, Reserved: true}, StatusReserved},
		{"charged but destination not credited", TransferTransaction{Flow: FlowEvent, Reserved: true, Charged: true}, StatusReserved},
		{"event consumed", TransferTransaction{Flow: FlowEvent, Reserved: true, Charged: true, AmountTransferred: true}, StatusSucceeded},
		{"direct consumed", TransferTransaction{Flow: FlowDirect, AmountTransferred: true}, StatusSucceeded},
		{"cancelled", TransferTransaction{Flow: FlowEvent, Reserved: true, Cancelled: true}, StatusCancelled},
		{"aborted before reservation", TransferTransaction{Flow: FlowEvent, Aborted: true}, StatusFailed},
		{"aborted with expired reservation", TransferTransaction{Flow: FlowEvent, Reserved: true, Aborted: true}, StatusFailed},
		{"escalated with live reservation", TransferTransaction{Flow: FlowEvent, Reserved: true, Escalated: true}, StatusTransferFailed},
		{"escalated while pending", TransferTransaction{Flow: FlowDirect, Escalated: true}, StatusFailed},
		{"succeeded wins over escalation", TransferTransaction{Flow: FlowDirect, AmountTransferred: true, Escalated: true}, StatusSucceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tx.DeriveStatus())
		})
	}
}

func TestCheckInvariants(t *testing.T) {
	assert.ErrorIs(t, (&TransferTransaction{Flow: FlowEvent, Charged: true}).CheckInvariants(), ErrChargedWithoutReservation)
	assert.NoError(t, (&TransferTransaction{Flow: FlowDirect, AmountTransferred: true}).CheckInvariants())
	assert.ErrorIs(t, (&TransferTransaction{Flow: FlowEvent, Reserved: true, Charged: true, Cancelled: true}).CheckInvariants(), ErrCancelledAndConsumed)
	assert.ErrorIs(t, (&TransferTransaction{Flow: FlowEvent, Reserved: true, Charged: true, Aborted: true}).CheckInvariants(), ErrAbortedAfterCharge)
}

func TestSyncStatusStampsCompletion(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tx := &TransferTransaction{Flow: FlowEvent, Reserved: true}
	tx.SyncStatus(now)
	assert.Equal(t, StatusReserved, tx.Status)
	assert.Nil(t, tx.CompletedAt)

	tx.Cancelled = true
	tx.SyncStatus(now)
	assert.Equal(t, StatusCancelled, tx.Status)
	require.NotNil(t, tx.CompletedAt)
	assert.Equal(t, now, *tx.CompletedAt)

	tx.SyncStatus(now.Add(time.Hour))
	assert.Equal(t, now, *tx.CompletedAt)
}

func TestNewAmount(t *testing.T) {
	amount, err := NewAmount(5, 250)
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("5.250")))
	assert.Equal(t, "5.250", FormatAmount(amount))

	whole, fraction := SplitAmount(amount)
	assert.Equal(t, int64(5), whole)
	assert.Equal(t, int64(250), fraction)

	_, err = NewAmount(1, 1000)
	assert.ErrorIs(t, err, ErrFractionRange)
	_, err = NewAmount(-1, 0)
	assert.ErrorIs(t, err, ErrNegativeAmount)
	_, err = NewAmount(0, 0)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	small, err := NewAmount(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "0.001", FormatAmount(small))
}

func TestNewAmountLargeWholePart(t *testing.T) {
	tests := []struct {
		whole    int64
		fraction int64
		want     string
	}{
		{2305843009213693957, 0, "2305843009213693957.000"},
		{math.MaxInt64, 999, "9223372036854775807.999"},
		{9223372036854776, 808, "9223372036854776.808"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			amount, err := NewAmount(tt.whole, tt.fraction)
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatAmount(amount))

			whole, fraction := SplitAmount(amount)
			assert.Equal(t, tt.whole, whole)
			assert.Equal(t, tt.fraction, fraction)
		})
	}
}

func TestRuleAllowsDestination(t *testing.T) {
	open := &TransferRule{}
	assert.True(t, open.AllowsDestination("prepaid"))

	restricted := &TransferRule{AllowedDestinationTypes: []string{"Prepaid", "hybrid"}}
	assert.True(t, restricted.AllowsDestination("prepaid"))
	assert.False(t, restricted.AllowsDestination("postpaid"))
}

func TestJSONRoundTrip(t *testing.T) {
	j := JSON(nil).With("reserve_code", 0)
	v, err := j.Value()
	require.NoError(t, err)

	var back JSON
	require.NoError(t, back.Scan(v))
	assert.Equal(t, float64(0), back["reserve_code"])

	var empty JSON
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty)
}
