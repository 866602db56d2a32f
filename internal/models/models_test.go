package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{StatusPending, StatusOpen, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusFilled, false},
		{StatusPending, StatusCancelled, false},
		{StatusOpen, StatusPartiallyFilled, true},
		{StatusOpen, StatusFilled, true},
		{StatusOpen, StatusCancelled, true},
		{StatusOpen, StatusExpired, true},
		{StatusOpen, StatusRejected, false},
		{StatusOpen, StatusOpen, true},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusOpen, false},
		{StatusPartiallyFilled, StatusPartiallyFilled, true},
		{StatusFilled, StatusFilled, false},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusOpen, false},
		{StatusRejected, StatusOpen, false},
		{StatusExpired, StatusOpen, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	st, err := ParseOrderStatus("partially_filled")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, st)

	_, err = ParseOrderStatus("canceled")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = ParseOrderStatus("")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name     string
		side     Side
		price    string
		quantity string
		wantErr  bool
	}{
		{"Valid", Buy, "100.25", "10", false},
		{"FractionalQuantity", Sell, "1", "0.00000001", false},
		{"ZeroPrice", Buy, "0", "10", true},
		{"NegativePrice", Sell, "-1", "10", true},
		{"ThreeDecimalPrice", Buy, "1.005", "10", true},
		{"ZeroQuantity", Buy, "100", "0", true},
		{"TooPreciseQuantity", Buy, "100", "0.000000001", true},
		{"BadSide", Side("hold"), "100", "1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrder(1, 1, tt.side, d(tt.price), d(tt.quantity), nil)
			err := o.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrder)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOrder_ApplyFill(t *testing.T) {
	now := time.Now()
	o := NewOrder(1, 1, Sell, d("95"), d("10"), nil)
	o.Locked = d("10")

	require.NoError(t, o.ApplyFill(d("4"), now))
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.True(t, o.Filled.Equal(d("4")))
	assert.True(t, o.Remaining.Equal(d("6")))
	assert.True(t, o.Locked.Equal(d("6")))
	assert.Nil(t, o.FilledAt)
	require.NoError(t, o.CheckInvariants())

	require.NoError(t, o.ApplyFill(d("6"), now))
	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.Remaining.IsZero())
	assert.True(t, o.Locked.IsZero())
	require.NotNil(t, o.FilledAt)
	require.NoError(t, o.CheckInvariants())

	err := o.ApplyFill(d("1"), now)
	assert.ErrorIs(t, err, ErrStaleOrder)
}

func TestOrder_Crosses(t *testing.T) {
	buy := NewOrder(1, 1, Buy, d("100"), d("1"), nil)
	cheapAsk := NewOrder(2, 1, Sell, d("95"), d("1"), nil)
	dearAsk := NewOrder(2, 1, Sell, d("101"), d("1"), nil)
	otherBuy := NewOrder(2, 1, Buy, d("90"), d("1"), nil)

	assert.True(t, buy.Crosses(cheapAsk))
	assert.False(t, buy.Crosses(dearAsk))
	assert.False(t, buy.Crosses(otherBuy))

	sell := NewOrder(3, 1, Sell, d("100"), d("1"), nil)
	assert.True(t, sell.Crosses(NewOrder(4, 1, Buy, d("100"), d("1"), nil)))
	assert.False(t, sell.Crosses(NewOrder(4, 1, Buy, d("99.99"), d("1"), nil)))
}

func TestHolding_Operations(t *testing.T) {
	b := Balance{Total: d("10"), Available: d("10"), Locked: decimal.Zero}
	h := b.Holding()

	require.NoError(t, h.Lock(d("4")))
	assert.True(t, b.Available.Equal(d("6")))
	assert.True(t, b.Locked.Equal(d("4")))

	err := h.Lock(d("7"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, b.Available.Equal(d("6")), "failed lock must not mutate")

	require.NoError(t, h.Unlock(d("1")))
	err = h.Unlock(d("5"))
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	require.NoError(t, h.Deliver(d("3")))
	assert.True(t, b.Total.Equal(d("7")))
	assert.True(t, b.Locked.IsZero())

	require.NoError(t, h.Credit(d("2.5")))
	require.NoError(t, h.Debit(d("0.5")))
	assert.ErrorIs(t, h.Debit(d("100")), ErrInsufficientBalance)

	require.NoError(t, h.Check())
	assert.True(t, b.Total.Equal(d("9")))
}

func TestTrade_Confirm(t *testing.T) {
	tr := Trade{SettlementStatus: SettlementSubmitted}
	require.NoError(t, tr.Confirm(SettlementConfirmed, time.Now()))
	assert.Equal(t, SettlementConfirmed, tr.SettlementStatus)
	assert.NotNil(t, tr.ConfirmedAt)

	assert.ErrorIs(t, tr.Confirm(SettlementFailed, time.Now()), ErrIllegalTransition)

	tr2 := Trade{SettlementStatus: SettlementSubmitted}
	assert.ErrorIs(t, tr2.Confirm(SettlementSubmitted, time.Now()), ErrIllegalTransition)
}
