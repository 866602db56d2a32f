package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// PriceScale is the number of fractional digits allowed in a limit price
	PriceScale = 2
	// QuantityScale is the number of fractional digits allowed in a quantity
	QuantityScale = 8
)

// Side is the direction of an order
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide converts a wire value into a Side
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Buy, Sell:
		return Side(s), nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidOrder, s)
}

// Opposite returns the side an order matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:         {StatusOpen, StatusRejected},
	StatusOpen:            {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusExpired},
	StatusPartiallyFilled: {StatusFilled, StatusCancelled, StatusExpired},
}

// RestingStatuses are the states in which an order can be matched as a maker
var RestingStatuses = []OrderStatus{StatusOpen, StatusPartiallyFilled}

// ParseOrderStatus converts a stored value into an OrderStatus, rejecting anything outside the state machine
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case StatusPending, StatusOpen, StatusPartiallyFilled, StatusFilled,
		StatusCancelled, StatusRejected, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("%w: order status %q", ErrUnknownStatus, s)
}

// Terminal reports whether no further transition is possible
func (s OrderStatus) Terminal() bool {
	_, ok := orderTransitions[s]
	return !ok
}

// Resting reports whether the order may be matched as a maker
func (s OrderStatus) Resting() bool {
	return s == StatusOpen || s == StatusPartiallyFilled
}

// CanTransition reports whether from -> to is an edge of the state machine.
// Staying in the same non-terminal state is allowed.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return !from.Terminal()
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order represents a buy or sell limit order on an asset
type Order struct {
	ID        int64           `json:"-"`
	PublicID  uuid.UUID       `json:"id"`
	AssetID   int64           `json:"asset_id"`
	UserID    int64           `json:"user_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	Locked    decimal.Decimal `json:"locked"` // asset quantity reserved for a sell order
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"` // Used for time priority
	UpdatedAt time.Time       `json:"updated_at"`
	FilledAt  *time.Time      `json:"filled_at,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// NewOrder builds a pending order with nothing filled
func NewOrder(userID, assetID int64, side Side, price, quantity decimal.Decimal, expiresAt *time.Time) *Order {
	return &Order{
		PublicID:  uuid.New(),
		AssetID:   assetID,
		UserID:    userID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Filled:    decimal.Zero,
		Remaining: quantity,
		Locked:    decimal.Zero,
		Status:    StatusPending,
		ExpiresAt: expiresAt,
	}
}

// Validate checks the order's price and quantity
func (o *Order) Validate() error {
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: side must be 'buy' or 'sell'", ErrInvalidOrder)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if !o.Price.Equal(o.Price.Truncate(PriceScale)) {
		return fmt.Errorf("%w: price allows at most %d decimals", ErrInvalidOrder, PriceScale)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if !o.Quantity.Equal(o.Quantity.Truncate(QuantityScale)) {
		return fmt.Errorf("%w: quantity allows at most %d decimals", ErrInvalidOrder, QuantityScale)
	}
	return nil
}

// CheckInvariants verifies the fill arithmetic of the order
func (o *Order) CheckInvariants() error {
	if !o.Filled.Add(o.Remaining).Equal(o.Quantity) {
		return fmt.Errorf("%w: order %d filled %s + remaining %s != quantity %s",
			ErrInvariantViolation, o.ID, o.Filled, o.Remaining, o.Quantity)
	}
	if o.Remaining.IsNegative() || o.Filled.IsNegative() {
		return fmt.Errorf("%w: order %d has negative quantities", ErrInvariantViolation, o.ID)
	}
	if o.Locked.IsNegative() || o.Locked.GreaterThan(o.Remaining) {
		return fmt.Errorf("%w: order %d locked %s outside [0, %s]", ErrInvariantViolation, o.ID, o.Locked, o.Remaining)
	}
	return nil
}

// Expired reports whether the order's expiry has passed at now
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// Transition moves the order to status if the state machine allows it
func (o *Order) Transition(status OrderStatus) error {
	if !CanTransition(o.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, status)
	}
	o.Status = status
	return nil
}

// Crosses reports whether a resting counter order can trade with o
func (o *Order) Crosses(counter *Order) bool {
	if o.Side == Buy {
		return counter.Side == Sell && counter.Price.LessThanOrEqual(o.Price)
	}
	return counter.Side == Buy && counter.Price.GreaterThanOrEqual(o.Price)
}

// ApplyFill records qty as executed against the order.
// A pending order is promoted to open first so every step is a legal transition.
func (o *Order) ApplyFill(qty decimal.Decimal, at time.Time) error {
	if !qty.IsPositive() || qty.GreaterThan(o.Remaining) {
		return fmt.Errorf("%w: fill %s against remaining %s", ErrStaleOrder, qty, o.Remaining)
	}
	if o.Status == StatusPending {
		if err := o.Transition(StatusOpen); err != nil {
			return err
		}
	}

	next := StatusPartiallyFilled
	if qty.Equal(o.Remaining) {
		next = StatusFilled
	}
	if err := o.Transition(next); err != nil {
		return err
	}

	o.Filled = o.Filled.Add(qty)
	o.Remaining = o.Remaining.Sub(qty)
	if o.Side == Sell {
		o.Locked = decimal.Max(o.Locked.Sub(qty), decimal.Zero)
	}
	if next == StatusFilled {
		filledAt := at
		o.FilledAt = &filledAt
	}
	o.UpdatedAt = at
	return nil
}

// Unreserved is the part of a sell quantity not yet covered by the order's lock
func (o *Order) Unreserved(qty decimal.Decimal) decimal.Decimal {
	return decimal.Max(qty.Sub(o.Locked), decimal.Zero)
}
