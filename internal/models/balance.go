package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a user's holding of one asset
type Balance struct {
	UserID    int64           `json:"user_id"`
	AssetID   int64           `json:"asset_id"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PaymentBalance is a user's payment-token holding on one chain
type PaymentBalance struct {
	UserID    int64           `json:"user_id"`
	Chain     string          `json:"chain"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Holding is the arithmetic shared by asset and payment balances.
// Every method either applies fully or leaves the holding untouched.
type Holding struct {
	Total     *decimal.Decimal
	Available *decimal.Decimal
	Locked    *decimal.Decimal
}

// Holding exposes the balance for mutation
func (b *Balance) Holding() Holding {
	return Holding{Total: &b.Total, Available: &b.Available, Locked: &b.Locked}
}

// Holding exposes the payment balance for mutation
func (b *PaymentBalance) Holding() Holding {
	return Holding{Total: &b.Total, Available: &b.Available, Locked: &b.Locked}
}

func checkQty(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity %s must be positive", ErrInvalidOrder, qty)
	}
	return nil
}

// Lock moves qty from available to locked
func (h Holding) Lock(qty decimal.Decimal) error {
	if err := checkQty(qty); err != nil {
		return err
	}
	if h.Available.LessThan(qty) {
		return fmt.Errorf("%w: available %s < %s", ErrInsufficientBalance, *h.Available, qty)
	}
	*h.Available = h.Available.Sub(qty)
	*h.Locked = h.Locked.Add(qty)
	return nil
}

// Unlock moves qty from locked back to available
func (h Holding) Unlock(qty decimal.Decimal) error {
	if err := checkQty(qty); err != nil {
		return err
	}
	if h.Locked.LessThan(qty) {
		return fmt.Errorf("%w: locked %s < %s", ErrInvariantViolation, *h.Locked, qty)
	}
	*h.Locked = h.Locked.Sub(qty)
	*h.Available = h.Available.Add(qty)
	return nil
}

// Deliver removes qty from locked and total (seller side of a transfer)
func (h Holding) Deliver(qty decimal.Decimal) error {
	if err := checkQty(qty); err != nil {
		return err
	}
	if h.Locked.LessThan(qty) {
		return fmt.Errorf("%w: locked %s < %s", ErrInvariantViolation, *h.Locked, qty)
	}
	*h.Locked = h.Locked.Sub(qty)
	*h.Total = h.Total.Sub(qty)
	return nil
}

// Credit adds qty to available and total (buyer side of a transfer, deposits)
func (h Holding) Credit(qty decimal.Decimal) error {
	if err := checkQty(qty); err != nil {
		return err
	}
	*h.Available = h.Available.Add(qty)
	*h.Total = h.Total.Add(qty)
	return nil
}

// Debit removes qty from available and total (payments, withdrawals)
func (h Holding) Debit(qty decimal.Decimal) error {
	if err := checkQty(qty); err != nil {
		return err
	}
	if h.Available.LessThan(qty) {
		return fmt.Errorf("%w: available %s < %s", ErrInsufficientBalance, *h.Available, qty)
	}
	*h.Available = h.Available.Sub(qty)
	*h.Total = h.Total.Sub(qty)
	return nil
}

// Check verifies total = available + locked with no negative component
func (h Holding) Check() error {
	if h.Available.IsNegative() || h.Locked.IsNegative() || h.Total.IsNegative() {
		return fmt.Errorf("%w: negative component", ErrInvariantViolation)
	}
	if !h.Available.Add(*h.Locked).Equal(*h.Total) {
		return fmt.Errorf("%w: available %s + locked %s != total %s",
			ErrInvariantViolation, *h.Available, *h.Locked, *h.Total)
	}
	return nil
}

// Money rounds a currency amount to the price scale
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}
