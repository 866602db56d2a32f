package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementStatus tracks the external ledger state of a trade
type SettlementStatus string

const (
	SettlementSubmitted SettlementStatus = "submitted"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// ParseSettlementStatus converts a stored value into a SettlementStatus
func ParseSettlementStatus(s string) (SettlementStatus, error) {
	switch st := SettlementStatus(s); st {
	case SettlementSubmitted, SettlementConfirmed, SettlementFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: settlement status %q", ErrUnknownStatus, s)
}

// Trade represents an executed trade
type Trade struct {
	ID               uuid.UUID        `json:"id"`
	AssetID          int64            `json:"asset_id"`
	BuyerID          int64            `json:"buyer_id"`
	SellerID         int64            `json:"seller_id"`
	BuyOrderID       uuid.UUID        `json:"buy_order_id"`
	SellOrderID      uuid.UUID        `json:"sell_order_id"`
	MakerOrderID     uuid.UUID        `json:"maker_order_id"`
	TakerSide        Side             `json:"taker_side"`
	Quantity         decimal.Decimal  `json:"quantity"`
	Price            decimal.Decimal  `json:"price"`
	Value            decimal.Decimal  `json:"value"`
	Fee              decimal.Decimal  `json:"fee"`
	SettlementRef    string           `json:"settlement_ref"`
	SettlementStatus SettlementStatus `json:"settlement_status"`
	ExecutedAt       time.Time        `json:"executed_at"`
	ConfirmedAt      *time.Time       `json:"confirmed_at,omitempty"`
}

// Confirm records the final settlement state reported by the external ledger
func (t *Trade) Confirm(status SettlementStatus, at time.Time) error {
	if t.SettlementStatus != SettlementSubmitted {
		return fmt.Errorf("%w: trade %s already %s", ErrIllegalTransition, t.ID, t.SettlementStatus)
	}
	if status != SettlementConfirmed && status != SettlementFailed {
		return fmt.Errorf("%w: cannot confirm trade as %s", ErrIllegalTransition, status)
	}
	t.SettlementStatus = status
	t.ConfirmedAt = &at
	return nil
}

// Fill is one crossing pair the coordinator wants recorded. The store applies
// it in a single transaction: trade insert, both order updates, asset
// transfer and payment transfer.
type Fill struct {
	TakerOrderID  int64
	MakerOrderID  int64
	Chain         string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Value         decimal.Decimal
	Fee           decimal.Decimal
	SettlementRef string
	ExecutedAt    time.Time
}

// FillResult is the state left behind by a recorded fill
type FillResult struct {
	Trade         Trade
	Taker         Order
	Maker         Order
	BuyerBalance  Balance
	SellerBalance Balance
}

// NewTrade builds the trade record for a fill between buy and sell
func NewTrade(f *Fill, taker, buy, sell *Order) Trade {
	maker := buy
	if taker.ID == buy.ID {
		maker = sell
	}
	return Trade{
		ID:               uuid.New(),
		AssetID:          taker.AssetID,
		BuyerID:          buy.UserID,
		SellerID:         sell.UserID,
		BuyOrderID:       buy.PublicID,
		SellOrderID:      sell.PublicID,
		MakerOrderID:     maker.PublicID,
		TakerSide:        taker.Side,
		Quantity:         f.Quantity,
		Price:            f.Price,
		Value:            f.Value,
		Fee:              f.Fee,
		SettlementRef:    f.SettlementRef,
		SettlementStatus: SettlementSubmitted,
		ExecutedAt:       f.ExecutedAt,
	}
}
