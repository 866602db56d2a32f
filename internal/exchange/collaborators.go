package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/rwaexchange/internal/models"
	"github.com/xtrntr/rwaexchange/internal/settlement"
)

// Store is the durable order and trade state the coordinator works on
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	// CrossingOrders returns resting counter orders that cross order and are not expired at now
	CrossingOrders(ctx context.Context, order *models.Order, now time.Time) ([]models.Order, error)
	// ReserveOrder locks qty of the seller's asset balance against a sell order
	ReserveOrder(ctx context.Context, orderID int64, qty decimal.Decimal) (*models.Order, *models.Balance, error)
	// RecordFill persists a trade, both order updates and both balance transfers atomically
	RecordFill(ctx context.Context, fill *models.Fill) (*models.FillResult, error)
	// CloseOrder moves an order to cancelled, expired or rejected and unlocks its reservation atomically
	CloseOrder(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, *models.Balance, error)
	ConfirmSettlement(ctx context.Context, tradeID uuid.UUID, status models.SettlementStatus, at time.Time) (*models.Trade, error)
}

// Ledger holds the read-only balance checks made before settlement
type Ledger interface {
	ValidateSell(ctx context.Context, sellerID, assetID int64, qty decimal.Decimal) error
	ValidatePayment(ctx context.Context, buyerID int64, chain string, amount decimal.Decimal) error
	ValidateAccounts(ctx context.Context, buyerID, sellerID, assetID int64, chain string) error
}

// AssetRegistry resolves assets and their trading state
type AssetRegistry interface {
	Asset(ctx context.Context, assetID int64) (*models.Asset, error)
}

// Settler executes a matched trade on the external ledger
type Settler interface {
	Execute(ctx context.Context, req settlement.Request) (string, error)
}

// Publisher broadcasts state changes. Implementations must not block.
type Publisher interface {
	PublishTradeExecuted(trade models.Trade)
	PublishOrderUpdated(order models.Order)
	PublishBalanceUpdated(userID, assetID int64, snapshot models.Balance)
}
