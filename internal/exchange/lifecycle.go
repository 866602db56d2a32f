package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/rwaexchange/internal/models"
)

// OrderRequest is a new limit order from a user
type OrderRequest struct {
	UserID    int64
	AssetID   int64
	Side      models.Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	ExpiresAt *time.Time
}

// Submit stores a new order, reserves the asset for sells and runs the
// synchronous first matching pass, all under the asset lock. Malformed
// requests return models.ErrInvalidOrder without storing anything; orders
// that are well formed but not acceptable come back rejected in the result.
func (e *Exchange) Submit(ctx context.Context, req OrderRequest) (*MatchResult, error) {
	ctx = context.WithoutCancel(ctx)

	order := models.NewOrder(req.UserID, req.AssetID, req.Side, req.Price, req.Quantity, req.ExpiresAt)
	if err := order.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(req.AssetID)
	defer unlock()

	created, err := e.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"order_id": created.PublicID,
		"asset_id": created.AssetID,
		"user_id":  created.UserID,
		"side":     created.Side,
		"price":    created.Price.String(),
		"quantity": created.Quantity.String(),
	}).Info("Order received")

	_, invalid, err := e.validate(ctx, created)
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		return e.reject(ctx, created, invalid)
	}
	if created.Expired(e.now()) {
		return e.reject(ctx, created, fmt.Errorf("%w: order expires in the past", models.ErrInvalidOrder))
	}

	if created.Side == models.Sell {
		reserved, bal, err := e.store.ReserveOrder(ctx, created.ID, created.Quantity)
		switch {
		case errors.Is(err, models.ErrInsufficientBalance), errors.Is(err, models.ErrNotFound):
			return e.reject(ctx, created, fmt.Errorf("%w: %v", models.ErrInsufficientBalance, err))
		case err != nil:
			return nil, fmt.Errorf("failed to reserve sell quantity: %w", err)
		}
		created = reserved
		e.events.PublishBalanceUpdated(bal.UserID, bal.AssetID, *bal)
	}

	return e.match(ctx, created.ID)
}

// Cancel cancels a user's resting order and releases its reservation.
// It waits for any in-flight pass on the asset, so it applies to whatever
// quantity is left afterwards.
func (e *Exchange) Cancel(ctx context.Context, userID int64, orderID uuid.UUID) (*models.Order, error) {
	ctx = context.WithoutCancel(ctx)

	order, err := e.store.GetOrderByPublicID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOwner
	}

	unlock := e.locks.lock(order.AssetID)
	defer unlock()

	return e.closeOrder(ctx, order, models.StatusCancelled)
}

// Expire closes a resting order whose expiry has passed
func (e *Exchange) Expire(ctx context.Context, order *models.Order) (*models.Order, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := e.locks.lock(order.AssetID)
	defer unlock()

	current, err := e.store.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, nil
	}
	if !current.Expired(e.now()) {
		return current, nil
	}
	return e.closeOrder(ctx, current, models.StatusExpired)
}

// closeOrder is called with the asset lock held
func (e *Exchange) closeOrder(ctx context.Context, order *models.Order, status models.OrderStatus) (*models.Order, error) {
	closed, bal, err := e.store.CloseOrder(ctx, order.ID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to close order %s: %w", order.PublicID, err)
	}
	e.events.PublishOrderUpdated(*closed)
	if bal != nil {
		e.events.PublishBalanceUpdated(bal.UserID, bal.AssetID, *bal)
	}
	e.log.WithFields(logrus.Fields{
		"order_id":  closed.PublicID,
		"status":    closed.Status,
		"remaining": closed.Remaining.String(),
	}).Info("Order closed")
	return closed, nil
}

// ConfirmSettlement records the external ledger's confirmation of a trade
func (e *Exchange) ConfirmSettlement(ctx context.Context, tradeID uuid.UUID, status models.SettlementStatus) (*models.Trade, error) {
	trade, err := e.store.ConfirmSettlement(ctx, tradeID, status, e.now())
	if err != nil {
		return nil, err
	}
	log := e.log.WithFields(logrus.Fields{"trade_id": trade.ID, "settlement_ref": trade.SettlementRef})
	if status == models.SettlementFailed {
		log.Error("External settlement reported failed; trade needs reconciliation")
	} else {
		log.Info("Settlement confirmed")
	}
	return trade, nil
}
