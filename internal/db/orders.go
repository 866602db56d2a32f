package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/rwaexchange/internal/models"
)

const orderColumns = `id, public_id, user_id, asset_id, side, price::text, quantity::text,
	filled::text, remaining::text, locked::text, status, created_at, updated_at, filled_at, expires_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o            models.Order
		side, status string
	)
	err := row.Scan(&o.ID, &o.PublicID, &o.UserID, &o.AssetID, &side,
		&o.Price, &o.Quantity, &o.Filled, &o.Remaining, &o.Locked,
		&status, &o.CreatedAt, &o.UpdatedAt, &o.FilledAt, &o.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if o.Side, err = models.ParseSide(side); err != nil {
		return nil, err
	}
	if o.Status, err = models.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows, err error) ([]models.Order, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateOrder inserts a new order. Orders without a status start pending.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	o := *order
	if o.PublicID == uuid.Nil {
		o.PublicID = uuid.New()
	}
	if o.Status == "" {
		o.Status = models.StatusPending
	}
	if o.Remaining.IsZero() && o.Filled.IsZero() {
		o.Remaining = o.Quantity
	}
	if err := o.CheckInvariants(); err != nil {
		return nil, err
	}

	created, err := scanOrder(db.Pool.QueryRow(ctx, `
		INSERT INTO orders (public_id, user_id, asset_id, side, price, quantity, filled, remaining, locked, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+orderColumns,
		o.PublicID, o.UserID, o.AssetID, string(o.Side), o.Price.String(), o.Quantity.String(),
		o.Filled.String(), o.Remaining.String(), o.Locked.String(), string(o.Status), o.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}

// GetOrder retrieves an order by internal id
func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return o, nil
}

// GetOrderByPublicID retrieves an order by its external id
func (db *DB) GetOrderByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE public_id = $1", publicID))
	if err != nil {
		return nil, notFound(err, "order %s", publicID)
	}
	return o, nil
}

func lockOrder(ctx context.Context, tx pgx.Tx, id int64) (*models.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return o, nil
}

// writeOrder persists the mutable columns of o and refreshes its timestamps
func writeOrder(ctx context.Context, runner queryRower, o *models.Order) error {
	err := runner.QueryRow(ctx, `
		UPDATE orders
		SET filled = $2, remaining = $3, locked = $4, status = $5, filled_at = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Filled.String(), o.Remaining.String(), o.Locked.String(), string(o.Status), o.FilledAt,
	).Scan(&o.UpdatedAt)
	if err != nil {
		return notFound(err, "order %d", o.ID)
	}
	return nil
}

// UpdateOrder persists the order's status and quantities. The stored status
// must be able to move to the new one.
func (db *DB) UpdateOrder(ctx context.Context, order *models.Order) error {
	if err := order.CheckInvariants(); err != nil {
		return err
	}
	return db.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := lockOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if cur.Status != order.Status && !models.CanTransition(cur.Status, order.Status) {
			return fmt.Errorf("failed to update order %d: %w: %s -> %s", order.ID, models.ErrIllegalTransition, cur.Status, order.Status)
		}
		return writeOrder(ctx, tx, order)
	})
}

// CrossingOrders returns resting counter orders that cross order, in price-time priority
func (db *DB) CrossingOrders(ctx context.Context, order *models.Order, now time.Time) ([]models.Order, error) {
	priceCond, orderBy := "price <= $3", "price ASC"
	if order.Side == models.Sell {
		priceCond, orderBy = "price >= $3", "price DESC"
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE asset_id = $1
		  AND side = $2
		  AND `+priceCond+`
		  AND status IN ('open', 'partially_filled')
		  AND remaining > 0
		  AND id <> $4
		  AND (expires_at IS NULL OR expires_at > $5)
		ORDER BY `+orderBy+`, created_at ASC, id ASC`,
		order.AssetID, string(order.Side.Opposite()), order.Price.String(), order.ID, now)
	return collectOrders(rows, err)
}

// OrdersByStatus returns orders in any of the given states, oldest first
func (db *DB) OrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = ANY($1) ORDER BY created_at ASC, id ASC", names)
	return collectOrders(rows, err)
}

// DueForExpiry returns resting orders whose expiry is at or before now
func (db *DB) DueForExpiry(ctx context.Context, now time.Time) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN ('open', 'partially_filled') AND expires_at <= $1
		ORDER BY created_at ASC, id ASC`, now)
	return collectOrders(rows, err)
}

// GetUserOrders retrieves all orders for a user
func (db *DB) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at ASC, id ASC", userID)
	return collectOrders(rows, err)
}

// RestingOrders returns an asset's open orders on both sides
func (db *DB) RestingOrders(ctx context.Context, assetID int64) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE asset_id = $1 AND status IN ('open', 'partially_filled')
		ORDER BY created_at ASC, id ASC`, assetID)
	return collectOrders(rows, err)
}

// ReserveOrder locks qty of the seller's asset balance for a sell order
func (db *DB) ReserveOrder(ctx context.Context, orderID int64, qty decimal.Decimal) (*models.Order, *models.Balance, error) {
	var (
		order *models.Order
		bal   *models.Balance
	)
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Side != models.Sell {
			return fmt.Errorf("%w: only sell orders reserve the asset", models.ErrInvalidOrder)
		}
		b, err := lockBalance(ctx, tx, o.UserID, o.AssetID)
		if err != nil {
			return err
		}
		if err := b.Holding().Lock(qty); err != nil {
			return err
		}
		o.Locked = o.Locked.Add(qty)
		if err := o.CheckInvariants(); err != nil {
			return err
		}
		if err := writeBalance(ctx, tx, b); err != nil {
			return err
		}
		if err := writeOrder(ctx, tx, o); err != nil {
			return err
		}
		order, bal = o, b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, bal, nil
}

// CloseOrder moves an order to cancelled, expired or rejected and unlocks its reservation
func (db *DB) CloseOrder(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, *models.Balance, error) {
	var (
		order *models.Order
		bal   *models.Balance
	)
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := o.Transition(status); err != nil {
			return err
		}
		if o.Locked.IsPositive() {
			b, err := lockBalance(ctx, tx, o.UserID, o.AssetID)
			if err != nil {
				return err
			}
			if err := b.Holding().Unlock(o.Locked); err != nil {
				return err
			}
			if err := writeBalance(ctx, tx, b); err != nil {
				return err
			}
			bal = b
			o.Locked = decimal.Zero
		}
		if err := writeOrder(ctx, tx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, bal, nil
}
