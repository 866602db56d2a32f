package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/rwaexchange/internal/models"
)

const balanceColumns = "user_id, asset_id, total::text, available::text, locked::text, updated_at"

const paymentColumns = "user_id, chain, total::text, available::text, locked::text, updated_at"

func scanBalance(row pgx.Row) (*models.Balance, error) {
	var b models.Balance
	if err := row.Scan(&b.UserID, &b.AssetID, &b.Total, &b.Available, &b.Locked, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanPayment(row pgx.Row) (*models.PaymentBalance, error) {
	var b models.PaymentBalance
	if err := row.Scan(&b.UserID, &b.Chain, &b.Total, &b.Available, &b.Locked, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, userID, assetID int64) (*models.Balance, error) {
	b, err := scanBalance(tx.QueryRow(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE user_id = $1 AND asset_id = $2 FOR UPDATE", userID, assetID))
	if err != nil {
		return nil, notFound(err, "balance user %d asset %d", userID, assetID)
	}
	return b, nil
}

func lockPayment(ctx context.Context, tx pgx.Tx, userID int64, chain string) (*models.PaymentBalance, error) {
	b, err := scanPayment(tx.QueryRow(ctx,
		"SELECT "+paymentColumns+" FROM payment_balances WHERE user_id = $1 AND chain = $2 FOR UPDATE", userID, chain))
	if err != nil {
		return nil, notFound(err, "payment balance user %d chain %s", userID, chain)
	}
	return b, nil
}

func writeBalance(ctx context.Context, runner queryRower, b *models.Balance) error {
	if err := b.Holding().Check(); err != nil {
		return err
	}
	return runner.QueryRow(ctx, `
		UPDATE balances SET total = $3, available = $4, locked = $5, updated_at = now()
		WHERE user_id = $1 AND asset_id = $2
		RETURNING updated_at`,
		b.UserID, b.AssetID, b.Total.String(), b.Available.String(), b.Locked.String(),
	).Scan(&b.UpdatedAt)
}

func writePayment(ctx context.Context, runner queryRower, b *models.PaymentBalance) error {
	if err := b.Holding().Check(); err != nil {
		return err
	}
	return runner.QueryRow(ctx, `
		UPDATE payment_balances SET total = $3, available = $4, locked = $5, updated_at = now()
		WHERE user_id = $1 AND chain = $2
		RETURNING updated_at`,
		b.UserID, b.Chain, b.Total.String(), b.Available.String(), b.Locked.String(),
	).Scan(&b.UpdatedAt)
}

// OpenBalance creates an empty asset balance row if none exists
func (db *DB) OpenBalance(ctx context.Context, userID, assetID int64) (*models.Balance, error) {
	if _, err := db.Pool.Exec(ctx,
		"INSERT INTO balances (user_id, asset_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", userID, assetID); err != nil {
		return nil, fmt.Errorf("failed to open balance: %w", err)
	}
	return db.GetBalance(ctx, userID, assetID)
}

// OpenPaymentBalance creates an empty payment balance row if none exists
func (db *DB) OpenPaymentBalance(ctx context.Context, userID int64, chain string) (*models.PaymentBalance, error) {
	if _, err := db.Pool.Exec(ctx,
		"INSERT INTO payment_balances (user_id, chain) VALUES ($1, $2) ON CONFLICT DO NOTHING", userID, chain); err != nil {
		return nil, fmt.Errorf("failed to open payment balance: %w", err)
	}
	return db.GetPaymentBalance(ctx, userID, chain)
}

// GetBalance retrieves one asset balance
func (db *DB) GetBalance(ctx context.Context, userID, assetID int64) (*models.Balance, error) {
	b, err := scanBalance(db.Pool.QueryRow(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE user_id = $1 AND asset_id = $2", userID, assetID))
	if err != nil {
		return nil, notFound(err, "balance user %d asset %d", userID, assetID)
	}
	return b, nil
}

// GetPaymentBalance retrieves one payment balance
func (db *DB) GetPaymentBalance(ctx context.Context, userID int64, chain string) (*models.PaymentBalance, error) {
	b, err := scanPayment(db.Pool.QueryRow(ctx,
		"SELECT "+paymentColumns+" FROM payment_balances WHERE user_id = $1 AND chain = $2", userID, chain))
	if err != nil {
		return nil, notFound(err, "payment balance user %d chain %s", userID, chain)
	}
	return b, nil
}

// GetUserBalances retrieves every asset balance of a user
func (db *DB) GetUserBalances(ctx context.Context, userID int64) ([]models.Balance, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE user_id = $1 ORDER BY asset_id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user balances: %w", err)
	}
	defer rows.Close()

	var out []models.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (db *DB) mutateBalance(ctx context.Context, userID, assetID int64, fn func(models.Holding) error) (*models.Balance, error) {
	var out *models.Balance
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBalance(ctx, tx, userID, assetID)
		if err != nil {
			return err
		}
		if err := fn(b.Holding()); err != nil {
			return err
		}
		if err := writeBalance(ctx, tx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Lock moves qty from available to locked
func (db *DB) Lock(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error) {
	return db.mutateBalance(ctx, userID, assetID, func(h models.Holding) error { return h.Lock(qty) })
}

// Unlock moves qty from locked to available
func (db *DB) Unlock(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error) {
	return db.mutateBalance(ctx, userID, assetID, func(h models.Holding) error { return h.Unlock(qty) })
}

// Credit confirms a deposit of qty
func (db *DB) Credit(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error) {
	return db.mutateBalance(ctx, userID, assetID, func(h models.Holding) error { return h.Credit(qty) })
}

// Debit confirms a withdrawal of qty
func (db *DB) Debit(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error) {
	return db.mutateBalance(ctx, userID, assetID, func(h models.Holding) error { return h.Debit(qty) })
}

// CreditPayment confirms a payment-token deposit
func (db *DB) CreditPayment(ctx context.Context, userID int64, chain string, amount decimal.Decimal) (*models.PaymentBalance, error) {
	var out *models.PaymentBalance
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		b, err := lockPayment(ctx, tx, userID, chain)
		if err != nil {
			return err
		}
		if err := b.Holding().Credit(amount); err != nil {
			return err
		}
		if err := writePayment(ctx, tx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockBalancePair locks the seller and buyer rows of one asset in user id order
func lockBalancePair(ctx context.Context, tx pgx.Tx, sellerID, buyerID, assetID int64) (seller, buyer *models.Balance, err error) {
	if sellerID == buyerID {
		b, err := lockBalance(ctx, tx, sellerID, assetID)
		return b, b, err
	}
	first, second := sellerID, buyerID
	if second < first {
		first, second = second, first
	}
	a, err := lockBalance(ctx, tx, first, assetID)
	if err != nil {
		return nil, nil, err
	}
	b, err := lockBalance(ctx, tx, second, assetID)
	if err != nil {
		return nil, nil, err
	}
	if first == sellerID {
		return a, b, nil
	}
	return b, a, nil
}

func lockPaymentPair(ctx context.Context, tx pgx.Tx, buyerID, sellerID int64, chain string) (buyer, seller *models.PaymentBalance, err error) {
	if buyerID == sellerID {
		b, err := lockPayment(ctx, tx, buyerID, chain)
		return b, b, err
	}
	first, second := buyerID, sellerID
	if second < first {
		first, second = second, first
	}
	a, err := lockPayment(ctx, tx, first, chain)
	if err != nil {
		return nil, nil, err
	}
	b, err := lockPayment(ctx, tx, second, chain)
	if err != nil {
		return nil, nil, err
	}
	if first == buyerID {
		return a, b, nil
	}
	return b, a, nil
}

// deliver moves qty from the seller's locked balance into the buyer's available balance
func deliver(seller, buyer *models.Balance, qty decimal.Decimal) error {
	if err := seller.Holding().Deliver(qty); err != nil {
		return err
	}
	return buyer.Holding().Credit(qty)
}

// Transfer delivers qty of an asset from the seller's locked balance to the buyer
func (db *DB) Transfer(ctx context.Context, sellerID, buyerID, assetID int64, qty decimal.Decimal) (*models.Balance, *models.Balance, error) {
	var seller, buyer *models.Balance
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		seller, buyer, err = lockBalancePair(ctx, tx, sellerID, buyerID, assetID)
		if err != nil {
			return err
		}
		if err := deliver(seller, buyer, qty); err != nil {
			return err
		}
		if err := writeBalance(ctx, tx, seller); err != nil {
			return err
		}
		if buyer != seller {
			return writeBalance(ctx, tx, buyer)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return seller, buyer, nil
}

func insufficient(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %v", models.ErrInsufficientBalance, err)
	}
	return err
}

// ValidateSell checks that the seller has qty available
func (db *DB) ValidateSell(ctx context.Context, sellerID, assetID int64, qty decimal.Decimal) error {
	b, err := db.GetBalance(ctx, sellerID, assetID)
	if err != nil {
		return insufficient(err)
	}
	if b.Available.LessThan(qty) {
		return fmt.Errorf("%w: seller %d available %s < %s", models.ErrInsufficientBalance, sellerID, b.Available, qty)
	}
	return nil
}

// ValidatePayment checks that the buyer's payment balance on chain covers amount
func (db *DB) ValidatePayment(ctx context.Context, buyerID int64, chain string, amount decimal.Decimal) error {
	b, err := db.GetPaymentBalance(ctx, buyerID, chain)
	if err != nil {
		return insufficient(err)
	}
	if b.Available.LessThan(amount) {
		return fmt.Errorf("%w: buyer %d payment available %s < %s", models.ErrInsufficientBalance, buyerID, b.Available, amount)
	}
	return nil
}

// ValidateAccounts checks that the rows a fill credits exist
func (db *DB) ValidateAccounts(ctx context.Context, buyerID, sellerID, assetID int64, chain string) error {
	if _, err := db.GetBalance(ctx, buyerID, assetID); err != nil {
		return insufficient(err)
	}
	if _, err := db.GetPaymentBalance(ctx, sellerID, chain); err != nil {
		return insufficient(err)
	}
	return nil
}

// RecordFill applies a fill in one transaction: both orders, the asset
// transfer, the payment transfer and the trade insert. Rows are locked
// orders first (by id), then asset balances, then payment balances, each
// in user id order.
func (db *DB) RecordFill(ctx context.Context, f *models.Fill) (*models.FillResult, error) {
	var res *models.FillResult
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		first, second := f.TakerOrderID, f.MakerOrderID
		if second < first {
			first, second = second, first
		}
		a, err := lockOrder(ctx, tx, first)
		if err != nil {
			return err
		}
		b, err := lockOrder(ctx, tx, second)
		if err != nil {
			return err
		}
		taker, maker := a, b
		if a.ID != f.TakerOrderID {
			taker, maker = b, a
		}

		if !maker.Status.Resting() || maker.Remaining.LessThan(f.Quantity) || taker.Remaining.LessThan(f.Quantity) {
			return fmt.Errorf("%w: maker %d %s remaining %s, taker %d remaining %s, fill %s",
				models.ErrStaleOrder, maker.ID, maker.Status, maker.Remaining, taker.ID, taker.Remaining, f.Quantity)
		}

		buy, sell := taker, maker
		if taker.Side == models.Sell {
			buy, sell = maker, taker
		}

		sellerBal, buyerBal, err := lockBalancePair(ctx, tx, sell.UserID, buy.UserID, sell.AssetID)
		if err != nil {
			return err
		}
		if need := sell.Unreserved(f.Quantity); need.IsPositive() {
			if err := sellerBal.Holding().Lock(need); err != nil {
				return err
			}
			sell.Locked = sell.Locked.Add(need)
		}
		if err := deliver(sellerBal, buyerBal, f.Quantity); err != nil {
			return err
		}

		buyerPay, sellerPay, err := lockPaymentPair(ctx, tx, buy.UserID, sell.UserID, f.Chain)
		if err != nil {
			return err
		}
		if err := buyerPay.Holding().Debit(f.Value); err != nil {
			return err
		}
		if proceeds := f.Value.Sub(f.Fee); proceeds.IsPositive() {
			if err := sellerPay.Holding().Credit(proceeds); err != nil {
				return err
			}
		}

		if err := taker.ApplyFill(f.Quantity, f.ExecutedAt); err != nil {
			return err
		}
		if err := maker.ApplyFill(f.Quantity, f.ExecutedAt); err != nil {
			return err
		}

		for _, bal := range uniqueBalances(sellerBal, buyerBal) {
			if err := writeBalance(ctx, tx, bal); err != nil {
				return fmt.Errorf("failed to write balance: %w", err)
			}
		}
		for _, pay := range uniquePayments(buyerPay, sellerPay) {
			if err := writePayment(ctx, tx, pay); err != nil {
				return fmt.Errorf("failed to write payment balance: %w", err)
			}
		}
		if err := writeOrder(ctx, tx, taker); err != nil {
			return err
		}
		if err := writeOrder(ctx, tx, maker); err != nil {
			return err
		}

		trade := models.NewTrade(f, taker, buy, sell)
		if err := insertTrade(ctx, tx, &trade); err != nil {
			return err
		}

		res = &models.FillResult{
			Trade:         trade,
			Taker:         *taker,
			Maker:         *maker,
			BuyerBalance:  *buyerBal,
			SellerBalance: *sellerBal,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func uniqueBalances(a, b *models.Balance) []*models.Balance {
	if a == b {
		return []*models.Balance{a}
	}
	return []*models.Balance{a, b}
}

func uniquePayments(a, b *models.PaymentBalance) []*models.PaymentBalance {
	if a == b {
		return []*models.PaymentBalance{a}
	}
	return []*models.PaymentBalance{a, b}
}
