package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xtrntr/rwaexchange/internal/models"
)

const tradeColumns = `id, asset_id, buyer_id, seller_id, buy_order_id, sell_order_id, maker_order_id, taker_side,
	quantity::text, price::text, value::text, fee::text, settlement_ref, settlement_status, executed_at, confirmed_at`

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var (
		t                 models.Trade
		takerSide, status string
	)
	err := row.Scan(&t.ID, &t.AssetID, &t.BuyerID, &t.SellerID, &t.BuyOrderID, &t.SellOrderID, &t.MakerOrderID, &takerSide,
		&t.Quantity, &t.Price, &t.Value, &t.Fee, &t.SettlementRef, &status, &t.ExecutedAt, &t.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	if t.TakerSide, err = models.ParseSide(takerSide); err != nil {
		return nil, err
	}
	if t.SettlementStatus, err = models.ParseSettlementStatus(status); err != nil {
		return nil, err
	}
	return &t, nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, t *models.Trade) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trades (id, asset_id, buyer_id, seller_id, buy_order_id, sell_order_id, maker_order_id, taker_side,
			quantity, price, value, fee, settlement_ref, settlement_status, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.AssetID, t.BuyerID, t.SellerID, t.BuyOrderID, t.SellOrderID, t.MakerOrderID, string(t.TakerSide),
		t.Quantity.String(), t.Price.String(), t.Value.String(), t.Fee.String(),
		t.SettlementRef, string(t.SettlementStatus), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// GetUserTrades retrieves all trades where the user was buyer or seller
func (db *DB) GetUserTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE buyer_id = $1 OR seller_id = $1 ORDER BY executed_at ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// ConfirmSettlement records the external ledger's final word on a trade
func (db *DB) ConfirmSettlement(ctx context.Context, tradeID uuid.UUID, status models.SettlementStatus, at time.Time) (*models.Trade, error) {
	var out *models.Trade
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		t, err := scanTrade(tx.QueryRow(ctx, "SELECT "+tradeColumns+" FROM trades WHERE id = $1 FOR UPDATE", tradeID))
		if err != nil {
			return notFound(err, "trade %s", tradeID)
		}
		if err := t.Confirm(status, at); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE trades SET settlement_status = $2, confirmed_at = $3 WHERE id = $1",
			t.ID, string(t.SettlementStatus), t.ConfirmedAt); err != nil {
			return fmt.Errorf("failed to confirm trade: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
