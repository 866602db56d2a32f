// Package seed loads demo users, assets and balances into an empty store.
package seed

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/rwaexchange/internal/auth"
	"github.com/xtrntr/rwaexchange/internal/models"
)

// DemoPassword is shared by every seeded user
const DemoPassword = "password123"

// Target is the store being seeded
type Target interface {
	ListAssets(ctx context.Context) ([]models.Asset, error)
	CreateAsset(ctx context.Context, a models.Asset) (*models.Asset, error)
	OpenBalance(ctx context.Context, userID, assetID int64) (*models.Balance, error)
	Credit(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error)
	OpenPaymentBalance(ctx context.Context, userID int64, chain string) (*models.PaymentBalance, error)
	CreditPayment(ctx context.Context, userID int64, chain string, amount decimal.Decimal) (*models.PaymentBalance, error)
}

// Holder describes one seeded user and what they start with
type Holder struct {
	Username string
	Assets   decimal.Decimal // credited on every seeded asset
	Payment  decimal.Decimal // credited on every seeded chain
}

var (
	DemoAssets = []models.Asset{
		{Symbol: "TBILL-26", Chain: "ethereum", VaultAddress: "0x5f0d1c2b3a4e9f8d7c6b5a4e3d2c1b0a9f8e7d6c"},
		{Symbol: "NYC-RE-01", Chain: "polygon", VaultAddress: "0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b"},
	}
	DemoHolders = []Holder{
		{Username: "trader1", Assets: decimal.NewFromInt(1000), Payment: decimal.NewFromInt(10000)},
		{Username: "trader2", Assets: decimal.Zero, Payment: decimal.NewFromInt(1000000)},
	}
)

// Run seeds the demo data unless the store already lists assets.
// It reports whether anything was written.
func Run(ctx context.Context, target Target, authService *auth.AuthService, log logrus.FieldLogger) (bool, error) {
	existing, err := target.ListAssets(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check assets: %w", err)
	}
	if len(existing) > 0 {
		log.WithField("assets", len(existing)).Info("Store already seeded")
		return false, nil
	}

	var listed []*models.Asset
	chains := map[string]bool{}
	for _, a := range DemoAssets {
		created, err := target.CreateAsset(ctx, a)
		if err != nil {
			return false, fmt.Errorf("failed to create asset %s: %w", a.Symbol, err)
		}
		listed = append(listed, created)
		chains[created.Chain] = true
	}

	for _, h := range DemoHolders {
		user, err := authService.Register(ctx, h.Username, DemoPassword)
		if err != nil {
			return false, fmt.Errorf("failed to create user %s: %w", h.Username, err)
		}
		for _, a := range listed {
			if _, err := target.OpenBalance(ctx, user.ID, a.ID); err != nil {
				return false, err
			}
			if h.Assets.IsPositive() {
				if _, err := target.Credit(ctx, user.ID, a.ID, h.Assets); err != nil {
					return false, err
				}
			}
		}
		for chain := range chains {
			if _, err := target.OpenPaymentBalance(ctx, user.ID, chain); err != nil {
				return false, err
			}
			if h.Payment.IsPositive() {
				if _, err := target.CreditPayment(ctx, user.ID, chain, h.Payment); err != nil {
					return false, err
				}
			}
		}
		log.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("Seeded user")
	}
	return true, nil
}
