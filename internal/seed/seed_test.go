package seed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/rwaexchange/internal/auth"
	"github.com/xtrntr/rwaexchange/internal/memstore"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	authService := auth.NewAuthService(store, "secret", time.Hour)
	logger, _ := test.NewNullLogger()

	seeded, err := Run(ctx, store, authService, logger)
	require.NoError(t, err)
	assert.True(t, seeded)

	list, err := store.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, list, len(DemoAssets))

	token, err := authService.Login(ctx, "trader1", DemoPassword)
	require.NoError(t, err)
	userID, err := authService.GetUserFromToken(token)
	require.NoError(t, err)

	for _, a := range list {
		bal, err := store.GetBalance(ctx, userID, a.ID)
		require.NoError(t, err)
		assert.True(t, bal.Available.Equal(decimal.NewFromInt(1000)), a.Symbol)

		pay, err := store.GetPaymentBalance(ctx, userID, a.Chain)
		require.NoError(t, err)
		assert.True(t, pay.Available.Equal(decimal.NewFromInt(10000)))
	}

	// a second run leaves the store alone
	seeded, err = Run(ctx, store, authService, logger)
	require.NoError(t, err)
	assert.False(t, seeded)
}
