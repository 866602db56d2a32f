package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/rwaexchange/internal/exchange"
	"github.com/xtrntr/rwaexchange/internal/memstore"
	"github.com/xtrntr/rwaexchange/internal/models"
	"github.com/xtrntr/rwaexchange/internal/settlement"
)

type fakeMatcher struct {
	mu      sync.Mutex
	matched []int64
	expired []int64
	failOn  int64
}

func (m *fakeMatcher) Match(ctx context.Context, o *models.Order) (*exchange.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matched = append(m.matched, o.ID)
	if o.ID == m.failOn {
		return nil, errors.New("storage down")
	}
	return &exchange.MatchResult{Order: *o}, nil
}

func (m *fakeMatcher) Expire(ctx context.Context, o *models.Order) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = append(m.expired, o.ID)
	closed := *o
	closed.Status = models.StatusExpired
	return &closed, nil
}

func (m *fakeMatcher) matchedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.matched...)
}

func seed(t *testing.T, store *memstore.Store, status models.OrderStatus, expiresAt *time.Time) *models.Order {
	t.Helper()
	ctx := context.Background()
	o, err := store.CreateOrder(ctx, models.NewOrder(1, 1, models.Buy, decimal.NewFromInt(10), decimal.NewFromInt(1), expiresAt))
	require.NoError(t, err)
	if status != models.StatusPending {
		require.NoError(t, o.Transition(status))
		require.NoError(t, store.UpdateOrder(ctx, o))
	}
	return o
}

func TestScanPendingAndResting(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	p1 := seed(t, store, models.StatusPending, nil)
	open := seed(t, store, models.StatusOpen, nil)
	p2 := seed(t, store, models.StatusPending, nil)
	seed(t, store, models.StatusCancelled, nil)

	m := &fakeMatcher{failOn: p1.ID}
	s := New(store, m, Config{}, logger, nil)

	n, err := s.ScanPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{p1.ID, p2.ID}, m.matchedIDs(), "a failing order does not stop the scan")

	n, err = s.ScanResting(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, open.ID, m.matchedIDs()[2])
}

func TestSweepExpired(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	due := seed(t, store, models.StatusOpen, &past)
	seed(t, store, models.StatusOpen, &future)
	seed(t, store, models.StatusPending, &past)

	m := &fakeMatcher{}
	s := New(store, m, Config{}, logger, nil)
	s.now = func() time.Time { return now }

	n, err := s.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{due.ID}, m.expired)
}

func TestRunStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	seed(t, store, models.StatusPending, nil)
	m := &fakeMatcher{}
	s := New(store, m, Config{PendingInterval: 5 * time.Millisecond}, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(m.matchedIDs()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type storeAssets struct {
	*memstore.Store
}

func (s storeAssets) Asset(ctx context.Context, id int64) (*models.Asset, error) {
	return s.GetAsset(ctx, id)
}

// a buy that could not match at intake trades once a seller funds the book
func TestScanResting_RetriesAfterFunding(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()
	store := memstore.New()
	store.PutAsset(models.Asset{ID: 1, Symbol: "RWA", Chain: "polygon", Status: models.AssetActive})
	for _, u := range []int64{1, 2} {
		_, err := store.OpenBalance(ctx, u, 1)
		require.NoError(t, err)
		_, err = store.OpenPaymentBalance(ctx, u, "polygon")
		require.NoError(t, err)
	}
	_, err := store.CreditPayment(ctx, 1, "polygon", decimal.NewFromInt(100))
	require.NoError(t, err)

	ex := exchange.NewExchange(store, store, storeAssets{store}, &settlement.Simulator{}, nopPublisher{},
		exchange.Config{}, exchange.WithLogger(logger))

	buy, err := ex.Submit(ctx, exchange.OrderRequest{UserID: 1, AssetID: 1, Side: models.Buy, Price: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.Equal(t, models.StatusOpen, buy.Order.Status)

	// seller's order stored before the seller's deposit arrives
	sell, err := store.CreateOrder(ctx, models.NewOrder(2, 1, models.Sell, decimal.NewFromInt(10), decimal.NewFromInt(1), nil))
	require.NoError(t, err)
	res, err := ex.Match(ctx, sell)
	require.NoError(t, err)
	require.Empty(t, res.Trades)

	_, err = store.Credit(ctx, 2, 1, decimal.NewFromInt(1))
	require.NoError(t, err)

	s := New(store, ex, Config{}, logger, nil)
	_, err = s.ScanResting(ctx)
	require.NoError(t, err)

	assert.Len(t, store.Trades(), 1)
	after, err := store.GetOrder(ctx, buy.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, after.Status)
}

type nopPublisher struct{}

func (nopPublisher) PublishTradeExecuted(models.Trade) {}

func (nopPublisher) PublishOrderUpdated(models.Order) {}

func (nopPublisher) PublishBalanceUpdated(int64, int64, models.Balance) {}
