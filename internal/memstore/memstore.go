// Package memstore keeps orders, trades and balances in process memory.
// It implements the same contracts as the PostgreSQL store and is used for
// local runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/rwaexchange/internal/models"
)

var ErrNotFound = fmt.Errorf("memstore: %w", models.ErrNotFound)

type balanceKey struct {
	userID  int64
	assetID int64
}

type paymentKey struct {
	userID int64
	chain  string
}

// Store is an in-memory order, trade and balance store.
// A single mutex makes every method atomic, including multi-row fills.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   int64
	nextUser int64
	users    map[int64]models.User
	assets   map[int64]models.Asset
	orders   map[int64]models.Order
	trades   []models.Trade
	balances map[balanceKey]models.Balance
	payments map[paymentKey]models.PaymentBalance
}

// New creates an empty store
func New() *Store {
	return &Store{
		now:      time.Now,
		users:    make(map[int64]models.User),
		assets:   make(map[int64]models.Asset),
		orders:   make(map[int64]models.Order),
		balances: make(map[balanceKey]models.Balance),
		payments: make(map[paymentKey]models.PaymentBalance),
	}
}

// SetClock replaces the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, fmt.Errorf("failed to create user: username %q taken", username)
		}
	}
	s.nextUser++
	u := models.User{ID: s.nextUser, Username: username, PasswordHash: passwordHash, CreatedAt: s.now()}
	s.users[u.ID] = u
	return &u, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("failed to get user: %w", ErrNotFound)
}

// PutAsset inserts or replaces an asset
func (s *Store) PutAsset(a models.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.ID] = a
}

// CreateAsset lists a new asset under the next free id
func (s *Store) CreateAsset(ctx context.Context, a models.Asset) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var maxID int64
	for id, existing := range s.assets {
		if existing.Symbol == a.Symbol {
			return nil, fmt.Errorf("failed to create asset: symbol %q taken", a.Symbol)
		}
		if id > maxID {
			maxID = id
		}
	}
	a.ID = maxID + 1
	if a.Status == "" {
		a.Status = models.AssetActive
	}
	s.assets[a.ID] = a
	return &a, nil
}

// GetAsset retrieves an asset by id
func (s *Store) GetAsset(ctx context.Context, id int64) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %d: %w", id, ErrNotFound)
	}
	return &a, nil
}

// SetAssetStatus halts, resumes or delists an asset
func (s *Store) SetAssetStatus(ctx context.Context, id int64, status models.AssetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %d: %w", id, ErrNotFound)
	}
	a.Status = status
	s.assets[id] = a
	return nil
}

// ListAssets returns every listed asset
func (s *Store) ListAssets(ctx context.Context) ([]models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateOrder inserts a new order. Orders without a status start pending.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o := *order
	s.nextID++
	o.ID = s.nextID
	if o.PublicID == uuid.Nil {
		o.PublicID = uuid.New()
	}
	if o.Status == "" {
		o.Status = models.StatusPending
	}
	if o.Remaining.IsZero() && o.Filled.IsZero() {
		o.Remaining = o.Quantity
	}
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if err := o.CheckInvariants(); err != nil {
		return nil, err
	}
	s.orders[o.ID] = o
	return &o, nil
}

// GetOrder retrieves an order by internal id
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return &o, nil
}

// GetOrderByPublicID retrieves an order by its external id
func (s *Store) GetOrderByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PublicID == publicID {
			return &o, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", publicID, ErrNotFound)
}

// UpdateOrder persists the order's status and quantities
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order) error {
	if err := order.CheckInvariants(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", order.ID, ErrNotFound)
	}
	if cur.Status != order.Status && !models.CanTransition(cur.Status, order.Status) {
		return fmt.Errorf("failed to update order %d: %w: %s -> %s", order.ID, models.ErrIllegalTransition, cur.Status, order.Status)
	}
	o := *order
	o.UpdatedAt = s.now()
	s.orders[o.ID] = o
	*order = o
	return nil
}

// CrossingOrders returns resting counter orders that cross order, in price-time priority
func (s *Store) CrossingOrders(ctx context.Context, order *models.Order, now time.Time) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.AssetID != order.AssetID || o.ID == order.ID || !o.Status.Resting() {
			continue
		}
		if !o.Remaining.IsPositive() || o.Expired(now) || !order.Crosses(&o) {
			continue
		}
		out = append(out, o)
	}
	models.SortByPriority(out, order.Side.Opposite())
	return out, nil
}

// OrdersByStatus returns orders in any of the given states, oldest first
func (s *Store) OrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[models.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []models.Order
	for _, o := range s.orders {
		if want[o.Status] {
			out = append(out, o)
		}
	}
	sortByCreation(out)
	return out, nil
}

// DueForExpiry returns non-terminal orders whose expiry is at or before now
func (s *Store) DueForExpiry(ctx context.Context, now time.Time) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.Status.Resting() && o.Expired(now) {
			out = append(out, o)
		}
	}
	sortByCreation(out)
	return out, nil
}

// GetUserOrders retrieves all orders for a user
func (s *Store) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sortByCreation(out)
	return out, nil
}

// RestingOrders returns an asset's open orders on both sides
func (s *Store) RestingOrders(ctx context.Context, assetID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.AssetID == assetID && o.Status.Resting() {
			out = append(out, o)
		}
	}
	sortByCreation(out)
	return out, nil
}

func sortByCreation(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

// Trades returns every recorded trade in execution order
func (s *Store) Trades() []models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Trade(nil), s.trades...)
}

// GetUserTrades retrieves all trades where the user was buyer or seller
func (s *Store) GetUserTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ConfirmSettlement records the external ledger's final word on a trade
func (s *Store) ConfirmSettlement(ctx context.Context, tradeID uuid.UUID, status models.SettlementStatus, at time.Time) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.trades {
		if s.trades[i].ID != tradeID {
			continue
		}
		t := s.trades[i]
		if err := t.Confirm(status, at); err != nil {
			return nil, err
		}
		s.trades[i] = t
		return &t, nil
	}
	return nil, fmt.Errorf("trade %s: %w", tradeID, ErrNotFound)
}

// ReserveOrder locks qty of the seller's asset balance for a sell order
func (s *Store) ReserveOrder(ctx context.Context, orderID int64, qty decimal.Decimal) (*models.Order, *models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if o.Side != models.Sell {
		return nil, nil, fmt.Errorf("%w: only sell orders reserve the asset", models.ErrInvalidOrder)
	}
	b, err := s.balance(o.UserID, o.AssetID)
	if err != nil {
		return nil, nil, err
	}
	if err := b.Holding().Lock(qty); err != nil {
		return nil, nil, err
	}
	o.Locked = o.Locked.Add(qty)
	if err := o.CheckInvariants(); err != nil {
		return nil, nil, err
	}
	now := s.now()
	o.UpdatedAt, b.UpdatedAt = now, now
	s.orders[o.ID] = o
	s.balances[balanceKey{b.UserID, b.AssetID}] = b
	return &o, &b, nil
}

// CloseOrder moves an order to cancelled, expired or rejected and unlocks its reservation
func (s *Store) CloseOrder(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, *models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err := o.Transition(status); err != nil {
		return nil, nil, err
	}

	var bal *models.Balance
	if o.Locked.IsPositive() {
		b, err := s.balance(o.UserID, o.AssetID)
		if err != nil {
			return nil, nil, err
		}
		if err := b.Holding().Unlock(o.Locked); err != nil {
			return nil, nil, err
		}
		b.UpdatedAt = s.now()
		s.balances[balanceKey{b.UserID, b.AssetID}] = b
		bal = &b
		o.Locked = decimal.Zero
	}
	o.UpdatedAt = s.now()
	s.orders[o.ID] = o
	return &o, bal, nil
}
