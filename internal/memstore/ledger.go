package memstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/rwaexchange/internal/models"
)

// balance returns a copy of the asset balance row; the caller holds s.mu
func (s *Store) balance(userID, assetID int64) (models.Balance, error) {
	b, ok := s.balances[balanceKey{userID, assetID}]
	if !ok {
		return models.Balance{}, fmt.Errorf("balance user %d asset %d: %w", userID, assetID, ErrNotFound)
	}
	return b, nil
}

func (s *Store) payment(userID int64, chain string) (models.PaymentBalance, error) {
	b, ok := s.payments[paymentKey{userID, chain}]
	if !ok {
		return models.PaymentBalance{}, fmt.Errorf("payment balance user %d chain %s: %w", userID, chain, ErrNotFound)
	}
	return b, nil
}

// OpenBalance creates an empty asset balance row (account funding flow)
func (s *Store) OpenBalance(ctx context.Context, userID, assetID int64) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey{userID, assetID}
	if b, ok := s.balances[key]; ok {
		return &b, nil
	}
	b := models.Balance{UserID: userID, AssetID: assetID, UpdatedAt: s.now()}
	s.balances[key] = b
	return &b, nil
}

// OpenPaymentBalance creates an empty payment balance row
func (s *Store) OpenPaymentBalance(ctx context.Context, userID int64, chain string) (*models.PaymentBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := paymentKey{userID, chain}
	if b, ok := s.payments[key]; ok {
		return &b, nil
	}
	b := models.PaymentBalance{UserID: userID, Chain: chain, UpdatedAt: s.now()}
	s.payments[key] = b
	return &b, nil
}

// GetBalance retrieves one asset balance
func (s *Store) GetBalance(ctx context.Context, userID, assetID int64) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.balance(userID, assetID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetPaymentBalance retrieves one payment balance
func (s *Store) GetPaymentBalance(ctx context.Context, userID int64, chain string) (*models.PaymentBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.payment(userID, chain)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetUserBalances retrieves every asset balance of a user
func (s *Store) GetUserBalances(ctx context.Context, userID int64) ([]models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Balance
	for k, b := range s.balances {
		if k.userID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) mutateBalance(userID, assetID int64, fn func(models.Holding) error) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.balance(userID, assetID)
	if err != nil {
		return nil, err
	}
	if err := fn(b.Holding()); err != nil {
		return nil, err
	}
	b.UpdatedAt = s.now()
	s.balances[balanceKey{userID, assetID}] = b
	return &b, nil
}

// Lock moves qty from available to locked
func (s *Store) Lock(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error) {
	return s.mutateBalance(userID, assetID, func(h models.Holding) error { return h.Lock(qty) })
}

// Unlock moves qty from locked to available
func (s *Store) Unlock(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error) {
	return s.mutateBalance(userID, assetID, func(h models.Holding) error { return h.Unlock(qty) })
}

// Credit confirms a deposit of qty
func (s *Store) Credit(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error) {
	return s.mutateBalance(userID, assetID, func(h models.Holding) error { return h.Credit(qty) })
}

// Debit confirms a withdrawal of qty
func (s *Store) Debit(ctx context.Context, userID, assetID int64, qty decimal.Decimal) (*models.Balance, error) {
	return s.mutateBalance(userID, assetID, func(h models.Holding) error { return h.Debit(qty) })
}

// CreditPayment confirms a payment-token deposit
func (s *Store) CreditPayment(ctx context.Context, userID int64, chain string, amount decimal.Decimal) (*models.PaymentBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.payment(userID, chain)
	if err != nil {
		return nil, err
	}
	if err := b.Holding().Credit(amount); err != nil {
		return nil, err
	}
	b.UpdatedAt = s.now()
	s.payments[paymentKey{userID, chain}] = b
	return &b, nil
}

// Transfer delivers qty of an asset from the seller's locked balance to the buyer.
// Both rows change or neither does.
func (s *Store) Transfer(ctx context.Context, sellerID, buyerID, assetID int64, qty decimal.Decimal) (*models.Balance, *models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller, buyer, err := s.transfer(sellerID, buyerID, assetID, qty)
	if err != nil {
		return nil, nil, err
	}
	return &seller, &buyer, nil
}

func (s *Store) transfer(sellerID, buyerID, assetID int64, qty decimal.Decimal) (models.Balance, models.Balance, error) {
	seller, err := s.balance(sellerID, assetID)
	if err != nil {
		return seller, models.Balance{}, err
	}
	buyer, err := s.balance(buyerID, assetID)
	if err != nil {
		return seller, buyer, err
	}
	if sellerID == buyerID {
		// one row: deliver then receive
		h := seller.Holding()
		if err := h.Deliver(qty); err != nil {
			return seller, buyer, err
		}
		if err := h.Credit(qty); err != nil {
			return seller, buyer, err
		}
		seller.UpdatedAt = s.now()
		s.balances[balanceKey{sellerID, assetID}] = seller
		return seller, seller, nil
	}
	if err := seller.Holding().Deliver(qty); err != nil {
		return seller, buyer, err
	}
	if err := buyer.Holding().Credit(qty); err != nil {
		return seller, buyer, err
	}
	now := s.now()
	seller.UpdatedAt, buyer.UpdatedAt = now, now
	s.balances[balanceKey{sellerID, assetID}] = seller
	s.balances[balanceKey{buyerID, assetID}] = buyer
	return seller, buyer, nil
}

// ValidateSell checks that the seller has qty available
func (s *Store) ValidateSell(ctx context.Context, sellerID, assetID int64, qty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.balance(sellerID, assetID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInsufficientBalance, err)
	}
	if b.Available.LessThan(qty) {
		return fmt.Errorf("%w: seller %d available %s < %s", models.ErrInsufficientBalance, sellerID, b.Available, qty)
	}
	return nil
}

// ValidatePayment checks that the buyer's payment balance on chain covers amount
func (s *Store) ValidatePayment(ctx context.Context, buyerID int64, chain string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.payment(buyerID, chain)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInsufficientBalance, err)
	}
	if b.Available.LessThan(amount) {
		return fmt.Errorf("%w: buyer %d payment available %s < %s", models.ErrInsufficientBalance, buyerID, b.Available, amount)
	}
	return nil
}

// ValidateAccounts checks that the rows a fill credits exist
func (s *Store) ValidateAccounts(ctx context.Context, buyerID, sellerID, assetID int64, chain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.balance(buyerID, assetID); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInsufficientBalance, err)
	}
	if _, err := s.payment(sellerID, chain); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInsufficientBalance, err)
	}
	return nil
}

// RecordFill applies a fill atomically: both orders, the asset transfer, the
// payment transfer and the trade insert. On error nothing is changed.
func (s *Store) RecordFill(ctx context.Context, f *models.Fill) (*models.FillResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taker, ok := s.orders[f.TakerOrderID]
	if !ok {
		return nil, fmt.Errorf("taker order %d: %w", f.TakerOrderID, ErrNotFound)
	}
	maker, ok := s.orders[f.MakerOrderID]
	if !ok {
		return nil, fmt.Errorf("maker order %d: %w", f.MakerOrderID, ErrNotFound)
	}
	if !maker.Status.Resting() || maker.Remaining.LessThan(f.Quantity) || taker.Remaining.LessThan(f.Quantity) {
		return nil, fmt.Errorf("%w: maker %d %s remaining %s, taker %d remaining %s, fill %s",
			models.ErrStaleOrder, maker.ID, maker.Status, maker.Remaining, taker.ID, taker.Remaining, f.Quantity)
	}

	buy, sell := &taker, &maker
	if taker.Side == models.Sell {
		buy, sell = &maker, &taker
	}

	// snapshot rows so a failure part way leaves the maps untouched
	balances := make(map[balanceKey]models.Balance, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	payments := make(map[paymentKey]models.PaymentBalance, len(s.payments))
	for k, v := range s.payments {
		payments[k] = v
	}
	restore := func() {
		s.balances = balances
		s.payments = payments
	}

	if need := sell.Unreserved(f.Quantity); need.IsPositive() {
		b, err := s.balance(sell.UserID, sell.AssetID)
		if err != nil {
			return nil, err
		}
		if err := b.Holding().Lock(need); err != nil {
			return nil, err
		}
		s.balances[balanceKey{b.UserID, b.AssetID}] = b
		sell.Locked = sell.Locked.Add(need)
	}

	sellerBal, buyerBal, err := s.transfer(sell.UserID, buy.UserID, sell.AssetID, f.Quantity)
	if err != nil {
		restore()
		return nil, err
	}

	if err := s.movePayment(buy.UserID, sell.UserID, f); err != nil {
		restore()
		return nil, err
	}

	if err := taker.ApplyFill(f.Quantity, f.ExecutedAt); err != nil {
		restore()
		return nil, err
	}
	if err := maker.ApplyFill(f.Quantity, f.ExecutedAt); err != nil {
		restore()
		return nil, err
	}

	trade := models.NewTrade(f, &taker, buy, sell)
	s.orders[taker.ID] = taker
	s.orders[maker.ID] = maker
	s.trades = append(s.trades, trade)

	return &models.FillResult{
		Trade:         trade,
		Taker:         taker,
		Maker:         maker,
		BuyerBalance:  buyerBal,
		SellerBalance: sellerBal,
	}, nil
}

func (s *Store) movePayment(buyerID, sellerID int64, f *models.Fill) error {
	buyer, err := s.payment(buyerID, f.Chain)
	if err != nil {
		return err
	}
	if err := buyer.Holding().Debit(f.Value); err != nil {
		return err
	}
	s.payments[paymentKey{buyerID, f.Chain}] = buyer

	seller, err := s.payment(sellerID, f.Chain)
	if err != nil {
		return err
	}
	if proceeds := f.Value.Sub(f.Fee); proceeds.IsPositive() {
		if err := seller.Holding().Credit(proceeds); err != nil {
			return err
		}
	}
	s.payments[paymentKey{sellerID, f.Chain}] = seller
	return nil
}
