package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/rwaexchange/internal/metrics"
	"github.com/xtrntr/rwaexchange/internal/models"
	"github.com/xtrntr/rwaexchange/internal/settlement"
)

const defaultSettlementTimeout = 10 * time.Second

// Config holds the coordinator's tunables
type Config struct {
	FeeRate           decimal.Decimal // flat platform fee, fraction of trade value
	SettlementTimeout time.Duration
}

// Exchange is the matching and settlement coordinator. It pairs crossing
// orders read from the store, settles each pair externally and records the
// result. All passes on one asset run one at a time.
type Exchange struct {
	store   Store
	ledger  Ledger
	assets  AssetRegistry
	settler Settler
	events  Publisher
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	locks   *assetLocks
	now     func() time.Time

	feeRate           decimal.Decimal
	settlementTimeout time.Duration
}

// Option customizes an Exchange
type Option func(*Exchange)

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Exchange) { e.log = log }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exchange) { e.metrics = m }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// NewExchange creates a coordinator
func NewExchange(store Store, ledger Ledger, assets AssetRegistry, settler Settler, events Publisher, cfg Config, opts ...Option) *Exchange {
	e := &Exchange{
		store:             store,
		ledger:            ledger,
		assets:            assets,
		settler:           settler,
		events:            events,
		log:               logrus.StandardLogger(),
		locks:             newAssetLocks(),
		now:               time.Now,
		feeRate:           cfg.FeeRate,
		settlementTimeout: cfg.SettlementTimeout,
	}
	if e.settlementTimeout <= 0 {
		e.settlementTimeout = defaultSettlementTimeout
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SkippedMatch is a crossing candidate the pass could not execute
type SkippedMatch struct {
	MakerOrderID uuid.UUID
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Reason       error
}

// MatchResult is the outcome of one pass for one order
type MatchResult struct {
	Order    models.Order
	Trades   []models.Trade
	Skipped  []SkippedMatch
	Rejected error // set when the order was rejected before matching
}

// Match runs one matching pass for order. The order is reloaded from the
// store under the asset lock, so a stale copy is fine. Only storage failures
// after a crossing pair was found are returned (as *MatchingError); every
// per-candidate failure is reported in MatchResult.Skipped.
func (e *Exchange) Match(ctx context.Context, order *models.Order) (*MatchResult, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", models.ErrInvalidOrder)
	}
	// a pass always runs to completion once started
	ctx = context.WithoutCancel(ctx)

	unlock := e.locks.lock(order.AssetID)
	defer unlock()
	return e.match(ctx, order.ID)
}

func (e *Exchange) match(ctx context.Context, orderID int64) (*MatchResult, error) {
	start := e.now()
	incoming, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	result := &MatchResult{Order: *incoming}

	// filled, cancelled, rejected and expired orders are left alone
	if incoming.Status.Terminal() {
		return result, nil
	}

	log := e.log.WithFields(logrus.Fields{
		"order_id": incoming.PublicID,
		"asset_id": incoming.AssetID,
		"side":     incoming.Side,
	})

	if incoming.Expired(start) {
		if incoming.Status == models.StatusPending {
			return e.reject(ctx, incoming, fmt.Errorf("%w: order expired before matching", models.ErrInvalidOrder))
		}
		closed, err := e.closeOrder(ctx, incoming, models.StatusExpired)
		if err != nil {
			return nil, err
		}
		result.Order = *closed
		return result, nil
	}

	asset, invalid, err := e.validate(ctx, incoming)
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		if incoming.Status == models.StatusPending {
			return e.reject(ctx, incoming, invalid)
		}
		log.WithError(invalid).Warn("Resting order not matchable this pass")
		return result, nil
	}

	candidates, err := e.store.CrossingOrders(ctx, incoming, start)
	if err != nil {
		return nil, fmt.Errorf("failed to query crossing orders: %w", err)
	}
	models.SortByPriority(candidates, incoming.Side.Opposite())

	for i := range candidates {
		if !incoming.Remaining.IsPositive() {
			break
		}
		maker := &candidates[i]
		if !maker.Remaining.IsPositive() || !incoming.Crosses(maker) {
			continue
		}

		qty := decimal.Min(incoming.Remaining, maker.Remaining)
		price := maker.Price // makers always set the price
		value := models.Money(price.Mul(qty))
		fee := models.Money(value.Mul(e.feeRate))

		buy, sell := incoming, maker
		if incoming.Side == models.Sell {
			buy, sell = maker, incoming
		}
		clog := log.WithFields(logrus.Fields{
			"maker_order_id": maker.PublicID,
			"quantity":       qty.String(),
			"price":          price.String(),
		})

		if err := e.validateBalances(ctx, buy, sell, qty, value, asset.Chain); err != nil {
			if errors.Is(err, models.ErrInsufficientBalance) {
				clog.WithError(err).Info("Skipping candidate: balance check failed")
				e.skip(result, maker, qty, price, err, metrics.SkipInsufficientBalance)
				continue
			}
			return e.abort(ctx, result, incoming, &MatchingError{OrderID: incoming.PublicID, Err: err})
		}

		ref, err := e.settle(ctx, settlement.Request{
			TradeKey:     fmt.Sprintf("%s:%s:%s", incoming.PublicID, maker.PublicID, incoming.Filled.String()),
			BuyerRef:     strconv.FormatInt(buy.UserID, 10),
			SellerRef:    strconv.FormatInt(sell.UserID, 10),
			AssetRef:     asset.Symbol,
			Quantity:     qty,
			Price:        price,
			Chain:        asset.Chain,
			VaultAddress: asset.VaultAddress,
		})
		if err != nil {
			clog.WithError(err).Warn("Skipping candidate: settlement failed")
			e.skip(result, maker, qty, price, err, metrics.SkipSettlementFailed)
			continue
		}

		res, err := e.store.RecordFill(ctx, &models.Fill{
			TakerOrderID:  incoming.ID,
			MakerOrderID:  maker.ID,
			Chain:         asset.Chain,
			Quantity:      qty,
			Price:         price,
			Value:         value,
			Fee:           fee,
			SettlementRef: ref,
			ExecutedAt:    e.now(),
		})
		if err != nil {
			clog.WithError(err).WithField("settlement_ref", ref).
				Error("Settled trade could not be recorded; reconciliation required")
			e.metrics.IncMatchingFailed()
			return e.abort(ctx, result, incoming, &MatchingError{OrderID: incoming.PublicID, SettlementRef: ref, Err: err})
		}

		*incoming = res.Taker
		*maker = res.Maker
		result.Trades = append(result.Trades, res.Trade)
		e.metrics.IncTrades()

		e.events.PublishTradeExecuted(res.Trade)
		e.events.PublishOrderUpdated(res.Maker)
		e.events.PublishBalanceUpdated(res.BuyerBalance.UserID, res.BuyerBalance.AssetID, res.BuyerBalance)
		e.events.PublishBalanceUpdated(res.SellerBalance.UserID, res.SellerBalance.AssetID, res.SellerBalance)

		clog.WithFields(logrus.Fields{
			"trade_id":       res.Trade.ID,
			"settlement_ref": ref,
		}).Info("Trade executed")
	}

	if err := e.finalize(ctx, incoming); err != nil {
		return nil, err
	}
	result.Order = *incoming
	e.metrics.ObservePass("completed", e.now().Sub(start))
	return result, nil
}

// validate returns a non-nil invalid reason for orders that must not be matched.
// err is reserved for registry failures.
func (e *Exchange) validate(ctx context.Context, order *models.Order) (*models.Asset, error, error) {
	if invalid := order.Validate(); invalid != nil {
		return nil, invalid, nil
	}
	asset, err := e.assets.Asset(ctx, order.AssetID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown asset %d", models.ErrInvalidOrder, order.AssetID), nil
		}
		return nil, nil, fmt.Errorf("failed to look up asset %d: %w", order.AssetID, err)
	}
	if !asset.Tradable() {
		return nil, fmt.Errorf("%w: asset %s is %s", models.ErrInvalidOrder, asset.Symbol, asset.Status), nil
	}
	return asset, nil, nil
}

// validateBalances checks both parties before anything is settled
func (e *Exchange) validateBalances(ctx context.Context, buy, sell *models.Order, qty, value decimal.Decimal, chain string) error {
	if need := sell.Unreserved(qty); need.IsPositive() {
		if err := e.ledger.ValidateSell(ctx, sell.UserID, sell.AssetID, need); err != nil {
			return err
		}
	}
	if err := e.ledger.ValidateAccounts(ctx, buy.UserID, sell.UserID, sell.AssetID, chain); err != nil {
		return err
	}
	return e.ledger.ValidatePayment(ctx, buy.UserID, chain, value)
}

// settle calls the executor once, bounded by the settlement timeout
func (e *Exchange) settle(ctx context.Context, req settlement.Request) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, e.settlementTimeout)
	defer cancel()

	start := e.now()
	ref, err := e.settler.Execute(sctx, req)
	e.metrics.ObserveSettlement(err == nil, e.now().Sub(start))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}
	if ref == "" {
		return "", fmt.Errorf("%w: empty settlement reference", ErrSettlementFailed)
	}
	return ref, nil
}

func (e *Exchange) skip(result *MatchResult, maker *models.Order, qty, price decimal.Decimal, reason error, label string) {
	result.Skipped = append(result.Skipped, SkippedMatch{
		MakerOrderID: maker.PublicID,
		Quantity:     qty,
		Price:        price,
		Reason:       reason,
	})
	e.metrics.IncSkipped(label)
}

// finalize sets the incoming order's status after the pass and persists it
func (e *Exchange) finalize(ctx context.Context, order *models.Order) error {
	next := models.StatusOpen
	switch {
	case order.Remaining.IsZero():
		next = models.StatusFilled
	case order.Filled.IsPositive():
		next = models.StatusPartiallyFilled
	}
	if order.Status != next {
		if err := order.Transition(next); err != nil {
			return fmt.Errorf("failed to finalize order %s: %w", order.PublicID, err)
		}
	}
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to persist order %s: %w", order.PublicID, err)
	}
	e.events.PublishOrderUpdated(*order)
	return nil
}

// abort persists whatever the incoming order reached and returns the pass error
func (e *Exchange) abort(ctx context.Context, result *MatchResult, order *models.Order, merr *MatchingError) (*MatchResult, error) {
	if err := e.finalize(ctx, order); err != nil {
		e.log.WithError(err).WithField("order_id", order.PublicID).Error("Failed to persist order after aborted pass")
	}
	result.Order = *order
	e.metrics.ObservePass("failed", 0)
	return result, merr
}

// reject moves a pending order to rejected, releasing any sell reservation
// taken at intake in the same store call
func (e *Exchange) reject(ctx context.Context, order *models.Order, reason error) (*MatchResult, error) {
	rejected, bal, err := e.store.CloseOrder(ctx, order.ID, models.StatusRejected)
	if err != nil {
		return nil, fmt.Errorf("failed to reject order %s: %w", order.PublicID, err)
	}
	e.events.PublishOrderUpdated(*rejected)
	if bal != nil {
		e.events.PublishBalanceUpdated(bal.UserID, bal.AssetID, *bal)
	}
	e.log.WithError(reason).WithField("order_id", rejected.PublicID).Info("Order rejected")
	e.metrics.ObservePass("rejected", 0)
	return &MatchResult{Order: *rejected, Rejected: reason}, nil
}
