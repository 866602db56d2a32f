// Package scheduler re-runs matching passes on a timer so orders that could
// not match at intake get retried, and closes orders past their expiry.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xtrntr/rwaexchange/internal/exchange"
	"github.com/xtrntr/rwaexchange/internal/metrics"
	"github.com/xtrntr/rwaexchange/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPendingInterval = 5 * time.Second
	DefaultRestingInterval = 30 * time.Second
	DefaultExpiryInterval  = 30 * time.Second
)

// Store lists the orders each scan visits
type Store interface {
	OrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error)
	DueForExpiry(ctx context.Context, now time.Time) ([]models.Order, error)
}

// Matcher runs the per-order passes
type Matcher interface {
	Match(ctx context.Context, order *models.Order) (*exchange.MatchResult, error)
	Expire(ctx context.Context, order *models.Order) (*models.Order, error)
}

// Config holds scan intervals; zero values take the defaults
type Config struct {
	PendingInterval time.Duration
	RestingInterval time.Duration
	ExpiryInterval  time.Duration
}

// Scheduler owns the periodic scans
type Scheduler struct {
	store   Store
	matcher Matcher
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a scheduler; m may be nil
func New(store Store, matcher Matcher, cfg Config, log logrus.FieldLogger, m *metrics.Metrics) *Scheduler {
	if cfg.PendingInterval <= 0 {
		cfg.PendingInterval = DefaultPendingInterval
	}
	if cfg.RestingInterval <= 0 {
		cfg.RestingInterval = DefaultRestingInterval
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = DefaultExpiryInterval
	}
	return &Scheduler{store: store, matcher: matcher, cfg: cfg, log: log, metrics: m, now: time.Now}
}

// Run starts every scan loop and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, "pending", s.cfg.PendingInterval, s.ScanPending) })
	g.Go(func() error { return s.loop(ctx, "resting", s.cfg.RestingInterval, s.ScanResting) })
	g.Go(func() error { return s.loop(ctx, "expiry", s.cfg.ExpiryInterval, s.SweepExpired) })
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, scan func(context.Context) (int, error)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{"scan": name, "interval": every.String()}).Info("Scan loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := scan(ctx)
			if err != nil {
				s.log.WithError(err).WithField("scan", name).Warn("Scan failed")
				continue
			}
			if n > 0 {
				s.log.WithFields(logrus.Fields{"scan": name, "orders": n}).Debug("Scan finished")
			}
		}
	}
}

// ScanPending runs a pass for every pending order, oldest first
func (s *Scheduler) ScanPending(ctx context.Context) (int, error) {
	return s.rematch(ctx, "pending", models.StatusPending)
}

// ScanResting runs a pass for every open and partially filled order
func (s *Scheduler) ScanResting(ctx context.Context) (int, error) {
	return s.rematch(ctx, "resting", models.RestingStatuses...)
}

func (s *Scheduler) rematch(ctx context.Context, kind string, statuses ...models.OrderStatus) (int, error) {
	s.metrics.IncScan(kind)
	orders, err := s.store.OrdersByStatus(ctx, statuses...)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		res, err := s.matcher.Match(ctx, &orders[i])
		n++
		if err != nil {
			s.log.WithError(err).WithField("order_id", orders[i].PublicID).Error("Scheduled pass failed")
			continue
		}
		if len(res.Trades) > 0 {
			s.log.WithFields(logrus.Fields{
				"order_id": orders[i].PublicID,
				"trades":   len(res.Trades),
				"status":   res.Order.Status,
			}).Info("Scheduled pass matched")
		}
	}
	return n, nil
}

// SweepExpired closes every resting order whose expiry has passed
func (s *Scheduler) SweepExpired(ctx context.Context) (int, error) {
	s.metrics.IncScan("expiry")
	due, err := s.store.DueForExpiry(ctx, s.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		o, err := s.matcher.Expire(ctx, &due[i])
		if err != nil {
			s.log.WithError(err).WithField("order_id", due[i].PublicID).Error("Failed to expire order")
			continue
		}
		if o.Status == models.StatusExpired {
			n++
		}
	}
	return n, nil
}
