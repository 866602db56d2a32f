// Package events fans coordinator notifications out to sinks without
// blocking the matching path.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xtrntr/rwaexchange/internal/metrics"
	"github.com/xtrntr/rwaexchange/internal/models"
)

// Kind names an event on the wire
type Kind string

const (
	TradeExecuted  Kind = "trade.executed"
	OrderUpdated   Kind = "order.updated"
	BalanceUpdated Kind = "balance.updated"
)

// Event is one notification. Exactly one of Trade, Order, Balance is set.
type Event struct {
	Kind    Kind            `json:"type"`
	AssetID int64           `json:"asset_id"`
	UserID  int64           `json:"user_id,omitempty"`
	At      time.Time       `json:"at"`
	Trade   *models.Trade   `json:"trade,omitempty"`
	Order   *models.Order   `json:"order,omitempty"`
	Balance *models.Balance `json:"balance,omitempty"`
}

// Sink delivers events somewhere
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

const (
	defaultBuffer      = 1024
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher queues events in a bounded buffer and delivers them to every
// sink from a single goroutine. Publishing never blocks: when the buffer is
// full the event is dropped and counted.
type Dispatcher struct {
	queue       chan Event
	sinks       []Sink
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
	sendTimeout time.Duration
	now         func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// DispatcherOption customizes a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithBuffer sets the queue capacity
func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// WithMetrics counts dropped events
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithSendTimeout bounds each sink delivery
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.sendTimeout = timeout }
}

// NewDispatcher creates a dispatcher; call Run to start delivery
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:       make(chan Event, defaultBuffer),
		sinks:       sinks,
		log:         logrus.StandardLogger(),
		sendTimeout: defaultSendTimeout,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PublishTradeExecuted queues a trade event
func (d *Dispatcher) PublishTradeExecuted(t models.Trade) {
	d.enqueue(Event{Kind: TradeExecuted, AssetID: t.AssetID, At: t.ExecutedAt, Trade: &t})
}

// PublishOrderUpdated queues an order event
func (d *Dispatcher) PublishOrderUpdated(o models.Order) {
	d.enqueue(Event{Kind: OrderUpdated, AssetID: o.AssetID, UserID: o.UserID, At: d.now(), Order: &o})
}

// PublishBalanceUpdated queues a balance event
func (d *Dispatcher) PublishBalanceUpdated(userID, assetID int64, b models.Balance) {
	d.enqueue(Event{Kind: BalanceUpdated, AssetID: assetID, UserID: userID, At: d.now(), Balance: &b})
}

func (d *Dispatcher) enqueue(ev Event) {
	select {
	case <-d.done:
		d.drop(ev, "dispatcher stopped")
		return
	default:
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "queue full")
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.metrics.IncEventsDropped()
	d.log.WithFields(logrus.Fields{
		"type":     ev.Kind,
		"asset_id": ev.AssetID,
		"reason":   reason,
	}).Warn("Event dropped")
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			d.closeOnce.Do(func() { close(d.done) })
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := sink.Send(ctx, ev)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"sink": sink.Name(),
				"type": ev.Kind,
			}).Warn("Failed to deliver event")
		}
	}
}

// Nop discards every event
type Nop struct{}

func (Nop) PublishTradeExecuted(models.Trade) {}

func (Nop) PublishOrderUpdated(models.Order) {}

func (Nop) PublishBalanceUpdated(int64, int64, models.Balance) {}
