package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/rwaexchange/internal/models"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *captureSink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Kind
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func sampleTrade() models.Trade {
	return models.Trade{
		ID:         uuid.New(),
		AssetID:    3,
		Quantity:   decimal.NewFromInt(2),
		Price:      decimal.RequireFromString("101.25"),
		ExecutedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestDispatcher_DeliversInOrderToEverySink(t *testing.T) {
	logger, _ := test.NewNullLogger()
	a, b := &captureSink{}, &captureSink{err: errors.New("sink down")}
	d := NewDispatcher([]Sink{a, b}, WithLogger(logger))

	d.PublishTradeExecuted(sampleTrade())
	d.PublishOrderUpdated(models.Order{AssetID: 3, UserID: 7, Status: models.StatusFilled})
	d.PublishBalanceUpdated(7, 3, models.Balance{UserID: 7, AssetID: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	want := []Kind{TradeExecuted, OrderUpdated, BalanceUpdated}
	assert.Equal(t, want, a.kinds())
	assert.Equal(t, want, b.kinds(), "a failing sink still sees every event")
	assert.Equal(t, int64(7), a.events[2].UserID)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &captureSink{}
	d := NewDispatcher([]Sink{sink}, WithBuffer(1), WithLogger(logger))

	for i := 0; i < 3; i++ {
		d.PublishOrderUpdated(models.Order{AssetID: 1})
	}
	assert.Len(t, hook.AllEntries(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Len(t, sink.kinds(), 1)

	// after Run returns nothing is queued
	d.PublishOrderUpdated(models.Order{AssetID: 1})
	assert.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, "dispatcher stopped", hook.LastEntry().Data["reason"])
}

func TestNop(t *testing.T) {
	var n Nop
	n.PublishTradeExecuted(sampleTrade())
	n.PublishOrderUpdated(models.Order{})
	n.PublishBalanceUpdated(1, 1, models.Balance{})
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_KeysByAsset(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}

	tr := sampleTrade()
	require.NoError(t, sink.Send(context.Background(), Event{Kind: TradeExecuted, AssetID: 3, Trade: &tr}))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "3", string(msg.Key))
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, string(TradeExecuted), string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, TradeExecuted, decoded.Kind)
	require.NotNil(t, decoded.Trade)
	assert.Equal(t, tr.ID, decoded.Trade.ID)
	assert.True(t, tr.Price.Equal(decoded.Trade.Price))

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestHub_Broadcast(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	o := models.Order{PublicID: uuid.New(), AssetID: 4, Status: models.StatusOpen}
	require.NoError(t, hub.Send(context.Background(), Event{Kind: OrderUpdated, AssetID: 4, Order: &o}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, OrderUpdated, got.Kind)
	require.NotNil(t, got.Order)
	assert.Equal(t, o.PublicID, got.Order.PublicID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := NewLogSink(logger)
	tr := sampleTrade()

	require.NoError(t, sink.Send(context.Background(), Event{Kind: TradeExecuted, AssetID: 3, Trade: &tr}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, tr.ID, hook.LastEntry().Data["trade_id"])
	assert.Equal(t, "101.25", hook.LastEntry().Data["price"])
}
