package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink writes every event to the log at debug level
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink creates a log sink
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, ev Event) error {
	fields := logrus.Fields{
		"type":     ev.Kind,
		"asset_id": ev.AssetID,
	}
	switch {
	case ev.Trade != nil:
		fields["trade_id"] = ev.Trade.ID
		fields["quantity"] = ev.Trade.Quantity.String()
		fields["price"] = ev.Trade.Price.String()
	case ev.Order != nil:
		fields["order_id"] = ev.Order.PublicID
		fields["status"] = ev.Order.Status
	case ev.Balance != nil:
		fields["user_id"] = ev.UserID
		fields["available"] = ev.Balance.Available.String()
		fields["locked"] = ev.Balance.Locked.String()
	}
	s.log.WithFields(fields).Debug("Event")
	return nil
}
