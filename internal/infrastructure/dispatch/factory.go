package dispatch

import (
	"fmt"
	"io"

	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewOrderDispatcher builds the dispatcher selected by cfg.Mode. The returned
// closer releases the broker connection, if any.
func NewOrderDispatcher(cfg config.DispatchConfig, logger *zap.Logger) (fulfillment.OrderDispatcher, io.Closer, error) {
	switch cfg.Mode {
	case "", "log":
		logger.Warn("Order dispatch in log mode, no downstream orders will be created")
		return NewLogOrderDispatcher(logger), nopCloser{}, nil
	case "amqp":
		conn, err := Dial(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			return nil, nil, err
		}
		d, err := NewAMQPOrderDispatcher(conn.Channel(), AMQPConfig{
			Exchange:        cfg.Exchange,
			LabRoutingKey:   cfg.LabKey,
			OrthoRoutingKey: cfg.OrthoKey,
			PublishTimeout:  cfg.PublishTTL,
		}, logger)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		logger.Info("Order dispatch over AMQP", zap.String("exchange", cfg.Exchange))
		return d, conn, nil
	default:
		return nil, nil, fmt.Errorf("unknown dispatch mode %q", cfg.Mode)
	}
}
