// Package delivery provides the senders that carry queued updates to their
// destination: an HTTP endpoint, a NATS JetStream subject or a Redis stream.
//
// Every sender forwards the update's idempotency key so the receiving side
// can discard the duplicates that at-least-once delivery produces.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/syntrix-offline/internal/queue"
)

// IdempotencyHeader carries the idempotency key of an HTTP delivery.
const IdempotencyHeader = "Idempotency-Key"

// Sender is a queue.Sender that owns a connection.
type Sender interface {
	queue.Sender
	Close() error
}

// envelope is the wire form of a delivery.
type envelope struct {
	IdempotencyKey string      `json:"idempotency_key"`
	SortKey        int64       `json:"sort_key"`
	Update         interface{} `json:"update"`
}

func newEnvelope(d *queue.Delivery) envelope {
	return envelope{IdempotencyKey: d.IdempotencyKey, SortKey: d.SortKey, Update: d.Update}
}

// New creates the sender selected by cfg.Kind.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		s   Sender
		err error
	)
	switch cfg.Kind {
	case KindHTTP, "":
		s, err = NewHTTPSender(cfg.HTTP, logger)
	case KindNATS:
		s, err = DialNATS(ctx, cfg.NATS, logger)
	case KindRedis:
		s, err = DialRedis(ctx, cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported delivery kind: %s", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Delivery sender ready", "kind", cfg.Kind)
	return s, nil
}
