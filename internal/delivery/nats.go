package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/syntrix-offline/internal/queue"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// natsConnect and jetStreamNew are variables to allow mocking in tests.
var (
	natsConnect  = nats.Connect
	jetStreamNew = func(nc *nats.Conn) (jetstream.JetStream, error) {
		return jetstream.New(nc)
	}
)

// NATSSender publishes updates to a JetStream subject. The idempotency key
// is the message id, so the stream drops redeliveries inside its duplicate
// window.
type NATSSender struct {
	js      jetstream.JetStream
	nc      *nats.Conn
	stream  string
	subject string
	logger  *slog.Logger
}

var _ queue.Sender = (*NATSSender)(nil)

// DialNATS connects to cfg.URL and ensures the delivery stream exists.
func DialNATS(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATSSender, error) {
	nc, err := natsConnect(cfg.URL, nats.Name("syntrix-offline"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	js, err := jetStreamNew(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := EnsureStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	s := NewNATSSender(js, cfg, logger)
	s.nc = nc
	return s, nil
}

// NewNATSSender creates a sender over an existing JetStream context.
func NewNATSSender(js jetstream.JetStream, cfg NATSConfig, logger *slog.Logger) *NATSSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSender{
		js:      js,
		stream:  cfg.Stream,
		subject: cfg.Subject,
		logger:  logger.With("component", "nats-sender"),
	}
}

// EnsureStream creates or updates the stream that captures cfg.Subject.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storage := jetstream.FileStorage
	if cfg.StorageType == "memory" {
		storage = jetstream.MemoryStorage
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
		Storage:  storage,
	})
	return err
}

// Send implements queue.Sender. The result is the stream sequence of the
// stored message.
func (s *NATSSender) Send(ctx context.Context, d *queue.Delivery) (interface{}, error) {
	data, err := json.Marshal(newEnvelope(d))
	if err != nil {
		return nil, &model.FatalError{Err: fmt.Errorf("failed to marshal update: %w", err)}
	}

	ack, err := s.js.Publish(ctx, s.subject, data,
		jetstream.WithMsgID(d.IdempotencyKey),
		jetstream.WithExpectStream(s.stream),
		jetstream.WithRetryAttempts(3),
	)
	if err != nil {
		return nil, err
	}
	if ack.Duplicate {
		s.logger.Info("Update already published", "sort", d.SortKey, "seq", ack.Sequence)
	}
	return ack.Sequence, nil
}

// Close closes the connection opened by DialNATS.
func (s *NATSSender) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
