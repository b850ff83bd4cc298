package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultConnectTimeout = 10 * time.Second

// Provider owns a MongoDB connection and hands out document stores on it.
type Provider struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// NewProvider connects to uri and verifies the connection with a ping.
func NewProvider(ctx context.Context, uri string, dbName string, logger *slog.Logger) (*Provider, error) {
	clientOpts := options.Client().ApplyURI(uri)
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(defaultConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{client: client, db: client.Database(dbName), logger: logger}, nil
}

// DocumentStore returns a store on collection that shares the provider's connection.
func (p *Provider) DocumentStore(collection string) *DocumentStore {
	return NewDocumentStore(p.db, collection, p.logger)
}

// Close disconnects. Stores handed out by the provider stop working.
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
