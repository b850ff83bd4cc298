package mongo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// storedDocument is the collection schema. "_id" is the blake3 hash of
// the document id so arbitrary URIs fit the key constraints.
type storedDocument struct {
	Hash      string      `bson:"_id"`
	DocID     string      `bson:"doc_id"`
	Rev       string      `bson:"rev"`
	Gen       int         `bson:"gen"`
	Local     bool        `bson:"local,omitempty"`
	Deleted   bool        `bson:"deleted,omitempty"`
	Data      interface{} `bson:"data"`
	UpdatedAt int64       `bson:"updated_at"`
}

func (d *storedDocument) document() (*model.Document, error) {
	payload, err := model.NormalizePayload(fromBSON(d.Data))
	if err != nil {
		return nil, err
	}
	return &model.Document{ID: d.DocID, Rev: d.Rev, Payload: payload}, nil
}

// DocumentStore stores one logical store in a collection. Stores opened
// through a Provider share its connection; closing a store leaves it open.
type DocumentStore struct {
	db         *mongo.Database
	collection string
	logger     *slog.Logger
}

// Compile-time checks
var (
	_ types.IndexedStore = (*DocumentStore)(nil)
	_ types.ChangeFeed   = (*DocumentStore)(nil)
	_ types.Creator      = (*DocumentStore)(nil)
)

// NewDocumentStore initializes a MongoDB-backed IndexedStore on collection.
// Changes requires a replica set.
func NewDocumentStore(db *mongo.Database, collection string, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{
		db:         db,
		collection: collection,
		logger:     logger.With("component", "mongo-store", "collection", collection),
	}
}

func (m *DocumentStore) coll() *mongo.Collection {
	return m.db.Collection(m.collection)
}

func (m *DocumentStore) Get(ctx context.Context, id string) (*model.Document, error) {
	var doc storedDocument
	err := m.coll().FindOne(ctx, bson.M{"_id": types.CalculateID(id), "deleted": bson.M{"$ne": true}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: missing document %q", model.ErrNotFound, id)
		}
		return nil, err
	}
	return doc.document()
}

func (m *DocumentStore) Put(ctx context.Context, doc *model.Document) (types.PutResult, error) {
	payload, err := model.NormalizePayload(doc.Payload)
	if err != nil {
		return types.PutResult{}, err
	}
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	hash := types.CalculateID(id)

	// gen is bumped atomically; the revision suffix is written in a second step
	// only when the upsert reports the new generation.
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	update := bson.M{
		"$set": bson.M{
			"doc_id":     id,
			"local":      model.IsLocalID(id),
			"deleted":    false,
			"data":       payload,
			"updated_at": time.Now().UnixMilli(),
		},
		"$inc": bson.M{"gen": 1},
	}

	var stored storedDocument
	if err := m.coll().FindOneAndUpdate(ctx, bson.M{"_id": hash}, update, opts).Decode(&stored); err != nil {
		return types.PutResult{}, err
	}

	rev := fmt.Sprintf("%d-%s", stored.Gen, uuid.NewString()[:8])
	res, err := m.coll().UpdateOne(ctx, bson.M{"_id": hash, "gen": stored.Gen}, bson.M{"$set": bson.M{"rev": rev}})
	if err != nil {
		return types.PutResult{}, err
	}
	if res.MatchedCount == 0 {
		// A concurrent writer bumped gen first; its revision wins.
		return types.PutResult{OK: false, ID: id}, nil
	}

	return types.PutResult{OK: true, ID: id, Rev: rev}, nil
}

func (m *DocumentStore) Remove(ctx context.Context, doc *model.Document) error {
	update := bson.M{
		"$set": bson.M{
			"deleted":    true,
			"data":       nil,
			"updated_at": time.Now().UnixMilli(),
		},
		"$inc": bson.M{"gen": 1},
	}

	result, err := m.coll().UpdateOne(ctx, bson.M{"_id": types.CalculateID(doc.ID), "deleted": bson.M{"$ne": true}}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: missing document %q", model.ErrNotFound, doc.ID)
	}
	return nil
}

func (m *DocumentStore) Query(ctx context.Context, v view.View, opts view.QueryOptions) (*model.ViewResult, error) {
	return view.Execute(ctx, m.scan, v, opts)
}

func (m *DocumentStore) scan(ctx context.Context, fn func(doc *model.Document) error) error {
	cursor, err := m.coll().Find(ctx, bson.M{"deleted": bson.M{"$ne": true}, "local": bson.M{"$ne": true}})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var stored storedDocument
		if err := cursor.Decode(&stored); err != nil {
			return err
		}
		doc, err := stored.document()
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// Changes watches the collection. With a nil checkpoint it first replays
// every live document; otherwise it resumes the change stream after the
// given resume token. EventUpToDate is sent once the stream has no
// buffered changes left.
func (m *DocumentStore) Changes(ctx context.Context, since interface{}) (<-chan types.Event, error) {
	token, err := parseResumeToken(since)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace"}}}},
			{Key: "fullDocument.local", Value: bson.D{{Key: "$ne", Value: true}}},
		}}},
	}
	streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if token != nil {
		streamOpts.SetResumeAfter(token)
	}

	stream, err := m.coll().Watch(ctx, pipeline, streamOpts)
	if err != nil {
		return nil, err
	}

	var backlog []types.Event
	if token == nil {
		start := stream.ResumeToken()
		err := m.scan(ctx, func(doc *model.Document) error {
			backlog = append(backlog, types.Event{Type: types.EventPut, ID: doc.ID, Document: doc, Seq: start})
			return nil
		})
		if err != nil {
			stream.Close(ctx)
			return nil, err
		}
	}

	out := make(chan types.Event)

	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		send := func(evt types.Event) bool {
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, evt := range backlog {
			if !send(evt) {
				return
			}
		}

		upToDate := false
		for {
			var ok bool
			if upToDate {
				ok = stream.Next(ctx)
			} else {
				ok = stream.TryNext(ctx)
			}
			if !ok {
				if err := stream.Err(); err != nil {
					if ctx.Err() == nil {
						send(types.Event{Type: types.EventError, Err: err})
					}
					return
				}
				if upToDate {
					return
				}
				upToDate = true
				if !send(types.Event{Type: types.EventUpToDate, Seq: stream.ResumeToken()}) {
					return
				}
				continue
			}

			var change struct {
				OperationType string          `bson:"operationType"`
				FullDocument  *storedDocument `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil {
				m.logger.Warn("Failed to decode change event", "error", err)
				continue
			}
			if change.FullDocument == nil {
				continue
			}

			evt := types.Event{ID: change.FullDocument.DocID, Seq: stream.ResumeToken()}
			if change.FullDocument.Deleted {
				evt.Type = types.EventDelete
			} else {
				doc, err := change.FullDocument.document()
				if err != nil {
					m.logger.Warn("Failed to decode changed document", "id", evt.ID, "error", err)
					continue
				}
				evt.Type = types.EventPut
				evt.Document = doc
			}
			if !send(evt) {
				return
			}
		}
	}()

	return out, nil
}

// Create implements types.Creator by ensuring indexes.
func (m *DocumentStore) Create(ctx context.Context) error {
	return m.EnsureIndexes(ctx)
}

// EnsureIndexes creates necessary indexes
func (m *DocumentStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "doc_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = m.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "deleted", Value: 1}, {Key: "local", Value: 1}},
	})
	return err
}

func (m *DocumentStore) Close(ctx context.Context) error {
	return nil
}

// parseResumeToken accepts the resume token shapes a checkpoint can take:
// the raw token, its bytes, or the base64 string a JSON round trip produces.
func parseResumeToken(since interface{}) (bson.Raw, error) {
	switch t := since.(type) {
	case nil:
		return nil, nil
	case bson.Raw:
		return t, nil
	case []byte:
		return bson.Raw(t), nil
	case string:
		b, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return nil, fmt.Errorf("invalid resume token: %w", err)
		}
		return bson.Raw(b), nil
	}
	return nil, fmt.Errorf("invalid resume token of type %T", since)
}

// fromBSON converts decoded BSON containers to plain maps and slices.
func fromBSON(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = fromBSON(e)
		}
		return m
	case primitive.A:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = fromBSON(e)
		}
		return s
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = fromBSON(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = fromBSON(e)
		}
		return s
	}
	return v
}
