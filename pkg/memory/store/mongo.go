package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

// MongoStore implements VectorStore on MongoDB Atlas $vectorSearch.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

const mongoCloseTimeout = 5 * time.Second

func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		return nil, errors.New("mongo collection name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// EnsureCollection creates the filter indexes. CreateMany is idempotent for
// identical definitions. The Atlas vector search index ("vector_index") is
// declared here as well; on non-Atlas deployments it must be provisioned
// out-of-band.
func (ms *MongoStore) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	if ms == nil || ms.collection == nil {
		return fmt.Errorf("%w: mongo store is not connected", model.ErrSchema)
	}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: model.KeyConversationID, Value: 1}, {Key: model.KeyTimestamp, Value: -1}},
			Options: options.Index().SetName("conversation_ts"),
		},
		{
			Keys: bson.D{{Key: "embedding", Value: "cosmos.vector"}},
			Options: options.Index().
				SetName("vector_index").
				SetWeights(bson.D{
					{Key: "numDimensions", Value: spec.Size},
					{Key: "similarity", Value: "cosine"},
					{Key: "type", Value: "ivf"},
				}),
		},
	}
	if _, err := ms.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("%w: %v", model.ErrSchema, err)
	}
	return nil
}

// Upsert replaces-or-inserts every memory in a single bulk write.
func (ms *MongoStore) Upsert(ctx context.Context, memories []model.Memory) error {
	if ms == nil || ms.collection == nil || len(memories) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(memories))
	for _, m := range memories {
		doc := bson.M{
			"_id":                    m.ID,
			model.KeyText:            m.Text,
			model.KeyRole:            m.Role,
			model.KeyConversationID:  m.ConversationID,
			model.KeyTimestamp:       m.Timestamp,
			"extra":                  orEmptyMap(m.Extra),
			"embedding":              float64Vector(m.Vector),
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": m.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := ms.collection.BulkWrite(ctx, writes); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return nil
}

// Search runs a $vectorSearch pipeline filtered on the conversation so the
// limit applies after scoping, not before.
func (ms *MongoStore) Search(ctx context.Context, queryVector []float32, conversationID string, limit int) ([]model.Hit, error) {
	if ms == nil || ms.collection == nil {
		return nil, fmt.Errorf("%w: mongo store is not connected", model.ErrStorage)
	}
	pipeline := mongo.Pipeline{
		{
			{Key: "$vectorSearch", Value: bson.D{
				{Key: "index", Value: "vector_index"},
				{Key: "path", Value: "embedding"},
				{Key: "queryVector", Value: float64Vector(queryVector)},
				{Key: "numCandidates", Value: int64(limit * 10)}, // oversample for accuracy
				{Key: "limit", Value: int64(limit)},
				{Key: "filter", Value: bson.D{{Key: model.KeyConversationID, Value: conversationID}}},
			}},
		},
		{
			{Key: "$addFields", Value: bson.D{
				{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
			}},
		},
	}

	cursor, err := ms.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	defer cursor.Close(ctx)

	var hits []model.Hit
	for cursor.Next(ctx) {
		var doc struct {
			Text      string  `bson:"text"`
			Role      string  `bson:"role"`
			Timestamp int64   `bson:"ts"`
			Score     float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
		}
		role := doc.Role
		if role == "" {
			role = model.RoleUnknown
		}
		hits = append(hits, model.Hit{Text: doc.Text, Role: role, Timestamp: doc.Timestamp, Score: doc.Score})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return hits, nil
}

// Close disconnects the client.
func (ms *MongoStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func float64Vector(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
