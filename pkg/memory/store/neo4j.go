package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

// Neo4jStore implements VectorStore on a Neo4j vector index. Memories are
// (:Memory) nodes; the collection name becomes the vector index name.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	index    string
}

func NewNeo4jStore(ctx context.Context, uri, username, password, database, collection string) (*Neo4jStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("neo4j collection name is required")
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return &Neo4jStore{driver: driver, database: database, index: collection}, nil
}

// EnsureCollection creates the uniqueness constraint, the conversation
// index, and the vector index. All statements use IF NOT EXISTS.
func (ns *Neo4jStore) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Size <= 0 {
		return fmt.Errorf("%w: vector size must be positive", model.ErrSchema)
	}
	similarity := "cosine"
	if spec.Distance == DistanceEuclid {
		similarity = "euclidean"
	}
	stmts := []string{
		`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`,
		`CREATE INDEX memory_conversation IF NOT EXISTS FOR (m:Memory) ON (m.conversation_id)`,
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS FOR (m:Memory) ON (m.embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: '%s'}}`,
			ns.index, spec.Size, similarity),
	}
	for _, stmt := range stmts {
		if _, err := neo4j.ExecuteQuery(ctx, ns.driver, stmt, nil,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(ns.database)); err != nil {
			return fmt.Errorf("%w: %v", model.ErrSchema, err)
		}
	}
	return nil
}

// Upsert merges all memories in one UNWIND statement, which runs in a single
// transaction.
func (ns *Neo4jStore) Upsert(ctx context.Context, memories []model.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(memories))
	for _, m := range memories {
		extraJSON, err := json.Marshal(orEmptyMap(m.Extra))
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrStorage, err)
		}
		rows = append(rows, map[string]any{
			"id":              m.ID,
			"text":            m.Text,
			"role":            m.Role,
			"conversation_id": m.ConversationID,
			"ts":              m.Timestamp,
			"extra":           string(extraJSON),
			"embedding":       float64Vector(m.Vector),
		})
	}
	query := `
		UNWIND $rows AS row
		MERGE (m:Memory {id: row.id})
		SET m.text = row.text,
		    m.role = row.role,
		    m.conversation_id = row.conversation_id,
		    m.ts = row.ts,
		    m.extra = row.extra,
		    m.embedding = row.embedding`
	if _, err := neo4j.ExecuteQuery(ctx, ns.driver, query, map[string]any{"rows": rows},
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(ns.database)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return nil
}

// Search queries the vector index, then narrows to the conversation. The
// index itself cannot pre-filter, so it oversamples candidates before the
// WHERE clause trims them.
func (ns *Neo4jStore) Search(ctx context.Context, queryVector []float32, conversationID string, limit int) ([]model.Hit, error) {
	query := `
		CALL db.index.vector.queryNodes($index, $candidates, $vector)
		YIELD node, score
		WHERE node.conversation_id = $conversation_id
		RETURN node.text AS text, node.role AS role, node.ts AS ts, score
		LIMIT $limit`
	params := map[string]any{
		"index":           ns.index,
		"candidates":      limit * 10,
		"vector":          float64Vector(queryVector),
		"conversation_id": conversationID,
		"limit":           limit,
	}
	result, err := neo4j.ExecuteQuery(ctx, ns.driver, query, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(ns.database))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	hits := make([]model.Hit, 0, len(result.Records))
	for _, record := range result.Records {
		payload := map[string]any{}
		for _, key := range []string{"text", "role", "ts"} {
			if v, ok := record.Get(key); ok {
				payload[key] = v
			}
		}
		score := 0.0
		if v, ok := record.Get("score"); ok {
			if f, ok := v.(float64); ok {
				score = f
			}
		}
		hits = append(hits, model.HitFromPayload(payload, score))
	}
	return hits, nil
}

// Close releases the driver.
func (ns *Neo4jStore) Close(ctx context.Context) error {
	if ns == nil || ns.driver == nil {
		return nil
	}
	return ns.driver.Close(ctx)
}
