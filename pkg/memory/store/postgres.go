package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

// PostgresStore implements VectorStore using Postgres + pgvector. The
// collection name doubles as the table name.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresStore connects to Postgres and binds the store to one table.
func NewPostgresStore(ctx context.Context, connStr, collection string) (*PostgresStore, error) {
	if !identPattern.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresStore{pool: pool, table: collection}, nil
}

// EnsureCollection creates the pgvector extension, the memory table, and the
// filter indexes. Every statement is IF NOT EXISTS so repeated calls are
// no-ops.
func (ps *PostgresStore) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Size <= 0 {
		return fmt.Errorf("%w: vector size must be positive", model.ErrSchema)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			text TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			extra JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)`, ps.table, spec.Size),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_conversation_idx ON %s (conversation_id)`, ps.table, ps.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ts_idx ON %s (ts)`, ps.table, ps.table),
	}
	for _, stmt := range stmts {
		if _, err := ps.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", model.ErrSchema, err)
		}
	}
	return nil
}

// Upsert writes all memories inside one transaction so a rejected point
// leaves nothing behind.
func (ps *PostgresStore) Upsert(ctx context.Context, memories []model.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, text, role, conversation_id, ts, extra, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::vector)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			role = EXCLUDED.role,
			conversation_id = EXCLUDED.conversation_id,
			ts = EXCLUDED.ts,
			extra = EXCLUDED.extra,
			embedding = EXCLUDED.embedding`, ps.table)

	err := pgx.BeginFunc(ctx, ps.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, m := range memories {
			extraJSON, err := json.Marshal(orEmptyMap(m.Extra))
			if err != nil {
				return err
			}
			batch.Queue(query, m.ID, m.Text, m.Role, m.ConversationID, m.Timestamp,
				string(extraJSON), vectorLiteral(m.Vector))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return nil
}

// Search ranks by cosine distance within one conversation; score is
// 1 - distance so higher is more similar, matching the other backends.
func (ps *PostgresStore) Search(ctx context.Context, queryVector []float32, conversationID string, limit int) ([]model.Hit, error) {
	query := fmt.Sprintf(`
		SELECT text, role, ts, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE conversation_id = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, ps.table)

	rows, err := ps.pool.Query(ctx, query, vectorLiteral(queryVector), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	defer rows.Close()

	var hits []model.Hit
	for rows.Next() {
		var hit model.Hit
		if err := rows.Scan(&hit.Text, &hit.Role, &hit.Timestamp, &hit.Score); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
		}
		if hit.Role == "" {
			hit.Role = model.RoleUnknown
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return hits, nil
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() error {
	if ps != nil && ps.pool != nil {
		ps.pool.Close()
	}
	return nil
}

// vectorLiteral renders a float32 slice as a pgvector input literal.
func vectorLiteral(vec []float32) string {
	b, _ := json.Marshal(vec)
	return fmt.Sprintf("[%s]", strings.Trim(string(b), "[]"))
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
