// Package memory maintains a conversational memory store: dialogue fragments
// are embedded into fixed-dimension vectors and persisted with metadata in a
// vector store, then retrieved by conversation-scoped similarity search.
package memory

import (
	"github.com/genio-systems/genio-memory/pkg/memory/embed"
	"github.com/genio-systems/genio-memory/pkg/memory/model"
	"github.com/genio-systems/genio-memory/pkg/memory/store"
)

// Type aliases exposing the subpackage API at the package root.
type (
	Memory = model.Memory
	Hit    = model.Hit

	VectorStore    = store.VectorStore
	CollectionSpec = store.CollectionSpec
	PayloadIndex   = store.PayloadIndex
	Distance       = store.Distance

	InMemoryStore = store.InMemoryStore
	QdrantStore   = store.QdrantStore
	PostgresStore = store.PostgresStore
	MongoStore    = store.MongoStore
	Neo4jStore    = store.Neo4jStore

	Embedder      = embed.Embedder
	BatchEmbedder = embed.BatchEmbedder
	DummyEmbedder = embed.DummyEmbedder
	HTTPEmbedder  = embed.HTTPEmbedder
)

const (
	DistanceCosine = store.DistanceCosine
	DistanceDot    = store.DistanceDot
	DistanceEuclid = store.DistanceEuclid
)

var (
	ErrValidation        = model.ErrValidation
	ErrEmbedding         = model.ErrEmbedding
	ErrSchema            = model.ErrSchema
	ErrStorage           = model.ErrStorage
	ErrDimensionMismatch = model.ErrDimensionMismatch

	NewInMemoryStore = store.NewInMemoryStore
	NewQdrantStore   = store.NewQdrantStore
	NewPostgresStore = store.NewPostgresStore
	NewMongoStore    = store.NewMongoStore
	NewNeo4jStore    = store.NewNeo4jStore

	NewHTTPEmbedder   = embed.NewHTTPEmbedder
	NewOpenAIEmbedder = embed.NewOpenAIEmbedder
	NewOllamaEmbedder = embed.NewOllamaEmbedder
	NewGeminiEmbedder = embed.NewGeminiEmbedder
	EmbedderFromEnv   = embed.FromEnv

	DefaultIndexes = store.DefaultIndexes
)
