// memoryd exposes the conversational memory bank over HTTP: single and batch
// ingestion, conversation-scoped retrieval, and liveness/metrics probes. It
// replaces the separate ingestor and contextualizer services with one binary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/genio-systems/genio-memory/pkg/memory"
	"github.com/genio-systems/genio-memory/pkg/memory/embed"
	"github.com/genio-systems/genio-memory/pkg/memory/model"
	"github.com/genio-systems/genio-memory/pkg/memory/store"
)

func main() {
	var (
		listenAddr   = flag.String("listen", envOr("MEMORY_LISTEN", ":8080"), "HTTP listen address")
		storeKind    = flag.String("store", envOr("MEMORY_STORE", "qdrant"), "vector store backend: qdrant|postgres|mongo|neo4j|inmemory")
		collection   = flag.String("collection", envOr("MEMORY_COLLECTION", "memories"), "collection name")
		vectorSize   = flag.Int("vector-size", envOrInt("VECTOR_SIZE", 768), "embedding dimensionality")
		identity     = flag.String("identity", envOr("MEMORY_IDENTITY", string(memory.IdentityRandom)), "point identity policy: random|content")
		defaultK     = flag.Int("default-k", envOrInt("MEMORY_DEFAULT_K", memory.DefaultTopK), "hits returned when a retrieval omits k")
		maxK         = flag.Int("max-k", envOrInt("MEMORY_MAX_K", memory.KMax), "upper bound on k per retrieval")
		embedURL     = flag.String("embed-url", envOr("EMBED_HEAD_URL", "http://localhost:8000/embed"), "embed-head endpoint")
		embedTimeout = flag.Duration("embed-timeout", envOrDuration("EMBED_TIMEOUT", embed.DefaultEmbedTimeout), "embed call timeout")
		qdrantURL    = flag.String("qdrant-url", envOr("QDRANT_URL", "http://localhost:6333"), "Qdrant base URL")
		postgresDSN  = flag.String("postgres-dsn", envOr("POSTGRES_DSN", ""), "Postgres connection string")
		mongoURI     = flag.String("mongo-uri", envOr("MONGO_URI", ""), "MongoDB connection URI")
		mongoDB      = flag.String("mongo-db", envOr("MONGO_DB", "genio"), "MongoDB database name")
		neo4jURI     = flag.String("neo4j-uri", envOr("NEO4J_URI", ""), "Neo4j connection URI")
		neo4jUser    = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass    = flag.String("neo4j-pass", envOr("NEO4J_PASSWORD", ""), "Neo4j password")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := buildStore(ctx, *storeKind, *collection, *qdrantURL, *postgresDSN, *mongoURI, *mongoDB, *neo4jURI, *neo4jUser, *neo4jPass)
	if err != nil {
		log.Fatalf("failed to initialise %s store: %v", *storeKind, err)
	}
	defer closeStore()

	var embedder embed.Embedder
	if os.Getenv("MEMORY_EMBED_PROVIDER") != "" {
		embedder = embed.FromEnv()
	} else {
		embedder = embed.NewHTTPEmbedder(*embedURL, *embedTimeout)
	}

	opts := memory.DefaultOptions(*vectorSize)
	opts.Identity = memory.IdentityPolicy(*identity)
	opts.MaxK = *maxK
	bank := memory.NewBank(st, embedder, opts)
	srvDeps := &deps{bank: bank, embedder: embedder, defaultK: *defaultK}

	if err := bank.EnsureCollection(ctx); err != nil {
		log.Fatalf("collection bootstrap failed: %v", err)
	}
	log.Printf("collection %q ready (%s store, %d dims)", *collection, *storeKind, *vectorSize)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /memory", handleIngest(bank))
	mux.HandleFunc("POST /memory/batch", handleIngestBatch(bank))
	mux.HandleFunc("POST /context", handleContext(srvDeps))
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "memory-alive"})
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, bank.Metrics())
	})

	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("memoryd listening on %s", *listenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func buildStore(ctx context.Context, kind, collection, qdrantURL, postgresDSN, mongoURI, mongoDB, neo4jURI, neo4jUser, neo4jPass string) (store.VectorStore, func(), error) {
	switch kind {
	case "qdrant":
		return store.NewQdrantStore(qdrantURL, collection, os.Getenv("QDRANT_API_KEY")), func() {}, nil
	case "postgres":
		ps, err := store.NewPostgresStore(ctx, postgresDSN, collection)
		if err != nil {
			return nil, nil, err
		}
		return ps, func() { _ = ps.Close() }, nil
	case "mongo":
		ms, err := store.NewMongoStore(ctx, mongoURI, mongoDB, collection)
		if err != nil {
			return nil, nil, err
		}
		return ms, func() { _ = ms.Close() }, nil
	case "neo4j":
		ns, err := store.NewNeo4jStore(ctx, neo4jURI, neo4jUser, neo4jPass, "", collection)
		if err != nil {
			return nil, nil, err
		}
		return ns, func() { _ = ns.Close(context.Background()) }, nil
	case "inmemory":
		return store.NewInMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", kind)
}

func handleIngest(bank *memory.Bank) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item model.Memory
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if item.Role == "" {
			item.Role = "user"
		}
		id, err := bank.UpsertOne(r.Context(), item)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "id": id})
	}
}

func handleIngestBatch(bank *memory.Bank) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch struct {
			Items []model.Memory `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		for i := range batch.Items {
			if batch.Items[i].Role == "" {
				batch.Items[i].Role = "user"
			}
		}
		ids, err := bank.UpsertBatch(r.Context(), batch.Items)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "inserted": len(ids), "ids": ids})
	}
}

// deps bundles what the handlers need; the embedder is exposed separately so
// /context can accept a query text and embed it server-side.
type deps struct {
	bank     *memory.Bank
	embedder embed.Embedder
	defaultK int
}

func handleContext(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConversationID string    `json:"conversation_id"`
			Query          string    `json:"query"`
			QueryVector    []float32 `json:"query_vector"`
			K              int       `json:"k"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.K == 0 {
			req.K = d.defaultK
		}
		if len(req.QueryVector) == 0 && req.Query != "" {
			vec, err := d.embedder.Embed(r.Context(), req.Query)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			req.QueryVector = vec
		}
		hits, err := d.bank.TopK(r.Context(), req.QueryVector, req.ConversationID, req.K)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"contexts":     hits,
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEmbedding), errors.Is(err, model.ErrStorage), errors.Is(err, model.ErrSchema):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
