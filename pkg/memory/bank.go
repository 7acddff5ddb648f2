package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genio-systems/genio-memory/pkg/memory/embed"
	"github.com/genio-systems/genio-memory/pkg/memory/model"
	"github.com/genio-systems/genio-memory/pkg/memory/store"
)

// KMax caps the number of hits a single retrieval may request.
const KMax = 30

// DefaultTopK matches the original service default.
const DefaultTopK = 6

// IdentityPolicy decides how point IDs are assigned at write time.
type IdentityPolicy string

const (
	// IdentityRandom gives every item a fresh UUIDv4. Re-ingesting an
	// identical item stores a second, distinct memory.
	IdentityRandom IdentityPolicy = "random"

	// IdentityContent derives a UUIDv5 from
	// (conversation_id, ts, role, text). Re-ingesting an identical item
	// overwrites the earlier point instead of duplicating it.
	IdentityContent IdentityPolicy = "content"
)

// Namespace for IdentityContent IDs. Changing it would re-key every
// deployment, so it is fixed.
var contentIDNamespace = uuid.MustParse("9f2c1e7a-5b8d-4c63-a1f0-3d9e8b7a6c54")

// Options configures a Bank.
type Options struct {
	VectorSize    int
	Distance      store.Distance
	OnDiskPayload bool
	Indexes       []store.PayloadIndex
	Identity      IdentityPolicy
	MaxK          int              // retrieval cap, KMax when zero
	Now           func() time.Time // timestamp source, time.Now when nil
}

// DefaultOptions returns the standard configuration for the given embedding
// dimensionality: cosine distance, payload on disk, indexes on
// conversation_id and ts, duplicate-preserving identity.
func DefaultOptions(vectorSize int) Options {
	return Options{
		VectorSize:    vectorSize,
		Distance:      store.DistanceCosine,
		OnDiskPayload: true,
		Indexes:       store.DefaultIndexes(),
		Identity:      IdentityRandom,
		MaxK:          KMax,
	}
}

// Bank is the write and read path over one vector store collection. All
// methods are safe for concurrent use; the only shared state is the
// bootstrap gate.
type Bank struct {
	store    store.VectorStore
	embedder embed.Embedder
	opts     Options
	metrics  Metrics

	mu    sync.Mutex
	ready bool
}

// NewBank wires a vector store and an embedding provider into a memory bank.
func NewBank(s store.VectorStore, e embed.Embedder, opts Options) *Bank {
	if opts.Identity == "" {
		opts.Identity = IdentityRandom
	}
	if opts.Distance == "" {
		opts.Distance = store.DistanceCosine
	}
	if opts.Indexes == nil {
		opts.Indexes = store.DefaultIndexes()
	}
	if opts.MaxK <= 0 {
		opts.MaxK = KMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bank{store: s, embedder: e, opts: opts}
}

// EnsureCollection bootstraps the collection. It is idempotent and gates all
// writes and reads; callers may invoke it at startup or rely on the lazy
// gate inside the other methods.
func (b *Bank) EnsureCollection(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureLocked(ctx)
}

// ensureReady performs the bootstrap at most once per process. Racing first
// callers serialize on the mutex and see a single creation; a failed
// bootstrap is retried on the next call instead of being latched.
func (b *Bank) ensureReady(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureLocked(ctx)
}

func (b *Bank) ensureLocked(ctx context.Context) error {
	if b.ready {
		return nil
	}
	spec := store.CollectionSpec{
		Size:          b.opts.VectorSize,
		Distance:      b.opts.Distance,
		OnDiskPayload: b.opts.OnDiskPayload,
		Indexes:       b.opts.Indexes,
	}
	if err := b.store.EnsureCollection(ctx, spec); err != nil {
		return kinded(err, model.ErrSchema)
	}
	b.ready = true
	return nil
}

// UpsertOne embeds and stores a single memory, returning its assigned ID.
func (b *Bank) UpsertOne(ctx context.Context, item model.Memory) (string, error) {
	ids, err := b.UpsertBatch(ctx, []model.Memory{item})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// UpsertBatch embeds and stores a batch of memories atomically at batch
// granularity: every item is validated and embedded before the single store
// upsert, and any failure along the way leaves nothing written.
func (b *Bank) UpsertBatch(ctx context.Context, items []model.Memory) ([]string, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty batch", model.ErrValidation)
	}
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}

	now := b.opts.Now().Unix()
	prepared := make([]model.Memory, len(items))
	texts := make([]string, len(items))
	for i, item := range items {
		if item.Timestamp == 0 {
			item.Timestamp = now
		}
		prepared[i] = item
		texts[i] = item.Text
	}

	vectors, err := embed.EmbedAll(ctx, b.embedder, texts)
	if err != nil {
		b.metrics.IncEmbedFailures()
		return nil, kinded(err, model.ErrEmbedding)
	}

	ids := make([]string, len(prepared))
	for i := range prepared {
		if len(vectors[i]) != b.opts.VectorSize {
			return nil, fmt.Errorf("%w: item %d embedded to %d dimensions, collection expects %d",
				model.ErrDimensionMismatch, i, len(vectors[i]), b.opts.VectorSize)
		}
		prepared[i].Vector = vectors[i]
		if prepared[i].ID == "" {
			prepared[i].ID = b.assignID(prepared[i])
		}
		ids[i] = prepared[i].ID
	}

	if err := b.store.Upsert(ctx, prepared); err != nil {
		b.metrics.IncStoreFailures()
		return nil, kinded(err, model.ErrStorage)
	}
	b.metrics.IncStored(len(prepared))
	return ids, nil
}

// TopK retrieves up to k memories for one conversation, in the store's
// best-first order. Fewer than k stored memories is not an error.
func (b *Bank) TopK(ctx context.Context, queryVector []float32, conversationID string, k int) ([]model.Hit, error) {
	if k < 1 || k > b.opts.MaxK {
		return nil, fmt.Errorf("%w: k must be in [1, %d], got %d", model.ErrValidation, b.opts.MaxK, k)
	}
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is empty", model.ErrValidation)
	}
	if len(queryVector) != b.opts.VectorSize {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, collection expects %d",
			model.ErrValidation, len(queryVector), b.opts.VectorSize)
	}
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	hits, err := b.store.Search(ctx, queryVector, conversationID, k)
	if err != nil {
		b.metrics.IncStoreFailures()
		return nil, kinded(err, model.ErrStorage)
	}
	b.metrics.IncRetrieved(len(hits))
	return hits, nil
}

// Metrics returns the current counter values.
func (b *Bank) Metrics() MetricsSnapshot {
	return b.metrics.Snapshot()
}

func (b *Bank) assignID(m model.Memory) string {
	if b.opts.Identity == IdentityContent {
		key := fmt.Sprintf("%s|%d|%s|%s", m.ConversationID, m.Timestamp, m.Role, m.Text)
		return uuid.NewSHA1(contentIDNamespace, []byte(key)).String()
	}
	return uuid.NewString()
}

// kinded wraps err with the given taxonomy sentinel unless it already
// carries one, so layers closer to the failure keep their classification.
func kinded(err error, kind error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		model.ErrValidation, model.ErrEmbedding, model.ErrSchema,
		model.ErrStorage, model.ErrDimensionMismatch,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", kind, err)
}
