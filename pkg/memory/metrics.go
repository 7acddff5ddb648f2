package memory

import "sync/atomic"

// Metrics captures lightweight runtime counters for observability.
type Metrics struct {
	stored        atomic.Int64
	retrieved     atomic.Int64
	embedFailures atomic.Int64
	storeFailures atomic.Int64
}

func (m *Metrics) IncStored(n int)    { m.stored.Add(int64(n)) }
func (m *Metrics) IncRetrieved(n int) { m.retrieved.Add(int64(n)) }
func (m *Metrics) IncEmbedFailures()  { m.embedFailures.Add(1) }
func (m *Metrics) IncStoreFailures()  { m.storeFailures.Add(1) }

// MetricsSnapshot holds the current values for reporting/logging.
type MetricsSnapshot struct {
	Stored        int64 `json:"stored"`
	Retrieved     int64 `json:"retrieved"`
	EmbedFailures int64 `json:"embed_failures"`
	StoreFailures int64 `json:"store_failures"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Stored:        m.stored.Load(),
		Retrieved:     m.retrieved.Load(),
		EmbedFailures: m.embedFailures.Load(),
		StoreFailures: m.storeFailures.Load(),
	}
}
