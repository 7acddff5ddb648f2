package model

import "errors"

// Failure taxonomy shared by the embed, store, and bank layers. Callers match
// with errors.Is; the wrapped message carries the underlying cause. Nothing in
// this module retries automatically.
var (
	// ErrValidation marks malformed caller input. No network call was made.
	ErrValidation = errors.New("validation failed")

	// ErrEmbedding marks an embedding backend that is unreachable, slow, or
	// returned a malformed response.
	ErrEmbedding = errors.New("embedding failed")

	// ErrSchema marks a failed collection bootstrap.
	ErrSchema = errors.New("schema bootstrap failed")

	// ErrStorage marks a vector store that is unreachable or rejected a
	// write or search.
	ErrStorage = errors.New("vector store failed")

	// ErrDimensionMismatch marks an embedding whose length does not match
	// the configured collection dimensionality. Caught at the write boundary
	// instead of surfacing as an opaque store rejection.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
