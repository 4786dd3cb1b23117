package storage

import (
	"context"

	"github.com/poiesic/docpipe/core"
)

// DocumentRepository provides operations for the document metadata store.
// Implementations must be thread-safe and support concurrent access.
// UpdateStatus is called only by the pipeline scheduler; no other component
// mutates document state.
type DocumentRepository interface {
	// Save persists a new document record.
	// Returns ErrDuplicateKey if a document with the same ID already exists.
	Save(ctx context.Context, doc *core.Document) error

	// Get retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	Get(ctx context.Context, id string) (*core.Document, error)

	// UpdateStatus transitions a document to a new status and records the
	// latest processing stats. For failed transitions, stage and cause record
	// the originating stage and error for operator diagnosis.
	// Returns core.ErrInvalidTransition if the transition is not allowed;
	// terminal documents are immutable.
	UpdateStatus(ctx context.Context, id string, status core.DocumentStatus, stats core.ProcessingStats, stage core.Stage, cause string) (*core.Document, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// ChunkRepository provides operations for the chunk metadata store.
// Implementations must be thread-safe.
type ChunkRepository interface {
	// SaveBatch persists a batch of chunks. Writes are idempotent by chunk ID:
	// replaying a previously-successful batch must not change store content.
	// Also maintains the fingerprint index used for cross-run deduplication.
	SaveBatch(ctx context.Context, chunks ...*core.Chunk) error

	// GetChunk retrieves a single chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id string) (*core.Chunk, error)

	// GetChunksByDocument retrieves all chunks of a document ordered by
	// sequence index.
	GetChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error)

	// FindByFingerprint looks up the canonical chunk for a content
	// fingerprint, scoped to an embedding model version.
	// Returns ErrNotFound if no chunk with the fingerprint is persisted.
	FindByFingerprint(ctx context.Context, fingerprint, modelVersion string) (*core.Chunk, error)

	// MarkSuperseded records that a chunk was merged into a canonical chunk.
	// The superseded chunk is marked, never deleted, to preserve referential
	// integrity with any already-issued embedding.
	MarkSuperseded(ctx context.Context, id, canonicalID string) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// VectorStore provides the narrow write contract against the vector database.
// Implementations must be thread-safe.
type VectorStore interface {
	// UpsertBatch writes a batch of points. Upserts are idempotent by point
	// ID; replaying a batch leaves the store content unchanged.
	// Returns core.ErrDimensionMismatch if a point's vector length differs
	// from the collection dimension.
	UpsertBatch(ctx context.Context, points ...*core.VectorPoint) error

	// Get retrieves a point by ID.
	// Returns ErrNotFound if the point doesn't exist.
	Get(ctx context.Context, id string) (*core.VectorPoint, error)

	// Count returns the number of points in the collection.
	Count(ctx context.Context) (int, error)

	// Dimension returns the fixed vector dimension of the collection.
	Dimension() int

	// Close closes the storage backend and releases resources.
	Close() error
}
