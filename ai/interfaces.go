package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity
// search. Implementations must be thread-safe for concurrent use.
//
// EmbedTexts is the batch entry point used by the pipeline: a batch fails or
// succeeds as a unit, and the returned slice maps vectors to input texts by
// position. No ordering is guaranteed across batches.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a
	// batch. The returned slice contains embeddings in the same order as the
	// input texts. Fails as a unit: either all texts are embedded or none.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
