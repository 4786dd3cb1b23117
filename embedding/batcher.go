// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docpipe/ai"
	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/retry"
)

// DefaultBatchSize is the number of chunks sent to the provider per request.
const DefaultBatchSize = 16

// Embedded pairs a chunk with its generated vector. The chunk's EmbeddingId
// is assigned before return.
type Embedded struct {
	Chunk  *core.Chunk
	Vector []float32
}

// FailedBatch records a batch that exhausted its retries. Only the chunks in
// the failed batch are affected; other batches of the same document proceed.
type FailedBatch struct {
	Chunks []*core.Chunk
	Err    error
}

// Result aggregates the per-batch outcomes of embedding one document.
type Result struct {
	Embedded []Embedded
	Failed   []FailedBatch
}

// Batcher embeds chunks in fixed-size batches, dispatching batches
// concurrently onto a shared IO worker pool. Each batch succeeds or fails as
// a unit and retries independently with exponential backoff.
type Batcher struct {
	embedder   ai.Embedder
	pool       *ants.Pool
	batchSize  int
	maxRetries int
	baseDelay  time.Duration
	dimension  int
	logger     *slog.Logger
}

// NewBatcher creates a Batcher. pool may be nil, in which case batches run
// sequentially on the calling goroutine.
func NewBatcher(embedder ai.Embedder, pool *ants.Pool, batchSize, maxRetries int, baseDelay time.Duration, dimension int) (*Batcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &Batcher{
		embedder:   embedder,
		pool:       pool,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		dimension:  dimension,
		logger:     slog.Default().With("component", "embedding-batcher"),
	}, nil
}

// EmbedChunks embeds all chunks and returns per-batch outcomes. A dimension
// mismatch is a configuration error and fails the whole call immediately;
// transient provider failures exhaust their retries and land in Failed.
func (b *Batcher) EmbedChunks(ctx context.Context, chunks []*core.Chunk) (*Result, error) {
	result := &Result{}
	if len(chunks) == 0 {
		return result, nil
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		fatal error
	)

	runBatch := func(batch []*core.Chunk) {
		embedded, err := b.embedBatch(ctx, batch)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if errors.Is(err, core.ErrDimensionMismatch) && fatal == nil {
				fatal = err
			}
			result.Failed = append(result.Failed, FailedBatch{Chunks: batch, Err: err})
			return
		}
		result.Embedded = append(result.Embedded, embedded...)
	}

	for start := 0; start < len(chunks); start += b.batchSize {
		end := start + b.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if b.pool == nil {
			runBatch(batch)
			continue
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			runBatch(batch)
		}
		if err := b.pool.Submit(task); err != nil {
			wg.Done()
			runBatch(batch)
		}
	}
	wg.Wait()

	if fatal != nil {
		return nil, fatal
	}

	b.logger.Debug("embedding complete",
		"chunks", len(chunks), "embedded", len(result.Embedded), "failed_batches", len(result.Failed))
	return result, nil
}

// embedBatch embeds one batch with retries and assigns embedding IDs.
func (b *Batcher) embedBatch(ctx context.Context, batch []*core.Chunk) ([]Embedded, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	var vectors [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var embedErr error
		vectors, embedErr = b.embedder.EmbedTexts(ctx, texts)
		return embedErr
	}, b.maxRetries, b.baseDelay)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts",
			core.ErrProviderUnavailable, len(vectors), len(batch))
	}

	embedded := make([]Embedded, len(batch))
	for i, chunk := range batch {
		if len(vectors[i]) != b.dimension {
			return nil, fmt.Errorf("%w: got %d, expected %d",
				core.ErrDimensionMismatch, len(vectors[i]), b.dimension)
		}
		chunk.EmbeddingId = core.NewID()
		embedded[i] = Embedded{Chunk: chunk, Vector: vectors[i]}
	}
	return embedded, nil
}
