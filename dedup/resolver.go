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


package dedup

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/storage"
)

// BatchResult partitions a document's chunks after deduplication.
//
// Unique chunks own their fingerprint and need an embedding. Duplicates and
// near-duplicates carry SupersededBy pointing at the canonical chunk; they
// inherit the canonical's embedding ID when one already exists and are never
// sent to the embedding provider.
type BatchResult struct {
	Unique         []*core.Chunk
	Duplicates     []*core.Chunk
	NearDuplicates []*core.Chunk
}

// Resolver deduplicates chunks against the in-memory index and the persisted
// fingerprint index. Exact matching is cross-document and survives restarts;
// near-duplicate matching applies within a single document's batch.
type Resolver struct {
	index  *Index
	chunks storage.ChunkRepository
	sim    *Similarity
	logger *slog.Logger
}

// NewResolver creates a Resolver. sim may be nil to disable near-duplicate
// detection.
func NewResolver(index *Index, chunks storage.ChunkRepository, sim *Similarity) *Resolver {
	if index == nil {
		index = NewIndex()
	}
	if sim == nil {
		sim = NewSimilarity(0)
	}
	return &Resolver{
		index:  index,
		chunks: chunks,
		sim:    sim,
		logger: slog.Default().With("component", "dedup-resolver"),
	}
}

// ResolveBatch deduplicates a document's chunks in sequence order.
//
// For each chunk the exact fingerprint is checked first, against the
// in-memory index and then the store. The first chunk to claim an unseen
// fingerprint becomes canonical; any concurrent claimant for the same
// fingerprint resolves as a duplicate of the winner. Chunks that survive
// exact matching are then compared against the batch's accepted chunks for
// near-duplicates when similarity is enabled.
func (r *Resolver) ResolveBatch(ctx context.Context, chunks []*core.Chunk) (*BatchResult, error) {
	result := &BatchResult{}

	type accepted struct {
		chunk    *core.Chunk
		shingles map[string]struct{}
	}
	var batch []accepted

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		canonicalID, inserted, err := r.claim(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if !inserted {
			r.markDuplicate(ctx, chunk, canonicalID)
			result.Duplicates = append(result.Duplicates, chunk)
			continue
		}

		if r.sim.Enabled() {
			shingles := Shingles(chunk.Text)
			matched := false
			for _, a := range batch {
				if r.sim.Match(shingles, a.shingles) {
					chunk.SupersededBy = a.chunk.Id
					chunk.EmbeddingId = a.chunk.EmbeddingId
					result.NearDuplicates = append(result.NearDuplicates, chunk)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			batch = append(batch, accepted{chunk: chunk, shingles: shingles})
		}

		result.Unique = append(result.Unique, chunk)
	}

	r.logger.Debug("batch resolved",
		"unique", len(result.Unique),
		"duplicates", len(result.Duplicates),
		"near_duplicates", len(result.NearDuplicates))
	return result, nil
}

// claim resolves the canonical owner of a chunk's fingerprint. Returns the
// canonical chunk ID and whether this chunk became the owner.
func (r *Resolver) claim(ctx context.Context, chunk *core.Chunk) (string, bool, error) {
	if id, ok := r.index.Get(chunk.Fingerprint, chunk.ModelVersion); ok {
		return id, false, nil
	}

	// Miss in memory: consult the persisted index before claiming, so
	// fingerprints from earlier runs are honored.
	existing, err := r.chunks.FindByFingerprint(ctx, chunk.Fingerprint, chunk.ModelVersion)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", false, err
	}
	if existing != nil {
		r.index.PutIfAbsent(chunk.Fingerprint, chunk.ModelVersion, existing.Id)
		return existing.Id, false, nil
	}

	id, inserted := r.index.PutIfAbsent(chunk.Fingerprint, chunk.ModelVersion, chunk.Id)
	return id, inserted, nil
}

// markDuplicate links an exact duplicate to its canonical chunk and inherits
// the canonical's embedding when one exists.
func (r *Resolver) markDuplicate(ctx context.Context, chunk *core.Chunk, canonicalID string) {
	chunk.SupersededBy = canonicalID

	canonical, err := r.chunks.GetChunk(ctx, canonicalID)
	if err == nil && canonical != nil {
		chunk.EmbeddingId = canonical.EmbeddingId
	}
}
