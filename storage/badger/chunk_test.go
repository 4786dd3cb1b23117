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


package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunk(documentID string, seq int, text string) *core.Chunk {
	return &core.Chunk{
		Id:           core.NewID(),
		DocumentId:   documentID,
		Seq:          seq,
		Text:         text,
		Fingerprint:  core.FingerprintText(core.NormalizeText(text)),
		TokenCount:   len(text) / 4,
		Kind:         core.ChunkText,
		ModelVersion: "test-model",
	}
}

func TestChunkSaveBatchAndGet(t *testing.T) {
	_, chunkRepo, _, backend, err := NewMemoryStores(4)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	docID := core.NewID()

	chunks := []*core.Chunk{
		newTestChunk(docID, 0, "first chunk of text"),
		newTestChunk(docID, 1, "second chunk of text"),
		newTestChunk(docID, 2, "third chunk of text"),
	}
	require.NoError(t, chunkRepo.SaveBatch(ctx, chunks...))

	got, err := chunkRepo.GetChunk(ctx, chunks[1].Id)
	require.NoError(t, err)
	assert.Equal(t, "second chunk of text", got.Text)

	byDoc, err := chunkRepo.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, byDoc, 3)
	for i, chunk := range byDoc {
		assert.Equal(t, i, chunk.Seq, "chunks come back in sequence order")
	}
}

func TestChunkSaveBatchReplayIdempotent(t *testing.T) {
	_, chunkRepo, _, backend, err := NewMemoryStores(4)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	docID := core.NewID()

	chunks := []*core.Chunk{
		newTestChunk(docID, 0, "replayed chunk one"),
		newTestChunk(docID, 1, "replayed chunk two"),
	}
	require.NoError(t, chunkRepo.SaveBatch(ctx, chunks...))

	before, err := chunkRepo.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)

	// Replaying the identical batch must not change store content.
	require.NoError(t, chunkRepo.SaveBatch(ctx, chunks...))

	after, err := chunkRepo.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Id, after[i].Id)
		assert.Equal(t, before[i].Text, after[i].Text)
		assert.Equal(t, before[i].Fingerprint, after[i].Fingerprint)
	}
}

func TestFingerprintIndexFirstWriterWins(t *testing.T) {
	_, chunkRepo, _, backend, err := NewMemoryStores(4)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	text := "identical content in two documents"

	first := newTestChunk(core.NewID(), 0, text)
	require.NoError(t, chunkRepo.SaveBatch(ctx, first))

	second := newTestChunk(core.NewID(), 0, text)
	require.NoError(t, chunkRepo.SaveBatch(ctx, second))

	canonical, err := chunkRepo.FindByFingerprint(ctx, first.Fingerprint, "test-model")
	require.NoError(t, err)
	assert.Equal(t, first.Id, canonical.Id, "index keeps pointing at the first writer")
}

func TestFindByFingerprintScopedToModelVersion(t *testing.T) {
	_, chunkRepo, _, backend, err := NewMemoryStores(4)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	chunk := newTestChunk(core.NewID(), 0, "model scoped content")
	require.NoError(t, chunkRepo.SaveBatch(ctx, chunk))

	_, err = chunkRepo.FindByFingerprint(ctx, chunk.Fingerprint, "other-model")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkSuperseded(t *testing.T) {
	_, chunkRepo, _, backend, err := NewMemoryStores(4)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	docID := core.NewID()
	canonical := newTestChunk(docID, 0, "canonical text body")
	merged := newTestChunk(docID, 1, "merged near duplicate body")
	require.NoError(t, chunkRepo.SaveBatch(ctx, canonical, merged))

	require.NoError(t, chunkRepo.MarkSuperseded(ctx, merged.Id, canonical.Id))

	got, err := chunkRepo.GetChunk(ctx, merged.Id)
	require.NoError(t, err)
	assert.Equal(t, canonical.Id, got.SupersededBy)

	assert.ErrorIs(t, chunkRepo.MarkSuperseded(ctx, "missing", canonical.Id), storage.ErrNotFound)
}

func TestSupersededChunkNeverOwnsFingerprint(t *testing.T) {
	_, chunkRepo, _, backend, err := NewMemoryStores(4)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	chunk := newTestChunk(core.NewID(), 0, "superseded before save")
	chunk.SupersededBy = core.NewID()
	require.NoError(t, chunkRepo.SaveBatch(ctx, chunk))

	_, err = chunkRepo.FindByFingerprint(ctx, chunk.Fingerprint, "test-model")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkSequenceOrderingAcrossManyChunks(t *testing.T) {
	_, chunkRepo, _, backend, err := NewMemoryStores(4)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	docID := core.NewID()

	// Insert out of order; iteration must come back ordered by Seq.
	for _, seq := range []int{12, 3, 0, 7, 10, 1} {
		chunk := newTestChunk(docID, seq, fmt.Sprintf("chunk body number %d", seq))
		require.NoError(t, chunkRepo.SaveBatch(ctx, chunk))
	}

	got, err := chunkRepo.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, got, 6)
	prev := -1
	for _, chunk := range got {
		assert.Greater(t, chunk.Seq, prev)
		prev = chunk.Seq
	}
}
