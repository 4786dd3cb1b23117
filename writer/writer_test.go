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


package writer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/storage"
	badgerstore "github.com/poiesic/docpipe/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notification struct {
	documentID string
	written    int
	err        error
}

func newTestWriter(t *testing.T, cfg Config) (*BatchWriter, storage.ChunkRepository, storage.VectorStore, chan notification) {
	t.Helper()
	_, chunkRepo, vectorStore, backend, err := badgerstore.NewMemoryStores(4)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	notifications := make(chan notification, 16)
	w, err := NewBatchWriter(chunkRepo, vectorStore, cfg, func(documentID string, written int, err error) {
		notifications <- notification{documentID: documentID, written: written, err: err}
	})
	require.NoError(t, err)
	return w, chunkRepo, vectorStore, notifications
}

func writerItem(documentID string, seq int, withVector bool) Item {
	text := fmt.Sprintf("chunk body %s %d", documentID, seq)
	chunk := &core.Chunk{
		Id:           core.NewID(),
		DocumentId:   documentID,
		Seq:          seq,
		Text:         text,
		Fingerprint:  core.FingerprintText(core.NormalizeText(text)),
		Kind:         core.ChunkText,
		ModelVersion: "test-model",
	}
	item := Item{Chunk: chunk}
	if withVector {
		chunk.EmbeddingId = core.NewID()
		item.Vector = []float32{1, 2, 3, 4}
	}
	return item
}

func waitNotification(t *testing.T, ch chan notification) notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write notification")
		return notification{}
	}
}

func TestWriterNotifiesAfterSealAndFlush(t *testing.T) {
	w, chunkRepo, vectorStore, notifications := newTestWriter(t, Config{BatchSize: 50})
	ctx := context.Background()
	docID := core.NewID()

	items := []Item{
		writerItem(docID, 0, true),
		writerItem(docID, 1, true),
		writerItem(docID, 2, false),
	}
	w.Add(ctx, items...)
	w.Seal(docID)

	select {
	case n := <-notifications:
		t.Fatalf("notified before flush: %+v", n)
	default:
	}

	w.Flush(ctx)

	n := waitNotification(t, notifications)
	assert.Equal(t, docID, n.documentID)
	assert.Equal(t, 3, n.written)
	assert.NoError(t, n.err)

	saved, err := chunkRepo.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Len(t, saved, 3)

	count, err := vectorStore.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "superseded chunk writes no vector")
}

func TestWriterSizeThresholdFlushes(t *testing.T) {
	w, chunkRepo, _, notifications := newTestWriter(t, Config{BatchSize: 2})
	ctx := context.Background()
	docID := core.NewID()

	w.Add(ctx, writerItem(docID, 0, true), writerItem(docID, 1, true))

	saved, err := chunkRepo.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Len(t, saved, 2, "reaching the batch size flushes on the caller")

	w.Seal(docID)
	n := waitNotification(t, notifications)
	assert.Equal(t, 2, n.written)
	assert.NoError(t, n.err)
}

func TestWriterReplayLeavesStoreUnchanged(t *testing.T) {
	w, chunkRepo, vectorStore, notifications := newTestWriter(t, Config{BatchSize: 50})
	ctx := context.Background()
	docID := core.NewID()

	items := []Item{writerItem(docID, 0, true), writerItem(docID, 1, true)}
	w.Add(ctx, items...)
	w.Seal(docID)
	w.Flush(ctx)
	waitNotification(t, notifications)

	before, err := chunkRepo.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)

	// Replaying the same items after a crash-and-retry must be a no-op.
	w.Add(ctx, items...)
	w.Seal(docID)
	w.Flush(ctx)
	n := waitNotification(t, notifications)
	assert.NoError(t, n.err)

	after, err := chunkRepo.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Id, after[i].Id)
	}

	count, err := vectorStore.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWriterFailedBatchReportsPartialProgress(t *testing.T) {
	w, _, _, notifications := newTestWriter(t, Config{BatchSize: 2, MaxRetries: 1, BaseDelay: time.Millisecond})
	ctx := context.Background()
	docID := core.NewID()

	// First batch is well formed and flushes on the size threshold.
	w.Add(ctx, writerItem(docID, 0, true), writerItem(docID, 1, true))

	// Second batch carries a vector of the wrong dimension and fails whole.
	bad := writerItem(docID, 2, true)
	bad.Vector = []float32{1, 2, 3, 4, 5}
	w.Add(ctx, writerItem(docID, 3, true), bad)

	w.Seal(docID)

	n := waitNotification(t, notifications)
	assert.Equal(t, docID, n.documentID)
	assert.Equal(t, 2, n.written, "written reflects partial progress")
	assert.ErrorIs(t, n.err, core.ErrDimensionMismatch)
}

func TestWriterIntervalFlush(t *testing.T) {
	w, _, _, notifications := newTestWriter(t, Config{BatchSize: 50, FlushInterval: 20 * time.Millisecond})
	ctx := context.Background()
	docID := core.NewID()

	w.Start(ctx)
	defer w.Stop()

	w.Add(ctx, writerItem(docID, 0, true))
	w.Seal(docID)

	n := waitNotification(t, notifications)
	assert.Equal(t, 1, n.written)
	assert.NoError(t, n.err)
}
