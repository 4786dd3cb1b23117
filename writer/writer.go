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
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/retry"
	"github.com/poiesic/docpipe/storage"
)

// DefaultBatchSize is the number of items accumulated before a flush.
const DefaultBatchSize = 100

// DefaultFlushInterval bounds how long a partial batch may sit unflushed.
const DefaultFlushInterval = 2 * time.Second

// Item is one unit of persistence: a chunk, and its vector when the chunk
// owns an embedding. Superseded chunks carry a nil vector and only the chunk
// record is written.
type Item struct {
	Chunk  *core.Chunk
	Vector []float32
}

// NotifyFunc reports a document's write outcome once all of its items have
// been flushed. written counts the chunks persisted for the document, which
// on failure reflects partial progress.
type NotifyFunc func(documentID string, written int, err error)

type docProgress struct {
	pending int
	written int
	sealed  bool
	err     error
}

// BatchWriter accumulates items across documents and flushes them in batches,
// on a size threshold or a timer, whichever comes first. Writes are
// idempotent by chunk and point ID, so a batch is retried whole. A document
// is reported done via the notify callback when it is sealed and none of its
// items remain pending.
type BatchWriter struct {
	chunks  storage.ChunkRepository
	vectors storage.VectorStore
	notify  NotifyFunc

	batchSize  int
	interval   time.Duration
	maxRetries int
	baseDelay  time.Duration

	mu      sync.Mutex
	pending []Item
	docs    map[string]*docProgress

	flushMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	logger *slog.Logger
}

// Config holds BatchWriter tuning knobs. Zero values select defaults.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
}

// NewBatchWriter creates a BatchWriter. Start must be called before items are
// added.
func NewBatchWriter(chunks storage.ChunkRepository, vectors storage.VectorStore, cfg Config, notify NotifyFunc) (*BatchWriter, error) {
	if chunks == nil || vectors == nil {
		return nil, fmt.Errorf("chunk repository and vector store required")
	}
	if notify == nil {
		notify = func(string, int, error) {}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}

	return &BatchWriter{
		chunks:     chunks,
		vectors:    vectors,
		notify:     notify,
		batchSize:  cfg.BatchSize,
		interval:   cfg.FlushInterval,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		docs:       make(map[string]*docProgress),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     slog.Default().With("component", "batch-writer"),
	}, nil
}

// Start launches the interval flusher.
func (w *BatchWriter) Start(ctx context.Context) {
	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopCh:
				w.Flush(ctx)
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Flush(ctx)
			}
		}
	}()
}

// Stop flushes remaining items and stops the interval flusher.
func (w *BatchWriter) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// Add queues items for persistence. A size-threshold flush runs on the
// calling goroutine.
func (w *BatchWriter) Add(ctx context.Context, items ...Item) {
	w.mu.Lock()
	for _, item := range items {
		w.pending = append(w.pending, item)
		w.progressLocked(item.Chunk.DocumentId).pending++
	}
	full := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if full {
		w.Flush(ctx)
	}
}

// Seal declares that no further items will be added for the document. The
// notify callback fires once all of the document's items have flushed, or
// immediately if none are pending.
func (w *BatchWriter) Seal(documentID string) {
	w.mu.Lock()
	w.progressLocked(documentID).sealed = true
	completed := w.collectCompletedLocked()
	w.mu.Unlock()

	w.report(completed)
}

// Flush writes all pending items in batches. Safe to call concurrently;
// flushes are serialized.
func (w *BatchWriter) Flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	items := w.pending
	w.pending = nil
	w.mu.Unlock()

	for start := 0; start < len(items); start += w.batchSize {
		end := start + w.batchSize
		if end > len(items) {
			end = len(items)
		}
		w.flushBatch(ctx, items[start:end])
	}
}

// flushBatch persists one batch with whole-batch retry and updates per-doc
// progress.
func (w *BatchWriter) flushBatch(ctx context.Context, batch []Item) {
	chunks := make([]*core.Chunk, len(batch))
	var points []*core.VectorPoint
	for i, item := range batch {
		chunks[i] = item.Chunk
		if item.Vector != nil {
			points = append(points, &core.VectorPoint{
				Id:     item.Chunk.EmbeddingId,
				Vector: item.Vector,
				Payload: core.VectorPayload{
					DocumentId: item.Chunk.DocumentId,
					ChunkId:    item.Chunk.Id,
				},
			})
		}
	}

	err := retry.WithBackoff(ctx, func() error {
		if err := w.chunks.SaveBatch(ctx, chunks...); err != nil {
			return err
		}
		return w.vectors.UpsertBatch(ctx, points...)
	}, w.maxRetries, w.baseDelay)

	w.mu.Lock()
	for _, item := range batch {
		p := w.progressLocked(item.Chunk.DocumentId)
		p.pending--
		if err != nil {
			if p.err == nil {
				p.err = err
			}
		} else {
			p.written++
		}
	}
	completed := w.collectCompletedLocked()
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("batch flush failed", "size", len(batch), "err", err)
	}
	w.report(completed)
}

type completedDoc struct {
	id      string
	written int
	err     error
}

func (w *BatchWriter) progressLocked(documentID string) *docProgress {
	p, ok := w.docs[documentID]
	if !ok {
		p = &docProgress{}
		w.docs[documentID] = p
	}
	return p
}

func (w *BatchWriter) collectCompletedLocked() []completedDoc {
	var completed []completedDoc
	for id, p := range w.docs {
		if p.sealed && p.pending == 0 {
			completed = append(completed, completedDoc{id: id, written: p.written, err: p.err})
			delete(w.docs, id)
		}
	}
	return completed
}

func (w *BatchWriter) report(completed []completedDoc) {
	for _, c := range completed {
		w.notify(c.id, c.written, c.err)
	}
}
