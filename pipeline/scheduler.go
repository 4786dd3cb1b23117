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


package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docpipe/ai"
	"github.com/poiesic/docpipe/bus"
	"github.com/poiesic/docpipe/chunking"
	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/dedup"
	"github.com/poiesic/docpipe/embedding"
	"github.com/poiesic/docpipe/extract"
	"github.com/poiesic/docpipe/storage"
	"github.com/poiesic/docpipe/writer"
)

// task carries a document's in-flight state between stages. It lives on the
// scheduler loop; stage goroutines only touch it through the fields assigned
// to them before dispatch.
type task struct {
	doc      *core.Document
	job      *core.ProcessingJob
	segments []core.TextSegment
	chunks   []*core.Chunk
	resolved *dedup.BatchResult
	embedded *embedding.Result

	// embedErr records the first batch that exhausted its retries. The
	// document still writes its successful embeddings, then fails at the
	// embed stage with partial counts.
	embedErr error

	startedAt  time.Time
	stageStart time.Time
	requeued   bool
	timedOut   bool

	stageCancel context.CancelFunc
}

// completion is the stage-to-loop handoff message.
type completion struct {
	t   *task
	err error
}

type writeDone struct {
	documentID string
	written    int
	err        error
}

// Scheduler drives documents through the processing state machine. It is the
// sole mutator of document status: stage goroutines report over the internal
// completion channel and a single loop applies every transition.
type Scheduler struct {
	cfg      *Config
	docs     storage.DocumentRepository
	registry *extract.Registry
	chunker  *chunking.Chunker
	resolver *dedup.Resolver
	batcher  *embedding.Batcher
	writer   *writer.BatchWriter
	events   bus.Publisher

	cpuPool *ants.Pool
	ioPool  *ants.Pool

	admitCh      chan *task
	completionCh chan completion
	writeDoneCh  chan writeDone
	retryCh      chan *task

	mu          sync.Mutex
	window      int
	inflight    int
	arrivals    int
	completions int
	cancelled   map[string]struct{}
	active      map[string]*task

	runCtx   context.Context
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	logger *slog.Logger
}

// NewScheduler wires the pipeline stages together. events may be nil to
// disable lifecycle notifications.
func NewScheduler(cfg *Config, docs storage.DocumentRepository, chunks storage.ChunkRepository, vectors storage.VectorStore, embedder ai.Embedder, events bus.Publisher, counter chunking.TokenCounter) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if docs == nil || chunks == nil || vectors == nil {
		return nil, fmt.Errorf("scheduler: document, chunk and vector stores required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("scheduler: embedder required")
	}
	if events == nil {
		events = noopPublisher{}
	}

	// The scheduler loop submits to the CPU pool and is also the sole
	// consumer of stage completions. A blocking submit would let the loop
	// wedge behind its own saturated workers, so overload falls through to
	// a plain goroutine in submitCPU instead.
	cpuPool, err := ants.NewPool(cfg.CPUWorkers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	ioPool, err := ants.NewPool(cfg.IOWorkers)
	if err != nil {
		cpuPool.Release()
		return nil, err
	}

	chunker, err := chunking.NewChunker(cfg.ChunkParams, counter, cfg.ModelVersion)
	if err != nil {
		cpuPool.Release()
		ioPool.Release()
		return nil, err
	}

	batcher, err := embedding.NewBatcher(embedder, ioPool, cfg.EmbedBatchSize, cfg.MaxRetries, cfg.RetryBaseDelay, cfg.Dimension)
	if err != nil {
		cpuPool.Release()
		ioPool.Release()
		return nil, err
	}

	s := &Scheduler{
		cfg:          cfg,
		docs:         docs,
		registry:     extract.NewRegistry(),
		chunker:      chunker,
		resolver:     dedup.NewResolver(dedup.NewIndex(), chunks, dedup.NewSimilarity(cfg.SimilarityThreshold)),
		batcher:      batcher,
		events:       events,
		cpuPool:      cpuPool,
		ioPool:       ioPool,
		admitCh:      make(chan *task, cfg.QueueCapacity),
		// At most one outstanding stage report per admitted document, so a
		// queue-capacity buffer guarantees stage goroutines never block on
		// the loop.
		completionCh: make(chan completion, cfg.QueueCapacity),
		writeDoneCh:  make(chan writeDone, cfg.QueueCapacity),
		retryCh:      make(chan *task, cfg.QueueCapacity),
		window:       cfg.QueueCapacity,
		cancelled:    make(map[string]struct{}),
		active:       make(map[string]*task),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		logger:       slog.Default().With("component", "scheduler"),
	}

	s.writer, err = writer.NewBatchWriter(chunks, vectors, writer.Config{
		BatchSize:     cfg.WriteBatchSize,
		FlushInterval: cfg.WriteFlushInterval,
		MaxRetries:    cfg.MaxRetries,
		BaseDelay:     cfg.RetryBaseDelay,
	}, func(documentID string, written int, err error) {
		s.writeDoneCh <- writeDone{documentID: documentID, written: written, err: err}
	})
	if err != nil {
		cpuPool.Release()
		ioPool.Release()
		return nil, err
	}

	return s, nil
}

// Start launches the scheduler loop. ctx cancels all in-flight work.
func (s *Scheduler) Start(ctx context.Context) {
	s.runCtx = ctx
	s.writer.Start(ctx)
	go s.run(ctx)
}

// Stop shuts the scheduler down. In-flight stage goroutines are cancelled
// through the Start context by the caller; Stop only stops the loop and
// flushes the writer.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.writer.Stop()
	s.cpuPool.Release()
	s.ioPool.Release()
}

// Ingest admits a document into the pipeline. The document record is created
// in status ingested before admission; if the admission window or queue is
// full, ErrAdmissionRejected is returned synchronously and the record stays
// ingested for redelivery.
func (s *Scheduler) Ingest(ctx context.Context, filePath string, sourceType core.SourceType, metadata map[string]string) (string, error) {
	now := time.Now().UTC()
	doc := &core.Document{
		Id:         core.NewID(),
		SourceType: sourceType,
		Status:     core.StatusIngested,
		FilePath:   filePath,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := core.ValidateDocument(doc); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.inflight >= s.window {
		s.mu.Unlock()
		return "", core.ErrAdmissionRejected
	}
	s.inflight++
	s.arrivals++
	s.mu.Unlock()

	if err := s.docs.Save(ctx, doc); err != nil {
		s.release()
		return "", err
	}

	t := &task{
		doc: doc,
		job: &core.ProcessingJob{
			DocumentId: doc.Id,
			MaxRetries: s.cfg.MaxRetries,
			EnqueuedAt: now,
		},
		startedAt: now,
	}

	select {
	case s.admitCh <- t:
	default:
		s.release()
		return "", core.ErrAdmissionRejected
	}

	s.events.Publish(bus.DocumentIngested, bus.IngestedPayload{
		DocumentId: doc.Id,
		SourceType: doc.SourceType,
		FilePath:   doc.FilePath,
		Metadata:   doc.Metadata,
	})
	return doc.Id, nil
}

// Cancel requests cancellation of a document. The current stage finishes its
// in-flight work; the document fails at the next stage boundary.
func (s *Scheduler) Cancel(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[documentID] = struct{}{}
}

// Status returns the current document record.
func (s *Scheduler) Status(ctx context.Context, documentID string) (*core.Document, error) {
	return s.docs.Get(ctx, documentID)
}

// Inflight returns the number of documents between admission and a terminal
// state.
func (s *Scheduler) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.inflight--
	s.completions++
	s.mu.Unlock()
}

// run is the single scheduler loop. All status transitions happen here.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	timeoutTick := s.cfg.StageTimeout / 4
	if timeoutTick < 100*time.Millisecond {
		timeoutTick = 100 * time.Millisecond
	}
	timeoutTicker := time.NewTicker(timeoutTick)
	defer timeoutTicker.Stop()

	aimdTicker := time.NewTicker(s.cfg.AIMDInterval)
	defer aimdTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case t := <-s.admitCh:
			s.mu.Lock()
			s.active[t.doc.Id] = t
			s.mu.Unlock()
			s.startStage(ctx, t, core.StageExtract)
		case t := <-s.retryCh:
			s.startStage(ctx, t, t.job.Stage)
		case c := <-s.completionCh:
			s.handleCompletion(ctx, c)
		case wd := <-s.writeDoneCh:
			s.handleWriteDone(ctx, wd)
		case <-timeoutTicker.C:
			s.checkTimeouts()
		case <-aimdTicker.C:
			s.adjustWindow()
		}
	}
}

// startStage transitions the document into the stage's status and dispatches
// the stage work onto the appropriate pool.
func (s *Scheduler) startStage(ctx context.Context, t *task, stage core.Stage) {
	if s.isCancelled(t.doc.Id) {
		s.fail(ctx, t, stage, core.ErrDocumentCancelled)
		return
	}

	t.job.Stage = stage
	t.stageStart = time.Now()
	t.timedOut = false

	if _, err := s.docs.UpdateStatus(ctx, t.doc.Id, stage.Status(), t.doc.Stats, "", ""); err != nil {
		s.fail(ctx, t, stage, err)
		return
	}

	stageCtx, cancel := context.WithCancel(ctx)
	t.stageCancel = cancel

	switch stage {
	case core.StageExtract:
		s.submitCPU(t, func() error { return s.runExtract(stageCtx, t) })
	case core.StageChunk:
		s.submitCPU(t, func() error { return s.runChunk(stageCtx, t) })
	case core.StageDedup:
		s.submitCPU(t, func() error { return s.runDedup(stageCtx, t) })
	case core.StageEmbed:
		// The batcher fans batches out over the IO pool itself; running the
		// coordinator on the pool as well could deadlock it.
		go func() {
			s.completionCh <- completion{t: t, err: s.runEmbed(stageCtx, t)}
		}()
	case core.StageWrite:
		go s.runWrite(stageCtx, t)
	}
}

func (s *Scheduler) submitCPU(t *task, fn func() error) {
	run := func() {
		s.completionCh <- completion{t: t, err: fn()}
	}
	if err := s.cpuPool.Submit(run); err != nil {
		go run()
	}
}

func (s *Scheduler) runExtract(ctx context.Context, t *task) error {
	t.segments = t.segments[:0]
	count, err := s.registry.ExtractDocument(ctx, t.doc, func(seg core.TextSegment) error {
		t.segments = append(t.segments, seg)
		return nil
	})
	if err != nil {
		return err
	}
	t.doc.Stats.SegmentCount = count
	return nil
}

func (s *Scheduler) runChunk(ctx context.Context, t *task) error {
	chunks, err := s.chunker.ChunkDocument(ctx, t.doc, t.segments)
	if err != nil {
		return err
	}
	t.chunks = chunks
	t.segments = nil
	t.doc.Stats.ChunkCount = len(chunks)
	return nil
}

func (s *Scheduler) runDedup(ctx context.Context, t *task) error {
	resolved, err := s.resolver.ResolveBatch(ctx, t.chunks)
	if err != nil {
		return err
	}
	t.resolved = resolved
	return nil
}

func (s *Scheduler) runEmbed(ctx context.Context, t *task) error {
	result, err := s.batcher.EmbedChunks(ctx, t.resolved.Unique)
	if err != nil {
		return err
	}
	t.embedded = result
	t.doc.Stats.EmbeddingCount = len(result.Embedded)
	if len(result.Failed) > 0 {
		t.embedErr = result.Failed[0].Err
	}
	return nil
}

// runWrite hands the document's persistable chunks to the batch writer. The
// result arrives asynchronously through the writer's notify callback.
func (s *Scheduler) runWrite(ctx context.Context, t *task) {
	s.linkDuplicateEmbeddings(t)

	var items []writer.Item
	for _, e := range t.embedded.Embedded {
		items = append(items, writer.Item{Chunk: e.Chunk, Vector: e.Vector})
	}
	for _, chunk := range t.resolved.Duplicates {
		items = append(items, writer.Item{Chunk: chunk})
	}
	for _, chunk := range t.resolved.NearDuplicates {
		items = append(items, writer.Item{Chunk: chunk})
	}

	s.writer.Add(ctx, items...)
	s.writer.Seal(t.doc.Id)
}

// linkDuplicateEmbeddings fills the embedding ID of duplicates whose
// canonical chunk lives in the same batch. Those canonicals only receive an
// embedding ID at the embed stage, after dedup has already linked the
// duplicate; duplicates of persisted canonicals inherit at dedup time and
// keep that ID. Near-duplicates resolve first because an exact duplicate may
// point at one of them.
func (s *Scheduler) linkDuplicateEmbeddings(t *task) {
	embeddingByChunk := make(map[string]string, len(t.embedded.Embedded))
	for _, e := range t.embedded.Embedded {
		embeddingByChunk[e.Chunk.Id] = e.Chunk.EmbeddingId
	}
	for _, chunk := range t.resolved.NearDuplicates {
		if chunk.EmbeddingId == "" {
			chunk.EmbeddingId = embeddingByChunk[chunk.SupersededBy]
		}
		embeddingByChunk[chunk.Id] = chunk.EmbeddingId
	}
	for _, chunk := range t.resolved.Duplicates {
		if chunk.EmbeddingId == "" {
			chunk.EmbeddingId = embeddingByChunk[chunk.SupersededBy]
		}
	}
}

func (s *Scheduler) handleCompletion(ctx context.Context, c completion) {
	t := c.t
	if t.stageCancel != nil {
		t.stageCancel()
		t.stageCancel = nil
	}

	if c.err != nil {
		s.handleStageError(ctx, t, c.err)
		return
	}

	switch t.job.Stage {
	case core.StageExtract:
		s.events.Publish(bus.TextExtracted, bus.ExtractedPayload{
			DocumentId:   t.doc.Id,
			SegmentCount: t.doc.Stats.SegmentCount,
		})
		s.startStage(ctx, t, core.StageChunk)
	case core.StageChunk:
		s.startStage(ctx, t, core.StageDedup)
	case core.StageDedup:
		chunkIds := make([]string, len(t.chunks))
		for i, chunk := range t.chunks {
			chunkIds[i] = chunk.Id
		}
		s.events.Publish(bus.ChunksCreated, bus.ChunksPayload{
			DocumentId: t.doc.Id,
			ChunkIds:   chunkIds,
		})
		s.startStage(ctx, t, core.StageEmbed)
	case core.StageEmbed:
		s.events.Publish(bus.EmbeddingsGenerated, bus.EmbeddingsPayload{
			DocumentId:     t.doc.Id,
			EmbeddingCount: t.doc.Stats.EmbeddingCount,
		})
		s.startStage(ctx, t, core.StageWrite)
	}
}

// handleStageError applies the per-error-class policy: timeouts requeue once,
// retryable errors retry with backoff until the job's budget runs out, and
// everything else fails the document immediately.
func (s *Scheduler) handleStageError(ctx context.Context, t *task, err error) {
	if t.timedOut && errors.Is(err, context.Canceled) {
		err = core.ErrStageTimeout
	}
	if s.isCancelled(t.doc.Id) {
		s.fail(ctx, t, t.job.Stage, core.ErrDocumentCancelled)
		return
	}

	if errors.Is(err, core.ErrStageTimeout) && !t.requeued {
		t.requeued = true
		s.logger.Warn("stage timed out, requeueing once",
			"document_id", t.doc.Id, "stage", t.job.Stage)
		s.startStage(ctx, t, t.job.Stage)
		return
	}

	if core.IsRetryable(err) && t.job.CanRetry() {
		t.job.Attempts++
		delay := s.cfg.RetryBaseDelay
		for i := 1; i < t.job.Attempts; i++ {
			delay *= 2
		}
		s.logger.Debug("stage failed, scheduling retry",
			"document_id", t.doc.Id, "stage", t.job.Stage,
			"attempt", t.job.Attempts, "delay", delay, "err", err)
		time.AfterFunc(delay, func() {
			select {
			case s.retryCh <- t:
			case <-s.stopCh:
			}
		})
		return
	}

	s.fail(ctx, t, t.job.Stage, err)
}

func (s *Scheduler) handleWriteDone(ctx context.Context, wd writeDone) {
	s.mu.Lock()
	t := s.active[wd.documentID]
	s.mu.Unlock()
	if t == nil {
		return
	}
	if t.stageCancel != nil {
		t.stageCancel()
		t.stageCancel = nil
	}

	t.doc.Stats.WrittenCount = wd.written
	t.doc.Stats.Elapsed = time.Since(t.startedAt)

	if wd.err != nil {
		s.handleStageError(ctx, t, wd.err)
		return
	}
	if t.embedErr != nil {
		s.fail(ctx, t, core.StageEmbed, t.embedErr)
		return
	}

	if _, err := s.docs.UpdateStatus(ctx, t.doc.Id, core.StatusCompleted, t.doc.Stats, "", ""); err != nil {
		s.logger.Error("failed to record completion", "document_id", t.doc.Id, "err", err)
	}
	s.events.Publish(bus.ProcessingCompleted, bus.CompletedPayload{
		DocumentId: t.doc.Id,
		Stats:      t.doc.Stats,
	})
	s.logger.Info("document completed",
		"document_id", t.doc.Id,
		"chunks", t.doc.Stats.ChunkCount,
		"embeddings", t.doc.Stats.EmbeddingCount,
		"written", t.doc.Stats.WrittenCount,
		"elapsed", t.doc.Stats.Elapsed)
	s.finish(t)
}

// fail records a terminal failure with the originating stage and cause.
func (s *Scheduler) fail(ctx context.Context, t *task, stage core.Stage, cause error) {
	if t.doc.Stats.Elapsed == 0 {
		t.doc.Stats.Elapsed = time.Since(t.startedAt)
	}

	if _, err := s.docs.UpdateStatus(ctx, t.doc.Id, core.StatusFailed, t.doc.Stats, stage, cause.Error()); err != nil {
		s.logger.Error("failed to record failure",
			"document_id", t.doc.Id, "stage", stage, "err", err)
	}
	s.events.Publish(bus.ProcessingFailed, bus.FailedPayload{
		DocumentId: t.doc.Id,
		Stage:      stage,
		Error:      cause.Error(),
	})
	s.logger.Warn("document failed",
		"document_id", t.doc.Id, "stage", stage, "cause", cause)
	s.finish(t)
}

func (s *Scheduler) finish(t *task) {
	s.mu.Lock()
	delete(s.active, t.doc.Id)
	delete(s.cancelled, t.doc.Id)
	s.inflight--
	s.completions++
	s.mu.Unlock()
}

func (s *Scheduler) isCancelled(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelled[documentID]
	return ok
}

// checkTimeouts cancels stages that exceeded the configured timeout. The
// cancelled stage reports through the completion channel, where the
// requeue-once policy applies.
func (s *Scheduler) checkTimeouts() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.active {
		if t.stageCancel == nil || t.timedOut {
			continue
		}
		if now.Sub(t.stageStart) > s.cfg.StageTimeout {
			t.timedOut = true
			t.stageCancel()
		}
	}
}

// adjustWindow applies AIMD feedback to the admission window: additive
// decrease when completions fall below the configured floor of arrivals,
// additive increase toward queue capacity otherwise.
func (s *Scheduler) adjustWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	arrivals, completions := s.arrivals, s.completions
	s.arrivals, s.completions = 0, 0

	if arrivals > 0 && float64(completions) < s.cfg.AIMDCompletionFloor*float64(arrivals) {
		s.window -= s.cfg.AIMDDecrease
		if s.window < s.cfg.AIMDMinWindow {
			s.window = s.cfg.AIMDMinWindow
		}
		s.logger.Debug("admission window decreased",
			"window", s.window, "arrivals", arrivals, "completions", completions)
		return
	}

	if s.window < s.cfg.QueueCapacity {
		s.window += s.cfg.AIMDIncrease
		if s.window > s.cfg.QueueCapacity {
			s.window = s.cfg.QueueCapacity
		}
	}
}

// noopPublisher drops events when no bus is wired.
type noopPublisher struct{}

func (noopPublisher) Publish(bus.EventType, any) {}
