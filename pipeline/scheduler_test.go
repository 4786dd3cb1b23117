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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/docpipe/ai/mock"
	"github.com/poiesic/docpipe/bus"
	"github.com/poiesic/docpipe/chunking"
	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/storage"
	badgerstore "github.com/poiesic/docpipe/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.CPUWorkers = 2
	cfg.IOWorkers = 2
	cfg.QueueCapacity = 16
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.StageTimeout = 5 * time.Second
	cfg.EmbedBatchSize = 2
	cfg.WriteBatchSize = 8
	cfg.WriteFlushInterval = 20 * time.Millisecond
	cfg.ChunkParams = chunking.Params{TargetTokens: 40, MaxTokens: 80, MinTokens: 10, OverlapTokens: 0}
	cfg.ModelVersion = "test-model"
	cfg.Dimension = 4
	cfg.SimilarityThreshold = 0
	cfg.AIMDInterval = time.Hour
	return cfg
}

type testPipeline struct {
	scheduler *Scheduler
	chunks    storage.ChunkRepository
	vectors   storage.VectorStore
	embedder  *mock.MockEmbedder
	broker    *bus.Broker
	events    <-chan bus.Event
	cancel    context.CancelFunc
}

func newTestPipeline(t *testing.T, cfg *Config) *testPipeline {
	t.Helper()
	docRepo, chunkRepo, vectorStore, backend, err := badgerstore.NewMemoryStores(cfg.Dimension)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	embedder := mock.NewMockEmbedder(cfg.Dimension)
	broker := bus.NewBroker()
	t.Cleanup(broker.Shutdown)

	scheduler, err := NewScheduler(cfg, docRepo, chunkRepo, vectorStore, embedder, broker, chunking.HeuristicCounter{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events := broker.Subscribe(ctx)
	scheduler.Start(ctx)
	t.Cleanup(func() {
		scheduler.Stop()
		cancel()
	})

	return &testPipeline{
		scheduler: scheduler,
		chunks:    chunkRepo,
		vectors:   vectorStore,
		embedder:  embedder,
		broker:    broker,
		events:    events,
		cancel:    cancel,
	}
}

// waitTerminal consumes events until the document reaches a terminal state.
func waitTerminal(t *testing.T, events <-chan bus.Event, documentID string) bus.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case event := <-events:
			switch p := event.Payload.(type) {
			case bus.CompletedPayload:
				if p.DocumentId == documentID {
					return event
				}
			case bus.FailedPayload:
				if p.DocumentId == documentID {
					return event
				}
			}
		case <-deadline:
			t.Fatalf("document %s never reached a terminal state", documentID)
		}
	}
}

func writeTestFile(t *testing.T, paragraphs ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(paragraphs, "\n\n")), 0o644))
	return path
}

func testParagraph(name string) string {
	return fmt.Sprintf("Paragraph %s carries enough filler words to stand alone as a chunk in this scheduler test run.", name)
}

func TestPipelineProcessesDocument(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ctx := context.Background()

	path := writeTestFile(t, testParagraph("one"), testParagraph("two"), testParagraph("three"))
	docID, err := p.scheduler.Ingest(ctx, path, core.SourceText, map[string]string{"origin": "test"})
	require.NoError(t, err)

	event := waitTerminal(t, p.events, docID)
	require.Equal(t, bus.ProcessingCompleted, event.Type)

	doc, err := p.scheduler.Status(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, doc.Status)
	assert.Equal(t, 3, doc.Stats.SegmentCount)
	assert.Equal(t, 3, doc.Stats.ChunkCount)
	assert.Equal(t, 3, doc.Stats.EmbeddingCount)
	assert.Equal(t, 3, doc.Stats.WrittenCount)
	assert.Greater(t, doc.Stats.Elapsed, time.Duration(0))

	chunks, err := p.chunks.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Seq)
		assert.NotEmpty(t, chunk.EmbeddingId)
		assert.Empty(t, chunk.SupersededBy)
		if i > 0 {
			assert.Equal(t, chunks[i-1].Id, chunk.PrevId)
			assert.Equal(t, chunk.Id, chunks[i-1].NextId)
		}
	}

	count, err := p.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Equal(t, 0, p.scheduler.Inflight())
}

func TestPipelineReingestIsAllDuplicates(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ctx := context.Background()

	path := writeTestFile(t, testParagraph("one"), testParagraph("two"))
	firstID, err := p.scheduler.Ingest(ctx, path, core.SourceText, nil)
	require.NoError(t, err)
	require.Equal(t, bus.ProcessingCompleted, waitTerminal(t, p.events, firstID).Type)

	embeddedBefore := p.embedder.TextsEmbedded()

	secondID, err := p.scheduler.Ingest(ctx, path, core.SourceText, nil)
	require.NoError(t, err)
	require.Equal(t, bus.ProcessingCompleted, waitTerminal(t, p.events, secondID).Type)

	assert.Equal(t, embeddedBefore, p.embedder.TextsEmbedded(),
		"duplicate content never reaches the provider")

	doc, err := p.scheduler.Status(ctx, secondID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, doc.Status)
	assert.Equal(t, 0, doc.Stats.EmbeddingCount)
	assert.Equal(t, 2, doc.Stats.WrittenCount)

	chunks, err := p.chunks.GetChunksByDocument(ctx, secondID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	firstChunks, err := p.chunks.GetChunksByDocument(ctx, firstID)
	require.NoError(t, err)
	canonical := make(map[string]string)
	for _, chunk := range firstChunks {
		canonical[chunk.Fingerprint] = chunk.Id
	}
	for _, chunk := range chunks {
		assert.Equal(t, canonical[chunk.Fingerprint], chunk.SupersededBy,
			"duplicate points at the first document's chunk")
		assert.NotEmpty(t, chunk.EmbeddingId, "duplicate inherits the canonical embedding")
	}
}

func TestPipelineConcurrentDocumentsSmallPool(t *testing.T) {
	cfg := testConfig()
	cfg.CPUWorkers = 1
	cfg.IOWorkers = 1
	cfg.QueueCapacity = 8
	p := newTestPipeline(t, cfg)
	ctx := context.Background()

	const docs = 6
	remaining := make(map[string]struct{}, docs)
	for i := 0; i < docs; i++ {
		path := writeTestFile(t,
			testParagraph(fmt.Sprintf("doc%d-first", i)),
			testParagraph(fmt.Sprintf("doc%d-second", i)))
		docID, err := p.scheduler.Ingest(ctx, path, core.SourceText, nil)
		require.NoError(t, err)
		remaining[docID] = struct{}{}
	}

	// More documents than CPU workers: all of them must still drain to a
	// terminal state.
	deadline := time.After(30 * time.Second)
	for len(remaining) > 0 {
		select {
		case event := <-p.events:
			switch pl := event.Payload.(type) {
			case bus.CompletedPayload:
				delete(remaining, pl.DocumentId)
			case bus.FailedPayload:
				t.Fatalf("document %s failed at %s: %s", pl.DocumentId, pl.Stage, pl.Error)
			}
		case <-deadline:
			t.Fatalf("%d documents still in flight with a single CPU worker", len(remaining))
		}
	}

	assert.Eventually(t, func() bool { return p.scheduler.Inflight() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestPipelineSameBatchDuplicateInheritsEmbedding(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ctx := context.Background()

	// The third paragraph repeats the first, so its canonical chunk is in
	// the same batch and has no embedding yet at dedup time.
	path := writeTestFile(t, testParagraph("one"), testParagraph("two"), testParagraph("one"))
	docID, err := p.scheduler.Ingest(ctx, path, core.SourceText, nil)
	require.NoError(t, err)
	require.Equal(t, bus.ProcessingCompleted, waitTerminal(t, p.events, docID).Type)

	doc, err := p.scheduler.Status(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Stats.ChunkCount)
	assert.Equal(t, 2, doc.Stats.EmbeddingCount)
	assert.Equal(t, 3, doc.Stats.WrittenCount)

	chunks, err := p.chunks.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	canonical, duplicate := chunks[0], chunks[2]
	assert.Empty(t, canonical.SupersededBy)
	require.NotEmpty(t, canonical.EmbeddingId)
	assert.Equal(t, canonical.Id, duplicate.SupersededBy)
	assert.Equal(t, canonical.EmbeddingId, duplicate.EmbeddingId,
		"duplicate inherits the embedding assigned to its in-batch canonical")

	count, err := p.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPipelineNearDuplicateInheritsEmbedding(t *testing.T) {
	cfg := testConfig()
	cfg.SimilarityThreshold = 0.85
	p := newTestPipeline(t, cfg)
	ctx := context.Background()

	wordRun := func(last string) string {
		words := make([]string, 0, 50)
		for i := 0; i < 49; i++ {
			words = append(words, fmt.Sprintf("w%02d", i))
		}
		return strings.Join(append(words, last), " ") + "."
	}

	// Two paragraphs differing only in the last word: distinct fingerprints
	// but nearly identical shingle sets.
	path := writeTestFile(t, wordRun("alpha"), wordRun("omega"))
	docID, err := p.scheduler.Ingest(ctx, path, core.SourceText, nil)
	require.NoError(t, err)
	require.Equal(t, bus.ProcessingCompleted, waitTerminal(t, p.events, docID).Type)

	doc, err := p.scheduler.Status(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Stats.ChunkCount)
	assert.Equal(t, 1, doc.Stats.EmbeddingCount)
	assert.Equal(t, 2, doc.Stats.WrittenCount)

	chunks, err := p.chunks.GetChunksByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	canonical, nearDup := chunks[0], chunks[1]
	require.NotEmpty(t, canonical.EmbeddingId)
	assert.Equal(t, canonical.Id, nearDup.SupersededBy)
	assert.Equal(t, canonical.EmbeddingId, nearDup.EmbeddingId,
		"near-duplicate inherits the embedding assigned to its in-batch canonical")

	count, err := p.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipelineAdmissionRejected(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 2

	docRepo, chunkRepo, vectorStore, backend, err := badgerstore.NewMemoryStores(cfg.Dimension)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	scheduler, err := NewScheduler(cfg, docRepo, chunkRepo, vectorStore, mock.NewMockEmbedder(cfg.Dimension), nil, chunking.HeuristicCounter{})
	require.NoError(t, err)

	// Admission control is synchronous, so the loop is deliberately not
	// started: the queue cannot drain and rejection is deterministic.
	path := writeTestFile(t, testParagraph("one"))
	_, err = scheduler.Ingest(context.Background(), path, core.SourceText, nil)
	require.NoError(t, err)
	_, err = scheduler.Ingest(context.Background(), path, core.SourceText, nil)
	require.NoError(t, err)

	_, err = scheduler.Ingest(context.Background(), path, core.SourceText, nil)
	assert.ErrorIs(t, err, core.ErrAdmissionRejected)
	assert.Equal(t, 2, scheduler.Inflight())
}

func TestPipelinePartialEmbedFailure(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ctx := context.Background()

	p.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		for _, text := range texts {
			if strings.Contains(text, "FAILME") {
				return nil, fmt.Errorf("%w: synthetic outage", core.ErrProviderUnavailable)
			}
		}
		vectors := make([][]float32, len(texts))
		for i := range vectors {
			vectors[i] = []float32{1, 2, 3, 4}
		}
		return vectors, nil
	}

	path := writeTestFile(t,
		testParagraph("one"),
		testParagraph("two"),
		testParagraph("three"),
		"Paragraph FAILME carries enough filler words to stand alone as a chunk in this scheduler test run.")

	docID, err := p.scheduler.Ingest(ctx, path, core.SourceText, nil)
	require.NoError(t, err)

	event := waitTerminal(t, p.events, docID)
	require.Equal(t, bus.ProcessingFailed, event.Type)

	doc, err := p.scheduler.Status(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.Equal(t, core.StageEmbed, doc.FailedStage)
	assert.Equal(t, 4, doc.Stats.ChunkCount)
	assert.Equal(t, 2, doc.Stats.EmbeddingCount, "batches without the poisoned chunk still embed")
	assert.Equal(t, 2, doc.Stats.WrittenCount, "successful embeddings are persisted before the failure is recorded")

	count, err := p.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPipelineRejectsUnsupportedSourceType(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	path := writeTestFile(t, testParagraph("one"))
	_, err := p.scheduler.Ingest(context.Background(), path, core.SourceType("parquet"), nil)
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
}

func TestPipelineCorruptInputFailsAtExtract(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ctx := context.Background()

	path := writeTestFile(t, testParagraph("one"))
	docID, err := p.scheduler.Ingest(ctx, path, core.SourceDocx, nil)
	require.NoError(t, err)

	// A plain text file is not a zip archive, so DOCX parsing fails
	// permanently.
	event := waitTerminal(t, p.events, docID)
	require.Equal(t, bus.ProcessingFailed, event.Type)

	doc, err := p.scheduler.Status(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.Equal(t, core.StageExtract, doc.FailedStage)
	assert.NotEmpty(t, doc.FailureCause)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Dimension = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ModelVersion = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SimilarityThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.QueueCapacity = 0
	assert.Error(t, cfg.Validate())
}
