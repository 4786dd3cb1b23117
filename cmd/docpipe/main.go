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


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docpipe/ai"
	"github.com/poiesic/docpipe/ai/mock"
	"github.com/poiesic/docpipe/ai/openai"
	"github.com/poiesic/docpipe/bus"
	"github.com/poiesic/docpipe/chunking"
	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/pipeline"
	"github.com/poiesic/docpipe/storage/badger"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "docpipe",
		Usage: "Document processing pipeline: extract, chunk, deduplicate, embed, persist",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "process",
				Usage:     "Process documents through the pipeline",
				ArgsUsage: "FILE [FILE...]",
				Action:    processCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "db",
						Aliases:  []string{"d"},
						Usage:    "Path to BadgerDB database directory",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL",
						Value: "http://localhost:11434/v1",
					},
					&cli.StringFlag{
						Name:  "embedding-model",
						Usage: "Embedding model name",
						Value: "embeddinggemma",
					},
					&cli.IntFlag{
						Name:  "dimension",
						Usage: "Embedding vector dimension",
						Value: 768,
					},
					&cli.BoolFlag{
						Name:  "mock-embedder",
						Usage: "Use the deterministic mock embedder instead of a provider",
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "Force source type (pdf, docx, txt, html, email, json); inferred from extension when empty",
					},
					&cli.IntFlag{
						Name:  "cpu-workers",
						Usage: "Worker count for extract/chunk/dedup (0 = 75% of cores)",
					},
					&cli.IntFlag{
						Name:  "io-workers",
						Usage: "Worker count for embedding batches (0 = 2x cores)",
					},
					&cli.IntFlag{
						Name:  "queue-capacity",
						Usage: "Admission queue capacity",
						Value: 1000,
					},
					&cli.IntFlag{
						Name:  "chunk-target",
						Usage: "Target chunk size in tokens",
						Value: 512,
					},
					&cli.IntFlag{
						Name:  "chunk-max",
						Usage: "Maximum chunk size in tokens",
						Value: 800,
					},
					&cli.IntFlag{
						Name:  "chunk-min",
						Usage: "Minimum chunk size in tokens",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "chunk-overlap",
						Usage: "Window overlap in tokens",
						Value: 50,
					},
					&cli.IntFlag{
						Name:  "embed-batch",
						Usage: "Chunks per embedding request",
						Value: 16,
					},
					&cli.IntFlag{
						Name:  "write-batch",
						Usage: "Persistence flush threshold",
						Value: 100,
					},
					&cli.Float64Flag{
						Name:  "similarity-threshold",
						Usage: "Near-duplicate Jaccard threshold (0 disables)",
						Value: 0.95,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 500 * time.Millisecond,
					},
					&cli.DurationFlag{
						Name:  "stage-timeout",
						Usage: "Per-stage timeout before requeue/failure",
						Value: 2 * time.Minute,
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show the processing record of a document",
				ArgsUsage: "DOCUMENT_ID",
				Action:    statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "db",
						Aliases:  []string{"d"},
						Usage:    "Path to BadgerDB database directory",
						Required: true,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func processCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file argument is required")
	}

	ctx := context.Background()

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	docRepo, err := badger.NewDocumentRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create document repository: %w", err)
	}
	defer docRepo.Close()

	chunkRepo, err := badger.NewChunkRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create chunk repository: %w", err)
	}
	defer chunkRepo.Close()

	vectorStore, err := badger.NewVectorStore(backend, c.Int("dimension"))
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer vectorStore.Close()

	embedder, err := buildEmbedder(c)
	if err != nil {
		return err
	}

	cfg := pipeline.DefaultConfig()
	if v := c.Int("cpu-workers"); v > 0 {
		cfg.CPUWorkers = v
	}
	if v := c.Int("io-workers"); v > 0 {
		cfg.IOWorkers = v
	}
	cfg.QueueCapacity = c.Int("queue-capacity")
	cfg.MaxRetries = c.Int("max-retries")
	cfg.RetryBaseDelay = c.Duration("retry-delay")
	cfg.StageTimeout = c.Duration("stage-timeout")
	cfg.EmbedBatchSize = c.Int("embed-batch")
	cfg.WriteBatchSize = c.Int("write-batch")
	cfg.ChunkParams = chunking.Params{
		TargetTokens:  c.Int("chunk-target"),
		MaxTokens:     c.Int("chunk-max"),
		MinTokens:     c.Int("chunk-min"),
		OverlapTokens: c.Int("chunk-overlap"),
	}
	cfg.ModelVersion = c.String("embedding-model")
	cfg.Dimension = c.Int("dimension")
	cfg.SimilarityThreshold = c.Float64("similarity-threshold")

	broker := bus.NewBroker()
	defer broker.Shutdown()

	counter := chunking.NewTokenCounter("cl100k_base")
	scheduler, err := pipeline.NewScheduler(cfg, docRepo, chunkRepo, vectorStore, embedder, broker, counter)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := broker.Subscribe(runCtx)
	scheduler.Start(runCtx)
	defer scheduler.Stop()

	// Admit every file, then wait for each to reach a terminal state.
	pending := make(map[string]string)
	for _, path := range c.Args().Slice() {
		sourceType, err := resolveSourceType(c.String("type"), path)
		if err != nil {
			return err
		}

		id, err := scheduler.Ingest(ctx, path, sourceType, nil)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}
		pending[id] = path
		fmt.Fprintf(os.Stderr, "ingested %s as %s (%s)\n", path, id, sourceType)
	}

	failures := 0
	for len(pending) > 0 {
		event, ok := <-events
		if !ok {
			return fmt.Errorf("event stream closed with %d documents outstanding", len(pending))
		}

		switch event.Type {
		case bus.ProcessingCompleted:
			payload := event.Payload.(bus.CompletedPayload)
			if path, tracked := pending[payload.DocumentId]; tracked {
				fmt.Fprintf(os.Stderr, "completed %s: %d chunks, %d embeddings, %d written in %s\n",
					path, payload.Stats.ChunkCount, payload.Stats.EmbeddingCount,
					payload.Stats.WrittenCount, payload.Stats.Elapsed)
				delete(pending, payload.DocumentId)
			}
		case bus.ProcessingFailed:
			payload := event.Payload.(bus.FailedPayload)
			if path, tracked := pending[payload.DocumentId]; tracked {
				fmt.Fprintf(os.Stderr, "failed %s at %s: %s\n", path, payload.Stage, payload.Error)
				delete(pending, payload.DocumentId)
				failures++
			}
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d document(s) failed", failures)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one document ID argument is required")
	}

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	docRepo, err := badger.NewDocumentRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create document repository: %w", err)
	}
	defer docRepo.Close()

	doc, err := docRepo.Get(context.Background(), c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	fmt.Printf("Document:   %s\n", doc.Id)
	fmt.Printf("Source:     %s (%s)\n", doc.FilePath, doc.SourceType)
	fmt.Printf("Status:     %s\n", doc.Status)
	if doc.Status == core.StatusFailed {
		fmt.Printf("Failed at:  %s\n", doc.FailedStage)
		fmt.Printf("Cause:      %s\n", doc.FailureCause)
	}
	fmt.Printf("Segments:   %d\n", doc.Stats.SegmentCount)
	fmt.Printf("Chunks:     %d\n", doc.Stats.ChunkCount)
	fmt.Printf("Embeddings: %d\n", doc.Stats.EmbeddingCount)
	fmt.Printf("Written:    %d\n", doc.Stats.WrittenCount)
	if doc.Stats.Elapsed > 0 {
		fmt.Printf("Elapsed:    %s\n", doc.Stats.Elapsed)
	}
	fmt.Printf("Created:    %s\n", doc.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:    %s\n", doc.UpdatedAt.Format(time.RFC3339))
	return nil
}

func buildEmbedder(c *cli.Context) (ai.Embedder, error) {
	if c.Bool("mock-embedder") {
		return mock.NewMockEmbedder(c.Int("dimension")), nil
	}

	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithDimension(c.Int("dimension")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	embedder, err := openai.NewEmbedder(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// resolveSourceType uses the forced type flag when given, otherwise infers
// the type from the file extension.
func resolveSourceType(forced, path string) (core.SourceType, error) {
	if forced != "" {
		st := core.SourceType(strings.ToLower(forced))
		if !st.Valid() {
			return "", fmt.Errorf("unknown source type %q", forced)
		}
		return st, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return core.SourcePDF, nil
	case ".docx":
		return core.SourceDocx, nil
	case ".txt", ".md", ".text":
		return core.SourceText, nil
	case ".html", ".htm":
		return core.SourceHTML, nil
	case ".eml":
		return core.SourceEmail, nil
	case ".json":
		return core.SourceJSON, nil
	}
	return "", fmt.Errorf("cannot infer source type of %s; use --type", path)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
