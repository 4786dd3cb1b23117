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
	"fmt"
	"runtime"
	"time"

	"github.com/poiesic/docpipe/chunking"
	"github.com/poiesic/docpipe/dedup"
)

// Config tunes the scheduler and its stages.
type Config struct {
	// CPUWorkers sizes the pool running extract, chunk and dedup work.
	CPUWorkers int

	// IOWorkers sizes the pool running embedding batches.
	IOWorkers int

	// QueueCapacity bounds the inbound admission queue. Ingestion beyond
	// capacity is rejected synchronously.
	QueueCapacity int

	// MaxRetries bounds per-stage retry attempts for retryable failures.
	MaxRetries int

	// RetryBaseDelay is the initial backoff delay, doubling per attempt.
	RetryBaseDelay time.Duration

	// StageTimeout bounds one stage execution. A timed-out stage is requeued
	// once, then the document fails.
	StageTimeout time.Duration

	// EmbedBatchSize is the number of chunks per embedding provider request.
	EmbedBatchSize int

	// WriteBatchSize is the persistence flush threshold.
	WriteBatchSize int

	// WriteFlushInterval bounds how long a partial write batch may wait.
	WriteFlushInterval time.Duration

	// ChunkParams bounds chunk sizes.
	ChunkParams chunking.Params

	// ModelVersion scopes fingerprints and embeddings to an embedding model.
	ModelVersion string

	// Dimension is the embedding vector dimension.
	Dimension int

	// SimilarityThreshold is the near-duplicate Jaccard threshold; 0 disables
	// near-duplicate detection.
	SimilarityThreshold float64

	// AIMD admission window tuning. The window starts at QueueCapacity,
	// shrinks additively when the completion rate falls below
	// AIMDCompletionFloor of the arrival rate, and grows additively when
	// there is headroom.
	AIMDInterval        time.Duration
	AIMDCompletionFloor float64
	AIMDDecrease        int
	AIMDIncrease        int
	AIMDMinWindow       int
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() *Config {
	cores := runtime.NumCPU()
	cpuWorkers := cores * 3 / 4
	if cpuWorkers < 1 {
		cpuWorkers = 1
	}

	return &Config{
		CPUWorkers:          cpuWorkers,
		IOWorkers:           cores * 2,
		QueueCapacity:       1000,
		MaxRetries:          3,
		RetryBaseDelay:      500 * time.Millisecond,
		StageTimeout:        2 * time.Minute,
		EmbedBatchSize:      16,
		WriteBatchSize:      100,
		WriteFlushInterval:  2 * time.Second,
		ChunkParams:         chunking.DefaultParams(),
		ModelVersion:        "embeddinggemma",
		Dimension:           768,
		SimilarityThreshold: dedup.DefaultSimilarityThreshold,
		AIMDInterval:        5 * time.Second,
		AIMDCompletionFloor: 0.5,
		AIMDDecrease:        50,
		AIMDIncrease:        10,
		AIMDMinWindow:       10,
	}
}

// Validate checks the configuration is coherent.
func (c *Config) Validate() error {
	if c.CPUWorkers <= 0 || c.IOWorkers <= 0 {
		return fmt.Errorf("pipeline config: worker counts must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("pipeline config: queue capacity must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("pipeline config: max retries must be positive")
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("pipeline config: stage timeout must be positive")
	}
	if c.ModelVersion == "" {
		return fmt.Errorf("pipeline config: model version required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("pipeline config: dimension must be positive")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("pipeline config: similarity threshold must be in [0, 1]")
	}
	return c.ChunkParams.Validate()
}
