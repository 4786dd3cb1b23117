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


package bus

import (
	"context"

	"github.com/poiesic/docpipe/core"
)

// EventType identifies a pipeline lifecycle event.
type EventType string

const (
	// DocumentIngested is published when a new document enters the pipeline.
	DocumentIngested EventType = "document.ingested"

	// TextExtracted is published when extraction completes for a document.
	TextExtracted EventType = "text.extracted"

	// ChunksCreated is published when chunking and deduplication complete.
	ChunksCreated EventType = "chunks.created"

	// EmbeddingsGenerated is published when all embedding batches complete.
	EmbeddingsGenerated EventType = "embeddings.generated"

	// ProcessingCompleted is published when a document reaches terminal success.
	ProcessingCompleted EventType = "document.processing.completed"

	// ProcessingFailed is published when a document reaches terminal failure.
	ProcessingFailed EventType = "document.processing.failed"
)

// Event is a typed lifecycle notification with its payload.
type Event struct {
	Type    EventType
	Payload any
}

// IngestedPayload accompanies DocumentIngested.
type IngestedPayload struct {
	DocumentId string            `json:"document_id"`
	SourceType core.SourceType   `json:"source_type"`
	FilePath   string            `json:"file_path"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ExtractedPayload accompanies TextExtracted.
type ExtractedPayload struct {
	DocumentId   string `json:"document_id"`
	SegmentCount int    `json:"segment_count"`
}

// ChunksPayload accompanies ChunksCreated.
type ChunksPayload struct {
	DocumentId string   `json:"document_id"`
	ChunkIds   []string `json:"chunk_ids"`
}

// EmbeddingsPayload accompanies EmbeddingsGenerated.
type EmbeddingsPayload struct {
	DocumentId     string `json:"document_id"`
	EmbeddingCount int    `json:"embedding_count"`
}

// CompletedPayload accompanies ProcessingCompleted.
type CompletedPayload struct {
	DocumentId string               `json:"document_id"`
	Stats      core.ProcessingStats `json:"stats"`
}

// FailedPayload accompanies ProcessingFailed.
type FailedPayload struct {
	DocumentId string     `json:"document_id"`
	Stage      core.Stage `json:"stage"`
	Error      string     `json:"error"`
}

// Publisher publishes lifecycle events to all subscribers.
type Publisher interface {
	Publish(t EventType, payload any)
}

// Subscriber returns a read-only event channel that closes when the context
// is done or the broker shuts down.
type Subscriber interface {
	Subscribe(ctx context.Context) <-chan Event
}
