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


package core

import (
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// NewID generates a unique identifier for documents, chunks and embeddings.
func NewID() string {
	return uuid.NewString()
}

// FingerprintText computes a deterministic content fingerprint from normalized
// chunk text using BLAKE2b-256. Identical input always yields the identical
// fingerprint.
func FingerprintText(normalized string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText canonicalizes chunk text for fingerprinting: lowercase,
// whitespace runs collapsed to single spaces, leading and trailing
// punctuation stripped. Fingerprints are only comparable when computed over
// the same normalization.
func NormalizeText(text string) string {
	collapsed := strings.ToLower(strings.Join(strings.Fields(text), " "))
	return strings.TrimFunc(collapsed, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// SourceType identifies the declared format of an ingested document.
type SourceType string

const (
	SourcePDF   SourceType = "pdf"
	SourceDocx  SourceType = "docx"
	SourceText  SourceType = "txt"
	SourceHTML  SourceType = "html"
	SourceEmail SourceType = "email"
	SourceJSON  SourceType = "json"
)

// Valid reports whether the source type is one of the supported formats.
func (s SourceType) Valid() bool {
	switch s {
	case SourcePDF, SourceDocx, SourceText, SourceHTML, SourceEmail, SourceJSON:
		return true
	}
	return false
}

// DocumentStatus tracks a document's progress through the pipeline.
type DocumentStatus string

const (
	StatusIngested      DocumentStatus = "ingested"
	StatusExtracting    DocumentStatus = "extracting"
	StatusChunking      DocumentStatus = "chunking"
	StatusDeduplicating DocumentStatus = "deduplicating"
	StatusEmbedding     DocumentStatus = "embedding"
	StatusWriting       DocumentStatus = "writing"
	StatusCompleted     DocumentStatus = "completed"
	StatusFailed        DocumentStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
// Terminal documents are immutable.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// statusOrder defines the forward progression of pipeline states.
var statusOrder = map[DocumentStatus]DocumentStatus{
	StatusIngested:      StatusExtracting,
	StatusExtracting:    StatusChunking,
	StatusChunking:      StatusDeduplicating,
	StatusDeduplicating: StatusEmbedding,
	StatusEmbedding:     StatusWriting,
	StatusWriting:       StatusCompleted,
}

// CanTransition reports whether a document may move from one status to
// another. Forward progression follows the stage order; failed is reachable
// from any non-terminal state; terminal states admit no transitions.
// Re-entering the same non-terminal state is allowed (stage retry).
func CanTransition(from, to DocumentStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	if from == to {
		return true
	}
	return statusOrder[from] == to
}

// Stage identifies one pipeline phase with its own failure and retry policy.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageDedup   Stage = "dedup"
	StageEmbed   Stage = "embed"
	StageWrite   Stage = "write"
)

// Status returns the document status a stage runs under.
func (s Stage) Status() DocumentStatus {
	switch s {
	case StageExtract:
		return StatusExtracting
	case StageChunk:
		return StatusChunking
	case StageDedup:
		return StatusDeduplicating
	case StageEmbed:
		return StatusEmbedding
	case StageWrite:
		return StatusWriting
	}
	return StatusFailed
}

// Next returns the stage following this one, or false after the last stage.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageExtract:
		return StageChunk, true
	case StageChunk:
		return StageDedup, true
	case StageDedup:
		return StageEmbed, true
	case StageEmbed:
		return StageWrite, true
	}
	return "", false
}

// ProcessingStats aggregates per-document processing counters.
type ProcessingStats struct {
	SegmentCount   int
	ChunkCount     int
	EmbeddingCount int
	WrittenCount   int
	Elapsed        time.Duration
}

// Document represents an ingested document as tracked by the pipeline.
// Created on the ingestion event; mutated only by the scheduler as stages
// complete.
type Document struct {
	Id           string
	SourceType   SourceType
	Status       DocumentStatus
	FilePath     string
	Metadata     map[string]string
	Stats        ProcessingStats
	FailedStage  Stage  // Set when Status is failed
	FailureCause string // Set when Status is failed
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TextSegment is an ordered unit produced by extraction. Segments are
// ephemeral: they exist only in the extraction-to-chunking handoff and are
// never persisted.
type TextSegment struct {
	DocumentId string
	Index      int
	Text       string
	Page       int    // 1-based page number where applicable, 0 otherwise
	Section    string // Section path for structured formats
}

// ChunkKind tags a chunk by the content it carries. Code, table and list
// chunks are emitted standalone and are exempt from the minimum token count;
// lists above the maximum split between items.
type ChunkKind string

const (
	ChunkText  ChunkKind = "text"
	ChunkCode  ChunkKind = "code"
	ChunkTable ChunkKind = "table"
	ChunkList  ChunkKind = "list"
)

// Chunk is a bounded span of document text, the atomic retrieval unit.
// Chunks are immutable once created; merged near-duplicates are marked
// superseded rather than deleted so already-issued embeddings keep a valid
// referent.
type Chunk struct {
	Id           string
	DocumentId   string
	Seq          int // Emission order within the document, authoritative for ordering
	Text         string
	Fingerprint  string // BLAKE2b-256 of normalized text
	TokenCount   int
	Page         int
	Section      string
	PrevId       string
	NextId       string
	Kind         ChunkKind
	ModelVersion string // Embedding model version the fingerprint is scoped to
	EmbeddingId  string // Set once an embedding exists for this fingerprint
	SupersededBy string // Canonical chunk ID when merged as a near-duplicate
	CreatedAt    time.Time
}

// Embedding holds a fixed-length vector for a unique chunk fingerprint.
// Created once per distinct fingerprint per model version, never mutated.
type Embedding struct {
	Id        string
	ChunkId   string
	Vector    []float32
	Model     string
	CreatedAt time.Time
}

// VectorPoint is the unit persisted to the vector store.
type VectorPoint struct {
	Id      string        `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload VectorPayload `json:"payload"`
}

// VectorPayload carries the metadata attached to a vector point.
type VectorPayload struct {
	DocumentId string            `json:"document_id"`
	ChunkId    string            `json:"chunk_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ProcessingJob is the transient unit of work tracked per document per stage.
// It exists for retry counting and backpressure accounting and is discarded
// on stage success or permanent failure.
type ProcessingJob struct {
	DocumentId string
	Stage      Stage
	Attempts   int
	MaxRetries int
	EnqueuedAt time.Time
}

// CanRetry reports whether the job has retry budget remaining.
func (j *ProcessingJob) CanRetry() bool {
	return j.Attempts < j.MaxRetries
}
