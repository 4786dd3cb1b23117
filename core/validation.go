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
	"errors"
	"fmt"
)

var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidTransition indicates a disallowed document status transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Id must not be empty
//   - SourceType must be a supported format
//   - FilePath must not be empty
//
// NOT validated (populated by the scheduler):
//   - Stats (zero until stages complete)
//   - FailedStage/FailureCause (empty unless failed)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if doc.Id == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	if !doc.SourceType.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidDocument, ErrUnsupportedFormat, doc.SourceType)
	}
	if doc.FilePath == "" {
		return fmt.Errorf("%w: missing file path", ErrInvalidDocument)
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Id and DocumentId must not be empty
//   - Text must not be empty
//   - Fingerprint must be set
//   - Seq must not be negative
//
// NOT validated (populated downstream):
//   - EmbeddingId (empty until the embedder runs)
//   - SupersededBy (empty unless merged)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.Id == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidChunk)
	}
	if chunk.DocumentId == "" {
		return fmt.Errorf("%w: missing document id", ErrInvalidChunk)
	}
	if chunk.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidChunk)
	}
	if chunk.Fingerprint == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidChunk)
	}
	if chunk.Seq < 0 {
		return fmt.Errorf("%w: negative sequence %d", ErrInvalidChunk, chunk.Seq)
	}
	return nil
}

// ValidateTransition validates a document status transition.
func ValidateTransition(from, to DocumentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
