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

import "errors"

// Extraction errors
var (
	// ErrUnsupportedFormat indicates the declared source type has no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrCorruptInput indicates the document bytes could not be parsed.
	ErrCorruptInput = errors.New("corrupt document input")

	// ErrIOFailure indicates a read failure while extracting.
	ErrIOFailure = errors.New("i/o failure")
)

// Chunking errors
var (
	// ErrChunkingFailed indicates chunking aborted; partial chunks are discarded.
	ErrChunkingFailed = errors.New("chunking failed")
)

// Embedding errors
var (
	// ErrProviderUnavailable indicates the embedding provider could not be reached.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrProviderRateLimited indicates the embedding provider rejected the batch
	// due to rate limiting.
	ErrProviderRateLimited = errors.New("embedding provider rate limited")

	// ErrDimensionMismatch indicates the provider returned vectors of a
	// dimension other than the configured one. This is a configuration error,
	// never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Write errors
var (
	// ErrWriteConflict indicates a conflicting concurrent write to the store.
	ErrWriteConflict = errors.New("write conflict")

	// ErrStorageUnavailable indicates the storage backend could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Scheduler errors
var (
	// ErrAdmissionRejected indicates the inbound queue is at capacity. It is
	// surfaced synchronously to the event producer so work can be redelivered.
	ErrAdmissionRejected = errors.New("admission rejected: queue at capacity")

	// ErrDocumentCancelled indicates processing was cancelled for the document.
	ErrDocumentCancelled = errors.New("document cancelled")

	// ErrStageTimeout indicates a stage exceeded the configured timeout.
	ErrStageTimeout = errors.New("stage timeout")
)

// IsRetryable reports whether an error belongs to a transient class that the
// raising stage retries with bounded exponential backoff. Permanent classes
// fail the document immediately.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrIOFailure),
		errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrProviderRateLimited),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrWriteConflict),
		errors.Is(err, ErrStageTimeout):
		return true
	}
	return false
}
