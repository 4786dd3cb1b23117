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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterminism(t *testing.T) {
	text := NormalizeText("The quick brown fox jumps over the lazy dog.")

	first := FingerprintText(text)
	second := FingerprintText(text)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64, "BLAKE2b-256 hex digest")
}

func TestFingerprintDistinct(t *testing.T) {
	a := FingerprintText(NormalizeText("alpha"))
	b := FingerprintText(NormalizeText("beta"))
	assert.NotEqual(t, a, b)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello   World", "hello world"},
		{"  MIXED\tCase\nLines  ", "mixed case lines"},
		{"...leading and trailing!!!", "leading and trailing"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), "input %q", tt.in)
	}
}

func TestNormalizedVariantsShareFingerprint(t *testing.T) {
	a := FingerprintText(NormalizeText("Hello,  World"))
	b := FingerprintText(NormalizeText("hello, world"))
	assert.Equal(t, a, b)
}

func TestSourceTypeValid(t *testing.T) {
	for _, st := range []SourceType{SourcePDF, SourceDocx, SourceText, SourceHTML, SourceEmail, SourceJSON} {
		assert.True(t, st.Valid(), "%s", st)
	}
	assert.False(t, SourceType("xml").Valid())
	assert.False(t, SourceType("").Valid())
}

func TestStatusTransitions(t *testing.T) {
	// Forward path
	path := []DocumentStatus{
		StatusIngested, StatusExtracting, StatusChunking,
		StatusDeduplicating, StatusEmbedding, StatusWriting, StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}

	// Skipping stages is not allowed
	assert.False(t, CanTransition(StatusIngested, StatusChunking))
	assert.False(t, CanTransition(StatusExtracting, StatusCompleted))

	// Failed is reachable from any non-terminal state
	for _, from := range path[:len(path)-1] {
		assert.True(t, CanTransition(from, StatusFailed), "%s -> failed", from)
	}

	// Terminal states are immutable
	assert.False(t, CanTransition(StatusCompleted, StatusFailed))
	assert.False(t, CanTransition(StatusFailed, StatusIngested))
	assert.False(t, CanTransition(StatusCompleted, StatusIngested))

	// Same-state retry is allowed for non-terminal states
	assert.True(t, CanTransition(StatusEmbedding, StatusEmbedding))
}

func TestStageStatusMapping(t *testing.T) {
	assert.Equal(t, StatusExtracting, StageExtract.Status())
	assert.Equal(t, StatusChunking, StageChunk.Status())
	assert.Equal(t, StatusDeduplicating, StageDedup.Status())
	assert.Equal(t, StatusEmbedding, StageEmbed.Status())
	assert.Equal(t, StatusWriting, StageWrite.Status())
}

func TestStageNext(t *testing.T) {
	next, ok := StageExtract.Next()
	require.True(t, ok)
	assert.Equal(t, StageChunk, next)

	_, ok = StageWrite.Next()
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		ErrIOFailure, ErrProviderUnavailable, ErrProviderRateLimited,
		ErrStorageUnavailable, ErrWriteConflict, ErrStageTimeout,
	}
	for _, err := range retryable {
		assert.True(t, IsRetryable(err), "%v", err)
		assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", err)), "wrapped %v", err)
	}

	permanent := []error{
		ErrUnsupportedFormat, ErrCorruptInput, ErrChunkingFailed,
		ErrDimensionMismatch, ErrAdmissionRejected, ErrDocumentCancelled,
	}
	for _, err := range permanent {
		assert.False(t, IsRetryable(err), "%v", err)
	}
}

func TestProcessingJobCanRetry(t *testing.T) {
	job := &ProcessingJob{MaxRetries: 2}
	assert.True(t, job.CanRetry())
	job.Attempts = 1
	assert.True(t, job.CanRetry())
	job.Attempts = 2
	assert.False(t, job.CanRetry())
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
