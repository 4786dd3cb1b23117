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


package dedup

import (
	"strings"

	"github.com/poiesic/docpipe/core"
)

const shingleSize = 3

// Similarity detects near-duplicate chunk text via Jaccard similarity over
// word shingles. A threshold of 0 disables detection entirely.
type Similarity struct {
	threshold float64
}

// DefaultSimilarityThreshold is the Jaccard score at or above which two
// chunks are considered near-duplicates.
const DefaultSimilarityThreshold = 0.95

// NewSimilarity creates a detector with the given threshold in (0, 1].
// Pass 0 to disable near-duplicate detection.
func NewSimilarity(threshold float64) *Similarity {
	return &Similarity{threshold: threshold}
}

// Enabled reports whether near-duplicate detection is active.
func (s *Similarity) Enabled() bool {
	return s.threshold > 0
}

// Shingles returns the normalized word shingle set for a chunk's text.
// Texts shorter than the shingle size yield a single shingle.
func Shingles(text string) map[string]struct{} {
	words := strings.Fields(core.NormalizeText(text))
	set := make(map[string]struct{})

	if len(words) <= shingleSize {
		if len(words) > 0 {
			set[strings.Join(words, " ")] = struct{}{}
		}
		return set
	}

	for i := 0; i+shingleSize <= len(words); i++ {
		set[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return set
}

// Jaccard computes the Jaccard similarity of two shingle sets.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	intersection := 0
	for s := range small {
		if _, ok := large[s]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// Match reports whether two shingle sets meet the near-duplicate threshold.
func (s *Similarity) Match(a, b map[string]struct{}) bool {
	if !s.Enabled() {
		return false
	}
	return Jaccard(a, b) >= s.threshold
}
