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


package chunking

import (
	"strings"

	"github.com/poiesic/docpipe/core"
)

// postprocess enforces the token bounds strategies are allowed to exceed:
// oversized text pieces are split at sentence boundaries and undersized ones
// are merged into a neighbor. Code and table pieces are exempt from both;
// list pieces stay whole unless they exceed the maximum, in which case they
// split between items.
func postprocess(pieces []piece, params Params, counter TokenCounter) []piece {
	pieces = splitOversized(pieces, params, counter)
	return mergeUndersized(pieces, params, counter)
}

func splitOversized(pieces []piece, params Params, counter TokenCounter) []piece {
	out := make([]piece, 0, len(pieces))
	for _, p := range pieces {
		if p.kind == core.ChunkList && counter.Count(p.text) > params.MaxTokens {
			out = append(out, splitListItems(p, params, counter)...)
			continue
		}
		if p.kind != core.ChunkText {
			out = append(out, p)
			continue
		}
		if counter.Count(p.text) <= params.MaxTokens {
			out = append(out, p)
			continue
		}

		var window []string
		windowTokens := 0
		flush := func() {
			if len(window) == 0 {
				return
			}
			out = append(out, piece{
				text:    strings.Join(window, " "),
				page:    p.page,
				section: p.section,
				kind:    core.ChunkText,
			})
			window = nil
			windowTokens = 0
		}

		for _, sentence := range splitSentences(p.text) {
			tokens := counter.Count(sentence)

			// A single sentence above the cap is cut at word boundaries.
			if tokens > params.MaxTokens {
				flush()
				for _, part := range splitWords(sentence, params.TargetTokens, counter) {
					out = append(out, piece{
						text: part, page: p.page, section: p.section, kind: core.ChunkText,
					})
				}
				continue
			}

			if windowTokens > 0 && windowTokens+tokens > params.TargetTokens {
				flush()
			}
			window = append(window, sentence)
			windowTokens += tokens
		}
		flush()
	}
	return out
}

// mergeUndersized merges text pieces below the minimum into the following
// piece, or the preceding one at the end of the document. A lone undersized
// piece stays as is. Merges never cross section boundaries and never touch
// code or table pieces.
func mergeUndersized(pieces []piece, params Params, counter TokenCounter) []piece {
	out := make([]piece, 0, len(pieces))

	for i := 0; i < len(pieces); i++ {
		p := pieces[i]
		if p.kind != core.ChunkText || counter.Count(p.text) >= params.MinTokens {
			out = append(out, p)
			continue
		}

		// Forward merge preferred.
		if i+1 < len(pieces) && canAbsorb(pieces[i+1], p, params, counter) {
			pieces[i+1].text = p.text + " " + pieces[i+1].text
			pieces[i+1].page = p.page
			continue
		}

		// Backward merge as fallback.
		if len(out) > 0 && canAbsorb(out[len(out)-1], p, params, counter) {
			out[len(out)-1].text = out[len(out)-1].text + " " + p.text
			continue
		}

		out = append(out, p)
	}
	return out
}

func canAbsorb(target, small piece, params Params, counter TokenCounter) bool {
	if target.kind != core.ChunkText || target.section != small.section {
		return false
	}
	return counter.Count(target.text)+counter.Count(small.text) <= params.MaxTokens
}

// splitListItems cuts an oversized list at item boundaries, keeping each
// part tagged as a list.
func splitListItems(p piece, params Params, counter TokenCounter) []piece {
	var out []piece
	var window []string
	windowTokens := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		out = append(out, piece{
			text:    strings.Join(window, "\n"),
			page:    p.page,
			section: p.section,
			kind:    core.ChunkList,
		})
		window = nil
		windowTokens = 0
	}

	for _, item := range strings.Split(p.text, "\n") {
		tokens := counter.Count(item)
		if windowTokens > 0 && windowTokens+tokens > params.TargetTokens {
			flush()
		}
		window = append(window, item)
		windowTokens += tokens
	}
	flush()
	return out
}

// splitWords cuts a single overlong sentence into word-boundary parts of at
// most targetTokens each.
func splitWords(sentence string, targetTokens int, counter TokenCounter) []string {
	words := strings.Fields(sentence)
	var parts []string
	var current []string
	tokens := 0

	for _, w := range words {
		wt := counter.Count(w)
		if tokens > 0 && tokens+wt > targetTokens {
			parts = append(parts, strings.Join(current, " "))
			current = nil
			tokens = 0
		}
		current = append(current, w)
		tokens += wt
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}
