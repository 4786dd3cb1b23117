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
	"unicode"

	"github.com/poiesic/docpipe/core"
)

// block is a typed run of lines within a segment.
type block struct {
	text string
	kind core.ChunkKind
}

// splitBlocks separates fenced code blocks, table-shaped line runs and list
// groupings from prose. These blocks must survive chunking intact, so they
// are lifted out before any window or sentence splitting happens.
func splitBlocks(text string) []block {
	if !strings.Contains(text, "```") && !looksTabular(text) && !looksListy(text) {
		return []block{{text: text, kind: core.ChunkText}}
	}

	var blocks []block
	var current []string
	currentKind := core.ChunkText

	flush := func() {
		joined := strings.TrimSpace(strings.Join(current, "\n"))
		current = nil
		if joined != "" {
			blocks = append(blocks, block{text: joined, kind: currentKind})
		}
	}

	inFence := false
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inFence {
				current = append(current, line)
				flush()
				inFence = false
				currentKind = core.ChunkText
				continue
			}
			flush()
			inFence = true
			currentKind = core.ChunkCode
			current = append(current, line)
			continue
		}

		if inFence {
			current = append(current, line)
			continue
		}

		if isTableLine(line) {
			if currentKind != core.ChunkTable {
				flush()
				currentKind = core.ChunkTable
			}
			current = append(current, line)
			continue
		}

		if isListLine(line) {
			if currentKind != core.ChunkList {
				flush()
				currentKind = core.ChunkList
			}
			current = append(current, line)
			continue
		}

		if currentKind != core.ChunkText {
			flush()
			currentKind = core.ChunkText
		}
		current = append(current, line)
	}
	flush()

	return blocks
}

func looksTabular(text string) bool {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if isTableLine(line) {
			count++
			if count >= 2 {
				return true
			}
		}
	}
	return false
}

// isTableLine detects markdown-style table rows: at least two column
// separators on a non-empty line.
func isTableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return len(trimmed) > 2 && strings.Count(trimmed, "|") >= 2
}

func looksListy(text string) bool {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if isListLine(line) {
			count++
			if count >= 2 {
				return true
			}
		}
	}
	return false
}

// isListLine detects bulleted and numbered list items.
func isListLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "+ ") {
		return true
	}
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	return i > 0 && i+1 < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') && trimmed[i+1] == ' '
}

// splitSentences splits prose at sentence-final punctuation followed by
// whitespace. Text without sentence boundaries comes back as a single unit.
func splitSentences(text string) []string {
	var sentences []string
	var sb strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		sb.WriteRune(runes[i])

		if isSentenceEnd(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			sentence := strings.TrimSpace(sb.String())
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			sb.Reset()
		}
	}

	last := strings.TrimSpace(sb.String())
	if last != "" {
		sentences = append(sentences, last)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
