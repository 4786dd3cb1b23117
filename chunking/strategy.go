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

// piece is an intermediate chunk candidate before postprocessing assigns
// identity, links and fingerprints.
type piece struct {
	text    string
	page    int
	section string
	kind    core.ChunkKind
}

// strategy turns extracted segments into ordered chunk candidates. Strategies
// control where boundaries may fall; size enforcement happens afterwards in
// postprocess.
type strategy interface {
	split(segments []core.TextSegment, params Params, counter TokenCounter) []piece
}

// strategyFor selects the chunking strategy for a source type.
//
//   - pdf, txt: sliding window over sentences with token overlap
//   - html, docx: heading-aware, windows never span sections
//   - json, email: record boundaries are hard chunk boundaries
func strategyFor(st core.SourceType) strategy {
	switch st {
	case core.SourceJSON, core.SourceEmail:
		return boundaryStrategy{}
	case core.SourceHTML, core.SourceDocx:
		return hybridStrategy{}
	}
	return windowStrategy{}
}

// sentenceUnit is the smallest unit windows are built from.
type sentenceUnit struct {
	text    string
	tokens  int
	page    int
	section string
}

// windowStrategy slides a token window over sentence units, carrying overlap
// between consecutive windows so context survives the cut. Code fences and
// tables interrupt the window and are emitted standalone.
type windowStrategy struct{}

func (windowStrategy) split(segments []core.TextSegment, params Params, counter TokenCounter) []piece {
	var pieces []piece
	var window []sentenceUnit
	windowTokens := 0

	flush := func(withOverlap bool) {
		if len(window) == 0 {
			return
		}
		pieces = append(pieces, assemblePiece(window))
		if !withOverlap {
			window = nil
			windowTokens = 0
			return
		}
		window, windowTokens = overlapTail(window, params.OverlapTokens)
	}

	for _, seg := range segments {
		for _, block := range splitBlocks(seg.Text) {
			if block.kind != core.ChunkText {
				flush(false)
				pieces = append(pieces, piece{
					text: block.text, page: seg.Page, section: seg.Section, kind: block.kind,
				})
				continue
			}

			for _, sentence := range splitSentences(block.text) {
				unit := sentenceUnit{
					text: sentence, tokens: counter.Count(sentence),
					page: seg.Page, section: seg.Section,
				}
				if windowTokens > 0 && windowTokens+unit.tokens > params.TargetTokens {
					flush(true)
				}
				window = append(window, unit)
				windowTokens += unit.tokens
			}
		}
	}
	flush(false)
	return pieces
}

// hybridStrategy windows within sections but never across them. A section
// change flushes the current window without overlap carryover.
type hybridStrategy struct{}

func (hybridStrategy) split(segments []core.TextSegment, params Params, counter TokenCounter) []piece {
	var pieces []piece
	var window []sentenceUnit
	windowTokens := 0
	section := ""

	flush := func() {
		if len(window) == 0 {
			return
		}
		pieces = append(pieces, assemblePiece(window))
		window = nil
		windowTokens = 0
	}

	for _, seg := range segments {
		if seg.Section != section {
			flush()
			section = seg.Section
		}

		for _, block := range splitBlocks(seg.Text) {
			if block.kind != core.ChunkText {
				flush()
				pieces = append(pieces, piece{
					text: block.text, page: seg.Page, section: seg.Section, kind: block.kind,
				})
				continue
			}

			unit := sentenceUnit{
				text: block.text, tokens: counter.Count(block.text),
				page: seg.Page, section: seg.Section,
			}
			if windowTokens > 0 && windowTokens+unit.tokens > params.TargetTokens {
				flush()
			}
			window = append(window, unit)
			windowTokens += unit.tokens
		}
	}
	flush()
	return pieces
}

// boundaryStrategy treats each record boundary as a hard chunk boundary.
// Consecutive segments of the same section may share a chunk; segments from
// different sections never do.
type boundaryStrategy struct{}

func (boundaryStrategy) split(segments []core.TextSegment, params Params, counter TokenCounter) []piece {
	var pieces []piece
	var window []sentenceUnit
	windowTokens := 0
	section := ""

	flush := func() {
		if len(window) == 0 {
			return
		}
		pieces = append(pieces, assemblePiece(window))
		window = nil
		windowTokens = 0
	}

	for _, seg := range segments {
		unit := sentenceUnit{
			text: seg.Text, tokens: counter.Count(seg.Text),
			page: seg.Page, section: seg.Section,
		}

		if seg.Section != section || (windowTokens > 0 && windowTokens+unit.tokens > params.TargetTokens) {
			flush()
			section = seg.Section
		}
		window = append(window, unit)
		windowTokens += unit.tokens
	}
	flush()
	return pieces
}

// assemblePiece joins window units into a text piece. Page and section come
// from the first unit.
func assemblePiece(window []sentenceUnit) piece {
	var sb strings.Builder
	for i, u := range window {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(u.text)
	}
	return piece{
		text:    sb.String(),
		page:    window[0].page,
		section: window[0].section,
		kind:    core.ChunkText,
	}
}

// overlapTail returns the trailing units of a flushed window whose combined
// token count fits the overlap budget, seeding the next window.
func overlapTail(window []sentenceUnit, overlapTokens int) ([]sentenceUnit, int) {
	if overlapTokens <= 0 {
		return nil, 0
	}

	tokens := 0
	i := len(window)
	for i > 0 && tokens+window[i-1].tokens <= overlapTokens {
		i--
		tokens += window[i].tokens
	}
	if i == len(window) {
		return nil, 0
	}

	tail := make([]sentenceUnit, len(window)-i)
	copy(tail, window[i:])
	return tail, tokens
}
