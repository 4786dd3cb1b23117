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


package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/docpipe/core"
)

// TextExtractor extracts plain text, one segment per paragraph. Paragraphs
// are separated by one or more blank lines.
type TextExtractor struct{}

// NewTextExtractor creates a plain text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract streams paragraphs without buffering the whole file.
func (e *TextExtractor) Extract(ctx context.Context, r io.Reader, emit func(core.TextSegment) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var para strings.Builder
	flush := func() error {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			return nil
		}
		return emit(core.TextSegment{Text: text})
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if !utf8.ValidString(line) {
			return fmt.Errorf("%w: text: invalid utf-8", core.ErrCorruptInput)
		}

		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if para.Len() > 0 {
			para.WriteByte('\n')
		}
		para.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIOFailure, err)
	}

	return flush()
}
