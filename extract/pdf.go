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
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/poiesic/docpipe/core"
)

// PDFExtractor extracts text from PDF documents, one segment per page.
// Pages from which no text can be recovered are skipped rather than failing
// the document; a document where every page fails is corrupt.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract reads the full input (the PDF cross-reference table requires random
// access) and emits one segment per page carrying the 1-based page number.
// The parser panics on some malformed inputs, so the whole pass runs under a
// recover that reports such documents as corrupt.
func (e *PDFExtractor) Extract(ctx context.Context, r io.Reader, emit func(core.TextSegment) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: pdf: parser panic: %v", core.ErrCorruptInput, p)
		}
	}()

	content, err := readAll(r)
	if err != nil {
		return err
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("%w: pdf: %v", core.ErrCorruptInput, err)
	}

	pages := reader.NumPage()
	extracted := 0

	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if err := emit(core.TextSegment{Text: text, Page: i}); err != nil {
			return err
		}
		extracted++
	}

	if pages > 0 && extracted == 0 {
		return fmt.Errorf("%w: pdf: no text recovered from %d pages", core.ErrCorruptInput, pages)
	}
	return nil
}
