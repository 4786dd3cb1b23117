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
	"context"
	"fmt"
	"io"
	"os"

	"github.com/poiesic/docpipe/core"
)

// Extractor turns raw document bytes into an ordered stream of text segments.
// Segments are pushed to emit one at a time so large documents never require
// the full segment list in memory. When emit returns an error the extractor
// stops immediately and returns that error unchanged.
//
// Extractors fill Text, Page, and Section. DocumentId and Index are assigned
// by the caller.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, emit func(core.TextSegment) error) error
}

// Registry dispatches extraction by source type.
type Registry struct {
	extractors map[core.SourceType]Extractor
}

// NewRegistry creates a registry with all built-in extractors registered.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[core.SourceType]Extractor)}
	r.Register(core.SourcePDF, NewPDFExtractor())
	r.Register(core.SourceDocx, NewDOCXExtractor())
	r.Register(core.SourceText, NewTextExtractor())
	r.Register(core.SourceHTML, NewHTMLExtractor())
	r.Register(core.SourceEmail, NewEmailExtractor())
	r.Register(core.SourceJSON, NewJSONExtractor())
	return r
}

// Register binds an extractor to a source type, replacing any existing one.
func (r *Registry) Register(st core.SourceType, e Extractor) {
	r.extractors[st] = e
}

// Lookup returns the extractor for a source type.
func (r *Registry) Lookup(st core.SourceType) (Extractor, error) {
	e, ok := r.extractors[st]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, st)
	}
	return e, nil
}

// ExtractDocument opens the document file and streams its segments to emit.
// Each emitted segment carries the document ID and a monotonically increasing
// index. Returns the number of segments emitted.
func (r *Registry) ExtractDocument(ctx context.Context, doc *core.Document, emit func(core.TextSegment) error) (int, error) {
	extractor, err := r.Lookup(doc.SourceType)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(doc.FilePath)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", core.ErrIOFailure, doc.FilePath, err)
	}
	defer f.Close()

	count := 0
	err = extractor.Extract(ctx, f, func(seg core.TextSegment) error {
		seg.DocumentId = doc.Id
		seg.Index = count
		if err := emit(seg); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, nil
}

// readAll buffers the full input. Used by formats whose parsers need random
// access (PDF cross-reference tables, DOCX zip directories).
func readAll(r io.Reader) ([]byte, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIOFailure, err)
	}
	return content, nil
}
