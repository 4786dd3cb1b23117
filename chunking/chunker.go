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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docpipe/core"
)

// Params bounds chunk sizes in tokens. Strategies aim for TargetTokens;
// postprocessing enforces MinTokens and MaxTokens on text chunks.
type Params struct {
	TargetTokens  int
	MaxTokens     int
	MinTokens     int
	OverlapTokens int
}

// DefaultParams returns the standard chunking bounds.
func DefaultParams() Params {
	return Params{
		TargetTokens:  512,
		MaxTokens:     800,
		MinTokens:     100,
		OverlapTokens: 50,
	}
}

// Validate checks that the bounds are coherent.
func (p Params) Validate() error {
	if p.TargetTokens <= 0 || p.MaxTokens <= 0 || p.MinTokens < 0 {
		return fmt.Errorf("chunking params: token bounds must be positive")
	}
	if p.TargetTokens > p.MaxTokens {
		return fmt.Errorf("chunking params: target %d exceeds max %d", p.TargetTokens, p.MaxTokens)
	}
	if p.MinTokens >= p.TargetTokens {
		return fmt.Errorf("chunking params: min %d must be below target %d", p.MinTokens, p.TargetTokens)
	}
	if p.OverlapTokens < 0 || p.OverlapTokens >= p.TargetTokens {
		return fmt.Errorf("chunking params: overlap %d must be below target %d", p.OverlapTokens, p.TargetTokens)
	}
	return nil
}

// Chunker turns a document's text segments into fingerprinted chunks.
// Chunking is all-or-nothing per document: any failure discards all partial
// output and fails the document.
type Chunker struct {
	params       Params
	counter      TokenCounter
	modelVersion string
	logger       *slog.Logger
}

// NewChunker creates a Chunker. modelVersion scopes chunk fingerprints to the
// embedding model they will be embedded with.
func NewChunker(params Params, counter TokenCounter, modelVersion string) (*Chunker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if modelVersion == "" {
		return nil, fmt.Errorf("chunker: model version required")
	}
	return &Chunker{
		params:       params,
		counter:      counter,
		modelVersion: modelVersion,
		logger:       slog.Default().With("component", "chunker"),
	}, nil
}

// ChunkDocument produces the ordered chunk list for a document. Seq follows
// emission order and prev/next links connect adjacent chunks. A document with
// no extractable text yields zero chunks, which is not an error.
func (c *Chunker) ChunkDocument(ctx context.Context, doc *core.Document, segments []core.TextSegment) ([]*core.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, nil
	}

	strat := strategyFor(doc.SourceType)
	pieces := postprocess(strat.split(segments, c.params, c.counter), c.params, c.counter)

	now := time.Now().UTC()
	chunks := make([]*core.Chunk, 0, len(pieces))
	for seq, p := range pieces {
		chunk := &core.Chunk{
			Id:           core.NewID(),
			DocumentId:   doc.Id,
			Seq:          seq,
			Text:         p.text,
			Fingerprint:  core.FingerprintText(core.NormalizeText(p.text)),
			TokenCount:   c.counter.Count(p.text),
			Page:         p.page,
			Section:      p.section,
			Kind:         p.kind,
			ModelVersion: c.modelVersion,
			CreatedAt:    now,
		}
		if err := core.ValidateChunk(chunk); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrChunkingFailed, err)
		}
		chunks = append(chunks, chunk)
	}

	for i, chunk := range chunks {
		if i > 0 {
			chunk.PrevId = chunks[i-1].Id
		}
		if i < len(chunks)-1 {
			chunk.NextId = chunks[i+1].Id
		}
	}

	c.logger.Debug("document chunked",
		"document_id", doc.Id, "segments", len(segments), "chunks", len(chunks))
	return chunks, nil
}
