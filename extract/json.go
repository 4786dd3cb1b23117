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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/poiesic/docpipe/core"
)

// JSONExtractor extracts text from JSON documents. String leaves become
// segments whose section is the dotted path to the value, so record
// boundaries survive into chunking. Object keys are walked in sorted order
// for deterministic segment indices.
type JSONExtractor struct{}

// NewJSONExtractor creates a JSON extractor.
func NewJSONExtractor() *JSONExtractor {
	return &JSONExtractor{}
}

// Extract decodes the document and walks it depth-first.
func (e *JSONExtractor) Extract(ctx context.Context, r io.Reader, emit func(core.TextSegment) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return fmt.Errorf("%w: json: %v", core.ErrCorruptInput, err)
	}

	return walkJSON(ctx, root, "", emit)
}

func walkJSON(ctx context.Context, node any, path string, emit func(core.TextSegment) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := walkJSON(ctx, v[k], joinPath(path, k), emit); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range v {
			if err := walkJSON(ctx, item, joinPath(path, strconv.Itoa(i)), emit); err != nil {
				return err
			}
		}
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return nil
		}
		return emit(core.TextSegment{Text: text, Section: path})
	}

	// Numbers, booleans and nulls carry no embeddable text.
	return nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
