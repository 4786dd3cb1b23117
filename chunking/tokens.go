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
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text in model tokens. Implementations must be
// thread-safe; chunking runs on a shared worker pool.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates token counts without a tokenizer model.
// English prose averages roughly four characters per token. Used in tests
// and as the fallback when no BPE encoding is available.
type HeuristicCounter struct{}

// Count estimates the token count from byte length.
func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// TiktokenCounter counts tokens with a BPE encoding. The encoding tables are
// loaded once at construction.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named BPE encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the exact token count under the loaded encoding.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a TiktokenCounter for the encoding, falling back to
// the heuristic when the encoding tables cannot be loaded.
func NewTokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		return HeuristicCounter{}
	}
	c, err := NewTiktokenCounter(encoding)
	if err != nil {
		return HeuristicCounter{}
	}
	return c
}
