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
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/docpipe/core"
)

// htmlBlockSelector matches the block-level elements that carry document
// text. Script, style and nav content is excluded by omission. Lists are
// matched at the ul/ol level so a whole list travels as one segment.
const htmlBlockSelector = "h1, h2, h3, h4, h5, h6, p, ul, ol, td, th, pre, blockquote"

// HTMLExtractor extracts text from HTML documents, one segment per block
// element. Each segment carries the nearest preceding heading as its section.
type HTMLExtractor struct{}

// NewHTMLExtractor creates an HTML extractor.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract parses the document and walks block elements in document order.
func (e *HTMLExtractor) Extract(ctx context.Context, r io.Reader, emit func(core.TextSegment) error) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("%w: html: %v", core.ErrCorruptInput, err)
	}

	var (
		section string
		walkErr error
	)

	doc.Find(htmlBlockSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if err := ctx.Err(); err != nil {
			walkErr = err
			return false
		}

		tag := goquery.NodeName(sel)
		if tag == "ul" || tag == "ol" {
			// Nested lists ride along with their outermost list.
			if sel.ParentsFiltered("ul, ol").Length() > 0 {
				return true
			}
			if text := listText(sel); text != "" {
				if err := emit(core.TextSegment{Text: text, Section: section}); err != nil {
					walkErr = err
					return false
				}
			}
			return true
		}

		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return true
		}

		if isHeading(tag) {
			section = text
		}

		// pre blocks keep their internal whitespace, everything else is
		// collapsed to single spaces.
		if tag != "pre" {
			text = strings.Join(strings.Fields(text), " ")
		}

		if err := emit(core.TextSegment{Text: text, Section: section}); err != nil {
			walkErr = err
			return false
		}
		return true
	})

	return walkErr
}

// listText flattens a list into one marker-prefixed line per item. Each
// item's own text is taken without its nested lists, which contribute their
// items as separate lines.
func listText(sel *goquery.Selection) string {
	var lines []string
	sel.Find("li").Each(func(_ int, item *goquery.Selection) {
		own := item.Clone()
		own.Find("ul, ol").Remove()
		text := strings.Join(strings.Fields(own.Text()), " ")
		if text != "" {
			lines = append(lines, "- "+text)
		}
	})
	return strings.Join(lines, "\n")
}

func isHeading(tag string) bool {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}
