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
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/docpipe/core"
)

// DOCX is a zip archive; the document body lives in word/document.xml as a
// flat sequence of w:p paragraph elements. Heading paragraphs are identified
// by their w:pStyle value and become the section for following paragraphs.

// DOCXExtractor extracts text from DOCX documents, one segment per paragraph.
type DOCXExtractor struct{}

// NewDOCXExtractor creates a DOCX extractor.
func NewDOCXExtractor() *DOCXExtractor {
	return &DOCXExtractor{}
}

type docxParagraph struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []string `xml:"r>t"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"body>p"`
}

// Extract reads the full input (zip directories live at the end of the file)
// and emits one segment per non-empty paragraph.
func (e *DOCXExtractor) Extract(ctx context.Context, r io.Reader, emit func(core.TextSegment) error) error {
	content, err := readAll(r)
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("%w: docx: %v", core.ErrCorruptInput, err)
	}

	var docFile *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return fmt.Errorf("%w: docx: missing word/document.xml", core.ErrCorruptInput)
	}

	rc, err := docFile.Open()
	if err != nil {
		return fmt.Errorf("%w: docx: %v", core.ErrCorruptInput, err)
	}
	defer rc.Close()

	var body docxBody
	if err := xml.NewDecoder(rc).Decode(&body); err != nil {
		return fmt.Errorf("%w: docx: %v", core.ErrCorruptInput, err)
	}

	var section string
	for _, para := range body.Paragraphs {
		if err := ctx.Err(); err != nil {
			return err
		}

		text := strings.TrimSpace(strings.Join(para.Runs, ""))
		if text == "" {
			continue
		}

		if isDocxHeadingStyle(para.Props.Style.Val) {
			section = text
		}

		if err := emit(core.TextSegment{Text: text, Section: section}); err != nil {
			return err
		}
	}
	return nil
}

func isDocxHeadingStyle(style string) bool {
	return strings.HasPrefix(style, "Heading") || strings.HasPrefix(style, "heading") ||
		style == "Title"
}
