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
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/poiesic/docpipe/core"
)

// EmailExtractor extracts text from RFC 5322 email messages. The subject line
// becomes the first segment and the section for the body segments. Multipart
// messages prefer text/plain parts; text/html parts are stripped through the
// HTML extractor. Attachments are ignored.
type EmailExtractor struct {
	html *HTMLExtractor
}

// NewEmailExtractor creates an email extractor.
func NewEmailExtractor() *EmailExtractor {
	return &EmailExtractor{html: NewHTMLExtractor()}
}

// Extract parses the message headers and body.
func (e *EmailExtractor) Extract(ctx context.Context, r io.Reader, emit func(core.TextSegment) error) error {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return fmt.Errorf("%w: email: %v", core.ErrCorruptInput, err)
	}

	subject := decodeHeader(msg.Header.Get("Subject"))
	if subject != "" {
		if err := emit(core.TextSegment{Text: subject, Section: subject}); err != nil {
			return err
		}
	}

	contentType := msg.Header.Get("Content-Type")
	encoding := msg.Header.Get("Content-Transfer-Encoding")
	return e.extractBody(ctx, msg.Body, contentType, encoding, subject, emit)
}

func (e *EmailExtractor) extractBody(ctx context.Context, body io.Reader, contentType, encoding, section string, emit func(core.TextSegment) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		var err error
		mediaType, params, err = mime.ParseMediaType(contentType)
		if err != nil {
			return fmt.Errorf("%w: email: %v", core.ErrCorruptInput, err)
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("%w: email: multipart without boundary", core.ErrCorruptInput)
		}
		return e.extractMultipart(ctx, body, boundary, section, emit)
	}

	body = decodeTransferEncoding(body, encoding)

	switch mediaType {
	case "text/plain":
		return (&TextExtractor{}).Extract(ctx, body, func(seg core.TextSegment) error {
			seg.Section = section
			return emit(seg)
		})
	case "text/html":
		return e.html.Extract(ctx, body, func(seg core.TextSegment) error {
			if seg.Section == "" {
				seg.Section = section
			}
			return emit(seg)
		})
	}

	// Non-text parts (attachments, images) carry no extractable text.
	return nil
}

func (e *EmailExtractor) extractMultipart(ctx context.Context, body io.Reader, boundary, section string, emit func(core.TextSegment) error) error {
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: email: %v", core.ErrCorruptInput, err)
		}

		// Skip explicit attachments.
		disposition := part.Header.Get("Content-Disposition")
		if strings.HasPrefix(strings.ToLower(disposition), "attachment") {
			continue
		}

		err = e.extractBody(ctx, part,
			part.Header.Get("Content-Type"),
			part.Header.Get("Content-Transfer-Encoding"),
			section, emit)
		if err != nil {
			return err
		}
	}
}

func decodeTransferEncoding(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(decoded)
}
