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


package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDocument() *Document {
	return &Document{
		Id:         NewID(),
		SourceType: SourceText,
		Status:     StatusIngested,
		FilePath:   "/tmp/doc.txt",
	}
}

func validChunk() *Chunk {
	text := "some chunk text"
	return &Chunk{
		Id:           NewID(),
		DocumentId:   NewID(),
		Seq:          0,
		Text:         text,
		Fingerprint:  FingerprintText(NormalizeText(text)),
		ModelVersion: "test-model",
	}
}

func TestValidateDocument(t *testing.T) {
	require.NoError(t, ValidateDocument(validDocument()))

	assert.ErrorIs(t, ValidateDocument(nil), ErrInvalidDocument)

	doc := validDocument()
	doc.Id = ""
	assert.ErrorIs(t, ValidateDocument(doc), ErrInvalidDocument)

	doc = validDocument()
	doc.SourceType = "parquet"
	err := ValidateDocument(doc)
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	doc = validDocument()
	doc.FilePath = ""
	assert.ErrorIs(t, ValidateDocument(doc), ErrInvalidDocument)
}

func TestValidateChunk(t *testing.T) {
	require.NoError(t, ValidateChunk(validChunk()))

	assert.ErrorIs(t, ValidateChunk(nil), ErrInvalidChunk)

	chunk := validChunk()
	chunk.Text = ""
	assert.ErrorIs(t, ValidateChunk(chunk), ErrInvalidChunk)

	chunk = validChunk()
	chunk.Fingerprint = ""
	assert.ErrorIs(t, ValidateChunk(chunk), ErrInvalidChunk)

	chunk = validChunk()
	chunk.Seq = -1
	assert.ErrorIs(t, ValidateChunk(chunk), ErrInvalidChunk)

	chunk = validChunk()
	chunk.DocumentId = ""
	assert.ErrorIs(t, ValidateChunk(chunk), ErrInvalidChunk)
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusIngested, StatusExtracting))
	assert.ErrorIs(t, ValidateTransition(StatusCompleted, StatusFailed), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StatusIngested, StatusEmbedding), ErrInvalidTransition)
}
