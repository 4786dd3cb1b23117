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


package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/docpipe/core"
)

// Stored records are encoded with the MUS format. The codecs are written by
// hand against the varint and ord serializers; times are stored as UnixMicro,
// vectors as IEEE-754 bit patterns.

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, sizeDocument(doc))
	n := ord.String.Marshal(doc.Id, buf)
	n += ord.String.Marshal(string(doc.SourceType), buf[n:])
	n += ord.String.Marshal(string(doc.Status), buf[n:])
	n += ord.String.Marshal(doc.FilePath, buf[n:])
	n += marshalStringMap(doc.Metadata, buf[n:])
	n += marshalStats(doc.Stats, buf[n:])
	n += ord.String.Marshal(string(doc.FailedStage), buf[n:])
	n += ord.String.Marshal(doc.FailureCause, buf[n:])
	n += marshalTime(doc.CreatedAt, buf[n:])
	marshalTime(doc.UpdatedAt, buf[n:])
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc := &core.Document{}
	var (
		n, off int
		s      string
		err    error
	)
	if doc.Id, off, err = ord.String.Unmarshal(data); err != nil {
		return nil, wrapSerErr(err)
	}
	n = off
	if s, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	doc.SourceType = core.SourceType(s)
	n += off
	if s, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	doc.Status = core.DocumentStatus(s)
	n += off
	if doc.FilePath, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if doc.Metadata, off, err = unmarshalStringMap(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if doc.Stats, off, err = unmarshalStats(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if s, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	doc.FailedStage = core.Stage(s)
	n += off
	if doc.FailureCause, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if doc.CreatedAt, off, err = unmarshalTime(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if doc.UpdatedAt, _, err = unmarshalTime(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	return doc, nil
}

func sizeDocument(doc *core.Document) int {
	size := ord.String.Size(doc.Id)
	size += ord.String.Size(string(doc.SourceType))
	size += ord.String.Size(string(doc.Status))
	size += ord.String.Size(doc.FilePath)
	size += sizeStringMap(doc.Metadata)
	size += sizeStats(doc.Stats)
	size += ord.String.Size(string(doc.FailedStage))
	size += ord.String.Size(doc.FailureCause)
	size += sizeTime(doc.CreatedAt)
	size += sizeTime(doc.UpdatedAt)
	return size
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, sizeChunk(chunk))
	n := ord.String.Marshal(chunk.Id, buf)
	n += ord.String.Marshal(chunk.DocumentId, buf[n:])
	n += varint.Int.Marshal(chunk.Seq, buf[n:])
	n += ord.String.Marshal(chunk.Text, buf[n:])
	n += ord.String.Marshal(chunk.Fingerprint, buf[n:])
	n += varint.Int.Marshal(chunk.TokenCount, buf[n:])
	n += varint.Int.Marshal(chunk.Page, buf[n:])
	n += ord.String.Marshal(chunk.Section, buf[n:])
	n += ord.String.Marshal(chunk.PrevId, buf[n:])
	n += ord.String.Marshal(chunk.NextId, buf[n:])
	n += ord.String.Marshal(string(chunk.Kind), buf[n:])
	n += ord.String.Marshal(chunk.ModelVersion, buf[n:])
	n += ord.String.Marshal(chunk.EmbeddingId, buf[n:])
	n += ord.String.Marshal(chunk.SupersededBy, buf[n:])
	marshalTime(chunk.CreatedAt, buf[n:])
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk := &core.Chunk{}
	var (
		n, off int
		s      string
		err    error
	)
	if chunk.Id, off, err = ord.String.Unmarshal(data); err != nil {
		return nil, wrapSerErr(err)
	}
	n = off
	if chunk.DocumentId, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.Seq, off, err = varint.Int.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.Text, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.Fingerprint, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.TokenCount, off, err = varint.Int.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.Page, off, err = varint.Int.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.Section, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.PrevId, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.NextId, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if s, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	chunk.Kind = core.ChunkKind(s)
	n += off
	if chunk.ModelVersion, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.EmbeddingId, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.SupersededBy, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if chunk.CreatedAt, _, err = unmarshalTime(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	return chunk, nil
}

func sizeChunk(chunk *core.Chunk) int {
	size := ord.String.Size(chunk.Id)
	size += ord.String.Size(chunk.DocumentId)
	size += varint.Int.Size(chunk.Seq)
	size += ord.String.Size(chunk.Text)
	size += ord.String.Size(chunk.Fingerprint)
	size += varint.Int.Size(chunk.TokenCount)
	size += varint.Int.Size(chunk.Page)
	size += ord.String.Size(chunk.Section)
	size += ord.String.Size(chunk.PrevId)
	size += ord.String.Size(chunk.NextId)
	size += ord.String.Size(string(chunk.Kind))
	size += ord.String.Size(chunk.ModelVersion)
	size += ord.String.Size(chunk.EmbeddingId)
	size += ord.String.Size(chunk.SupersededBy)
	size += sizeTime(chunk.CreatedAt)
	return size
}

// MarshalVectorPoint serializes a VectorPoint to bytes.
func MarshalVectorPoint(point *core.VectorPoint) []byte {
	buf := make([]byte, sizeVectorPoint(point))
	n := ord.String.Marshal(point.Id, buf)
	n += marshalVector(point.Vector, buf[n:])
	n += ord.String.Marshal(point.Payload.DocumentId, buf[n:])
	n += ord.String.Marshal(point.Payload.ChunkId, buf[n:])
	marshalStringMap(point.Payload.Metadata, buf[n:])
	return buf
}

// UnmarshalVectorPoint deserializes a VectorPoint from bytes.
func UnmarshalVectorPoint(data []byte) (*core.VectorPoint, error) {
	point := &core.VectorPoint{}
	var (
		n, off int
		err    error
	)
	if point.Id, off, err = ord.String.Unmarshal(data); err != nil {
		return nil, wrapSerErr(err)
	}
	n = off
	if point.Vector, off, err = unmarshalVector(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if point.Payload.DocumentId, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if point.Payload.ChunkId, off, err = ord.String.Unmarshal(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	n += off
	if point.Payload.Metadata, _, err = unmarshalStringMap(data[n:]); err != nil {
		return nil, wrapSerErr(err)
	}
	return point, nil
}

func sizeVectorPoint(point *core.VectorPoint) int {
	size := ord.String.Size(point.Id)
	size += sizeVector(point.Vector)
	size += ord.String.Size(point.Payload.DocumentId)
	size += ord.String.Size(point.Payload.ChunkId)
	size += sizeStringMap(point.Payload.Metadata)
	return size
}

func marshalStats(stats core.ProcessingStats, bs []byte) int {
	n := varint.Int.Marshal(stats.SegmentCount, bs)
	n += varint.Int.Marshal(stats.ChunkCount, bs[n:])
	n += varint.Int.Marshal(stats.EmbeddingCount, bs[n:])
	n += varint.Int.Marshal(stats.WrittenCount, bs[n:])
	n += varint.Int64.Marshal(int64(stats.Elapsed), bs[n:])
	return n
}

func unmarshalStats(bs []byte) (core.ProcessingStats, int, error) {
	var (
		stats   core.ProcessingStats
		n, off  int
		elapsed int64
		err     error
	)
	if stats.SegmentCount, off, err = varint.Int.Unmarshal(bs); err != nil {
		return stats, 0, err
	}
	n = off
	if stats.ChunkCount, off, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return stats, 0, err
	}
	n += off
	if stats.EmbeddingCount, off, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return stats, 0, err
	}
	n += off
	if stats.WrittenCount, off, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return stats, 0, err
	}
	n += off
	if elapsed, off, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return stats, 0, err
	}
	n += off
	stats.Elapsed = time.Duration(elapsed)
	return stats, n, nil
}

func sizeStats(stats core.ProcessingStats) int {
	size := varint.Int.Size(stats.SegmentCount)
	size += varint.Int.Size(stats.ChunkCount)
	size += varint.Int.Size(stats.EmbeddingCount)
	size += varint.Int.Size(stats.WrittenCount)
	size += varint.Int64.Size(int64(stats.Elapsed))
	return size
}

func marshalVector(v []float32, bs []byte) int {
	n := varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += varint.Uint32.Marshal(math.Float32bits(f), bs[n:])
	}
	return n
}

func unmarshalVector(bs []byte) ([]float32, int, error) {
	count, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, 0, err
	}
	if count == 0 {
		return nil, n, nil
	}
	v := make([]float32, count)
	for i := 0; i < count; i++ {
		bits, off, err := varint.Uint32.Unmarshal(bs[n:])
		if err != nil {
			return nil, 0, err
		}
		v[i] = math.Float32frombits(bits)
		n += off
	}
	return v, n, nil
}

func sizeVector(v []float32) int {
	size := varint.Int.Size(len(v))
	for _, f := range v {
		size += varint.Uint32.Size(math.Float32bits(f))
	}
	return size
}

func marshalStringMap(m map[string]string, bs []byte) int {
	n := varint.Int.Marshal(len(m), bs)
	for k, v := range m {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(v, bs[n:])
	}
	return n
}

func unmarshalStringMap(bs []byte) (map[string]string, int, error) {
	count, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, 0, err
	}
	if count == 0 {
		return nil, n, nil
	}
	m := make(map[string]string, count)
	for i := 0; i < count; i++ {
		k, off, err := ord.String.Unmarshal(bs[n:])
		if err != nil {
			return nil, 0, err
		}
		n += off
		v, off, err := ord.String.Unmarshal(bs[n:])
		if err != nil {
			return nil, 0, err
		}
		n += off
		m[k] = v
	}
	return m, n, nil
}

func sizeStringMap(m map[string]string) int {
	size := varint.Int.Size(len(m))
	for k, v := range m {
		size += ord.String.Size(k)
		size += ord.String.Size(v)
	}
	return size
}

func marshalTime(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	micros, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, 0, err
	}
	return time.UnixMicro(micros).UTC(), n, nil
}

func sizeTime(t time.Time) int {
	return varint.Int64.Size(t.UnixMicro())
}

func wrapSerErr(err error) error {
	return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
}
