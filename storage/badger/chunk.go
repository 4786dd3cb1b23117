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


package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
// Alongside chunk records it maintains two indices: a per-document index
// ordered by sequence, and the fingerprint index used for cross-run
// deduplication.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (*ChunkRepository, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	return &ChunkRepository{backend: backend}, nil
}

// SaveBatch persists a batch of chunks. Idempotent by chunk ID: a chunk key
// that already exists is overwritten with identical content, so replaying a
// batch leaves the store unchanged. The fingerprint index is first-writer-wins:
// an existing fingerprint entry is never repointed.
func (r *ChunkRepository) SaveBatch(ctx context.Context, chunks ...*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if err := core.ValidateChunk(chunk); err != nil {
				return err
			}
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = time.Now().UTC()
			}

			if err := tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk)); err != nil {
				return err
			}

			docKey := makeChunkDocKey(chunk.DocumentId, chunk.Seq)
			if err := tx.Set(docKey, []byte(chunk.Id)); err != nil {
				return err
			}

			// Superseded chunks never own a fingerprint entry.
			if chunk.SupersededBy != "" {
				continue
			}

			fpKey := makeFingerprintKey(chunk.Fingerprint, chunk.ModelVersion)
			if _, err := tx.Get(fpKey); err == badger.ErrKeyNotFound {
				if err := tx.Set(fpKey, []byte(chunk.Id)); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetChunk retrieves a single chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id string) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		chunk, err = readChunk(tx, makeChunkKey(id))
		if err != nil {
			return err
		}
		if chunk == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// GetChunksByDocument retrieves all chunks of a document in sequence order.
func (r *ChunkRepository) GetChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkDocKey(documentID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var chunkID string
			if err := iter.Item().Value(func(val []byte) error {
				chunkID = string(val)
				return nil
			}); err != nil {
				return err
			}

			chunk, err := readChunk(tx, makeChunkKey(chunkID))
			if err != nil {
				return err
			}
			if chunk != nil {
				chunks = append(chunks, chunk)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// FindByFingerprint looks up the canonical chunk for a content fingerprint
// scoped to an embedding model version.
func (r *ChunkRepository) FindByFingerprint(ctx context.Context, fingerprint, modelVersion string) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeFingerprintKey(fingerprint, modelVersion))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		var chunkID string
		if err := item.Value(func(val []byte) error {
			chunkID = string(val)
			return nil
		}); err != nil {
			return err
		}

		chunk, err = readChunk(tx, makeChunkKey(chunkID))
		if err != nil {
			return err
		}
		if chunk == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// MarkSuperseded records that a chunk was merged into a canonical chunk.
func (r *ChunkRepository) MarkSuperseded(ctx context.Context, id, canonicalID string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeChunkKey(id)
		chunk, err := readChunk(tx, key)
		if err != nil {
			return err
		}
		if chunk == nil {
			return storage.ErrNotFound
		}

		chunk.SupersededBy = canonicalID
		if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Close closes the repository. The shared backend is closed by its owner.
func (r *ChunkRepository) Close() error {
	return nil
}

// readChunk reads and deserializes a chunk within a transaction.
// Returns nil, nil when the key does not exist.
func readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		chunk, unmarshalErr = storage.UnmarshalChunk(val)
		return unmarshalErr
	})
	return chunk, err
}
