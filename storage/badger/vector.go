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

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docpipe/core"
	"github.com/poiesic/docpipe/storage"
)

// VectorStore implements storage.VectorStore for BadgerDB. It stands in for
// the external vector database behind the same narrow upsert contract: fixed
// dimension per collection, idempotent upserts by point ID.
type VectorStore struct {
	backend   *Backend
	dimension int
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates a new VectorStore with a fixed collection dimension.
func NewVectorStore(backend *Backend, dimension int) (*VectorStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &VectorStore{backend: backend, dimension: dimension}, nil
}

// UpsertBatch writes a batch of points. Dimensions are validated before any
// write so a mismatch never leaves a partial batch behind.
func (s *VectorStore) UpsertBatch(ctx context.Context, points ...*core.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	for _, point := range points {
		if len(point.Vector) != s.dimension {
			return fmt.Errorf("%w: point %s has dimension %d, collection expects %d",
				core.ErrDimensionMismatch, point.Id, len(point.Vector), s.dimension)
		}
	}

	return s.backend.WithTx(func(tx *badger.Txn) error {
		for _, point := range points {
			if err := tx.Set(makeVectorKey(point.Id), storage.MarshalVectorPoint(point)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Get retrieves a point by ID.
func (s *VectorStore) Get(ctx context.Context, id string) (*core.VectorPoint, error) {
	var point *core.VectorPoint
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeVectorKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			point, unmarshalErr = storage.UnmarshalVectorPoint(val)
			return unmarshalErr
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return point, nil
}

// Count returns the number of points in the collection.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Dimension returns the fixed vector dimension of the collection.
func (s *VectorStore) Dimension() int {
	return s.dimension
}

// Close closes the store. The shared backend is closed by its owner.
func (s *VectorStore) Close() error {
	return nil
}
