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


package dedup

import (
	"hash/fnv"
	"sync"
)

const indexShards = 32

// Index is a sharded in-memory fingerprint index mapping fingerprint plus
// model version to the canonical chunk ID. It accelerates exact-duplicate
// lookups; the persisted fingerprint index in the chunk store remains the
// source of truth across restarts.
//
// PutIfAbsent is atomic per key, so under concurrent resolution of the same
// fingerprint exactly one caller wins and all others observe the winner.
type Index struct {
	shards [indexShards]indexShard
}

type indexShard struct {
	mu sync.Mutex
	m  map[string]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i].m = make(map[string]string)
	}
	return idx
}

func indexKey(fingerprint, modelVersion string) string {
	return fingerprint + "\x00" + modelVersion
}

func (idx *Index) shard(key string) *indexShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &idx.shards[h.Sum32()%indexShards]
}

// Get returns the canonical chunk ID for a fingerprint, if known.
func (idx *Index) Get(fingerprint, modelVersion string) (string, bool) {
	key := indexKey(fingerprint, modelVersion)
	s := idx.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.m[key]
	return id, ok
}

// PutIfAbsent records chunkID as canonical for the fingerprint unless a
// canonical already exists. Returns the canonical ID and whether this call
// inserted it.
func (idx *Index) PutIfAbsent(fingerprint, modelVersion, chunkID string) (string, bool) {
	key := indexKey(fingerprint, modelVersion)
	s := idx.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.m[key]; ok {
		return existing, false
	}
	s.m[key] = chunkID
	return chunkID, true
}

// Len returns the number of indexed fingerprints.
func (idx *Index) Len() int {
	total := 0
	for i := range idx.shards {
		s := &idx.shards[i]
		s.mu.Lock()
		total += len(s.m)
		s.mu.Unlock()
	}
	return total
}
