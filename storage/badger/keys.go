package badger

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for different data types
const (
	documentPrefix    = "docrec"
	chunkPrefix       = "chkrec"
	chunkDocPrefix    = "chkdoc"
	fingerprintPrefix = "chkfpr"
	vectorPrefix      = "vecrec"
)

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentPrefix, id))
}

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", chunkPrefix, id))
}

// makeChunkDocKey generates a composite key for the per-document chunk index.
// Format: prefix:documentID:seq
// The sequence is written in BigEndian order so lexicographic iteration
// yields chunks in emission order.
func makeChunkDocKey(documentID string, seq int) []byte {
	prefix := fmt.Sprintf("%s:%s:", chunkDocPrefix, documentID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(seq))
	return buf
}

// makePartialChunkDocKey generates a partial key for per-document iteration.
func makePartialChunkDocKey(documentID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", chunkDocPrefix, documentID))
}

// makeFingerprintKey generates a composite key for the fingerprint index,
// scoped per embedding model version.
// Format: prefix:modelVersion:fingerprint
func makeFingerprintKey(fingerprint, modelVersion string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", fingerprintPrefix, modelVersion, fingerprint))
}

// makeVectorKey generates a key for a vector point by ID.
func makeVectorKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", vectorPrefix, id))
}
