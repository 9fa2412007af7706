// package zkc holds the constants and hash functions shared by both lowering pipelines.
package zkc

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"

	"zkc.dev/zkc/internal/cadata"
)

const (
	// FieldSize is the size of a machine word in bytes.
	FieldSize = 32
	// X32Size is the size of the selector prefix of a deployer call.
	X32Size = 4
	// HeaderSize is the size of the deployer call header, preceding the embedded bytecode hash.
	HeaderSize = X32Size + FieldSize

	// MaxSizeBytes is the largest artifact accepted by the blob stores.
	MaxSizeBytes = 1 << 24
)

type (
	// CID is a Content ID
	CID = cadata.ID

	Store  = cadata.Store
	Getter = cadata.Getter
	Poster = cadata.Poster
)

// Hash calculates the hash of x.
// If tag == nil, then the hash is unkeyed.
// If tag != nil, then the hash will be keyed with the tag.
func Hash(tag *cadata.ID, x []byte) (ret cadata.ID) {
	var key []byte
	if tag != nil {
		key = tag[:]
	}
	h := blake3.New(32, key)
	h.Write(x)
	h.Sum(ret[:0])
	return ret
}

// Keccak256 is the legacy Ethereum Keccak-256 of x.
func Keccak256(xs ...[]byte) (ret [32]byte) {
	h := sha3.NewLegacyKeccak256()
	for _, x := range xs {
		h.Write(x)
	}
	h.Sum(ret[:0])
	return ret
}

// Keccak256Hex returns the Keccak-256 of x as lower case hex without a prefix.
func Keccak256Hex(x []byte) string {
	h := Keccak256(x)
	return hex.EncodeToString(h[:])
}
