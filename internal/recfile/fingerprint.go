// Fingerprint computation, mirroring the selectable-algorithm shape of
// jpl-au-folio/hash.go (AlgXXHash3/AlgFNV1a/AlgBlake2b) but returning a
// raw uint64 instead of a hex string, since the fingerprint here is a
// binary index key rather than a printable document ID.
package recfile

import (
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint algorithm selectors, same numbering as folio's Config.HashAlgorithm.
const (
	AlgXXHash3 = 1 // default, fastest
	AlgFNV1a   = 2 // no external dependencies
	AlgBlake2b = 3 // best distribution
)

// sentinelEmpty and sentinelDeleted are the two fingerprint values the
// index format reserves (spec §9, open question 2): 0 means EMPTY, ~0
// means DELETED. Fingerprint must never return either.
const (
	sentinelEmpty   = 0
	sentinelDeleted = ^uint64(0)
)

// Fingerprint computes the 64-bit content hash of key using algorithm alg,
// rehashing if the result collides with a reserved sentinel value so that
// every fingerprint the index ever stores is safe to distinguish from an
// EMPTY or DELETED slot.
func Fingerprint(key []byte, alg int) uint64 {
	fp := fingerprint(key, alg)
	for fp == sentinelEmpty || fp == sentinelDeleted {
		// Re-hash the hash itself; this happens for at most a
		// vanishingly small fraction of keys and must still be
		// deterministic for a given key.
		var buf [8]byte
		for i := range buf {
			buf[i] = byte(fp >> (8 * i))
		}
		fp = fingerprint(buf[:], alg)
	}
	return fp
}

func fingerprint(key []byte, alg int) uint64 {
	switch alg {
	case AlgXXHash3:
		return xxh3.Hash(key)
	case AlgFNV1a:
		h := fnv.New64a()
		h.Write(key)
		return h.Sum64()
	case AlgBlake2b:
		h, _ := blake2b.New(8, nil)
		h.Write(key)
		sum := h.Sum(nil)
		var v uint64
		for i := 0; i < 8 && i < len(sum); i++ {
			v |= uint64(sum[i]) << (8 * i)
		}
		return v
	default:
		return xxh3.Hash(key)
	}
}
