package dedup

import (
	"hash/fnv"
	"math"
)

// Signature is a MinHash signature: one minimum per hash function.
type Signature []uint32

// MinHasher computes signatures with a fixed family of seeded hash functions.
type MinHasher struct {
	shingleSize int
	seeds       []uint64
}

func NewMinHasher(numHashes, shingleSize int) *MinHasher {
	seeds := make([]uint64, numHashes)
	for i := range seeds {
		seeds[i] = splitmix64(uint64(i) + 1)
	}
	return &MinHasher{shingleSize: shingleSize, seeds: seeds}
}

// Signature of text. Text without shingles gets the all-max sentinel.
func (m *MinHasher) Signature(text string) Signature {
	sig := make(Signature, len(m.seeds))
	for i := range sig {
		sig[i] = math.MaxUint32
	}

	shingles := Shingles(text, m.shingleSize)
	if len(shingles) == 0 {
		return sig
	}

	for sh := range shingles {
		base := hashShingle(sh)
		for i, seed := range m.seeds {
			if v := uint32(splitmix64(base^seed) >> 32); v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// IsSentinel reports whether sig is the empty-text signature.
func (s Signature) IsSentinel() bool {
	for _, v := range s {
		if v != math.MaxUint32 {
			return false
		}
	}
	return true
}

// Similarity is the fraction of positions where a and b agree, an estimate of the Jaccard
// similarity of the underlying shingle sets. The sentinel never matches anything.
func Similarity(a, b Signature) float64 {
	if len(a) == 0 || len(a) != len(b) || a.IsSentinel() || b.IsSentinel() {
		return 0
	}
	agree := 0
	for i := range a {
		if a[i] == b[i] {
			agree++
		}
	}
	return float64(agree) / float64(len(a))
}

func hashShingle(s string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(s))
	return hasher.Sum64()
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
