package cuckoocache

import "github.com/cespare/xxhash/v2"

// Two fixed odd 64-bit multipliers used to derive the pair of candidate
// bucket indices and digests from a single 64-bit hash. The original
// C implementation this spec was distilled from treats the exact constants
// as a private implementation detail, so these are ours: both are odd,
// both come from well-known 64-bit mixing constants (Knuth's and Murmur3's),
// and neither is a multiple of the other.
const (
	hashConstant1 uint64 = 0x9E3779B97F4A7C15
	hashConstant2 uint64 = 0xFF51AFD7ED558CCD

	// defaultDigest substitutes for a digest that would otherwise be zero,
	// since digest==0 denotes an empty slot.
	defaultDigest uint32 = 0x2A2A2A
)

// seededHash64 computes a fast, non-cryptographic 64-bit hash of key, mixed
// with the table's per-instance seed. xxhash.Sum64 supplies the fast hash;
// the seed is folded in afterwards since this package's hash does not expose
// a seed parameter directly.
func seededHash64(seed uint32, key []byte) uint64 {
	h := xxhash.Sum64(key)
	s := uint64(seed) * hashConstant1
	return h ^ s
}

// candidateSlots computes the two distinct candidate bucket indices and
// their digests for key. b1 always lies in [0, bucketCount), b2
// always lies in [bucketCount, 2*bucketCount) — the two halves can never
// collide.
func candidateSlots(seed uint32, bucketCount uint32, key []byte) (b1, b2 uint32, d1, d2 uint32) {
	m := seededHash64(seed, key)
	p1 := m * hashConstant1
	p2 := m * hashConstant2

	mask := uint64(bucketCount - 1)
	b1 = uint32((p1 >> digestBits) & mask)
	b2 = uint32((p2>>digestBits)&mask) + bucketCount

	d1 = uint32(p1) & digestMask
	if d1 == 0 {
		d1 = defaultDigest
	}
	d2 = uint32(p2) & digestMask
	if d2 == 0 {
		d2 = defaultDigest
	}
	return
}
