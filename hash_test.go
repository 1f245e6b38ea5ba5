package cuckoocache

import "testing"

func TestCandidateSlotsDistinctHalves(t *testing.T) {
	const bucketCount = 1024
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma-delta-epsilon")}
	for _, k := range keys {
		b1, b2, d1, d2 := candidateSlots(42, bucketCount, k)
		if b1 >= bucketCount {
			t.Fatalf("b1 = %d, want < %d", b1, bucketCount)
		}
		if b2 < bucketCount || b2 >= 2*bucketCount {
			t.Fatalf("b2 = %d, want in [%d, %d)", b2, bucketCount, 2*bucketCount)
		}
		if d1 == 0 || d2 == 0 {
			t.Fatalf("digest must never be zero: d1=%d d2=%d", d1, d2)
		}
	}
}

func TestCandidateSlotsDeterministic(t *testing.T) {
	key := []byte("stable-key")
	b1a, b2a, d1a, d2a := candidateSlots(7, 256, key)
	b1b, b2b, d1b, d2b := candidateSlots(7, 256, key)
	if b1a != b1b || b2a != b2b || d1a != d1b || d2a != d2b {
		t.Fatalf("candidateSlots is not deterministic for the same seed and key")
	}
}

func TestCandidateSlotsDifferentSeedsDiverge(t *testing.T) {
	key := []byte("some-key")
	b1a, b2a, _, _ := candidateSlots(1, 1024, key)
	b1b, b2b, _, _ := candidateSlots(2, 1024, key)
	if b1a == b1b && b2a == b2b {
		t.Fatalf("two different seeds produced the same candidate pair; seed is not being mixed in")
	}
}
