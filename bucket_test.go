package cuckoocache

import "testing"

func TestBucketScanAndDepth(t *testing.T) {
	b := newBucket()
	if b.depth() != 0 {
		t.Fatalf("new bucket depth = %d, want 0", b.depth())
	}
	b[0] = newDescriptor(5, false, 0)
	b[1] = newDescriptor(7, false, 1)
	if pos, ok := b.scan(7); !ok || pos != 1 {
		t.Fatalf("scan(7) = (%d, %v), want (1, true)", pos, ok)
	}
	if _, ok := b.scan(99); ok {
		t.Fatalf("scan(99) should miss")
	}
	if b.depth() != 2 {
		t.Fatalf("depth = %d, want 2", b.depth())
	}
}

func TestBucketPromoteMRU(t *testing.T) {
	b := newBucket()
	for i := 0; i < 4; i++ {
		b[i] = newDescriptor(uint32(i+1), false, uint8(i))
	}
	// promote position 3 ("4") to the front.
	matched := b.promoteMRU(3, true)
	if matched.digest() != 4 {
		t.Fatalf("matched digest = %d, want 4", matched.digest())
	}
	if b[0].digest() != 4 {
		t.Fatalf("b[0] digest = %d, want 4", b[0].digest())
	}
	if b[1].digest() != 1 || b[2].digest() != 2 || b[3].digest() != 3 {
		t.Fatalf("unexpected shift: %v %v %v", b[1].digest(), b[2].digest(), b[3].digest())
	}
}

func TestBucketPromotePreservesTailEpochBits(t *testing.T) {
	b := newBucket()
	for i := tailStart; i < slotsPerBucket; i++ {
		b[i] = newDescriptor(uint32(i+1), i%2 == 0, uint8(i))
	}
	wantBit8 := b[tailStart].epochBit()
	matched := b.promoteMRU(tailStart+2, true)
	if matched.digest() != uint32(tailStart+2+1) {
		t.Fatalf("matched digest wrong: %d", matched.digest())
	}
	if b[tailStart].epochBit() != wantBit8 {
		t.Fatalf("position %d epoch bit changed across a preserving promote", tailStart)
	}
}

func TestBucketRemoveAtKeepsDataSlotPermutation(t *testing.T) {
	b := newBucket()
	b[0] = newDescriptor(10, false, 0)
	b[1] = newDescriptor(20, false, 1)
	b[2] = newDescriptor(30, false, 2)

	b.removeAt(1)

	if !b[slotsPerBucket-1].empty() {
		t.Fatalf("removed slot should be empty at the tail")
	}
	if b[slotsPerBucket-1].dataSlot() != 1 {
		t.Fatalf("removed descriptor lost its data slot: got %d, want 1", b[slotsPerBucket-1].dataSlot())
	}
	if b[0].digest() != 10 {
		t.Fatalf("position 0 should be untouched by removing position 1")
	}
	if b[1].digest() != 30 {
		t.Fatalf("position 1 should now hold what was at position 2, got digest %d", b[1].digest())
	}
}

func TestBucketStampRoundTrip(t *testing.T) {
	b := newBucket()
	b.writeStamp(0xA5)
	if got := b.readStamp(); got != 0xA5 {
		t.Fatalf("readStamp = %#x, want %#x", got, 0xA5)
	}
}

func TestBucketAgeWraps(t *testing.T) {
	b := newBucket()
	b.writeStamp(250)
	if got := b.age(252); got != 2 {
		t.Fatalf("age(252) = %d, want 2", got)
	}
	if got := b.age(1); got != 7 { // wraps modulo 256: 1 - 250 = -249 = 7 mod 256
		t.Fatalf("age(1) = %d, want 7", got)
	}
}

func TestBucketReset(t *testing.T) {
	b := newBucket()
	b[3] = newDescriptor(123, true, 9)
	b.reset()
	if b.depth() != 0 {
		t.Fatalf("reset bucket depth = %d, want 0", b.depth())
	}
	for i := range b {
		if b[i].dataSlot() != uint8(i) {
			t.Fatalf("reset bucket lost data-slot permutation at %d: got %d", i, b[i].dataSlot())
		}
	}
}
