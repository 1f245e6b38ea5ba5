package cuckoocache

// bucket is the fixed-width, 16-wide ordered sequence of slot descriptors.
// Position 0 is MRU, position 15 is LRU; operations below are the only code
// allowed to reorder it.
type bucket [slotsPerBucket]slotDescriptor

func newBucket() bucket {
	var b bucket
	for i := range b {
		b[i] = emptyDescriptor(uint8(i))
	}
	return b
}

// scan returns the position of the descriptor matching digest, or ok=false.
func (b *bucket) scan(digest uint32) (pos int, ok bool) {
	for i := 0; i < slotsPerBucket; i++ {
		if b[i].digest() == digest {
			return i, true
		}
	}
	return 0, false
}

// depth is the highest occupied position plus one, 0 if the bucket is empty.
func (b *bucket) depth() int {
	for i := slotsPerBucket - 1; i >= 0; i-- {
		if !b[i].empty() {
			return i + 1
		}
	}
	return 0
}

// promoteMRU moves the descriptor at pos to position 0, shifting 0..pos-1
// one step toward the tail. preserving keeps each tail position's (8..15)
// own epoch bit in place; non-preserving (used right after an insert, which
// immediately re-stamps the whole bucket) moves descriptors whole.
func (b *bucket) promoteMRU(pos int, preserving bool) slotDescriptor {
	matched := b[pos]
	for i := pos; i > 0; i-- {
		src := b[i-1]
		if preserving && i >= tailStart {
			b[i] = src.withEpochBit(b[i].epochBit())
		} else {
			b[i] = src
		}
	}
	b[0] = matched
	return matched
}

// removeAt clears the descriptor at pos and sinks it to the LRU position
// (15), preserving its data-slot index so the bucket's permutation of
// data-slot indices is unchanged. Descriptors at pos+1..15 shift one step
// toward the head; tail epoch bits stay with their positions.
func (b *bucket) removeAt(pos int) {
	dataSlot := b[pos].dataSlot()
	for i := pos; i < slotsPerBucket-1; i++ {
		src := b[i+1]
		if i >= tailStart {
			b[i] = src.withEpochBit(b[i].epochBit())
		} else {
			b[i] = src
		}
	}
	b[slotsPerBucket-1] = newDescriptor(0, b[slotsPerBucket-1].epochBit(), dataSlot)
}

// writeStamp stamps the current table epoch across the bucket's eight tail
// epoch bits, one bit per tail position.
func (b *bucket) writeStamp(epoch uint8) {
	for i := 0; i < tailStart; i++ {
		pos := tailStart + i
		bitSet := (epoch>>uint(i))&1 == 1
		b[pos] = b[pos].withEpochBit(bitSet)
	}
}

// readStamp reconstructs the 8-bit stamp from the tail epoch bits.
func (b *bucket) readStamp() uint8 {
	var stamp uint8
	for i := 0; i < tailStart; i++ {
		if b[tailStart+i].epochBit() {
			stamp |= 1 << uint(i)
		}
	}
	return stamp
}

// age returns how many epochs have elapsed since this bucket was last
// stamped, wrapping modulo 256.
func (b *bucket) age(tableEpoch uint8) uint8 {
	return tableEpoch - b.readStamp()
}

// reset restores the bucket to its empty, data-slot-sorted state (used by flush).
func (b *bucket) reset() {
	for i := range b {
		b[i] = emptyDescriptor(uint8(i))
	}
}
