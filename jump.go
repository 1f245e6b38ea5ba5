package cuckoocache

// JumpToSlot addresses a value cell directly by (bucket, data-slot) without
// any hashing, for pre-known addressing patterns such as a graph embedded
// in the table. The caller must call Unlock on the returned guard.
func (t *Table) JumpToSlot(bucketIndex uint32, dataSlot uint8) (*ValueGuard, error) {
	if bucketIndex >= t.indexSpace || dataSlot >= slotsPerBucket {
		return nil, ErrInvalidParameter
	}
	s := t.stripeFor(bucketIndex)
	s.mu.Lock()
	return &ValueGuard{table: t, stripe: s, bucketIndex: bucketIndex, dataSlot: dataSlot}, nil
}

// MarkSlotUsed promotes the descriptor whose data-slot equals dataSlot to
// MRU, addressed by slot rather than by key. No digest is checked, matching
// the original calling convention: a caller using this must already
// be certain it still owns that slot.
func (t *Table) MarkSlotUsed(bucketIndex uint32, dataSlot uint8) error {
	if bucketIndex >= t.indexSpace || dataSlot >= slotsPerBucket {
		return ErrInvalidParameter
	}
	s := t.stripeFor(bucketIndex)
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := &t.buckets[bucketIndex]
	pos := findByDataSlot(bk, dataSlot)
	if pos < 0 {
		return ErrInvalidParameter
	}
	bk.promoteMRU(pos, true)
	return nil
}

// MarkSlotUsedIfDigest is the safer variant of MarkSlotUsed: it only
// promotes the slot if the descriptor there
// still carries expectedDigest, so a caller racing with eviction can't
// accidentally promote someone else's record. It reports whether the
// promotion happened.
func (t *Table) MarkSlotUsedIfDigest(bucketIndex uint32, dataSlot uint8, expectedDigest uint32) (bool, error) {
	if bucketIndex >= t.indexSpace || dataSlot >= slotsPerBucket {
		return false, ErrInvalidParameter
	}
	s := t.stripeFor(bucketIndex)
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := &t.buckets[bucketIndex]
	pos := findByDataSlot(bk, dataSlot)
	if pos < 0 || bk[pos].digest() != expectedDigest {
		return false, nil
	}
	bk.promoteMRU(pos, true)
	return true, nil
}

func findByDataSlot(bk *bucket, dataSlot uint8) int {
	for i := 0; i < slotsPerBucket; i++ {
		if bk[i].dataSlot() == dataSlot {
			return i
		}
	}
	return -1
}
