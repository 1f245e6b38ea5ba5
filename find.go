package cuckoocache

// Find scans the primary candidate bucket, then the secondary, promoting a
// hit to MRU. On a hit the returned guard holds the owning stripe lock; the
// caller must call Unlock once finished with the value. A miss returns
// ok=false with no lock held.
func (t *Table) Find(key []byte) (guard *ValueGuard, ok bool) {
	b1, b2, d1, d2 := candidateSlots(t.seed, t.bucketCount, key)

	s1 := t.stripeFor(b1)
	s1.mu.Lock()
	bk1 := &t.buckets[b1]
	if pos, hit := bk1.scan(d1); hit {
		matched := bk1.promoteMRU(pos, true)
		return &ValueGuard{table: t, stripe: s1, bucketIndex: b1, dataSlot: matched.dataSlot()}, true
	}
	s1.mu.Unlock()

	s2 := t.stripeFor(b2)
	s2.mu.Lock()
	bk2 := &t.buckets[b2]
	if pos, hit := bk2.scan(d2); hit {
		matched := bk2.promoteMRU(pos, true)
		return &ValueGuard{table: t, stripe: s2, bucketIndex: b2, dataSlot: matched.dataSlot()}, true
	}
	s2.mu.Unlock()

	return nil, false
}
