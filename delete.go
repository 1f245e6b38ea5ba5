package cuckoocache

// Delete removes key from whichever candidate bucket holds it and reports
// whether a record was found. Removed cells never trigger the eviction
// callback.
func (t *Table) Delete(key []byte) bool {
	b1, b2, d1, d2 := candidateSlots(t.seed, t.bucketCount, key)

	s1 := t.stripeFor(b1)
	s1.mu.Lock()
	bk1 := &t.buckets[b1]
	if pos, hit := bk1.scan(d1); hit {
		bk1.removeAt(pos)
		s1.mu.Unlock()
		return true
	}
	s1.mu.Unlock()

	s2 := t.stripeFor(b2)
	s2.mu.Lock()
	bk2 := &t.buckets[b2]
	if pos, hit := bk2.scan(d2); hit {
		bk2.removeAt(pos)
		s2.mu.Unlock()
		return true
	}
	s2.mu.Unlock()

	return false
}
