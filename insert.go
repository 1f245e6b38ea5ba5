package cuckoocache

import "go.uber.org/zap"

// FindOrInsert returns a guard over a value cell that
// either already corresponds to key, or has just been zeroed and evicted
// into for key. The stripe lock backing the chosen bucket is held on
// return; the caller must call Unlock once it has finished writing.
func (t *Table) FindOrInsert(key []byte) *ValueGuard {
	b1, b2, d1, d2 := candidateSlots(t.seed, t.bucketCount, key)

	idx1 := t.stripeIndex(b1)
	idx2 := t.stripeIndex(b2)
	same := idx1 == idx2
	t.lockStripePair(idx1, idx2, same)

	bk1 := &t.buckets[b1]
	if pos, hit := bk1.scan(d1); hit {
		if !same {
			t.stripes[idx2].mu.Unlock()
		}
		matched := bk1.promoteMRU(pos, true)
		return &ValueGuard{table: t, stripe: t.stripeFor(b1), bucketIndex: b1, dataSlot: matched.dataSlot()}
	}

	bk2 := &t.buckets[b2]
	if pos, hit := bk2.scan(d2); hit {
		if !same {
			t.stripes[idx1].mu.Unlock()
		}
		matched := bk2.promoteMRU(pos, true)
		return &ValueGuard{table: t, stripe: t.stripeFor(b2), bucketIndex: b2, dataSlot: matched.dataSlot()}
	}

	// Both missed: choose the victim bucket. Prefer the shallower bucket;
	// on a depth tie, prefer the older one by epoch stamp.
	chooseFirst := t.pickVictim(bk1, bk2)

	var (
		victimBucket      *bucket
		victimBucketIndex uint32
		victimDigest      uint32
		chosenIdx         int
	)
	if chooseFirst {
		if !same {
			t.stripes[idx2].mu.Unlock()
		}
		victimBucket, victimBucketIndex, victimDigest, chosenIdx = bk1, b1, d1, idx1
	} else {
		if !same {
			t.stripes[idx1].mu.Unlock()
		}
		victimBucket, victimBucketIndex, victimDigest, chosenIdx = bk2, b2, d2, idx2
	}

	return t.evictAndInsert(victimBucket, victimBucketIndex, victimDigest, chosenIdx)
}

func (t *Table) lockStripePair(idx1, idx2 int, same bool) {
	if same {
		t.stripes[idx1].mu.Lock()
		return
	}
	if idx1 < idx2 {
		t.stripes[idx1].mu.Lock()
		t.stripes[idx2].mu.Lock()
	} else {
		t.stripes[idx2].mu.Lock()
		t.stripes[idx1].mu.Lock()
	}
}

// pickVictim reports whether bucket 1 (true) or bucket 2 (false) should be
// evicted into.
func (t *Table) pickVictim(bk1, bk2 *bucket) bool {
	depth1, depth2 := bk1.depth(), bk2.depth()
	if depth1 != depth2 {
		return depth1 < depth2
	}
	age1, age2 := bk1.age(t.epoch8()), bk2.age(t.epoch8())
	return age1 >= age2
}

// evictAndInsert performs the final eviction and insert against the already-chosen,
// already-exclusively-locked victim bucket.
func (t *Table) evictAndInsert(victim *bucket, bucketIndex uint32, digest uint32, stripeIdx int) *ValueGuard {
	const tailPos = slotsPerBucket - 1

	tail := victim[tailPos]
	dataSlot := tail.dataSlot()
	cell := t.cell(bucketIndex, dataSlot)

	if !tail.empty() {
		n := t.dropCount.Add(1)
		if ce := t.logger.Check(zap.DebugLevel, "forced eviction"); ce != nil {
			ce.Write(zap.Uint32("bucket", bucketIndex), zap.Uint64("drop_count", n))
		}
		if fn, ctx := t.evictionCallback(); fn != nil {
			fn(cell, ctx)
		}
	}

	zeroBytes(cell)

	victim[tailPos] = newDescriptor(digest, false, dataSlot)
	victim.promoteMRU(tailPos, false)
	victim.writeStamp(t.epoch8())

	if t.insertsThisEpoch.Add(1) >= t.insertsPerEpochLimit {
		t.insertsThisEpoch.Store(0)
		t.epoch.Add(1)
	}

	return &ValueGuard{table: t, stripe: &t.stripes[stripeIdx], bucketIndex: bucketIndex, dataSlot: dataSlot}
}
