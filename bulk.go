package cuckoocache

// Flush: under the master lock, every bucket's descriptors
// reset to (digest=0, data-slot=position). The value arena is not
// explicitly zeroed; cells are zeroed lazily on reuse by FindOrInsert.
func (t *Table) Flush() {
	t.master.Lock()
	defer t.master.Unlock()
	t.lockAllStripesAscending()
	defer t.unlockAllStripesAscending()

	for i := range t.buckets {
		t.buckets[i].reset()
	}
}

// Scour: under the master lock, invoke cb once per
// occupied descriptor with its value cell. The table is not modified.
func (t *Table) Scour(cb EvictionFunc, userContext any) {
	t.master.Lock()
	defer t.master.Unlock()
	t.lockAllStripesAscending()
	defer t.unlockAllStripesAscending()

	t.scourLocked(cb, userContext)
}

// scourLocked assumes the master lock and every stripe are already held.
func (t *Table) scourLocked(cb EvictionFunc, userContext any) {
	if cb == nil {
		return
	}
	for bIdx := range t.buckets {
		bk := &t.buckets[bIdx]
		for pos := 0; pos < slotsPerBucket; pos++ {
			d := bk[pos]
			if d.empty() {
				continue
			}
			cb(t.cell(uint32(bIdx), d.dataSlot()), userContext)
		}
	}
}

// ScourAndFlush: scour, then reset descriptors in the same
// master-locked pass.
func (t *Table) ScourAndFlush(cb EvictionFunc, userContext any) {
	t.master.Lock()
	defer t.master.Unlock()
	t.lockAllStripesAscending()
	defer t.unlockAllStripesAscending()

	t.scourLocked(cb, userContext)
	for i := range t.buckets {
		t.buckets[i].reset()
	}
}

// Destroy releases the table's memory. It is safe to call only once, by
// the last sharer; subsequent calls are no-ops. Destroy does not invoke the
// eviction callback on remaining contents — use ScourAndDestroy for that.
func (t *Table) Destroy() {
	t.destroyOnce.Do(func() {
		t.destroyed.Store(true)
		t.buckets = nil
		t.arena = nil
	})
}

// ScourAndDestroy scours the table (invoking cb on every occupied record)
// and then destroys it.
func (t *Table) ScourAndDestroy(cb EvictionFunc, userContext any) {
	t.Scour(cb, userContext)
	t.Destroy()
}
