package cuckoocache

import "sync"

// WalkVisitFunc is called once per occupied record a Walker step visits.
// Returning false ("drop") clears that slot's digest in place; the slot's
// data-slot index is left untouched so the bucket's permutation invariant
// holds. Returning true keeps the record.
type WalkVisitFunc func(value []byte, userContext any) bool

// Walker is the one-bucket-per-step iterator. Multiple walkers
// may coexist on the same table, each with its own cursor; a walker sees
// whatever is in the bucket it visits at the moment it gets there —
// concurrent finds/inserts/deletes may change what a later step sees.
type Walker struct {
	table *Table
	mu    sync.Mutex // serializes Step against itself

	rowCursor   uint32
	loopCount   uint64
	visit       WalkVisitFunc
	userContext any
}

// NewWalker creates a walker bound to t, starting at row 0.
func (t *Table) NewWalker(visit WalkVisitFunc, userContext any) *Walker {
	return &Walker{table: t, visit: visit, userContext: userContext}
}

// Step visits every occupied descriptor in the current row, advances the
// cursor by one bucket (wrapping and incrementing LoopCount at the end of
// the table), and returns the number of records visited this step.
func (w *Walker) Step() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	t := w.table
	row := w.rowCursor
	s := t.stripeFor(row)

	s.mu.Lock()
	bk := &t.buckets[row]
	visited := 0
	for pos := 0; pos < slotsPerBucket; pos++ {
		d := bk[pos]
		if d.empty() {
			continue
		}
		visited++
		keep := true
		if w.visit != nil {
			keep = w.visit(t.cell(row, d.dataSlot()), w.userContext)
		}
		if !keep {
			bk[pos] = d.clearDigest()
		}
	}
	s.mu.Unlock()

	w.rowCursor++
	if w.rowCursor >= t.indexSpace {
		w.rowCursor = 0
		w.loopCount++
	}
	return visited
}

// RowCursor and LoopCount expose the walker's advisory position; there is
// no restart primitive.
func (w *Walker) RowCursor() uint32 { return w.rowCursor }
func (w *Walker) LoopCount() uint64 { return w.loopCount }
