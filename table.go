// Package cuckoocache implements a bounded-memory, expiring associative
// store keyed on opaque byte strings. It approximates least-recently-used
// eviction locally within a multi-way, cuckoo-style bucket array, using
// striped locking for concurrency and epoch-stamped buckets to break
// eviction ties without any global coordination or timestamps.
package cuckoocache

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	minCapacity  = 4 * slotsPerBucket // 64, the absolute floor
	stripeBucket = 32                 // buckets per lock stripe
)

// EvictionFunc is called with the value cell about to be repurposed and the
// user context supplied at create/attach time, before the cell's contents
// are overwritten. The callback must not retain the slice it's given — it
// is only valid for the duration of the call.
type EvictionFunc func(value []byte, userContext any)

// evictionBinding pairs a callback with its context so both can be swapped
// atomically by SetEvictionCallback without a lock on the hot insert path.
type evictionBinding struct {
	fn  EvictionFunc
	ctx any
}

// CreateOptions configures Create. ValueSize is required; Capacity is
// rounded up to the nearest power of two no smaller than 64.
type CreateOptions struct {
	Capacity  uint64
	ValueSize uint32
	// Shared mirrors the create(capacity, value_size, shared_flag)
	// signature for embeddings that want to record intent up front; actual
	// sharing is arranged through AttachShared and the registry in
	// registry.go, not by this flag.
	Shared           bool
	EvictionCallback EvictionFunc
	CallbackContext  any
	Logger           *zap.Logger
}

// Table is the cuckoo-style bucket array plus its value arena, lock
// stripes, and epoch counter.
type Table struct {
	capacity    uint64
	bucketCount uint32 // per-half bucket count, used by the hash/digest generator and epoch tick rate
	indexSpace  uint32 // total bucket array length = 2*bucketCount
	valueSize   uint32
	seed        uint32

	// nextValue is an opaque counter the core never interprets; embeddings
	// that layer an autoincrement id generator on top of a table persist it
	// across Dump/Load.
	nextValue uint64

	insertsPerEpochLimit uint32
	epoch                atomic.Uint32 // low 8 bits significant
	insertsThisEpoch     atomic.Uint32
	dropCount            atomic.Uint64

	buckets []bucket
	arena   []byte

	stripes []stripeLock
	master  sync.RWMutex

	evictBinding atomic.Pointer[evictionBinding]

	logger *zap.Logger

	walkerMu  sync.Mutex
	walkerSeq uint64

	shareName   string
	destroyOnce sync.Once
	destroyed   atomic.Bool
}

type stripeLock struct {
	mu sync.Mutex
}

func nextPow2(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	if v&(v-1) == 0 {
		return v
	}
	return 1 << uint(bits.Len64(v))
}

// padValueSize: sizes {0,1,2,4} pass through
// unchanged, everything else rounds up to the next multiple of 8.
func padValueSize(v uint32) uint32 {
	switch v {
	case 0, 1, 2, 4:
		return v
	}
	if v%8 == 0 {
		return v
	}
	return (v/8 + 1) * 8
}

// Create allocates a new table. Allocation failure rolls back all state
// and returns ErrOutOfMemory with no side effects. A zero ValueSize is
// rejected with ErrInvalidParameter — the sole caller allowed a zero-length
// value is the existence-only filter, which must go through
// NewExistenceEngine instead.
func Create(opts CreateOptions) (*Table, error) {
	if opts.ValueSize == 0 {
		return nil, fmt.Errorf("%w: value size must be nonzero", ErrInvalidParameter)
	}
	return createTable(opts)
}

// NewExistenceEngine is the internal entry point the existence package
// funnels through: identical to Create except that it permits
// ValueSize==0, since an existence-only record carries no bytes, only a
// digest. Not intended for ordinary callers — use Create for anything that
// stores values.
func NewExistenceEngine(opts CreateOptions) (*Table, error) {
	return createTable(opts)
}

func createTable(opts CreateOptions) (*Table, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	requested := opts.Capacity
	if requested < minCapacity {
		logger.Warn("capacity below floor, rounding up",
			zap.Uint64("requested", requested), zap.Int("floor", minCapacity))
		requested = minCapacity
	}
	capacity := nextPow2(requested)

	valueSize := padValueSize(opts.ValueSize)

	bucketCount := uint32(capacity / (2 * slotsPerBucket))
	if bucketCount == 0 {
		bucketCount = 1
	}
	indexSpace := bucketCount * 2

	insertsPerEpochLimit := bucketCount / slotsPerBucket
	if insertsPerEpochLimit == 0 {
		insertsPerEpochLimit = 1
	}

	stripeCount := int(indexSpace) / stripeBucket
	if stripeCount == 0 {
		stripeCount = 1
	}

	arenaLen := capacity * uint64(valueSize)
	arena := make([]byte, arenaLen)
	if uint64(len(arena)) != arenaLen {
		return nil, ErrOutOfMemory
	}

	buckets := make([]bucket, indexSpace)
	for i := range buckets {
		buckets[i] = newBucket()
	}

	t := &Table{
		capacity:             capacity,
		bucketCount:          bucketCount,
		indexSpace:           indexSpace,
		valueSize:            valueSize,
		seed:                 randomSeed(),
		insertsPerEpochLimit: insertsPerEpochLimit,
		buckets:              buckets,
		arena:                arena,
		stripes:              make([]stripeLock, stripeCount),
		logger:               logger,
	}
	t.SetEvictionCallback(opts.EvictionCallback, opts.CallbackContext)
	t.epoch.Store(1)
	t.nextValue = 1
	return t, nil
}

// Capacity returns the table's rounded capacity (max concurrent records).
func (t *Table) Capacity() uint64 { return t.capacity }

// ValueSize returns the padded per-record value size.
func (t *Table) ValueSize() uint32 { return t.valueSize }

// Seed returns the per-instance digest seed, exposed for registration with
// a sharing registry.
func (t *Table) Seed() uint32 { return t.seed }

// NextValue returns the opaque autoincrement counter embeddings may layer on
// top of a table. SetNextValue updates it.
func (t *Table) NextValue() uint64     { return t.nextValue }
func (t *Table) SetNextValue(v uint64) { t.nextValue = v }

// DropCount returns the running count of forced evictions. Readers
// may observe a slightly stale value under concurrent inserts; this only
// affects pressure reporting, never correctness.
func (t *Table) DropCount() uint64 { return t.dropCount.Load() }

// MemoryUsed returns the approximate number of bytes held by the bucket
// array and value arena, for registration with an external sharing
// registry.
func (t *Table) MemoryUsed() uint64 {
	return uint64(len(t.buckets))*4*slotsPerBucket + uint64(len(t.arena))
}

// SetEvictionCallback installs fn and ctx as the table's eviction callback,
// mirroring stringhash5_set_callback from the C original: it may be called
// at any time, not only at create, so an attacher joining an already-shared
// table can bind its own callback and context after the fact. The swap is
// atomic with respect to concurrent inserts; a forced eviction uses
// whichever binding was current at the moment it read it.
func (t *Table) SetEvictionCallback(fn EvictionFunc, ctx any) {
	t.evictBinding.Store(&evictionBinding{fn: fn, ctx: ctx})
}

// evictionCallback returns the currently bound callback and context.
func (t *Table) evictionCallback() (EvictionFunc, any) {
	b := t.evictBinding.Load()
	if b == nil {
		return nil, nil
	}
	return b.fn, b.ctx
}

func (t *Table) epoch8() uint8 { return uint8(t.epoch.Load()) }

func (t *Table) stripeIndex(bucketIdx uint32) int {
	return int(bucketIdx/stripeBucket) % len(t.stripes)
}

func (t *Table) stripeFor(bucketIdx uint32) *stripeLock {
	return &t.stripes[t.stripeIndex(bucketIdx)]
}

// cell returns the arena slice owned by (bucketIndex, dataSlot). Total
// addressable cells equal indexSpace*16, which by construction equals
// capacity.
func (t *Table) cell(bucketIndex uint32, dataSlot uint8) []byte {
	if t.valueSize == 0 {
		return nil
	}
	offset := (uint64(bucketIndex)*slotsPerBucket + uint64(dataSlot)) * uint64(t.valueSize)
	return t.arena[offset : offset+uint64(t.valueSize)]
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// MasterLock acquires the whole-table master mutex, used internally by
// Flush/Scour/ScourAndFlush/Dump and available to external callers coordinating two
// independent tables without nested stripe deadlock.
func (t *Table) MasterLock() { t.master.Lock() }

// MasterUnlock releases the master mutex acquired by MasterLock.
func (t *Table) MasterUnlock() { t.master.Unlock() }

func (t *Table) lockAllStripesAscending() {
	for i := range t.stripes {
		t.stripes[i].mu.Lock()
	}
}

func (t *Table) unlockAllStripesAscending() {
	for i := range t.stripes {
		t.stripes[i].mu.Unlock()
	}
}
