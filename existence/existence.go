// Package existence implements the auxiliary existence-only filter: the
// same multi-way cuckoo engine as cuckoocache, configured with a
// zero-length value so every bucket entry records nothing but "this key is
// present." It persists under a distinct header so a loader can never
// confuse the two image kinds.
package existence

import (
	"bytes"
	"fmt"
	"io"

	"github.com/corvine/cuckoocache"
	"go.uber.org/zap"
)

// magicLen mirrors the core's 12-byte header length; both headers are
// public identifiers of the same persistence family (analogous to
// STRINGHASH5_ID / STRINGHASH9A_ID being adjacent #defines in one header).
const (
	magicLen    = 12
	filterMagic = "STRINGHASH9A"
	coreMagic   = "STRINGHASH5 "
)

// EvictionFunc is called when a key is forced out to make room for another;
// there is no value to hand back, only the context supplied at create time.
type EvictionFunc func(userContext any)

// CreateOptions configures Create. There is no ValueSize: a filter's
// records carry presence only.
type CreateOptions struct {
	Capacity         uint64
	EvictionCallback EvictionFunc
	CallbackContext  any
	Logger           *zap.Logger
}

// LoadOptions configures Load.
type LoadOptions struct {
	Capacity            uint64
	EvictionCallback    EvictionFunc
	CallbackContext     any
	Logger              *zap.Logger
	AllowLegacyNoHeader bool
}

// Filter wraps a *cuckoocache.Table with ValueSize fixed at 0.
type Filter struct {
	table *cuckoocache.Table
}

func adapt(cb EvictionFunc) cuckoocache.EvictionFunc {
	if cb == nil {
		return nil
	}
	return func(_ []byte, userContext any) { cb(userContext) }
}

// Create allocates a new existence filter. It goes through
// cuckoocache.NewExistenceEngine rather than cuckoocache.Create, since an
// ordinary Create rejects a zero ValueSize with ErrInvalidParameter, and a
// filter record carries no value bytes at all.
func Create(opts CreateOptions) (*Filter, error) {
	t, err := cuckoocache.NewExistenceEngine(cuckoocache.CreateOptions{
		Capacity:         opts.Capacity,
		ValueSize:        0,
		EvictionCallback: adapt(opts.EvictionCallback),
		CallbackContext:  opts.CallbackContext,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Filter{table: t}, nil
}

// Contains reports whether key is currently present.
func (f *Filter) Contains(key []byte) bool {
	g, ok := f.table.Find(key)
	if !ok {
		return false
	}
	g.Unlock()
	return ok
}

// Insert records key as present, evicting the least-recently-used key from
// the chosen bucket pair if both candidate buckets are full. It reports
// whether key was already present.
func (f *Filter) Insert(key []byte) (alreadyPresent bool) {
	g, ok := f.table.Find(key)
	if ok {
		g.Unlock()
		return true
	}
	g2 := f.table.FindOrInsert(key)
	g2.Unlock()
	return false
}

// Delete removes key, reporting whether it had been present.
func (f *Filter) Delete(key []byte) bool {
	return f.table.Delete(key)
}

// Capacity, DropCount, and MemoryUsed pass through to the underlying table.
func (f *Filter) Capacity() uint64   { return f.table.Capacity() }
func (f *Filter) DropCount() uint64  { return f.table.DropCount() }
func (f *Filter) MemoryUsed() uint64 { return f.table.MemoryUsed() }

// SetEvictionCallback rebinds the filter's eviction callback and context
// after creation, the same way the underlying table's callback can be
// rebound at any time.
func (f *Filter) SetEvictionCallback(fn EvictionFunc, ctx any) {
	f.table.SetEvictionCallback(adapt(fn), ctx)
}

// Flush clears every record without invoking the eviction callback.
func (f *Filter) Flush() { f.table.Flush() }

// Destroy releases the filter's memory.
func (f *Filter) Destroy() { f.table.Destroy() }

// Dump writes the filter's image, stamped with the existence-filter magic
// so a core table loader rejects it outright.
func (f *Filter) Dump(w io.Writer) error {
	var buf bytes.Buffer
	if err := f.table.Dump(&buf); err != nil {
		return err
	}
	b := buf.Bytes()
	if len(b) < magicLen || string(b[:magicLen]) != coreMagic {
		return fmt.Errorf("existence: unexpected image header from core table")
	}
	copy(b[:magicLen], filterMagic)
	_, err := w.Write(b)
	return err
}

// Load reconstructs a filter from a stream written by Dump. It rejects a
// core cuckoocache image outright, the same way the core rejects ours.
func Load(r io.Reader, opts LoadOptions) (*Filter, error) {
	header := make([]byte, magicLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("existence: reading header: %w", err)
	}

	switch string(header) {
	case coreMagic:
		return nil, fmt.Errorf("existence: refusing core table image")
	case filterMagic:
		rewritten := io.MultiReader(bytes.NewReader([]byte(coreMagic)), r)
		t, err := cuckoocache.Load(rewritten, cuckoocache.LoadOptions{
			Capacity:         opts.Capacity,
			ValueSize:        0,
			EvictionCallback: adapt(opts.EvictionCallback),
			CallbackContext:  opts.CallbackContext,
			Logger:           opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return &Filter{table: t}, nil
	default:
		if !opts.AllowLegacyNoHeader {
			return nil, fmt.Errorf("existence: missing magic header")
		}
		rewritten := io.MultiReader(bytes.NewReader(header), r)
		t, err := cuckoocache.Load(rewritten, cuckoocache.LoadOptions{
			Capacity:            opts.Capacity,
			ValueSize:           0,
			EvictionCallback:    adapt(opts.EvictionCallback),
			CallbackContext:     opts.CallbackContext,
			Logger:              opts.Logger,
			AllowLegacyNoHeader: true,
		})
		if err != nil {
			return nil, err
		}
		return &Filter{table: t}, nil
	}
}
