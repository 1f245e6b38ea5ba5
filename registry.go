package cuckoocache

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// AttachOptions configures AttachShared: either create the named instance
// on first attach, or join an existing one, with an optional backing image
// to load from on first creation.
type AttachOptions struct {
	ShareName string

	// Capacity/ValueSize are used only when this call creates the share;
	// later attaches are checked against the share's actual parameters
	// unless Readonly is set.
	Capacity  uint64
	ValueSize uint32

	EvictionCallback EvictionFunc
	CallbackContext  any
	Logger           *zap.Logger

	// Readonly relaxes the parameter-agreement check: a readonly attacher
	// accepts whatever table is already registered under ShareName.
	Readonly bool

	// LoadFrom, if non-nil and this call creates the share, seeds the new
	// table from a persisted image instead of allocating empty.
	LoadFrom io.Reader

	// ValueDeserializer and ScourAfterLoad are the shared-attach variant's
	// load-time configuration: ValueDeserializer rehydrates value cells
	// that embed pointers to externally owned objects, and
	// ScourAfterLoad invokes EvictionCallback on every loaded record before
	// AttachShared returns so the caller can re-attach those externally
	// owned resources. Both are only consulted when LoadFrom creates the
	// share.
	ValueDeserializer ValueDeserializer
	ScourAfterLoad    bool
}

type sharedEntry struct {
	table    *Table
	refCount int
}

var (
	registryMu sync.Mutex
	registry   = map[string]*sharedEntry{}
)

// AttachShared implements the process-wide sharing registry: the first
// attach under a share name creates the table (optionally loading it
// from LoadFrom), later attaches join the same *Table and bump its
// reference count. The last Detach destroys the table.
func AttachShared(opts AttachOptions) (*Table, error) {
	if opts.ShareName == "" {
		return nil, fmt.Errorf("%w: empty share name", ErrShareContract)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if entry, ok := registry[opts.ShareName]; ok {
		if !opts.Readonly {
			wantCapacity := nextPow2(opts.Capacity)
			if wantCapacity < minCapacity {
				wantCapacity = minCapacity
			}
			wantValueSize := padValueSize(opts.ValueSize)
			if wantCapacity != entry.table.Capacity() || wantValueSize != entry.table.ValueSize() {
				return nil, fmt.Errorf("%w: share %q parameters disagree", ErrShareContract, opts.ShareName)
			}
		}
		// A sharer joining an existing table may still want its own
		// eviction callback/context bound (e.g. to locate thread-local
		// state) — bind it here rather than only honoring the creator's.
		// An attacher that didn't pass one leaves whatever is already
		// installed untouched.
		if opts.EvictionCallback != nil {
			entry.table.SetEvictionCallback(opts.EvictionCallback, opts.CallbackContext)
		}
		entry.refCount++
		return entry.table, nil
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		t   *Table
		err error
	)
	if opts.LoadFrom != nil {
		t, err = Load(opts.LoadFrom, LoadOptions{
			Capacity:          opts.Capacity,
			ValueSize:         opts.ValueSize,
			EvictionCallback:  opts.EvictionCallback,
			CallbackContext:   opts.CallbackContext,
			Logger:            opts.Logger,
			ValueDeserializer: opts.ValueDeserializer,
			ScourAfterLoad:    opts.ScourAfterLoad,
		})
		if err != nil && !opts.Readonly {
			// Readonly forces a hard failure when the load file can't be
			// read; otherwise fall back to an empty table rather than
			// failing the attach outright.
			logger.Warn("attach-shared load failed, falling back to empty table",
				zap.String("share", opts.ShareName), zap.Error(err))
			t, err = Create(CreateOptions{
				Capacity:         opts.Capacity,
				ValueSize:        opts.ValueSize,
				Shared:           true,
				EvictionCallback: opts.EvictionCallback,
				CallbackContext:  opts.CallbackContext,
				Logger:           opts.Logger,
			})
		}
	} else {
		t, err = Create(CreateOptions{
			Capacity:         opts.Capacity,
			ValueSize:        opts.ValueSize,
			Shared:           true,
			EvictionCallback: opts.EvictionCallback,
			CallbackContext:  opts.CallbackContext,
			Logger:           opts.Logger,
		})
	}
	if err != nil {
		return nil, err
	}
	t.shareName = opts.ShareName
	registry[opts.ShareName] = &sharedEntry{table: t, refCount: 1}
	return t, nil
}

// Detach drops this caller's reference to a shared table, destroying it
// once the last sharer has detached. It is a no-op if t was never shared.
func Detach(t *Table) {
	if t.shareName == "" {
		return
	}

	registryMu.Lock()
	entry, ok := registry[t.shareName]
	if !ok {
		registryMu.Unlock()
		return
	}
	entry.refCount--
	last := entry.refCount <= 0
	if last {
		delete(registry, t.shareName)
	}
	registryMu.Unlock()

	if last {
		entry.table.Destroy()
	}
}

// SharedRefCount reports the current number of attachers for a share name,
// or 0 if no such share exists. Intended for diagnostics and tests.
func SharedRefCount(shareName string) int {
	registryMu.Lock()
	defer registryMu.Unlock()
	if entry, ok := registry[shareName]; ok {
		return entry.refCount
	}
	return 0
}
