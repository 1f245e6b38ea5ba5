package cuckoocache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"go.uber.org/zap"
)

const (
	tableMagic   = "STRINGHASH5 " // this table's own header, 12 ASCII bytes
	siblingMagic = "STRINGHASH9A" // the existence-only filter's header; a hard error here
)

// ValueSerializer writes any extra, externally-owned data referenced by
// value cells after the arena bytes. ValueDeserializer is its Load-side
// counterpart; it is handed a reader positioned immediately after the
// arena bytes.
type ValueSerializer func(w io.Writer, t *Table) error
type ValueDeserializer func(r io.Reader, t *Table) error

// LoadOptions configures Load: the load_from_file / attach_shared
// parameters that apply to reading a persisted image.
type LoadOptions struct {
	// Capacity and ValueSize, if nonzero, must match the stored image
	// exactly (after rounding/padding) or Load fails with
	// ErrPersistenceMismatch.
	Capacity  uint64
	ValueSize uint32

	EvictionCallback EvictionFunc
	CallbackContext  any
	Logger           *zap.Logger

	// AllowLegacyNoHeader opts into accepting a dump file that lacks the
	// 12-byte magic header, parsing it as a legacy image instead. Off by
	// default: a strict reimplementation should
	// reject anything that isn't unambiguously one of our own images.
	AllowLegacyNoHeader bool

	// ValueDeserializer rehydrates value cells that embed pointers to
	// externally owned objects.
	ValueDeserializer ValueDeserializer

	// ScourAfterLoad invokes EvictionCallback on every loaded record
	// before Load returns, used to re-attach externally owned resources
	// referenced inside value cells.
	ScourAfterLoad bool
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint64(w *bufio.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Dump writes the table's image: magic, header fields, the bucket
// array, then the value arena, under the master lock.
func (t *Table) Dump(w io.Writer) error {
	return t.dumpWithSerializer(w, nil)
}

// DumpWithValueCallback is Dump plus an application-supplied serializer
// invoked after the arena bytes, for externally owned data referenced from
// value cells.
func (t *Table) DumpWithValueCallback(w io.Writer, serialize ValueSerializer) error {
	return t.dumpWithSerializer(w, serialize)
}

func (t *Table) dumpWithSerializer(w io.Writer, serialize ValueSerializer) error {
	t.master.Lock()
	defer t.master.Unlock()
	t.lockAllStripesAscending()
	defer t.unlockAllStripesAscending()

	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(tableMagic); err != nil {
		return fmt.Errorf("%w: writing magic: %v", ErrPersistenceMismatch, err)
	}
	if err := writeUint64(bw, t.nextValue); err != nil {
		return persistWriteErr(err)
	}
	if err := writeUint64(bw, uint64(t.valueSize)); err != nil {
		return persistWriteErr(err)
	}
	if err := writeUint64(bw, t.capacity); err != nil {
		return persistWriteErr(err)
	}
	if err := writeUint32(bw, t.indexSpace); err != nil {
		return persistWriteErr(err)
	}
	if err := writeUint32(bw, t.seed); err != nil {
		return persistWriteErr(err)
	}
	if err := writeUint64(bw, uint64(t.bucketCount-1)); err != nil {
		return persistWriteErr(err)
	}
	if err := bw.WriteByte(t.epoch8()); err != nil {
		return persistWriteErr(err)
	}

	for i := range t.buckets {
		for _, d := range t.buckets[i] {
			if err := writeUint32(bw, uint32(d)); err != nil {
				return persistWriteErr(err)
			}
		}
	}

	if _, err := bw.Write(t.arena); err != nil {
		return persistWriteErr(err)
	}

	if serialize != nil {
		if err := serialize(bw, t); err != nil {
			return fmt.Errorf("dumping value callback: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return persistWriteErr(err)
	}
	return nil
}

func persistWriteErr(err error) error {
	return fmt.Errorf("%w: short write: %v", ErrPersistenceMismatch, err)
}

func persistReadErr(err error) error {
	return fmt.Errorf("%w: short read: %v", ErrPersistenceMismatch, err)
}

// Load reconstructs a table from a stream previously written by Dump,
// validating the header and every structural field. On any
// validation or read failure, no partially built table is returned.
func Load(r io.Reader, opts LoadOptions) (*Table, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	br := bufio.NewReaderSize(r, 64*1024)

	header, err := br.Peek(len(tableMagic))
	if err != nil {
		return nil, persistReadErr(err)
	}

	switch string(header) {
	case siblingMagic:
		return nil, ErrLegacyMagic
	case tableMagic:
		if _, err := br.Discard(len(tableMagic)); err != nil {
			return nil, persistReadErr(err)
		}
	default:
		if !opts.AllowLegacyNoHeader {
			return nil, fmt.Errorf("%w: missing magic header", ErrPersistenceMismatch)
		}
		logger.Warn("loading headerless image as legacy; caller opted in")
	}

	return loadBody(br, opts, logger)
}

func loadBody(br *bufio.Reader, opts LoadOptions, logger *zap.Logger) (*Table, error) {
	nextValue, err := readUint64(br)
	if err != nil {
		return nil, persistReadErr(err)
	}
	storedValueSize, err := readUint64(br)
	if err != nil {
		return nil, persistReadErr(err)
	}
	storedCapacity, err := readUint64(br)
	if err != nil {
		return nil, persistReadErr(err)
	}
	storedIndexSpace, err := readUint32(br)
	if err != nil {
		return nil, persistReadErr(err)
	}
	storedSeed, err := readUint32(br)
	if err != nil {
		return nil, persistReadErr(err)
	}
	storedMaskIndex, err := readUint64(br)
	if err != nil {
		return nil, persistReadErr(err)
	}
	storedEpoch, err := br.ReadByte()
	if err != nil {
		return nil, persistReadErr(err)
	}

	if opts.Capacity != 0 {
		wantCapacity := nextPow2(opts.Capacity)
		if wantCapacity < minCapacity {
			wantCapacity = minCapacity
		}
		if wantCapacity != storedCapacity {
			return nil, fmt.Errorf("%w: capacity %d does not match stored %d", ErrPersistenceMismatch, wantCapacity, storedCapacity)
		}
	}
	if opts.ValueSize != 0 {
		wantValueSize := uint64(padValueSize(opts.ValueSize))
		if wantValueSize != storedValueSize {
			return nil, fmt.Errorf("%w: value size %d does not match stored %d", ErrPersistenceMismatch, wantValueSize, storedValueSize)
		}
	}

	bucketCount := uint32(storedCapacity / (2 * slotsPerBucket))
	if bucketCount == 0 {
		bucketCount = 1
	}
	indexSpace := bucketCount * 2
	if storedIndexSpace != indexSpace {
		return nil, fmt.Errorf("%w: bucket_count %d does not equal capacity/16 (%d)", ErrPersistenceMismatch, storedIndexSpace, indexSpace)
	}
	if storedMaskIndex != uint64(bucketCount-1) {
		return nil, fmt.Errorf("%w: mask_index %d does not equal bucket_count-1 (%d)", ErrPersistenceMismatch, storedMaskIndex, bucketCount-1)
	}

	buckets := make([]bucket, indexSpace)
	for i := range buckets {
		for pos := 0; pos < slotsPerBucket; pos++ {
			raw, err := readUint32(br)
			if err != nil {
				return nil, persistReadErr(err)
			}
			buckets[i][pos] = slotDescriptor(raw)
		}
	}

	valueSize := uint32(storedValueSize)
	arenaLen := storedCapacity * uint64(valueSize)
	arena := make([]byte, arenaLen)
	if _, err := io.ReadFull(br, arena); err != nil {
		return nil, persistReadErr(err)
	}

	insertsPerEpochLimit := bucketCount / slotsPerBucket
	if insertsPerEpochLimit == 0 {
		insertsPerEpochLimit = 1
	}
	stripeCount := int(indexSpace) / stripeBucket
	if stripeCount == 0 {
		stripeCount = 1
	}

	t := &Table{
		capacity:             storedCapacity,
		bucketCount:          bucketCount,
		indexSpace:           indexSpace,
		valueSize:            valueSize,
		seed:                 storedSeed,
		nextValue:            nextValue,
		insertsPerEpochLimit: insertsPerEpochLimit,
		buckets:              buckets,
		arena:                arena,
		stripes:              make([]stripeLock, stripeCount),
		logger:               logger,
	}
	t.SetEvictionCallback(opts.EvictionCallback, opts.CallbackContext)
	t.epoch.Store(uint32(storedEpoch))

	if opts.ValueDeserializer != nil {
		if err := opts.ValueDeserializer(br, t); err != nil {
			return nil, fmt.Errorf("loading value callback: %w", err)
		}
	}

	if opts.ScourAfterLoad {
		if fn, ctx := t.evictionCallback(); fn != nil {
			// Runs without the master lock or any stripe lock held: the
			// table is freshly built and not yet published to any other
			// goroutine, so there is no concurrent access to race against.
			// A caller reusing scourLocked on a live, published table must
			// take the master lock and every stripe first, as Scour does.
			t.scourLocked(fn, ctx)
		}
	}

	return t, nil
}
