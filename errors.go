package cuckoocache

import "errors"

// Create-time and load-time errors are surfaced
// to the caller with no side effects on the process; runtime operations
// (Find, FindOrInsert, Delete) never fail.
var (
	// ErrInvalidParameter is returned when a required create/attach
	// parameter is missing or nonsensical (e.g. zero value size).
	ErrInvalidParameter = errors.New("cuckoocache: invalid parameter")

	// ErrOutOfMemory is returned when allocation fails during Create or
	// Load; no partial state is published.
	ErrOutOfMemory = errors.New("cuckoocache: allocation failed")

	// ErrPersistenceMismatch covers a missing magic header, a
	// capacity/value-size disagreement with the stored image, or a short
	// read/write during Dump/Load.
	ErrPersistenceMismatch = errors.New("cuckoocache: persisted image mismatch")

	// ErrShareContract is returned by AttachShared when no share name is
	// given, or when attaching to an existing share whose parameters
	// disagree with those requested and readonly was not set.
	ErrShareContract = errors.New("cuckoocache: shared-attach contract violated")

	// ErrLegacyMagic is returned when a loader is handed the sibling
	// existence-only filter's image instead of one of its own.
	ErrLegacyMagic = errors.New("cuckoocache: refusing sibling existence-filter image")
)
