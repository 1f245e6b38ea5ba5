package cuckoocache

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
	"time"
)

var (
	seedMu  sync.Mutex
	seedSrc *mrand.Rand
)

// randomSeed produces the per-instance 32-bit digest seed installed at
// table creation. Quality of randomness only matters for spreading
// digest collisions across instances, not for any security property.
func randomSeed() uint32 {
	seedMu.Lock()
	defer seedMu.Unlock()
	if seedSrc == nil {
		var b [8]byte
		if _, err := rand.Read(b[:]); err == nil {
			seedSrc = mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(b[:]))))
		} else {
			seedSrc = mrand.New(mrand.NewSource(time.Now().UnixNano()))
		}
	}
	return seedSrc.Uint32()
}
