package sandbox

import (
	"sync/atomic"

	"github.com/tetratelabs/wazero/experimental"
)

// resourceLimiter implements wazero's experimental.MemoryAllocator: it is
// installed per execution via experimental.WithMemoryAllocator, so each call
// can enforce its own manifest-declared max_memory_bytes ceiling regardless
// of what the module itself declares or what the shared Runtime's engine
// would otherwise allow.
type resourceLimiter struct {
	maxMemoryBytes uint64

	grown    atomic.Uint64
	exceeded atomic.Bool
}

func newResourceLimiter(maxMemoryBytes uint64, _ uint32) *resourceLimiter {
	return &resourceLimiter{maxMemoryBytes: maxMemoryBytes}
}

// Allocate implements experimental.MemoryAllocator. The max reported to the
// returned LinearMemory is clamped to this call's ceiling even when the
// module or engine-level max is larger.
func (r *resourceLimiter) Allocate(cap, max uint64) experimental.LinearMemory {
	if max == 0 || max > r.maxMemoryBytes {
		max = r.maxMemoryBytes
	}
	buf := make([]byte, cap, cap)
	return &limitedMemory{limiter: r, max: max, buf: buf}
}

// GrowthEvents returns the number of successful memory grows observed so far.
func (r *resourceLimiter) GrowthEvents() uint64 {
	return r.grown.Load()
}

// Exceeded reports whether a growth request was refused for exceeding the
// configured memory ceiling.
func (r *resourceLimiter) Exceeded() bool {
	return r.exceeded.Load()
}

// limitedMemory implements experimental.LinearMemory over a plain Go slice,
// refusing to grow past its allocator's ceiling. Refusal is signaled by
// returning nil, which wazero treats as a failed memory.grow (the module
// observes growth failure rather than this process crashing).
type limitedMemory struct {
	limiter *resourceLimiter
	max     uint64
	buf     []byte
}

func (m *limitedMemory) Reallocate(size uint64) []byte {
	if size > m.max {
		m.limiter.exceeded.Store(true)
		return nil
	}
	if size > uint64(cap(m.buf)) {
		grown := make([]byte, size, size*2)
		copy(grown, m.buf)
		m.buf = grown
	} else {
		m.buf = m.buf[:size]
	}
	m.limiter.grown.Add(1)
	return m.buf
}

func (m *limitedMemory) Free() {}
