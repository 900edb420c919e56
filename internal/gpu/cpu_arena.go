package gpu

import (
	"sort"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// ErrOutOfMemory is returned when an allocation exceeds the device capacity.
var ErrOutOfMemory = errors.New("out of device memory")

// arena emulates device memory for the CPU backend. Pointers are real host
// addresses of pinned Go allocations, so pointer arithmetic inside an
// allocation (sub-matrix views, batch slices) behaves like on a device.
type arena struct {
	mu       sync.RWMutex
	capacity uint64
	used     uint64
	bases    []lt.DevicePtr // sorted
	allocs   map[lt.DevicePtr][]byte
}

func newArena(capacity uint64) *arena {
	return &arena{capacity: capacity, allocs: make(map[lt.DevicePtr][]byte)}
}

func (a *arena) alloc(size uint64) (lt.DevicePtr, error) {
	if size == 0 {
		return 0, errors.New("zero-sized allocation")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used+size > a.capacity {
		return 0, errors.Wrapf(ErrOutOfMemory, "requested %d bytes, %d of %d in use", size, a.used, a.capacity)
	}
	// Backed by uint64 words so every allocation is 8-byte aligned.
	words := make([]uint64, (size+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	ptr := lt.DevicePtr(unsafe.Pointer(&words[0]))

	i := sort.Search(len(a.bases), func(i int) bool { return a.bases[i] >= ptr })
	a.bases = append(a.bases, 0)
	copy(a.bases[i+1:], a.bases[i:])
	a.bases[i] = ptr
	a.allocs[ptr] = mem
	a.used += size
	return ptr, nil
}

func (a *arena) free(ptr lt.DevicePtr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	mem, ok := a.allocs[ptr]
	if !ok {
		return errors.Errorf("free of unknown device pointer %#x", uintptr(ptr))
	}
	delete(a.allocs, ptr)
	i := sort.Search(len(a.bases), func(i int) bool { return a.bases[i] >= ptr })
	a.bases = append(a.bases[:i], a.bases[i+1:]...)
	a.used -= uint64(len(mem))
	return nil
}

// resolve returns the n bytes starting at ptr, which may point anywhere
// inside a live allocation.
func (a *arena) resolve(ptr lt.DevicePtr, n uint64) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i := sort.Search(len(a.bases), func(i int) bool { return a.bases[i] > ptr }) - 1
	if i < 0 {
		return nil, errors.Errorf("device pointer %#x is not allocated", uintptr(ptr))
	}
	base := a.bases[i]
	mem := a.allocs[base]
	off := uint64(ptr - base)
	if off+n > uint64(len(mem)) {
		return nil, errors.Errorf("device range %#x+%d overruns allocation %#x of %d bytes", uintptr(ptr), n, uintptr(base), len(mem))
	}
	return mem[off : off+n], nil
}

func (a *arena) stats() (used, capacity uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.used, a.capacity
}

// view reinterprets device bytes as elements of T.
func view[T lt.Scalar](mem []byte) []T {
	if len(mem) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*T)(unsafe.Pointer(&mem[0])), len(mem)/int(unsafe.Sizeof(zero)))
}
