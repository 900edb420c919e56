package gpu

import (
	"github.com/pkg/errors"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// Buffer is a device allocation released by Free, usually deferred by the
// scope that owns it. A zero-sized Buffer holds no memory.
type Buffer struct {
	backend Backend
	ptr     lt.DevicePtr
	size    uint64
	freed   bool
}

// Alloc allocates size bytes on backend.
func Alloc(backend Backend, size uint64) (*Buffer, error) {
	buf := &Buffer{backend: backend, size: size}
	if size == 0 {
		return buf, nil
	}
	ptr, err := backend.Malloc(size)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating %d bytes on %s", size, backend.Name())
	}
	buf.ptr = ptr
	return buf, nil
}

func (b *Buffer) Ptr() lt.DevicePtr { return b.ptr }
func (b *Buffer) Size() uint64 { return b.size }

// Workspace exposes the buffer as matmul scratch memory.
func (b *Buffer) Workspace() lt.Workspace {
	return lt.Workspace{Ptr: b.ptr, Size: b.size}
}

// Free releases the allocation. It is safe to call more than once.
func (b *Buffer) Free() error {
	if b == nil || b.freed {
		return nil
	}
	b.freed = true
	if b.ptr == 0 {
		return nil
	}
	return b.backend.Free(b.ptr)
}

// Upload allocates a device buffer and enqueues a copy of host into it.
// host must stay unchanged until stream is synchronized.
func Upload[T lt.Scalar](backend Backend, host []T, stream Stream) (*Buffer, error) {
	raw := AsBytes(host)
	buf, err := Alloc(backend, uint64(len(raw)))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return buf, nil
	}
	if err := backend.CopyToDevice(buf.Ptr(), raw, stream); err != nil {
		_ = buf.Free()
		return nil, errors.Wrap(err, "copy to device")
	}
	return buf, nil
}

// Download copies n elements starting at src back to the host, waiting for
// stream to drain.
func Download[T lt.Scalar](backend Backend, src lt.DevicePtr, n int, stream Stream) ([]T, error) {
	host := make([]T, n)
	if n == 0 {
		return host, nil
	}
	if err := backend.CopyToHost(AsBytes(host), src, stream); err != nil {
		return nil, errors.Wrap(err, "copy to host")
	}
	if err := stream.Synchronize(); err != nil {
		return nil, errors.Wrap(err, "synchronize after copy to host")
	}
	return host, nil
}
