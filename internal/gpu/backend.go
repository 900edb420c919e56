package gpu

import (
	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// DeviceInfo contains information about the compute device
type DeviceInfo struct {
	Name              string `json:"name"`
	TotalMemory       int64  `json:"totalMemory"`     // in bytes
	AvailableMemory   int64  `json:"availableMemory"` // in bytes
	ComputeCapability string `json:"computeCapability"`
	DriverVersion     string `json:"driverVersion"`
	CUDAVersion       string `json:"cudaVersion,omitempty"`
	LtVersion         string `json:"ltVersion,omitempty"`
}

// Stream is an ordered queue of device work owned by one backend.
type Stream interface {
	lt.Stream

	// Destroy releases the stream after waiting for its pending work.
	Destroy() error
}

// Backend defines the interface for GEMM compute backends.
// A backend provides everything the tuned matmul path consumes: device memory,
// transfers, streams, a plain reference GEMM, and the lt.Driver bindings to
// the vendor library's heuristic search and matmul.
//
// Implementation notes:
// - Backends must be safe for concurrent use from several goroutines
// - Automatic fallback to CPU is handled by the Manager, not the backend
// - Device memory is never freed implicitly; callers own every pointer
//   returned by Malloc
type Backend interface {
	lt.Driver

	// Name identifies the backend ("cpu", "cuda").
	Name() string

	// Malloc allocates bytes of device memory.
	Malloc(bytes uint64) (lt.DevicePtr, error)

	// Free releases memory returned by Malloc.
	Free(ptr lt.DevicePtr) error

	// NewStream creates an execution stream.
	NewStream() (Stream, error)

	// CopyToDevice enqueues a copy of src to dst on stream. src must not be
	// modified until the stream is synchronized.
	CopyToDevice(dst lt.DevicePtr, src []byte, stream Stream) error

	// CopyToHost enqueues a copy of len(dst) bytes from src on stream. dst is
	// valid once the stream is synchronized.
	CopyToHost(dst []byte, src lt.DevicePtr, stream Stream) error

	// ReferenceGemm enqueues the library's default, non-tuned
	// C = alpha*A*B + beta*C for contiguous row-major float32 matrices where
	// A is m×k, B is k×n, and C is m×n. It is used as a correctness oracle.
	ReferenceGemm(m, k, n int, alpha float32, a, b lt.DevicePtr, beta float32, c lt.DevicePtr, stream Stream) error

	// GetDeviceInfo returns information about the device
	GetDeviceInfo() DeviceInfo

	// IsAvailable checks if the backend is available for use
	// This should perform a quick check without heavy initialization
	IsAvailable() bool

	// Initialize prepares the backend for use
	// Should be called once before first use
	Initialize() error

	// Cleanup releases any resources held by the backend
	Cleanup() error
}
