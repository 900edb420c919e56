package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fxnlabs/gemm-tuner/internal/lt"
)

// Manager handles backend selection and lifecycle, and owns the matmul
// library handle bound to the selected backend.
type Manager struct {
	backend Backend
	handle  *lt.Handle
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewManager creates a new manager and initializes the backend named by kind.
// With kind "auto" a CUDA backend that fails to initialize falls back to CPU.
func NewManager(logger *zap.Logger, kind string, opts CPUOptions) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		logger: logger,
	}

	if err := m.detectAndInitialize(kind, opts); err != nil {
		return nil, err
	}

	return m, nil
}

// detectAndInitialize creates the requested backend and initializes it
func (m *Manager) detectAndInitialize(kind string, opts CPUOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backend, err := NewBackend(m.logger, kind, opts)
	if err != nil {
		return err
	}
	if err := backend.Initialize(); err != nil {
		_ = backend.Cleanup()
		if kind != KindAuto && kind != "" {
			return fmt.Errorf("failed to initialize %s backend: %w", backend.Name(), err)
		}
		if _, isCPU := backend.(*CPUBackend); isCPU {
			return fmt.Errorf("failed to initialize CPU backend: %w", err)
		}
		m.logger.Warn("Backend initialization failed, falling back to CPU",
			zap.String("backend", backend.Name()), zap.Error(err))
		backend = NewCPUBackend(m.logger, opts)
		if err := backend.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize CPU backend: %w", err)
		}
	}

	m.backend = backend
	m.handle = lt.New(backend)
	return nil
}

// GetBackend returns the current backend
func (m *Manager) GetBackend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// Handle returns the matmul library handle bound to the current backend.
func (m *Manager) Handle() *lt.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// GetDeviceInfo returns device information from the current backend
func (m *Manager) GetDeviceInfo() DeviceInfo {
	backend := m.GetBackend()
	if backend == nil {
		return DeviceInfo{Name: "No backend available"}
	}
	return backend.GetDeviceInfo()
}

// IsGPUAvailable returns true if a GPU backend is active
func (m *Manager) IsGPUAvailable() bool {
	backend := m.GetBackend()
	if backend == nil {
		return false
	}
	_, isCPU := backend.(*CPUBackend)
	return !isCPU
}

// Cleanup closes the library handle and releases the backend.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.handle != nil {
		m.handle.Close()
		m.handle = nil
	}
	if m.backend != nil {
		err = multierr.Append(err, m.backend.Cleanup())
		m.backend = nil
	}
	return err
}

// GetBackendType returns a string describing the current backend type
func (m *Manager) GetBackendType() string {
	backend := m.GetBackend()
	if backend == nil {
		return "none"
	}
	return backend.Name()
}
