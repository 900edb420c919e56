package gpu

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrStreamDestroyed is returned when work is enqueued on a destroyed stream.
var ErrStreamDestroyed = errors.New("stream destroyed")

const hostStreamDepth = 64

// hostStream runs enqueued tasks one after another on a dedicated goroutine,
// giving the same ordering guarantees as a device stream.
type hostStream struct {
	owner *CPUBackend

	mu        sync.Mutex
	destroyed bool
	tasks     chan func()
	exited    chan struct{}
}

func newHostStream(owner *CPUBackend) *hostStream {
	s := &hostStream{
		owner:  owner,
		tasks:  make(chan func(), hostStreamDepth),
		exited: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *hostStream) loop() {
	defer close(s.exited)
	for task := range s.tasks {
		task()
	}
}

func (s *hostStream) enqueue(task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrStreamDestroyed
	}
	s.tasks <- task
	return nil
}

// Synchronize blocks until every task enqueued before the call has run.
func (s *hostStream) Synchronize() error {
	done := make(chan struct{})
	if err := s.enqueue(func() { close(done) }); err != nil {
		return err
	}
	<-done
	return nil
}

// Destroy drains pending work and stops the stream goroutine.
func (s *hostStream) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	close(s.tasks)
	s.mu.Unlock()
	<-s.exited
	return nil
}
