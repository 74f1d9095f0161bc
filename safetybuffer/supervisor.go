package safetybuffer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-contract-enclave/metrics"
	"go.uber.org/atomic"
)

// ErrOutOfMemory is returned by Protect when the protected call hit an
// allocation failure and was aborted.
var ErrOutOfMemory = errors.New("out of memory during enclave call")

// AllocationError is the panic value raised when an allocation is refused.
type AllocationError struct {
	Size int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocation of %d bytes failed", e.Size)
}

// Hook is notified of allocation failures by the memory layer. It does not
// return normally.
type Hook interface {
	AllocationFailed(size int)
}

// Supervisor owns the process safety buffer and the out-of-memory flag.
type Supervisor struct {
	log *slog.Logger

	mu  sync.Mutex
	buf *SafetyBuffer

	// depleted is set whenever buf is below target so that the common
	// path of Restore never takes mu.
	depleted    atomic.Bool
	oomHappened atomic.Bool
}

// NewSupervisor reserves the buffer. A reservation below the configured
// minimum fails with ErrMemorySafetyAllocation.
func NewSupervisor(log *slog.Logger, cfg Config, alloc ChunkAllocator) (*Supervisor, error) {
	buf, err := NewSafetyBuffer(cfg, alloc)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{log: log, buf: buf}
	s.depleted.Store(!buf.Full())
	metrics.SafetyBufferChunks.Set(float64(buf.Len()))
	log.Info("safety buffer reserved", "chunks", buf.Len(), "chunk_size", cfg.ChunkSize)
	return s, nil
}

// Reserved is the number of chunks currently held.
func (s *Supervisor) Reserved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Release frees the whole buffer.
func (s *Supervisor) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Clear()
	s.depleted.Store(true)
	metrics.SafetyBufferChunks.Set(0)
}

// Restore tops the buffer up if an earlier release or partial reservation
// left it below target.
func (s *Supervisor) Restore() error {
	if !s.depleted.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreLocked()
}

func (s *Supervisor) restoreLocked() error {
	err := s.buf.Restore()
	s.depleted.Store(!s.buf.Full())
	metrics.SafetyBufferChunks.Set(float64(s.buf.Len()))
	if err != nil {
		s.log.Error("could not restore safety buffer", "chunks", s.buf.Len(), "err", err)
	}
	return err
}

// AllocationFailed marks the failure, releases the buffer to give the
// unwinding call room, and aborts the call by panicking with an
// *AllocationError.
func (s *Supervisor) AllocationFailed(size int) {
	s.oomHappened.Store(true)
	s.Release()
	metrics.OOMRecoveriesTotal.Inc()
	s.log.Warn("allocation failed, safety buffer released", "size", size)
	panic(&AllocationError{Size: size})
}

// GetThenClearOOMHappened reports whether an allocation failure occurred
// since the last call.
func (s *Supervisor) GetThenClearOOMHappened() bool {
	return s.oomHappened.Swap(false)
}

// Protect runs fn with the buffer topped up. An allocation failure raised by
// fn itself, whether it surfaces as a panic or as an error wrapping
// *AllocationError, becomes ErrOutOfMemory. Failures of concurrent calls do
// not affect the result, and the process-wide flag is left for
// GetThenClearOOMHappened. Any other panic propagates.
func (s *Supervisor) Protect(fn func() error) (err error) {
	if err := s.Restore(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			allocErr, ok := r.(*AllocationError)
			if !ok {
				panic(r)
			}
			err = allocErr
		}

		var allocErr *AllocationError
		if errors.As(err, &allocErr) {
			err = fmt.Errorf("%w: %w", ErrOutOfMemory, err)
		}
	}()

	return fn()
}
