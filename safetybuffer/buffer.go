package safetybuffer

import (
	"errors"
	"fmt"
)

const (
	DefaultChunkSize    = 1024
	DefaultTargetChunks = 16 * 1024
	DefaultMinChunks    = 2 * 1024

	// DefaultMaxHostAllocation stays below the default guest memory limit
	// (512 pages, 32 MiB) so oversized contract input is refused by the host.
	DefaultMaxHostAllocation = 8 * 1024 * 1024
)

var ErrMemorySafetyAllocation = errors.New("could not reserve the minimum safety buffer")

// Config sizes the safety buffer and the ceiling on host allocations driven
// by contract input.
type Config struct {
	ChunkSize         int
	TargetChunks      int
	MinChunks         int
	MaxHostAllocation int
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:         DefaultChunkSize,
		TargetChunks:      DefaultTargetChunks,
		MinChunks:         DefaultMinChunks,
		MaxHostAllocation: DefaultMaxHostAllocation,
	}
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 || c.TargetChunks <= 0 {
		return errors.New("safety buffer chunk size and target must be positive")
	}
	if c.MinChunks < 0 || c.MinChunks > c.TargetChunks {
		return fmt.Errorf("safety buffer minimum %d outside [0, %d]", c.MinChunks, c.TargetChunks)
	}
	return nil
}

// ChunkAllocator reserves n bytes or reports that memory is exhausted.
type ChunkAllocator func(n int) ([]byte, error)

// HeapChunk allocates a chunk and touches every page so the reservation is
// backed by real memory rather than a lazy mapping.
func HeapChunk(n int) ([]byte, error) {
	b := make([]byte, n)
	for i := 0; i < n; i += 512 {
		b[i] = 1
	}
	return b, nil
}

// SafetyBuffer holds memory that is released on allocation failure so the
// failing operation has room to unwind. It is not safe for concurrent use;
// Supervisor serializes access.
type SafetyBuffer struct {
	chunkSize    int
	targetChunks int
	minChunks    int
	alloc        ChunkAllocator
	chunks       [][]byte
}

// NewSafetyBuffer reserves the target size. Failing to reach the minimum is
// an error.
func NewSafetyBuffer(cfg Config, alloc ChunkAllocator) (*SafetyBuffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if alloc == nil {
		alloc = HeapChunk
	}

	b := &SafetyBuffer{
		chunkSize:    cfg.ChunkSize,
		targetChunks: cfg.TargetChunks,
		minChunks:    cfg.MinChunks,
		alloc:        alloc,
		chunks:       make([][]byte, 0, cfg.TargetChunks),
	}
	if err := b.topUp(); err != nil {
		return nil, err
	}
	return b, nil
}

// topUp allocates until the target is reached. An allocation failure after
// the minimum is held stops quietly; below the minimum it is an error.
func (b *SafetyBuffer) topUp() error {
	for len(b.chunks) < b.targetChunks {
		chunk, err := b.alloc(b.chunkSize)
		if err != nil {
			if len(b.chunks) >= b.minChunks {
				return nil
			}
			return fmt.Errorf("%w: holding %d of %d chunks: %w", ErrMemorySafetyAllocation, len(b.chunks), b.minChunks, err)
		}
		b.chunks = append(b.chunks, chunk)
	}
	return nil
}

// Clear drops every chunk.
func (b *SafetyBuffer) Clear() {
	for i := range b.chunks {
		b.chunks[i] = nil
	}
	b.chunks = b.chunks[:0]
}

// Restore tops the buffer back up when it holds less than the target.
func (b *SafetyBuffer) Restore() error {
	if len(b.chunks) < b.targetChunks {
		return b.topUp()
	}
	return nil
}

func (b *SafetyBuffer) Len() int {
	return len(b.chunks)
}

func (b *SafetyBuffer) Full() bool {
	return len(b.chunks) >= b.targetChunks
}
