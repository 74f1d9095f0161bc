package engine

import (
	"context"
	"fmt"
)

// Region layout in guest memory: three little-endian u32 fields.
const (
	regionOffsetField   = 0
	regionCapacityField = 4
	regionLengthField   = 8
	RegionSize          = 12
)

// Memory is the guest linear memory. wazero's api.Memory satisfies it.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadUint32Le(offset uint32) (uint32, bool)
	WriteUint32Le(offset, v uint32) bool
}

// GuestAllocator reserves a buffer inside guest memory and returns the
// address of a Region describing it.
type GuestAllocator interface {
	Allocate(ctx context.Context, size uint32) (uint32, error)
}

// Region describes a guest-owned buffer.
type Region struct {
	Offset   uint32
	Capacity uint32
	Length   uint32
}

func readRegion(mem Memory, ptr uint32) (Region, error) {
	if uint64(ptr)+RegionSize > uint64(mem.Size()) {
		return Region{}, fmt.Errorf("region at %d out of bounds", ptr)
	}

	offset, ok1 := mem.ReadUint32Le(ptr + regionOffsetField)
	capacity, ok2 := mem.ReadUint32Le(ptr + regionCapacityField)
	length, ok3 := mem.ReadUint32Le(ptr + regionLengthField)
	if !ok1 || !ok2 || !ok3 {
		return Region{}, fmt.Errorf("region at %d out of bounds", ptr)
	}
	return Region{Offset: offset, Capacity: capacity, Length: length}, nil
}

// extractVector copies the bytes referenced by the region at ptr into a
// host buffer obtained from alloc.
func extractVector(mem Memory, ptr uint32, alloc func(int) []byte) ([]byte, error) {
	region, err := readRegion(mem, ptr)
	if err != nil {
		return nil, err
	}

	view, ok := mem.Read(region.Offset, region.Length)
	if !ok {
		return nil, fmt.Errorf("region data [%d, +%d) out of bounds", region.Offset, region.Length)
	}

	buf := alloc(int(region.Length))
	copy(buf, view)
	return buf, nil
}

// writeToAllocatedMemory stores data into the buffer of the region at ptr
// and updates its length. Data larger than the region's capacity is
// rejected before anything is written.
func writeToAllocatedMemory(mem Memory, ptr uint32, data []byte) error {
	region, err := readRegion(mem, ptr)
	if err != nil {
		return err
	}

	if uint64(len(data)) > uint64(region.Capacity) {
		return fmt.Errorf("tried to write %d bytes but only got %d bytes in destination buffer", len(data), region.Capacity)
	}
	if !mem.Write(region.Offset, data) {
		return fmt.Errorf("region data [%d, +%d) out of bounds", region.Offset, len(data))
	}
	if !mem.WriteUint32Le(ptr+regionLengthField, uint32(len(data))) {
		return fmt.Errorf("region at %d out of bounds", ptr)
	}
	return nil
}

// writeToMemory asks the guest for a fresh region and fills it.
func writeToMemory(ctx context.Context, mem Memory, guest GuestAllocator, data []byte) (uint32, error) {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return 0, fmt.Errorf("buffer of %d bytes exceeds guest address space", len(data))
	}

	ptr, err := guest.Allocate(ctx, uint32(len(data)))
	if err != nil {
		return 0, fmt.Errorf("guest allocate: %w", err)
	}
	if err := writeToAllocatedMemory(mem, ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}
