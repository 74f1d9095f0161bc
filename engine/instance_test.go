package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ruteri/tee-contract-enclave/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStorage is an unencrypted StateStorage charging flat costs.
type fakeStorage struct {
	entries  map[string][]byte
	readErr  error
	writeErr error
	gas      uint64
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{entries: make(map[string][]byte), gas: 10}
}

func scoped(key []byte, ck interfaces.ContractKey) string {
	return fmt.Sprintf("%x/%s", ck[:], key)
}

func (s *fakeStorage) Read(ctx context.Context, key []byte, ck interfaces.ContractKey) ([]byte, uint64, error) {
	if s.readErr != nil {
		return nil, s.gas, s.readErr
	}
	return s.entries[scoped(key, ck)], s.gas, nil
}

func (s *fakeStorage) Write(ctx context.Context, key, value []byte, ck interfaces.ContractKey) (uint64, error) {
	if s.writeErr != nil {
		return s.gas, s.writeErr
	}
	s.entries[scoped(key, ck)] = append([]byte(nil), value...)
	return s.gas, nil
}

func (s *fakeStorage) Remove(ctx context.Context, key []byte, ck interfaces.ContractKey) (uint64, error) {
	if s.writeErr != nil {
		return s.gas, s.writeErr
	}
	delete(s.entries, scoped(key, ck))
	return s.gas, nil
}

type instanceFixture struct {
	inst    *ContractInstance
	mem     *fakeMemory
	guest   *bumpAllocator
	storage *fakeStorage
}

func newInstanceFixture(gasLimit uint64) *instanceFixture {
	mem := newFakeMemory(4096)
	guest := &bumpAllocator{mem: mem, next: 1024}
	storage := newFakeStorage()

	inst := newContractInstance(instanceConfig{
		log:         testLogger(),
		contractKey: interfaces.ContractKey{0x42},
		gasLimit:    gasLimit,
		storage:     storage,
		codec:       NewAddressCodec(),
	})
	inst.bind(mem, guest)

	return &instanceFixture{inst: inst, mem: mem, guest: guest, storage: storage}
}

// region allocates and fills a guest region below the bump heap.
func (f *instanceFixture) region(ptr uint32, data []byte, capacity uint32) uint32 {
	f.mem.putRegion(ptr, data, capacity)
	return ptr
}

func catchTrap(fn func()) (trap *TrapError) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if trap, ok = r.(*TrapError); !ok {
				panic(r)
			}
		}
	}()
	fn()
	return nil
}

func TestReadWriteRemoveDB(t *testing.T) {
	ctx := context.Background()
	f := newInstanceFixture(1000)

	key := f.region(0, []byte("key"), 3)
	value := f.region(64, []byte("value"), 5)

	assert.Equal(t, int32(0), f.inst.WriteDB(ctx, key, value))
	assert.Equal(t, []byte("value"), f.storage.entries[scoped([]byte("key"), f.inst.ContractKey())])

	ptr := f.inst.ReadDB(ctx, key)
	require.NotZero(t, ptr)
	got, err := extractVector(f.mem, uint32(ptr), hostMake)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	assert.Equal(t, int32(0), f.inst.RemoveDB(ctx, key))
	assert.Equal(t, int32(0), f.inst.ReadDB(ctx, key), "absent keys read as 0")

	assert.Equal(t, uint64(40), f.inst.GasUsed())
	assert.Equal(t, uint64(40), f.inst.gas.usedExternal)
	assert.Zero(t, f.inst.gas.used)
}

func TestReadDB_StorageErrors(t *testing.T) {
	ctx := context.Background()

	f := newInstanceFixture(1000)
	f.storage.readErr = fmt.Errorf("%w: bad tag", interfaces.ErrStateDecryption)
	trap := catchTrap(func() { f.inst.ReadDB(ctx, f.region(0, []byte("k"), 1)) })
	require.NotNil(t, trap)
	assert.Equal(t, TrapDb, trap.Kind)
	assert.Equal(t, DbFailedDecryption, trap.Db)

	f = newInstanceFixture(1000)
	f.storage.readErr = errors.New("backend down")
	trap = catchTrap(func() { f.inst.ReadDB(ctx, f.region(0, []byte("k"), 1)) })
	require.NotNil(t, trap)
	assert.Equal(t, DbFailedRead, trap.Db)
}

func TestWriteDB_StorageErrors(t *testing.T) {
	ctx := context.Background()

	f := newInstanceFixture(1000)
	f.storage.writeErr = fmt.Errorf("%w: no key", interfaces.ErrStateEncryption)
	trap := catchTrap(func() { f.inst.WriteDB(ctx, f.region(0, []byte("k"), 1), f.region(64, []byte("v"), 1)) })
	require.NotNil(t, trap)
	assert.Equal(t, DbFailedEncryption, trap.Db)

	f = newInstanceFixture(1000)
	f.storage.writeErr = errors.New("disk full")
	trap = catchTrap(func() { f.inst.WriteDB(ctx, f.region(0, []byte("k"), 1), f.region(64, []byte("v"), 1)) })
	require.NotNil(t, trap)
	assert.Equal(t, DbFailedWrite, trap.Db)

	trap = catchTrap(func() { f.inst.RemoveDB(ctx, f.region(0, []byte("k"), 1)) })
	require.NotNil(t, trap)
	assert.Equal(t, DbFailedRemove, trap.Db)
}

func TestHostFunctions_BadRegion(t *testing.T) {
	f := newInstanceFixture(1000)

	trap := catchTrap(func() { f.inst.ReadDB(context.Background(), 4094) })
	require.NotNil(t, trap)
	assert.Equal(t, TrapMemoryRead, trap.Kind)
}

func TestStorageGasExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newInstanceFixture(25)
	key := f.region(0, []byte("k"), 1)
	value := f.region(64, []byte("v"), 1)

	f.inst.WriteDB(ctx, key, value)
	f.inst.Gas(ctx, 5)

	trap := catchTrap(func() { f.inst.WriteDB(ctx, key, value) })
	require.NotNil(t, trap)
	assert.Equal(t, TrapOutOfGas, trap.Kind)
	assert.Equal(t, uint64(25), f.inst.GasUsed())
}

func TestGas(t *testing.T) {
	ctx := context.Background()

	f := newInstanceFixture(100)
	f.inst.Gas(ctx, 99)
	assert.Equal(t, uint64(99), f.inst.GasUsed())

	trap := catchTrap(func() { f.inst.Gas(ctx, 1) })
	require.NotNil(t, trap, "reaching the limit exhausts it")
	assert.Equal(t, TrapOutOfGas, trap.Kind)

	f = newInstanceFixture(math.MaxUint64 - 1)
	trap = catchTrap(func() { f.inst.Gas(ctx, -1) })
	require.NotNil(t, trap, "negative amounts sign-extend")
	assert.Equal(t, TrapOutOfGas, trap.Kind)
}

func TestGasMeter_Saturates(t *testing.T) {
	g := gasMeter{limit: math.MaxUint64}

	require.NoError(t, g.useGas(math.MaxUint64-10))
	err := g.useGasExternally(20)

	var trap *TrapError
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, TrapOutOfGas, trap.Kind)
	assert.Equal(t, uint64(math.MaxUint64), g.Total())

	require.Error(t, g.useGas(math.MaxUint64))
	assert.Equal(t, uint64(math.MaxUint64), g.used)
}

func TestCanonicalizeHumanizeAddress(t *testing.T) {
	ctx := context.Background()
	f := newInstanceFixture(1000)
	canonical := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14}

	canonPtr := f.region(0, canonical, 20)
	humanOut := f.region(64, nil, 64)
	assert.Equal(t, StatusOK, f.inst.HumanizeAddress(ctx, canonPtr, humanOut))

	human, err := extractVector(f.mem, humanOut, hostMake)
	require.NoError(t, err)
	assert.Regexp(t, "^secret1", string(human))

	padded := append(append([]byte("  "), human...), '\n')
	humanIn := f.region(256, padded, uint32(len(padded)))
	canonOut := f.region(512, nil, 32)
	assert.Equal(t, StatusOK, f.inst.CanonicalizeAddress(ctx, humanIn, canonOut))

	got, err := extractVector(f.mem, canonOut, hostMake)
	require.NoError(t, err)
	assert.Equal(t, canonical, got)
}

func TestCanonicalizeAddress_Status(t *testing.T) {
	ctx := context.Background()

	data, err := bech32.ConvertBits([]byte("twenty bytes of addr"), 8, 5, true)
	require.NoError(t, err)
	otherPrefix, err := bech32.Encode("cosmos", data)
	require.NoError(t, err)
	badPayload, err := bech32.Encode(Bech32PrefixAccAddr, []byte{31})
	require.NoError(t, err)

	tests := []struct {
		name   string
		input  []byte
		status int32
	}{
		{name: "invalid utf8", input: []byte{0xff, 0xfe}, status: StatusInvalidUTF8},
		{name: "not bech32", input: []byte("secret1notachecksum"), status: StatusInvalidBech32},
		{name: "wrong prefix", input: []byte(otherPrefix), status: StatusWrongPrefix},
		{name: "bad payload padding", input: []byte(badPayload), status: StatusInvalidBase32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInstanceFixture(1000)
			in := f.region(0, tt.input, uint32(len(tt.input)))
			out := f.region(256, nil, 64)
			assert.Equal(t, tt.status, f.inst.CanonicalizeAddress(ctx, in, out))

			region, err := readRegion(f.mem, out)
			require.NoError(t, err)
			assert.Zero(t, region.Length, "output untouched on failure")
		})
	}
}

func TestCanonicalizeAddress_Traps(t *testing.T) {
	ctx := context.Background()

	f := newInstanceFixture(1000)
	in := f.region(0, []byte(" \t\n"), 3)
	trap := catchTrap(func() { f.inst.CanonicalizeAddress(ctx, in, f.region(64, nil, 32)) })
	require.NotNil(t, trap)
	assert.Equal(t, TrapInputEmpty, trap.Kind)
	assert.ErrorIs(t, trap, ErrEmptyAddress)

	codec := NewAddressCodec()
	human, status := codec.Humanize(make([]byte, 32))
	require.Equal(t, StatusOK, status)

	f = newInstanceFixture(1000)
	in = f.region(0, []byte(human), uint32(len(human)))
	trap = catchTrap(func() { f.inst.CanonicalizeAddress(ctx, in, f.region(256, nil, 20)) })
	require.NotNil(t, trap, "32 canonical bytes do not fit 20")
	assert.Equal(t, TrapMemoryWrite, trap.Kind)
}

func TestQueryChain(t *testing.T) {
	f := newInstanceFixture(1000)
	trap := catchTrap(func() { f.inst.QueryChain(context.Background(), 0) })
	require.NotNil(t, trap)
	assert.Equal(t, TrapNotImplemented, trap.Kind)
	assert.Equal(t, interfaces.EnclaveNotImplemented, ToEnclaveError(trap))
}

func TestInstanceFinish(t *testing.T) {
	f := newInstanceFixture(1)
	assert.Equal(t, StateCreated, f.inst.State())

	f.inst.finish(nil)
	assert.Equal(t, StateCompleted, f.inst.State())

	f.inst.finish(fmt.Errorf("call: %w", newTrap(TrapOutOfGas, nil)))
	assert.Equal(t, StateGasExhausted, f.inst.State())

	f.inst.finish(errors.New("unreachable"))
	assert.Equal(t, StateTrapped, f.inst.State())
}
