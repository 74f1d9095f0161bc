package engine

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/interfaces"
	"github.com/ruteri/tee-contract-enclave/safetybuffer"
	"github.com/ruteri/tee-contract-enclave/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contractWasm imports read_db, write_db, gas and canonicalize_address and
// exports a bump allocator plus:
//
//	handle(env, msg) { gas(100); write_db(msg, env); return read_db(msg) }
//	query(msg)       { return read_db(msg) }
//	init(env, msg)   { canonicalize_address(msg, env); return env }
const contractWasm = "0061736d0100000001100360017f017f60027f7f017f60017f0002430403656e7607726561645f6462000003656e760877726974655f6462000103656e7603676173000203656e761463616e6f6e6963616c697a655f6164647265737300010305040001000105030100010607017f014180080b072d05066d656d6f7279020008616c6c6f6361746500040668616e646c650005057175657279000604696e697400070a54042c01017f2300210120012001410c6a36020020012000360204200141003602082001410c6a20006a240020010b120041e40010022001200010011a200110000b0600200010000b0b002001200010031a20000b"

// unknownImportWasm imports env.not_a_host_function.
const unknownImportWasm = "0061736d0100000001100360017f017f60027f7f017f60017f00021b0103656e76136e6f745f615f686f73745f66756e6374696f6e0000030201000503010001071202066d656d6f7279020005717565727900010a0601040020000b"

// trappingWasm exports allocate (always region 0) and a query that hits
// unreachable.
const trappingWasm = "0061736d0100000001100360017f017f60027f7f017f60017f0002010003030200000503010001071d03066d656d6f7279020008616c6c6f63617465000005717565727900010a0a02040041000b0300000b"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

type stateKeys struct {
	ikm cryptoutils.Seed
}

func (k stateKeys) StateIKM() (cryptoutils.Seed, error) {
	return k.ikm, nil
}

func newStateKeys(t *testing.T) stateKeys {
	t.Helper()
	ikm, err := cryptoutils.NewRandomSeed()
	require.NoError(t, err)
	return stateKeys{ikm: ikm}
}

func newTestEngine(t *testing.T, cfg Config, maxHostAllocation int) *Engine {
	t.Helper()
	return newEngineOver(t, cfg, storage.NewMemoryBackend(t.Name()), newStateKeys(t), maxHostAllocation)
}

// newEngineOver builds an engine whose state service reads through the same
// host allocator as its contract calls.
func newEngineOver(t *testing.T, cfg Config, backend *storage.MemoryBackend, keys stateKeys, maxHostAllocation int) *Engine {
	t.Helper()
	ctx := context.Background()

	sup, err := safetybuffer.NewSupervisor(testLogger(), safetybuffer.Config{ChunkSize: 64, TargetChunks: 8, MinChunks: 2}, nil)
	require.NoError(t, err)
	hostAlloc := safetybuffer.NewAllocator(maxHostAllocation, sup)

	state := storage.NewStateService(testLogger(), backend, keys, storage.DefaultGasCosts()).
		WithHostAllocator(hostAlloc.Alloc)

	e, err := NewEngine(ctx, testLogger(), cfg, state, sup, hostAlloc)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(ctx) })
	return e
}

func TestEngine_HandleThenQuery(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultConfig(), 1<<20)
	code := mustHex(t, contractWasm)
	ck := interfaces.ContractKey{1}

	res, err := e.Handle(ctx, Request{Code: code, ContractKey: ck, GasLimit: 1_000_000, Env: []byte("the env"), Msg: []byte("counter")})
	require.NoError(t, err)
	assert.Equal(t, []byte("the env"), res.Output)
	// gas(100) + write 2000+30*14 + read 1000+3*7
	assert.Equal(t, uint64(100+2420+1021), res.GasUsed)

	res, err = e.Query(ctx, Request{Code: code, ContractKey: ck, GasLimit: 1_000_000, Msg: []byte("counter")})
	require.NoError(t, err)
	assert.Equal(t, []byte("the env"), res.Output)
	assert.Equal(t, uint64(1021), res.GasUsed)

	res, err = e.Query(ctx, Request{Code: code, ContractKey: ck, GasLimit: 1_000_000, Msg: []byte("missing")})
	require.NoError(t, err)
	assert.Empty(t, res.Output)
	assert.Equal(t, uint64(1000), res.GasUsed)
}

func TestEngine_ContractsDoNotShareState(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultConfig(), 1<<20)
	code := mustHex(t, contractWasm)

	_, err := e.Handle(ctx, Request{Code: code, ContractKey: interfaces.ContractKey{0xa}, GasLimit: 1_000_000, Env: []byte("a's value"), Msg: []byte("key")})
	require.NoError(t, err)

	res, err := e.Query(ctx, Request{Code: code, ContractKey: interfaces.ContractKey{0xb}, GasLimit: 1_000_000, Msg: []byte("key")})
	require.NoError(t, err)
	assert.Empty(t, res.Output)

	_, err = e.Handle(ctx, Request{Code: code, ContractKey: interfaces.ContractKey{0xb}, GasLimit: 1_000_000, Env: []byte("b's value"), Msg: []byte("key")})
	require.NoError(t, err)

	res, err = e.Query(ctx, Request{Code: code, ContractKey: interfaces.ContractKey{0xa}, GasLimit: 1_000_000, Msg: []byte("key")})
	require.NoError(t, err)
	assert.Equal(t, []byte("a's value"), res.Output)
}

func TestEngine_InitCanonicalizesAddress(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultConfig(), 1<<20)
	code := mustHex(t, contractWasm)

	canonical := bytes.Repeat([]byte{0x5a}, 20)
	human, status := NewAddressCodec().Humanize(canonical)
	require.Equal(t, StatusOK, status)

	res, err := e.Init(ctx, Request{Code: code, GasLimit: 1_000_000, Env: make([]byte, 20), Msg: []byte(human)})
	require.NoError(t, err)
	assert.Equal(t, canonical, res.Output)

	// a soft failure leaves the output region alone
	res, err = e.Init(ctx, Request{Code: code, GasLimit: 1_000_000, Env: []byte("untouched env bytes!"), Msg: []byte("cosmos1invalid")})
	require.NoError(t, err)
	assert.Equal(t, []byte("untouched env bytes!"), res.Output)

	_, err = e.Init(ctx, Request{Code: code, GasLimit: 1_000_000, Env: make([]byte, 20), Msg: []byte("   ")})
	assert.ErrorIs(t, err, interfaces.EnclaveUnknown)
}

func TestEngine_OutOfGas(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultConfig(), 1<<20)
	code := mustHex(t, contractWasm)

	res, err := e.Handle(ctx, Request{Code: code, GasLimit: 50, Env: []byte("env"), Msg: []byte("msg")})
	assert.ErrorIs(t, err, interfaces.EnclaveOutOfGas)
	assert.Nil(t, res.Output)
	assert.Equal(t, uint64(100), res.GasUsed)

	// the interpreter counter alone is below the limit; storage tips it over
	res, err = e.Handle(ctx, Request{Code: code, GasLimit: 2000, Env: []byte("env"), Msg: []byte("msg")})
	assert.ErrorIs(t, err, interfaces.EnclaveOutOfGas)
	assert.Equal(t, uint64(100+2000+30*6), res.GasUsed)
}

func TestEngine_Failures(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultConfig(), 1<<20)

	tests := []struct {
		name  string
		entry Entry
		code  []byte
		msg   []byte
		want  interfaces.EnclaveError
	}{
		{name: "unknown host import", entry: EntryQuery, code: mustHex(t, unknownImportWasm), want: interfaces.EnclaveUnknown},
		{name: "guest trap", entry: EntryQuery, code: mustHex(t, trappingWasm), want: interfaces.EnclaveFailedFunctionCall},
		{name: "missing entry point", entry: EntryHandle, code: mustHex(t, trappingWasm), want: interfaces.EnclaveFailedFunctionCall},
		{name: "not wasm", entry: EntryQuery, code: []byte("\x00asm garbage"), want: interfaces.EnclaveFailedFunctionCall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Execute(ctx, tt.entry, Request{Code: tt.code, GasLimit: 1_000_000, Msg: tt.msg})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res.Output)
		})
	}
}

func TestEngine_HostAllocationFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultConfig(), 8)
	code := mustHex(t, contractWasm)

	_, err := e.Handle(ctx, Request{Code: code, GasLimit: 1_000_000, Env: []byte("much longer than eight"), Msg: []byte("k")})
	assert.ErrorIs(t, err, interfaces.EnclaveMemoryAllocation)
	assert.True(t, e.supervisor.GetThenClearOOMHappened())

	res, err := e.Handle(ctx, Request{Code: code, GasLimit: 1_000_000, Env: []byte("short"), Msg: []byte("k")})
	require.NoError(t, err, "the buffer is restored for the next call")
	assert.Equal(t, []byte("short"), res.Output)
}

func TestEngine_OversizedStoredValue(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(t.Name())
	keys := newStateKeys(t)
	code := mustHex(t, contractWasm)
	ck := interfaces.ContractKey{0x0f}

	writer := newEngineOver(t, DefaultConfig(), backend, keys, 1<<20)
	_, err := writer.Handle(ctx, Request{Code: code, ContractKey: ck, GasLimit: 10_000_000, Env: bytes.Repeat([]byte{0x61}, 4096), Msg: []byte("big")})
	require.NoError(t, err)
	_, err = writer.Handle(ctx, Request{Code: code, ContractKey: ck, GasLimit: 1_000_000, Env: []byte("small"), Msg: []byte("small")})
	require.NoError(t, err)

	reader := newEngineOver(t, DefaultConfig(), backend, keys, 64)
	res, err := reader.Query(ctx, Request{Code: code, ContractKey: ck, GasLimit: 10_000_000, Msg: []byte("big")})
	assert.ErrorIs(t, err, interfaces.EnclaveMemoryAllocation)
	assert.Nil(t, res.Output)
	assert.True(t, reader.supervisor.GetThenClearOOMHappened())

	res, err = reader.Query(ctx, Request{Code: code, ContractKey: ck, GasLimit: 1_000_000, Msg: []byte("small")})
	require.NoError(t, err)
	assert.Equal(t, []byte("small"), res.Output)
	assert.Equal(t, 8, reader.supervisor.Reserved(), "the buffer is topped up again")
}

func TestEngine_ReadDBEmptyValue(t *testing.T) {
	ctx := context.Background()
	f := newInstanceFixture(1_000_000)
	f.inst.storage = storage.NewStateService(testLogger(), storage.NewMemoryBackend(t.Name()), newStateKeys(t), storage.DefaultGasCosts())

	key := f.region(0, []byte("key"), 3)
	empty := f.region(64, nil, 0)
	require.Equal(t, int32(0), f.inst.WriteDB(ctx, key, empty))

	ptr := f.inst.ReadDB(ctx, key)
	require.NotZero(t, ptr, "a key holding an empty value is present")
	got, err := extractVector(f.mem, uint32(ptr), hostMake)
	require.NoError(t, err)
	assert.Empty(t, got)

	missing := f.region(128, []byte("other"), 5)
	assert.Equal(t, int32(0), f.inst.ReadDB(ctx, missing))
}

func TestEngine_ModuleCache(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{ModuleCacheSize: 1}, 1<<20)
	code := mustHex(t, contractWasm)

	for i := 0; i < 3; i++ {
		_, err := e.Query(ctx, Request{Code: code, GasLimit: 1_000_000, Msg: []byte("k")})
		require.NoError(t, err)
	}
	assert.Len(t, e.modules, 1)

	_, err := e.Query(ctx, Request{Code: mustHex(t, trappingWasm), GasLimit: 1_000_000})
	require.Error(t, err)
	assert.Len(t, e.modules, 1)
	assert.Len(t, e.order, 1)

	_, err = e.Query(ctx, Request{Code: code, GasLimit: 1_000_000, Msg: []byte("k")})
	require.NoError(t, err, "evicted code recompiles")
}

func TestEngine_ConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, DefaultConfig(), 1<<20)
	code := mustHex(t, contractWasm)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ck := interfaces.ContractKey{byte(i)}
			value := []byte(fmt.Sprintf("value-%d", i))

			res, err := e.Handle(ctx, Request{Code: code, ContractKey: ck, GasLimit: 1_000_000, Env: value, Msg: []byte("key")})
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(res.Output, value) {
				errs <- fmt.Errorf("contract %d read %q", i, res.Output)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestParseEntry(t *testing.T) {
	for _, name := range []string{"init", "handle", "query"} {
		entry, err := ParseEntry(name)
		require.NoError(t, err)
		assert.Equal(t, Entry(name), entry)
	}

	_, err := ParseEntry("migrate")
	assert.ErrorIs(t, err, ErrEntryPointMissing)
}
