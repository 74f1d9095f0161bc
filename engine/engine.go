package engine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-contract-enclave/interfaces"
	"github.com/ruteri/tee-contract-enclave/metrics"
	"github.com/ruteri/tee-contract-enclave/safetybuffer"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Entry is a contract entry point.
type Entry string

const (
	EntryInit   Entry = "init"
	EntryHandle Entry = "handle"
	EntryQuery  Entry = "query"
)

func ParseEntry(s string) (Entry, error) {
	switch Entry(s) {
	case EntryInit, EntryHandle, EntryQuery:
		return Entry(s), nil
	default:
		return "", fmt.Errorf("%w: unknown entry point %q", ErrEntryPointMissing, s)
	}
}

const (
	exportMemory   = "memory"
	exportAllocate = "allocate"
)

type Config struct {
	// MemoryLimitPages bounds guest linear memory, in 64 KiB pages.
	MemoryLimitPages uint32
	// ModuleCacheSize bounds the number of compiled modules kept.
	ModuleCacheSize int
}

func DefaultConfig() Config {
	return Config{
		MemoryLimitPages: 512,
		ModuleCacheSize:  64,
	}
}

// Request is one contract call.
type Request struct {
	Code        []byte
	ContractKey interfaces.ContractKey
	GasLimit    uint64
	// Env is the calling context; it is not passed to query.
	Env []byte
	Msg []byte
}

// Result of a call. GasUsed is meaningful on failure too.
type Result struct {
	Output  []byte
	GasUsed uint64
}

// Engine runs contract calls on a wazero interpreter. The host module is
// linked once; each call gets its own module instance and ContractInstance.
type Engine struct {
	log        *slog.Logger
	runtime    wazero.Runtime
	storage    interfaces.StateStorage
	supervisor *safetybuffer.Supervisor
	hostAlloc  *safetybuffer.Allocator
	codec      AddressCodec
	cacheSize  int

	mu      sync.Mutex
	modules map[[32]byte]wazero.CompiledModule
	order   [][32]byte
}

func NewEngine(ctx context.Context, log *slog.Logger, cfg Config, storage interfaces.StateStorage, supervisor *safetybuffer.Supervisor, hostAlloc *safetybuffer.Allocator) (*Engine, error) {
	if storage == nil || supervisor == nil || hostAlloc == nil {
		return nil, errors.New("engine requires storage, supervisor and host allocator")
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = DefaultConfig().MemoryLimitPages
	}
	if cfg.ModuleCacheSize <= 0 {
		cfg.ModuleCacheSize = DefaultConfig().ModuleCacheSize
	}

	rtConfig := wazero.NewRuntimeConfigInterpreter().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(false)
	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)

	if err := linkHostModule(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("linking host module: %w", err)
	}

	return &Engine{
		log:        log,
		runtime:    rt,
		storage:    storage,
		supervisor: supervisor,
		hostAlloc:  hostAlloc,
		codec:      NewAddressCodec(),
		cacheSize:  cfg.ModuleCacheSize,
		modules:    make(map[[32]byte]wazero.CompiledModule),
	}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func (e *Engine) Init(ctx context.Context, req Request) (Result, error) {
	return e.Execute(ctx, EntryInit, req)
}

func (e *Engine) Handle(ctx context.Context, req Request) (Result, error) {
	return e.Execute(ctx, EntryHandle, req)
}

func (e *Engine) Query(ctx context.Context, req Request) (Result, error) {
	return e.Execute(ctx, EntryQuery, req)
}

// Execute runs one entry point to completion. Failures are reported as an
// interfaces.EnclaveError; the gas charged up to the failure is returned
// either way.
func (e *Engine) Execute(ctx context.Context, entry Entry, req Request) (Result, error) {
	inst := newContractInstance(instanceConfig{
		log:         e.log,
		contractKey: req.ContractKey,
		env:         req.Env,
		gasLimit:    req.GasLimit,
		storage:     e.storage,
		codec:       e.codec,
		hostAlloc:   e.hostAlloc.Alloc,
	})

	var output []byte
	err := e.supervisor.Protect(func() error {
		var err error
		output, err = e.run(ctx, entry, inst, req.Code, req.Msg)
		return err
	})
	inst.finish(err)

	res := Result{Output: output, GasUsed: inst.GasUsed()}
	if err == nil {
		metrics.RecordExecution(string(entry), inst.State().String(), res.GasUsed)
		return res, nil
	}

	enclaveErr := ToEnclaveError(err)
	metrics.RecordExecution(string(entry), enclaveErr.String(), res.GasUsed)
	inst.log.Warn("contract execution failed",
		"entry", entry,
		"state", inst.State(),
		"gas_used", res.GasUsed,
		"enclave_err", enclaveErr,
		"err", err)
	return Result{GasUsed: res.GasUsed}, enclaveErr
}

func (e *Engine) run(ctx context.Context, entry Entry, inst *ContractInstance, code, msg []byte) ([]byte, error) {
	compiled, err := e.compile(ctx, code)
	if err != nil {
		return nil, err
	}

	ctx = withInstance(ctx, inst)
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, newTrap(TrapNonExistentImportFunction, err)
	}
	defer mod.Close(ctx)

	mem := mod.Memory()
	allocate := mod.ExportedFunction(exportAllocate)
	fn := mod.ExportedFunction(string(entry))
	if mem == nil || allocate == nil || fn == nil {
		return nil, fmt.Errorf("%w: need %s, %s and %s", ErrEntryPointMissing, exportMemory, exportAllocate, entry)
	}
	inst.bind(mem, wasmAllocator{fn: allocate})
	inst.state = StateExecuting

	var params []uint64
	if entry != EntryQuery {
		envPtr, err := writeToMemory(ctx, mem, inst.guest, inst.env)
		if err != nil {
			return nil, newTrap(TrapMemoryAllocation, err)
		}
		params = append(params, api.EncodeU32(envPtr))
	}
	msgPtr, err := writeToMemory(ctx, mem, inst.guest, msg)
	if err != nil {
		return nil, newTrap(TrapMemoryAllocation, err)
	}
	params = append(params, api.EncodeU32(msgPtr))

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%s returned %d values, want 1", entry, len(results))
	}

	output, err := extractVector(mem, api.DecodeU32(results[0]), inst.hostAlloc)
	if err != nil {
		return nil, newTrap(TrapMemoryRead, err)
	}
	return output, nil
}

// compile returns the compiled module for code, reusing earlier
// compilations of identical code. The oldest entry is evicted once the
// cache is full.
func (e *Engine) compile(ctx context.Context, code []byte) (wazero.CompiledModule, error) {
	hash := sha256.Sum256(code)

	e.mu.Lock()
	defer e.mu.Unlock()

	if compiled, ok := e.modules[hash]; ok {
		return compiled, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("compiling contract: %w", err)
	}

	if len(e.order) >= e.cacheSize {
		oldest := e.order[0]
		e.order = e.order[1:]
		if evicted, ok := e.modules[oldest]; ok {
			delete(e.modules, oldest)
			evicted.Close(ctx)
		}
	}
	e.modules[hash] = compiled
	e.order = append(e.order, hash)
	e.log.Debug("contract compiled", "code_hash", fmt.Sprintf("%x", hash[:8]), "cached", len(e.modules))
	return compiled, nil
}
