package engine

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModuleName is the import module contracts link their host calls from.
const HostModuleName = "env"

type instanceKey struct{}

func withInstance(ctx context.Context, inst *ContractInstance) context.Context {
	return context.WithValue(ctx, instanceKey{}, inst)
}

// instanceFrom returns the ContractInstance of the running call. The host
// module is shared by every call, so the instance travels in the context.
func instanceFrom(ctx context.Context) *ContractInstance {
	inst, ok := ctx.Value(instanceKey{}).(*ContractInstance)
	if !ok {
		panic(newTrap(TrapFailedOcall, errors.New("host call outside of a contract execution")))
	}
	return inst
}

// hostFunctions maps every import name of the contract ABI to its handler.
// The table is resolved once, when the host module is instantiated.
var hostFunctions = map[string]any{
	"read_db": func(ctx context.Context, _ api.Module, keyPtr uint32) int32 {
		return instanceFrom(ctx).ReadDB(ctx, keyPtr)
	},
	"write_db": func(ctx context.Context, _ api.Module, keyPtr, valuePtr uint32) int32 {
		return instanceFrom(ctx).WriteDB(ctx, keyPtr, valuePtr)
	},
	"remove_db": func(ctx context.Context, _ api.Module, keyPtr uint32) int32 {
		return instanceFrom(ctx).RemoveDB(ctx, keyPtr)
	},
	"canonicalize_address": func(ctx context.Context, _ api.Module, humanPtr, canonicalPtr uint32) int32 {
		return instanceFrom(ctx).CanonicalizeAddress(ctx, humanPtr, canonicalPtr)
	},
	"humanize_address": func(ctx context.Context, _ api.Module, canonicalPtr, humanPtr uint32) int32 {
		return instanceFrom(ctx).HumanizeAddress(ctx, canonicalPtr, humanPtr)
	},
	"query_chain": func(ctx context.Context, _ api.Module, queryPtr uint32) int32 {
		return instanceFrom(ctx).QueryChain(ctx, queryPtr)
	},
	"gas": func(ctx context.Context, _ api.Module, amount int32) {
		instanceFrom(ctx).Gas(ctx, amount)
	},
}

// linkHostModule instantiates the host module in rt. Contracts importing
// anything outside of hostFunctions fail to instantiate.
func linkHostModule(ctx context.Context, rt wazero.Runtime) error {
	builder := rt.NewHostModuleBuilder(HostModuleName)
	for name, fn := range hostFunctions {
		builder.NewFunctionBuilder().WithFunc(fn).WithName(name).Export(name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

// wasmAllocator calls the contract's exported allocate function.
type wasmAllocator struct {
	fn api.Function
}

func (a wasmAllocator) Allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := a.fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, errors.New("allocate returned no region")
	}
	return api.DecodeU32(results[0]), nil
}
