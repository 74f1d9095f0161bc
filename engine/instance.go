package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ruteri/tee-contract-enclave/interfaces"
)

// State is the lifecycle position of a ContractInstance.
type State int

const (
	StateCreated State = iota
	StateExecuting
	StateCompleted
	StateGasExhausted
	StateTrapped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateGasExhausted:
		return "gas_exhausted"
	case StateTrapped:
		return "trapped"
	default:
		return "unknown"
	}
}

// ContractInstance is the execution context of one contract call. Host
// functions and the interpreter's gas callback are its only mutators, and
// nothing it holds outlives the call.
type ContractInstance struct {
	log         *slog.Logger
	contractKey interfaces.ContractKey
	// calling context (block height, sender, ...); opaque here
	env []byte

	memory    Memory
	guest     GuestAllocator
	hostAlloc func(int) []byte
	storage   interfaces.StateStorage
	codec     AddressCodec

	gas   gasMeter
	state State
}

type instanceConfig struct {
	log         *slog.Logger
	contractKey interfaces.ContractKey
	env         []byte
	gasLimit    uint64
	storage     interfaces.StateStorage
	codec       AddressCodec
	hostAlloc   func(int) []byte
}

func newContractInstance(cfg instanceConfig) *ContractInstance {
	hostAlloc := cfg.hostAlloc
	if hostAlloc == nil {
		hostAlloc = func(n int) []byte { return make([]byte, n) }
	}

	return &ContractInstance{
		log:         cfg.log.With("contract", cfg.contractKey.Short()),
		contractKey: cfg.contractKey,
		env:         cfg.env,
		hostAlloc:   hostAlloc,
		storage:     cfg.storage,
		codec:       cfg.codec,
		gas:         gasMeter{limit: cfg.gasLimit},
		state:       StateCreated,
	}
}

// bind attaches the instantiated module's memory and allocator.
func (c *ContractInstance) bind(memory Memory, guest GuestAllocator) {
	c.memory = memory
	c.guest = guest
}

func (c *ContractInstance) State() State {
	return c.state
}

// GasUsed is the sum of interpreter and host-service gas.
func (c *ContractInstance) GasUsed() uint64 {
	return c.gas.Total()
}

func (c *ContractInstance) ContractKey() interfaces.ContractKey {
	return c.contractKey
}

// finish moves the instance to its terminal state.
func (c *ContractInstance) finish(err error) {
	var trap *TrapError
	switch {
	case err == nil:
		c.state = StateCompleted
	case errors.As(err, &trap) && trap.Kind == TrapOutOfGas:
		c.state = StateGasExhausted
	default:
		c.state = StateTrapped
	}
}

func (c *ContractInstance) extract(ptr uint32) []byte {
	buf, err := extractVector(c.memory, ptr, c.hostAlloc)
	if err != nil {
		panic(newTrap(TrapMemoryRead, err))
	}
	return buf
}

func (c *ContractInstance) charge(err error) {
	if err != nil {
		c.log.Warn("out of gas", "limit", c.gas.limit, "used", c.gas.used, "used_externally", c.gas.usedExternal)
		panic(err)
	}
}

// ReadDB implements read_db. It returns the address of a fresh region
// holding the value, or 0 when the key is absent.
func (c *ContractInstance) ReadDB(ctx context.Context, keyPtr uint32) int32 {
	key := c.extract(keyPtr)

	value, gasUsed, err := c.storage.Read(ctx, key, c.contractKey)
	if err != nil {
		c.log.Error("read_db failed", "err", err)
		if errors.Is(err, interfaces.ErrStateDecryption) {
			panic(newDbTrap(DbFailedDecryption, err))
		}
		panic(newDbTrap(DbFailedRead, err))
	}
	c.charge(c.gas.useGasExternally(gasUsed))

	if value == nil {
		return 0
	}

	ptr, err := writeToMemory(ctx, c.memory, c.guest, value)
	if err != nil {
		c.log.Error("read_db could not hand value to contract", "len", len(value), "err", err)
		panic(newTrap(TrapMemoryAllocation, err))
	}
	return int32(ptr)
}

// WriteDB implements write_db.
func (c *ContractInstance) WriteDB(ctx context.Context, keyPtr, valuePtr uint32) int32 {
	key := c.extract(keyPtr)
	value := c.extract(valuePtr)

	gasUsed, err := c.storage.Write(ctx, key, value, c.contractKey)
	if err != nil {
		c.log.Error("write_db failed", "err", err)
		if errors.Is(err, interfaces.ErrStateEncryption) {
			panic(newDbTrap(DbFailedEncryption, err))
		}
		panic(newDbTrap(DbFailedWrite, err))
	}
	c.charge(c.gas.useGasExternally(gasUsed))
	return 0
}

// RemoveDB implements remove_db.
func (c *ContractInstance) RemoveDB(ctx context.Context, keyPtr uint32) int32 {
	key := c.extract(keyPtr)

	gasUsed, err := c.storage.Remove(ctx, key, c.contractKey)
	if err != nil {
		c.log.Error("remove_db failed", "err", err)
		panic(newDbTrap(DbFailedRemove, err))
	}
	c.charge(c.gas.useGasExternally(gasUsed))
	return 0
}

// CanonicalizeAddress implements canonicalize_address. Decoding problems
// are reported as negative status codes; an empty address traps.
func (c *ContractInstance) CanonicalizeAddress(ctx context.Context, humanPtr, canonicalPtr uint32) int32 {
	human := c.extract(humanPtr)

	canonical, status, err := c.codec.Canonicalize(human)
	if err != nil {
		panic(newTrap(TrapInputEmpty, err))
	}
	if status != StatusOK {
		c.log.Debug("canonicalize_address rejected input", "status", status)
		return status
	}

	if err := writeToAllocatedMemory(c.memory, canonicalPtr, canonical); err != nil {
		panic(newTrap(TrapMemoryWrite, err))
	}
	return StatusOK
}

// HumanizeAddress implements humanize_address.
func (c *ContractInstance) HumanizeAddress(ctx context.Context, canonicalPtr, humanPtr uint32) int32 {
	canonical := c.extract(canonicalPtr)

	human, status := c.codec.Humanize(canonical)
	if status != StatusOK {
		return status
	}

	if err := writeToAllocatedMemory(c.memory, humanPtr, []byte(human)); err != nil {
		panic(newTrap(TrapMemoryWrite, err))
	}
	return StatusOK
}

// QueryChain is reserved.
func (c *ContractInstance) QueryChain(ctx context.Context, queryPtr uint32) int32 {
	panic(newTrap(TrapNotImplemented, errors.New("query_chain")))
}

// Gas charges interpreter gas. It is called by the metering code injected
// into the contract. Negative amounts sign-extend and exhaust the limit.
func (c *ContractInstance) Gas(ctx context.Context, amount int32) {
	c.charge(c.gas.useGas(uint64(int64(amount))))
}
