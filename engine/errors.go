package engine

import (
	"errors"
	"fmt"

	"github.com/ruteri/tee-contract-enclave/interfaces"
	"github.com/ruteri/tee-contract-enclave/safetybuffer"
)

// TrapKind classifies an unrecoverable host function failure.
type TrapKind int

const (
	TrapFailedOcall TrapKind = iota + 1
	TrapOutOfGas
	TrapEncryption
	TrapDecryption
	TrapDb
	TrapMemoryAllocation
	TrapMemoryRead
	TrapMemoryWrite
	TrapInputInvalid
	TrapInputEmpty
	TrapInputWrongPrefix
	TrapInputWrongLength
	TrapOutputWrongLength
	TrapNonExistentImportFunction
	TrapNotImplemented
)

var trapKindNames = map[TrapKind]string{
	TrapFailedOcall:               "failed ocall",
	TrapOutOfGas:                  "out of gas",
	TrapEncryption:                "encryption error",
	TrapDecryption:                "decryption error",
	TrapDb:                        "db error",
	TrapMemoryAllocation:          "memory allocation error",
	TrapMemoryRead:                "memory read error",
	TrapMemoryWrite:               "memory write error",
	TrapInputInvalid:              "input invalid",
	TrapInputEmpty:                "input empty",
	TrapInputWrongPrefix:          "input wrong prefix",
	TrapInputWrongLength:          "input wrong length",
	TrapOutputWrongLength:         "output wrong length",
	TrapNonExistentImportFunction: "non-existent import function",
	TrapNotImplemented:            "not implemented",
}

func (k TrapKind) String() string {
	if name, ok := trapKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("trap(%d)", int(k))
}

// DbErrorKind refines TrapDb.
type DbErrorKind int

const (
	DbFailedRead DbErrorKind = iota + 1
	DbFailedRemove
	DbFailedWrite
	DbFailedEncryption
	DbFailedDecryption
)

func (k DbErrorKind) String() string {
	switch k {
	case DbFailedRead:
		return "failed read"
	case DbFailedRemove:
		return "failed remove"
	case DbFailedWrite:
		return "failed write"
	case DbFailedEncryption:
		return "failed encryption"
	case DbFailedDecryption:
		return "failed decryption"
	default:
		return "unknown"
	}
}

// TrapError aborts contract execution. Host functions raise it by
// panicking; wazero recovers the panic and returns it wrapped from Call.
type TrapError struct {
	Kind TrapKind
	Db   DbErrorKind
	Err  error
}

func (e *TrapError) Error() string {
	msg := e.Kind.String()
	if e.Kind == TrapDb {
		msg += ": " + e.Db.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TrapError) Unwrap() error {
	return e.Err
}

func newTrap(kind TrapKind, err error) *TrapError {
	return &TrapError{Kind: kind, Err: err}
}

func newDbTrap(kind DbErrorKind, err error) *TrapError {
	return &TrapError{Kind: TrapDb, Db: kind, Err: err}
}

// ErrEntryPointMissing is returned when the contract does not export the
// requested entry point or one of the exports the runtime needs.
var ErrEntryPointMissing = errors.New("contract export missing")

// ToEnclaveError reclassifies an execution failure into the boundary enum.
// Traps raised by host functions keep their class; anything else the
// interpreter reports (unreachable, out-of-bounds access, bad module) is a
// failed function call.
func ToEnclaveError(err error) interfaces.EnclaveError {
	if err == nil {
		return 0
	}

	var enclaveErr interfaces.EnclaveError
	if errors.As(err, &enclaveErr) {
		return enclaveErr
	}

	if errors.Is(err, safetybuffer.ErrOutOfMemory) {
		return interfaces.EnclaveMemoryAllocation
	}
	if errors.Is(err, safetybuffer.ErrMemorySafetyAllocation) {
		return interfaces.EnclaveMemorySafetyAllocation
	}

	var trap *TrapError
	if !errors.As(err, &trap) {
		return interfaces.EnclaveFailedFunctionCall
	}

	switch trap.Kind {
	case TrapFailedOcall:
		return interfaces.EnclaveFailedOcall
	case TrapOutOfGas:
		return interfaces.EnclaveOutOfGas
	case TrapEncryption:
		return interfaces.EnclaveFailedSeal
	case TrapDecryption:
		return interfaces.EnclaveFailedUnseal
	case TrapDb:
		return interfaces.EnclaveFailedFunctionCall
	case TrapNotImplemented:
		return interfaces.EnclaveNotImplemented
	case TrapMemoryAllocation:
		return interfaces.EnclaveMemoryAllocation
	default:
		return interfaces.EnclaveUnknown
	}
}
