package api

import (
	"errors"

	"github.com/ruteri/tee-contract-enclave/interfaces"
)

const (
	// AttestationTypeHeader names the attestation scheme of a request body
	// carrying a quote.
	AttestationTypeHeader = "X-Attestation-Type"

	DefaultMaxRequestBytes = 8 << 20
)

// PublicKeyResponse carries a hex encoded uncompressed secp256k1 key.
type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// ExecuteRequest is the body of a contract call. Byte fields travel as
// base64.
type ExecuteRequest struct {
	Code     []byte `json:"code"`
	Env      []byte `json:"env,omitempty"`
	Msg      []byte `json:"msg"`
	GasLimit uint64 `json:"gas_limit"`
}

// ExecuteResponse reports the outcome of a contract call. Error is the name
// of an interfaces.EnclaveError and is empty on success.
type ExecuteResponse struct {
	Output  []byte `json:"output,omitempty"`
	GasUsed uint64 `json:"gas_used"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is returned by every endpoint on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ExecutionError is returned by the client when the enclave rejected a
// contract call. GasUsed is what the failed call consumed.
type ExecutionError struct {
	Err     interfaces.EnclaveError
	GasUsed uint64
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

var ErrUnexpectedStatus = errors.New("unexpected response status")
