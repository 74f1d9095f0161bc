package interfaces

import "fmt"

// EnclaveError is the closed set of failures reported across the enclave
// boundary. Internal detail is dropped on purpose: callers learn which
// class of operation failed and nothing about the step that failed.
type EnclaveError uint8

const (
	EnclaveUnknown EnclaveError = iota + 1
	EnclaveUnexpected
	EnclaveFailedOcall
	EnclaveOutOfGas
	EnclaveFailedSeal
	EnclaveFailedUnseal
	EnclaveFailedFunctionCall
	EnclaveNotImplemented
	EnclaveMemoryAllocation
	EnclaveMemorySafetyAllocation
	EnclaveKeyNotInitialized
	EnclaveFailedAttestation
)

var enclaveErrorNames = map[EnclaveError]string{
	EnclaveUnknown:                "Unknown",
	EnclaveUnexpected:             "Unexpected",
	EnclaveFailedOcall:            "FailedOcall",
	EnclaveOutOfGas:               "OutOfGas",
	EnclaveFailedSeal:             "FailedSeal",
	EnclaveFailedUnseal:           "FailedUnseal",
	EnclaveFailedFunctionCall:     "FailedFunctionCall",
	EnclaveNotImplemented:         "NotImplemented",
	EnclaveMemoryAllocation:       "MemoryAllocation",
	EnclaveMemorySafetyAllocation: "MemorySafetyAllocation",
	EnclaveKeyNotInitialized:      "KeyNotInitialized",
	EnclaveFailedAttestation:      "FailedAttestation",
}

func (e EnclaveError) String() string {
	if name, ok := enclaveErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("EnclaveError(%d)", uint8(e))
}

func (e EnclaveError) Error() string {
	return "enclave error: " + e.String()
}

// ParseEnclaveError maps a name produced by String back to its value.
// Unrecognised names map to EnclaveUnknown.
func ParseEnclaveError(name string) EnclaveError {
	for code, n := range enclaveErrorNames {
		if n == name {
			return code
		}
	}
	return EnclaveUnknown
}
