// Package interfaces defines the types and contracts shared by the enclave
// components, separating interface definitions from implementations.
//
// # Storage
//
// KVBackend is the untrusted key/value store that holds encrypted contract
// state. StateStorage is the encrypted view of it that the contract runtime
// calls into; it is scoped by ContractKey and reports gas per operation.
// BackendLocation parses the URIs used to select a backend.
//
// # Errors
//
// EnclaveError is the closed enum reported across the enclave boundary.
// Components keep their own sentinel errors internally and collapse them
// into an EnclaveError at the boundary.
//
// # Types
//
//   - Seed: 32-byte root or derived secret
//   - PublicKey: 65-byte uncompressed secp256k1 key
//   - ContractKey: 32-byte storage scope of a contract
//   - Attestation: raw platform quote
package interfaces
