// Package kms implements the enclave key hierarchy.
//
// A Keychain is opened once at process start and shared by reference with
// every component that needs key material. It holds:
//
//   - the consensus seed, the root of all derived keys (sealed)
//   - the registration key pair, generated by a node before it has a seed
//     and used to receive the seed through seed exchange (sealed)
//   - the seed-exchange key pair, the IO exchange key pair and the state
//     input keying material, derived from the seed with HKDF and distinct
//     labels (memory only)
//
// A key counts as set only once its sealed form has been written. Getters
// return ErrKeyNotInitialized for unset keys, which callers treat as a cue
// to generate the key or run seed exchange.
package kms
