// Package storage implements the encrypted contract state service and the
// untrusted key/value backends it writes through.
//
// StateService is what contract code reaches via read_db, write_db and
// remove_db. It never hands a raw key or a plaintext value to a backend:
//
//	backend key   = sha256(contractKey || key)
//	backend value = AES-SIV(HKDF(stateIKM, "contract-state" || contractKey),
//	                        value, AD = [contractKey, key])
//
// Every operation reports the gas it costs (see GasCosts).
//
// # Backend URI Format
//
//	memory://name
//	file:///var/lib/enclave/state
//	pebble:///var/lib/enclave/state.db
//	s3://bucket/prefix?region=us-west-2&endpoint=http://localhost:9000&path_style=true
//	vault://vault.example.com:8200/secret/contract-state
//
// BackendFactory picks the implementation from the URI scheme.
package storage
