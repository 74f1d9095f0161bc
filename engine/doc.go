// Package engine executes WebAssembly contracts against encrypted state.
//
// Each call gets a ContractInstance: the guest memory, a gas limit with two
// counters (interpreter gas and host-service gas), the calling environment
// and the ContractKey that scopes storage. Contracts reach the host through
// the "env" import module:
//
//	read_db(key_region) -> value_region | 0
//	write_db(key_region, value_region) -> 0
//	remove_db(key_region) -> 0
//	canonicalize_address(human_region, canonical_out_region) -> status
//	humanize_address(canonical_region, human_out_region) -> status
//	query_chain(query_region) -> traps, not implemented
//	gas(amount)
//
// A region is three little-endian u32 values in guest memory: offset,
// capacity and length. Writes into a region never truncate; data longer
// than its capacity traps. Values the host returns are placed in buffers
// obtained from the contract's allocate export.
//
// Failures are raised as *TrapError panics inside host functions and
// surface from Engine.Execute as an interfaces.EnclaveError.
package engine
