// Package main (cmd/enclaved) runs a confidential contract enclave node.
//
// Commands:
//
//   - serve: open the keychain and the state backend and serve the enclave
//     API (seed exchange and contract execution).
//   - init-bootstrap: on the genesis node, create the consensus seed and
//     print the seed-exchange public key.
//   - keygen: on a joining node, create the registration key and print it
//     with an attestation over it.
//   - init-seed: on a joining node, install the seed encrypted for it, taken
//     from flags, a seed config file, or a running holder over the API.
//   - encrypt-seed: on a holder, encrypt the seed for a registration key and
//     print the resulting seed config.
//
// serve checks seed requesters against --requester-attestation-type (DCAP by
// default) and the --requester-measurements allow-list. It refuses to start
// without an allow-list unless --allow-any-measurement is set.
//
// Keychain, logging and safety buffer flags are global and must come before
// the command. Every flag can also be set through an ENCLAVE_* environment
// variable.
//
// Example, joining a network through a running node:
//
//	enclaved --sealing-secret $SECRET --seal-dir /data/sealed init-seed --holder-url http://node-0:8080
//	enclaved --sealing-secret $SECRET --seal-dir /data/sealed serve --state-uri pebble:///data/state
package main
