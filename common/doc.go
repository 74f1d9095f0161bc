// Package common holds process-wide helpers shared by the enclave binaries:
// logger construction and build metadata.
package common
