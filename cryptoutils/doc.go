// Package cryptoutils provides the cryptographic primitives of the enclave
// key hierarchy.
//
// Keys are secp256k1 key pairs (uncompressed 65-byte public keys) used for
// ECDH. Shared secrets and derived keys are 32-byte Seed values. Symmetric
// encryption of seeds and contract state uses AES-SIV, which is
// deterministic and takes any number of associated-data components.
//
// Key derivation is HKDF-SHA256 under the fixed KDFSalt. Sealing secrets to
// the platform goes through the Sealer interface; SoftwareSealer is the
// implementation for hosts that expose a platform secret rather than a
// hardware sealing key.
//
// Attestation providers produce TDX quotes over 64 bytes of report data.
// ReportDataForPublicKey is the binding used when a key is attested.
package cryptoutils
