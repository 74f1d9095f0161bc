// Package registration implements seed exchange and the node bootstrap
// flows built on it.
//
// The genesis node creates the consensus seed (InitBootstrap). A joining
// node generates a registration key and attests it (KeyGen). A node holding
// the seed encrypts it for the joining node's registration key
// (GetEncryptedSeed), and the joining node decrypts and installs it
// (InitSeed). The encrypted seed is AES-SIV under an ECDH secret, with the
// joining node's public key as associated data, and is exactly 48 bytes.
package registration
