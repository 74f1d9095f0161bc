package common

// Version is overwritten at build time through -ldflags.
var Version = "dev"

const PackageName = "github.com/ruteri/tee-contract-enclave"
