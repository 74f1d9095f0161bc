// Package metrics holds the Prometheus collectors of the enclave node.
// Collectors register with the default registry on import.
package metrics
