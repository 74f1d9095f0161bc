package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the enclave's untrusted-side RPC server.
type HTTPServerConfig struct {
	ListenAddr string
	// MetricsAddr is where Prometheus metrics are served. Empty disables
	// the metrics server.
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long /drain waits before reporting drained, so
	// load balancers notice the instance going away.
	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration

	// MaxRequestBytes bounds request bodies; contract code travels inline.
	MaxRequestBytes int64
	// VerifyRequesters makes the seed endpoint demand an attestation that
	// binds the requester's public key.
	VerifyRequesters bool
}
