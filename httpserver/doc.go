/*
Package httpserver is the untrusted-side RPC transport of an enclave node.

It forwards requests to the registration entry points (seed exchange) and to
the contract engine, and returns only interfaces.EnclaveError names on
failure. Routes are listed in package api.

Status mapping:

  - KeyNotInitialized: 404
  - FailedAttestation: 401
  - failed contract calls: 422 with the gas used
  - other enclave errors: 500
  - malformed requests: 400

The server also serves /livez, /readyz, /drain and /undrain for load
balancer integration, /debug/pprof when enabled, and Prometheus metrics on a
separate listener.

Usage:

	handler := httpserver.NewHandler(bootstrapper, engine, cfg, log)
	srv := httpserver.New(cfg, handler)
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
