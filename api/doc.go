/*
Package api holds the wire types of the enclave RPC and a client for it.

Endpoints served by httpserver:

	GET  /api/public/seed-exchange-pubkey      PublicKeyResponse
	GET  /api/public/io-pubkey                 PublicKeyResponse
	POST /api/attested/seed/{requester_pubkey} raw 48-byte encrypted seed
	POST /api/contracts/{contract_key}/{entry} ExecuteRequest -> ExecuteResponse

The seed endpoint takes the requester's attestation as the request body and
its scheme in the X-Attestation-Type header. Failures carry the name of an
interfaces.EnclaveError and nothing more.

Joining node example:

	client := api.NewClient("http://holder:8080")
	holderPk, err := client.SeedExchangePublicKey(ctx)
	blob, err := client.EncryptedSeed(ctx, myRegistrationPk, cryptoutils.DCAPAttestation, quote)
	err = bootstrapper.InitSeed(holderPk, blob)
*/
package api
