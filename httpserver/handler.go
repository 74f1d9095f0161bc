package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-contract-enclave/api"
	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/engine"
	"github.com/ruteri/tee-contract-enclave/interfaces"
)

// SeedService is the registration side of the enclave.
// registration.Bootstrapper implements it.
type SeedService interface {
	SeedExchangePublicKey() (cryptoutils.PublicKey, error)
	IOPublicKey() (cryptoutils.PublicKey, error)
	VerifyRequester(requester cryptoutils.PublicKey, attType cryptoutils.AttestationType, report []byte) error
	GetEncryptedSeed(requester cryptoutils.PublicKey) ([]byte, error)
}

// ContractExecutor runs contract calls. engine.Engine implements it.
type ContractExecutor interface {
	Execute(ctx context.Context, entry engine.Entry, req engine.Request) (engine.Result, error)
}

// Handler translates RPC requests into enclave entry point calls. It never
// returns more than an interfaces.EnclaveError name on failure.
type Handler struct {
	seeds            SeedService
	executor         ContractExecutor
	verifyRequesters bool
	maxRequestBytes  int64
	log              *slog.Logger
}

func NewHandler(seeds SeedService, executor ContractExecutor, cfg *api.HTTPServerConfig, log *slog.Logger) *Handler {
	maxRequestBytes := cfg.MaxRequestBytes
	if maxRequestBytes <= 0 {
		maxRequestBytes = api.DefaultMaxRequestBytes
	}

	return &Handler{
		seeds:            seeds,
		executor:         executor,
		verifyRequesters: cfg.VerifyRequesters,
		maxRequestBytes:  maxRequestBytes,
		log:              log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/public/seed-exchange-pubkey", h.HandleSeedExchangePublicKey)
	r.Get("/api/public/io-pubkey", h.HandleIOPublicKey)
	r.Post("/api/attested/seed/{requester_pubkey}", h.HandleEncryptedSeed)
	r.Post("/api/contracts/{contract_key}/{entry}", h.HandleExecute)
}

func (h *Handler) HandleSeedExchangePublicKey(w http.ResponseWriter, r *http.Request) {
	h.writePublicKey(w, h.seeds.SeedExchangePublicKey)
}

func (h *Handler) HandleIOPublicKey(w http.ResponseWriter, r *http.Request) {
	h.writePublicKey(w, h.seeds.IOPublicKey)
}

func (h *Handler) writePublicKey(w http.ResponseWriter, get func() (cryptoutils.PublicKey, error)) {
	pk, err := get()
	if err != nil {
		h.writeEnclaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.PublicKeyResponse{PublicKey: pk.String()})
}

// HandleEncryptedSeed releases the consensus seed, encrypted for the
// requester's registration key.
//
// URL format: POST /api/attested/seed/{requester_pubkey}
// The body is the requester's attestation over its public key, the
// X-Attestation-Type header names its scheme. Both are only checked when
// requester verification is enabled.
//
// Response: raw 48-byte encrypted seed
func (h *Handler) HandleEncryptedSeed(w http.ResponseWriter, r *http.Request) {
	requester, err := cryptoutils.NewPublicKeyFromHex(chi.URLParam(r, "requester_pubkey"))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid requester public key: %w", err).Error(), http.StatusBadRequest)
		return
	}

	report, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxRequestBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if h.verifyRequesters {
		attType, err := cryptoutils.AttestationTypeFromString(r.Header.Get(api.AttestationTypeHeader))
		if err != nil {
			http.Error(w, fmt.Sprintf("unsupported attestation type %q", r.Header.Get(api.AttestationTypeHeader)), http.StatusBadRequest)
			return
		}
		if err := h.seeds.VerifyRequester(requester, attType, report); err != nil {
			h.writeEnclaveError(w, err)
			return
		}
	}

	blob, err := h.seeds.GetEncryptedSeed(requester)
	if err != nil {
		h.writeEnclaveError(w, err)
		return
	}

	h.log.Info("released encrypted seed", "requester", requester.String()[:16])
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(blob); err != nil {
		h.log.Error("Failed to write response", "err", err)
	}
}

// HandleExecute runs one contract entry point.
//
// URL format: POST /api/contracts/{contract_key}/{entry}
// entry is one of init, handle or query. Failed calls still report the
// gas they used.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	contractKey, err := interfaces.NewContractKeyFromHex(chi.URLParam(r, "contract_key"))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid contract key: %w", err).Error(), http.StatusBadRequest)
		return
	}

	entry, err := engine.ParseEntry(chi.URLParam(r, "entry"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var req api.ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}
	if len(req.Code) == 0 {
		http.Error(w, "missing contract code", http.StatusBadRequest)
		return
	}

	res, err := h.executor.Execute(r.Context(), entry, engine.Request{
		Code:        req.Code,
		ContractKey: contractKey,
		GasLimit:    req.GasLimit,
		Env:         req.Env,
		Msg:         req.Msg,
	})
	if err != nil {
		enclaveErr := engine.ToEnclaveError(err)
		writeJSON(w, http.StatusUnprocessableEntity, api.ExecuteResponse{GasUsed: res.GasUsed, Error: enclaveErr.String()})
		return
	}

	writeJSON(w, http.StatusOK, api.ExecuteResponse{Output: res.Output, GasUsed: res.GasUsed})
}

func (h *Handler) writeEnclaveError(w http.ResponseWriter, err error) {
	var enclaveErr interfaces.EnclaveError
	if !errors.As(err, &enclaveErr) {
		h.log.Error("non-enclave error reached the transport", "err", err)
		enclaveErr = interfaces.EnclaveUnknown
	}

	status := http.StatusInternalServerError
	switch enclaveErr {
	case interfaces.EnclaveKeyNotInitialized:
		status = http.StatusNotFound
	case interfaces.EnclaveFailedAttestation:
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, api.ErrorResponse{Error: enclaveErr.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
