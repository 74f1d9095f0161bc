package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/interfaces"
)

// Client talks to the RPC server of another enclave node.
type Client struct {
	BaseURL string
	Client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  http.DefaultClient,
	}
}

func (c *Client) SeedExchangePublicKey(ctx context.Context) (cryptoutils.PublicKey, error) {
	return c.publicKey(ctx, "/api/public/seed-exchange-pubkey")
}

func (c *Client) IOPublicKey(ctx context.Context) (cryptoutils.PublicKey, error) {
	return c.publicKey(ctx, "/api/public/io-pubkey")
}

func (c *Client) publicKey(ctx context.Context, path string) (cryptoutils.PublicKey, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return cryptoutils.PublicKey{}, err
	}

	var resp PublicKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return cryptoutils.PublicKey{}, fmt.Errorf("could not parse response: %w", err)
	}
	return cryptoutils.NewPublicKeyFromHex(resp.PublicKey)
}

// EncryptedSeed asks the holder to encrypt the consensus seed for
// requester. report is the attestation produced by keygen.
func (c *Client) EncryptedSeed(ctx context.Context, requester cryptoutils.PublicKey, attType cryptoutils.AttestationType, report []byte) ([]byte, error) {
	headers := map[string]string{
		AttestationTypeHeader: attType.StringID,
		"Content-Type":        "application/octet-stream",
	}

	blob, err := c.do(ctx, http.MethodPost, "/api/attested/seed/"+requester.String(), report, headers)
	if err != nil {
		return nil, err
	}
	if len(blob) != cryptoutils.EncryptedSeedSize {
		return nil, fmt.Errorf("encrypted seed has %d bytes, want %d", len(blob), cryptoutils.EncryptedSeedSize)
	}
	return blob, nil
}

// Execute runs a contract call. A call the enclave rejected returns an
// *ExecutionError.
func (c *Client) Execute(ctx context.Context, contractKey interfaces.ContractKey, entry string, req ExecuteRequest) (*ExecuteResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/contracts/%s/%s", c.BaseURL, contractKey.String(), entry)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("could not reach enclave: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response: %w", err)
	}

	var execResp ExecuteResponse
	if err := json.Unmarshal(body, &execResp); err != nil {
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, string(body))
	}
	if execResp.Error != "" {
		return nil, &ExecutionError{Err: interfaces.ParseEnclaveError(execResp.Error), GasUsed: execResp.GasUsed}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, string(body))
	}
	return &execResp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach enclave: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("%w %d: %w", ErrUnexpectedStatus, resp.StatusCode, interfaces.ParseEnclaveError(errResp.Error))
		}
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		return http.DefaultClient
	}
	return c.Client
}
