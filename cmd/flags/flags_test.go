package flags

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func requesterPolicyFrom(t *testing.T, args ...string) (registration.RequesterPolicy, error) {
	t.Helper()
	var (
		policy    registration.RequesterPolicy
		policyErr error
	)
	app := &cli.App{
		Flags: ServerFlags,
		Action: func(cCtx *cli.Context) error {
			policy, policyErr = RequesterPolicy(cCtx)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"enclaved"}, args...)))
	return policy, policyErr
}

func TestRequesterPolicy(t *testing.T) {
	allowList := filepath.Join(t.TempDir(), "measurements.json")
	require.NoError(t, os.WriteFile(allowList, []byte(`[{"0": "aa11"}]`), 0o600))

	t.Run("dcap without allow-list is refused", func(t *testing.T) {
		_, err := requesterPolicyFrom(t)
		assert.Error(t, err)
	})

	t.Run("dcap with allow-list", func(t *testing.T) {
		policy, err := requesterPolicyFrom(t, "--requester-measurements", allowList)
		require.NoError(t, err)
		assert.Equal(t, cryptoutils.DCAPAttestation.StringID, policy.AttestationType.StringID)
		assert.Equal(t, []registration.Measurements{{0: "aa11"}}, policy.Allowed)
	})

	t.Run("any measurement on request", func(t *testing.T) {
		policy, err := requesterPolicyFrom(t, "--allow-any-measurement")
		require.NoError(t, err)
		assert.False(t, policy.AllowsDummy())
		assert.Empty(t, policy.Allowed)
	})

	t.Run("verification off", func(t *testing.T) {
		_, err := requesterPolicyFrom(t, "--verify-requesters=false")
		assert.NoError(t, err)
	})

	t.Run("dummy only when named", func(t *testing.T) {
		policy, err := requesterPolicyFrom(t, "--requester-attestation-type", "dummy")
		require.NoError(t, err)
		assert.True(t, policy.AllowsDummy())
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := requesterPolicyFrom(t, "--requester-attestation-type", "sgx-epid", "--allow-any-measurement")
		assert.Error(t, err)
	})
}
