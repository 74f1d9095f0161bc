package registration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
)

var (
	ErrAttestationTypeNotAllowed = errors.New("attestation type not accepted from requesters")
	ErrMeasurementNotAllowed     = errors.New("measurements not in the allow-list")
)

// Measurements maps measurement register indices to hex values, keyed the
// way cryptoutils.VerifyDCAPAttestation reports them (0 is MRTD, 1-4 are
// RTMR0-3).
type Measurements map[int]string

// matches reports whether every register pinned in m carries the same value
// in measured. Registers m leaves out are not checked.
func (m Measurements) matches(measured map[int]string) bool {
	for idx, want := range m {
		got, ok := measured[idx]
		if !ok || !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

// RequesterPolicy decides which attested nodes may receive the consensus
// seed.
type RequesterPolicy struct {
	// AttestationType is the only scheme accepted from requesters.
	AttestationType cryptoutils.AttestationType
	// Allowed holds the accepted measurement sets. A quote passes when it
	// matches any one of them. An empty list accepts any measurement.
	Allowed []Measurements
}

// DefaultRequesterPolicy accepts DCAP quotes with any measurement.
func DefaultRequesterPolicy() RequesterPolicy {
	return RequesterPolicy{AttestationType: cryptoutils.DCAPAttestation}
}

// DummyRequesterPolicy accepts dummy quotes, which anyone can produce. Only
// local development networks should run with it.
func DummyRequesterPolicy() RequesterPolicy {
	return RequesterPolicy{AttestationType: cryptoutils.DummyAttestation}
}

func (p RequesterPolicy) AllowsDummy() bool {
	return p.AttestationType.StringID == cryptoutils.DummyAttestation.StringID
}

// Check verifies report against the policy and returns the measurements it
// carried.
func (p RequesterPolicy) Check(requester cryptoutils.PublicKey, attType cryptoutils.AttestationType, report []byte) (map[int]string, error) {
	if attType.StringID != p.AttestationType.StringID {
		return nil, fmt.Errorf("%w: %s", ErrAttestationTypeNotAllowed, attType.StringID)
	}

	measured, err := cryptoutils.VerifyAttestation(attType, cryptoutils.ReportDataForPublicKey(requester), report)
	if err != nil {
		return nil, err
	}

	if len(p.Allowed) == 0 {
		return measured, nil
	}
	for _, allowed := range p.Allowed {
		if allowed.matches(measured) {
			return measured, nil
		}
	}
	return measured, ErrMeasurementNotAllowed
}

// LoadMeasurements reads an allow-list file: a JSON array of objects mapping
// register index to hex value, e.g. [{"0": "ab12...", "1": "cd34..."}].
func LoadMeasurements(path string) ([]Measurements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var allowed []Measurements
	if err := json.Unmarshal(data, &allowed); err != nil {
		return nil, fmt.Errorf("parsing measurement allow-list %s: %w", path, err)
	}
	for i, m := range allowed {
		if len(m) == 0 {
			return nil, fmt.Errorf("measurement allow-list entry %d pins no register", i)
		}
	}
	return allowed, nil
}
