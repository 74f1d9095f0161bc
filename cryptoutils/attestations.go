package cryptoutils

import (
	"bytes"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
)

var (
	DCAPAttestation = AttestationType{
		OID:      asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 66704, 98645, 1},
		StringID: "qemu-tdx",
	}

	DummyAttestation = AttestationType{
		OID:      asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 66704, 98645, 404},
		StringID: "dummy",
	}
)

var ErrAttestationMismatch = errors.New("attestation does not bind the expected key")

type AttestationType struct {
	OID      asn1.ObjectIdentifier
	StringID string
}

func AttestationTypeFromString(str string) (AttestationType, error) {
	switch str {
	case DCAPAttestation.StringID:
		return DCAPAttestation, nil
	case DummyAttestation.StringID:
		return DummyAttestation, nil
	default:
		return AttestationType{}, errors.ErrUnsupported
	}
}

// AttestationProvider produces a platform quote over 64 bytes of report data.
type AttestationProvider interface {
	AttestationType() AttestationType
	Attest(reportData [64]byte) ([]byte, error)
}

// ReportDataForPublicKey binds a public key into quote report data:
// SHA-256 of the key followed by 32 zero bytes.
func ReportDataForPublicKey(pk PublicKey) [64]byte {
	var rd [64]byte
	h := sha256.Sum256(pk[:])
	copy(rd[:], h[:])
	return rd
}

// RemoteAttestationProvider asks a quote service on the host for a quote.
type RemoteAttestationProvider struct {
	Address string
}

func (*RemoteAttestationProvider) AttestationType() AttestationType { return DCAPAttestation }

func (p *RemoteAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%s", p.Address, hex.EncodeToString(reportData[:]))
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// DCAPAttestationProvider reads a TDX quote from configfs or the guest device.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) AttestationType() AttestationType { return DCAPAttestation }

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// DummyAttestationProvider is for development hosts without TEE hardware.
type DummyAttestationProvider struct{}

func (DummyAttestationProvider) AttestationType() AttestationType {
	return DummyAttestation
}

func (DummyAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("dummy quote %x", reportData)), nil
}

// VerifyAttestation checks that report is a valid quote of the given type
// carrying reportData. Measurements are returned for DCAP quotes only.
func VerifyAttestation(attType AttestationType, reportData [64]byte, report []byte) (map[int]string, error) {
	switch attType.StringID {
	case DCAPAttestation.StringID:
		return VerifyDCAPAttestation(reportData, report)
	case DummyAttestation.StringID:
		expected, _ := DummyAttestationProvider{}.Attest(reportData)
		if !bytes.Equal(expected, report) {
			return nil, ErrAttestationMismatch
		}
		return map[int]string{}, nil
	default:
		return nil, errors.ErrUnsupported
	}
}

func VerifyDCAPAttestation(reportData [64]byte, report []byte) (map[int]string, error) {
	protoQuote, err := tdx_abi.QuoteToProto(report)
	if err != nil {
		return nil, fmt.Errorf("could not parse quote: %w", err)
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("unsupported quote type: %T", protoQuote)
	}

	if err := verify.TdxQuote(protoQuote, verify.DefaultOptions()); err != nil {
		return nil, fmt.Errorf("quote verification failed: %w", err)
	}

	body := v4Quote.TdQuoteBody
	if !bytes.Equal(body.ReportData, reportData[:]) {
		return nil, fmt.Errorf("%w: report data %x, expected %x", ErrAttestationMismatch, body.ReportData, reportData[:])
	}

	return map[int]string{
		0: hex.EncodeToString(body.MrTd),
		1: hex.EncodeToString(body.Rtmrs[0]),
		2: hex.EncodeToString(body.Rtmrs[1]),
		3: hex.EncodeToString(body.Rtmrs[2]),
		4: hex.EncodeToString(body.Rtmrs[3]),
		5: hex.EncodeToString(body.MrConfigId),
		6: hex.EncodeToString(body.MrOwner),
		7: hex.EncodeToString(body.MrOwnerConfig),
	}, nil
}
