package flags

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tee-contract-enclave/api"
	"github.com/ruteri/tee-contract-enclave/common"
	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/kms"
	"github.com/ruteri/tee-contract-enclave/registration"
	"github.com/ruteri/tee-contract-enclave/safetybuffer"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		MaxRequestBytes:          cCtx.Int64(MaxRequestBytesFlag.Name),
		VerifyRequesters:         cCtx.Bool(VerifyRequestersFlag.Name),
	}
}

// OpenKeychain opens the keychain sealed under --seal-dir with a sealer
// bound to --sealing-secret and --measurement.
func OpenKeychain(cCtx *cli.Context, logger *slog.Logger) (*kms.Keychain, error) {
	secret := cCtx.String(SealingSecretFlag.Name)
	if secret == "" {
		return nil, fmt.Errorf("--%s is required", SealingSecretFlag.Name)
	}

	sealer, err := cryptoutils.NewSoftwareSealer([]byte(secret), cCtx.String(MeasurementFlag.Name))
	if err != nil {
		return nil, err
	}
	return kms.Open(logger, kms.Config{
		SealDir: cCtx.String(SealDirFlag.Name),
		Sealer:  sealer,
	})
}

func SafetyBufferConfig(cCtx *cli.Context) safetybuffer.Config {
	cfg := safetybuffer.DefaultConfig()
	cfg.ChunkSize = cCtx.Int(SafetyChunkSizeFlag.Name)
	cfg.TargetChunks = cCtx.Int(SafetyTargetChunksFlag.Name)
	cfg.MinChunks = cCtx.Int(SafetyMinChunksFlag.Name)
	cfg.MaxHostAllocation = cCtx.Int(MaxHostAllocationFlag.Name)
	return cfg
}

func AttestationProvider(cCtx *cli.Context) (cryptoutils.AttestationProvider, error) {
	attType, err := cryptoutils.AttestationTypeFromString(cCtx.String(AttestationTypeFlag.Name))
	if err != nil {
		return nil, err
	}

	switch {
	case attType.StringID == cryptoutils.DummyAttestation.StringID:
		return cryptoutils.DummyAttestationProvider{}, nil
	case cCtx.String(AttestationURLFlag.Name) != "":
		return &cryptoutils.RemoteAttestationProvider{Address: cCtx.String(AttestationURLFlag.Name)}, nil
	default:
		return cryptoutils.DCAPAttestationProvider{}, nil
	}
}

// RequesterPolicy builds the policy seed requesters are checked against. With
// verification on, a DCAP policy needs a measurement allow-list unless
// --allow-any-measurement is given.
func RequesterPolicy(cCtx *cli.Context) (registration.RequesterPolicy, error) {
	attType, err := cryptoutils.AttestationTypeFromString(cCtx.String(RequesterAttestationTypeFlag.Name))
	if err != nil {
		return registration.RequesterPolicy{}, fmt.Errorf("--%s: %w", RequesterAttestationTypeFlag.Name, err)
	}

	policy := registration.RequesterPolicy{AttestationType: attType}
	if path := cCtx.String(RequesterMeasurementsFlag.Name); path != "" {
		policy.Allowed, err = registration.LoadMeasurements(path)
		if err != nil {
			return registration.RequesterPolicy{}, err
		}
	}

	if cCtx.Bool(VerifyRequestersFlag.Name) && !policy.AllowsDummy() &&
		len(policy.Allowed) == 0 && !cCtx.Bool(AllowAnyMeasurementFlag.Name) {
		return registration.RequesterPolicy{}, fmt.Errorf("--%s is required unless --%s is set", RequesterMeasurementsFlag.Name, AllowAnyMeasurementFlag.Name)
	}
	return policy, nil
}

var SealDirFlag = &cli.StringFlag{
	Name:    "seal-dir",
	Value:   "/var/lib/enclave/sealed",
	Usage:   "directory holding the sealed consensus seed and registration key",
	EnvVars: []string{"ENCLAVE_SEAL_DIR"},
}

var SealingSecretFlag = &cli.StringFlag{
	Name:    "sealing-secret",
	Usage:   "platform secret the sealing key is derived from",
	EnvVars: []string{"ENCLAVE_SEALING_SECRET"},
}

var MeasurementFlag = &cli.StringFlag{
	Name:    "measurement",
	Value:   "dev",
	Usage:   "enclave measurement the sealing key is bound to",
	EnvVars: []string{"ENCLAVE_MEASUREMENT"},
}

var AttestationTypeFlag = &cli.StringFlag{
	Name:    "attestation-type",
	Value:   cryptoutils.DCAPAttestation.StringID,
	Usage:   "attestation scheme of this node: qemu-tdx or dummy",
	EnvVars: []string{"ENCLAVE_ATTESTATION_TYPE"},
}

var AttestationURLFlag = &cli.StringFlag{
	Name:    "attestation-url",
	Usage:   "remote attestation service; when empty quotes come from the local TDX device",
	EnvVars: []string{"ENCLAVE_ATTESTATION_URL"},
}

var SafetyChunkSizeFlag = &cli.IntFlag{
	Name:    "safety-chunk-size",
	Value:   safetybuffer.DefaultChunkSize,
	Usage:   "size in bytes of one safety buffer chunk",
	EnvVars: []string{"ENCLAVE_SAFETY_CHUNK_SIZE"},
}

var SafetyTargetChunksFlag = &cli.IntFlag{
	Name:    "safety-target-chunks",
	Value:   safetybuffer.DefaultTargetChunks,
	Usage:   "number of chunks the safety buffer is topped up to",
	EnvVars: []string{"ENCLAVE_SAFETY_TARGET_CHUNKS"},
}

var SafetyMinChunksFlag = &cli.IntFlag{
	Name:    "safety-min-chunks",
	Value:   safetybuffer.DefaultMinChunks,
	Usage:   "chunks that must be reacquired before another call may run",
	EnvVars: []string{"ENCLAVE_SAFETY_MIN_CHUNKS"},
}

var MaxHostAllocationFlag = &cli.IntFlag{
	Name:    "max-host-allocation",
	Value:   safetybuffer.DefaultMaxHostAllocation,
	Usage:   "largest single host allocation driven by contract input",
	EnvVars: []string{"ENCLAVE_MAX_HOST_ALLOCATION"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: []string{"ENCLAVE_LOG_JSON"},
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"ENCLAVE_LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:    "log-uid",
	Value:   false,
	Usage:   "generate a uuid and add to all log messages",
	EnvVars: []string{"ENCLAVE_LOG_UID"},
}
var LogServiceFlag = &cli.StringFlag{
	Name:    "log-service",
	Value:   "enclaved",
	Usage:   "add 'service' tag to logs",
	EnvVars: []string{"ENCLAVE_LOG_SERVICE"},
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for the enclave API",
	EnvVars: []string{"ENCLAVE_LISTEN_ADDR"},
}
var PprofFlag = &cli.BoolFlag{
	Name:    "pprof",
	Value:   false,
	Usage:   "enable pprof debug endpoint",
	EnvVars: []string{"ENCLAVE_PPROF"},
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:    "drain-seconds",
	Value:   45,
	Usage:   "seconds to wait in drain HTTP request",
	EnvVars: []string{"ENCLAVE_DRAIN_SECONDS"},
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: []string{"ENCLAVE_METRICS_ADDR"},
}
var MaxRequestBytesFlag = &cli.Int64Flag{
	Name:    "max-request-bytes",
	Value:   api.DefaultMaxRequestBytes,
	Usage:   "largest accepted request body",
	EnvVars: []string{"ENCLAVE_MAX_REQUEST_BYTES"},
}
var VerifyRequestersFlag = &cli.BoolFlag{
	Name:    "verify-requesters",
	Value:   true,
	Usage:   "check the attestation of nodes requesting the encrypted seed",
	EnvVars: []string{"ENCLAVE_VERIFY_REQUESTERS"},
}
var RequesterAttestationTypeFlag = &cli.StringFlag{
	Name:    "requester-attestation-type",
	Value:   cryptoutils.DCAPAttestation.StringID,
	Usage:   "attestation scheme accepted from seed requesters; dummy is for local networks only",
	EnvVars: []string{"ENCLAVE_REQUESTER_ATTESTATION_TYPE"},
}
var RequesterMeasurementsFlag = &cli.StringFlag{
	Name:    "requester-measurements",
	Usage:   "JSON file listing the measurement sets accepted from seed requesters",
	EnvVars: []string{"ENCLAVE_REQUESTER_MEASUREMENTS"},
}
var AllowAnyMeasurementFlag = &cli.BoolFlag{
	Name:    "allow-any-measurement",
	Value:   false,
	Usage:   "release the seed to any validly attested requester, whatever its measurements",
	EnvVars: []string{"ENCLAVE_ALLOW_ANY_MEASUREMENT"},
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var KeychainFlags = []cli.Flag{
	SealDirFlag,
	SealingSecretFlag,
	MeasurementFlag,
	AttestationTypeFlag,
	AttestationURLFlag,
	SafetyChunkSizeFlag,
	SafetyTargetChunksFlag,
	SafetyMinChunksFlag,
	MaxHostAllocationFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
	MaxRequestBytesFlag,
	VerifyRequestersFlag,
	RequesterAttestationTypeFlag,
	RequesterMeasurementsFlag,
	AllowAnyMeasurementFlag,
}
