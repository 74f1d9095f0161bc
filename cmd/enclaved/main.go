package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tee-contract-enclave/api"
	"github.com/ruteri/tee-contract-enclave/cmd/flags"
	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/engine"
	"github.com/ruteri/tee-contract-enclave/httpserver"
	"github.com/ruteri/tee-contract-enclave/registration"
	"github.com/ruteri/tee-contract-enclave/safetybuffer"
	"github.com/ruteri/tee-contract-enclave/storage"
	"github.com/urfave/cli/v2"
)

var stateURIFlag = &cli.StringFlag{
	Name:    "state-uri",
	Value:   "pebble:///var/lib/enclave/state",
	Usage:   "location of the contract state backend (memory, file, pebble, s3 or vault URI)",
	EnvVars: []string{"ENCLAVE_STATE_URI"},
}

var memoryLimitPagesFlag = &cli.UintFlag{
	Name:    "memory-limit-pages",
	Value:   uint(engine.DefaultConfig().MemoryLimitPages),
	Usage:   "maximum guest linear memory in 64 KiB pages",
	EnvVars: []string{"ENCLAVE_MEMORY_LIMIT_PAGES"},
}

var moduleCacheSizeFlag = &cli.IntFlag{
	Name:    "module-cache-size",
	Value:   engine.DefaultConfig().ModuleCacheSize,
	Usage:   "number of compiled contract modules kept",
	EnvVars: []string{"ENCLAVE_MODULE_CACHE_SIZE"},
}

var holderPubkeyFlag = &cli.StringFlag{
	Name:  "holder-pubkey",
	Usage: "hex seed-exchange public key of the seed holder",
}

var encryptedSeedFlag = &cli.StringFlag{
	Name:  "encrypted-seed",
	Usage: "hex encrypted seed received from the holder",
}

var seedConfigFlag = &cli.StringFlag{
	Name:  "seed-config",
	Usage: "path of a seed config JSON file ({\"pk\": ..., \"encKey\": ...})",
}

var holderURLFlag = &cli.StringFlag{
	Name:  "holder-url",
	Usage: "API address of a running node to request the seed from",
}

var requesterPubkeyFlag = &cli.StringFlag{
	Name:     "requester-pubkey",
	Usage:    "hex registration public key of the joining node",
	Required: true,
}

var outputFlag = &cli.StringFlag{
	Name:  "output",
	Usage: "write the seed config to this path instead of stdout",
}

func main() {
	app := &cli.App{
		Name:  "enclaved",
		Usage: "Confidential contract enclave node",
		Flags: append(append([]cli.Flag{}, flags.CommonFlags...), flags.KeychainFlags...),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the enclave API",
				Flags: append([]cli.Flag{stateURIFlag, memoryLimitPagesFlag, moduleCacheSizeFlag}, flags.ServerFlags...),
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					return serve(cCtx, logger)
				},
			},
			{
				Name:  "init-bootstrap",
				Usage: "create the consensus seed on the genesis node and print the seed-exchange public key",
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					bootstrapper, err := newBootstrapper(cCtx, logger)
					if err != nil {
						return err
					}

					pk, err := bootstrapper.InitBootstrap()
					if err != nil {
						logger.Error("init bootstrap failed", "err", err)
						return err
					}
					fmt.Println(pk.String())
					return nil
				},
			},
			{
				Name:  "keygen",
				Usage: "create the registration key and print it with its attestation",
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					bootstrapper, err := newBootstrapper(cCtx, logger)
					if err != nil {
						return err
					}

					pk, attestation, err := bootstrapper.KeyGen()
					if err != nil {
						logger.Error("key generation failed", "err", err)
						return err
					}
					fmt.Printf("public_key: %s\nattestation: %s\n", pk.String(), hex.EncodeToString(attestation))
					return nil
				},
			},
			{
				Name:  "init-seed",
				Usage: "install the consensus seed received from a holder",
				Flags: []cli.Flag{holderPubkeyFlag, encryptedSeedFlag, seedConfigFlag, holderURLFlag},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					bootstrapper, err := newBootstrapper(cCtx, logger)
					if err != nil {
						return err
					}

					holder, blob, err := resolveSeed(cCtx, bootstrapper)
					if err != nil {
						logger.Error("could not obtain encrypted seed", "err", err)
						return err
					}

					if err := bootstrapper.InitSeed(holder, blob); err != nil {
						logger.Error("init seed failed", "err", err)
						return err
					}

					ioPk, err := bootstrapper.IOPublicKey()
					if err != nil {
						return err
					}
					logger.Info("consensus seed installed", "io_pubkey", ioPk.String())
					return nil
				},
			},
			{
				Name:  "encrypt-seed",
				Usage: "on a seed holder, encrypt the consensus seed for a joining node and print its seed config",
				Flags: []cli.Flag{requesterPubkeyFlag, outputFlag},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					bootstrapper, err := newBootstrapper(cCtx, logger)
					if err != nil {
						return err
					}

					requester, err := cryptoutils.NewPublicKeyFromHex(cCtx.String(requesterPubkeyFlag.Name))
					if err != nil {
						return err
					}
					holder, err := bootstrapper.SeedExchangePublicKey()
					if err != nil {
						logger.Error("seed exchange key not available", "err", err)
						return err
					}
					blob, err := bootstrapper.GetEncryptedSeed(requester)
					if err != nil {
						logger.Error("could not encrypt seed", "err", err)
						return err
					}

					seedCfg := registration.NewSeedConfig(holder, blob)
					if path := cCtx.String(outputFlag.Name); path != "" {
						return seedCfg.Save(path)
					}
					fmt.Printf("{\"pk\": %q, \"encKey\": %q}\n", seedCfg.MasterKey, seedCfg.EncryptedKey)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newBootstrapper(cCtx *cli.Context, logger *slog.Logger) (*registration.Bootstrapper, error) {
	keychain, err := flags.OpenKeychain(cCtx, logger)
	if err != nil {
		logger.Error("could not open keychain", "err", err)
		return nil, err
	}

	supervisor, err := safetybuffer.NewSupervisor(logger, flags.SafetyBufferConfig(cCtx), nil)
	if err != nil {
		logger.Error("could not reserve safety buffer", "err", err)
		return nil, err
	}

	attestation, err := flags.AttestationProvider(cCtx)
	if err != nil {
		logger.Error("unsupported attestation type", "err", err)
		return nil, err
	}

	return registration.NewBootstrapper(logger, keychain, attestation, supervisor), nil
}

// resolveSeed finds the holder key and encrypted seed from, in order, the
// explicit flags, a seed config file, or a running holder.
func resolveSeed(cCtx *cli.Context, bootstrapper *registration.Bootstrapper) (cryptoutils.PublicKey, []byte, error) {
	switch {
	case cCtx.IsSet(holderPubkeyFlag.Name) || cCtx.IsSet(encryptedSeedFlag.Name):
		holder, err := cryptoutils.NewPublicKeyFromHex(cCtx.String(holderPubkeyFlag.Name))
		if err != nil {
			return cryptoutils.PublicKey{}, nil, err
		}
		blob, err := hex.DecodeString(cCtx.String(encryptedSeedFlag.Name))
		if err != nil {
			return cryptoutils.PublicKey{}, nil, fmt.Errorf("decoding encrypted seed: %w", err)
		}
		if len(blob) != cryptoutils.EncryptedSeedSize {
			return cryptoutils.PublicKey{}, nil, fmt.Errorf("encrypted seed must be %d bytes, got %d", cryptoutils.EncryptedSeedSize, len(blob))
		}
		return holder, blob, nil

	case cCtx.IsSet(seedConfigFlag.Name):
		seedCfg, err := registration.LoadSeedConfig(cCtx.String(seedConfigFlag.Name))
		if err != nil {
			return cryptoutils.PublicKey{}, nil, err
		}
		return seedCfg.Decode()

	case cCtx.IsSet(holderURLFlag.Name):
		regPk, attestation, err := bootstrapper.KeyGen()
		if err != nil {
			return cryptoutils.PublicKey{}, nil, err
		}
		attType, err := cryptoutils.AttestationTypeFromString(cCtx.String(flags.AttestationTypeFlag.Name))
		if err != nil {
			return cryptoutils.PublicKey{}, nil, err
		}

		client := api.NewClient(cCtx.String(holderURLFlag.Name))
		holder, err := client.SeedExchangePublicKey(cCtx.Context)
		if err != nil {
			return cryptoutils.PublicKey{}, nil, err
		}
		blob, err := client.EncryptedSeed(cCtx.Context, regPk, attType, attestation)
		if err != nil {
			return cryptoutils.PublicKey{}, nil, err
		}
		return holder, blob, nil

	default:
		return cryptoutils.PublicKey{}, nil, errors.New("one of --holder-pubkey/--encrypted-seed, --seed-config or --holder-url is required")
	}
}

func serve(cCtx *cli.Context, logger *slog.Logger) error {
	keychain, err := flags.OpenKeychain(cCtx, logger)
	if err != nil {
		logger.Error("could not open keychain", "err", err)
		return err
	}

	sbCfg := flags.SafetyBufferConfig(cCtx)
	supervisor, err := safetybuffer.NewSupervisor(logger, sbCfg, nil)
	if err != nil {
		logger.Error("could not reserve safety buffer", "err", err)
		return err
	}

	attestation, err := flags.AttestationProvider(cCtx)
	if err != nil {
		logger.Error("unsupported attestation type", "err", err)
		return err
	}
	policy, err := flags.RequesterPolicy(cCtx)
	if err != nil {
		logger.Error("invalid requester policy", "err", err)
		return err
	}
	bootstrapper := registration.NewBootstrapper(logger, keychain, attestation, supervisor).
		WithRequesterPolicy(policy)

	backend, err := storage.NewBackendFactory(logger).BackendFor(cCtx.String(stateURIFlag.Name))
	if err != nil {
		logger.Error("could not open state backend", "err", err)
		return err
	}
	defer backend.Close()

	if !backend.Available(cCtx.Context) {
		logger.Warn("state backend not reachable yet", "backend", backend.Name())
	}

	hostAlloc := safetybuffer.NewAllocator(sbCfg.MaxHostAllocation, supervisor)
	state := storage.NewStateService(logger, backend, keychain, storage.DefaultGasCosts()).
		WithHostAllocator(hostAlloc.Alloc)

	ctx := context.Background()
	eng, err := engine.NewEngine(ctx, logger, engine.Config{
		MemoryLimitPages: uint32(cCtx.Uint(memoryLimitPagesFlag.Name)),
		ModuleCacheSize:  cCtx.Int(moduleCacheSizeFlag.Name),
	}, state, supervisor, hostAlloc)
	if err != nil {
		logger.Error("could not start contract engine", "err", err)
		return err
	}
	defer eng.Close(ctx)

	if !keychain.IsConsensusSeedSet() {
		logger.Warn("consensus seed not set; run init-bootstrap or init-seed before executing contracts")
	}

	cfg := flags.ConfigureServer(cCtx, logger)
	srv := httpserver.New(cfg, httpserver.NewHandler(bootstrapper, eng, cfg, logger))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	srv.RunInBackground()
	<-exit

	srv.Shutdown()
	return nil
}
