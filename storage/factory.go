package storage

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ruteri/tee-contract-enclave/interfaces"
)

// BackendFactory creates state backends from location URIs.
type BackendFactory struct {
	log *slog.Logger
}

func NewBackendFactory(logger *slog.Logger) *BackendFactory {
	return &BackendFactory{log: logger}
}

// BackendFor creates a backend from a location URI of the form
// [scheme]://[auth@]host[:port][/path][?params].
//
// Supported schemes:
//   - memory://name - process memory
//   - file:///absolute/path or file://./relative/path - one file per entry
//   - pebble:///absolute/path - embedded pebble database
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=http://minio:9000&path_style=true
//   - vault://host:8200/mount/path?tls=false (token from the URI user or VAULT_TOKEN)
func (sf *BackendFactory) BackendFor(locationURI string) (interfaces.KVBackend, error) {
	loc, err := interfaces.NewBackendLocation(locationURI)
	if err != nil {
		return nil, err
	}

	sf.log.Debug("Creating state backend", slog.String("uri", redactURI(loc)))

	switch loc.Scheme {
	case "memory":
		return NewMemoryBackend(loc.Host), nil
	case "file":
		path, err := localPath(loc)
		if err != nil {
			return nil, err
		}
		return NewFileBackend(path, sf.log)
	case "pebble":
		path, err := localPath(loc)
		if err != nil {
			return nil, err
		}
		return NewPebbleBackend(path, sf.log)
	case "s3":
		return sf.createS3Backend(loc)
	case "vault":
		return sf.createVaultBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

func (sf *BackendFactory) createS3Backend(loc interfaces.BackendLocation) (interfaces.KVBackend, error) {
	opts := S3Options{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParamBool("path_style"),
	}

	if loc.Auth != "" {
		user, pass, _ := strings.Cut(loc.Auth, ":")
		opts.AccessKey = user
		opts.SecretKey = pass
		sf.log.Debug("Using embedded S3 credentials")
	} else {
		sf.log.Debug("No S3 credentials in URI, falling back to the default credential chain")
	}

	return NewS3Backend(opts, sf.log)
}

func (sf *BackendFactory) createVaultBackend(loc interfaces.BackendLocation) (interfaces.KVBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing Vault host", interfaces.ErrInvalidLocationURI)
	}

	mount, dataPath, _ := strings.Cut(strings.TrimPrefix(loc.Path, "/"), "/")
	if mount == "" {
		mount = "secret"
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}

	token, _, _ := strings.Cut(loc.Auth, ":")
	return NewVaultBackend(fmt.Sprintf("%s://%s", scheme, loc.Host), mount, dataPath, token, sf.log)
}

// localPath accepts both file:///abs/path and file://./rel/path.
func localPath(loc interfaces.BackendLocation) (string, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return "", fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
	return os.ExpandEnv(path), nil
}

func redactURI(loc interfaces.BackendLocation) string {
	if loc.Auth == "" {
		return loc.Raw
	}
	return strings.Replace(loc.Raw, loc.Auth+"@", "***@", 1)
}
