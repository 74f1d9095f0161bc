package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrKeyNotFound is returned by a backend when no value is stored under a key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a backend location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrStateEncryption and ErrStateDecryption classify failures of the
	// encrypted state layer as opposed to failures of the backend below it.
	ErrStateEncryption = errors.New("state encryption failed")
	ErrStateDecryption = errors.New("state decryption failed")
)

// KVBackend is the untrusted key/value store holding encrypted contract state.
// Keys and values reaching it are already opaque.
type KVBackend interface {
	// Get returns ErrKeyNotFound when the key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	// Delete of an absent key is not an error.
	Delete(ctx context.Context, key []byte) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string

	// Close releases handles held by the backend.
	Close() error
}

// StateStorage is the encrypted storage service contract code reaches
// through read_db, write_db and remove_db. Every operation reports the gas
// it costs. Read returns a nil value when the key is absent.
type StateStorage interface {
	Read(ctx context.Context, key []byte, contractKey ContractKey) ([]byte, uint64, error)
	Write(ctx context.Context, key, value []byte, contractKey ContractKey) (uint64, error)
	Remove(ctx context.Context, key []byte, contractKey ContractKey) (uint64, error)
}

// BackendLocation is a parsed backend URI.
type BackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

func NewBackendLocation(uri string) (BackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BackendLocation{}, fmt.Errorf("%w: %w", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "memory", "file", "pebble", "s3", "vault":
	default:
		return BackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return BackendLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc BackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc BackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc BackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}
