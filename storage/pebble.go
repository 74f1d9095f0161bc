package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/ruteri/tee-contract-enclave/interfaces"
)

// PebbleBackend keeps state in an embedded pebble database. Writes are
// synced before returning.
type PebbleBackend struct {
	path string
	db   *pebble.DB
	log  *slog.Logger
}

func NewPebbleBackend(path string, log *slog.Logger) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database at %s: %w", path, err)
	}

	return &PebbleBackend{
		path: path,
		db:   db,
		log:  log,
	}, nil
}

func (b *PebbleBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	value, closer, err := b.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	// value is only valid until closer is closed
	return bytes.Clone(value), nil
}

func (b *PebbleBackend) Set(ctx context.Context, key, value []byte) error {
	if err := b.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (b *PebbleBackend) Delete(ctx context.Context, key []byte) error {
	if err := b.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

func (b *PebbleBackend) Available(ctx context.Context) bool {
	return b.db != nil
}

func (b *PebbleBackend) Name() string {
	return fmt.Sprintf("pebble-%s", filepath.Base(b.path))
}

func (b *PebbleBackend) LocationURI() string {
	return fmt.Sprintf("pebble://%s", b.path)
}

func (b *PebbleBackend) Close() error {
	if err := b.db.Close(); err != nil {
		b.log.Error("Failed to close pebble database", "err", err)
		return err
	}
	return nil
}
