// Package archive stores candle history and backtest reports in cold
// storage, on the local filesystem or an S3-compatible bucket.
package archive

import (
	"context"

	"github.com/newthinker/tradeflow/internal/core"
)

// Storage defines the interface for cold/archive storage backends.
// Paths are slash-separated and relative to the backend root.
type Storage interface {
	// Write stores data at the given path
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path. A missing path wraps
	// core.ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths under the prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Type string // "localfs" or "s3"
	Path string // localfs root
	S3   S3Config
}

// New creates the Storage described by cfg.
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "localfs":
		fs, err := NewLocalFS(cfg.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "s3":
		s, err := NewS3(cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown archive type %q", cfg.Type)
	}
}
