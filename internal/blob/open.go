// Package blob selects and constructs the artifact store backend.
package blob

import (
	"context"
	"fmt"

	"bibitewatch/internal/blob/core"
	"bibitewatch/internal/blob/fs"
	"bibitewatch/internal/blob/memory"
	"bibitewatch/internal/blob/s3"
)

// Config selects the backend for export artifacts.
type Config struct {
	Driver core.Driver
	// Root is the artifact directory for the filesystem driver.
	Root string
	// S3 parameters; zero values defer to the environment.
	S3 s3.Config
}

// Open returns the artifact store for cfg. An empty driver means the
// filesystem backend.
func Open(ctx context.Context, cfg Config) (core.Store, error) {
	switch cfg.Driver {
	case core.DriverFilesystem, "":
		return fs.New(cfg.Root)
	case core.DriverS3:
		if cfg.S3.Bucket != "" {
			return s3.New(ctx, cfg.S3)
		}
		return s3.OpenFromEnv(ctx)
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown artifact store driver %q", cfg.Driver)
	}
}
