// Package filestore abstracts where extract files and export snapshots
// live: a local directory in development, a Backblaze B2 bucket or any
// S3-compatible bucket in production.
package filestore

import (
	"context"
	"fmt"
)

// Store is the file registry the pipeline reads extract files from and
// writes export snapshots to. Names are file names relative to the
// configured directory, folder or key prefix.
type Store interface {
	// Exists reports whether the named file is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Fetch returns the file's full content.
	Fetch(ctx context.Context, name string) ([]byte, error)

	// Put stores the content under the given name, replacing any previous
	// version.
	Put(ctx context.Context, name string, data []byte) error
}

// Config selects and configures a backend.
type Config struct {
	Type string // "local", "b2" or "s3"

	// local
	Dir string

	// b2
	KeyID          string
	ApplicationKey string
	BucketID       string
	Bucket         string // also used by s3
	Folder         string // key prefix, also used by s3

	// s3
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// New builds the Store named by cfg.Type.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.Dir)
	case "b2":
		return NewB2(cfg), nil
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("filestore: unsupported type %q", cfg.Type)
	}
}

// SizeKB is the rounded-up size used for file_logs.file_size_kb.
func SizeKB(n int) int64 {
	if n <= 0 {
		return 0
	}
	return int64((n + 1023) / 1024)
}
