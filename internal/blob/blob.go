// Package blob is the storage facade for cohort bundles and exported
// artifacts. Backends live under internal/infra/blob and are reached only
// through Open and the constructors here.
package blob

import (
	"context"
	"fmt"

	"usqutils/internal/blob/object"
	fsstore "usqutils/internal/infra/blob/fs"
	memstore "usqutils/internal/infra/blob/memory"
	s3store "usqutils/internal/infra/blob/s3"
)

type (
	// Store is implemented by every backend.
	Store = object.Store
	// Info describes a stored object.
	Info = object.Info
	// Driver names a backend.
	Driver = object.Driver
	// PutOptions carries content type and user metadata.
	PutOptions = object.PutOptions
	// PresignOptions configures shareable URLs.
	PresignOptions = object.PresignOptions
	// S3Config configures the s3 driver.
	S3Config = s3store.Config
)

// Drivers accepted by Open.
const (
	DriverFilesystem = object.DriverFilesystem
	DriverS3         = object.DriverS3
	DriverMemory     = object.DriverMemory
)

var (
	ErrNotFound    = object.ErrNotFound
	ErrExists      = object.ErrExists
	ErrUnsupported = object.ErrUnsupported
)

// Config selects a backend. FSRoot defaults to ./blobdata.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open builds the backend named by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	}
	return nil, fmt.Errorf("blob: unknown driver %q", cfg.Driver)
}

// NewFilesystem stores objects as files under root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewMemory returns an empty in-process store.
func NewMemory() Store { return memstore.New() }
