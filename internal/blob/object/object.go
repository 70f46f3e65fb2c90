// Package object holds the types shared by the blob facade and its backends.
// Bundle objects are write-once: a key is never overwritten in place.
package object

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"
)

// Driver names a backend.
type Driver string

// Supported drivers.
const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// DefaultPresignExpiry applies when PresignOptions.Expiry is zero.
const DefaultPresignExpiry = 15 * time.Minute

var (
	// ErrNotFound is wrapped by every backend when a key is absent.
	ErrNotFound = errors.New("blob: object not found")
	// ErrExists is returned by Put when the key is already taken.
	ErrExists = errors.New("blob: object already exists")
	// ErrUnsupported is returned for optional capabilities a backend lacks.
	ErrUnsupported = errors.New("blob: unsupported operation")
)

// PutOptions carries the content type and user metadata of a new object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// PresignOptions configures a read-only shareable URL.
type PresignOptions struct {
	Expiry time.Duration
}

// Info describes a stored object. Checksum is the hex SHA-256 of the content
// when the backend knows it.
type Info struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size_bytes"`
	ContentType string            `json:"content_type,omitempty"`
	Checksum    string            `json:"sha256,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Modified    time.Time         `json:"modified"`
}

// Store is implemented by every backend.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts PresignOptions) (string, error)
	Driver() Driver
}

// CheckKey rejects keys that are empty, absolute, or contain backslashes or
// dot segments. Keys use forward slashes on every backend.
func CheckKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("blob: empty key")
	case strings.HasPrefix(key, "/"), strings.HasSuffix(key, "/"):
		return fmt.Errorf("blob: key %q must not start or end with /", key)
	case strings.ContainsRune(key, '\\'):
		return fmt.Errorf("blob: key %q contains a backslash", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("blob: key %q has an empty or dot segment", key)
		}
	}
	return nil
}

// NotFound wraps ErrNotFound with the key.
func NotFound(key string) error { return fmt.Errorf("%w: %s", ErrNotFound, key) }

// Exists wraps ErrExists with the key.
func Exists(key string) error { return fmt.Errorf("%w: %s", ErrExists, key) }

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a copy of i with its own metadata map.
func (i Info) Clone() Info {
	i.Metadata = maps.Clone(i.Metadata)
	return i
}

// SortByKey orders infos by key in place.
func SortByKey(infos []Info) {
	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.Key, b.Key) })
}
