// Package fs stores blob objects as plain files under a root directory. Object
// descriptors live in a parallel tree under <root>/.meta so that the data files
// can be read by other tools as-is.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"usqutils/internal/blob/object"
)

const metaDir = ".meta"

// DefaultRoot is used when New receives an empty root.
const DefaultRoot = "./blobdata"

// Store maps keys to files under root.
type Store struct {
	root string
}

type descriptor struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Checksum    string            `json:"sha256"`
	Size        int64             `json:"size"`
	Written     time.Time         `json:"written"`
}

// New creates root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob fs root %s: %w", root, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, metaDir), 0o755); err != nil {
		return nil, fmt.Errorf("blob fs root %s: %w", root, err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Driver implements object.Store.
func (*Store) Driver() object.Driver { return object.DriverFilesystem }

func (s *Store) paths(key string) (data, meta string, err error) {
	if err := object.CheckKey(key); err != nil {
		return "", "", err
	}
	if key == metaDir || strings.HasPrefix(key, metaDir+"/") {
		return "", "", fmt.Errorf("blob: key %q uses the reserved %s directory", key, metaDir)
	}
	rel := filepath.FromSlash(key)
	return filepath.Join(s.root, rel), filepath.Join(s.root, metaDir, rel+".json"), nil
}

// Put writes r to a temporary file and links it into place, so a reader never
// sees a partial object and an existing key is never replaced.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts object.PutOptions) (object.Info, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return object.Info{}, err
	}
	dir := filepath.Dir(dataPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return object.Info{}, err
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return object.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return object.Info{}, fmt.Errorf("write %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return object.Info{}, err
	}
	if err := os.Link(tmp.Name(), dataPath); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return object.Info{}, object.Exists(key)
		}
		return object.Info{}, err
	}

	d := descriptor{
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
		Checksum:    hex.EncodeToString(hash.Sum(nil)),
		Size:        size,
		Written:     time.Now().UTC(),
	}
	if err := writeDescriptor(metaPath, d); err != nil {
		_ = os.Remove(dataPath)
		return object.Info{}, err
	}
	return d.info(key), nil
}

// Get implements object.Store. The caller closes the returned file.
func (s *Store) Get(_ context.Context, key string) (object.Info, io.ReadCloser, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return object.Info{}, nil, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return object.Info{}, nil, notFound(key, err)
	}
	info, err := s.describe(key, f, metaPath)
	if err != nil {
		_ = f.Close()
		return object.Info{}, nil, err
	}
	return info, f, nil
}

// Head implements object.Store.
func (s *Store) Head(_ context.Context, key string) (object.Info, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return object.Info{}, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return object.Info{}, notFound(key, err)
	}
	defer func() { _ = f.Close() }()
	return s.describe(key, f, metaPath)
}

// describe prefers the descriptor and falls back to file attributes for files
// copied into the root by hand.
func (s *Store) describe(key string, f *os.File, metaPath string) (object.Info, error) {
	d, err := readDescriptor(metaPath)
	if err == nil {
		return d.info(key), nil
	}
	if !errors.Is(err, iofs.ErrNotExist) {
		return object.Info{}, err
	}
	st, err := f.Stat()
	if err != nil {
		return object.Info{}, err
	}
	return object.Info{Key: key, Size: st.Size(), Modified: st.ModTime().UTC()}, nil
}

// Delete implements object.Store.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

// List walks the data tree, skipping descriptors and in-flight temporaries.
func (s *Store) List(_ context.Context, prefix string) ([]object.Info, error) {
	var out []object.Info
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == filepath.Join(s.root, metaDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.Head(context.Background(), key)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	object.SortByKey(out)
	return out, nil
}

// PresignURL returns a file URL. Local files carry no expiry.
func (s *Store) PresignURL(ctx context.Context, key string, _ object.PresignOptions) (string, error) {
	if _, err := s.Head(ctx, key); err != nil {
		return "", err
	}
	dataPath, _, _ := s.paths(key)
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dataPath)}).String(), nil
}

func (d descriptor) info(key string) object.Info {
	return object.Info{
		Key:         key,
		Size:        d.Size,
		ContentType: d.ContentType,
		Checksum:    d.Checksum,
		Metadata:    d.Metadata,
		Modified:    d.Written,
	}.Clone()
}

func notFound(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return object.NotFound(key)
	}
	return err
}

func writeDescriptor(path string, d descriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readDescriptor(path string) (descriptor, error) {
	var d descriptor
	b, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("descriptor %s: %w", path, err)
	}
	return d, nil
}
