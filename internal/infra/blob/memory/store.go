// Package memory keeps blob objects in process memory. Used by tests and by
// one-shot commands that do not need to keep exports.
package memory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"usqutils/internal/blob/object"
)

type entry struct {
	info object.Info
	data []byte
}

// Store is a write-once map of objects.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{objects: make(map[string]entry), now: func() time.Time { return time.Now().UTC() }}
}

// Driver implements object.Store.
func (*Store) Driver() object.Driver { return object.DriverMemory }

// Put implements object.Store.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts object.PutOptions) (object.Info, error) {
	if err := object.CheckKey(key); err != nil {
		return object.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return object.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return object.Info{}, err
	}
	info := object.Info{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: opts.ContentType,
		Checksum:    object.Checksum(data),
		Metadata:    opts.Metadata,
		Modified:    s.now(),
	}.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.objects[key]; taken {
		return object.Info{}, object.Exists(key)
	}
	s.objects[key] = entry{info: info, data: data}
	return info.Clone(), nil
}

func (s *Store) lookup(key string) (entry, error) {
	if err := object.CheckKey(key); err != nil {
		return entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key]
	if !ok {
		return entry{}, object.NotFound(key)
	}
	return e, nil
}

// Get implements object.Store. The reader serves a private copy.
func (s *Store) Get(_ context.Context, key string) (object.Info, io.ReadCloser, error) {
	e, err := s.lookup(key)
	if err != nil {
		return object.Info{}, nil, err
	}
	return e.info.Clone(), io.NopCloser(bytes.NewReader(bytes.Clone(e.data))), nil
}

// Head implements object.Store.
func (s *Store) Head(_ context.Context, key string) (object.Info, error) {
	e, err := s.lookup(key)
	if err != nil {
		return object.Info{}, err
	}
	return e.info.Clone(), nil
}

// Delete implements object.Store.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	if err := object.CheckKey(key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

// List implements object.Store.
func (s *Store) List(_ context.Context, prefix string) ([]object.Info, error) {
	s.mu.RLock()
	out := make([]object.Info, 0, len(s.objects))
	for key, e := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, e.info.Clone())
		}
	}
	s.mu.RUnlock()
	object.SortByKey(out)
	return out, nil
}

// PresignURL is unsupported: memory objects are not addressable.
func (*Store) PresignURL(context.Context, string, object.PresignOptions) (string, error) {
	return "", object.ErrUnsupported
}
