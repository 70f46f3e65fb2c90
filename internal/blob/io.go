package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ReadAll returns the content of key.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	_, body, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// PutBytes writes data under key.
func PutBytes(ctx context.Context, s Store, key string, data []byte, contentType string, metadata map[string]string) (Info, error) {
	return s.Put(ctx, key, bytes.NewReader(data), PutOptions{ContentType: contentType, Metadata: metadata})
}

// Exists reports whether key is present. Errors other than ErrNotFound are
// returned.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}
