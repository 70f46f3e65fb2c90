package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"usqutils/internal/blob"
	"usqutils/internal/core"
	"usqutils/pkg/classifier"
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// Bundle is a loaded cohort bundle.
type Bundle struct {
	Manifest Manifest
	Store    *core.MetadataStore
	// Predictions is nil when the bundle ships none.
	Predictions *classifier.Result
}

// Loader reads a bundle from a blob store. The first successful load is
// memoised; concurrent callers share one in-flight load.
type Loader struct {
	store  blob.Store
	prefix string
	limit  int

	group  singleflight.Group
	mu     sync.RWMutex
	cached *Bundle
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConcurrency bounds the number of objects fetched at once.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.limit = n
		}
	}
}

// NewLoader builds a loader for the bundle stored under prefix.
func NewLoader(store blob.Store, prefix string, opts ...LoaderOption) *Loader {
	l := &Loader{store: store, prefix: prefix, limit: 4}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the bundle, reading it on first use.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	l.mu.RLock()
	cached := l.cached
	l.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	// The shared read outlives any one caller; a caller that gives up gets its
	// own context error while the others keep waiting.
	ch := l.group.DoChan(l.prefix, func() (any, error) {
		l.mu.RLock()
		cached := l.cached
		l.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
		b, err := Read(context.WithoutCancel(ctx), l.store, l.prefix, l.limit)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cached = b
		l.mu.Unlock()
		return b, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bundle), nil
	}
}

// Reset drops the memoised bundle so the next Load reads it again.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// Read fetches and decodes every part of the bundle under prefix, at most
// limit objects at a time.
func Read(ctx context.Context, store blob.Store, prefix string, limit int) (*Bundle, error) {
	if store == nil {
		return nil, domain.ConfigurationError{Parameter: "blob store", Reason: "bundle source required"}
	}
	raw, err := blob.ReadAll(ctx, store, objectKey(prefix, ManifestKey))
	if err != nil {
		return nil, fmt.Errorf("bundle manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	var (
		tables      = make([]*table.Table, len(TableNames()))
		matrices    = make([]*table.Matrix, len(manifest.Expressions))
		changeLog   domain.ChangeLogSnapshot
		predictions *classifier.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, name := range TableNames() {
		entry := manifest.Tables[name]
		g.Go(func() error {
			data, err := blob.ReadAll(gctx, store, objectKey(prefix, entry.File))
			if err != nil {
				return err
			}
			t, err := DecodeTable(bytes.NewReader(data), entry.Columns)
			if err != nil {
				return fmt.Errorf("decode %s table: %w", name, err)
			}
			tables[i] = t
			return nil
		})
	}
	for i, entry := range manifest.Expressions {
		g.Go(func() error {
			data, err := blob.ReadAll(gctx, store, objectKey(prefix, entry.File))
			if err != nil {
				return err
			}
			m, err := DecodeMatrix(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("decode expression %s: %w", entry.Key(), err)
			}
			matrices[i] = m
			return nil
		})
	}
	if manifest.ChangeLog != "" {
		g.Go(func() error {
			data, err := blob.ReadAll(gctx, store, objectKey(prefix, manifest.ChangeLog))
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &changeLog); err != nil {
				return fmt.Errorf("decode change log: %w", err)
			}
			return nil
		})
	}
	if manifest.Predictions != "" {
		g.Go(func() error {
			data, err := blob.ReadAll(gctx, store, objectKey(prefix, manifest.Predictions))
			if err != nil {
				return err
			}
			var res classifier.Result
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("decode predictions: %w", err)
			}
			predictions = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	contents := core.StoreContents{
		Version:     manifest.Version,
		Tidy:        tables[0],
		Raw:         tables[1],
		Publication: tables[2],
		ChangeLog:   changeLog,
		Expressions: make(map[domain.ExpressionKey]*table.Matrix, len(matrices)),
	}
	for i, entry := range manifest.Expressions {
		contents.Expressions[entry.Key()] = matrices[i]
	}
	ms, err := core.NewMetadataStore(contents)
	if err != nil {
		return nil, err
	}
	return &Bundle{Manifest: manifest, Store: ms, Predictions: predictions}, nil
}
