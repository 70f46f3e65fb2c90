// Package memory provides the in-memory change log store used for tests and
// ephemeral sessions. The durable stores embed it as their working copy.
package memory

import (
	"context"
	"sync"

	"usqutils/pkg/domain"
)

var _ domain.ChangeLogStore = (*Store)(nil)

// Store keeps the latest accepted snapshot in memory.
type Store struct {
	mu    sync.RWMutex
	state domain.ChangeLogSnapshot
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

// Load implements domain.ChangeLogStore.
func (s *Store) Load(ctx context.Context) (domain.ChangeLogSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChangeLogSnapshot{}, err
	}
	return s.ExportState(), nil
}

// Save implements domain.ChangeLogStore. Snapshots that drop or rewrite
// entries are refused.
func (s *Store) Save(ctx context.Context, next domain.ChangeLogSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := domain.CheckAppendOnly(s.state, next); err != nil {
		return err
	}
	s.state = next.Clone()
	return nil
}

// CheckNext reports whether next may replace the current state.
func (s *Store) CheckNext(next domain.ChangeLogSnapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CheckAppendOnly(s.state, next)
}

// Close implements domain.ChangeLogStore.
func (s *Store) Close() error { return nil }

// ImportState replaces the state without the append-only check. Durable
// stores use it to hydrate from their backing database.
func (s *Store) ImportState(snapshot domain.ChangeLogSnapshot) {
	s.mu.Lock()
	s.state = snapshot.Clone()
	s.mu.Unlock()
}

// ExportState returns a copy of the state.
func (s *Store) ExportState() domain.ChangeLogSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}
