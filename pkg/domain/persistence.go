package domain

import "context"

// ChangeLogStore persists change log snapshots. Implementations must refuse a
// snapshot that does not extend the one already stored (see CheckAppendOnly).
type ChangeLogStore interface {
	Load(ctx context.Context) (ChangeLogSnapshot, error)
	Save(ctx context.Context, snapshot ChangeLogSnapshot) error
	Close() error
}
