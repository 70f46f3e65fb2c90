// Package rows maps change log snapshots onto the append-only change_log table
// shared by the SQL backends. Every entry is one row keyed by (kind, seq), so a
// save only ever inserts.
package rows

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"usqutils/pkg/domain"
)

// Kind tells column changes and cell updates apart.
type Kind string

const (
	KindColumnChange Kind = "column_change"
	KindCellUpdate   Kind = "cell_update"
)

// Row is one persisted entry. Seq is the entry's position within its kind.
type Row struct {
	Kind       Kind
	Seq        int64
	EntryID    string
	Entry      []byte
	RecordedAt time.Time
}

// Tail returns the rows next adds on top of prev. Callers check
// domain.CheckAppendOnly first.
func Tail(prev, next domain.ChangeLogSnapshot) ([]Row, error) {
	var out []Row
	for i := len(prev.ColumnChanges); i < len(next.ColumnChanges); i++ {
		c := next.ColumnChanges[i]
		r, err := encode(KindColumnChange, i, c.ID, c.Timestamp, c)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	for i := len(prev.CellUpdates); i < len(next.CellUpdates); i++ {
		u := next.CellUpdates[i]
		r, err := encode(KindCellUpdate, i, u.ID, u.Timestamp, u)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func encode(kind Kind, seq int, id string, at time.Time, v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Row{}, fmt.Errorf("encode %s %d: %w", kind, seq, err)
	}
	return Row{Kind: kind, Seq: int64(seq), EntryID: id, Entry: data, RecordedAt: at.UTC()}, nil
}

// Assemble rebuilds a snapshot. Rows may arrive in any order but each kind
// must be numbered 0..n-1 without gaps.
func Assemble(in []Row) (domain.ChangeLogSnapshot, error) {
	sorted := slices.Clone(in)
	slices.SortFunc(sorted, func(a, b Row) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.Seq, b.Seq))
	})
	var snap domain.ChangeLogSnapshot
	for _, r := range sorted {
		switch r.Kind {
		case KindColumnChange:
			if r.Seq != int64(len(snap.ColumnChanges)) {
				return domain.ChangeLogSnapshot{}, gap(r, len(snap.ColumnChanges))
			}
			var c domain.ColumnChange
			if err := json.Unmarshal(r.Entry, &c); err != nil {
				return domain.ChangeLogSnapshot{}, fmt.Errorf("decode %s %d: %w", r.Kind, r.Seq, err)
			}
			snap.ColumnChanges = append(snap.ColumnChanges, c)
		case KindCellUpdate:
			if r.Seq != int64(len(snap.CellUpdates)) {
				return domain.ChangeLogSnapshot{}, gap(r, len(snap.CellUpdates))
			}
			var u domain.CellUpdate
			if err := json.Unmarshal(r.Entry, &u); err != nil {
				return domain.ChangeLogSnapshot{}, fmt.Errorf("decode %s %d: %w", r.Kind, r.Seq, err)
			}
			snap.CellUpdates = append(snap.CellUpdates, u)
		default:
			return domain.ChangeLogSnapshot{}, fmt.Errorf("unknown change log kind %q", r.Kind)
		}
	}
	return snap, nil
}

func gap(r Row, want int) error {
	return fmt.Errorf("change log %s rows out of sequence: got %d, want %d", r.Kind, r.Seq, want)
}
