package domain

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ColumnChange records one column normalisation.
type ColumnChange struct {
	ID             string            `json:"id"`
	Key            string            `json:"key"`
	OriginalName   string            `json:"original_name"`
	NewName        string            `json:"new_name"`
	TargetType     string            `json:"target_type"`
	Levels         []string          `json:"levels,omitempty"`
	LevelRenames   map[string]string `json:"level_renames,omitempty"`
	LevelOrder     []string          `json:"level_order,omitempty"`
	Ordered        bool              `json:"ordered,omitempty"`
	NAValues       []string          `json:"na_values,omitempty"`
	BooleanMapping map[string]bool   `json:"boolean_mapping,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

func (c ColumnChange) clone() ColumnChange {
	c.Levels = slices.Clone(c.Levels)
	c.LevelRenames = maps.Clone(c.LevelRenames)
	c.LevelOrder = slices.Clone(c.LevelOrder)
	c.NAValues = slices.Clone(c.NAValues)
	c.BooleanMapping = maps.Clone(c.BooleanMapping)
	return c
}

// CellUpdate records one single-cell correction. OldValues holds one entry per
// matched row.
type CellUpdate struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	SampleID  string    `json:"sample_id"`
	IDColumn  string    `json:"id_column"`
	Column    string    `json:"column"`
	OldValues []any     `json:"old_values"`
	NewValue  any       `json:"new_value"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (u CellUpdate) clone() CellUpdate {
	u.OldValues = slices.Clone(u.OldValues)
	return u
}

// CellUpdateKey builds the composite key of a cell update.
func CellUpdateKey(sampleID, column string, ts time.Time) string {
	return sampleID + "|" + column + "|" + ts.UTC().Format(time.RFC3339Nano)
}

// ChangeLogSnapshot is a point-in-time copy of a change log.
type ChangeLogSnapshot struct {
	ColumnChanges []ColumnChange `json:"column_changes"`
	CellUpdates   []CellUpdate   `json:"cell_updates"`
}

// Len returns the total number of entries.
func (s ChangeLogSnapshot) Len() int { return len(s.ColumnChanges) + len(s.CellUpdates) }

// Clone returns a deep copy.
func (s ChangeLogSnapshot) Clone() ChangeLogSnapshot {
	out := ChangeLogSnapshot{
		ColumnChanges: make([]ColumnChange, len(s.ColumnChanges)),
		CellUpdates:   make([]CellUpdate, len(s.CellUpdates)),
	}
	for i, c := range s.ColumnChanges {
		out.ColumnChanges[i] = c.clone()
	}
	for i, u := range s.CellUpdates {
		out.CellUpdates[i] = u.clone()
	}
	return out
}

// Concat returns s followed by other.
func (s ChangeLogSnapshot) Concat(other ChangeLogSnapshot) ChangeLogSnapshot {
	out := s.Clone()
	o := other.Clone()
	out.ColumnChanges = append(out.ColumnChanges, o.ColumnChanges...)
	out.CellUpdates = append(out.CellUpdates, o.CellUpdates...)
	return out
}

// CheckAppendOnly verifies that next extends prev without dropping or
// rewriting entries.
func CheckAppendOnly(prev, next ChangeLogSnapshot) error {
	if len(next.ColumnChanges) < len(prev.ColumnChanges) || len(next.CellUpdates) < len(prev.CellUpdates) {
		return fmt.Errorf("change log snapshot drops entries: have %d, got %d", prev.Len(), next.Len())
	}
	for i, c := range prev.ColumnChanges {
		if next.ColumnChanges[i].ID != c.ID {
			return fmt.Errorf("column change %d rewritten", i)
		}
	}
	for i, u := range prev.CellUpdates {
		if next.CellUpdates[i].ID != u.ID {
			return fmt.Errorf("cell update %d rewritten", i)
		}
	}
	return nil
}

// ChangeLog is the append-only provenance log shared by the column normaliser
// and the cell editor. It is safe for concurrent use; append is the only
// mutation.
type ChangeLog struct {
	mu      sync.Mutex
	columns []ColumnChange
	cells   []CellUpdate
	keys    map[string]struct{}
}

// NewChangeLog returns an empty log.
func NewChangeLog() *ChangeLog {
	return &ChangeLog{keys: make(map[string]struct{})}
}

// NewChangeLogFrom hydrates a log from a snapshot, e.g. one loaded from a
// persistent store.
func NewChangeLogFrom(s ChangeLogSnapshot) *ChangeLog {
	l := NewChangeLog()
	c := s.Clone()
	l.columns = c.ColumnChanges
	l.cells = c.CellUpdates
	for _, u := range l.cells {
		l.keys[u.Key] = struct{}{}
	}
	return l
}

// AppendColumnChange adds a column entry and returns it with its ID set.
func (l *ChangeLog) AppendColumnChange(c ColumnChange) ColumnChange {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Key == "" {
		c.Key = c.OriginalName
	}
	c = c.clone()
	l.mu.Lock()
	l.columns = append(l.columns, c)
	l.mu.Unlock()
	return c.clone()
}

// AppendCellUpdate adds a cell entry under the cell_updates section. A key
// that is already present gets a numeric suffix.
func (l *ChangeLog) AppendCellUpdate(u CellUpdate) CellUpdate {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Key == "" {
		u.Key = CellUpdateKey(u.SampleID, u.Column, u.Timestamp)
	}
	u = u.clone()
	l.mu.Lock()
	base := u.Key
	for n := 2; ; n++ {
		if _, taken := l.keys[u.Key]; !taken {
			break
		}
		u.Key = fmt.Sprintf("%s#%d", base, n)
	}
	l.keys[u.Key] = struct{}{}
	l.cells = append(l.cells, u)
	l.mu.Unlock()
	return u.clone()
}

// ColumnChange returns the most recent entry recorded for key.
func (l *ChangeLog) ColumnChange(key string) (ColumnChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.columns) - 1; i >= 0; i-- {
		if l.columns[i].Key == key {
			return l.columns[i].clone(), true
		}
	}
	return ColumnChange{}, false
}

// Len returns the number of entries.
func (l *ChangeLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.columns) + len(l.cells)
}

// Snapshot returns a deep copy of the log.
func (l *ChangeLog) Snapshot() ChangeLogSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ChangeLogSnapshot{ColumnChanges: l.columns, CellUpdates: l.cells}.Clone()
}
