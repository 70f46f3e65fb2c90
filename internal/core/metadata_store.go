package core

import (
	"fmt"
	"maps"
	"slices"

	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// MetadataStore is the immutable cohort bundle: three metadata tables, the
// provenance change log and the expression matrices. Accessors return copies;
// the canonical values are never handed out.
type MetadataStore struct {
	version     string
	tidy        *table.Table
	raw         *table.Table
	publication *table.Table
	changeLog   domain.ChangeLogSnapshot
	expressions map[domain.ExpressionKey]*table.Matrix
}

// StoreContents carries the parts of a store into NewMetadataStore.
type StoreContents struct {
	Version     string
	Tidy        *table.Table
	Raw         *table.Table
	Publication *table.Table
	ChangeLog   domain.ChangeLogSnapshot
	Expressions map[domain.ExpressionKey]*table.Matrix
}

// NewMetadataStore validates c and takes private copies of every part.
func NewMetadataStore(c StoreContents) (*MetadataStore, error) {
	if c.Version == "" {
		return nil, fmt.Errorf("metadata store: version required")
	}
	checks := []struct {
		name    string
		t       *table.Table
		id, cat string
	}{
		{"tidy", c.Tidy, domain.SampleIDColumn, domain.CategoryColumn},
		{"raw", c.Raw, domain.RawSampleIDColumn, domain.RawCategoryColumn},
		{"publication", c.Publication, domain.SampleIDColumn, ""},
	}
	for _, chk := range checks {
		if chk.t == nil {
			return nil, fmt.Errorf("metadata store: %s table required", chk.name)
		}
		if err := checkIdentifiers(chk.t, chk.id); err != nil {
			return nil, fmt.Errorf("metadata store: %s table: %w", chk.name, err)
		}
		if chk.cat != "" && !chk.t.HasColumn(chk.cat) {
			return nil, fmt.Errorf("metadata store: %s table: %w", chk.name, domain.NotFoundError{Kind: "column", Name: chk.cat})
		}
	}
	s := &MetadataStore{
		version:     c.Version,
		tidy:        c.Tidy.Clone(),
		raw:         c.Raw.Clone(),
		publication: c.Publication.Clone(),
		changeLog:   c.ChangeLog.Clone(),
		expressions: make(map[domain.ExpressionKey]*table.Matrix, len(c.Expressions)),
	}
	for key, m := range c.Expressions {
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("metadata store: expression %s: %w", key, err)
		}
		if m == nil {
			return nil, fmt.Errorf("metadata store: expression %s is nil", key)
		}
		if err := m.CheckNonNegative(); err != nil {
			return nil, fmt.Errorf("metadata store: expression %s: %w", key, err)
		}
		s.expressions[key] = m.Clone()
	}
	return s, nil
}

func checkIdentifiers(t *table.Table, column string) error {
	ids, ok := t.Strings(column)
	if !ok {
		return domain.NotFoundError{Kind: "column", Name: column}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("missing identifier in column %s", column)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate identifier %q in column %s", id, column)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Version returns the bundle version string.
func (s *MetadataStore) Version() string { return s.version }

// Tidy returns a copy of the tidy table.
func (s *MetadataStore) Tidy() *table.Table { return s.tidy.Clone() }

// Raw returns a copy of the raw table.
func (s *MetadataStore) Raw() *table.Table { return s.raw.Clone() }

// Publication returns a copy of the publication table.
func (s *MetadataStore) Publication() *table.Table { return s.publication.Clone() }

// ChangeLog returns a copy of the provenance log shipped with the bundle.
func (s *MetadataStore) ChangeLog() domain.ChangeLogSnapshot { return s.changeLog.Clone() }

// Expression returns a copy of one expression matrix.
func (s *MetadataStore) Expression(key domain.ExpressionKey) (*table.Matrix, bool) {
	m, ok := s.expressions[key]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// ExpressionKeys lists the available matrix variants in a stable order.
func (s *MetadataStore) ExpressionKeys() []domain.ExpressionKey {
	keys := slices.Collect(maps.Keys(s.expressions))
	slices.SortFunc(keys, func(a, b domain.ExpressionKey) int {
		if a.Tier != b.Tier {
			if a.Tier < b.Tier {
				return -1
			}
			return 1
		}
		if a.Scheme < b.Scheme {
			return -1
		}
		if a.Scheme > b.Scheme {
			return 1
		}
		return 0
	})
	return keys
}

// Contents returns a deep copy of every part of the store.
func (s *MetadataStore) Contents() StoreContents {
	c := StoreContents{
		Version:     s.version,
		Tidy:        s.Tidy(),
		Raw:         s.Raw(),
		Publication: s.Publication(),
		ChangeLog:   s.ChangeLog(),
		Expressions: make(map[domain.ExpressionKey]*table.Matrix, len(s.expressions)),
	}
	for k, m := range s.expressions {
		c.Expressions[k] = m.Clone()
	}
	return c
}

// baseTable returns the canonical table behind shape. Callers must not modify it.
func (s *MetadataStore) baseTable(shape domain.ReturnShape) *table.Table {
	switch shape {
	case domain.ShapeRaw:
		return s.raw
	case domain.ShapePublication:
		return s.publication
	default:
		return s.tidy
	}
}
