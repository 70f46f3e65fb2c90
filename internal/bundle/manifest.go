// Package bundle reads and writes the cohort data bundle kept in a blob store:
// a JSON manifest, CSV metadata tables, TSV expression matrices, the
// provenance change log and optional precomputed predictions.
package bundle

import (
	"fmt"
	"path"
	"slices"

	"usqutils/pkg/domain"
)

// Well-known object names, relative to the bundle prefix.
const (
	ManifestKey    = "manifest.json"
	ChangeLogKey   = "change_log.json"
	PredictionsKey = "predictions.json"
)

// Table names used in the manifest.
const (
	TableTidy        = "tidy"
	TableRaw         = "raw"
	TablePublication = "publication"
)

// TableNames lists the tables every bundle carries.
func TableNames() []string { return []string{TableTidy, TableRaw, TablePublication} }

// TableEntry locates one metadata table and records its schema.
type TableEntry struct {
	File    string         `json:"file"`
	Columns []ColumnSchema `json:"columns"`
}

// MatrixEntry locates one expression matrix.
type MatrixEntry struct {
	Tier   domain.QualityTier  `json:"tier"`
	Scheme domain.GeneIDScheme `json:"gene_id"`
	File   string              `json:"file"`
}

// Key returns the expression key of the entry.
func (m MatrixEntry) Key() domain.ExpressionKey {
	return domain.ExpressionKey{Tier: m.Tier, Scheme: m.Scheme}
}

// Manifest describes the contents of a bundle.
type Manifest struct {
	Version     string                `json:"version"`
	Tables      map[string]TableEntry `json:"tables"`
	Expressions []MatrixEntry         `json:"expressions"`
	ChangeLog   string                `json:"change_log,omitempty"`
	Predictions string                `json:"predictions,omitempty"`
}

// Validate checks that the manifest names every table and only known matrix
// variants, each once.
func (m Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("manifest: version required")
	}
	for _, name := range TableNames() {
		entry, ok := m.Tables[name]
		if !ok || entry.File == "" {
			return fmt.Errorf("manifest: table %s missing", name)
		}
		if len(entry.Columns) == 0 {
			return fmt.Errorf("manifest: table %s has no columns", name)
		}
	}
	seen := make(map[domain.ExpressionKey]struct{}, len(m.Expressions))
	for _, e := range m.Expressions {
		if err := e.Key().Validate(); err != nil {
			return fmt.Errorf("manifest: expression %s: %w", e.Key(), err)
		}
		if e.File == "" {
			return fmt.Errorf("manifest: expression %s has no file", e.Key())
		}
		if _, dup := seen[e.Key()]; dup {
			return fmt.Errorf("manifest: expression %s listed twice", e.Key())
		}
		seen[e.Key()] = struct{}{}
	}
	return nil
}

// Files lists every object the manifest refers to.
func (m Manifest) Files() []string {
	var out []string
	for _, name := range TableNames() {
		out = append(out, m.Tables[name].File)
	}
	for _, e := range m.Expressions {
		out = append(out, e.File)
	}
	if m.ChangeLog != "" {
		out = append(out, m.ChangeLog)
	}
	if m.Predictions != "" {
		out = append(out, m.Predictions)
	}
	slices.Sort(out)
	return out
}

func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func matrixFile(key domain.ExpressionKey) string {
	return fmt.Sprintf("expression_%s_%s.tsv", key.Tier, key.Scheme)
}
