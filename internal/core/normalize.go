package core

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// ColumnSpec describes one column normalisation. Zero fields are skipped, so a
// spec with only NewName is a plain rename.
type ColumnSpec struct {
	Column string
	// NewName renames the column after every other step.
	NewName string
	// Type is a type token accepted by table.ParseKind; empty keeps the current type.
	Type string
	// Levels restricts a categorical column to the listed levels.
	Levels []string
	// Ordered marks a categorical column ordered without reordering it.
	Ordered      bool
	LevelRenames map[string]string
	// Order replaces the level sequence exactly and marks the column ordered.
	Order []string
	// NAValues are sentinel values replaced with missing before coercion.
	NAValues []string
	// BooleanMap maps source values, compared case-insensitively, to booleans.
	// Required for boolean targets.
	BooleanMap map[string]bool
	// SkipLog suppresses the change log entry.
	SkipLog bool
}

// NormalizeColumn returns a copy of t with one column converted according to
// spec. The order of application is sentinel replacement, type coercion, level
// renames, level order and finally the rename. Unless suppressed, one
// ColumnChange keyed by the original column name is appended to log.
func NormalizeColumn(t *table.Table, spec ColumnSpec, log *domain.ChangeLog, now time.Time) (*table.Table, error) {
	col, ok := t.Column(spec.Column)
	if !ok {
		return nil, domain.ConfigurationError{Parameter: "column", Value: spec.Column, Reason: "column not found", Valid: t.Names()}
	}
	target := col.Type.Clone()
	if spec.Type != "" {
		kind, ok := table.ParseKind(spec.Type)
		if !ok {
			return nil, domain.ConfigurationError{Parameter: "type", Value: spec.Type, Valid: table.KindTokens()}
		}
		target = table.ColumnType{Kind: kind}
	}
	if target.Kind == table.KindBoolean && spec.Type != "" && len(spec.BooleanMap) == 0 {
		return nil, domain.ConfigurationError{Parameter: "boolean_map", Reason: "boolean conversion requires an explicit mapping"}
	}
	categorical := target.Kind == table.KindCategorical
	if !categorical && (len(spec.Levels) > 0 || len(spec.LevelRenames) > 0 || len(spec.Order) > 0) {
		return nil, domain.ConfigurationError{Parameter: "levels", Value: spec.Column, Reason: "level options require a categorical column"}
	}
	if spec.NewName != "" && spec.NewName != spec.Column && t.HasColumn(spec.NewName) {
		return nil, domain.ConfigurationError{Parameter: "new_name", Value: spec.NewName, Reason: "column already exists"}
	}
	if dup := firstDuplicate(spec.Order); dup != "" {
		return nil, domain.ConfigurationError{Parameter: "order", Value: dup, Reason: "duplicate level"}
	}

	values := replaceSentinels(col.Values, spec.NAValues)

	if spec.Type != "" {
		switch target.Kind {
		case table.KindBoolean:
			values = mapBooleans(values, spec.BooleanMap)
		case table.KindCategorical:
			values, target = toCategorical(values, col.Type, spec.Levels)
		default:
			for i, v := range values {
				values[i] = target.Convert(v)
			}
		}
	} else if categorical && len(spec.Levels) > 0 {
		values, target = toCategorical(values, col.Type, spec.Levels)
	}
	if categorical && spec.Ordered {
		target.Ordered = true
	}

	if len(spec.LevelRenames) > 0 {
		for i, v := range values {
			if s, ok := v.(string); ok {
				if renamed, hit := spec.LevelRenames[s]; hit {
					values[i] = renamed
				}
			}
		}
		levels := make([]string, 0, len(target.Levels))
		for _, l := range target.Levels {
			if renamed, hit := spec.LevelRenames[l]; hit {
				l = renamed
			}
			if !slices.Contains(levels, l) {
				levels = append(levels, l)
			}
		}
		target.Levels = levels
	}

	if len(spec.Order) > 0 {
		target.Levels = slices.Clone(spec.Order)
		target.Ordered = true
		for i, v := range values {
			if s, ok := v.(string); ok && !slices.Contains(target.Levels, s) {
				values[i] = nil
			}
		}
	}

	name := col.Name
	if spec.NewName != "" {
		name = spec.NewName
	}
	out, err := t.ReplaceColumn(col.Name, table.Column{Name: name, Type: target, Values: values})
	if err != nil {
		return nil, err
	}

	if log != nil && !spec.SkipLog {
		log.AppendColumnChange(domain.ColumnChange{
			Key:            spec.Column,
			OriginalName:   spec.Column,
			NewName:        name,
			TargetType:     target.Kind.String(),
			Levels:         slices.Clone(spec.Levels),
			LevelRenames:   maps.Clone(spec.LevelRenames),
			LevelOrder:     slices.Clone(spec.Order),
			Ordered:        target.Ordered,
			NAValues:       slices.Clone(spec.NAValues),
			BooleanMapping: maps.Clone(spec.BooleanMap),
			Timestamp:      now.UTC(),
		})
	}
	return out, nil
}

func replaceSentinels(values []any, sentinels []string) []any {
	out := slices.Clone(values)
	if len(sentinels) == 0 {
		return out
	}
	for i, v := range out {
		if v != nil && slices.Contains(sentinels, table.FormatValue(v)) {
			out[i] = nil
		}
	}
	return out
}

func mapBooleans(values []any, mapping map[string]bool) []any {
	lookup := make(map[string]bool, len(mapping))
	for k, b := range mapping {
		lookup[strings.ToLower(strings.TrimSpace(k))] = b
	}
	out := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		if b, ok := lookup[strings.ToLower(strings.TrimSpace(table.FormatValue(v)))]; ok {
			out[i] = b
		}
	}
	return out
}

// toCategorical converts values to level strings. With explicit levels, values
// outside them become missing; otherwise an existing categorical keeps its
// levels and any other column uses its sorted distinct values.
func toCategorical(values []any, from table.ColumnType, levels []string) ([]any, table.ColumnType) {
	out := make([]any, len(values))
	for i, v := range values {
		if !table.IsMissing(v) {
			out[i] = table.FormatValue(v)
		}
	}
	switch {
	case len(levels) > 0:
		levels = slices.Clone(levels)
		for i, v := range out {
			if s, ok := v.(string); ok && !slices.Contains(levels, s) {
				out[i] = nil
			}
		}
		return out, table.Categorical(levels, false)
	case from.Kind == table.KindCategorical:
		return out, from.Clone()
	default:
		seen := make(map[string]struct{})
		for _, v := range out {
			if s, ok := v.(string); ok {
				seen[s] = struct{}{}
			}
		}
		distinct := make([]string, 0, len(seen))
		for s := range seen {
			distinct = append(distinct, s)
		}
		sort.Strings(distinct)
		return out, table.Categorical(distinct, false)
	}
}

func firstDuplicate(values []string) string {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			return v
		}
		seen[v] = struct{}{}
	}
	return ""
}
