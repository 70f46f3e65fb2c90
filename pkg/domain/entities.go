// Package domain defines the cohort vocabulary shared by every usqutils layer:
// category groups, output shapes, expression variants, subtype level orders,
// the error taxonomy and the append-only change log.
package domain

import (
	"slices"
	"strings"
)

// Tidy and publication table column names.
const (
	// SampleIDColumn holds the sample identifier in tidy and publication tables.
	SampleIDColumn = "sample_id"
	// CategoryColumn holds the category group key in tidy and publication tables.
	CategoryColumn = "category_group"
	// PADColumn holds the secondary (pathology) identifier in the tidy table.
	PADColumn = "pad_id"
)

// Raw table column names. Identifier values are shared with the tidy table.
const (
	// RawSampleIDColumn holds the sample identifier in the raw table.
	RawSampleIDColumn = "XRNA_cohort_name"
	// RawCategoryColumn holds the raw category label in the raw table.
	RawCategoryColumn = "Category_Group"
	// RawPADColumn holds the secondary identifier in the raw table.
	RawPADColumn = "PAD"
)

// CategoryGroup classifies samples by type (UC index, non-UC, recurrence,
// replicate) and RNA quality tier.
type CategoryGroup string

// Supported category groups. CategoryNone disables category filtering.
const (
	// CategoryNone means no category filter.
	CategoryNone CategoryGroup = "none"
	// CategoryUCIndexHighQuality is the primary urothelial index tumour, high quality tier.
	CategoryUCIndexHighQuality CategoryGroup = "uc_index_high_quality"
	// CategoryUCIndexLowQuality is the primary urothelial index tumour, low quality tier.
	CategoryUCIndexLowQuality CategoryGroup = "uc_index_low_quality"
	// CategoryNonUCHighQuality is a non-urothelial sample, high quality tier.
	CategoryNonUCHighQuality CategoryGroup = "non_uc_high_quality"
	// CategoryNonUCLowQuality is a non-urothelial sample, low quality tier.
	CategoryNonUCLowQuality CategoryGroup = "non_uc_low_quality"
	// CategoryRecurrenceHighQuality is a recurrence sample, high quality tier.
	CategoryRecurrenceHighQuality CategoryGroup = "recurrence_high_quality"
	// CategoryRecurrenceLowQuality is a recurrence sample, low quality tier.
	CategoryRecurrenceLowQuality CategoryGroup = "recurrence_low_quality"
	// CategoryReplicateHighQuality is a technical replicate, high quality tier.
	CategoryReplicateHighQuality CategoryGroup = "replicate_high_quality"
	// CategoryReplicateLowQuality is a technical replicate, low quality tier.
	CategoryReplicateLowQuality CategoryGroup = "replicate_low_quality"
)

var rawCategoryLabels = map[CategoryGroup]string{
	CategoryUCIndexHighQuality:    "UC_index_High_Quality",
	CategoryUCIndexLowQuality:     "UC_index_Low_Quality",
	CategoryNonUCHighQuality:      "non_UC_High_Quality",
	CategoryNonUCLowQuality:       "non_UC_Low_Quality",
	CategoryRecurrenceHighQuality: "Recurrence_High_Quality",
	CategoryRecurrenceLowQuality:  "Recurrence_Low_Quality",
	CategoryReplicateHighQuality:  "Replicate_High_Quality",
	CategoryReplicateLowQuality:   "Replicate_Low_Quality",
}

// CategoryGroups lists every accepted value, CategoryNone first.
func CategoryGroups() []CategoryGroup {
	return []CategoryGroup{
		CategoryNone,
		CategoryUCIndexHighQuality,
		CategoryUCIndexLowQuality,
		CategoryNonUCHighQuality,
		CategoryNonUCLowQuality,
		CategoryRecurrenceHighQuality,
		CategoryRecurrenceLowQuality,
		CategoryReplicateHighQuality,
		CategoryReplicateLowQuality,
	}
}

// Valid reports whether c is one of CategoryGroups.
func (c CategoryGroup) Valid() bool {
	return slices.Contains(CategoryGroups(), c)
}

// RawLabel returns the label stored in the raw table, or "" for CategoryNone.
func (c CategoryGroup) RawLabel() string {
	return rawCategoryLabels[c]
}

// IsIndexTumor reports whether c is one of the two UC index groups.
func (c CategoryGroup) IsIndexTumor() bool {
	return c == CategoryUCIndexHighQuality || c == CategoryUCIndexLowQuality
}

// ParseCategoryGroup resolves a category key. The empty string maps to
// CategoryNone.
func ParseCategoryGroup(s string) (CategoryGroup, error) {
	c := CategoryGroup(strings.TrimSpace(s))
	if c == "" {
		return CategoryNone, nil
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// Validate returns a ConfigurationError for unknown groups.
func (c CategoryGroup) Validate() error {
	if c.Valid() {
		return nil
	}
	return ConfigurationError{Parameter: "category_group", Value: string(c), Valid: stringsOf(CategoryGroups())}
}

// ReturnShape selects what the accessor returns.
type ReturnShape string

// Supported return shapes.
const (
	// ShapeTidy returns the filtered tidy table.
	ShapeTidy ReturnShape = "tidy"
	// ShapeRaw returns the filtered raw table.
	ShapeRaw ReturnShape = "raw"
	// ShapePublication returns the filtered publication table.
	ShapePublication ReturnShape = "publication"
	// ShapeChangeLog returns only the change log.
	ShapeChangeLog ReturnShape = "change_log"
	// ShapeFullStore returns the whole, unfiltered store.
	ShapeFullStore ReturnShape = "full_store"
	// ShapeEverything returns metadata, expressions, predictions and configuration.
	ShapeEverything ReturnShape = "everything"
	// ShapeExpressionsOnly returns only the expression subset.
	ShapeExpressionsOnly ReturnShape = "expressions_only"
)

// ReturnShapes lists every accepted shape.
func ReturnShapes() []ReturnShape {
	return []ReturnShape{ShapeTidy, ShapeRaw, ShapePublication, ShapeChangeLog, ShapeFullStore, ShapeEverything, ShapeExpressionsOnly}
}

// Valid reports whether s is one of ReturnShapes.
func (s ReturnShape) Valid() bool {
	return slices.Contains(ReturnShapes(), s)
}

// Validate returns a ConfigurationError for unknown shapes.
func (s ReturnShape) Validate() error {
	if s.Valid() {
		return nil
	}
	return ConfigurationError{Parameter: "return_shape", Value: string(s), Valid: stringsOf(ReturnShapes())}
}

// ParseReturnShape resolves a shape name. The empty string maps to ShapeTidy.
func ParseReturnShape(s string) (ReturnShape, error) {
	shape := ReturnShape(strings.TrimSpace(s))
	if shape == "" {
		return ShapeTidy, nil
	}
	if err := shape.Validate(); err != nil {
		return "", err
	}
	return shape, nil
}

// QualityTier selects the expression matrix sample set.
type QualityTier string

const (
	// TierHighQuality holds only high quality samples.
	TierHighQuality QualityTier = "high_quality"
	// TierAllSamples holds every sequenced sample.
	TierAllSamples QualityTier = "all_samples"
)

// QualityTiers lists the accepted tiers.
func QualityTiers() []QualityTier { return []QualityTier{TierHighQuality, TierAllSamples} }

// Validate returns a ConfigurationError for unknown tiers.
func (q QualityTier) Validate() error {
	if slices.Contains(QualityTiers(), q) {
		return nil
	}
	return ConfigurationError{Parameter: "quality_tier", Value: string(q), Valid: stringsOf(QualityTiers())}
}

// GeneIDScheme selects how expression rows are keyed.
type GeneIDScheme string

const (
	// GeneIDHGNC keys genes by HGNC symbol.
	GeneIDHGNC GeneIDScheme = "hgnc"
	// GeneIDEnsembl keys genes by Ensembl gene ID.
	GeneIDEnsembl GeneIDScheme = "ensembl"
)

// GeneIDSchemes lists the accepted schemes.
func GeneIDSchemes() []GeneIDScheme { return []GeneIDScheme{GeneIDHGNC, GeneIDEnsembl} }

// Validate returns a ConfigurationError for unknown schemes.
func (g GeneIDScheme) Validate() error {
	if slices.Contains(GeneIDSchemes(), g) {
		return nil
	}
	return ConfigurationError{Parameter: "gene_id", Value: string(g), Valid: stringsOf(GeneIDSchemes())}
}

// ExpressionKey identifies one expression matrix variant.
type ExpressionKey struct {
	Tier   QualityTier  `json:"tier"`
	Scheme GeneIDScheme `json:"gene_id"`
}

func (k ExpressionKey) String() string { return string(k.Tier) + "/" + string(k.Scheme) }

// Validate checks both selectors.
func (k ExpressionKey) Validate() error {
	if err := k.Tier.Validate(); err != nil {
		return err
	}
	return k.Scheme.Validate()
}

// TierForCategory picks the expression tier used for a category filter. Only
// the UC index high quality group selects the high quality matrix; every other
// value, including other high quality groups, uses all samples.
func TierForCategory(c CategoryGroup) QualityTier {
	if c == CategoryUCIndexHighQuality {
		return TierHighQuality
	}
	return TierAllSamples
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
