// Package classifier defines the contract of the external molecular subtype
// classifier consumed by the metadata accessor.
package classifier

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// Options tunes a classifier invocation.
type Options struct {
	GeneID               domain.GeneIDScheme `json:"gene_id" yaml:"gene_id"`
	LogTransform         bool                `json:"log_transform" yaml:"log_transform"`
	Adjust               bool                `json:"adjust" yaml:"adjust"`
	AdjustFactor         float64             `json:"adjust_factor" yaml:"adjust_factor"`
	Impute               bool                `json:"impute" yaml:"impute"`
	ImputeReject         float64             `json:"impute_reject" yaml:"impute_reject"`
	ImputeKNN            int                 `json:"impute_knn" yaml:"impute_knn"`
	ProgressionThreshold float64             `json:"progression_threshold" yaml:"progression_threshold"`
}

// DefaultOptions returns the settings used when a request leaves them unset.
func DefaultOptions() Options {
	return Options{
		GeneID:               domain.GeneIDHGNC,
		LogTransform:         true,
		Adjust:               true,
		AdjustFactor:         5.1431,
		Impute:               true,
		ImputeReject:         0.67,
		ImputeKNN:            5,
		ProgressionThreshold: 0.58,
	}
}

// Validate rejects unusable settings.
func (o Options) Validate() error {
	if err := o.GeneID.Validate(); err != nil {
		return err
	}
	if o.ImputeReject < 0 || o.ImputeReject > 1 {
		return domain.ConfigurationError{Parameter: "impute_reject", Value: fmt.Sprint(o.ImputeReject), Reason: "must be within [0, 1]"}
	}
	if o.Impute && o.ImputeKNN < 1 {
		return domain.ConfigurationError{Parameter: "impute_knn", Value: fmt.Sprint(o.ImputeKNN), Reason: "must be positive when imputing"}
	}
	if o.ProgressionThreshold < 0 || o.ProgressionThreshold > 1 {
		return domain.ConfigurationError{Parameter: "progression_threshold", Value: fmt.Sprint(o.ProgressionThreshold), Reason: "must be within [0, 1]"}
	}
	return nil
}

// Signature holds the continuous signature scores and derived calls of one sample.
type Signature struct {
	Scores          map[string]float64 `json:"scores,omitempty"`
	ProgressionRisk string             `json:"progression_risk,omitempty"`
	GradeWHO1999    string             `json:"molecular_grade_who_1999,omitempty"`
	GradeWHO2022    string             `json:"molecular_grade_who_2022,omitempty"`
}

func (s Signature) clone() Signature {
	s.Scores = maps.Clone(s.Scores)
	return s
}

// Result holds the four prediction blocks, each keyed by sample identifier.
type Result struct {
	Predictions5 map[string]string             `json:"predictions_5classes"`
	Predictions7 map[string]string             `json:"predictions_7classes"`
	Scores       map[string]map[string]float64 `json:"subtype_scores"`
	Signatures   map[string]Signature          `json:"scores"`
}

// Samples returns every sample present in any block, sorted.
func (r Result) Samples() []string {
	seen := make(map[string]struct{})
	for id := range r.Predictions5 {
		seen[id] = struct{}{}
	}
	for id := range r.Predictions7 {
		seen[id] = struct{}{}
	}
	for id := range r.Scores {
		seen[id] = struct{}{}
	}
	for id := range r.Signatures {
		seen[id] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Subset returns a copy restricted to ids.
func (r Result) Subset(ids []string) Result {
	out := Result{
		Predictions5: make(map[string]string),
		Predictions7: make(map[string]string),
		Scores:       make(map[string]map[string]float64),
		Signatures:   make(map[string]Signature),
	}
	for _, id := range ids {
		if v, ok := r.Predictions5[id]; ok {
			out.Predictions5[id] = v
		}
		if v, ok := r.Predictions7[id]; ok {
			out.Predictions7[id] = v
		}
		if v, ok := r.Scores[id]; ok {
			out.Scores[id] = maps.Clone(v)
		}
		if v, ok := r.Signatures[id]; ok {
			out.Signatures[id] = v.clone()
		}
	}
	return out
}

// Classifier assigns molecular subtypes to the samples of an expression matrix.
// Implementations receive a private copy of the matrix.
type Classifier interface {
	Classify(ctx context.Context, expr *table.Matrix, opts Options) (Result, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, expr *table.Matrix, opts Options) (Result, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, expr *table.Matrix, opts Options) (Result, error) {
	return f(ctx, expr, opts)
}
