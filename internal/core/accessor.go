package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"usqutils/pkg/classifier"
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// Request selects what GetMetadata returns. Zero values resolve to the tidy
// shape, no category filter and the default classifier options.
type Request struct {
	Shape         domain.ReturnShape
	RunClassifier bool
	Category      domain.CategoryGroup
	// SampleIDs, when set, replaces the category filter.
	SampleIDs  []string
	Classifier *classifier.Options
	// Verbose raises narration from debug to info level.
	Verbose bool
}

// ResolvedConfig is the request after defaults and precedence rules.
type ResolvedConfig struct {
	Shape         domain.ReturnShape   `json:"return_shape"`
	Category      domain.CategoryGroup `json:"category_group"`
	SampleIDs     []string             `json:"sample_ids,omitempty"`
	RunClassifier bool                 `json:"run_classifier"`
	Expression    domain.ExpressionKey `json:"expression"`
	Classifier    classifier.Options   `json:"classifier"`
	StoreVersion  string               `json:"store_version"`
}

// Diagnostics reports what the accessor did. It never influences the result.
type Diagnostics struct {
	Total   int `json:"total"`
	Kept    int `json:"kept"`
	Removed int `json:"removed"`
	// UnknownSampleIDs are requested identifiers absent from the metadata.
	UnknownSampleIDs []string `json:"unknown_sample_ids,omitempty"`
	// MissingExpression are filtered samples without an expression column.
	MissingExpression []string `json:"missing_expression,omitempty"`
	ClassifierRun     bool     `json:"classifier_run"`
	Warnings          []string `json:"warnings,omitempty"`
}

// ChangeLogView pairs the provenance log shipped with the store and the log
// of the current session.
type ChangeLogView struct {
	Provenance domain.ChangeLogSnapshot `json:"provenance"`
	Session    domain.ChangeLogSnapshot `json:"session"`
}

// Everything is the bundle returned for the everything shape.
type Everything struct {
	Metadata     *table.Table
	Expressions  *table.Matrix
	Predictions5 *table.Table
	Predictions7 *table.Table
	Scores       *table.Table
	Signatures   *table.Table
	Config       ResolvedConfig
}

// Response carries the result of one accessor call. Which field is populated
// depends on Config.Shape.
type Response struct {
	// Table is set for the tidy, raw and publication shapes.
	Table       *table.Table
	ChangeLog   *ChangeLogView
	Store       *StoreContents
	Expressions *table.Matrix
	Everything  *Everything
	Config      ResolvedConfig
	Diagnostics Diagnostics
}

// Accessor filters and reshapes a MetadataStore. Store is required; Classifier
// is only needed when predictions are requested.
type Accessor struct {
	Store      *MetadataStore
	Classifier classifier.Classifier
	// Session is the caller's change log, exposed by the change_log shape.
	Session *domain.ChangeLog
	Logger  Logger
}

// GetMetadata validates req, filters the requested table and optionally joins
// classifier predictions onto it. Every parameter is validated before the
// classifier is called. Classifier errors are returned unmodified.
func (a *Accessor) GetMetadata(ctx context.Context, req Request) (Response, error) {
	cfg, warnings, err := a.resolve(req)
	if err != nil {
		return Response{}, err
	}
	n := narrator{logger: a.Logger, verbose: req.Verbose}
	res := Response{Config: cfg}
	res.Diagnostics.Warnings = warnings
	for _, w := range warnings {
		n.warn(w)
	}
	n.say("resolved request", "shape", cfg.Shape, "category", cfg.Category, "sample_ids", len(cfg.SampleIDs), "run_classifier", cfg.RunClassifier)

	switch cfg.Shape {
	case domain.ShapeFullStore:
		contents := a.Store.Contents()
		res.Store = &contents
		res.Diagnostics.Total = contents.Tidy.NumRows()
		res.Diagnostics.Kept = res.Diagnostics.Total
		n.say("returning full store", "version", contents.Version)
		return res, nil
	case domain.ShapeChangeLog:
		view := ChangeLogView{Provenance: a.Store.ChangeLog()}
		if a.Session != nil {
			view.Session = a.Session.Snapshot()
		}
		res.ChangeLog = &view
		n.say("returning change log", "provenance", view.Provenance.Len(), "session", view.Session.Len())
		return res, nil
	}

	filtered, ids, err := a.filter(cfg, &res.Diagnostics)
	if err != nil {
		return Response{}, err
	}
	n.say("filtered metadata", "total", res.Diagnostics.Total, "kept", res.Diagnostics.Kept, "removed", res.Diagnostics.Removed)
	if len(res.Diagnostics.UnknownSampleIDs) > 0 {
		n.warn("requested sample ids not found in metadata", "count", len(res.Diagnostics.UnknownSampleIDs))
	}

	if cfg.Shape == domain.ShapeExpressionsOnly {
		sub, err := a.expressionSubset(cfg, ids, &res.Diagnostics, n)
		if err != nil {
			return Response{}, err
		}
		res.Expressions = sub
		return res, nil
	}

	if !cfg.RunClassifier {
		res.Table = filtered
		return res, nil
	}

	sub, err := a.expressionSubset(cfg, ids, &res.Diagnostics, n)
	if err != nil {
		return Response{}, err
	}
	n.say("running classifier", "samples", sub.NumSamples(), "gene_id", cfg.Classifier.GeneID)
	result, err := a.Classifier.Classify(ctx, sub.Clone(), cfg.Classifier)
	if err != nil {
		return Response{}, err
	}
	res.Diagnostics.ClassifierRun = true
	pred, predWarnings := reshapePredictions(result)
	for _, w := range predWarnings {
		n.warn(w)
	}
	res.Diagnostics.Warnings = append(res.Diagnostics.Warnings, predWarnings...)

	joined, err := filtered.LeftJoin(pred.combined, idColumnFor(cfg.Shape), domain.SampleIDColumn)
	if err != nil {
		return Response{}, fmt.Errorf("join predictions: %w", err)
	}
	n.say("joined predictions", "rows", joined.NumRows(), "columns", joined.NumCols())

	if cfg.Shape != domain.ShapeEverything {
		res.Table = joined
		return res, nil
	}
	res.Everything = &Everything{
		Metadata:     joined,
		Expressions:  sub,
		Predictions5: pred.subtype5,
		Predictions7: pred.subtype7,
		Scores:       pred.scores,
		Signatures:   pred.signatures,
		Config:       cfg,
	}
	return res, nil
}

func (a *Accessor) resolve(req Request) (ResolvedConfig, []string, error) {
	shape, err := domain.ParseReturnShape(string(req.Shape))
	if err != nil {
		return ResolvedConfig{}, nil, err
	}
	category, err := domain.ParseCategoryGroup(string(req.Category))
	if err != nil {
		return ResolvedConfig{}, nil, err
	}
	if a.Store == nil {
		return ResolvedConfig{}, nil, domain.ConfigurationError{Parameter: "store", Reason: "metadata store required"}
	}
	opts := classifier.DefaultOptions()
	if req.Classifier != nil {
		opts = *req.Classifier
		if opts.GeneID == "" {
			opts.GeneID = domain.GeneIDHGNC
		}
	}
	// Expression values are stored non-log; the classifier always transforms them.
	opts.LogTransform = true
	if err := opts.Validate(); err != nil {
		return ResolvedConfig{}, nil, err
	}

	var warnings []string
	cfg := ResolvedConfig{
		Shape:         shape,
		Category:      category,
		SampleIDs:     dedupe(req.SampleIDs),
		RunClassifier: req.RunClassifier,
		Classifier:    opts,
		StoreVersion:  a.Store.Version(),
	}
	if len(cfg.SampleIDs) > 0 && cfg.Category != domain.CategoryNone {
		warnings = append(warnings, fmt.Sprintf("sample_ids override category_group %s", cfg.Category))
		cfg.Category = domain.CategoryNone
	}
	switch shape {
	case domain.ShapeFullStore, domain.ShapeChangeLog:
		cfg.Category = domain.CategoryNone
		cfg.SampleIDs = nil
		cfg.RunClassifier = false
	case domain.ShapeExpressionsOnly:
		cfg.RunClassifier = false
	case domain.ShapeEverything:
		if !cfg.RunClassifier {
			warnings = append(warnings, "return_shape everything requires predictions; running the classifier")
		}
		cfg.RunClassifier = true
	}
	cfg.Expression = domain.ExpressionKey{Tier: domain.TierForCategory(cfg.Category), Scheme: opts.GeneID}
	if cfg.RunClassifier && cfg.Expression.Tier == domain.TierAllSamples && strings.HasSuffix(string(cfg.Category), "_high_quality") {
		// Only uc_index_high_quality selects the high quality matrix.
		warnings = append(warnings, fmt.Sprintf("category_group %s classifies from the %s expression matrix", cfg.Category, cfg.Expression.Tier))
	}
	if cfg.RunClassifier && a.Classifier == nil {
		return ResolvedConfig{}, nil, domain.ConfigurationError{Parameter: "classifier", Reason: "predictions requested but no classifier configured"}
	}
	return cfg, warnings, nil
}

// filter applies the identifier or category filter to the base table of the
// shape and returns the kept rows with their sample identifiers.
func (a *Accessor) filter(cfg ResolvedConfig, diag *Diagnostics) (*table.Table, []string, error) {
	base := a.Store.baseTable(cfg.Shape)
	idCol := idColumnFor(cfg.Shape)
	ids, ok := base.Strings(idCol)
	if !ok {
		return nil, nil, domain.NotFoundError{Kind: "column", Name: idCol}
	}

	var keep map[string]struct{}
	switch {
	case len(cfg.SampleIDs) > 0:
		keep = make(map[string]struct{}, len(cfg.SampleIDs))
		present := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			present[id] = struct{}{}
		}
		for _, id := range cfg.SampleIDs {
			if _, ok := present[id]; ok {
				keep[id] = struct{}{}
			} else {
				diag.UnknownSampleIDs = append(diag.UnknownSampleIDs, id)
			}
		}
	case cfg.Category != domain.CategoryNone:
		var err error
		keep, err = a.categoryMembers(cfg.Shape, cfg.Category)
		if err != nil {
			return nil, nil, err
		}
	}

	filtered := base.Clone()
	if keep != nil {
		filtered = base.Filter(func(r int) bool {
			_, ok := keep[ids[r]]
			return ok
		})
	}
	diag.Total = base.NumRows()
	diag.Kept = filtered.NumRows()
	diag.Removed = diag.Total - diag.Kept
	keptIDs, _ := filtered.Strings(idCol)
	return filtered, keptIDs, nil
}

// categoryMembers returns the identifiers of the samples in category c. Tables
// without a category column, such as the de-identified publication table, are
// resolved through the tidy table.
func (a *Accessor) categoryMembers(shape domain.ReturnShape, c domain.CategoryGroup) (map[string]struct{}, error) {
	t, idCol, catCol, want := a.Store.tidy, domain.SampleIDColumn, domain.CategoryColumn, string(c)
	switch {
	case shape == domain.ShapeRaw:
		t, idCol, catCol, want = a.Store.raw, domain.RawSampleIDColumn, domain.RawCategoryColumn, c.RawLabel()
	case a.Store.baseTable(shape).HasColumn(domain.CategoryColumn):
		t = a.Store.baseTable(shape)
	}
	rows, err := t.RowsWhere(catCol, want)
	if err != nil {
		return nil, domain.NotFoundError{Kind: "column", Name: catCol}
	}
	ids, _ := t.Strings(idCol)
	out := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		out[ids[r]] = struct{}{}
	}
	return out, nil
}

func (a *Accessor) expressionSubset(cfg ResolvedConfig, ids []string, diag *Diagnostics, n narrator) (*table.Matrix, error) {
	m, err := LoadExpressions(a.Store, cfg.Expression.Tier, cfg.Expression.Scheme)
	if err != nil {
		return nil, err
	}
	sub, missing := m.SelectSamples(ids)
	diag.MissingExpression = missing
	n.say("selected expression columns", "matrix", cfg.Expression.String(), "genes", sub.NumGenes(), "samples", sub.NumSamples())
	if len(missing) > 0 {
		n.warn("samples without expression data", "matrix", cfg.Expression.String(), "count", len(missing))
	}
	return sub, nil
}

func idColumnFor(shape domain.ReturnShape) string {
	if shape == domain.ShapeRaw {
		return domain.RawSampleIDColumn
	}
	return domain.SampleIDColumn
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type predictionTables struct {
	combined   *table.Table
	subtype5   *table.Table
	subtype7   *table.Table
	scores     *table.Table
	signatures *table.Table
}

// reshapePredictions turns the four classifier blocks into tables keyed by
// sample_id with fixed level orders. Labels outside the known levels become
// missing and are reported.
func reshapePredictions(r classifier.Result) (predictionTables, []string) {
	samples := r.Samples()
	var warnings []string
	idColumn := table.NewColumn(domain.SampleIDColumn, table.StringType(), stringValues(samples))

	labelColumn := func(name string, typ table.ColumnType, lookup func(string) (string, bool)) table.Column {
		values := make([]any, len(samples))
		for i, id := range samples {
			label, ok := lookup(id)
			if !ok || label == "" {
				continue
			}
			v, err := typ.Coerce(label)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("sample %s: unexpected %s label %q", id, name, label))
				continue
			}
			values[i] = v
		}
		return table.Column{Name: name, Type: typ, Values: values}
	}

	sub5 := labelColumn(domain.Subtype5Column, table.Categorical(domain.Subtype5Levels(), false), func(id string) (string, bool) {
		v, ok := r.Predictions5[id]
		return v, ok
	})
	sub7 := labelColumn(domain.Subtype7Column, table.Categorical(domain.Subtype7Levels(), false), func(id string) (string, bool) {
		v, ok := r.Predictions7[id]
		return v, ok
	})

	var scoreCols []table.Column
	for _, class := range scoreClasses(r.Scores) {
		values := make([]any, len(samples))
		for i, id := range samples {
			if v, ok := r.Scores[id][class]; ok {
				values[i] = v
			}
		}
		scoreCols = append(scoreCols, table.Column{Name: domain.ScoreColumnPrefix + class, Type: table.NumericType(), Values: values})
	}

	var sigCols []table.Column
	signatureNames := make(map[string]struct{})
	for _, sig := range r.Signatures {
		for name := range sig.Scores {
			signatureNames[name] = struct{}{}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(signatureNames)) {
		values := make([]any, len(samples))
		for i, id := range samples {
			if v, ok := r.Signatures[id].Scores[name]; ok {
				values[i] = v
			}
		}
		sigCols = append(sigCols, table.Column{Name: domain.SignatureColumnPrefix + name, Type: table.NumericType(), Values: values})
	}
	sigCols = append(sigCols,
		labelColumn(domain.ProgressionRiskColumn, table.Categorical(domain.ProgressionLevels(), false), func(id string) (string, bool) {
			s, ok := r.Signatures[id]
			return s.ProgressionRisk, ok
		}),
		labelColumn(domain.GradeWHO1999Column, table.Categorical(domain.GradeWHO1999Levels(), true), func(id string) (string, bool) {
			s, ok := r.Signatures[id]
			return s.GradeWHO1999, ok
		}),
		labelColumn(domain.GradeWHO2022Column, table.Categorical(domain.GradeWHO2022Levels(), true), func(id string) (string, bool) {
			s, ok := r.Signatures[id]
			return s.GradeWHO2022, ok
		}),
	)

	combined := append([]table.Column{idColumn, sub5, sub7}, scoreCols...)
	combined = append(combined, sigCols...)
	return predictionTables{
		combined:   table.MustNew(combined...),
		subtype5:   table.MustNew(idColumn, sub5),
		subtype7:   table.MustNew(idColumn, sub7),
		scores:     table.MustNew(append([]table.Column{idColumn}, scoreCols...)...),
		signatures: table.MustNew(append([]table.Column{idColumn}, sigCols...)...),
	}, warnings
}

// scoreClasses orders the score classes: known subtypes first in their
// canonical order, then any others alphabetically.
func scoreClasses(scores map[string]map[string]float64) []string {
	present := make(map[string]struct{})
	for _, row := range scores {
		for class := range row {
			present[class] = struct{}{}
		}
	}
	var out []string
	for _, class := range domain.ScoreClassOrder() {
		if _, ok := present[class]; ok {
			out = append(out, class)
			delete(present, class)
		}
	}
	return append(out, slices.Sorted(maps.Keys(present))...)
}

func stringValues(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

type narrator struct {
	logger  Logger
	verbose bool
}

func (n narrator) say(msg string, args ...any) {
	if n.logger == nil {
		return
	}
	if n.verbose {
		n.logger.Info(msg, args...)
		return
	}
	n.logger.Debug(msg, args...)
}

func (n narrator) warn(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Warn(msg, args...)
	}
}
