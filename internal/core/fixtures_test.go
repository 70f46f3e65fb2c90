package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"usqutils/pkg/classifier"
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

type groupCount struct {
	group domain.CategoryGroup
	n     int
}

// defaultCohort is small enough to read in failures but covers every group.
var defaultCohort = []groupCount{
	{domain.CategoryUCIndexHighQuality, 12},
	{domain.CategoryUCIndexLowQuality, 5},
	{domain.CategoryNonUCHighQuality, 3},
	{domain.CategoryNonUCLowQuality, 2},
	{domain.CategoryRecurrenceHighQuality, 4},
	{domain.CategoryRecurrenceLowQuality, 2},
	{domain.CategoryReplicateHighQuality, 3},
	{domain.CategoryReplicateLowQuality, 1},
}

var fixtureGenes = []struct{ hgnc, ensembl string }{
	{"FGFR3", "ENSG00000068078"},
	{"KRT5", "ENSG00000186081"},
	{"GATA3", "ENSG00000107485"},
	{"MKI67", "ENSG00000148773"},
}

type cohortSample struct {
	id    string
	pad   string
	group domain.CategoryGroup
	index int
}

func cohortSamples(counts []groupCount) []cohortSample {
	var out []cohortSample
	i := 0
	for _, gc := range counts {
		for j := 0; j < gc.n; j++ {
			i++
			out = append(out, cohortSample{
				id:    fmt.Sprintf("S%04d", i),
				pad:   fmt.Sprintf("PAD_%04d", i),
				group: gc.group,
				index: i,
			})
		}
	}
	return out
}

// buildContents assembles tidy, raw and publication tables plus the four
// expression matrices. Every tenth sample has no expression data.
func buildContents(t testing.TB, counts []groupCount) StoreContents {
	t.Helper()
	samples := cohortSamples(counts)
	n := len(samples)
	var (
		ids, pads, cats, labels = make([]any, n), make([]any, n), make([]any, n), make([]any, n)
		ages, sexes, grades     = make([]any, n), make([]any, n), make([]any, n)
		smokers, diagnosed      = make([]any, n), make([]any, n)
	)
	catLevels := make([]string, 0)
	labelLevels := make([]string, 0)
	for _, c := range domain.CategoryGroups() {
		if c != domain.CategoryNone {
			catLevels = append(catLevels, string(c))
			labelLevels = append(labelLevels, c.RawLabel())
		}
	}
	for i, s := range samples {
		ids[i] = s.id
		pads[i] = s.pad
		cats[i] = string(s.group)
		labels[i] = s.group.RawLabel()
		ages[i] = float64(50 + s.index%30)
		sexes[i] = []string{"Male", "Female"}[s.index%2]
		grades[i] = []string{"G1", "G2", "G3"}[s.index%3]
		smokers[i] = s.index%4 == 0
		diagnosed[i] = time.Date(2010+s.index%10, time.Month(1+s.index%12), 1, 0, 0, 0, 0, time.UTC)
	}
	tidy := table.MustNew(
		table.NewColumn(domain.SampleIDColumn, table.StringType(), ids),
		table.NewColumn(domain.CategoryColumn, table.Categorical(catLevels, false), cats),
		table.NewColumn(domain.PADColumn, table.StringType(), pads),
		table.NewColumn("age", table.NumericType(), ages),
		table.NewColumn("sex", table.Categorical([]string{"Female", "Male"}, false), sexes),
		table.NewColumn("grade", table.Categorical([]string{"G1", "G2", "G3"}, true), grades),
		table.NewColumn("smoker", table.BooleanType(), smokers),
		table.NewColumn("diagnosis_date", table.DateType(), diagnosed),
	)
	raw := table.MustNew(
		table.NewColumn(domain.RawSampleIDColumn, table.StringType(), ids),
		table.NewColumn(domain.RawCategoryColumn, table.Categorical(labelLevels, false), labels),
		table.NewColumn(domain.RawPADColumn, table.StringType(), pads),
		table.NewColumn("Age", table.NumericType(), ages),
	)
	publication := table.MustNew(
		table.NewColumn(domain.SampleIDColumn, table.StringType(), ids),
		table.NewColumn("age", table.NumericType(), ages),
		table.NewColumn("grade", table.Categorical([]string{"G1", "G2", "G3"}, true), grades),
	)

	var hq, all []cohortSample
	for _, s := range samples {
		if s.index%10 == 0 {
			continue
		}
		all = append(all, s)
		if s.group == domain.CategoryUCIndexHighQuality {
			hq = append(hq, s)
		}
	}
	expressions := make(map[domain.ExpressionKey]*table.Matrix)
	for _, tier := range []struct {
		tier    domain.QualityTier
		samples []cohortSample
	}{{domain.TierHighQuality, hq}, {domain.TierAllSamples, all}} {
		for _, scheme := range domain.GeneIDSchemes() {
			m := fixtureMatrix(t, tier.samples, scheme)
			expressions[domain.ExpressionKey{Tier: tier.tier, Scheme: scheme}] = m
		}
	}
	return StoreContents{
		Version:     "2.1.0-test",
		Tidy:        tidy,
		Raw:         raw,
		Publication: publication,
		ChangeLog: domain.ChangeLogSnapshot{ColumnChanges: []domain.ColumnChange{{
			ID: "prov-1", Key: "Category_Group", OriginalName: "Category_Group", NewName: "category_group", TargetType: "categorical",
		}}},
		Expressions: expressions,
	}
}

func fixtureMatrix(t testing.TB, samples []cohortSample, scheme domain.GeneIDScheme) *table.Matrix {
	t.Helper()
	genes := make([]string, len(fixtureGenes))
	values := make([][]float64, len(fixtureGenes))
	ids := make([]string, len(samples))
	for j, s := range samples {
		ids[j] = s.id
	}
	for g, gene := range fixtureGenes {
		genes[g] = gene.hgnc
		if scheme == domain.GeneIDEnsembl {
			genes[g] = gene.ensembl
		}
		row := make([]float64, len(samples))
		for j, s := range samples {
			row[j] = float64((g+1)*s.index) * 0.25
		}
		values[g] = row
	}
	m, err := table.NewMatrix(genes, ids, values)
	if err != nil {
		t.Fatalf("fixture matrix: %v", err)
	}
	return m
}

func newFixtureStore(t testing.TB, counts ...groupCount) *MetadataStore {
	t.Helper()
	if len(counts) == 0 {
		counts = defaultCohort
	}
	store, err := NewMetadataStore(buildContents(t, counts))
	if err != nil {
		t.Fatalf("fixture store: %v", err)
	}
	return store
}

// fakeClassifier assigns subtypes deterministically from the sample position
// and records every invocation.
type fakeClassifier struct {
	mu    sync.Mutex
	calls []fakeCall
	err   error
}

type fakeCall struct {
	samples []string
	genes   []string
	opts    classifier.Options
}

func (f *fakeClassifier) Classify(_ context.Context, expr *table.Matrix, opts classifier.Options) (classifier.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{samples: append([]string(nil), expr.Samples...), genes: append([]string(nil), expr.Genes...), opts: opts})
	f.mu.Unlock()
	if f.err != nil {
		return classifier.Result{}, f.err
	}
	five := domain.Subtype5Levels()
	seven := domain.Subtype7Levels()
	res := classifier.Result{
		Predictions5: map[string]string{},
		Predictions7: map[string]string{},
		Scores:       map[string]map[string]float64{},
		Signatures:   map[string]classifier.Signature{},
	}
	for i, id := range expr.Samples {
		res.Predictions5[id] = five[i%len(five)]
		res.Predictions7[id] = seven[i%len(seven)]
		res.Scores[id] = map[string]float64{"Uro": float64(i) / 10, "BaSq": 1 - float64(i)/10}
		risk := "LR"
		if i%2 == 1 {
			risk = "HR"
		}
		res.Signatures[id] = classifier.Signature{
			Scores:          map[string]float64{"ProliferationScore": float64(i), "ImmuneScore": 0.5},
			ProgressionRisk: risk,
			GradeWHO1999:    []string{"G1_2", "G3"}[i%2],
			GradeWHO2022:    []string{"LG", "HG"}[i%2],
		}
	}
	return res, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClassifier) lastCall() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type logRecord struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	records []logRecord
}

func (c *captureLogger) add(level, msg string, args []any) {
	c.mu.Lock()
	c.records = append(c.records, logRecord{level: level, msg: msg, args: args})
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, args ...any) { c.add("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.add("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.add("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.add("error", msg, args) }

func (c *captureLogger) count(level string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.records {
		if r.level == level {
			n++
		}
	}
	return n
}

func columnStrings(t testing.TB, tbl *table.Table, name string) []string {
	t.Helper()
	values, ok := tbl.Strings(name)
	if !ok {
		t.Fatalf("column %s missing; have %v", name, tbl.Names())
	}
	return values
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
