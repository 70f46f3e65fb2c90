package bundle

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usqutils/internal/blob"
	"usqutils/internal/core"
	"usqutils/pkg/classifier"
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

func testContents(t *testing.T) core.StoreContents {
	t.Helper()
	cats := []string{string(domain.CategoryUCIndexHighQuality), string(domain.CategoryNonUCHighQuality)}
	tidy, err := table.New(
		table.NewColumn(domain.SampleIDColumn, table.StringType(), []any{"S1", "S2", "S3"}),
		table.NewColumn(domain.CategoryColumn, table.Categorical(cats, false), []any{cats[0], cats[0], cats[1]}),
		table.NewColumn("age", table.NumericType(), []any{61.5, nil, 70.0}),
		table.NewColumn("grade", table.Categorical([]string{"G1", "G2", "G3"}, true), []any{"G1", "G3", nil}),
		table.NewColumn("smoker", table.BooleanType(), []any{true, false, nil}),
		table.NewColumn("stage_n", table.IntegerType(), []any{int64(2), nil, int64(0)}),
		table.NewColumn("diagnosis_date", table.DateType(), []any{time.Date(2019, 4, 2, 0, 0, 0, 0, time.UTC), nil, time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)}),
		table.NewColumn("note", table.StringType(), []any{"has, comma", "quoted \"text\"", nil}),
	)
	require.NoError(t, err)
	raw, err := table.New(
		table.NewColumn(domain.RawSampleIDColumn, table.StringType(), []any{"S1", "S2", "S3"}),
		table.NewColumn(domain.RawCategoryColumn, table.StringType(), []any{"UC index HQ", "UC index HQ", "non-UC HQ"}),
		table.NewColumn(domain.RawPADColumn, table.StringType(), []any{"PAD_1", "PAD_2", "PAD_3"}),
	)
	require.NoError(t, err)
	pub, err := table.New(
		table.NewColumn(domain.SampleIDColumn, table.StringType(), []any{"S1", "S3"}),
		table.NewColumn("age", table.NumericType(), []any{61.5, 70.0}),
	)
	require.NoError(t, err)
	hq, err := table.NewMatrix([]string{"FGFR3", "KRT5"}, []string{"S1", "S2"}, [][]float64{{1.5, 0}, {12.25, 3e-5}})
	require.NoError(t, err)
	all, err := table.NewMatrix([]string{"FGFR3", "KRT5"}, []string{"S1", "S2", "S3"}, [][]float64{{1.5, 0, 7}, {12.25, 3e-5, 8}})
	require.NoError(t, err)
	return core.StoreContents{
		Version:     "2.1.0",
		Tidy:        tidy,
		Raw:         raw,
		Publication: pub,
		ChangeLog: domain.ChangeLogSnapshot{
			ColumnChanges: []domain.ColumnChange{{ID: "c1", OriginalName: "Grade", NewName: "grade", TargetType: "categorical", Levels: []string{"G1", "G2", "G3"}}},
		},
		Expressions: map[domain.ExpressionKey]*table.Matrix{
			{Tier: domain.TierHighQuality, Scheme: domain.GeneIDHGNC}: hq,
			{Tier: domain.TierAllSamples, Scheme: domain.GeneIDHGNC}:  all,
		},
	}
}

func testPredictions() *classifier.Result {
	return &classifier.Result{
		Predictions5: map[string]string{"S1": "Uro", "S2": "GU"},
		Predictions7: map[string]string{"S1": "UroA", "S2": "GU"},
		Scores:       map[string]map[string]float64{"S1": {"Uro": 0.8, "GU": 0.1}},
		Signatures:   map[string]classifier.Signature{"S1": {ProgressionRisk: "HR"}},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	want := testContents(t)

	manifest, err := Write(ctx, store, "cohort/v2", want, testPredictions())
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", manifest.Version)
	assert.Equal(t, []string{
		"change_log.json",
		"expression_all_samples_hgnc.tsv",
		"expression_high_quality_hgnc.tsv",
		"predictions.json",
		"publication.csv",
		"raw.csv",
		"tidy.csv",
	}, manifest.Files())
	for _, f := range append(manifest.Files(), ManifestKey) {
		ok, err := blob.Exists(ctx, store, "cohort/v2/"+f)
		require.NoError(t, err)
		assert.True(t, ok, f)
	}

	got, err := Read(ctx, store, "cohort/v2", 2)
	require.NoError(t, err)
	assert.Equal(t, manifest, got.Manifest)

	contents := got.Store.Contents()
	for name, pair := range map[string][2]*table.Table{
		"tidy":        {want.Tidy, contents.Tidy},
		"raw":         {want.Raw, contents.Raw},
		"publication": {want.Publication, contents.Publication},
	} {
		if diff := cmp.Diff(pair[0].Columns(), pair[1].Columns()); diff != "" {
			t.Fatalf("%s table mismatch (-want +got):\n%s", name, diff)
		}
	}
	if diff := cmp.Diff(want.Expressions, contents.Expressions, cmpopts.IgnoreUnexported(table.Matrix{})); diff != "" {
		t.Fatalf("expressions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, want.ChangeLog.ColumnChanges[0].ID, contents.ChangeLog.ColumnChanges[0].ID)
	assert.Equal(t, want.ChangeLog.ColumnChanges[0].Levels, contents.ChangeLog.ColumnChanges[0].Levels)
	require.NotNil(t, got.Predictions)
	assert.Equal(t, *testPredictions(), *got.Predictions)
}

func TestWriteWithoutPredictions(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	manifest, err := Write(ctx, store, "", testContents(t), nil)
	require.NoError(t, err)
	assert.Empty(t, manifest.Predictions)
	ok, err := blob.Exists(ctx, store, PredictionsKey)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := Read(ctx, store, "", 0)
	require.NoError(t, err)
	assert.Nil(t, got.Predictions)
}

func TestWriteRejectsMissingTable(t *testing.T) {
	c := testContents(t)
	c.Raw = nil
	_, err := Write(context.Background(), blob.NewMemory(), "x", c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw table required")
}

func TestReadMissingObject(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	_, err := Write(ctx, store, "b", testContents(t), nil)
	require.NoError(t, err)
	removed, err := store.Delete(ctx, "b/expression_high_quality_hgnc.tsv")
	require.NoError(t, err)
	require.True(t, removed)

	_, err = Read(ctx, store, "b", 4)
	require.ErrorIs(t, err, blob.ErrNotFound)
	assert.Contains(t, err.Error(), "expression_high_quality_hgnc.tsv")
}

func TestReadWithoutManifest(t *testing.T) {
	_, err := Read(context.Background(), blob.NewMemory(), "empty", 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle manifest")

	_, err = Read(context.Background(), nil, "empty", 4)
	assert.True(t, domain.IsConfigurationError(err))
}

func TestReadSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	_, err := Write(ctx, store, "", testContents(t), nil)
	require.NoError(t, err)
	// Objects are write-once; replace the table by removing it first.
	removed, err := store.Delete(ctx, "publication.csv")
	require.NoError(t, err)
	require.True(t, removed)
	_, err = blob.PutBytes(ctx, store, "publication.csv", []byte("sample_id,weight\nS1,3\n"), "text/csv", nil)
	require.NoError(t, err)

	_, err = Read(ctx, store, "", 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode publication table")
	assert.Contains(t, err.Error(), "column age missing from header")
}

func TestManifestValidate(t *testing.T) {
	base := func() Manifest {
		tables := make(map[string]TableEntry)
		for _, name := range TableNames() {
			tables[name] = TableEntry{File: name + ".csv", Columns: []ColumnSchema{{Name: "sample_id", Type: "string"}}}
		}
		return Manifest{Version: "1", Tables: tables, Expressions: []MatrixEntry{{Tier: domain.TierAllSamples, Scheme: domain.GeneIDHGNC, File: "m.tsv"}}}
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Manifest){
		"no version":    func(m *Manifest) { m.Version = "" },
		"missing table": func(m *Manifest) { delete(m.Tables, TableRaw) },
		"no columns":    func(m *Manifest) { m.Tables[TableTidy] = TableEntry{File: "tidy.csv"} },
		"bad tier":      func(m *Manifest) { m.Expressions[0].Tier = "medium" },
		"no file":       func(m *Manifest) { m.Expressions[0].File = "" },
		"duplicate":     func(m *Manifest) { m.Expressions = append(m.Expressions, m.Expressions[0]) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := base()
			mutate(&m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestDecodeMatrixErrors(t *testing.T) {
	_, err := DecodeMatrix(strings.NewReader(""))
	assert.ErrorContains(t, err, "empty matrix")

	_, err = DecodeMatrix(strings.NewReader("FGFR3\t1\n"))
	assert.ErrorContains(t, err, "malformed matrix header")
	_, err = DecodeMatrix(strings.NewReader("gene\n"))
	assert.ErrorContains(t, err, "malformed matrix header")

	_, err = DecodeMatrix(strings.NewReader("gene\tS1\tS2\nFGFR3\t1\n"))
	assert.ErrorContains(t, err, "line 2 has 2 fields")

	_, err = DecodeMatrix(strings.NewReader("gene\tS1\nFGFR3\tx\n"))
	assert.ErrorContains(t, err, "sample S1")

	m, err := DecodeMatrix(strings.NewReader("gene\tS1\r\nFGFR3\t2.5\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"FGFR3"}, m.Genes)
	assert.Equal(t, [][]float64{{2.5}}, m.Values)
}

func TestDecodeTableErrors(t *testing.T) {
	schema := []ColumnSchema{{Name: "sample_id", Type: "string"}, {Name: "grade", Type: "categorical", Levels: []string{"G1"}}}

	_, err := DecodeTable(strings.NewReader("sample_id\nS1\n"), schema)
	assert.ErrorContains(t, err, "header has 1 columns")

	_, err = DecodeTable(strings.NewReader("grade,sample_id\nG4,S1\n"), schema)
	assert.ErrorContains(t, err, "line 2 column grade")

	got, err := DecodeTable(strings.NewReader("grade,sample_id\nNA,S1\nG1,\n"), schema)
	require.NoError(t, err)
	assert.Equal(t, []string{"sample_id", "grade"}, got.Names())
	v, _ := got.Value(0, "grade")
	assert.Nil(t, v)
	v, _ = got.Value(1, "sample_id")
	assert.Nil(t, v)

	_, err = DecodeTable(strings.NewReader("sample_id,grade\n"), []ColumnSchema{{Name: "sample_id", Type: "blob"}, {Name: "grade", Type: "string"}})
	assert.ErrorContains(t, err, "unknown type")
}

func TestEncodeTableWritesMissingToken(t *testing.T) {
	tbl := table.MustNew(
		table.NewColumn("sample_id", table.StringType(), []any{"S1"}),
		table.NewColumn("age", table.NumericType(), []any{nil}),
	)
	var buf bytes.Buffer
	require.NoError(t, EncodeTable(&buf, tbl))
	assert.Equal(t, "sample_id,age\nS1,NA\n", buf.String())
}

type countingStore struct {
	blob.Store
	gets  atomic.Int64
	block chan struct{}
}

func (c *countingStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if c.block != nil && key == ManifestKey {
		<-c.block
	}
	c.gets.Add(1)
	return c.Store.Get(ctx, key)
}

func TestLoaderMemoisesFirstLoad(t *testing.T) {
	ctx := context.Background()
	inner := blob.NewMemory()
	_, err := Write(ctx, inner, "", testContents(t), nil)
	require.NoError(t, err)
	store := &countingStore{Store: inner, block: make(chan struct{})}
	loader := NewLoader(store, "", WithConcurrency(2))

	const callers = 8
	results := make([]*Bundle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := loader.Load(ctx)
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	close(store.block)
	wg.Wait()

	perLoad := store.gets.Load()
	// manifest + three tables + two matrices + change log
	assert.Equal(t, int64(7), perLoad)
	for _, b := range results[1:] {
		assert.Same(t, results[0], b)
	}

	again, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, results[0], again)
	assert.Equal(t, perLoad, store.gets.Load())

	loader.Reset()
	fresh, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.NotSame(t, results[0], fresh)
	assert.Equal(t, 2*perLoad, store.gets.Load())
}

func TestLoaderDoesNotCacheFailure(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	loader := NewLoader(store, "late")

	_, err := loader.Load(ctx)
	require.Error(t, err)

	_, err = Write(ctx, store, "late", testContents(t), nil)
	require.NoError(t, err)
	b, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", b.Store.Version())
}

type gatedStore struct {
	blob.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if key == ManifestKey {
		g.once.Do(func() { close(g.entered) })
		<-g.release
		if err := ctx.Err(); err != nil {
			return blob.Info{}, nil, err
		}
	}
	return g.Store.Get(ctx, key)
}

func TestLoaderSurvivesFirstCallerCancelling(t *testing.T) {
	inner := blob.NewMemory()
	_, err := Write(context.Background(), inner, "", testContents(t), nil)
	require.NoError(t, err)
	store := &gatedStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}
	loader := NewLoader(store, "")

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := loader.Load(first)
		firstErr <- err
	}()
	<-store.entered

	type result struct {
		b   *Bundle
		err error
	}
	second := make(chan result, 1)
	go func() {
		b, err := loader.Load(context.Background())
		second <- result{b, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(store.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "2.1.0", got.b.Store.Version())
}

func TestStringSentinelsReadBackAsMissing(t *testing.T) {
	tbl := table.MustNew(
		table.NewColumn("sample_id", table.StringType(), []any{"S1", "S2", "S3"}),
		table.NewColumn("note", table.StringType(), []any{"NA", "", "kept"}),
	)
	var buf bytes.Buffer
	require.NoError(t, EncodeTable(&buf, tbl))
	got, err := DecodeTable(&buf, SchemaOf(tbl))
	require.NoError(t, err)
	notes := got.Columns()[1].Values
	assert.Equal(t, []any{nil, nil, "kept"}, notes)
}
