package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usqutils/internal/adapters/export"
	"usqutils/internal/blob"
	"usqutils/internal/bundle"
	"usqutils/internal/core"
	"usqutils/internal/infra/persistence/postgres"
	"usqutils/internal/infra/persistence/postgres/pgstub"
	"usqutils/pkg/classifier"
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// setupBundle writes a three sample cohort to a filesystem blob root and
// points the USQ_* environment at it.
func setupBundle(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	cats := []string{string(domain.CategoryUCIndexHighQuality), string(domain.CategoryNonUCHighQuality)}
	tidy := table.MustNew(
		table.NewColumn(domain.SampleIDColumn, table.StringType(), []any{"S1", "S2", "S3"}),
		table.NewColumn(domain.CategoryColumn, table.Categorical(cats, false), []any{cats[0], cats[0], cats[1]}),
		table.NewColumn(domain.PADColumn, table.StringType(), []any{"PAD_1", "PAD_2", "PAD_3"}),
		table.NewColumn("age", table.NumericType(), []any{61.0, 55.0, 70.0}),
	)
	raw := table.MustNew(
		table.NewColumn(domain.RawSampleIDColumn, table.StringType(), []any{"S1", "S2", "S3"}),
		table.NewColumn(domain.RawCategoryColumn, table.StringType(), []any{
			domain.CategoryUCIndexHighQuality.RawLabel(), domain.CategoryUCIndexHighQuality.RawLabel(), domain.CategoryNonUCHighQuality.RawLabel(),
		}),
		table.NewColumn(domain.RawPADColumn, table.StringType(), []any{"PAD_1", "PAD_2", "PAD_3"}),
	)
	pub := table.MustNew(
		table.NewColumn(domain.SampleIDColumn, table.StringType(), []any{"S1", "S2", "S3"}),
		table.NewColumn("age", table.NumericType(), []any{61.0, 55.0, 70.0}),
	)
	hq, err := table.NewMatrix([]string{"FGFR3", "KRT5"}, []string{"S1", "S2"}, [][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	all, err := table.NewMatrix([]string{"FGFR3", "KRT5"}, []string{"S1", "S2", "S3"}, [][]float64{{1, 2, 5}, {3, 4, 6}})
	require.NoError(t, err)

	fs, err := blob.NewFilesystem(root)
	require.NoError(t, err)
	_, err = bundle.Write(context.Background(), fs, "cohort", core.StoreContents{
		Version:     "2.1.0",
		Tidy:        tidy,
		Raw:         raw,
		Publication: pub,
		Expressions: map[domain.ExpressionKey]*table.Matrix{
			{Tier: domain.TierHighQuality, Scheme: domain.GeneIDHGNC}: hq,
			{Tier: domain.TierAllSamples, Scheme: domain.GeneIDHGNC}:  all,
		},
	}, &classifier.Result{
		Predictions5: map[string]string{"S1": "Uro", "S2": "GU", "S3": "BaSq"},
		Predictions7: map[string]string{"S1": "UroA", "S2": "GU", "S3": "BaSq"},
	})
	require.NoError(t, err)

	t.Setenv("USQ_CONFIG", "")
	t.Setenv("USQ_BLOB_DRIVER", "fs")
	t.Setenv("USQ_BLOB_FS_ROOT", root)
	t.Setenv("USQ_BUNDLE_PREFIX", "cohort")
	t.Setenv("USQ_CHANGELOG_DRIVER", "sqlite")
	t.Setenv("USQ_SQLITE_PATH", filepath.Join(t.TempDir(), "changes.db"))
	t.Setenv("USQ_LOG_LEVEL", "error")
	return root
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestMetadataFiltersByCategory(t *testing.T) {
	setupBundle(t)
	out, errOut, err := run(t, "metadata", "--category", "uc_index_high_quality")
	require.NoError(t, err)
	assert.Equal(t, "sample_id,category_group,pad_id,age\n"+
		"S1,uc_index_high_quality,PAD_1,61\n"+
		"S2,uc_index_high_quality,PAD_2,55\n", out)
	assert.Contains(t, errOut, "kept 2 of 3 samples")
}

func TestMetadataJoinsPrecomputedPredictions(t *testing.T) {
	setupBundle(t)
	out, _, err := run(t, "metadata", "--category", "uc_index_high_quality", "--run-classifier", "--format", "json")
	require.NoError(t, err)
	var doc struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc.Columns, domain.Subtype5Column)
	require.Len(t, doc.Rows, 2)
	assert.Equal(t, "Uro", doc.Rows[0][domain.Subtype5Column])
	assert.Equal(t, "GU", doc.Rows[1][domain.Subtype5Column])
}

func TestMetadataRejectsUnknownShape(t *testing.T) {
	setupBundle(t)
	_, _, err := run(t, "metadata", "--shape", "wide")
	assert.True(t, domain.IsConfigurationError(err))
}

func TestMetadataFullStoreSummary(t *testing.T) {
	setupBundle(t)
	out, _, err := run(t, "metadata", "--shape", "full_store")
	require.NoError(t, err)
	var s summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, "2.1.0", s.Version)
	assert.Equal(t, 3, s.Rows["raw"])
	assert.Equal(t, []string{"all_samples/hgnc", "high_quality/hgnc"}, s.Expressions)
}

func TestMetadataEverythingPrintsWholeBundle(t *testing.T) {
	setupBundle(t)
	out, errOut, err := run(t, "metadata", "--shape", "everything", "--category", "uc_index_high_quality")
	require.NoError(t, err)
	assert.Contains(t, errOut, "requires predictions")

	var doc export.EverythingDoc
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.NotNil(t, doc.Metadata)
	assert.Len(t, doc.Metadata.Rows, 2)
	assert.Contains(t, doc.Metadata.Columns, domain.Subtype5Column)
	require.NotNil(t, doc.Expressions)
	assert.Equal(t, []string{"gene", "S1", "S2"}, doc.Expressions.Columns)
	require.NotNil(t, doc.Predictions5)
	assert.Len(t, doc.Predictions5.Rows, 2)
	require.NotNil(t, doc.Predictions7)
	assert.Equal(t, domain.ShapeEverything, doc.Config.Shape)
	assert.True(t, doc.Config.RunClassifier)
	assert.Equal(t, "2.1.0", doc.Config.StoreVersion)
}

func TestMetadataStoreWritesArtifacts(t *testing.T) {
	root := setupBundle(t)
	out, _, err := run(t, "metadata", "--store", "--export-format", "csv,json", "--requested-by", "analyst")
	require.NoError(t, err)
	var rec export.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, export.StatusSucceeded, rec.Status)
	require.Len(t, rec.Artifacts, 2)

	fs, err := blob.NewFilesystem(root)
	require.NoError(t, err)
	data, err := blob.ReadAll(context.Background(), fs, rec.Artifacts[0].Key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "sample_id,category_group,pad_id,age\n"))
}

func TestExpressionsCommand(t *testing.T) {
	setupBundle(t)
	out, _, err := run(t, "expressions", "--tier", "high_quality")
	require.NoError(t, err)
	assert.Equal(t, "gene\tS1\tS2\nFGFR3\t1\t2\nKRT5\t3\t4\n", out)

	_, _, err = run(t, "expressions", "--tier", "medium")
	assert.True(t, domain.IsConfigurationError(err))
}

func TestPADCommand(t *testing.T) {
	setupBundle(t)
	out, errOut, err := run(t, "pad", "PAD_1", "PAD_3", "PAD_9")
	require.NoError(t, err)
	assert.Equal(t, "S1\n", out)
	assert.Contains(t, errOut, "from 3 PAD identifiers")

	out, _, err = run(t, "pad", "--all", "PAD_3")
	require.NoError(t, err)
	assert.Contains(t, out, "S3,non_uc_high_quality,PAD_3")

	_, _, err = run(t, "pad", "--table", "publication", "PAD_1")
	assert.True(t, domain.IsConfigurationError(err))
}

func TestEditCellPersistsAcrossInvocations(t *testing.T) {
	setupBundle(t)
	out, _, err := run(t, "edit-cell", "--id", "S2", "--column", "age", "--value", "57", "--reason", "chart review")
	require.NoError(t, err)
	var entry domain.CellUpdate
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, "S2", entry.SampleID)
	assert.Equal(t, []any{55.0}, entry.OldValues)
	assert.Equal(t, 57.0, entry.NewValue)

	out, _, err = run(t, "changelog")
	require.NoError(t, err)
	var view core.ChangeLogView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Session.CellUpdates, 1)
	assert.Equal(t, entry.ID, view.Session.CellUpdates[0].ID)
	assert.Equal(t, "chart review", view.Session.CellUpdates[0].Reason)
}

func TestEditCellValidation(t *testing.T) {
	setupBundle(t)
	_, _, err := run(t, "edit-cell", "--id", "S2", "--column", "age")
	assert.True(t, domain.IsConfigurationError(err))

	_, _, err = run(t, "edit-cell", "--id", "S2", "--column", "age", "--value", "1", "--missing")
	assert.True(t, domain.IsConfigurationError(err))

	_, _, err = run(t, "edit-cell", "--id", "S2", "--column", "category_group", "--value", "nonsense")
	assert.True(t, domain.IsValidationError(err))

	out, _, err := run(t, "edit-cell", "--id", "S1", "--column", "age", "--missing")
	require.NoError(t, err)
	assert.Contains(t, out, `"new_value": null`)
}

func TestMetricsDump(t *testing.T) {
	setupBundle(t)
	_, errOut, err := run(t, "--metrics", "metadata")
	require.NoError(t, err)
	assert.Contains(t, errOut, `usq_operation_total{operation="get_metadata",status="success"} 1`)
	assert.Contains(t, errOut, "usq_accessor_samples_kept_count 1")
	assert.NotContains(t, errOut, "go_goroutines")
}

func TestMissingBundleFails(t *testing.T) {
	setupBundle(t)
	t.Setenv("USQ_BUNDLE_PREFIX", "elsewhere")
	_, _, err := run(t, "changelog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load bundle elsewhere")
}

func TestFailedStartupClosesChangeLogStore(t *testing.T) {
	setupBundle(t)
	db, _ := pgstub.Open()
	t.Cleanup(postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil }))
	t.Setenv("USQ_CHANGELOG_DRIVER", "postgres")
	t.Setenv("USQ_POSTGRES_DSN", "postgres://stub")

	_, _, err := run(t, "--trace", filepath.Join(t.TempDir(), "missing", "trace.jsonl"), "changelog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open trace file")
	assert.ErrorContains(t, db.PingContext(context.Background()), "database is closed")
}

func TestTraceFileRecordsOperations(t *testing.T) {
	setupBundle(t)
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	_, _, err := run(t, "--trace", path, "metadata", "--category", "uc_index_high_quality")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ops []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry core.JSONTraceEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "success", entry.Status)
		ops = append(ops, entry.Operation)
	}
	assert.Equal(t, []string{"restore_change_log", "get_metadata"}, ops)
}
