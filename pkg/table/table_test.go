package table

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(
		NewColumn("sample_id", StringType(), []any{"S1", "S2", "S3"}),
		NewColumn("grade", Categorical([]string{"LG", "HG"}, true), []any{"LG", "HG", nil}),
		NewColumn("age", IntegerType(), []any{int64(61), int64(70), int64(55)}),
	)
	require.NoError(t, err)
	return tbl
}

func TestNewRejectsRaggedAndDuplicateColumns(t *testing.T) {
	_, err := New(
		NewColumn("a", StringType(), []any{"x"}),
		NewColumn("b", StringType(), []any{"x", "y"}),
	)
	require.Error(t, err)

	_, err = New(
		NewColumn("a", StringType(), []any{"x"}),
		NewColumn("a", StringType(), []any{"y"}),
	)
	require.Error(t, err)
}

func TestFilterLeavesReceiverIntact(t *testing.T) {
	tbl := sampleTable(t)
	out := tbl.Filter(func(r int) bool {
		v, _ := tbl.Value(r, "grade")
		return v == "HG"
	})
	assert.Equal(t, 1, out.NumRows())
	assert.Equal(t, 3, tbl.NumRows())
	ids, _ := out.Strings("sample_id")
	assert.Equal(t, []string{"S2"}, ids)
}

func TestWithValueCopiesOnWrite(t *testing.T) {
	tbl := sampleTable(t)
	out, err := tbl.WithValue([]int{0, 2}, "age", int64(1))
	require.NoError(t, err)
	v, _ := tbl.Value(0, "age")
	assert.Equal(t, int64(61), v)
	v, _ = out.Value(2, "age")
	assert.Equal(t, int64(1), v)
}

func TestReplaceColumnRenames(t *testing.T) {
	tbl := sampleTable(t)
	col, _ := tbl.Column("age")
	col.Name = "age_at_diagnosis"
	out, err := tbl.ReplaceColumn("age", col)
	require.NoError(t, err)
	assert.Equal(t, []string{"sample_id", "grade", "age_at_diagnosis"}, out.Names())

	col.Name = "grade"
	_, err = tbl.ReplaceColumn("age", col)
	require.Error(t, err)
}

func TestLeftJoinKeepsUnmatchedRows(t *testing.T) {
	left := sampleTable(t)
	right := MustNew(
		NewColumn("id", StringType(), []any{"S3", "S1"}),
		NewColumn("subtype", Categorical([]string{"Uro", "GU"}, false), []any{"GU", "Uro"}),
		NewColumn("grade", StringType(), []any{"x", "y"}),
	)
	out, err := left.LeftJoin(right, "sample_id", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"sample_id", "age", "subtype", "grade"}, out.Names())
	subtypes, _ := out.Strings("subtype")
	assert.Equal(t, []string{"Uro", "", "GU"}, subtypes)
	grades, _ := out.Strings("grade")
	assert.Equal(t, []string{"y", "", "x"}, grades)
}

func TestLeftJoinRejectsDuplicateRightKeys(t *testing.T) {
	right := MustNew(NewColumn("id", StringType(), []any{"S1", "S1"}))
	_, err := sampleTable(t).LeftJoin(right, "sample_id", "id")
	require.Error(t, err)
}

func TestCoercePerKind(t *testing.T) {
	cases := []struct {
		name    string
		typ     ColumnType
		in      any
		want    any
		wantErr bool
	}{
		{"string from int", StringType(), 5, "5", false},
		{"categorical level", Categorical([]string{"LR", "HR"}, false), "HR", "HR", false},
		{"categorical unknown", Categorical([]string{"LR", "HR"}, false), "MR", nil, true},
		{"boolean literal", BooleanType(), true, true, false},
		{"boolean text", BooleanType(), "FALSE", false, false},
		{"boolean other", BooleanType(), "yes", nil, true},
		{"numeric text", NumericType(), " 2.5 ", 2.5, false},
		{"numeric junk", NumericType(), "abc", nil, true},
		{"integer integral float", IntegerType(), 4.0, int64(4), false},
		{"integer fraction", IntegerType(), 4.5, nil, true},
		{"integer above int64", IntegerType(), "1e19", nil, true},
		{"integer at 2^63", IntegerType(), 9.223372036854775808e18, nil, true},
		{"integer below int64", IntegerType(), -1e19, nil, true},
		{"integer at min int64", IntegerType(), -9.223372036854775808e18, int64(math.MinInt64), false},
		{"date text", DateType(), "2020-02-29", time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC), false},
		{"date junk", DateType(), "29/02/2020", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.typ.Coerce(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				var ce *CoercionError
				require.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("coerce mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCoerceAcceptsMissingForEveryKind(t *testing.T) {
	for _, typ := range []ColumnType{StringType(), Categorical([]string{"a"}, false), BooleanType(), NumericType(), IntegerType(), DateType()} {
		got, err := typ.Coerce(nil)
		require.NoError(t, err, typ.String())
		assert.Nil(t, got)
	}
}

func TestParseKindAliases(t *testing.T) {
	k, ok := ParseKind("Factor")
	require.True(t, ok)
	assert.Equal(t, KindCategorical, k)
	_, ok = ParseKind("complex")
	assert.False(t, ok)
	assert.Contains(t, KindTokens(), "logical")
}

func TestMatrixSelectSamples(t *testing.T) {
	m, err := NewMatrix([]string{"FGFR3", "KRT5"}, []string{"S1", "S2", "S3"}, [][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	sub, missing := m.SelectSamples([]string{"S3", "S9", "S1", "S3"})
	assert.Equal(t, []string{"S3", "S1"}, sub.Samples)
	assert.Equal(t, []string{"S9"}, missing)
	assert.Equal(t, [][]float64{{3, 1}, {6, 4}}, sub.Values)
	col, ok := m.SampleValues("S2")
	require.True(t, ok)
	assert.Equal(t, []float64{2, 5}, col)
}

func TestMatrixCheckNonNegative(t *testing.T) {
	m, err := NewMatrix([]string{"G"}, []string{"S1"}, [][]float64{{-0.5}})
	require.NoError(t, err)
	require.Error(t, m.CheckNonNegative())
	_, err = NewMatrix([]string{"G"}, []string{"S1", "S1"}, [][]float64{{1, 2}})
	require.Error(t, err)
}
