package dataset

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-insights/internal/models"
)

const sampleCSV = `leanm,grade,year,math,rla,subject
Alpha,3,2019,0.25,0.10,core
Alpha,4,2019,-0.12,0.33,core
ALPHA,5,2018,0.91,,core
Alpha City,3,2019,0.50,0.50,core
Beta,3,2019,0.01,0.02,core
Beta,4,br"oken,0.1,0.2,core
Beta,9,2017,0.09,0.19,core
`

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "AL_Dist.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func loadAll(t *testing.T, body string) ([]models.Row, *Rows) {
	t.Helper()
	rows, err := Load(context.Background(), FileSource{Path: writeCSV(t, body)})
	require.NoError(t, err)
	return rows.Collect(), rows
}

func TestLoad_DynamicTypingAndSkips(t *testing.T) {
	all, rows := loadAll(t, "leanm,grade,year,math,rla\nAlpha,3,2019,0.25,0.1\nAlpha,4\nBeta,5,2018,x,\n")

	require.Len(t, all, 2)
	assert.Equal(t, 1, rows.Skipped())
	assert.Equal(t, 2, rows.Parsed())
	assert.NoError(t, rows.Err())
	assert.Equal(t, []string{"leanm", "grade", "year", "math", "rla"}, rows.Header())

	grade, ok := all[0]["grade"].Float()
	assert.True(t, ok)
	assert.Equal(t, 3.0, grade)
	assert.Equal(t, models.KindString, all[1]["math"].Kind())
	assert.True(t, all[1]["rla"].IsNull())
}

func TestLoad_OneShot(t *testing.T) {
	rows, err := Load(context.Background(), FileSource{Path: writeCSV(t, sampleCSV)})
	require.NoError(t, err)

	first := rows.Collect()
	assert.NotEmpty(t, first)
	assert.Empty(t, rows.Collect(), "a second pass must yield nothing")
}

func TestLoad_EarlyStopClosesStream(t *testing.T) {
	rows, err := Load(context.Background(), FileSource{Path: writeCSV(t, sampleCSV)})
	require.NoError(t, err)

	n := 0
	for range rows.All() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
	assert.NoError(t, rows.Close())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(context.Background(), FileSource{Path: filepath.Join(t.TempDir(), "missing.csv")})
	assert.Error(t, err)

	_, err = Load(context.Background(), FileSource{Path: writeCSV(t, "")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestLoad_Cancelled(t *testing.T) {
	path := writeCSV(t, sampleCSV)
	ctx, cancel := context.WithCancel(context.Background())
	rows, err := Load(ctx, FileSource{Path: path})
	require.NoError(t, err)

	cancel()
	assert.Empty(t, rows.Collect())
	assert.ErrorIs(t, rows.Err(), context.Canceled)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/AL_Dist.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	src, err := ParseSource(srv.URL+"/data/AL_Dist.csv", srv.Client())
	require.NoError(t, err)
	assert.Equal(t, "http", src.Kind())

	rows, err := Load(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, rows.Collect(), 6)

	missing, err := ParseSource(srv.URL+"/nope.csv", srv.Client())
	require.NoError(t, err)
	_, err = Load(context.Background(), missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		uri      string
		wantKind string
		wantErr  bool
	}{
		{"./data/AL_Dist.csv", "file", false},
		{"/srv/AL_Dist.csv", "file", false},
		{"file:///srv/AL_Dist.csv", "file", false},
		{`C:\data\AL_Dist.csv`, "file", false},
		{"https://example.org/AL_Dist.csv", "http", false},
		{"s3://bucket/AL_Dist.csv", "", true},
		{"  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			src, err := ParseSource(tt.uri, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, src.Kind())
		})
	}
}

func TestSelectEntity(t *testing.T) {
	all, _ := loadAll(t, sampleCSV)

	alpha := SelectEntity(all, "leanm", "alpha")
	require.Len(t, alpha, 3, "exact case-insensitive match, Alpha City excluded")
	for _, row := range alpha {
		assert.Equal(t, "alpha", strings.ToLower(row.Get("leanm").String()))
	}

	again := SelectEntity(alpha, "leanm", "ALPHA")
	assert.Empty(t, cmp.Diff(alpha, again, cmp.Comparer(valueEqual)), "SelectEntity must be idempotent")

	assert.Empty(t, SelectEntity(all, "leanm", "Gamma"))
	assert.Empty(t, SelectEntity(all, "missing_field", "Alpha"))

	padded := []models.Row{{"leanm": models.ParseValue(" Alpha ")}}
	assert.Len(t, SelectEntity(padded, "leanm", "Alpha"), 1, "cells are trimmed when parsed")
}

func TestApplySearch(t *testing.T) {
	all, _ := loadAll(t, sampleCSV)
	rows := SelectEntity(all, "leanm", "Alpha")

	assert.Equal(t, rows, ApplySearch(rows, ""), "empty term is identity")

	got := ApplySearch(rows, "9")
	require.NotEmpty(t, got)
	for _, row := range got {
		assert.True(t, rowMatches(row, "9"), "row %v should contain 9", row)
	}
	assert.Len(t, got, 3, "2019, 2019 and 0.91")

	twice := ApplySearch(got, "9")
	assert.Empty(t, cmp.Diff(got, twice, cmp.Comparer(valueEqual)), "search must be idempotent")

	// the entity field is not a display column
	assert.Empty(t, ApplySearch(rows, "alph"))
	// hidden "subject" column is not searched either
	assert.Empty(t, ApplySearch(rows, "core"))
}

func TestApplySearch_CaseFolding(t *testing.T) {
	rows := []models.Row{
		{"grade": models.String("KINDERGARTEN")},
		{"grade": models.String("Straße")},
	}
	assert.Len(t, ApplySearch(rows, "kinder"), 1)
	assert.Len(t, ApplySearch(rows, "STRASSE"), 1, "full case folding maps ß to ss")
}

func TestDistinctEntities(t *testing.T) {
	all, _ := loadAll(t, sampleCSV)
	assert.Equal(t, []string{"Alpha", "Alpha City", "Beta"}, DistinctEntities(all, "leanm"))
}

func valueEqual(a, b models.Value) bool {
	return a.Kind() == b.Kind() && a.String() == b.String()
}

func TestParseSortSpec(t *testing.T) {
	spec, err := ParseSortSpec("math:desc, year")
	require.NoError(t, err)
	assert.Equal(t, SortSpec{{Column: "math", Desc: true}, {Column: "year"}}, spec)
	assert.Equal(t, "math:desc,year", spec.String())

	empty, err := ParseSortSpec("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseSortSpec("leanm")
	assert.Error(t, err)
	_, err = ParseSortSpec("math:sideways")
	assert.Error(t, err)
}

func TestSort(t *testing.T) {
	rows := []models.Row{
		{"grade": models.Number(10), "year": models.Number(2019), "math": models.Number(1)},
		{"grade": models.Number(9), "year": models.Number(2018), "math": models.Null()},
		{"grade": models.String("K"), "year": models.Number(2019), "math": models.Number(2)},
		{"grade": models.Number(9), "year": models.Number(2019), "math": models.Number(3)},
		{"grade": models.String("11"), "year": models.Number(2017), "math": models.Number(4)},
	}

	grades := func(rs []models.Row) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.Get("grade").String() + "/" + r.Get("year").String()
		}
		return out
	}

	byGrade := Sort(rows, SortSpec{{Column: "grade"}})
	assert.Equal(t, []string{"9/2018", "9/2019", "10/2019", "11/2017", "K/2019"}, grades(byGrade),
		"numeric comparison, numeric-looking strings included, text last, stable for ties")

	multi := Sort(rows, SortSpec{{Column: "year", Desc: true}, {Column: "grade"}})
	assert.Equal(t, []string{"9/2019", "10/2019", "K/2019", "9/2018", "11/2017"}, grades(multi))

	byMathDesc := Sort(rows, SortSpec{{Column: "math", Desc: true}})
	assert.Equal(t, "9/2018", grades(byMathDesc)[4], "nulls trail even when descending")

	assert.Equal(t, grades(rows), grades(Sort(rows, nil)), "empty spec keeps order")
	assert.Equal(t, "10", rows[0].Get("grade").String(), "input is not mutated")
}

func TestPaginate(t *testing.T) {
	rows := make([]models.Row, 23)
	for i := range rows {
		rows[i] = models.Row{"year": models.Number(float64(i))}
	}

	assert.Equal(t, 3, PageCount(len(rows), 10))
	assert.Equal(t, 0, PageCount(0, 10))

	var rebuilt []models.Row
	for p := 0; p < PageCount(len(rows), 10); p++ {
		page, err := Paginate(rows, 10, p)
		require.NoError(t, err)
		rebuilt = append(rebuilt, page...)
	}
	assert.Equal(t, rows, rebuilt, "pages concatenate to the full set exactly once each")

	_, err := Paginate(rows, 10, 3)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	_, err = Paginate(rows, 10, -1)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	_, err = Paginate(nil, 10, 0)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	_, err = Paginate(rows, 0, 0)
	assert.Error(t, err)
}

func TestInferSchema(t *testing.T) {
	all, rows := loadAll(t, sampleCSV)
	schema := InferSchema(rows.Header(), all)

	want := []ColumnSchema{
		{Name: "leanm", DType: "String"},
		{Name: "grade", DType: "Int64"},
		{Name: "year", DType: "Int64"},
		{Name: "math", DType: "Float64"},
		{Name: "rla", DType: "Float64", Nulls: 1},
		{Name: "subject", DType: "String"},
	}
	assert.Empty(t, cmp.Diff(want, schema))

	assert.Equal(t, "Null", InferSchema([]string{"empty"}, all)[0].DType)
}
