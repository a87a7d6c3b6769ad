package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"district-insights/internal/dataset"
	"district-insights/internal/repository"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

func TestIngestSource(t *testing.T) {
	repo := newFakeRepo()
	svc := NewIngestionService(repo, "leanm", logging.NewNopLogger(), metrics.NewTestCollector())

	body := districtCSV + "Gamma,3\n"
	result, err := svc.IngestSource(context.Background(), dataset.FileSource{Path: writeDataset(t, body)}, 2)
	require.NoError(t, err)

	assert.Equal(t, 6, result.TotalRecords)
	assert.Equal(t, 5, result.SuccessfulRecords)
	assert.Equal(t, 1, result.FailedRecords, "non-numeric math is rejected")
	assert.Equal(t, 1, result.SkippedRows, "short rows are skipped by the loader")
	assert.Equal(t, []int{2, 2, 1}, repo.batches)
	assert.Equal(t, []string{"leanm", "grade", "year", "math", "rla"}, result.Header)
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2018.csv"), []byte("leanm,grade,year,math,rla\nAlpha,3,2018,0.1,0.2\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2019.csv"), []byte("leanm,grade,year,math,rla,extra\nBeta,3,2019,0.3,0.4,y\nalpha,3,2019,0.5,,n\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	repo := newFakeRepo()
	svc := NewIngestionService(repo, "leanm", logging.NewNopLogger(), metrics.NewTestCollector())

	result, err := svc.IngestDirectory(context.Background(), dir, 100)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 3, result.SuccessfulRecords)
	assert.Equal(t, 2, result.Districts, "Alpha and alpha are one district")
	assert.Empty(t, result.Errors)

	names := make([]string, len(result.Schema))
	for i, c := range result.Schema {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"leanm", "grade", "year", "math", "rla", "extra"}, names)
	assert.Equal(t, "Float64", result.Schema[3].DType)
	assert.Equal(t, 1, result.Schema[4].Nulls)

	_, err = svc.IngestDirectory(context.Background(), t.TempDir(), 100)
	assert.Error(t, err)
}

func TestIngest_BatchFailureIsRecorded(t *testing.T) {
	repo := newFakeRepo()
	repo.batchErr = errors.New("connection reset")
	svc := NewIngestionService(repo, "leanm", logging.NewNopLogger(), metrics.NewTestCollector())

	result, err := svc.Ingest(context.Background(), []dataset.Source{dataset.FileSource{Path: writeDataset(t, districtCSV)}}, 10)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "connection reset")
	assert.Zero(t, result.SuccessfulRecords)
}

func TestStatisticsService(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	ingest := NewIngestionService(repo, "leanm", logging.NewNopLogger(), metrics.NewTestCollector())
	_, err := ingest.IngestSource(ctx, dataset.FileSource{Path: writeDataset(t, districtCSV)}, 100)
	require.NoError(t, err)

	stats := NewStatisticsService(repo, logging.NewNopLogger(), metrics.NewTestCollector())
	written, err := stats.CalculateAllStatistics(ctx)
	require.NoError(t, err)
	// Alpha 2019, alpha 2018, Alpha City 2019, Beta 2019
	assert.Equal(t, 4, written)

	district := "ALPHA"
	got, total, err := stats.GetStatistics(ctx, repository.StatisticsFilter{District: &district})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	for _, s := range got {
		if s.Year != 2019 {
			continue
		}
		require.NotNil(t, s.AvgMath)
		assert.InDelta(t, 0.065, *s.AvgMath, 1e-9)
		assert.Equal(t, 2, s.RowCount)
	}
}

func TestExplorerService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.explorer.Explore(ctx, "Alpha", TableQuery{
		Sort:    dataset.SortSpec{{Column: "math", Desc: true}},
		Limit:   2,
		Columns: []string{"year", "math"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, 2, view.PageCount)
	require.Len(t, view.Rows, 2)
	assert.Equal(t, "0.91", view.Rows[0].Get("math").String())
	require.Len(t, view.Columns, 2)
	assert.Equal(t, "year", view.Columns[0].Key)

	_, err = f.explorer.Explore(ctx, "Alpha", TableQuery{Page: 5})
	assert.ErrorIs(t, err, dataset.ErrPageOutOfRange)

	_, err = f.explorer.Explore(ctx, "Alpha", TableQuery{Columns: []string{"leanm"}})
	assert.Error(t, err)

	empty, err := f.explorer.Explore(ctx, "Nowhere", TableQuery{})
	require.NoError(t, err)
	assert.True(t, empty.Empty)
	assert.Equal(t, dataset.NoResults, empty.Message)
}

func TestExplorerService_LoadFailureYieldsEmptyTable(t *testing.T) {
	logger := logging.NewNopLogger()
	m := metrics.NewTestCollector()
	rows := NewCSVRows(dataset.FileSource{Path: filepath.Join(t.TempDir(), "missing.csv")}, "leanm", logger, m)
	explorer := NewExplorerService(rows, 0, logger, m)

	table, err := explorer.NewTable(context.Background(), "Alpha")
	require.Error(t, err)
	require.NotNil(t, table)
	assert.True(t, table.View().Empty)
}

func TestRepositoryRows(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	ingest := NewIngestionService(repo, "leanm", logging.NewNopLogger(), metrics.NewTestCollector())
	_, err := ingest.IngestSource(ctx, dataset.FileSource{Path: writeDataset(t, districtCSV)}, 100)
	require.NoError(t, err)

	rows, err := NewRepositoryRows(repo, "leanm").DistrictRows(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Alpha", rows[0].Get("leanm").String())
}
