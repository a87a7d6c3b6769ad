package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/internal/repository"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// IngestionService loads district CSVs into the score store
type IngestionService struct {
	repo        repository.DistrictRepository
	entityField string
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles        int
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	SkippedRows       int
	Districts         int
	Schema            []dataset.ColumnSchema
	Duration          time.Duration
	Errors            []string
}

// FileIngestionResult contains per-source ingestion statistics
type FileIngestionResult struct {
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	SkippedRows       int
	Header            []string
	Rows              []models.Row
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.DistrictRepository, entityField string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:        repo,
		entityField: entityField,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// IngestDirectory ingests every *.csv file of a directory as one combined dataset
func (s *IngestionService) IngestDirectory(ctx context.Context, dataDir string, batchSize int) (*IngestionResult, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no data files found in %s", dataDir)
	}
	sort.Strings(files)

	sources := make([]dataset.Source, len(files))
	for i, f := range files {
		sources[i] = dataset.FileSource{Path: f}
	}
	return s.Ingest(ctx, sources, batchSize)
}

// Ingest loads each source in turn. A source that fails is recorded in
// the result and the rest still run.
func (s *IngestionService) Ingest(ctx context.Context, sources []dataset.Source, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()
	if batchSize <= 0 {
		batchSize = 1000
	}

	s.logger.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"sources":    len(sources),
		"batch_size": batchSize,
		"stage":      "INITIALIZATION",
	})

	result := &IngestionResult{
		TotalFiles: len(sources),
		Errors:     make([]string, 0),
	}

	var header []string
	var allRows []models.Row
	districts := make(map[string]struct{})

	for _, src := range sources {
		fileResult, err := s.IngestSource(ctx, src, batchSize)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", src, err))
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] Source ingestion failed", logging.Fields{
				"source": src.String(),
				"stage":  "FILE_PROCESSING",
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		result.TotalRecords += fileResult.TotalRecords
		result.SuccessfulRecords += fileResult.SuccessfulRecords
		result.FailedRecords += fileResult.FailedRecords
		result.SkippedRows += fileResult.SkippedRows
		header = mergeHeader(header, fileResult.Header)
		allRows = append(allRows, fileResult.Rows...)
		for _, name := range dataset.DistinctEntities(fileResult.Rows, s.entityField) {
			districts[dataset.Fold(name)] = struct{}{}
		}

		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] Source ingested successfully", logging.Fields{
			"source":             src.String(),
			"total_records":      fileResult.TotalRecords,
			"successful_records": fileResult.SuccessfulRecords,
			"failed_records":     fileResult.FailedRecords,
			"skipped_rows":       fileResult.SkippedRows,
			"stage":              "FILE_COMPLETE",
		})
	}

	result.Districts = len(districts)
	result.Schema = dataset.InferSchema(header, allRows)
	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", logging.Fields{
		"total_files":        result.TotalFiles,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"skipped_rows":       result.SkippedRows,
		"districts":          result.Districts,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
		"stage":              "COMPLETE",
	})

	return result, nil
}

// IngestSource loads one CSV source and writes its scores in batches
func (s *IngestionService) IngestSource(ctx context.Context, src dataset.Source, batchSize int) (*FileIngestionResult, error) {
	rows, err := dataset.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &FileIngestionResult{Header: rows.Header()}
	batch := make([]*models.DistrictScore, 0, batchSize)

	for row := range rows.All() {
		result.TotalRecords++
		result.Rows = append(result.Rows, row)

		score, err := models.ScoreFromRow(row, s.entityField)
		if err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("conversion_error")
			continue
		}

		batch = append(batch, score)
		if len(batch) >= batchSize {
			if err := s.repo.CreateScoresBatch(ctx, batch); err != nil {
				return nil, fmt.Errorf("failed to insert batch: %w", err)
			}
			result.SuccessfulRecords += len(batch)
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", src, err)
	}

	if len(batch) > 0 {
		if err := s.repo.CreateScoresBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to insert final batch: %w", err)
		}
		result.SuccessfulRecords += len(batch)
	}

	result.SkippedRows = rows.Skipped()
	s.metrics.RecordDatasetLoad(rows.Parsed(), rows.Skipped())
	if rows.Skipped() > 0 {
		s.metrics.RecordIngestionError("parse_error")
	}
	return result, nil
}

// mergeHeader appends the columns of next not already in header
func mergeHeader(header, next []string) []string {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[h] = true
	}
	for _, h := range next {
		if !seen[h] {
			header = append(header, h)
			seen[h] = true
		}
	}
	return header
}
