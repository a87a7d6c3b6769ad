package services

import (
	"context"
	"fmt"
	"sync"

	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/internal/repository"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// RowProvider supplies the dataset rows of one district
type RowProvider interface {
	DistrictRows(ctx context.Context, name string) ([]models.Row, error)
}

// CSVRows serves district rows from a CSV source. The full dataset is
// loaded once and kept, so repeated selections do not refetch it.
type CSVRows struct {
	source      dataset.Source
	entityField string
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector

	mu  sync.Mutex
	all []models.Row
}

// NewCSVRows creates a CSV-backed provider
func NewCSVRows(source dataset.Source, entityField string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CSVRows {
	return &CSVRows{
		source:      source,
		entityField: entityField,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// All returns every row of the dataset, loading it on first use
func (p *CSVRows) All(ctx context.Context) ([]models.Row, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.all != nil {
		return p.all, nil
	}

	rows, err := dataset.Load(ctx, p.source)
	if err != nil {
		p.metrics.DatasetLoadErrors.WithLabelValues(p.source.Kind()).Inc()
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	all := rows.Collect()
	if err := rows.Err(); err != nil {
		p.metrics.DatasetLoadErrors.WithLabelValues(p.source.Kind()).Inc()
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	p.metrics.RecordDatasetLoad(rows.Parsed(), rows.Skipped())
	if rows.Skipped() > 0 {
		p.logger.Debug(ctx, "[DATASET_ROWS_SKIPPED] Malformed rows dropped", logging.Fields{
			"source":  p.source.String(),
			"skipped": rows.Skipped(),
		})
	}
	p.logger.Info(ctx, "[DATASET_LOADED] Dataset loaded", logging.Fields{
		"source": p.source.String(),
		"rows":   rows.Parsed(),
	})

	if all == nil {
		all = []models.Row{}
	}
	p.all = all
	return p.all, nil
}

// Reload drops the retained dataset
func (p *CSVRows) Reload() {
	p.mu.Lock()
	p.all = nil
	p.mu.Unlock()
}

// DistrictRows returns the rows whose entity field matches name
func (p *CSVRows) DistrictRows(ctx context.Context, name string) ([]models.Row, error) {
	all, err := p.All(ctx)
	if err != nil {
		return nil, err
	}
	return dataset.SelectEntity(all, p.entityField, name), nil
}

// RepositoryRows serves district rows from the district_scores table
type RepositoryRows struct {
	repo        repository.DistrictRepository
	entityField string
}

// NewRepositoryRows creates a database-backed provider
func NewRepositoryRows(repo repository.DistrictRepository, entityField string) *RepositoryRows {
	return &RepositoryRows{repo: repo, entityField: entityField}
}

// DistrictRows returns the persisted scores of name as dataset rows
func (p *RepositoryRows) DistrictRows(ctx context.Context, name string) ([]models.Row, error) {
	scores, _, err := p.repo.GetScores(ctx, repository.ScoreFilter{District: &name})
	if err != nil {
		return nil, err
	}
	rows := make([]models.Row, len(scores))
	for i, s := range scores {
		rows[i] = s.ToRow(p.entityField)
	}
	return rows, nil
}
