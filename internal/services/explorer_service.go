package services

import (
	"context"
	"fmt"

	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// TableQuery is one request against a district table
type TableQuery struct {
	Search string
	Sort   dataset.SortSpec
	Page   int
	Limit  int
	// Columns lists the visible display columns; empty shows all of them
	Columns []string
}

// ExplorerService builds and queries district tables
type ExplorerService struct {
	rows     RowProvider
	pageSize int
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewExplorerService creates a new explorer service
func NewExplorerService(rows RowProvider, pageSize int, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ExplorerService {
	if pageSize <= 0 {
		pageSize = dataset.DefaultPageSize
	}
	return &ExplorerService{
		rows:     rows,
		pageSize: pageSize,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// NewTable loads the rows of a district into a fresh table. A failed load
// still yields an empty table, alongside the error.
func (s *ExplorerService) NewTable(ctx context.Context, district string) (*dataset.Table, error) {
	rows, err := s.rows.DistrictRows(ctx, district)
	if err != nil {
		s.logger.Error(ctx, "[EXPLORE_LOAD_ERROR] Failed to load district rows", logging.Fields{
			"district": district,
		}, err)
		return dataset.NewTable(nil, s.pageSize), err
	}

	s.logger.Debug(ctx, "[EXPLORE_TABLE] District table built", logging.Fields{
		"district": district,
		"rows":     len(rows),
	})
	return dataset.NewTable(rows, s.pageSize), nil
}

// Apply runs q against table and renders the requested page. Page
// indexes past the last page are rejected and leave the table on its
// current page.
func (s *ExplorerService) Apply(table *dataset.Table, q TableQuery) (dataset.View, error) {
	if q.Limit > 0 {
		table.SetPageSize(q.Limit)
	}
	table.SetSearch(q.Search)
	table.SetSort(q.Sort)

	if err := setVisibleColumns(table, q.Columns); err != nil {
		return dataset.View{}, err
	}
	if err := table.GoToPage(q.Page); err != nil {
		return table.View(), fmt.Errorf("page %d of %d: %w", q.Page, table.PageCount(), err)
	}
	return table.View(), nil
}

// Explore loads a district and answers q in one call
func (s *ExplorerService) Explore(ctx context.Context, district string, q TableQuery) (dataset.View, error) {
	table, err := s.NewTable(ctx, district)
	if err != nil {
		return table.View(), err
	}
	return s.Apply(table, q)
}

func setVisibleColumns(table *dataset.Table, visible []string) error {
	show := make(map[string]bool, len(visible))
	for _, key := range visible {
		show[key] = true
	}
	for _, key := range visible {
		if err := table.SetColumnVisible(key, true); err != nil {
			return err
		}
	}
	for _, c := range models.DisplayColumns {
		if err := table.SetColumnVisible(c.Key, len(visible) == 0 || show[c.Key]); err != nil {
			return err
		}
	}
	return nil
}
