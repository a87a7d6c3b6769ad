package services

import (
	"context"
	"fmt"
	"time"

	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/internal/repository"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// StatisticsService calculates yearly district averages
type StatisticsService struct {
	repo    repository.DistrictRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(repo repository.DistrictRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StatisticsService {
	return &StatisticsService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CalculateAllStatistics recalculates the averages of every district and
// year and returns the number of rows written
func (s *StatisticsService) CalculateAllStatistics(ctx context.Context) (int, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[STATS_CALC_START] Starting statistics calculation", logging.Fields{
		"stage": "INITIALIZATION",
	})

	districts, err := s.repo.ListDistrictNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list districts: %w", err)
	}

	totalStats := 0
	seen := make(map[string]bool, len(districts))
	for _, district := range districts {
		// names differing only in case are one district
		if seen[dataset.Fold(district)] {
			continue
		}
		seen[dataset.Fold(district)] = true

		n, err := s.CalculateDistrict(ctx, district)
		if err != nil {
			s.logger.Error(ctx, "[STATS_DISTRICT_ERROR] Failed to calculate district statistics", logging.Fields{
				"district": district,
			}, err)
			continue
		}
		totalStats += n
	}

	duration := time.Since(startTime)
	s.logger.Info(ctx, "[STATS_CALC_COMPLETE] Statistics calculation completed", logging.Fields{
		"total_districts":  len(districts),
		"total_statistics": totalStats,
		"duration_seconds": duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return totalStats, nil
}

// CalculateDistrict recalculates the yearly averages of one district
func (s *StatisticsService) CalculateDistrict(ctx context.Context, district string) (int, error) {
	years, err := s.repo.ListYears(ctx, district)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, year := range years {
		stats, err := s.repo.CalculateYearlyStatistics(ctx, district, year)
		if err != nil {
			if repository.IsNotFound(err) {
				continue
			}
			s.logger.Error(ctx, "[STATS_CALC_ERROR] Failed to calculate statistics", logging.Fields{
				"district": district,
				"year":     year,
			}, err)
			continue
		}

		if err := s.repo.UpsertStatistics(ctx, stats); err != nil {
			s.logger.Error(ctx, "[STATS_SAVE_ERROR] Failed to save statistics", logging.Fields{
				"district": district,
				"year":     year,
			}, err)
			continue
		}
		written++
	}

	s.logger.Debug(ctx, "[STATS_DISTRICT_COMPLETE] District statistics calculated", logging.Fields{
		"district": district,
		"years":    written,
	})
	return written, nil
}

// GetStatistics retrieves statistics with filtering
func (s *StatisticsService) GetStatistics(ctx context.Context, filter repository.StatisticsFilter) ([]*models.DistrictStatistics, int, error) {
	return s.repo.GetStatistics(ctx, filter)
}
