package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"district-insights/internal/models"
	"district-insights/pkg/database"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// DistrictRepository provides data access for district scores, yearly
// statistics and adjustment submissions
type DistrictRepository interface {
	// Score operations
	CreateScoresBatch(ctx context.Context, scores []*models.DistrictScore) error
	GetScores(ctx context.Context, filter ScoreFilter) ([]*models.DistrictScore, int, error)
	ListDistrictNames(ctx context.Context) ([]string, error)
	ListYears(ctx context.Context, districtName string) ([]int, error)

	// Statistics operations
	UpsertStatistics(ctx context.Context, stats *models.DistrictStatistics) error
	GetStatistics(ctx context.Context, filter StatisticsFilter) ([]*models.DistrictStatistics, int, error)
	CalculateYearlyStatistics(ctx context.Context, districtName string, year int) (*models.DistrictStatistics, error)

	// Submission operations
	SaveSubmission(ctx context.Context, sub *models.Submission) error

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// ScoreFilter defines filters for querying district scores. District
// matches case-insensitively.
type ScoreFilter struct {
	District *string
	Year     *int
	Limit    int
	Offset   int
}

// StatisticsFilter defines filters for querying statistics
type StatisticsFilter struct {
	District *string
	Year     *int
	Limit    int
	Offset   int
}

// districtRepository implements DistrictRepository
type districtRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDistrictRepository creates a new district repository
func NewDistrictRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) DistrictRepository {
	return &districtRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const insertScoreQuery = `
	INSERT INTO district_scores (district_name, grade, year, math, rla, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (district_name, grade, year) DO UPDATE SET
		math = EXCLUDED.math,
		rla = EXCLUDED.rla
`

// CreateScoresBatch upserts scores in a single transaction
func (r *districtRepository) CreateScoresBatch(ctx context.Context, scores []*models.DistrictScore) error {
	if len(scores) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(scores)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"count":       len(scores),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertScoreQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range scores {
		_, err := stmt.ExecContext(ctx,
			s.DistrictName,
			s.Grade,
			s.Year,
			s.Math,
			s.RLA,
			s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert score for %s: %w", s.DistrictName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(scores)))
	return nil
}

// GetScores retrieves district scores with filtering and pagination
func (r *districtRepository) GetScores(ctx context.Context, filter ScoreFilter) ([]*models.DistrictScore, int, error) {
	q := newSelect(`
		SELECT id, district_name, grade, year, math, rla, created_at
		FROM district_scores
	`)
	if filter.District != nil {
		q.where("LOWER(district_name) = LOWER(?)", *filter.District)
	}
	if filter.Year != nil {
		q.where("year = ?", *filter.Year)
	}

	countQuery, countArgs := q.count()
	var total int
	if err := r.db.GetContext(ctx, "count_scores", &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count scores: %w", err)
	}

	query, args := q.orderBy("year DESC, grade NULLS LAST").page(filter.Limit, filter.Offset).build()

	var scores []*models.DistrictScore
	if err := r.db.SelectContext(ctx, "get_scores", &scores, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get scores: %w", err)
	}

	return scores, total, nil
}

// ListDistrictNames returns every district with at least one score
func (r *districtRepository) ListDistrictNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT district_name
		FROM district_scores
		ORDER BY district_name
	`

	var names []string
	if err := r.db.SelectContext(ctx, "list_districts", &names, query); err != nil {
		return nil, fmt.Errorf("failed to list districts: %w", err)
	}
	return names, nil
}

// ListYears returns the years with scores for a district, oldest first
func (r *districtRepository) ListYears(ctx context.Context, districtName string) ([]int, error) {
	query := `
		SELECT DISTINCT year
		FROM district_scores
		WHERE LOWER(district_name) = LOWER($1) AND year IS NOT NULL
		ORDER BY year
	`

	var years []int
	if err := r.db.SelectContext(ctx, "list_years", &years, query, districtName); err != nil {
		return nil, fmt.Errorf("failed to list years: %w", err)
	}
	return years, nil
}

// UpsertStatistics creates or updates the yearly averages of a district
func (r *districtRepository) UpsertStatistics(ctx context.Context, stats *models.DistrictStatistics) error {
	query := `
		INSERT INTO district_statistics (
			district_name, year, avg_math, avg_rla,
			row_count, valid_math_count, valid_rla_count,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (district_name, year) DO UPDATE SET
			avg_math = EXCLUDED.avg_math,
			avg_rla = EXCLUDED.avg_rla,
			row_count = EXCLUDED.row_count,
			valid_math_count = EXCLUDED.valid_math_count,
			valid_rla_count = EXCLUDED.valid_rla_count,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	err := r.db.DB().QueryRowContext(ctx, query,
		stats.DistrictName,
		stats.Year,
		stats.AvgMath,
		stats.AvgRLA,
		stats.RowCount,
		stats.ValidMath,
		stats.ValidRLA,
		stats.CreatedAt,
		stats.UpdatedAt,
	).Scan(&stats.ID)
	if err != nil {
		r.metrics.RecordDBError("upsert_statistics")
		return fmt.Errorf("failed to upsert statistics: %w", err)
	}

	return nil
}

// GetStatistics retrieves statistics with filtering and pagination
func (r *districtRepository) GetStatistics(ctx context.Context, filter StatisticsFilter) ([]*models.DistrictStatistics, int, error) {
	q := newSelect(`
		SELECT id, district_name, year, avg_math, avg_rla,
		       row_count, valid_math_count, valid_rla_count,
		       created_at, updated_at
		FROM district_statistics
	`)
	if filter.District != nil {
		q.where("LOWER(district_name) = LOWER(?)", *filter.District)
	}
	if filter.Year != nil {
		q.where("year = ?", *filter.Year)
	}

	countQuery, countArgs := q.count()
	var total int
	if err := r.db.GetContext(ctx, "count_statistics", &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count statistics: %w", err)
	}

	query, args := q.orderBy("year DESC, district_name").page(filter.Limit, filter.Offset).build()

	var stats []*models.DistrictStatistics
	if err := r.db.SelectContext(ctx, "get_statistics", &stats, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get statistics: %w", err)
	}

	return stats, total, nil
}

// CalculateYearlyStatistics averages the math and reading scores of a district for one year
func (r *districtRepository) CalculateYearlyStatistics(ctx context.Context, districtName string, year int) (*models.DistrictStatistics, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.StatsCalculationDuration.Observe(duration.Seconds())
		r.logger.Debug(ctx, "[REPO_CALC_STATS] Statistics calculated", logging.Fields{
			"district":    districtName,
			"year":        year,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	query := `
		SELECT
			COUNT(*) AS row_count,
			COUNT(math) AS valid_math_count,
			COUNT(rla) AS valid_rla_count,
			AVG(math) AS avg_math,
			AVG(rla) AS avg_rla
		FROM district_scores
		WHERE LOWER(district_name) = LOWER($1)
		  AND year = $2
	`

	var result struct {
		RowCount  int      `db:"row_count"`
		ValidMath int      `db:"valid_math_count"`
		ValidRLA  int      `db:"valid_rla_count"`
		AvgMath   *float64 `db:"avg_math"`
		AvgRLA    *float64 `db:"avg_rla"`
	}

	if err := r.db.GetContext(ctx, "calculate_statistics", &result, query, districtName, year); err != nil {
		return nil, fmt.Errorf("failed to calculate statistics: %w", err)
	}
	if result.RowCount == 0 {
		return nil, &NotFoundError{
			Resource: "district_scores",
			ID:       fmt.Sprintf("%s:%d", districtName, year),
		}
	}

	now := time.Now().UTC()
	return &models.DistrictStatistics{
		DistrictName: districtName,
		Year:         year,
		AvgMath:      result.AvgMath,
		AvgRLA:       result.AvgRLA,
		RowCount:     result.RowCount,
		ValidMath:    result.ValidMath,
		ValidRLA:     result.ValidRLA,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// SaveSubmission writes the audit record of an adjust-and-predict cycle
func (r *districtRepository) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	query := `
		INSERT INTO adjustment_submissions (
			id, session_id, district_name, feature_keys, payload,
			district_percent_increase, similar_districts_percent_increase, state_percent_increase,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var district, similar, state sql.NullString
	if p := sub.Prediction; p != nil {
		district = sql.NullString{String: p.DistrictPercentIncrease, Valid: p.DistrictPercentIncrease != ""}
		similar = sql.NullString{String: p.SimilarDistrictsPercentIncrease, Valid: p.SimilarDistrictsPercentIncrease != ""}
		state = sql.NullString{String: p.StatePercentIncrease, Valid: p.StatePercentIncrease != ""}
	}

	_, err := r.db.ExecContext(ctx, "insert_submission", query,
		sub.ID,
		sub.SessionID,
		sub.DistrictName,
		pq.Array(sub.FeatureKeys),
		[]byte(sub.Payload),
		district,
		similar,
		state,
		sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_SAVE_SUBMISSION] Submission saved", logging.Fields{
		"submission_id": sub.ID,
		"district":      sub.DistrictName,
		"features":      len(sub.FeatureKeys),
	})
	return nil
}

// HealthCheck performs a repository health check
func (r *districtRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}

// IsNotFound reports whether err is or wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// selectQuery accumulates WHERE clauses with "?" placeholders and renders
// them as numbered postgres parameters
type selectQuery struct {
	base    string
	clauses []string
	args    []interface{}
	order   string
	limit   int
	offset  int
}

func newSelect(base string) *selectQuery {
	return &selectQuery{base: strings.TrimSpace(base)}
}

func (q *selectQuery) where(clause string, args ...interface{}) *selectQuery {
	q.clauses = append(q.clauses, clause)
	q.args = append(q.args, args...)
	return q
}

func (q *selectQuery) orderBy(order string) *selectQuery {
	q.order = order
	return q
}

func (q *selectQuery) page(limit, offset int) *selectQuery {
	q.limit, q.offset = limit, offset
	return q
}

func (q *selectQuery) filtered() string {
	if len(q.clauses) == 0 {
		return q.base
	}
	return q.base + " WHERE " + strings.Join(q.clauses, " AND ")
}

// count renders the COUNT(*) form of the filtered query
func (q *selectQuery) count() (string, []interface{}) {
	query, _ := numberPlaceholders("SELECT COUNT(*) FROM ("+q.filtered()+") AS count_query", 1)
	return query, append(make([]interface{}, 0, len(q.args)), q.args...)
}

// build renders the filtered, ordered and paginated query
func (q *selectQuery) build() (string, []interface{}) {
	query, next := numberPlaceholders(q.filtered(), 1)
	args := append(make([]interface{}, 0, len(q.args)+2), q.args...)

	if q.order != "" {
		query += " ORDER BY " + q.order
	}
	if q.limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", next)
		args = append(args, q.limit)
		next++
	}
	if q.offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", next)
		args = append(args, q.offset)
	}
	return query, args
}

// numberPlaceholders replaces each "?" with $n starting at start and
// returns the next free number
func numberPlaceholders(query string, start int) (string, int) {
	var b strings.Builder
	n := start
	for _, r := range query {
		if r == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), n
}
