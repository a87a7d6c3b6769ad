package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"district-insights/internal/config"
	"district-insights/internal/dataset"
	"district-insights/internal/repository"
	"district-insights/internal/services"
	"district-insights/pkg/database"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

func main() {
	// Parse command-line flags
	dataDir := flag.String("data-dir", "", "Directory of district CSV files to ingest instead of the configured dataset source")
	batchSize := flag.Int("batch-size", 1000, "Number of records to insert in each batch")
	calculateStats := flag.Bool("calculate-stats", false, "Calculate yearly district statistics after ingestion")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Database.Enabled() {
		fmt.Fprintln(os.Stderr, "The ingester needs a database, set DB_HOST")
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("district-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting district data ingestion", logging.Fields{
		"version":         "1.0.0",
		"data_dir":        *dataDir,
		"dataset_source":  cfg.Dataset.Source,
		"batch_size":      *batchSize,
		"calculate_stats": *calculateStats,
	})

	metricsCollector := metrics.NewCollector("district_ingester", prometheus.NewRegistry())

	db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	districtRepo := repository.NewDistrictRepository(db, logger, metricsCollector)
	ingestionService := services.NewIngestionService(districtRepo, cfg.Dataset.EntityField, logger, metricsCollector)
	statsService := services.NewStatisticsService(districtRepo, logger, metricsCollector)

	var result *services.IngestionResult
	if *dataDir != "" {
		result, err = ingestionService.IngestDirectory(ctx, *dataDir, *batchSize)
	} else {
		var src dataset.Source
		src, err = dataset.ParseSource(cfg.Dataset.Source, &http.Client{Timeout: 5 * time.Minute})
		if err == nil {
			result, err = ingestionService.Ingest(ctx, []dataset.Source{src}, *batchSize)
		}
	}
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"error": err.Error(),
		}, err)
	}

	printResult(result)

	if *calculateStats {
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Println("CALCULATING STATISTICS")
		fmt.Println(strings.Repeat("=", 80))

		written, err := statsService.CalculateAllStatistics(ctx)
		if err != nil {
			logger.Error(ctx, "[STATS_ERROR] Statistics calculation failed", logging.Fields{}, err)
			fmt.Printf("Statistics calculation failed: %v\n", err)
		} else {
			fmt.Printf("Statistics calculated for %d district years\n", written)
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed successfully", logging.Fields{
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"skipped_rows":       result.SkippedRows,
		"duration_seconds":   result.Duration.Seconds(),
	})
}

func printResult(result *services.IngestionResult) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Files:        %d\n", result.TotalFiles)
	fmt.Printf("Total Records:      %d\n", result.TotalRecords)
	fmt.Printf("Successful Records: %d\n", result.SuccessfulRecords)
	fmt.Printf("Failed Records:     %d\n", result.FailedRecords)
	fmt.Printf("Skipped Rows:       %d\n", result.SkippedRows)
	fmt.Printf("Districts:          %d\n", result.Districts)
	fmt.Printf("Duration:           %v\n", result.Duration)
	if secs := result.Duration.Seconds(); secs > 0 {
		fmt.Printf("Records/Second:     %.2f\n", float64(result.SuccessfulRecords)/secs)
	}

	fmt.Println("\nColumns:")
	for _, col := range result.Schema {
		fmt.Printf("  %-24s %-8s nulls=%d\n", col.Name, col.DType, col.Nulls)
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}
}
