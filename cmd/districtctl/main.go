// Command districtctl explores district data and runs adjustment
// predictions from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"district-insights/internal/app"
	"district-insights/internal/config"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// cli carries the flags and the services built from them
type cli struct {
	backendURL string
	dataset    string
	logLevel   string
	timeout    time.Duration

	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "districtctl",
		Short: "Explore district performance data and predict adjustment outcomes",
		Long: `districtctl talks to the same prediction backend and dataset as the
district insights server.

Available subcommands:
  districts - List the districts the backend can predict for
  explore   - Search, sort and page through a district's rows
  adjust    - Select a district, submit adjustments and print the prediction`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app != nil {
				return c.app.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.backendURL, "backend", "", "Prediction backend base URL (default from BACKEND_URL)")
	root.PersistentFlags().StringVar(&c.dataset, "dataset", "", "Dataset path, URL or \"database\" (default from DATASET_SOURCE)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "error", "Log level written to stderr")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "Backend call timeout")

	root.AddCommand(c.districtsCmd(), c.exploreCmd(), c.adjustCmd())
	return root
}

// setup loads the configuration, applies flag overrides and builds the services
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.backendURL != "" {
		cfg.Backend.BaseURL = c.backendURL
	}
	if c.dataset != "" {
		cfg.Dataset.Source = c.dataset
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Backend.Timeout = c.timeout
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewStructuredLogger("districtctl", "1.0.0", logging.ParseLevel(c.logLevel))
	logger.SetOutput(cmd.ErrOrStderr())

	a, err := app.New(cmd.Context(), cfg, logger, metrics.NewCollector("districtctl", prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
