// finreport fetches, stores and analyses periodic reports of companies
// listed in mainland China.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seenimoa/finreport/internal/app"
	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/pkg/models"
	"github.com/seenimoa/finreport/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and logger, set by the root command.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "finreport",
	Short: "Fetch and analyse periodic reports of A-share companies",
	Long: `finreport downloads annual, semi-annual and quarterly reports from
cninfo, keeps them in a local document store, extracts their text and key
line items, computes financial ratios and asks a chat model for a
narrative analysis.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			cfg.Storage.DataDir = dir
		}
		logger = infra.NewLogger(cfg.Logging)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("data-dir", "", "document store directory override")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(fetchRangeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(textCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(risksCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(modelsCmd)
}

// exitCode maps the error taxonomy to process exit codes.
func exitCode(err error) int {
	switch models.ErrorKind(err) {
	case models.KindInvalidInput:
		return 2
	case models.KindNotFound:
		return 3
	case models.KindNetworkError, models.KindClientError:
		return 4
	case models.KindExtractionFailed:
		return 5
	case models.KindAnalysisError:
		return 6
	}
	return 1
}

func services() *app.Services {
	return app.New(cfg, logger)
}

// reportFlags registers --year and --kind on cmd.
func reportFlags(cmd *cobra.Command) {
	cmd.Flags().Int("year", 0, "fiscal year (default: latest published for the kind)")
	cmd.Flags().String("kind", "annual", "report kind: annual, semi_annual, q1, q3")
}

// identity resolves the code argument and the --year/--kind flags.
func identity(cmd *cobra.Command, code string) (models.ReportIdentity, error) {
	norm, err := utils.NormalizeStockCode(code)
	if err != nil {
		return models.ReportIdentity{}, err
	}
	kindFlag, _ := cmd.Flags().GetString("kind")
	kind, err := models.ParseReportKind(kindFlag)
	if err != nil {
		return models.ReportIdentity{}, err
	}
	year, _ := cmd.Flags().GetInt("year")
	if year == 0 {
		year = utils.DefaultYear(kind, utils.NowCST())
	}
	id := models.ReportIdentity{EntityCode: norm, FiscalYear: year, Kind: kind}
	return id, id.Validate()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("finreport %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}
