package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seenimoa/finreport/api"
	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/pkg/utils"
)

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.API.Port = port
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		api.Version = version
		srv := api.NewServer(services())
		return srv.ListenAndServe(cmd.Context(), cfg.Addr())
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port override")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  finreport system status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time (CST):    %s\n", utils.NowCST().Format("2006-01-02 15:04:05"))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Listing URL:   %s\n", cfg.Source.ListingURL)
		if cfg.Source.FeedURL != "" {
			fmt.Printf("    Feed URL:      %s\n", cfg.Source.FeedURL)
		}
		fmt.Printf("    Pacing:        %s between requests, %d retries\n", cfg.Source.MinInterval, cfg.Source.MaxRetries)
		fmt.Printf("    Data dir:      %s\n", cfg.Storage.DataDir)
		fmt.Printf("    LLM Provider:  %s (model: %s)\n", cfg.LLM.Primary, cfg.LLM.Model)
		fmt.Printf("    API Server:    %s\n", cfg.Addr())
		fmt.Println()

		svc := services()
		if entities, err := svc.Store.Entities(); err == nil {
			total := 0
			for _, e := range entities {
				recs, _ := svc.Store.List(e, 0, 0)
				total += len(recs)
			}
			fmt.Printf("  Store:         %d reports for %d companies\n", total, len(entities))
			fmt.Println()
		}

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}
		if svc.LLM != nil {
			fmt.Printf("    %-25s %v\n", "Provider chain:", svc.LLM.ProviderNames())
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
