package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seenimoa/finreport/internal/agent"
	"github.com/seenimoa/finreport/internal/analysis/fundamental"
	"github.com/seenimoa/finreport/internal/analysis/statement"
	"github.com/seenimoa/finreport/pkg/models"
	"github.com/seenimoa/finreport/pkg/utils"
)

// --- Fetch Command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch [code]",
	Short: "Download one report into the document store",
	Example: `  finreport fetch 600519 --year 2023
  finreport fetch sz000001 --year 2024 --kind q1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity(cmd, args[0])
		if err != nil {
			return err
		}
		rec, err := services().Fetcher.Fetch(cmd.Context(), id.EntityCode, id.FiscalYear, id.Kind)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(rec)
		}
		printRecord(rec)
		return nil
	},
}

func init() {
	reportFlags(fetchCmd)
	fetchCmd.Flags().Bool("json", false, "print the record as JSON")
}

// --- Fetch Range Command ---

var fetchRangeCmd = &cobra.Command{
	Use:   "fetch-range [code]",
	Short: "Download one report kind for a range of years",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetInt("from")
		to, _ := cmd.Flags().GetInt("to")
		kindFlag, _ := cmd.Flags().GetString("kind")
		kind, err := models.ParseReportKind(kindFlag)
		if err != nil {
			return err
		}
		if to == 0 {
			to = utils.DefaultYear(kind, utils.NowCST())
		}
		if from == 0 {
			from = to - 4
		}

		outcomes, err := services().Fetcher.FetchRange(cmd.Context(), args[0], from, to, kind)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(outcomes)
		}
		failed := 0
		for _, o := range outcomes {
			if o.Record != nil {
				fmt.Printf("  ok      %s  %s\n", o.Identity, o.Record.BinaryPath)
				continue
			}
			failed++
			fmt.Printf("  %-7s %s  %s\n", o.ErrorKind, o.Identity, o.Error)
		}
		fmt.Printf("\n%d of %d fetched\n", len(outcomes)-failed, len(outcomes))
		return nil
	},
}

func init() {
	fetchRangeCmd.Flags().Int("from", 0, "first fiscal year (default: five years back)")
	fetchRangeCmd.Flags().Int("to", 0, "last fiscal year (default: latest published)")
	fetchRangeCmd.Flags().String("kind", "annual", "report kind: annual, semi_annual, q1, q3")
	fetchRangeCmd.Flags().Bool("json", false, "print outcomes as JSON")
}

// --- List Command ---

var listCmd = &cobra.Command{
	Use:   "list [code]",
	Short: "List stored reports",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetInt("from")
		to, _ := cmd.Flags().GetInt("to")
		st := services().Store

		var entities []string
		if len(args) == 1 {
			code, err := utils.NormalizeStockCode(args[0])
			if err != nil {
				return err
			}
			entities = []string{code}
		} else {
			var err error
			if entities, err = st.Entities(); err != nil {
				return err
			}
		}

		var records []models.ReportRecord
		for _, e := range entities {
			recs, err := st.List(e, from, to)
			if err != nil {
				return err
			}
			records = append(records, recs...)
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("no stored reports")
			return nil
		}
		for _, r := range records {
			text := "-"
			if r.HasText() {
				text = "text"
			}
			fmt.Printf("  %-6s %d  %-11s %10s  %-4s  %s\n", r.Identity.EntityCode, r.Identity.FiscalYear,
				r.Identity.Kind, humanBytes(r.Size), text, r.CompanyName)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("from", 0, "first fiscal year")
	listCmd.Flags().Int("to", 0, "last fiscal year")
	listCmd.Flags().Bool("json", false, "print records as JSON")
}

// --- Extract Command ---

var extractCmd = &cobra.Command{
	Use:   "extract [code]",
	Short: "Extract the text of a stored report page by page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity(cmd, args[0])
		if err != nil {
			return err
		}
		svc := services()
		rec, err := svc.Store.Get(id)
		if err != nil {
			return err
		}
		pages, err := svc.Extractor.Extract(cmd.Context(), rec)
		if err != nil {
			return err
		}
		for _, p := range pages {
			if !p.OK() {
				fmt.Fprintf(os.Stderr, "  page %d: %s\n", p.PageNumber, p.Error)
			}
		}
		fmt.Printf("%s: %d of %d pages extracted\n", id, countOK(pages), len(pages))
		return nil
	},
}

func init() {
	reportFlags(extractCmd)
}

// --- Metrics Command ---

var metricsCmd = &cobra.Command{
	Use:   "metrics [code]",
	Short: "Show key line items and ratios of a report",
	Long: `Show key line items and ratios of a report, fetching and extracting it
first when needed. With --previous the line items are compared with an
earlier report of the same kind.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity(cmd, args[0])
		if err != nil {
			return err
		}
		svc := services()
		text, rec, err := reportText(cmd, svc.Fetcher, svc.Extractor, id)
		if err != nil {
			return err
		}
		m := statement.Extract(text)
		ratios := fundamental.ComputeRatios(m)

		var trends models.TrendSet
		if prev, _ := cmd.Flags().GetInt("previous"); prev != 0 {
			prevID := id
			prevID.FiscalYear = prev
			prevText, _, err := reportText(cmd, svc.Fetcher, svc.Extractor, prevID)
			if err != nil {
				return fmt.Errorf("previous period: %w", err)
			}
			trends = fundamental.CompareMetrics(m, statement.Extract(prevText))
		}
		health := fundamental.AssessFinancialHealth(ratios, trends)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(map[string]interface{}{
				"identity": rec.Identity,
				"metrics":  m,
				"ratios":   ratios,
				"trends":   trends,
				"health":   health,
			})
		}
		fmt.Printf("%s %s\n\n", rec.CompanyName, id)
		fmt.Println(fundamental.FormatFinancialSummary(m, ratios, health))
		if len(trends) > 0 {
			fmt.Println("\nPeriod over period:")
			for _, item := range models.AllLineItems {
				tr, ok := trends[item]
				if !ok || tr.Direction == "" {
					continue
				}
				pct := "n/a"
				if tr.ChangePercent.Computable {
					pct = utils.FormatPct(tr.ChangePercent.Value)
				}
				fmt.Printf("  %-24s %-4s %s\n", item, tr.Direction, pct)
			}
		}
		return nil
	},
}

func init() {
	reportFlags(metricsCmd)
	metricsCmd.Flags().Int("previous", 0, "compare with this earlier fiscal year")
	metricsCmd.Flags().Bool("json", false, "print as JSON")
}

// --- Risks Command ---

var risksCmd = &cobra.Command{
	Use:   "risks [code]",
	Short: "Print the risk section of a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity(cmd, args[0])
		if err != nil {
			return err
		}
		svc := services()
		text, _, err := reportText(cmd, svc.Fetcher, svc.Extractor, id)
		if err != nil {
			return err
		}
		limit := cfg.Extract.MaxRiskChars
		if limit <= 0 {
			limit = 4000
		}
		section := statement.ExtractRiskSection(text, limit)
		if section == "" {
			fmt.Println("no risk section found")
			return nil
		}
		fmt.Println(section)
		return nil
	},
}

func init() {
	reportFlags(risksCmd)
}

// --- Analyze Command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [code]",
	Short: "Fetch, measure and analyse a report with the configured chat model",
	Example: `  finreport analyze 600519 --year 2023
  finreport analyze 600519 --year 2023 --compare --previous 2021
  finreport analyze 600519 --year 2023 --advice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity(cmd, args[0])
		if err != nil {
			return err
		}
		model, _ := cmd.Flags().GetString("model")
		req := agent.Request{
			EntityCode: id.EntityCode,
			Year:       id.FiscalYear,
			Kind:       id.Kind,
			Model:      model,
		}

		analyst := services().Analyst
		var rep *agent.Report
		compare, _ := cmd.Flags().GetBool("compare")
		advice, _ := cmd.Flags().GetBool("advice")
		switch {
		case compare:
			prev, _ := cmd.Flags().GetInt("previous")
			rep, err = analyst.Compare(cmd.Context(), agent.CompareRequest{Request: req, PreviousYear: prev})
		case advice:
			rep, err = analyst.Advise(cmd.Context(), req)
		default:
			rep, err = analyst.Analyze(cmd.Context(), req)
		}
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(rep)
		}

		fmt.Printf("%s\n", rep.Identity)
		printStage("acquisition", rep.Acquisition)
		printStage("extraction", rep.Extraction)
		printStage("analysis", rep.Analysis)
		if rep.Metrics != nil && rep.Health != nil {
			fmt.Println()
			fmt.Println(fundamental.FormatFinancialSummary(*rep.Metrics, rep.Ratios, *rep.Health))
		}
		if len(rep.Trends) > 0 {
			fmt.Printf("Change since %d:\n", rep.Previous.Identity.FiscalYear)
			fmt.Println(fundamental.FormatTrendSummary(rep.Trends))
		}
		if rep.Text != "" {
			fmt.Println()
			fmt.Println(rep.Text)
		}
		if rep.Acquisition.Failed() {
			return fmt.Errorf("%s", rep.Acquisition.Error)
		}
		return nil
	},
}

func init() {
	reportFlags(analyzeCmd)
	analyzeCmd.Flags().String("model", "", "chat model override")
	analyzeCmd.Flags().Bool("json", false, "print the full report as JSON")
	analyzeCmd.Flags().Bool("compare", false, "compare with an earlier period of the same kind")
	analyzeCmd.Flags().Int("previous", 0, "year to compare with (default the year before)")
	analyzeCmd.Flags().Bool("advice", false, "ask for investment advice instead of a report reading")
	analyzeCmd.MarkFlagsMutuallyExclusive("compare", "advice")
}

// --- Helpers ---

// reportText fetches id if needed and returns its text.
func reportText(cmd *cobra.Command, f agent.Fetcher, texts agent.TextSource, id models.ReportIdentity) (string, models.ReportRecord, error) {
	rec, err := f.Fetch(cmd.Context(), id.EntityCode, id.FiscalYear, id.Kind)
	if err != nil {
		return "", models.ReportRecord{}, err
	}
	text, err := texts.EnsureText(cmd.Context(), rec)
	return text, rec, err
}

func printRecord(r models.ReportRecord) {
	fmt.Printf("%s %s\n", r.CompanyName, r.Identity)
	fmt.Printf("  title:     %s\n", r.Title)
	fmt.Printf("  source:    %s\n", r.SourceURL)
	fmt.Printf("  stored:    %s (%s)\n", r.BinaryPath, humanBytes(r.Size))
	fmt.Printf("  sha256:    %s\n", r.Checksum)
	fmt.Printf("  fetched:   %s\n", r.FetchedAt.In(utils.NowCST().Location()).Format("2006-01-02 15:04:05"))
}

func printStage(name string, s agent.Stage) {
	line := fmt.Sprintf("  %-12s %s", name+":", s.Status)
	if s.Failed() {
		line += fmt.Sprintf(" [%s] %s", s.ErrorKind, s.Error)
	}
	fmt.Println(line)
}

func countOK(pages []models.ExtractedPage) int {
	n := 0
	for _, p := range pages {
		if p.OK() {
			n++
		}
	}
	return n
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), strings.ToUpper("kmgtpe")[exp])
}

// --- Text Command ---

var textCmd = &cobra.Command{
	Use:   "text [code]",
	Short: "Print the extracted text of a stored report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity(cmd, args[0])
		if err != nil {
			return err
		}
		svc := services()
		text, err := svc.Store.ReadText(id)
		if errors.Is(err, models.ErrNotFound) {
			if extract, _ := cmd.Flags().GetBool("extract"); extract {
				var rec models.ReportRecord
				if rec, err = svc.Store.Get(id); err == nil {
					text, err = svc.Extractor.EnsureText(cmd.Context(), rec)
				}
			}
		}
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

func init() {
	reportFlags(textCmd)
	textCmd.Flags().Bool("extract", false, "extract the text first when it is missing")
}

// --- Models Command ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the chat models of the configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := services()
		if svc.LLM == nil {
			return fmt.Errorf("%w: no analysis provider configured", models.ErrAnalysisProvider)
		}
		byProvider := svc.LLM.ModelsByProvider()
		fmt.Printf("default model: %s\n", svc.Config.LLM.Model)
		for _, name := range svc.LLM.ProviderNames() {
			fmt.Printf("  %-10s %s\n", name, strings.Join(byProvider[name], ", "))
		}
		return nil
	},
}
