package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seenimoa/finreport/internal/analysis/fundamental"
	"github.com/seenimoa/finreport/internal/analysis/statement"
	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/pkg/models"
)

// Fetcher acquires a report record.
type Fetcher interface {
	Fetch(ctx context.Context, entity string, year int, kind models.ReportKind) (models.ReportRecord, error)
}

// TextSource returns the text of a stored report, extracting it if needed.
type TextSource interface {
	EnsureText(ctx context.Context, rec models.ReportRecord) (string, error)
}

// StageStatus is the outcome of one pipeline stage.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// Stage reports how one step of the pipeline went.
type Stage struct {
	Status    StageStatus   `json:"status"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func stageResult(err error, start time.Time) Stage {
	s := Stage{Status: StageOK, Duration: time.Since(start)}
	if err != nil {
		s.Status = StageFailed
		s.Error = err.Error()
		s.ErrorKind = models.ErrorKind(err)
	}
	return s
}

// Failed reports whether the stage ran and failed.
func (s Stage) Failed() bool { return s.Status == StageFailed }

// Request names the report to analyze.
type Request struct {
	EntityCode string            `json:"entity_code"`
	Year       int               `json:"year"`
	Kind       models.ReportKind `json:"kind"`
	Model      string            `json:"model,omitempty"`
}

// CompareRequest names a report and the earlier period of the same kind to
// compare it with.
type CompareRequest struct {
	Request
	PreviousYear int `json:"previous_year,omitempty"` // 0 means the year before
}

// Report is the analyst's result. Acquisition, extraction and analysis are
// reported separately: a report can be fetched and measured while its
// narrative analysis fails. For comparisons acquisition and extraction
// cover both periods.
type Report struct {
	Task        Task                         `json:"task"`
	Identity    models.ReportIdentity        `json:"identity"`
	Record      *models.ReportRecord         `json:"record,omitempty"`
	Acquisition Stage                        `json:"acquisition"`
	Extraction  Stage                        `json:"extraction"`
	Analysis    Stage                        `json:"analysis"`
	Metrics     *models.FinancialMetrics     `json:"metrics,omitempty"`
	Ratios      models.RatioSet              `json:"ratios,omitempty"`
	Health      *fundamental.FinancialHealth `json:"health,omitempty"`
	Risks       string                       `json:"risks,omitempty"`
	Text        string                       `json:"analysis_text,omitempty"`

	Previous        *models.ReportRecord     `json:"previous,omitempty"`
	PreviousMetrics *models.FinancialMetrics `json:"previous_metrics,omitempty"`
	Trends          models.TrendSet          `json:"trends,omitempty"`
}

// AnalystConfig wires an Analyst.
type AnalystConfig struct {
	Fetcher      Fetcher
	Texts        TextSource
	Provider     Provider // nil leaves analysis failed with an analysis provider error
	Logger       *slog.Logger
	MaxRiskChars int
}

// Analyst runs fetch, extraction, metrics, ratios and narrative analysis for
// one report.
type Analyst struct {
	fetcher      Fetcher
	texts        TextSource
	provider     Provider
	logger       *slog.Logger
	maxRiskChars int
}

// NewAnalyst creates an Analyst.
func NewAnalyst(cfg AnalystConfig) *Analyst {
	if cfg.MaxRiskChars <= 0 {
		cfg.MaxRiskChars = 4000
	}
	return &Analyst{
		fetcher:      cfg.Fetcher,
		texts:        cfg.Texts,
		provider:     cfg.Provider,
		logger:       infra.LoggerOrDefault(cfg.Logger).With("component", "analyst"),
		maxRiskChars: cfg.MaxRiskChars,
	}
}

// Analyze runs the pipeline. The returned error is non-nil only for invalid
// requests; every other failure is recorded on the stage it happened in and
// later stages are skipped.
func (a *Analyst) Analyze(ctx context.Context, req Request) (*Report, error) {
	return a.run(ctx, TaskReport, req, nil)
}

// Advise runs the pipeline and asks for investment advice instead of a
// report reading.
func (a *Analyst) Advise(ctx context.Context, req Request) (*Report, error) {
	return a.run(ctx, TaskAdvice, req, nil)
}

// Compare runs the pipeline for two periods of the same kind and asks for a
// comparison. Failing to acquire or extract either period fails that stage.
func (a *Analyst) Compare(ctx context.Context, req CompareRequest) (*Report, error) {
	prevYear := req.PreviousYear
	if prevYear == 0 {
		prevYear = req.Year - 1
	}
	if prevYear == req.Year {
		return nil, fmt.Errorf("%w: cannot compare %d with itself", models.ErrInvalidInput, req.Year)
	}
	prev := models.ReportIdentity{EntityCode: req.EntityCode, FiscalYear: prevYear, Kind: req.Kind}
	if err := prev.Validate(); err != nil {
		return nil, err
	}
	return a.run(ctx, TaskCompare, req.Request, &prev)
}

func (a *Analyst) run(ctx context.Context, task Task, req Request, prevID *models.ReportIdentity) (*Report, error) {
	id := models.ReportIdentity{EntityCode: req.EntityCode, FiscalYear: req.Year, Kind: req.Kind}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	rep := &Report{
		Task:       task,
		Identity:   id,
		Extraction: Stage{Status: StageSkipped},
		Analysis:   Stage{Status: StageSkipped},
	}
	log := a.logger.With("task", task, "entity", id.EntityCode, "year", id.FiscalYear, "kind", id.Kind)

	start := time.Now()
	rec, err := a.fetcher.Fetch(ctx, req.EntityCode, req.Year, req.Kind)
	var prev models.ReportRecord
	if err == nil && prevID != nil {
		prev, err = a.fetcher.Fetch(ctx, prevID.EntityCode, prevID.FiscalYear, prevID.Kind)
		if err != nil {
			err = fmt.Errorf("previous period %d: %w", prevID.FiscalYear, err)
		}
	}
	rep.Acquisition = stageResult(err, start)
	if err != nil {
		log.Warn("acquisition failed", "error", err)
		return rep, nil
	}
	rep.Record = &rec
	rep.Identity = rec.Identity
	if prevID != nil {
		rep.Previous = &prev
	}

	start = time.Now()
	text, err := a.texts.EnsureText(ctx, rec)
	var prevText string
	if err == nil && prevID != nil {
		prevText, err = a.texts.EnsureText(ctx, prev)
		if err != nil {
			err = fmt.Errorf("previous period %d: %w", prevID.FiscalYear, err)
		}
	}
	rep.Extraction = stageResult(err, start)
	if err != nil {
		log.Warn("extraction failed", "error", err)
		return rep, nil
	}

	metrics := statement.Extract(text)
	ratios := fundamental.ComputeRatios(metrics)
	if prevID != nil {
		prevMetrics := statement.Extract(prevText)
		rep.PreviousMetrics = &prevMetrics
		rep.Trends = fundamental.CompareMetrics(metrics, prevMetrics)
	}
	health := fundamental.AssessFinancialHealth(ratios, rep.Trends)
	rep.Metrics = &metrics
	rep.Ratios = ratios
	rep.Health = &health
	rep.Risks = statement.ExtractRiskSection(text, a.maxRiskChars)

	in := AnalysisInput{
		Task:        task,
		EntityCode:  rec.Identity.EntityCode,
		CompanyName: rec.CompanyName,
		Period:      period(rec.Identity),
		Text:        text,
		Metrics:     &metrics,
		Ratios:      ratios,
		Health:      &health,
		Risks:       rep.Risks,
		Model:       req.Model,
		Trends:      rep.Trends,
	}
	if prevID != nil {
		in.PreviousPeriod = period(prev.Identity)
	}

	start = time.Now()
	out, err := a.analyze(ctx, in)
	rep.Analysis = stageResult(err, start)
	if err != nil {
		log.Warn("analysis failed", "error", err)
		return rep, nil
	}
	rep.Text = out
	log.Info("report analyzed", "metrics_found", metrics.FoundCount(), "duration", time.Since(start))
	return rep, nil
}

func period(id models.ReportIdentity) string {
	return fmt.Sprintf("%d年%s", id.FiscalYear, id.Kind.Keyword())
}

func (a *Analyst) analyze(ctx context.Context, in AnalysisInput) (string, error) {
	if a.provider == nil {
		return "", fmt.Errorf("%w: no analysis provider configured", models.ErrAnalysisProvider)
	}
	out, err := a.provider.Analyze(ctx, in)
	if err != nil {
		return "", asProviderError(err)
	}
	return out, nil
}
