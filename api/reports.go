package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/seenimoa/finreport/internal/agent"
	"github.com/seenimoa/finreport/internal/analysis/fundamental"
	"github.com/seenimoa/finreport/internal/analysis/statement"
	"github.com/seenimoa/finreport/pkg/models"
)

// MetricsResponse carries the line items and ratios of one report.
type MetricsResponse struct {
	Identity models.ReportIdentity       `json:"identity"`
	Metrics  models.FinancialMetrics     `json:"metrics"`
	Found    int                         `json:"found"`
	Ratios   models.RatioSet             `json:"ratios"`
	Health   fundamental.FinancialHealth `json:"health"`
}

// TrendResponse compares a report with an earlier one of the same kind.
type TrendResponse struct {
	Current  models.ReportIdentity `json:"current"`
	Previous models.ReportIdentity `json:"previous"`
	Trends   models.TrendSet       `json:"trends"`
}

// parseKind defaults an empty kind to the annual report.
func parseKind(s string) (models.ReportKind, error) {
	if s == "" {
		return models.KindAnnual, nil
	}
	return models.ParseReportKind(s)
}

// analyzeStored extracts metrics and ratios from a stored report, producing
// its text first if needed.
func (s *Server) analyzeStored(ctx context.Context, rec models.ReportRecord) (MetricsResponse, error) {
	text, err := s.svc.Extractor.EnsureText(ctx, rec)
	if err != nil {
		return MetricsResponse{}, err
	}
	m := statement.Extract(text)
	ratios := fundamental.ComputeRatios(m)
	return MetricsResponse{
		Identity: rec.Identity,
		Metrics:  m,
		Found:    m.FoundCount(),
		Ratios:   ratios,
		Health:   fundamental.AssessFinancialHealth(ratios, nil),
	}, nil
}

func compareTrends(cur, prev MetricsResponse) models.TrendSet {
	return fundamental.CompareMetrics(cur.Metrics, prev.Metrics)
}

func riskSection(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 4000
	}
	return statement.ExtractRiskSection(text, maxChars)
}

func analystRequest(id models.ReportIdentity, model string) agent.Request {
	return agent.Request{
		EntityCode: id.EntityCode,
		Year:       id.FiscalYear,
		Kind:       id.Kind,
		Model:      model,
	}
}

// analysisParams parses the identity and the optional request body shared by
// the analysis routes.
func analysisParams(w http.ResponseWriter, r *http.Request) (models.ReportIdentity, AnalysisRequest, bool) {
	var req AnalysisRequest
	id, ok := identityParam(w, r)
	if !ok {
		return id, req, false
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return id, req, false
		}
	}
	return id, req, true
}

// handleDownload serves the stored document binary.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storedRecord(w, r)
	if !ok {
		return
	}
	data, err := s.svc.Store.ReadBinary(rec)
	if err != nil {
		writeKindError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(rec.BinaryPath)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Checksum-SHA256", rec.Checksum)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("download write failed", "report", rec.Identity.Key(), "error", err)
	}
}

// handleText returns the stored text artifact. It does not extract: a report
// without text answers not_found until POST .../extract has run.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storedRecord(w, r)
	if !ok {
		return
	}
	text, err := s.svc.Store.ReadText(rec.Identity)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{
		"identity": rec.Identity,
		"chars":    utf8.RuneCountInString(text),
		"text":     text,
	}})
}

func (s *Server) handleLLMModels(w http.ResponseWriter, r *http.Request) {
	var byProvider map[string][]string
	switch {
	case s.svc.LLM != nil:
		byProvider = s.svc.LLM.ModelsByProvider()
	case s.svc.Chat != nil:
		byProvider = map[string][]string{s.svc.Chat.Name(): s.svc.Chat.Models()}
	default:
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success:   false,
			Error:     "no analysis provider configured",
			ErrorKind: models.KindAnalysisError,
		})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{
		"default":   s.cfg.LLM.Model,
		"providers": byProvider,
	}})
}
