// Package api provides the HTTP JSON API for finreport.
//
// It exposes endpoints to fetch and list stored reports, extract their text,
// read metrics, ratios, trends and risk sections, request narrative
// analyses, and a WebSocket stream of fetch progress events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/finreport/internal/agent"
	"github.com/seenimoa/finreport/internal/app"
	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/pkg/models"
	"github.com/seenimoa/finreport/pkg/utils"
)

// Version is reported by /health; set by the binary at startup.
var Version = "dev"

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	svc    *app.Services
	wsHub  *WSHub
	logger *slog.Logger
}

// NewServer creates a configured API server with all routes and middleware.
// Fetch events from svc are broadcast to WebSocket clients.
func NewServer(svc *app.Services) *Server {
	srv := &Server{
		cfg:    svc.Config,
		svc:    svc,
		wsHub:  NewWSHub(),
		logger: infra.LoggerOrDefault(svc.Logger).With("component", "api"),
	}
	svc.Subscribe(srv.wsHub.FetchObserver())
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// ListenAndServe starts the HTTP server and shuts it down gracefully on
// SIGINT/SIGTERM or when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // analysis of a long report can be slow
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.wsHub.Run(hubCtx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Analysis waits on a chat model and gets a longer budget.
		fetchTimeout := middleware.Timeout(5 * time.Minute)
		analysisTimeout := middleware.Timeout(10 * time.Minute)

		r.With(fetchTimeout).Post("/reports", s.handleFetch)
		r.With(fetchTimeout).Post("/reports/bulk", s.handleFetchRange)
		r.Get("/reports", s.handleList)

		r.Route("/reports/{code}/{year}/{kind}", func(r chi.Router) {
			r.Get("/", s.handleGetReport)
			r.Get("/download", s.handleDownload)
			r.Get("/text", s.handleText)
			r.With(fetchTimeout).Post("/extract", s.handleExtract)
			r.With(fetchTimeout).Get("/metrics", s.handleMetrics)
			r.With(fetchTimeout).Get("/trend", s.handleTrend)
			r.With(fetchTimeout).Get("/risks", s.handleRisks)
			r.With(analysisTimeout).Post("/analysis", s.handleAnalysis)
			r.With(analysisTimeout).Post("/compare", s.handleCompare)
			r.With(analysisTimeout).Post("/advice", s.handleAdvice)
		})

		r.Get("/llm/health", s.handleLLMHealth)
		r.Get("/llm/models", s.handleLLMModels)
		r.Get("/config", s.handleGetConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)
	})

	return r
}

// ============================================================
// Request/Response Types
// ============================================================

// APIResponse is the standard API response envelope.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
}

// FetchRequest is the body of POST /api/v1/reports.
type FetchRequest struct {
	EntityCode string `json:"entity_code"`
	Year       int    `json:"year"`
	Kind       string `json:"kind"`
}

// FetchRangeRequest is the body of POST /api/v1/reports/bulk.
type FetchRangeRequest struct {
	EntityCode string `json:"entity_code"`
	FromYear   int    `json:"from_year"`
	ToYear     int    `json:"to_year"`
	Kind       string `json:"kind"`
}

// AnalysisRequest is the body of POST .../analysis, .../compare and
// .../advice. PreviousYear applies to comparisons only; 0 means the year
// before.
type AnalysisRequest struct {
	Model        string `json:"model,omitempty"`
	PreviousYear int    `json:"previous_year,omitempty"`
}

// ExtractResponse summarises a text extraction.
type ExtractResponse struct {
	Record      models.ReportRecord `json:"record"`
	Pages       int                 `json:"pages"`
	OK          int                 `json:"ok"`
	FailedPages []int               `json:"failed_pages,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":     "ok",
			"version":    Version,
			"time_cst":   utils.NowCST().Format(time.RFC3339),
			"ws_clients": s.wsHub.ClientCount(),
			"analysis":   s.svc.LLM != nil,
		},
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeKindError(w, err)
		return
	}

	rec, err := s.svc.Fetcher.Fetch(r.Context(), req.EntityCode, req.Year, kind)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rec})
}

func (s *Server) handleFetchRange(w http.ResponseWriter, r *http.Request) {
	var req FetchRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeKindError(w, err)
		return
	}

	outcomes, err := s.svc.Fetcher.FetchRange(r.Context(), req.EntityCode, req.FromYear, req.ToYear, kind)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: outcomes})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := optionalInt(q.Get("from_year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from_year must be a number")
		return
	}
	to, err := optionalInt(q.Get("to_year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to_year must be a number")
		return
	}

	var entities []string
	if code := q.Get("entity_code"); code != "" {
		norm, err := utils.NormalizeStockCode(code)
		if err != nil {
			writeKindError(w, err)
			return
		}
		entities = []string{norm}
	} else if entities, err = s.svc.Store.Entities(); err != nil {
		writeKindError(w, err)
		return
	}

	records := []models.ReportRecord{}
	for _, e := range entities {
		recs, err := s.svc.Store.List(e, from, to)
		if err != nil {
			writeKindError(w, err)
			return
		}
		records = append(records, recs...)
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: records})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storedRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rec})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storedRecord(w, r)
	if !ok {
		return
	}

	pages, err := s.svc.Extractor.Extract(r.Context(), rec)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if updated, err := s.svc.Store.Get(rec.Identity); err == nil {
		rec = updated
	}

	resp := ExtractResponse{Record: rec, Pages: len(pages)}
	for _, p := range pages {
		if p.OK() {
			resp.OK++
		} else {
			resp.FailedPages = append(resp.FailedPages, p.PageNumber)
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storedRecord(w, r)
	if !ok {
		return
	}
	a, err := s.analyzeStored(r.Context(), rec)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: a})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storedRecord(w, r)
	if !ok {
		return
	}

	prevYear := rec.Identity.FiscalYear - 1
	if p := r.URL.Query().Get("previous"); p != "" {
		y, err := strconv.Atoi(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "previous must be a year")
			return
		}
		prevYear = y
	}
	prevID := rec.Identity
	prevID.FiscalYear = prevYear
	prev, err := s.svc.Store.Get(prevID)
	if err != nil {
		writeKindError(w, fmt.Errorf("previous period: %w", err))
		return
	}

	cur, err := s.analyzeStored(r.Context(), rec)
	if err != nil {
		writeKindError(w, err)
		return
	}
	old, err := s.analyzeStored(r.Context(), prev)
	if err != nil {
		writeKindError(w, fmt.Errorf("previous period: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: TrendResponse{
		Current:  rec.Identity,
		Previous: prev.Identity,
		Trends:   compareTrends(cur, old),
	}})
}

func (s *Server) handleRisks(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storedRecord(w, r)
	if !ok {
		return
	}
	text, err := s.svc.Extractor.EnsureText(r.Context(), rec)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{
		"identity": rec.Identity,
		"risks":    riskSection(text, s.cfg.Extract.MaxRiskChars),
	}})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id, req, ok := analysisParams(w, r)
	if !ok {
		return
	}
	rep, err := s.svc.Analyst.Analyze(r.Context(), analystRequest(id, req.Model))
	writeAnalystReport(w, rep, err)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	id, req, ok := analysisParams(w, r)
	if !ok {
		return
	}
	rep, err := s.svc.Analyst.Compare(r.Context(), agent.CompareRequest{
		Request:      analystRequest(id, req.Model),
		PreviousYear: req.PreviousYear,
	})
	writeAnalystReport(w, rep, err)
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	id, req, ok := analysisParams(w, r)
	if !ok {
		return
	}
	rep, err := s.svc.Analyst.Advise(r.Context(), analystRequest(id, req.Model))
	writeAnalystReport(w, rep, err)
}

// writeAnalystReport answers with the acquisition status when acquisition
// failed; extraction and analysis failures are reported inside a
// successful response.
func writeAnalystReport(w http.ResponseWriter, rep *agent.Report, err error) {
	if err != nil {
		writeKindError(w, err)
		return
	}
	if rep.Acquisition.Failed() {
		writeJSON(w, statusForKind(rep.Acquisition.ErrorKind), APIResponse{
			Success:   false,
			Data:      rep,
			Error:     rep.Acquisition.Error,
			ErrorKind: rep.Acquisition.ErrorKind,
		})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rep})
}

func (s *Server) handleLLMHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.LLM == nil {
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success:   false,
			Error:     "no analysis provider configured",
			ErrorKind: models.KindAnalysisError,
		})
		return
	}
	status := make(map[string]string)
	for name, err := range s.svc.LLM.HealthCheck(r.Context()) {
		if err != nil {
			status[name] = err.Error()
		} else {
			status[name] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{
		"chain":     s.svc.LLM.ProviderNames(),
		"providers": status,
	}})
}

// ============================================================
// Helpers
// ============================================================

// identityParam parses {code}/{year}/{kind} from the URL.
func identityParam(w http.ResponseWriter, r *http.Request) (models.ReportIdentity, bool) {
	code, err := utils.NormalizeStockCode(chi.URLParam(r, "code"))
	if err != nil {
		writeKindError(w, err)
		return models.ReportIdentity{}, false
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be a number")
		return models.ReportIdentity{}, false
	}
	kind, err := models.ParseReportKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeKindError(w, err)
		return models.ReportIdentity{}, false
	}
	id := models.ReportIdentity{EntityCode: code, FiscalYear: year, Kind: kind}
	if err := id.Validate(); err != nil {
		writeKindError(w, err)
		return models.ReportIdentity{}, false
	}
	return id, true
}

// storedRecord resolves the URL identity to a stored record, writing the
// error response when there is none.
func (s *Server) storedRecord(w http.ResponseWriter, r *http.Request) (models.ReportRecord, bool) {
	id, ok := identityParam(w, r)
	if !ok {
		return models.ReportRecord{}, false
	}
	rec, err := s.svc.Store.Get(id)
	if err != nil {
		writeKindError(w, err)
		return models.ReportRecord{}, false
	}
	return rec, true
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(kind string) int {
	switch kind {
	case models.KindInvalidInput:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindClientError:
		return http.StatusBadGateway
	case models.KindNetworkError:
		return http.StatusServiceUnavailable
	case models.KindStorageError:
		return http.StatusInternalServerError
	case models.KindExtractionFailed:
		return http.StatusUnprocessableEntity
	case models.KindAnalysisError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success:   false,
		Error:     msg,
		ErrorKind: kindForStatus(status),
	})
}

// writeKindError writes err with the status its taxonomy kind maps to.
func writeKindError(w http.ResponseWriter, err error) {
	kind := models.ErrorKind(err)
	status := statusForKind(kind)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, APIResponse{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: kind,
	})
}

func kindForStatus(status int) string {
	if status == http.StatusBadRequest {
		return models.KindInvalidInput
	}
	return ""
}
