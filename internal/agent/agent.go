// Package agent turns a stored report into a narrative analysis. Provider is
// the analysis capability; LLMAnalyzer implements it on a chat model and
// Analyst runs the whole pipeline from acquisition to narrative.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/seenimoa/finreport/internal/agent/prompts"
	"github.com/seenimoa/finreport/internal/analysis/fundamental"
	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/internal/llm"
	"github.com/seenimoa/finreport/pkg/models"
)

// DefaultMaxInputChars caps the report text sent to the model.
const DefaultMaxInputChars = 50000

// ── Provider ──

// Task selects the kind of narrative a provider is asked for.
type Task string

const (
	TaskReport  Task = "report"  // reading of one report
	TaskCompare Task = "compare" // two periods of the same kind
	TaskAdvice  Task = "advice"  // investment advice from one report
)

// AnalysisInput is what a provider is asked to analyze.
type AnalysisInput struct {
	Task        Task // empty means TaskReport
	EntityCode  string
	CompanyName string
	Period      string
	Text        string
	Metrics     *models.FinancialMetrics
	Ratios      models.RatioSet
	Health      *fundamental.FinancialHealth
	Risks       string
	Model       string // empty selects the provider default

	// Set for TaskCompare.
	PreviousPeriod string
	Trends         models.TrendSet
}

// Provider produces free-form analysis text. Failures match
// models.ErrAnalysisProvider.
type Provider interface {
	Analyze(ctx context.Context, in AnalysisInput) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, in AnalysisInput) (string, error)

func (f ProviderFunc) Analyze(ctx context.Context, in AnalysisInput) (string, error) {
	return f(ctx, in)
}

// ── LLMAnalyzer ──

// LLMAnalyzer implements Provider on top of a chat model.
type LLMAnalyzer struct {
	provider      llm.LLMProvider
	opts          llm.ChatOptions
	maxInputChars int
	logger        *slog.Logger
}

// AnalyzerOption configures an LLMAnalyzer.
type AnalyzerOption func(*LLMAnalyzer)

// WithChatOptions sets the default request options.
func WithChatOptions(opts llm.ChatOptions) AnalyzerOption {
	return func(a *LLMAnalyzer) { a.opts = opts }
}

// WithMaxInputChars caps the report text length in runes.
func WithMaxInputChars(n int) AnalyzerOption {
	return func(a *LLMAnalyzer) {
		if n > 0 {
			a.maxInputChars = n
		}
	}
}

// WithAnalyzerLogger sets the logger.
func WithAnalyzerLogger(l *slog.Logger) AnalyzerOption {
	return func(a *LLMAnalyzer) { a.logger = l }
}

// NewLLMAnalyzer creates an analyzer backed by provider.
func NewLLMAnalyzer(provider llm.LLMProvider, opts ...AnalyzerOption) *LLMAnalyzer {
	a := &LLMAnalyzer{
		provider:      provider,
		opts:          llm.ChatOptions{Temperature: 0.1, MaxTokens: 5000},
		maxInputChars: DefaultMaxInputChars,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = infra.LoggerOrDefault(a.logger).With("component", prompts.AgentReportAnalyst)
	return a
}

// Analyze asks the model for a structured reading of the report and renders
// it as text. Replies that are not JSON are returned as-is.
func (a *LLMAnalyzer) Analyze(ctx context.Context, in AnalysisInput) (string, error) {
	if a.provider == nil {
		return "", llm.ErrNoProviders
	}
	messages := a.buildMessages(in)

	opts := a.opts
	opts.JSONMode = true
	if in.Model != "" {
		opts.Model = in.Model
	}

	resp, err := a.provider.Chat(ctx, messages, &opts)
	if err != nil {
		return "", asProviderError(err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty reply from %s", llm.ErrBadResponse, resp.Provider)
	}
	if resp.FinishReason == llm.FinishLength {
		a.logger.Warn("analysis reply truncated", "entity", in.EntityCode, "model", resp.Model)
	}
	a.logger.Info("analysis complete",
		"entity", in.EntityCode, "provider", resp.Provider, "model", resp.Model,
		"tokens", resp.Usage.TotalTokens, "latency", resp.Latency)

	if rendered, ok := renderReply(in.Task, resp.Content); ok {
		return rendered, nil
	}
	return strings.TrimSpace(resp.Content), nil
}

func (a *LLMAnalyzer) buildMessages(in AnalysisInput) []llm.Message {
	var summary string
	if in.Metrics != nil {
		health := fundamental.FinancialHealth{}
		if in.Health != nil {
			health = *in.Health
		}
		summary = fundamental.FormatFinancialSummary(*in.Metrics, in.Ratios, health)
	}

	switch in.Task {
	case TaskCompare:
		return []llm.Message{
			llm.SystemMessage(prompts.CompareSystemPrompt + prompts.ChinaMarketPromptSuffix()),
			llm.UserMessage(prompts.ComparePrompt(prompts.CompareContext{
				CompanyName:    in.CompanyName,
				EntityCode:     in.EntityCode,
				Period:         in.Period,
				PreviousPeriod: in.PreviousPeriod,
				Summary:        summary,
				Trends:         fundamental.FormatTrendSummary(in.Trends),
			})),
		}
	case TaskAdvice:
		// Advice rests on the extracted figures; a shorter excerpt suffices.
		text, truncated := truncateRunes(in.Text, a.maxInputChars/5)
		return []llm.Message{
			llm.SystemMessage(prompts.AdviceSystemPrompt + prompts.ChinaMarketPromptSuffix()),
			llm.UserMessage(prompts.AdvicePrompt(prompts.ReportContext{
				CompanyName: in.CompanyName,
				EntityCode:  in.EntityCode,
				Period:      in.Period,
				Summary:     summary,
				Risks:       in.Risks,
				Text:        text,
				Truncated:   truncated,
			})),
		}
	}

	text, truncated := truncateRunes(in.Text, a.maxInputChars)
	return []llm.Message{
		llm.SystemMessage(prompts.ReportSystemPrompt + prompts.ChinaMarketPromptSuffix()),
		llm.UserMessage(prompts.ReportPrompt(prompts.ReportContext{
			CompanyName: in.CompanyName,
			EntityCode:  in.EntityCode,
			Period:      in.Period,
			Summary:     summary,
			Risks:       in.Risks,
			Text:        text,
			Truncated:   truncated,
		})),
	}
}

// renderReply decodes a structured reply for task and renders it as text.
func renderReply(task Task, content string) (string, bool) {
	switch task {
	case TaskCompare:
		var c Comparison
		if !decodeReply(content, &c) || c.empty() {
			return "", false
		}
		return c.Render(), true
	case TaskAdvice:
		var adv Advice
		if !decodeReply(content, &adv) || adv.empty() {
			return "", false
		}
		return adv.Render(), true
	}
	parsed, ok := ParseAnalysis(content)
	if !ok {
		return "", false
	}
	return parsed.Render(), true
}

func asProviderError(err error) error {
	if errors.Is(err, models.ErrAnalysisProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrAnalysisProvider, err)
}

func truncateRunes(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	return string([]rune(s)[:max]), true
}

// ── Structured reply ──

// Analysis is the JSON object the model is asked to return.
type Analysis struct {
	Summary       string   `json:"summary"`
	Profitability string   `json:"profitability"`
	Solvency      string   `json:"solvency"`
	Efficiency    string   `json:"efficiency"`
	CashFlow      string   `json:"cash_flow"`
	Highlights    []string `json:"highlights"`
	Risks         []string `json:"risks"`
	Outlook       string   `json:"outlook"`
}

// ParseAnalysis decodes a model reply, repairing the usual damage: code
// fences, trailing commas, single quotes, unclosed braces. It reports false
// when nothing usable was found.
func ParseAnalysis(content string) (Analysis, bool) {
	var a Analysis
	if !decodeReply(content, &a) || a.empty() {
		return Analysis{}, false
	}
	return a, true
}

// decodeReply unmarshals a model reply into v, repairing it when needed.
// v must point at a zero value.
func decodeReply[T any](content string, v *T) bool {
	raw := stripFences(content)
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return true
	}
	repaired, err := jsonrepair.RepairJSON(raw)
	if err != nil {
		return false
	}
	var zero T
	*v = zero
	return json.Unmarshal([]byte(repaired), v) == nil
}

func (a Analysis) empty() bool {
	return a.Summary == "" && a.Profitability == "" && a.Solvency == "" &&
		a.Efficiency == "" && a.CashFlow == "" && a.Outlook == "" &&
		len(a.Highlights) == 0 && len(a.Risks) == 0
}

// Render formats the analysis as sectioned plain text.
func (a Analysis) Render() string {
	var b sections
	b.section("总体评价", a.Summary)
	b.section("盈利能力", a.Profitability)
	b.section("偿债能力", a.Solvency)
	b.section("运营效率", a.Efficiency)
	b.section("现金流", a.CashFlow)
	b.section("业务亮点", bulleted(a.Highlights))
	b.section("风险因素", bulleted(a.Risks))
	b.section("未来展望", a.Outlook)
	return b.String()
}

// Comparison is the JSON object the model returns for TaskCompare.
type Comparison struct {
	Summary        string   `json:"summary"`
	KeyChanges     []string `json:"key_changes"`
	Improvements   []string `json:"improvements"`
	Deteriorations []string `json:"deteriorations"`
	Outlook        string   `json:"outlook"`
}

func (c Comparison) empty() bool {
	return c.Summary == "" && c.Outlook == "" &&
		len(c.KeyChanges) == 0 && len(c.Improvements) == 0 && len(c.Deteriorations) == 0
}

// Render formats the comparison as sectioned plain text.
func (c Comparison) Render() string {
	var b sections
	b.section("对比结论", c.Summary)
	b.section("关键变化", bulleted(c.KeyChanges))
	b.section("改善", bulleted(c.Improvements))
	b.section("恶化", bulleted(c.Deteriorations))
	b.section("趋势判断", c.Outlook)
	return b.String()
}

// Advice is the JSON object the model returns for TaskAdvice.
type Advice struct {
	Rating        string   `json:"rating"`
	TargetPrice   string   `json:"target_price"`
	Reasons       []string `json:"reasons"`
	Risks         []string `json:"risks"`
	HoldingPeriod string   `json:"holding_period"`
	InvestorType  string   `json:"investor_type"`
	Summary       string   `json:"summary"`
}

func (a Advice) empty() bool {
	return a.Rating == "" && a.Summary == "" && len(a.Reasons) == 0 && len(a.Risks) == 0
}

// Render formats the advice as sectioned plain text.
func (a Advice) Render() string {
	var b sections
	b.section("投资评级", a.Rating)
	b.section("目标价格", a.TargetPrice)
	b.section("投资理由", bulleted(a.Reasons))
	b.section("风险因素", bulleted(a.Risks))
	b.section("建议持有期限", a.HoldingPeriod)
	b.section("适合投资者", a.InvestorType)
	b.section("建议摘要", a.Summary)
	return b.String()
}

// sections joins titled blocks, skipping empty bodies.
type sections struct{ strings.Builder }

func (b *sections) section(title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("【" + title + "】\n" + body)
}

func bulleted(items []string) string {
	var lines []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			lines = append(lines, "- "+it)
		}
	}
	return strings.Join(lines, "\n")
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		return s[i : j+1]
	}
	return s
}
