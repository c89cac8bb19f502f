package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/finreport/internal/analysis/fundamental"
	"github.com/seenimoa/finreport/internal/llm"
	"github.com/seenimoa/finreport/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Fakes
// ════════════════════════════════════════════════════════════════════

type mockProvider struct {
	mu       sync.Mutex
	reply    string
	finish   llm.FinishReason
	err      error
	messages []llm.Message
	opts     *llm.ChatOptions
}

func (m *mockProvider) Name() string                 { return "mock" }
func (m *mockProvider) Models() []string             { return []string{"mock-model"} }
func (m *mockProvider) Ping(_ context.Context) error { return nil }

func (m *mockProvider) Chat(_ context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = messages
	m.opts = opts
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Content: m.reply, FinishReason: m.finish, Provider: "mock", Model: "mock-model"}, nil
}

type fakeFetcher struct {
	rec   models.ReportRecord
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, entity string, year int, kind models.ReportKind) (models.ReportRecord, error) {
	f.calls++
	if f.err != nil {
		return models.ReportRecord{}, f.err
	}
	rec := f.rec
	rec.Identity = models.ReportIdentity{EntityCode: entity, FiscalYear: year, Kind: kind}
	return rec, nil
}

type fakeTexts struct {
	text string
	err  error
}

func (f fakeTexts) EnsureText(_ context.Context, _ models.ReportRecord) (string, error) {
	return f.text, f.err
}

const reportText = `贵州茅台酒股份有限公司2023年年度报告
单位：元
营业收入 150,560,330,316.45
营业成本 11,867,273,851.78
净利润 77,521,476,726.09
资产总计 272,699,660,624.22
负债合计 46,405,633,910.19
第三节 管理层讨论与分析
四、可能面对的风险
原材料价格波动风险。
第四节 公司治理`

const jsonReply = "```json\n{\"summary\": \"经营稳健\", \"highlights\": [\"营收增长\", \" \"], \"risks\": [\"原材料价格波动\"], \"outlook\": null,}\n```"

func newAnalyst(p Provider, f *fakeFetcher, texts TextSource) *Analyst {
	return NewAnalyst(AnalystConfig{Fetcher: f, Texts: texts, Provider: p})
}

func request() Request {
	return Request{EntityCode: "600519", Year: 2023, Kind: models.KindAnnual}
}

// ════════════════════════════════════════════════════════════════════
// LLMAnalyzer
// ════════════════════════════════════════════════════════════════════

func TestLLMAnalyzerRendersStructuredReply(t *testing.T) {
	mp := &mockProvider{reply: jsonReply, finish: llm.FinishStop}
	a := NewLLMAnalyzer(mp)

	out, err := a.Analyze(context.Background(), AnalysisInput{
		EntityCode: "600519", CompanyName: "贵州茅台", Period: "2023年年度报告",
		Text: "正文", Model: "deepseek-reasoner",
	})
	require.NoError(t, err)
	assert.Equal(t, "【总体评价】\n经营稳健\n\n【业务亮点】\n- 营收增长\n\n【风险因素】\n- 原材料价格波动", out)

	require.NotNil(t, mp.opts)
	assert.True(t, mp.opts.JSONMode)
	assert.Equal(t, "deepseek-reasoner", mp.opts.Model)
	require.Len(t, mp.messages, 2)
	assert.Equal(t, llm.RoleSystem, mp.messages[0].Role)
	assert.Contains(t, mp.messages[1].Content, "贵州茅台")
}

func TestLLMAnalyzerPlainReply(t *testing.T) {
	mp := &mockProvider{reply: "  公司整体经营稳健。  "}
	out, err := NewLLMAnalyzer(mp).Analyze(context.Background(), AnalysisInput{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "公司整体经营稳健。", out)
}

func TestLLMAnalyzerTruncatesInput(t *testing.T) {
	mp := &mockProvider{reply: `{"summary":"ok"}`}
	a := NewLLMAnalyzer(mp, WithMaxInputChars(10))
	_, err := a.Analyze(context.Background(), AnalysisInput{Text: strings.Repeat("营", 20) + "尾部"})
	require.NoError(t, err)

	user := mp.messages[1].Content
	assert.Contains(t, user, strings.Repeat("营", 10))
	assert.NotContains(t, user, strings.Repeat("营", 11))
	assert.NotContains(t, user, "尾部")
	assert.Contains(t, user, "（已截断）")
}

func TestLLMAnalyzerIncludesMetrics(t *testing.T) {
	mp := &mockProvider{reply: `{"summary":"ok"}`}
	m := models.NewFinancialMetrics()
	m.Set(models.ItemRevenue, models.Value(2e8))
	_, err := NewLLMAnalyzer(mp).Analyze(context.Background(), AnalysisInput{Text: "x", Metrics: &m})
	require.NoError(t, err)
	assert.Contains(t, mp.messages[1].Content, "Revenue: ")
	assert.Contains(t, mp.messages[1].Content, "n/a")
}

func TestLLMAnalyzerErrors(t *testing.T) {
	tests := []struct {
		name string
		mp   *mockProvider
		want error
	}{
		{"auth", &mockProvider{err: fmt.Errorf("%w: deepseek: bad key", llm.ErrNoAPIKey)}, llm.ErrNoAPIKey},
		{"transport", &mockProvider{err: errors.New("connection reset")}, models.ErrAnalysisProvider},
		{"empty reply", &mockProvider{reply: "  "}, llm.ErrBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMAnalyzer(tt.mp).Analyze(context.Background(), AnalysisInput{Text: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, models.ErrAnalysisProvider)
			assert.Equal(t, models.KindAnalysisError, models.ErrorKind(err))
		})
	}

	_, err := NewLLMAnalyzer(nil).Analyze(context.Background(), AnalysisInput{})
	assert.ErrorIs(t, err, models.ErrAnalysisProvider)
}

func TestLLMAnalyzerCompare(t *testing.T) {
	mp := &mockProvider{reply: `{"summary": "收入增长", "key_changes": ["营业收入 +25%"], "deteriorations": []}`}
	cur, prev := models.NewFinancialMetrics(), models.NewFinancialMetrics()
	cur.Set(models.ItemRevenue, models.Value(1000))
	prev.Set(models.ItemRevenue, models.Value(800))

	out, err := NewLLMAnalyzer(mp).Analyze(context.Background(), AnalysisInput{
		Task: TaskCompare, Period: "2023年年度报告", PreviousPeriod: "2022年年度报告",
		Metrics: &cur, Trends: fundamental.CompareMetrics(cur, prev), Text: "不应发送的正文",
	})
	require.NoError(t, err)
	assert.Equal(t, "【对比结论】\n收入增长\n\n【关键变化】\n- 营业收入 +25%", out)

	assert.Contains(t, mp.messages[0].Content, `"key_changes"`)
	user := mp.messages[1].Content
	assert.Contains(t, user, "上期：2022年年度报告")
	assert.Contains(t, user, "(+25.00%)")
	assert.NotContains(t, user, "不应发送的正文")
}

func TestLLMAnalyzerAdvice(t *testing.T) {
	mp := &mockProvider{reply: `{"rating": "持有", "target_price": null, "reasons": ["现金充裕"], "summary": "稳健"}`}
	a := NewLLMAnalyzer(mp, WithMaxInputChars(50))
	out, err := a.Analyze(context.Background(), AnalysisInput{Task: TaskAdvice, Text: strings.Repeat("营", 20)})
	require.NoError(t, err)
	assert.Equal(t, "【投资评级】\n持有\n\n【投资理由】\n- 现金充裕\n\n【建议摘要】\n稳健", out)

	assert.Contains(t, mp.messages[0].Content, `"rating"`)
	user := mp.messages[1].Content
	assert.Contains(t, user, strings.Repeat("营", 10))
	assert.NotContains(t, user, strings.Repeat("营", 11))
}

func TestParseAnalysis(t *testing.T) {
	a, ok := ParseAnalysis(`说明如下：{"summary": "稳健", "risks": ["汇率"]} 以上。`)
	require.True(t, ok)
	assert.Equal(t, "稳健", a.Summary)
	assert.Equal(t, []string{"汇率"}, a.Risks)

	a, ok = ParseAnalysis(`{'summary': '单引号', 'outlook': '向好'`)
	require.True(t, ok)
	assert.Equal(t, "单引号", a.Summary)
	assert.Equal(t, "向好", a.Outlook)

	_, ok = ParseAnalysis(`{}`)
	assert.False(t, ok)
	_, ok = ParseAnalysis("纯文本回答")
	assert.False(t, ok)
}

// ════════════════════════════════════════════════════════════════════
// Analyst
// ════════════════════════════════════════════════════════════════════

func TestAnalystFullPipeline(t *testing.T) {
	f := &fakeFetcher{rec: models.ReportRecord{CompanyName: "贵州茅台"}}
	var got AnalysisInput
	p := ProviderFunc(func(_ context.Context, in AnalysisInput) (string, error) {
		got = in
		return "分析文本", nil
	})

	rep, err := newAnalyst(p, f, fakeTexts{text: reportText}).Analyze(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, StageOK, rep.Acquisition.Status)
	assert.Equal(t, StageOK, rep.Extraction.Status)
	assert.Equal(t, StageOK, rep.Analysis.Status)
	assert.Equal(t, "分析文本", rep.Text)
	require.NotNil(t, rep.Record)
	require.NotNil(t, rep.Metrics)
	assert.True(t, rep.Metrics.Get(models.ItemRevenue).Found)
	assert.False(t, rep.Metrics.Get(models.ItemInventory).Found)
	assert.True(t, rep.Ratios["gross_margin"].Computable)
	assert.False(t, rep.Ratios["current_ratio"].Computable)
	require.NotNil(t, rep.Health)
	assert.Contains(t, rep.Risks, "原材料价格波动风险")

	assert.Equal(t, "600519", got.EntityCode)
	assert.Equal(t, "贵州茅台", got.CompanyName)
	assert.Equal(t, "2023年年度报告", got.Period)
	assert.Equal(t, reportText, got.Text)
}

func TestAnalystAnalysisFailureKeepsAcquisition(t *testing.T) {
	f := &fakeFetcher{}
	p := ProviderFunc(func(context.Context, AnalysisInput) (string, error) {
		return "", fmt.Errorf("%w: deepseek", llm.ErrNoAPIKey)
	})

	rep, err := newAnalyst(p, f, fakeTexts{text: reportText}).Analyze(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StageOK, rep.Acquisition.Status)
	assert.True(t, rep.Analysis.Failed())
	assert.Equal(t, models.KindAnalysisError, rep.Analysis.ErrorKind)
	assert.NotNil(t, rep.Metrics)
	assert.Empty(t, rep.Text)
}

func TestAnalystUnclassifiedProviderError(t *testing.T) {
	p := ProviderFunc(func(context.Context, AnalysisInput) (string, error) {
		return "", errors.New("boom")
	})
	rep, err := newAnalyst(p, &fakeFetcher{}, fakeTexts{text: reportText}).Analyze(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, models.KindAnalysisError, rep.Analysis.ErrorKind)
}

func TestAnalystNoProvider(t *testing.T) {
	rep, err := newAnalyst(nil, &fakeFetcher{}, fakeTexts{text: reportText}).Analyze(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StageOK, rep.Extraction.Status)
	assert.Equal(t, models.KindAnalysisError, rep.Analysis.ErrorKind)
}

func TestAnalystAcquisitionFailure(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("%w: no listing", models.ErrNotFound)}
	called := false
	p := ProviderFunc(func(context.Context, AnalysisInput) (string, error) {
		called = true
		return "", nil
	})

	rep, err := newAnalyst(p, f, fakeTexts{text: reportText}).Analyze(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, rep.Acquisition.Failed())
	assert.Equal(t, models.KindNotFound, rep.Acquisition.ErrorKind)
	assert.Equal(t, StageSkipped, rep.Extraction.Status)
	assert.Equal(t, StageSkipped, rep.Analysis.Status)
	assert.Nil(t, rep.Record)
	assert.False(t, called)
}

func TestAnalystExtractionFailure(t *testing.T) {
	texts := fakeTexts{err: fmt.Errorf("%w: all pages failed", models.ErrExtractionFailed)}
	rep, err := newAnalyst(nil, &fakeFetcher{}, texts).Analyze(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StageOK, rep.Acquisition.Status)
	assert.Equal(t, models.KindExtractionFailed, rep.Extraction.ErrorKind)
	assert.Equal(t, StageSkipped, rep.Analysis.Status)
	assert.Nil(t, rep.Metrics)
}

func TestAnalystInvalidRequest(t *testing.T) {
	f := &fakeFetcher{}
	_, err := newAnalyst(nil, f, fakeTexts{}).Analyze(context.Background(), Request{EntityCode: "600519", Year: 2023, Kind: "Q2"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Zero(t, f.calls)
}

func TestAnalystCompare(t *testing.T) {
	f := &fakeFetcher{rec: models.ReportRecord{CompanyName: "贵州茅台"}}
	var got AnalysisInput
	p := ProviderFunc(func(_ context.Context, in AnalysisInput) (string, error) {
		got = in
		return "对比文本", nil
	})

	rep, err := newAnalyst(p, f, fakeTexts{text: reportText}).Compare(context.Background(), CompareRequest{Request: request()})
	require.NoError(t, err)
	assert.Equal(t, TaskCompare, rep.Task)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, StageOK, rep.Analysis.Status)
	require.NotNil(t, rep.Previous)
	assert.Equal(t, 2022, rep.Previous.Identity.FiscalYear)
	require.NotNil(t, rep.PreviousMetrics)

	rev := rep.Trends[models.ItemRevenue]
	assert.True(t, rev.ChangePercent.Computable)
	assert.Equal(t, models.DirectionFlat, rev.Direction)

	assert.Equal(t, TaskCompare, got.Task)
	assert.Equal(t, "2022年年度报告", got.PreviousPeriod)
	assert.Equal(t, "对比文本", rep.Text)
}

func TestAnalystComparePreviousMissing(t *testing.T) {
	f := &prevMissingFetcher{}
	rep, err := NewAnalyst(AnalystConfig{Fetcher: f, Texts: fakeTexts{text: reportText}}).
		Compare(context.Background(), CompareRequest{Request: request(), PreviousYear: 2021})
	require.NoError(t, err)
	assert.True(t, rep.Acquisition.Failed())
	assert.Equal(t, models.KindNotFound, rep.Acquisition.ErrorKind)
	assert.Contains(t, rep.Acquisition.Error, "previous period 2021")
	assert.Nil(t, rep.Record)
	assert.Equal(t, StageSkipped, rep.Extraction.Status)
}

func TestAnalystCompareInvalid(t *testing.T) {
	a := newAnalyst(nil, &fakeFetcher{}, fakeTexts{})
	_, err := a.Compare(context.Background(), CompareRequest{Request: request(), PreviousYear: 2023})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = a.Compare(context.Background(), CompareRequest{Request: request(), PreviousYear: 1980})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestAnalystAdvise(t *testing.T) {
	var task Task
	p := ProviderFunc(func(_ context.Context, in AnalysisInput) (string, error) {
		task = in.Task
		return "建议文本", nil
	})
	rep, err := newAnalyst(p, &fakeFetcher{}, fakeTexts{text: reportText}).Advise(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, TaskAdvice, task)
	assert.Equal(t, TaskAdvice, rep.Task)
	assert.Equal(t, "建议文本", rep.Text)
	assert.Nil(t, rep.Previous)
}

// prevMissingFetcher finds only 2023 reports.
type prevMissingFetcher struct{}

func (prevMissingFetcher) Fetch(_ context.Context, entity string, year int, kind models.ReportKind) (models.ReportRecord, error) {
	if year != 2023 {
		return models.ReportRecord{}, fmt.Errorf("%w: no listing for %d", models.ErrNotFound, year)
	}
	return models.ReportRecord{Identity: models.ReportIdentity{EntityCode: entity, FiscalYear: year, Kind: kind}}, nil
}
