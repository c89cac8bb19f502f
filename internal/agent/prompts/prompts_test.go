package prompts

import (
	"strings"
	"testing"
)

func TestReportSystemPrompt(t *testing.T) {
	if AgentReportAnalyst != "report_analyst" {
		t.Errorf("AgentReportAnalyst: got %q", AgentReportAnalyst)
	}
	for _, want := range []string{"JSON", `"summary"`, `"risks"`, "n/a"} {
		if !strings.Contains(ReportSystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !strings.Contains(ChinaMarketPromptSuffix(), "1亿 = 100,000,000") {
		t.Error("market suffix missing unit conventions")
	}
}

func TestReportPrompt(t *testing.T) {
	p := ReportPrompt(ReportContext{
		CompanyName: "贵州茅台",
		EntityCode:  "600519",
		Period:      "2023年年度报告",
		Summary:     "Revenue: ¥1,505.60亿",
		Risks:       "原材料价格波动风险",
		Text:        "第一节 重要提示",
		Truncated:   true,
	})
	for _, want := range []string{"贵州茅台", "600519", "2023年年度报告", "Revenue: ¥1,505.60亿", "原材料价格波动风险", "（已截断）", "第一节 重要提示"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestReportPromptDefaults(t *testing.T) {
	p := ReportPrompt(ReportContext{Text: "正文"})
	if strings.Count(p, "未知") != 3 {
		t.Errorf("expected unknown placeholders, got:\n%s", p)
	}
	if strings.Contains(p, "结构化指标：") || strings.Contains(p, "风险提示章节") || strings.Contains(p, "已截断") {
		t.Errorf("empty sections must be omitted:\n%s", p)
	}
}

func TestComparePrompt(t *testing.T) {
	p := ComparePrompt(CompareContext{
		CompanyName:    "贵州茅台",
		EntityCode:     "600519",
		Period:         "2023年年度报告",
		PreviousPeriod: "2022年年度报告",
		Trends:         "Revenue: ¥1,241.00亿 -> ¥1,505.60亿 (+21.32%)\n",
	})
	for _, want := range []string{"本期：2023年年度报告", "上期：2022年年度报告", "(+21.32%)"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(ComparePrompt(CompareContext{}), "无可比指标") {
		t.Error("empty trends must be stated")
	}
	for _, want := range []string{`"key_changes"`, `"deteriorations"`, "n/a"} {
		if !strings.Contains(CompareSystemPrompt, want) {
			t.Errorf("compare system prompt missing %q", want)
		}
	}
}

func TestAdvicePrompt(t *testing.T) {
	p := AdvicePrompt(ReportContext{CompanyName: "贵州茅台", Summary: "Financial Health: A (85/100)"})
	if !strings.Contains(p, "Financial Health: A") || strings.Contains(p, "财报内容") {
		t.Errorf("unexpected advice prompt:\n%s", p)
	}
	for _, want := range []string{`"rating"`, `"holding_period"`, "null"} {
		if !strings.Contains(AdviceSystemPrompt, want) {
			t.Errorf("advice system prompt missing %q", want)
		}
	}
}
