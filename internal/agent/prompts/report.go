package prompts

import (
	"fmt"
	"strings"
)

// ReportContext is everything the user prompt is built from.
type ReportContext struct {
	CompanyName string
	EntityCode  string
	Period      string // e.g. "2023年年度报告"
	Summary     string // rendered metrics, ratios and health score
	Risks       string // extracted risk section, may be empty
	Text        string // report text, already truncated
	Truncated   bool
}

// ReportPrompt builds the user message asking for an analysis of one report.
func ReportPrompt(rc ReportContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "请分析以下公司的财务报告，并提取关键财务指标和业务洞察：\n\n")
	fmt.Fprintf(&b, "公司信息：\n- 公司名称：%s\n- 股票代码：%s\n- 报告期间：%s\n\n",
		orUnknown(rc.CompanyName), orUnknown(rc.EntityCode), orUnknown(rc.Period))

	if rc.Summary != "" {
		b.WriteString("程序抽取的结构化指标：\n")
		b.WriteString(rc.Summary)
		b.WriteString("\n\n")
	}
	if rc.Risks != "" {
		b.WriteString("报告中的风险提示章节：\n")
		b.WriteString(rc.Risks)
		b.WriteString("\n\n")
	}

	b.WriteString("财报内容")
	if rc.Truncated {
		b.WriteString("（已截断）")
	}
	b.WriteString("：\n")
	b.WriteString(rc.Text)
	b.WriteString("\n\n请按系统提示中的JSON格式输出分析结果。对于无法从报告中判断的内容，请填写null。")
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "未知"
	}
	return s
}
