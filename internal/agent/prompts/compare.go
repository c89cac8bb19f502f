package prompts

import (
	"fmt"
	"strings"
)

// CompareSystemPrompt configures the model to compare two periods of the
// same company.
const CompareSystemPrompt = `你是一位专业的财务分析师，擅长比较分析上市公司不同期间的财务报告，识别关键变化和趋势。

## 要求
1. 重点关注财务指标的变化、业务发展趋势、盈利能力变化
2. 以给定的两期结构化指标及其变化为依据；标记为"n/a"的指标表示未能抽取，不得自行编造数值
3. 分析应当客观、准确、专业，避免主观臆断

## 输出格式
只输出一个JSON对象，键名使用英文，值使用中文：
{
  "summary": "两期对比的总体结论（200-300字）",
  "key_changes": ["关键指标变化"],
  "improvements": ["改善之处"],
  "deteriorations": ["恶化之处"],
  "outlook": "趋势判断"
}`

// AdviceSystemPrompt configures the model as an investment adviser working
// from an extracted report.
const AdviceSystemPrompt = `你是一位资深投资顾问，擅长基于财务分析结果提供投资建议。

## 要求
1. 建议应当基于报告事实和给定的结构化指标，同时考虑行业趋势、公司竞争力、财务健康状况
2. 标记为"n/a"的指标表示未能抽取，不得自行编造数值
3. 不掌握股价数据时，目标价格填写null

## 输出格式
只输出一个JSON对象，键名使用英文，值使用中文：
{
  "rating": "买入/增持/持有/减持/卖出",
  "target_price": "预期合理价格区间或null",
  "reasons": ["投资理由"],
  "risks": ["风险因素"],
  "holding_period": "短期/中期/长期",
  "investor_type": "保守型/稳健型/进取型",
  "summary": "投资建议摘要（200-300字）"
}`

// CompareContext is what the comparison prompt is built from.
type CompareContext struct {
	CompanyName    string
	EntityCode     string
	Period         string
	PreviousPeriod string
	Summary        string // current period metrics
	Trends         string // rendered period-over-period changes
}

// ComparePrompt builds the user message asking for a two-period comparison.
func ComparePrompt(cc CompareContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "请比较以下公司两期财报，分析变化趋势：\n\n")
	fmt.Fprintf(&b, "公司信息：\n- 公司名称：%s\n- 股票代码：%s\n- 本期：%s\n- 上期：%s\n\n",
		orUnknown(cc.CompanyName), orUnknown(cc.EntityCode), orUnknown(cc.Period), orUnknown(cc.PreviousPeriod))

	if cc.Summary != "" {
		b.WriteString("本期结构化指标：\n")
		b.WriteString(cc.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("两期指标变化（上期 -> 本期）：\n")
	if cc.Trends != "" {
		b.WriteString(cc.Trends)
	} else {
		b.WriteString("无可比指标\n")
	}
	b.WriteString("\n请按系统提示中的JSON格式输出比较结果。")
	return b.String()
}

// AdvicePrompt builds the user message asking for investment advice on one
// report. Text is optional background and may be empty.
func AdvicePrompt(rc ReportContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "请基于以下财报分析结果，为投资者提供专业的投资建议：\n\n")
	fmt.Fprintf(&b, "公司信息：\n- 公司名称：%s\n- 股票代码：%s\n- 报告期间：%s\n\n",
		orUnknown(rc.CompanyName), orUnknown(rc.EntityCode), orUnknown(rc.Period))

	if rc.Summary != "" {
		b.WriteString("结构化指标与财务健康评分：\n")
		b.WriteString(rc.Summary)
		b.WriteString("\n\n")
	}
	if rc.Risks != "" {
		b.WriteString("报告中的风险提示章节：\n")
		b.WriteString(rc.Risks)
		b.WriteString("\n\n")
	}
	if rc.Text != "" {
		b.WriteString("财报内容")
		if rc.Truncated {
			b.WriteString("（已截断）")
		}
		b.WriteString("：\n")
		b.WriteString(rc.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("请按系统提示中的JSON格式输出投资建议。")
	return b.String()
}
