package prompts

// ChinaMarketContext describes A-share reporting conventions the model should
// respect when reading figures.
const ChinaMarketContext = `
## A股报告惯例
- 货币单位：人民币元；报表常以"单位：元/千元/万元/亿元"声明，结构化指标已统一换算为元
- 1万 = 10,000；1亿 = 100,000,000；括号中的数字表示负数
- 报告期：年度报告（1月1日至12月31日）、半年度报告（1月1日至6月30日）、第一季度报告、第三季度报告
- 披露期限：年报次年4月30日前，半年报8月31日前，一季报4月30日前，三季报10月31日前
- 扣除非经常性损益后的净利润更能反映主营业务的持续盈利能力
`

// ChinaMarketPromptSuffix returns the A-share context block, appended to a
// system prompt.
func ChinaMarketPromptSuffix() string {
	return ChinaMarketContext
}
