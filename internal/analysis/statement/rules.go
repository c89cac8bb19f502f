package statement

import (
	"regexp"

	"github.com/seenimoa/finreport/pkg/models"
)

// ValueKind controls how a matched number is scaled.
type ValueKind int

const (
	// Amount values are currency and honour 万/亿 suffixes and unit declarations.
	Amount ValueKind = iota
	// PerShare values are never scaled.
	PerShare
)

// Rule binds a line item to its candidate labels, tried in order.
type Rule struct {
	Item     models.LineItem
	Kind     ValueKind
	Patterns []*regexp.Regexp
}

func rule(item models.LineItem, kind ValueKind, patterns ...string) Rule {
	r := Rule{Item: item, Kind: kind}
	for _, p := range patterns {
		r.Patterns = append(r.Patterns, regexp.MustCompile(p))
	}
	return r
}

// DefaultRules covers the labels used in CSRC-format periodic reports.
// Guards like [^非] keep "流动资产合计" from matching "非流动资产合计";
// when a pattern has a capture group, the group is the label and the value
// is searched for after it.
var DefaultRules = []Rule{
	rule(models.ItemRevenue, Amount, `营业总收入`, `营业收入`),
	rule(models.ItemOperatingCost, Amount, `营业成本`),
	rule(models.ItemOperatingProfit, Amount, `营业利润`),
	rule(models.ItemTotalProfit, Amount, `利润总额`),
	rule(models.ItemNetIncome, Amount,
		`归属于上市公司股东的净利润`,
		`归属于母公司(?:所有者|股东)的净利润`,
		`归母净利润`,
		`(?:^|\s)(净利润)`,
	),
	rule(models.ItemNetIncomeDeducted, Amount,
		`归属于上市公司股东的扣除非经常性损益的净利润`,
		`扣除非经常性损益后的净利润`,
		`扣非净利润`,
	),
	rule(models.ItemEPSBasic, PerShare, `基本每股收益`),
	rule(models.ItemTotalAssets, Amount, `资产总计`, `(?:^|[^净])(总资产)`),
	rule(models.ItemTotalLiabilities, Amount, `(?:^|[^动])(负债合计)`, `总负债`),
	rule(models.ItemTotalEquity, Amount,
		`归属于上市公司股东的净资产`,
		`归属于母公司所有者权益(?:（或股东权益）)?合计`,
		`(?:^|[^和])((?:所有者|股东)权益(?:（或股东权益）)?合计)`,
	),
	rule(models.ItemCurrentAssets, Amount, `(?:^|[^非])(流动资产合计)`),
	rule(models.ItemCurrentLiabilities, Amount, `(?:^|[^非])(流动负债合计)`),
	rule(models.ItemCash, Amount, `货币资金`),
	rule(models.ItemAccountsReceivable, Amount, `(应收账款)(?:[^周融]|$)`),
	rule(models.ItemInventory, Amount, `(存货)(?:[^周跌]|$)`),
	rule(models.ItemOperatingCashFlow, Amount,
		`经营活动(?:产生|获得)?的现金流量净额`,
		`经营活动现金流量净额`,
	),
	rule(models.ItemInvestingCashFlow, Amount,
		`投资活动(?:产生|使用)?的现金流量净额`,
		`投资活动现金流量净额`,
	),
	rule(models.ItemFinancingCashFlow, Amount,
		`筹资活动(?:产生|使用)?的现金流量净额`,
		`筹资活动现金流量净额`,
	),
	rule(models.ItemSellingExpense, Amount, `销售费用`),
	rule(models.ItemAdminExpense, Amount, `管理费用`),
	rule(models.ItemRDExpense, Amount, `研发费用`, `研发投入(?:金额|合计)`),
	rule(models.ItemFinancialExpense, Amount, `财务费用`),
}
