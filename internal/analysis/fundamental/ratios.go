package fundamental

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/finreport/pkg/models"
)

// Term is a signed reference to a line item.
type Term struct {
	Item models.LineItem
	Sign int // +1 or -1
}

func plus(item models.LineItem) Term  { return Term{Item: item, Sign: 1} }
func minus(item models.LineItem) Term { return Term{Item: item, Sign: -1} }

// Formula declares one ratio as sum(numerator) / sum(denominator).
type Formula struct {
	Name         string
	Numerator    []Term
	Denominator  []Term
	Unit         models.RatioUnit
	PositiveOnly bool // denominator must be > 0, not just != 0
}

var (
	revenue     = []Term{plus(models.ItemRevenue)}
	totalAssets = []Term{plus(models.ItemTotalAssets)}
	equity      = []Term{plus(models.ItemTotalEquity)}
	currentLiab = []Term{plus(models.ItemCurrentLiabilities)}
)

// Formulas is the ratio table used by Compute.
var Formulas = []Formula{
	// Profitability.
	{"gross_margin", []Term{plus(models.ItemRevenue), minus(models.ItemOperatingCost)}, revenue, models.UnitPercent, true},
	{"operating_margin", []Term{plus(models.ItemOperatingProfit)}, revenue, models.UnitPercent, true},
	{"net_margin", []Term{plus(models.ItemNetIncome)}, revenue, models.UnitPercent, true},
	{"roe", []Term{plus(models.ItemNetIncome)}, equity, models.UnitPercent, true},
	{"roa", []Term{plus(models.ItemNetIncome)}, totalAssets, models.UnitPercent, true},

	// Leverage.
	{"debt_to_assets", []Term{plus(models.ItemTotalLiabilities)}, totalAssets, models.UnitPercent, true},
	{"debt_to_equity", []Term{plus(models.ItemTotalLiabilities)}, equity, models.UnitMultiple, false},

	// Liquidity.
	{"current_ratio", []Term{plus(models.ItemCurrentAssets)}, currentLiab, models.UnitMultiple, true},
	{"quick_ratio", []Term{plus(models.ItemCurrentAssets), minus(models.ItemInventory)}, currentLiab, models.UnitMultiple, true},
	{"cash_ratio", []Term{plus(models.ItemCash)}, currentLiab, models.UnitMultiple, true},

	// Efficiency and cost structure.
	{"asset_turnover", []Term{plus(models.ItemRevenue)}, totalAssets, models.UnitMultiple, true},
	{"cash_flow_to_net_income", []Term{plus(models.ItemOperatingCashFlow)}, []Term{plus(models.ItemNetIncome)}, models.UnitMultiple, false},
	{"rd_intensity", []Term{plus(models.ItemRDExpense)}, revenue, models.UnitPercent, true},
	{"selling_expense_ratio", []Term{plus(models.ItemSellingExpense)}, revenue, models.UnitPercent, true},
	{"admin_expense_ratio", []Term{plus(models.ItemAdminExpense)}, revenue, models.UnitPercent, true},
	{"financial_expense_ratio", []Term{plus(models.ItemFinancialExpense)}, revenue, models.UnitPercent, true},
	{"receivables_to_assets", []Term{plus(models.ItemAccountsReceivable)}, totalAssets, models.UnitPercent, true},
	{"inventory_to_assets", []Term{plus(models.ItemInventory)}, totalAssets, models.UnitPercent, true},
}

var hundred = decimal.NewFromInt(100)

// ComputeRatios evaluates every formula in Formulas against m.
func ComputeRatios(m models.FinancialMetrics) models.RatioSet {
	return Compute(m, Formulas)
}

// Compute evaluates formulas against m. A ratio is computable only when
// every referenced item was found and the denominator is valid; values are
// rounded to 2 decimals, half away from zero, after percent scaling.
func Compute(m models.FinancialMetrics, formulas []Formula) models.RatioSet {
	out := make(models.RatioSet, len(formulas))
	for _, f := range formulas {
		out[f.Name] = f.Eval(m)
	}
	return out
}

// Eval computes a single ratio.
func (f Formula) Eval(m models.FinancialMetrics) models.Ratio {
	r := models.Ratio{Unit: f.Unit}

	num, missing := sum(m, f.Numerator)
	den, missingDen := sum(m, f.Denominator)
	missing = append(missing, missingDen...)
	if len(missing) > 0 {
		r.Reason = "missing " + strings.Join(missing, ", ")
		return r
	}

	switch {
	case den.IsZero():
		r.Reason = "denominator is zero"
		return r
	case f.PositiveOnly && den.IsNegative():
		r.Reason = fmt.Sprintf("denominator %s is negative", den.String())
		return r
	}

	v := num.Div(den)
	if f.Unit == models.UnitPercent {
		v = v.Mul(hundred)
	}
	r.Value = v.Round(2).InexactFloat64()
	r.Computable = true
	return r
}

func sum(m models.FinancialMetrics, terms []Term) (decimal.Decimal, []string) {
	total := decimal.Zero
	var missing []string
	for _, t := range terms {
		a := m.Get(t.Item)
		if !a.Found {
			missing = append(missing, string(t.Item))
			continue
		}
		v := decimal.NewFromFloat(a.Value)
		if t.Sign < 0 {
			v = v.Neg()
		}
		total = total.Add(v)
	}
	return total, missing
}
