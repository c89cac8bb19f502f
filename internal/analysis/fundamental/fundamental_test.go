package fundamental

import (
	"strings"
	"testing"

	"github.com/seenimoa/finreport/pkg/models"
)

func sampleMetrics() models.FinancialMetrics {
	m := models.NewFinancialMetrics()
	set := func(item models.LineItem, v float64) { m.Set(item, models.Value(v)) }
	set(models.ItemRevenue, 1000)
	set(models.ItemOperatingCost, 400)
	set(models.ItemOperatingProfit, 300)
	set(models.ItemNetIncome, 200)
	set(models.ItemTotalAssets, 3000)
	set(models.ItemTotalLiabilities, 900)
	set(models.ItemTotalEquity, 2100)
	set(models.ItemCurrentAssets, 1500)
	set(models.ItemCurrentLiabilities, 600)
	set(models.ItemInventory, 300)
	set(models.ItemCash, 700)
	set(models.ItemOperatingCashFlow, 260)
	set(models.ItemRDExpense, 33.333)
	return m
}

func TestComputeRatios(t *testing.T) {
	rs := ComputeRatios(sampleMetrics())

	tests := []struct {
		name string
		want float64
		unit models.RatioUnit
	}{
		{"gross_margin", 60, models.UnitPercent},
		{"operating_margin", 30, models.UnitPercent},
		{"net_margin", 20, models.UnitPercent},
		{"roe", 9.52, models.UnitPercent},
		{"roa", 6.67, models.UnitPercent},
		{"debt_to_assets", 30, models.UnitPercent},
		{"debt_to_equity", 0.43, models.UnitMultiple},
		{"current_ratio", 2.5, models.UnitMultiple},
		{"quick_ratio", 2, models.UnitMultiple},
		{"cash_ratio", 1.17, models.UnitMultiple},
		{"asset_turnover", 0.33, models.UnitMultiple},
		{"cash_flow_to_net_income", 1.3, models.UnitMultiple},
		{"rd_intensity", 3.33, models.UnitPercent},
	}
	for _, tt := range tests {
		r, ok := rs[tt.name]
		if !ok {
			t.Errorf("%s: missing from ratio set", tt.name)
			continue
		}
		if !r.Computable {
			t.Errorf("%s: expected computable, got reason %q", tt.name, r.Reason)
			continue
		}
		if r.Value != tt.want {
			t.Errorf("%s: expected %.2f, got %v", tt.name, tt.want, r.Value)
		}
		if r.Unit != tt.unit {
			t.Errorf("%s: expected unit %s, got %s", tt.name, tt.unit, r.Unit)
		}
	}

	if len(rs) != len(Formulas) {
		t.Errorf("expected %d ratios, got %d", len(Formulas), len(rs))
	}
}

func TestRatioMissingInputs(t *testing.T) {
	rs := ComputeRatios(sampleMetrics())
	for _, name := range []string{"selling_expense_ratio", "admin_expense_ratio", "financial_expense_ratio", "receivables_to_assets"} {
		r := rs[name]
		if r.Computable {
			t.Errorf("%s: expected not computable", name)
		}
		if !strings.HasPrefix(r.Reason, "missing ") {
			t.Errorf("%s: unexpected reason %q", name, r.Reason)
		}
	}

	rs = ComputeRatios(models.NewFinancialMetrics())
	for name, r := range rs {
		if r.Computable {
			t.Errorf("%s: computable from empty metrics", name)
		}
	}
}

func TestRatioDenominators(t *testing.T) {
	m := sampleMetrics()
	m.Set(models.ItemRevenue, models.Value(0))
	rs := ComputeRatios(m)
	if rs["net_margin"].Computable {
		t.Error("net margin on zero revenue must not be computable")
	}
	if rs["net_margin"].Reason != "denominator is zero" {
		t.Errorf("unexpected reason %q", rs["net_margin"].Reason)
	}

	m.Set(models.ItemRevenue, models.Value(-500))
	rs = ComputeRatios(m)
	if rs["gross_margin"].Computable {
		t.Error("gross margin on negative revenue must not be computable")
	}

	// Signed ratios accept negative denominators.
	m = sampleMetrics()
	m.Set(models.ItemTotalEquity, models.Value(-300))
	m.Set(models.ItemNetIncome, models.Value(-130))
	rs = ComputeRatios(m)
	if r := rs["debt_to_equity"]; !r.Computable || r.Value != -3 {
		t.Errorf("expected debt_to_equity -3, got %+v", r)
	}
	if r := rs["cash_flow_to_net_income"]; !r.Computable || r.Value != -2 {
		t.Errorf("expected cash_flow_to_net_income -2, got %+v", r)
	}
	if rs["roe"].Computable {
		t.Error("ROE on negative equity must not be computable")
	}
}

func TestRoundingHalfAwayFromZero(t *testing.T) {
	f := Formula{
		Name:        "x",
		Numerator:   []Term{plus(models.ItemNetIncome)},
		Denominator: []Term{plus(models.ItemRevenue)},
		Unit:        models.UnitMultiple,
	}
	m := models.NewFinancialMetrics()
	m.Set(models.ItemRevenue, models.Value(8))
	m.Set(models.ItemNetIncome, models.Value(-1))
	if r := f.Eval(m); r.Value != -0.13 {
		t.Errorf("expected -0.13, got %v", r.Value)
	}
	m.Set(models.ItemNetIncome, models.Value(1))
	if r := f.Eval(m); r.Value != 0.13 {
		t.Errorf("expected 0.13, got %v", r.Value)
	}
}

func TestCompareMetrics(t *testing.T) {
	cur := sampleMetrics()
	prev := models.NewFinancialMetrics()
	prev.Set(models.ItemRevenue, models.Value(800))
	prev.Set(models.ItemNetIncome, models.Value(-100))
	prev.Set(models.ItemTotalAssets, models.Value(3000))
	prev.Set(models.ItemCash, models.Value(0))

	ts := CompareMetrics(cur, prev)

	rev := ts[models.ItemRevenue]
	if !rev.ChangePercent.Computable || rev.ChangePercent.Value != 25 {
		t.Errorf("expected revenue +25%%, got %+v", rev.ChangePercent)
	}
	if rev.Change.Value != 200 || rev.Direction != models.DirectionUp {
		t.Errorf("unexpected revenue change %+v", rev)
	}

	ni := ts[models.ItemNetIncome]
	if ni.ChangePercent.Value != 300 || ni.Direction != models.DirectionUp {
		t.Errorf("expected loss-to-profit change of +300%%, got %+v", ni)
	}

	if ta := ts[models.ItemTotalAssets]; ta.Direction != models.DirectionFlat || ta.ChangePercent.Value != 0 {
		t.Errorf("expected flat total assets, got %+v", ta)
	}

	cash := ts[models.ItemCash]
	if !cash.Change.Computable || cash.ChangePercent.Computable {
		t.Errorf("change from zero has no percentage, got %+v", cash)
	}

	inv := ts[models.ItemInventory]
	if inv.Change.Computable || inv.Change.Reason != "missing previous period" || inv.Direction != "" {
		t.Errorf("expected missing previous period, got %+v", inv)
	}

	if len(ts) != len(models.AllLineItems) {
		t.Errorf("expected %d trends, got %d", len(models.AllLineItems), len(ts))
	}
}

func TestAssessFinancialHealth(t *testing.T) {
	m := sampleMetrics()
	rs := ComputeRatios(m)
	h := AssessFinancialHealth(rs, nil)

	if h.Score <= 0 || h.Score > 100 {
		t.Errorf("score out of range: %.2f", h.Score)
	}
	if h.Grade == "" {
		t.Error("expected a grade")
	}
	if _, ok := h.Components["growth"]; ok {
		t.Error("growth must not be scored without trends")
	}
	for _, c := range []string{"profitability", "solvency", "liquidity", "cash_flow"} {
		if _, ok := h.Components[c]; !ok {
			t.Errorf("missing component %s", c)
		}
	}
}

func TestAssessFinancialHealthNothingComputable(t *testing.T) {
	h := AssessFinancialHealth(ComputeRatios(models.NewFinancialMetrics()), nil)
	if h.Grade != "" || h.Score != 0 {
		t.Errorf("expected ungraded result, got %+v", h)
	}
}

func TestFormatFinancialSummary(t *testing.T) {
	m := sampleMetrics()
	rs := ComputeRatios(m)
	out := FormatFinancialSummary(m, rs, AssessFinancialHealth(rs, nil))

	for _, want := range []string{"Financial Health:", "Revenue: ¥1000.00", "Net income excl. non-recurring: n/a", "gross_margin: 60.00%", "current_ratio: 2.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "selling_expense_ratio") {
		t.Error("non-computable ratios must be omitted")
	}
}

func TestFormatTrendSummary(t *testing.T) {
	prev := models.NewFinancialMetrics()
	prev.Set(models.ItemRevenue, models.Value(800))
	out := FormatTrendSummary(CompareMetrics(sampleMetrics(), prev))

	for _, want := range []string{"Revenue: ¥800.00 -> ¥1000.00 (+25.00%)", "Total assets: n/a (missing previous period)"} {
		if !strings.Contains(out, want) {
			t.Errorf("trend summary missing %q:\n%s", want, out)
		}
	}
}
