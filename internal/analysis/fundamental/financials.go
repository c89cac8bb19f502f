package fundamental

import (
	"fmt"
	"strings"

	"github.com/seenimoa/finreport/pkg/models"
	"github.com/seenimoa/finreport/pkg/utils"
)

// FinancialHealth scores the overall financial robustness of a company.
type FinancialHealth struct {
	Score      float64            `json:"score"`      // 0-100 over the components that could be scored
	Grade      string             `json:"grade"`      // "A+", "A", "B+", "B", "C", "D", or "" when nothing was scored
	Strengths  []string           `json:"strengths"`  // positive factors
	Weaknesses []string           `json:"weaknesses"` // negative factors
	Components map[string]float64 `json:"components"` // individual component scores
}

// AssessFinancialHealth scores profitability, solvency, liquidity, cash
// quality and growth. A component whose ratios are not computable is left
// out of both the score and the weight. trends may be nil.
func AssessFinancialHealth(ratios models.RatioSet, trends models.TrendSet) FinancialHealth {
	h := FinancialHealth{Components: make(map[string]float64)}

	totalScore := 0.0
	totalWeight := 0.0
	add := func(name string, score, weight float64) {
		h.Components[name] = score
		totalScore += score
		totalWeight += weight
	}

	// Profitability (30 points).
	if roe, ok := value(ratios, "roe"); ok {
		score := 0.0
		if roe > 20 {
			score += 15
			h.Strengths = append(h.Strengths, fmt.Sprintf("High ROE: %.1f%%", roe))
		} else if roe > 10 {
			score += 9
		} else if roe > 0 {
			score += 4
		} else {
			h.Weaknesses = append(h.Weaknesses, "Negative or zero ROE")
		}
		weight := 15.0
		if nm, ok := value(ratios, "net_margin"); ok {
			weight += 15
			if nm > 20 {
				score += 15
				h.Strengths = append(h.Strengths, fmt.Sprintf("Strong net margin: %.1f%%", nm))
			} else if nm > 8 {
				score += 9
			} else if nm > 0 {
				score += 4
			} else {
				h.Weaknesses = append(h.Weaknesses, "Loss-making")
			}
		}
		add("profitability", score, weight)
	}

	// Solvency (25 points).
	if da, ok := value(ratios, "debt_to_assets"); ok {
		score := 0.0
		if da < 40 {
			score = 25
			h.Strengths = append(h.Strengths, fmt.Sprintf("Low leverage: %.1f%% debt to assets", da))
		} else if da < 60 {
			score = 15
		} else if da < 80 {
			score = 6
		} else {
			h.Weaknesses = append(h.Weaknesses, fmt.Sprintf("High leverage: %.1f%% debt to assets", da))
		}
		add("solvency", score, 25)
	}

	// Liquidity (15 points).
	if cr, ok := value(ratios, "current_ratio"); ok {
		score := 0.0
		if cr > 2 {
			score = 15
			h.Strengths = append(h.Strengths, "Strong current ratio")
		} else if cr > 1.5 {
			score = 12
		} else if cr > 1 {
			score = 7
		} else {
			h.Weaknesses = append(h.Weaknesses, fmt.Sprintf("Weak current ratio: %.2f", cr))
		}
		add("liquidity", score, 15)
	}

	// Cash quality (10 points).
	if cf, ok := value(ratios, "cash_flow_to_net_income"); ok {
		score := 0.0
		if cf >= 1 {
			score = 10
			h.Strengths = append(h.Strengths, "Operating cash flow covers net income")
		} else if cf > 0.5 {
			score = 5
		} else {
			h.Weaknesses = append(h.Weaknesses, "Earnings poorly backed by cash flow")
		}
		add("cash_flow", score, 10)
	}

	// Growth (20 points).
	if trends != nil {
		weight, score := 0.0, 0.0
		for _, g := range []struct {
			item  models.LineItem
			label string
		}{
			{models.ItemRevenue, "revenue"},
			{models.ItemNetIncome, "profits"},
		} {
			pct := trends[g.item].ChangePercent
			if !pct.Computable {
				continue
			}
			weight += 10
			if pct.Value > 20 {
				score += 10
				h.Strengths = append(h.Strengths, fmt.Sprintf("Strong %s growth: %.1f%%", g.label, pct.Value))
			} else if pct.Value > 10 {
				score += 6
			} else if pct.Value > 0 {
				score += 3
			} else {
				h.Weaknesses = append(h.Weaknesses, "Declining "+g.label)
			}
		}
		if weight > 0 {
			add("growth", score, weight)
		}
	}

	if totalWeight == 0 {
		return h
	}
	h.Score = totalScore / totalWeight * 100

	switch {
	case h.Score >= 85:
		h.Grade = "A+"
	case h.Score >= 70:
		h.Grade = "A"
	case h.Score >= 55:
		h.Grade = "B+"
	case h.Score >= 40:
		h.Grade = "B"
	case h.Score >= 25:
		h.Grade = "C"
	default:
		h.Grade = "D"
	}

	return h
}

func value(ratios models.RatioSet, name string) (float64, bool) {
	r, ok := ratios[name]
	if !ok || !r.Computable {
		return 0, false
	}
	return r.Value, true
}

// summaryItems are the line items shown in FormatFinancialSummary.
var summaryItems = []struct {
	item  models.LineItem
	label string
}{
	{models.ItemRevenue, "Revenue"},
	{models.ItemNetIncome, "Net income (parent)"},
	{models.ItemNetIncomeDeducted, "Net income excl. non-recurring"},
	{models.ItemTotalAssets, "Total assets"},
	{models.ItemTotalLiabilities, "Total liabilities"},
	{models.ItemTotalEquity, "Equity (parent)"},
	{models.ItemOperatingCashFlow, "Operating cash flow"},
}

// FormatFinancialSummary renders key figures, ratios and the health grade
// as plain text. Not-found values are printed as "n/a".
func FormatFinancialSummary(m models.FinancialMetrics, ratios models.RatioSet, health FinancialHealth) string {
	var b strings.Builder

	if health.Grade != "" {
		b.WriteString(fmt.Sprintf("Financial Health: %s (%.0f/100)\n", health.Grade, health.Score))
	}
	for _, s := range summaryItems {
		a := m.Get(s.item)
		v := "n/a"
		if a.Found {
			v = utils.FormatCNYCompact(a.Value)
		}
		b.WriteString(fmt.Sprintf("%s: %s\n", s.label, v))
	}
	if eps := m.Get(models.ItemEPSBasic); eps.Found {
		b.WriteString(fmt.Sprintf("Basic EPS: %.2f\n", eps.Value))
	}

	for _, name := range ratios.Names() {
		r := ratios[name]
		if !r.Computable {
			continue
		}
		if r.Unit == models.UnitPercent {
			b.WriteString(fmt.Sprintf("%s: %.2f%%\n", name, r.Value))
		} else {
			b.WriteString(fmt.Sprintf("%s: %.2f\n", name, r.Value))
		}
	}

	if len(health.Strengths) > 0 {
		b.WriteString("Strengths: ")
		b.WriteString(strings.Join(health.Strengths, "; "))
		b.WriteString("\n")
	}
	if len(health.Weaknesses) > 0 {
		b.WriteString("Weaknesses: ")
		b.WriteString(strings.Join(health.Weaknesses, "; "))
		b.WriteString("\n")
	}

	return b.String()
}

// FormatTrendSummary renders the period-over-period change of the key
// figures. Items missing from either period are printed as "n/a".
func FormatTrendSummary(trends models.TrendSet) string {
	var b strings.Builder
	for _, s := range summaryItems {
		tr, ok := trends[s.item]
		if !ok {
			continue
		}
		if !tr.Change.Computable {
			b.WriteString(fmt.Sprintf("%s: n/a (%s)\n", s.label, tr.Change.Reason))
			continue
		}
		line := fmt.Sprintf("%s: %s -> %s", s.label,
			utils.FormatCNYCompact(tr.Previous.Value), utils.FormatCNYCompact(tr.Current.Value))
		if tr.ChangePercent.Computable {
			line += " (" + utils.FormatPct(tr.ChangePercent.Value) + ")"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
