package fundamental

import (
	"github.com/shopspring/decimal"

	"github.com/seenimoa/finreport/pkg/models"
)

// CompareMetrics builds a period-over-period trend for every line item.
// The change is computable when both periods found the item; the percent
// change additionally needs a non-zero previous value and is measured
// against its magnitude, so a loss shrinking from -100 to -50 is +50%.
func CompareMetrics(current, previous models.FinancialMetrics) models.TrendSet {
	out := make(models.TrendSet, len(models.AllLineItems))
	for _, item := range models.AllLineItems {
		out[item] = compare(current.Get(item), previous.Get(item))
	}
	return out
}

func compare(cur, prev models.Amount) models.Trend {
	t := models.Trend{
		Current:       cur,
		Previous:      prev,
		Change:        models.Ratio{Unit: models.UnitMultiple},
		ChangePercent: models.Ratio{Unit: models.UnitPercent},
	}
	if !cur.Found || !prev.Found {
		reason := "missing current period"
		if cur.Found {
			reason = "missing previous period"
		}
		t.Change.Reason = reason
		t.ChangePercent.Reason = reason
		return t
	}

	c, p := decimal.NewFromFloat(cur.Value), decimal.NewFromFloat(prev.Value)
	diff := c.Sub(p)
	t.Change.Value = diff.Round(2).InexactFloat64()
	t.Change.Computable = true

	switch diff.Sign() {
	case 1:
		t.Direction = models.DirectionUp
	case -1:
		t.Direction = models.DirectionDown
	default:
		t.Direction = models.DirectionFlat
	}

	if p.IsZero() {
		t.ChangePercent.Reason = "previous period is zero"
		return t
	}
	t.ChangePercent.Value = diff.Div(p.Abs()).Mul(hundred).Round(2).InexactFloat64()
	t.ChangePercent.Computable = true
	return t
}
