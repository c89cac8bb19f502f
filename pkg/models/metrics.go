package models

import (
	"encoding/json"
	"sort"
)

// LineItem names one financial statement field.
type LineItem string

const (
	ItemRevenue             LineItem = "revenue"
	ItemOperatingCost       LineItem = "operating_cost"
	ItemOperatingProfit     LineItem = "operating_profit"
	ItemTotalProfit         LineItem = "total_profit"
	ItemNetIncome           LineItem = "net_income"
	ItemNetIncomeDeducted   LineItem = "net_income_deducted"
	ItemEPSBasic            LineItem = "eps_basic"
	ItemTotalAssets         LineItem = "total_assets"
	ItemTotalLiabilities    LineItem = "total_liabilities"
	ItemTotalEquity         LineItem = "total_equity"
	ItemCurrentAssets       LineItem = "current_assets"
	ItemCurrentLiabilities  LineItem = "current_liabilities"
	ItemCash                LineItem = "cash"
	ItemAccountsReceivable  LineItem = "accounts_receivable"
	ItemInventory           LineItem = "inventory"
	ItemOperatingCashFlow   LineItem = "operating_cash_flow"
	ItemInvestingCashFlow   LineItem = "investing_cash_flow"
	ItemFinancingCashFlow   LineItem = "financing_cash_flow"
	ItemSellingExpense      LineItem = "selling_expense"
	ItemAdminExpense        LineItem = "admin_expense"
	ItemRDExpense           LineItem = "rd_expense"
	ItemFinancialExpense    LineItem = "financial_expense"
)

// AllLineItems is the fixed set every FinancialMetrics carries.
var AllLineItems = []LineItem{
	ItemRevenue, ItemOperatingCost, ItemOperatingProfit, ItemTotalProfit,
	ItemNetIncome, ItemNetIncomeDeducted, ItemEPSBasic,
	ItemTotalAssets, ItemTotalLiabilities, ItemTotalEquity,
	ItemCurrentAssets, ItemCurrentLiabilities, ItemCash,
	ItemAccountsReceivable, ItemInventory,
	ItemOperatingCashFlow, ItemInvestingCashFlow, ItemFinancingCashFlow,
	ItemSellingExpense, ItemAdminExpense, ItemRDExpense, ItemFinancialExpense,
}

// Amount is an optional extracted value. Found=false means "not found",
// which is distinct from a found zero.
type Amount struct {
	Value float64
	Found bool
	Label string // matched label, provenance only
	Line  int    // 1-based line number, provenance only
}

// Value constructs a found amount.
func Value(v float64) Amount { return Amount{Value: v, Found: true} }

// Missing is the "not found" amount.
func Missing() Amount { return Amount{} }

const (
	StatusFound         = "found"
	StatusNotFound      = "not_found"
	StatusComputed      = "computed"
	StatusNotComputable = "not_computable"
)

type amountJSON struct {
	Value  *float64 `json:"value"`
	Status string   `json:"status"`
	Label  string   `json:"label,omitempty"`
	Line   int      `json:"line,omitempty"`
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Found {
		return json.Marshal(amountJSON{Status: StatusNotFound})
	}
	v := a.Value
	return json.Marshal(amountJSON{Value: &v, Status: StatusFound, Label: a.Label, Line: a.Line})
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw amountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Amount{Label: raw.Label, Line: raw.Line}
	if raw.Status == StatusFound && raw.Value != nil {
		a.Value = *raw.Value
		a.Found = true
	}
	return nil
}

// FinancialMetrics maps every line item to an Amount.
type FinancialMetrics struct {
	Items map[LineItem]Amount `json:"items"`
	Unit  string              `json:"unit"` // base unit of amounts, always "CNY"
}

// NewFinancialMetrics returns metrics with every line item marked not found.
func NewFinancialMetrics() FinancialMetrics {
	m := FinancialMetrics{Items: make(map[LineItem]Amount, len(AllLineItems)), Unit: "CNY"}
	for _, item := range AllLineItems {
		m.Items[item] = Missing()
	}
	return m
}

// Get returns the amount for item; unknown items are not found.
func (m FinancialMetrics) Get(item LineItem) Amount {
	return m.Items[item]
}

// Set records a found value for item.
func (m FinancialMetrics) Set(item LineItem, a Amount) {
	a.Found = true
	m.Items[item] = a
}

// FoundCount returns how many line items were resolved.
func (m FinancialMetrics) FoundCount() int {
	n := 0
	for _, a := range m.Items {
		if a.Found {
			n++
		}
	}
	return n
}

// RatioUnit distinguishes percentages from multiples.
type RatioUnit string

const (
	UnitPercent  RatioUnit = "percent"
	UnitMultiple RatioUnit = "multiple"
)

// Ratio is an optional derived value. Computable=false means the inputs
// were missing or the denominator was invalid.
type Ratio struct {
	Value      float64
	Computable bool
	Unit       RatioUnit
	Reason     string // why a ratio is not computable
}

type ratioJSON struct {
	Value  *float64  `json:"value"`
	Unit   RatioUnit `json:"unit"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Computable {
		return json.Marshal(ratioJSON{Unit: r.Unit, Status: StatusNotComputable, Reason: r.Reason})
	}
	v := r.Value
	return json.Marshal(ratioJSON{Value: &v, Unit: r.Unit, Status: StatusComputed})
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	var raw ratioJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Ratio{Unit: raw.Unit, Reason: raw.Reason}
	if raw.Status == StatusComputed && raw.Value != nil {
		r.Value = *raw.Value
		r.Computable = true
	}
	return nil
}

// RatioSet maps ratio name to Ratio.
type RatioSet map[string]Ratio

// Names returns the ratio names sorted alphabetically.
func (rs RatioSet) Names() []string {
	names := make([]string, 0, len(rs))
	for n := range rs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Direction of a period-over-period change.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// Trend compares one line item across two periods.
type Trend struct {
	Current       Amount    `json:"current"`
	Previous      Amount    `json:"previous"`
	Change        Ratio     `json:"change"`         // absolute difference, multiple
	ChangePercent Ratio     `json:"change_percent"` // relative to previous
	Direction     Direction `json:"direction,omitempty"`
}

// TrendSet maps line item to its trend.
type TrendSet map[LineItem]Trend
