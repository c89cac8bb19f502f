// Package statement pulls line items out of the extracted text of a
// periodic report. Matching is table driven: see DefaultRules.
package statement

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/finreport/pkg/models"
)

// Extractor applies a rule table to report text.
type Extractor struct {
	rules []Rule
}

// New returns an extractor for rules, or DefaultRules when none are given.
func New(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Extractor{rules: rules}
}

// Extract resolves every line item. For each item its patterns are tried in
// order, and for each pattern the lines in document order; the first line
// where the label is followed by a usable number wins. Items with no match
// stay not found.
func (e *Extractor) Extract(text string) models.FinancialMetrics {
	m := models.NewFinancialMetrics()
	lines := strings.Split(text, "\n")
	units := declaredUnits(lines)

	for _, r := range e.rules {
		if a, ok := r.find(lines, units); ok {
			m.Set(r.Item, a)
		}
	}
	return m
}

// Extract runs DefaultRules over text.
func Extract(text string) models.FinancialMetrics {
	return New().Extract(text)
}

func (r Rule) find(lines []string, units []decimal.Decimal) (models.Amount, bool) {
	for _, p := range r.Patterns {
		for i, line := range lines {
			loc := p.FindStringSubmatchIndex(line)
			if loc == nil {
				continue
			}
			start, end := loc[0], loc[1]
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			rest := line[end:]

			scale := units[i]
			if u, ok := labelUnit(rest); ok {
				scale = u
			}
			if r.Kind == PerShare {
				scale = decimal.NewFromInt(1)
			}

			v, ok := firstValue(rest, scale, r.Kind == Amount)
			if !ok {
				continue
			}
			f, _ := v.Float64()
			return models.Amount{Value: f, Found: true, Label: line[start:end], Line: i + 1}, true
		}
	}
	return models.Amount{}, false
}

// ── Numbers ──

var numberToken = regexp.MustCompile(
	`([（(])?\s*([-−－])?(\d[\d,，]*(?:\.\d+)?)\s*([)）])?\s*(亿|万)?\s*([%％年月日])?`)

// noteColumn matches a statement note reference ending right before a
// number: 七、1 or （五）3.
var noteColumn = regexp.MustCompile(`(?:[一二三四五六七八九十]+、|[（(][一二三四五六七八九十]+[)）])\s*$`)

// firstValue returns the first number in s that is not a percentage, a date
// part, a note column (七、1) or glued to a word (注1, Q3). Inline 万/亿 suffixes are honoured for
// amounts and override scale.
func firstValue(s string, scale decimal.Decimal, inlineUnits bool) (decimal.Decimal, bool) {
	for _, loc := range numberToken.FindAllStringSubmatchIndex(s, -1) {
		group := func(n int) string {
			if loc[2*n] < 0 {
				return ""
			}
			return s[loc[2*n]:loc[2*n+1]]
		}
		if group(6) != "" {
			continue
		}
		// "注五、3)" style references close a bracket they never opened.
		if group(4) != "" && group(1) == "" {
			continue
		}
		if prev, _ := utf8.DecodeLastRuneInString(s[:loc[0]]); loc[0] > 0 && glued(prev) {
			continue
		}
		if noteColumn.MatchString(s[:loc[0]]) {
			continue
		}
		v, err := parseDigits(group(3))
		if err != nil {
			continue
		}
		if (group(1) != "" && group(4) != "") || group(2) != "" {
			v = v.Neg()
		}
		if inlineUnits && group(5) != "" {
			return v.Mul(suffixScale[group(5)]), true
		}
		return v.Mul(scale), true
	}
	return decimal.Decimal{}, false
}

// glued reports whether a number right after r is a reference, not a value.
func glued(r rune) bool {
	return (r < utf8.RuneSelf && unicode.IsLetter(r)) || r == '注' || r == '附'
}

// ParseAmount normalises one amount token: separators are stripped,
// parentheses and leading minus signs negate, 万/亿 suffixes scale.
func ParseAmount(token string) (float64, bool) {
	v, ok := firstValue(token, decimal.NewFromInt(1), true)
	if !ok {
		return 0, false
	}
	f, _ := v.Float64()
	return f, true
}

func parseDigits(s string) (decimal.Decimal, error) {
	s = strings.NewReplacer(",", "", "，", "").Replace(s)
	return decimal.NewFromString(s)
}

var suffixScale = map[string]decimal.Decimal{
	"万": decimal.NewFromInt(10_000),
	"亿": decimal.NewFromInt(100_000_000),
}

// ── Unit declarations ──

var unitScale = map[string]decimal.Decimal{
	"元":   decimal.NewFromInt(1),
	"千元":  decimal.NewFromInt(1_000),
	"万元":  decimal.NewFromInt(10_000),
	"百万元": decimal.NewFromInt(1_000_000),
	"亿元":  decimal.NewFromInt(100_000_000),
}

var (
	unitDeclaration = regexp.MustCompile(`单位\s*[：:]\s*(?:人民币)?\s*(百万元|千元|万元|亿元|元)`)
	labelUnitSuffix = regexp.MustCompile(`^\s*[（(]\s*(?:人民币)?\s*(百万元|千元|万元|亿元|元)\s*[)）]`)
)

// declaredUnits returns, for every line, the scale set by the most recent
// "单位：" declaration at or above it. Amounts default to yuan.
func declaredUnits(lines []string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(lines))
	current := unitScale["元"]
	for i, line := range lines {
		if m := unitDeclaration.FindStringSubmatch(line); m != nil {
			current = unitScale[m[1]]
		}
		out[i] = current
	}
	return out
}

// labelUnit reads a unit written right after the label, as in "营业收入（千元）".
func labelUnit(rest string) (decimal.Decimal, bool) {
	m := labelUnitSuffix.FindStringSubmatch(rest)
	if m == nil {
		return decimal.Decimal{}, false
	}
	return unitScale[m[1]], true
}
