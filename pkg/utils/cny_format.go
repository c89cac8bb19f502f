// Package utils provides common utility functions for finreport.
package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatCNY formats an amount with Western thousands grouping (¥1,234,567.89).
func FormatCNY(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	s := fmt.Sprintf("%.2f", amount)
	intPart, decPart := s[:len(s)-3], s[len(s)-3:]
	formatted := groupThousands(intPart) + decPart

	if negative {
		return "-¥" + formatted
	}
	return "¥" + formatted
}

// FormatCNYCompact formats an amount in 万/亿 notation.
// e.g., 123456 → "¥12.35万", 2345678901 → "¥23.46亿"
func FormatCNYCompact(amount float64) string {
	prefix := "¥"
	if amount < 0 {
		prefix = "-¥"
	}
	amount = math.Abs(amount)

	switch {
	case amount >= 1e8:
		return fmt.Sprintf("%s%s亿", prefix, formatWithDecimals(amount/1e8))
	case amount >= 1e4:
		return fmt.Sprintf("%s%s万", prefix, formatWithDecimals(amount/1e4))
	default:
		return fmt.Sprintf("%s%.2f", prefix, amount)
	}
}

// ToWan converts a raw amount to 万 (10^4).
func ToWan(amount float64) float64 { return amount / 1e4 }

// ToYi converts a raw amount to 亿 (10^8).
func ToYi(amount float64) float64 { return amount / 1e8 }

// FormatPct formats a percentage value with sign and suffix.
// e.g., 2.45 → "+2.45%", -1.23 → "-1.23%"
func FormatPct(pct float64) string {
	if pct >= 0 {
		return fmt.Sprintf("+%.2f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}

// groupThousands inserts commas every 3 digits from the right.
func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatWithDecimals formats a number with up to 2 decimal places,
// removing trailing zeros.
func formatWithDecimals(n float64) string {
	s := fmt.Sprintf("%.2f", n)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
