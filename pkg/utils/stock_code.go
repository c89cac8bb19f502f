package utils

import (
	"fmt"
	"strings"

	"github.com/seenimoa/finreport/pkg/models"
)

// Exchange codes for A-share listings.
const (
	ExchangeSH = "SH" // Shanghai
	ExchangeSZ = "SZ" // Shenzhen
	ExchangeBJ = "BJ" // Beijing
)

// NormalizeStockCode reduces user input to the bare 6-digit A-share code.
// It accepts "600519", "sh600519", "SH600519", "600519.SH" and "600519.SS".
func NormalizeStockCode(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[:i]
	}
	for _, p := range []string{ExchangeSH, ExchangeSZ, ExchangeBJ} {
		code = strings.TrimPrefix(code, p)
	}
	if len(code) != 6 {
		return "", fmt.Errorf("%w: stock code %q must have 6 digits", models.ErrInvalidInput, s)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: stock code %q must be numeric", models.ErrInvalidInput, s)
		}
	}
	return code, nil
}

// ExchangeOf returns the exchange a normalized code trades on.
func ExchangeOf(code string) string {
	if code == "" {
		return ""
	}
	switch code[0] {
	case '6', '9':
		return ExchangeSH
	case '0', '2', '3':
		return ExchangeSZ
	case '4', '8':
		return ExchangeBJ
	}
	return ""
}
