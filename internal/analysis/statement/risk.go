package statement

import (
	"regexp"
	"strings"
)

var (
	// A risk heading starts a line, optionally after an outline number
	// such as "四、", "（四）" or "1.".
	riskHeading = regexp.MustCompile(
		`(?m)^[ \t]*(?:[（(]?[一二三四五六七八九十\d]+[)）、.．][ \t]*)?(?:公司)?(?:可能面对的风险|重大风险提示|风险因素|风险提示)[^\n]*\n`)
	sectionHeading = regexp.MustCompile(`(?m)^[ \t]*第[一二三四五六七八九十]+节`)
)

// ExtractRiskSection returns the body of the first risk heading, up to the
// next "第N节" section heading, truncated to maxChars runes. It returns ""
// when the text has no risk heading. maxChars <= 0 means no limit.
func ExtractRiskSection(text string, maxChars int) string {
	loc := riskHeading.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	body := text[loc[1]:]
	if end := sectionHeading.FindStringIndex(body); end != nil {
		body = body[:end[0]]
	}
	body = strings.TrimSpace(body)

	if maxChars > 0 {
		if r := []rune(body); len(r) > maxChars {
			body = strings.TrimSpace(string(r[:maxChars]))
		}
	}
	return body
}
