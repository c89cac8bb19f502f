// Package models defines the core data types shared across finreport.
package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ReportKind classifies a periodic filing.
type ReportKind string

const (
	KindAnnual     ReportKind = "ANNUAL"
	KindSemiAnnual ReportKind = "SEMI_ANNUAL"
	KindQ1         ReportKind = "Q1"
	KindQ3         ReportKind = "Q3"
)

// AllKinds lists every supported report kind in calendar order of publication.
var AllKinds = []ReportKind{KindQ1, KindSemiAnnual, KindQ3, KindAnnual}

// kindInfo holds the stable slug and the title keyword used on disclosure sites.
var kindInfo = map[ReportKind]struct {
	slug    string
	keyword string
}{
	KindAnnual:     {"annual", "年度报告"},
	KindSemiAnnual: {"semi_annual", "半年度报告"},
	KindQ1:         {"q1", "第一季度报告"},
	KindQ3:         {"q3", "第三季度报告"},
}

// Valid reports whether k is one of the supported kinds.
func (k ReportKind) Valid() bool {
	_, ok := kindInfo[k]
	return ok
}

// Slug returns the lowercase path component for the kind, e.g. "semi_annual".
func (k ReportKind) Slug() string {
	return kindInfo[k].slug
}

// Keyword returns the Chinese title keyword for the kind, e.g. "年度报告".
func (k ReportKind) Keyword() string {
	return kindInfo[k].keyword
}

// ParseReportKind accepts the enum name, the slug, or the Chinese keyword
// (including the common short forms 年报, 半年报, 一季报, 三季报).
func ParseReportKind(s string) (ReportKind, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "ANNUAL", "年度报告", "年报":
		return KindAnnual, nil
	case "SEMI_ANNUAL", "SEMI-ANNUAL", "SEMIANNUAL", "H1", "半年度报告", "半年报":
		return KindSemiAnnual, nil
	case "Q1", "第一季度报告", "一季报":
		return KindQ1, nil
	case "Q3", "第三季度报告", "三季报":
		return KindQ3, nil
	}
	return "", fmt.Errorf("%w: unknown report kind %q", ErrInvalidInput, s)
}

// titleExclusions mark listings that are not the full report body.
var titleExclusions = []string{"摘要", "英文", "已取消", "取消", "更正前", "English"}

// ClassifyTitle returns the report kind a listing title announces, or false
// when the title is a summary, a translation, a cancellation, or unrelated.
func ClassifyTitle(title string) (ReportKind, bool) {
	for _, ex := range titleExclusions {
		if strings.Contains(title, ex) {
			return "", false
		}
	}
	switch {
	case strings.Contains(title, "半年度报告") || strings.Contains(title, "半年报"):
		return KindSemiAnnual, true
	case strings.Contains(title, "第一季度报告") || strings.Contains(title, "一季度报告"):
		return KindQ1, true
	case strings.Contains(title, "第三季度报告") || strings.Contains(title, "三季度报告"):
		return KindQ3, true
	case strings.Contains(title, "年度报告") || strings.Contains(title, "年报"):
		return KindAnnual, true
	}
	return "", false
}

var titleYear = regexp.MustCompile(`(19|20)\d{2}\s*年`)

// TitleYear extracts the fiscal year a title refers to ("2023年年度报告" → 2023).
func TitleYear(title string) (int, bool) {
	m := titleYear.FindString(title)
	if m == "" {
		return 0, false
	}
	var y int
	if _, err := fmt.Sscanf(m[:4], "%d", &y); err != nil {
		return 0, false
	}
	return y, true
}

// ReportIdentity uniquely identifies one logical report.
type ReportIdentity struct {
	EntityCode string     `json:"entity_code"`
	FiscalYear int        `json:"fiscal_year"`
	Kind       ReportKind `json:"report_kind"`
}

// Validate checks the identity fields.
func (id ReportIdentity) Validate() error {
	if id.EntityCode == "" {
		return fmt.Errorf("%w: entity code is required", ErrInvalidInput)
	}
	if strings.ContainsAny(id.EntityCode, `/\. `) {
		return fmt.Errorf("%w: malformed entity code %q", ErrInvalidInput, id.EntityCode)
	}
	maxYear := time.Now().Year() + 1
	if id.FiscalYear < 1990 || id.FiscalYear > maxYear {
		return fmt.Errorf("%w: fiscal year %d outside 1990..%d", ErrInvalidInput, id.FiscalYear, maxYear)
	}
	if !id.Kind.Valid() {
		return fmt.Errorf("%w: unknown report kind %q", ErrInvalidInput, id.Kind)
	}
	return nil
}

// Key returns a stable string key, e.g. "600519/2023/annual".
func (id ReportIdentity) Key() string {
	return fmt.Sprintf("%s/%d/%s", id.EntityCode, id.FiscalYear, id.Kind.Slug())
}

func (id ReportIdentity) String() string {
	return fmt.Sprintf("%s %d%s", id.EntityCode, id.FiscalYear, id.Kind.Keyword())
}

// Listing is one entry returned by a report-listing source.
type Listing struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	CompanyName string    `json:"company_name,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Size        int64     `json:"size,omitempty"` // declared bytes, 0 if unknown
}

// ReportRecord describes one stored report document.
type ReportRecord struct {
	Identity    ReportIdentity `json:"identity"`
	SourceURL   string         `json:"source_url"`
	BinaryPath  string         `json:"binary_path"`
	TextPath    string         `json:"text_path,omitempty"` // empty until extracted
	FetchedAt   time.Time      `json:"fetched_at"`
	Checksum    string         `json:"checksum"` // sha256 hex
	Size        int64          `json:"size"`
	ETag        string         `json:"etag,omitempty"`
	CompanyName string         `json:"company_name,omitempty"`
	Title       string         `json:"title,omitempty"`
	PublishedAt time.Time      `json:"published_at,omitempty"`
}

// HasText reports whether a text artifact has been produced for the record.
func (r *ReportRecord) HasText() bool {
	return r != nil && r.TextPath != ""
}

// ExtractedPage is the text of one page of a document.
type ExtractedPage struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	Error      string `json:"extraction_error,omitempty"`
}

// OK reports whether the page was extracted successfully.
func (p ExtractedPage) OK() bool {
	return p.Error == ""
}
