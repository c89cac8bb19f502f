package utils

import (
	"time"

	"github.com/seenimoa/finreport/pkg/models"
)

// CST is China Standard Time (UTC+8), the zone disclosure timestamps use.
var CST *time.Location

func init() {
	var err error
	CST, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		CST = time.FixedZone("CST", 8*60*60)
	}
}

// NowCST returns the current time in CST.
func NowCST() time.Time {
	return time.Now().In(CST)
}

// LatestPublishedYear returns the most recent fiscal year whose report of
// the given deadline month is expected to be out at t. Annual reports are
// due by end of April, semi-annual by end of August, Q1 by end of April and
// Q3 by end of October of the same year.
func LatestPublishedYear(t time.Time, deadline time.Month, sameYear bool) int {
	t = t.In(CST)
	y := t.Year()
	if !sameYear {
		y--
	}
	if t.Month() <= deadline {
		y--
	}
	return y
}

// DefaultYear returns the latest fiscal year for which a report of kind
// should already be published at t.
func DefaultYear(kind models.ReportKind, t time.Time) int {
	switch kind {
	case models.KindSemiAnnual:
		return LatestPublishedYear(t, time.August, true)
	case models.KindQ1:
		return LatestPublishedYear(t, time.April, true)
	case models.KindQ3:
		return LatestPublishedYear(t, time.October, true)
	default:
		return LatestPublishedYear(t, time.April, false)
	}
}
