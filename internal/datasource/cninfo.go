package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/pkg/models"
	"github.com/seenimoa/finreport/pkg/utils"
)

// Cninfo implements Source against cninfo.com.cn full-text search.
type Cninfo struct {
	*httpCore
	listingURL string
	staticURL  string
	pageSize   int
	cache      *infra.Cache
}

// CninfoConfig configures the cninfo client.
type CninfoConfig struct {
	Options
	ListingURL string
	StaticURL  string
	PageSize   int
	CacheTTL   time.Duration
}

// CninfoConfigFromConfig maps the source config section onto CninfoConfig.
func CninfoConfigFromConfig(cfg config.SourceConfig) CninfoConfig {
	return CninfoConfig{
		Options:    OptionsFromConfig(cfg),
		ListingURL: cfg.ListingURL,
		StaticURL:  cfg.StaticURL,
		PageSize:   cfg.PageSize,
		CacheTTL:   cfg.CacheTTL,
	}
}

// NewCninfo creates a cninfo client.
func NewCninfo(cfg CninfoConfig) *Cninfo {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &Cninfo{
		httpCore:   newHTTPCore(cfg.Options),
		listingURL: cfg.ListingURL,
		staticURL:  strings.TrimRight(cfg.StaticURL, "/") + "/",
		pageSize:   cfg.PageSize,
		cache:      infra.NewCache(cfg.CacheTTL),
	}
}

// --- cninfo response types ---

type cninfoSearchResponse struct {
	Announcements     []cninfoAnnouncement `json:"announcements"`
	TotalAnnouncement int                  `json:"totalAnnouncement"`
}

type cninfoAnnouncement struct {
	SecCode           string `json:"secCode"`
	SecName           string `json:"secName"`
	AnnouncementID    string `json:"announcementId"`
	AnnouncementTitle string `json:"announcementTitle"`
	AnnouncementTime  int64  `json:"announcementTime"` // ms since epoch
	AdjunctURL        string `json:"adjunctUrl"`
	AdjunctSize       int64  `json:"adjunctSize"` // KB
	AdjunctType       string `json:"adjunctType"`
}

// SearchReports queries full-text search for "<code> <year>年<kind keyword>"
// and keeps the listings that announce a full periodic report of that year.
// Results keep the site's order, which is publish date descending.
func (c *Cninfo) SearchReports(ctx context.Context, entity string, year int, kind models.ReportKind) ([]models.Listing, error) {
	code, err := utils.NormalizeStockCode(entity)
	if err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown report kind %q", models.ErrInvalidInput, kind)
	}

	cacheKey := fmt.Sprintf("%s/%d/%s", code, year, kind)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]models.Listing), nil
	}

	q := url.Values{}
	q.Set("searchkey", fmt.Sprintf("%s %d年%s", code, year, kind.Keyword()))
	q.Set("sdate", "")
	q.Set("edate", "")
	q.Set("isfulltext", "false")
	q.Set("sortName", "pubdate")
	q.Set("sortType", "desc")
	q.Set("pageNum", "1")
	q.Set("pageSize", fmt.Sprint(c.pageSize))

	resp, err := c.do(ctx, http.MethodGet, c.listingURL+"?"+q.Encode(), map[string]string{
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"X-Requested-With": "XMLHttpRequest",
	})
	if err != nil {
		return nil, fmt.Errorf("search %s %d %s: %w", code, year, kind, err)
	}

	var parsed cninfoSearchResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		// A 200 with an unparseable body is a site-side glitch, not our request.
		return nil, fmt.Errorf("%w: decode listing: %v", models.ErrNetwork, err)
	}

	listings := make([]models.Listing, 0, len(parsed.Announcements))
	for _, a := range parsed.Announcements {
		title := plainText(a.AnnouncementTitle)
		if a.SecCode != "" && a.SecCode != code {
			continue
		}
		if !AcceptTitle(title, year) {
			continue
		}
		if a.AdjunctURL == "" {
			continue
		}
		l := models.Listing{
			Title:       title,
			URL:         c.staticURL + strings.TrimLeft(a.AdjunctURL, "/"),
			CompanyName: plainText(a.SecName),
			Size:        a.AdjunctSize * 1024,
		}
		if a.AnnouncementTime > 0 {
			l.PublishedAt = time.UnixMilli(a.AnnouncementTime).In(utils.CST)
		}
		listings = append(listings, l)
	}

	c.logger.Debug("listing resolved",
		"entity", code, "year", year, "kind", kind,
		"returned", len(parsed.Announcements), "accepted", len(listings))

	c.cache.Set(cacheKey, listings)
	return listings, nil
}

// Download fetches a document binary.
func (c *Cninfo) Download(ctx context.Context, url string) (*Document, error) {
	return c.download(ctx, url)
}

// Head fetches remote metadata for a document.
func (c *Cninfo) Head(ctx context.Context, url string) (*RemoteMeta, error) {
	return c.head(ctx, url)
}

// AcceptTitle reports whether a listing title announces a full periodic
// report for year. Summaries, translations and cancellations are rejected;
// titles without a year are accepted.
func AcceptTitle(title string, year int) bool {
	if _, ok := models.ClassifyTitle(title); !ok {
		return false
	}
	if y, ok := models.TitleYear(title); ok && y != year {
		return false
	}
	return true
}

// plainText strips highlight markup such as <em>…</em> from listing fields.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
