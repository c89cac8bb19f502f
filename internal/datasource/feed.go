package datasource

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/pkg/models"
	"github.com/seenimoa/finreport/pkg/utils"
)

// Feed implements Source over an RSS/Atom announcement feed. The URL
// template may contain {code}, {year} and {kind} placeholders. Documents
// are taken from a PDF enclosure when present, else from the item link.
type Feed struct {
	*httpCore
	urlTemplate string
	parser      *gofeed.Parser
}

// FeedConfig configures the feed client.
type FeedConfig struct {
	Options
	URLTemplate string
}

// FeedConfigFromConfig maps the source config section onto FeedConfig.
func FeedConfigFromConfig(cfg config.SourceConfig) FeedConfig {
	return FeedConfig{Options: OptionsFromConfig(cfg), URLTemplate: cfg.FeedURL}
}

// NewFeed creates a feed client.
func NewFeed(cfg FeedConfig) *Feed {
	return &Feed{
		httpCore:    newHTTPCore(cfg.Options),
		urlTemplate: cfg.URLTemplate,
		parser:      gofeed.NewParser(),
	}
}

// SearchReports reads the feed and keeps the items announcing the report.
func (f *Feed) SearchReports(ctx context.Context, entity string, year int, kind models.ReportKind) ([]models.Listing, error) {
	code, err := utils.NormalizeStockCode(entity)
	if err != nil {
		return nil, err
	}

	feedURL := strings.NewReplacer(
		"{code}", code,
		"{year}", fmt.Sprint(year),
		"{kind}", kind.Slug(),
	).Replace(f.urlTemplate)

	resp, err := f.do(ctx, http.MethodGet, feedURL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	})
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedURL, err)
	}

	feed, err := f.parser.Parse(bytes.NewReader(resp.body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed %s: %v", models.ErrNetwork, feedURL, err)
	}

	var listings []models.Listing
	for _, item := range feed.Items {
		title := plainText(item.Title)
		if got, ok := models.ClassifyTitle(title); !ok || got != kind || !AcceptTitle(title, year) {
			continue
		}
		link := documentLink(item)
		if link == "" {
			continue
		}
		l := models.Listing{Title: title, URL: link}
		if item.PublishedParsed != nil {
			l.PublishedAt = item.PublishedParsed.In(utils.CST)
		}
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			l.CompanyName = item.Authors[0].Name
		}
		listings = append(listings, l)
	}

	f.logger.Debug("feed resolved", "entity", code, "year", year, "kind", kind,
		"items", len(feed.Items), "accepted", len(listings))
	return listings, nil
}

// Download fetches a document binary.
func (f *Feed) Download(ctx context.Context, url string) (*Document, error) {
	return f.download(ctx, url)
}

// Head fetches remote metadata for a document.
func (f *Feed) Head(ctx context.Context, url string) (*RemoteMeta, error) {
	return f.head(ctx, url)
}

func documentLink(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.Contains(enc.Type, "pdf") || strings.HasSuffix(strings.ToLower(enc.URL), ".pdf") {
			return enc.URL
		}
	}
	return item.Link
}
