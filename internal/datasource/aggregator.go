package datasource

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/pkg/models"
)

// Aggregator chains several sources. Listings come from the first source
// that returns any; downloads and HEAD requests go back to the source that listed
// the URL.
type Aggregator struct {
	sources []Source
	logger  *slog.Logger

	mu     sync.RWMutex
	origin map[string]Source
}

// NewAggregator creates an aggregator over sources, tried in order. At
// least one source is required.
func NewAggregator(logger *slog.Logger, sources ...Source) *Aggregator {
	return &Aggregator{
		sources: sources,
		logger:  infra.LoggerOrDefault(logger).With("component", "datasource"),
		origin:  make(map[string]Source),
	}
}

// Sources returns the chained sources.
func (a *Aggregator) Sources() []Source { return a.sources }

// SearchReports asks each source in turn. A source error is logged and the
// next source tried; the errors are returned only if no source produced
// listings and at least one failed.
func (a *Aggregator) SearchReports(ctx context.Context, entity string, year int, kind models.ReportKind) ([]models.Listing, error) {
	var errs []error
	for i, src := range a.sources {
		listings, err := src.SearchReports(ctx, entity, year, kind)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, models.ErrInvalidInput) {
				return nil, err
			}
			a.logger.Warn("source failed, trying next", "source", i, "entity", entity, "error", err)
			errs = append(errs, err)
			continue
		}
		if len(listings) == 0 {
			continue
		}
		a.mu.Lock()
		for _, l := range listings {
			a.origin[l.URL] = src
		}
		a.mu.Unlock()
		return listings, nil
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

// Download fetches url from the source that listed it.
func (a *Aggregator) Download(ctx context.Context, url string) (*Document, error) {
	return a.sourceFor(url).Download(ctx, url)
}

// Head checks url on the source that listed it.
func (a *Aggregator) Head(ctx context.Context, url string) (*RemoteMeta, error) {
	return a.sourceFor(url).Head(ctx, url)
}

func (a *Aggregator) sourceFor(url string) Source {
	a.mu.RLock()
	src, ok := a.origin[url]
	a.mu.RUnlock()
	if ok {
		return src
	}
	return a.sources[0]
}
