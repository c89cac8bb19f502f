// Package fetch resolves (entity, year, kind) requests into stored report
// documents: search the source, pick the best listing, skip the download
// when the stored copy is current, otherwise download, verify and persist.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/seenimoa/finreport/internal/datasource"
	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/internal/store"
	"github.com/seenimoa/finreport/pkg/models"
	"github.com/seenimoa/finreport/pkg/utils"
)

// Repository is the subset of the document store the orchestrator uses.
type Repository interface {
	Get(id models.ReportIdentity) (models.ReportRecord, error)
	Put(id models.ReportIdentity, data []byte, meta store.Meta) (models.ReportRecord, error)
}

// ErrCorrupt marks a downloaded body that is not a complete PDF.
var ErrCorrupt = errors.New("corrupt document")

// EventType names a fetch lifecycle event.
type EventType string

const (
	EventStarted    EventType = "fetch.started"
	EventCached     EventType = "fetch.cached"
	EventDownloaded EventType = "fetch.downloaded"
	EventFailed     EventType = "fetch.failed"
)

// Event is emitted to the observer as a fetch progresses.
type Event struct {
	ID        string                `json:"id"`
	Type      EventType             `json:"type"`
	Identity  models.ReportIdentity `json:"identity"`
	Record    *models.ReportRecord  `json:"record,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
	Time      time.Time             `json:"time"`
}

// Observer receives events. It must not block.
type Observer func(Event)

// Config wires the orchestrator's collaborators.
type Config struct {
	Source      datasource.Source
	Store       Repository
	Observer    Observer
	Logger      *slog.Logger
	Concurrency int           // FetchRange parallelism, default 2
	Timeout     time.Duration // bound on one shared fetch, default 10m
}

// Orchestrator implements Fetch and FetchRange.
type Orchestrator struct {
	source      datasource.Source
	store       Repository
	observer    Observer
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
	group       singleflight.Group
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Orchestrator{
		source:      cfg.Source,
		store:       cfg.Store,
		observer:    cfg.Observer,
		logger:      infra.LoggerOrDefault(cfg.Logger).With("component", "fetch"),
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
	}
}

// Fetch returns the stored record for the report, downloading it when the
// local copy is missing or stale. Concurrent calls for the same identity
// share one execution. The shared execution is detached from any single
// caller's cancellation and bounded by the configured timeout; each caller
// may still abandon its wait through ctx.
func (o *Orchestrator) Fetch(ctx context.Context, entity string, year int, kind models.ReportKind) (models.ReportRecord, error) {
	code, err := utils.NormalizeStockCode(entity)
	if err != nil {
		return models.ReportRecord{}, err
	}
	id := models.ReportIdentity{EntityCode: code, FiscalYear: year, Kind: kind}
	if err := id.Validate(); err != nil {
		return models.ReportRecord{}, err
	}

	ch := o.group.DoChan(id.Key(), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		return o.fetch(shared, id)
	})
	select {
	case <-ctx.Done():
		return models.ReportRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.ReportRecord{}, res.Err
		}
		return res.Val.(models.ReportRecord), nil
	}
}

func (o *Orchestrator) fetch(ctx context.Context, id models.ReportIdentity) (rec models.ReportRecord, err error) {
	log := o.logger.With("report", id.Key())
	o.emit(Event{Type: EventStarted, Identity: id})
	defer func() {
		if err != nil {
			log.Warn("fetch failed", "error", err, "kind", models.ErrorKind(err))
			o.emit(Event{Type: EventFailed, Identity: id, Error: err.Error(), ErrorKind: models.ErrorKind(err)})
		}
	}()

	listings, err := o.source.SearchReports(ctx, id.EntityCode, id.FiscalYear, id.Kind)
	if err != nil {
		return models.ReportRecord{}, err
	}
	if len(listings) == 0 {
		return models.ReportRecord{}, fmt.Errorf("%w: no listing for %s", models.ErrNotFound, id)
	}
	best, ok := PickBest(listings, id)
	if !ok {
		return models.ReportRecord{}, fmt.Errorf("%w: %d listings for %s, none of kind %s", models.ErrNotFound, len(listings), id, id.Kind)
	}
	log = log.With("url", best.URL)

	existing, err := o.store.Get(id)
	switch {
	case err == nil:
		if existing.SourceURL == best.URL && o.current(ctx, existing) {
			log.Info("stored copy is current")
			o.emit(Event{Type: EventCached, Identity: id, Record: &existing})
			return existing, nil
		}
	case !errors.Is(err, models.ErrNotFound):
		return models.ReportRecord{}, err
	}

	doc, err := o.source.Download(ctx, best.URL)
	if err != nil {
		return models.ReportRecord{}, err
	}
	if err := VerifyPDF(doc.Body, doc.ContentLength); err != nil {
		return models.ReportRecord{}, fmt.Errorf("%w: %s: %w", models.ErrNetwork, best.URL, err)
	}

	rec, err = o.store.Put(id, doc.Body, store.Meta{
		SourceURL:   best.URL,
		ETag:        doc.ETag,
		CompanyName: best.CompanyName,
		Title:       best.Title,
		PublishedAt: best.PublishedAt,
	})
	if err != nil {
		return models.ReportRecord{}, err
	}

	log.Info("report fetched", "bytes", rec.Size, "checksum", rec.Checksum)
	o.emit(Event{Type: EventDownloaded, Identity: id, Record: &rec})
	return rec, nil
}

// current checks the remote document. An ETag match, or a length match
// when either side lacks an ETag, means the stored copy is current. HEAD
// failures are not fatal: the caller re-downloads and the store's checksum
// comparison decides.
func (o *Orchestrator) current(ctx context.Context, rec models.ReportRecord) bool {
	meta, err := o.source.Head(ctx, rec.SourceURL)
	if err != nil {
		o.logger.Debug("head failed, re-downloading", "report", rec.Identity.Key(), "error", err)
		return false
	}
	if meta.ETag != "" && rec.ETag != "" {
		return meta.ETag == rec.ETag
	}
	return meta.ContentLength >= 0 && meta.ContentLength == rec.Size
}

// PickBest chooses the listing for id. Titles announcing exactly the
// requested kind and year rank first; titles of the right kind with no
// year rank second; anything else is never chosen. Ties keep listing
// order, which the source returns newest first.
func PickBest(listings []models.Listing, id models.ReportIdentity) (models.Listing, bool) {
	bestScore := 0
	var best models.Listing
	for _, l := range listings {
		s := score(l, id)
		if s > bestScore {
			best, bestScore = l, s
		}
	}
	return best, bestScore > 0
}

func score(l models.Listing, id models.ReportIdentity) int {
	kind, ok := models.ClassifyTitle(l.Title)
	if !ok || kind != id.Kind {
		return 0
	}
	y, hasYear := models.TitleYear(l.Title)
	switch {
	case hasYear && y == id.FiscalYear:
		return 2
	case !hasYear:
		return 1
	}
	return 0
}

// VerifyPDF rejects bodies that are shorter than declared, do not start
// with the PDF header, or lack an end-of-file marker near the end.
// declared < 0 means the length is unknown.
func VerifyPDF(body []byte, declared int64) error {
	if declared >= 0 && int64(len(body)) != declared {
		return fmt.Errorf("%w: got %d of %d bytes", datasource.ErrTruncated, len(body), declared)
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		return fmt.Errorf("%w: missing %%PDF- header", ErrCorrupt)
	}
	tail := body
	if len(tail) > 1024 {
		tail = tail[len(tail)-1024:]
	}
	if !bytes.Contains(tail, []byte("%%EOF")) {
		return fmt.Errorf("%w: missing %%%%EOF trailer", datasource.ErrTruncated)
	}
	return nil
}

// Outcome is the result of one year of a range fetch.
type Outcome struct {
	Identity  models.ReportIdentity `json:"identity"`
	Record    *models.ReportRecord  `json:"record,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
}

// FetchRange fetches kind for every year in [fromYear, toYear]. Failures
// are reported per year and never abort the other years. Outcomes are
// ordered newest year first.
func (o *Orchestrator) FetchRange(ctx context.Context, entity string, fromYear, toYear int, kind models.ReportKind) ([]Outcome, error) {
	code, err := utils.NormalizeStockCode(entity)
	if err != nil {
		return nil, err
	}
	if fromYear > toYear {
		return nil, fmt.Errorf("%w: from year %d after to year %d", models.ErrInvalidInput, fromYear, toYear)
	}
	if toYear-fromYear >= 30 {
		return nil, fmt.Errorf("%w: range of %d years is too wide", models.ErrInvalidInput, toYear-fromYear+1)
	}

	outcomes := make([]Outcome, toYear-fromYear+1)
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, year := 0, toYear; year >= fromYear; i, year = i+1, year-1 {
		g.Go(func() error {
			id := models.ReportIdentity{EntityCode: code, FiscalYear: year, Kind: kind}
			out := Outcome{Identity: id}
			rec, err := o.Fetch(ctx, code, year, kind)
			if err != nil {
				out.Error = err.Error()
				out.ErrorKind = models.ErrorKind(err)
			} else {
				out.Record = &rec
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(outcomes, func(a, b int) bool {
		return outcomes[a].Identity.FiscalYear > outcomes[b].Identity.FiscalYear
	})
	return outcomes, ctx.Err()
}

func (o *Orchestrator) emit(e Event) {
	if o.observer == nil {
		return
	}
	e.ID = uuid.NewString()
	e.Time = time.Now().UTC()
	o.observer(e)
}
