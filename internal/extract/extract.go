// Package extract turns stored report PDFs into per-page text and persists
// the joined text artifact next to the binary.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/pkg/models"
)

// Document is an opened PDF. Pages are 1-based.
type Document interface {
	NumPages() int
	PageText(n int) (string, error)
}

// Opener parses a PDF body.
type Opener interface {
	Open(data []byte) (Document, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(data []byte) (Document, error)

func (f OpenerFunc) Open(data []byte) (Document, error) { return f(data) }

// Repository is the subset of the document store the extractor uses.
type Repository interface {
	ReadBinary(rec models.ReportRecord) ([]byte, error)
	ReadText(id models.ReportIdentity) (string, error)
	WriteText(id models.ReportIdentity, text string) (models.ReportRecord, error)
}

// Extractor extracts text page by page.
type Extractor struct {
	store  Repository
	opener Opener
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOpener replaces the PDF backend.
func WithOpener(o Opener) Option {
	return func(e *Extractor) { e.opener = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an extractor backed by ledongthuc/pdf unless overridden.
func New(st Repository, opts ...Option) *Extractor {
	e := &Extractor{store: st, opener: PDFOpener{}}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = infra.LoggerOrDefault(e.logger).With("component", "extract")
	return e
}

// Extract reads the binary for rec, extracts every page independently and
// stores the text of the pages that succeeded, in page order, joined with
// newlines. A page that fails carries its error and is left out of the
// artifact. When no page yields text nothing is written and the error is
// ErrExtractionFailed.
func (e *Extractor) Extract(ctx context.Context, rec models.ReportRecord) ([]models.ExtractedPage, error) {
	log := e.logger.With("report", rec.Identity.Key())

	data, err := e.store.ReadBinary(rec)
	if err != nil {
		return nil, err
	}
	doc, err := e.open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrExtractionFailed, rec.Identity.Key(), err)
	}

	n := doc.NumPages()
	if n <= 0 {
		return nil, fmt.Errorf("%w: %s has no pages", models.ErrExtractionFailed, rec.Identity.Key())
	}

	pages := make([]models.ExtractedPage, 0, n)
	var (
		texts  []string
		failed int
	)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(doc, i)
		page := models.ExtractedPage{PageNumber: i}
		if err != nil {
			page.Error = err.Error()
			failed++
			log.Debug("page extraction failed", "page", i, "error", err)
		} else {
			page.Text = text
			texts = append(texts, text)
		}
		pages = append(pages, page)
	}

	if len(texts) == 0 {
		return pages, fmt.Errorf("%w: all %d pages of %s failed", models.ErrExtractionFailed, n, rec.Identity.Key())
	}
	joined := strings.Join(texts, "\n")
	if strings.TrimSpace(joined) == "" {
		return pages, fmt.Errorf("%w: %s has no text layer", models.ErrExtractionFailed, rec.Identity.Key())
	}

	if _, err := e.store.WriteText(rec.Identity, joined); err != nil {
		return pages, err
	}
	if failed > 0 {
		log.Warn("extraction partially failed", "pages", n, "failed", failed)
	} else {
		log.Info("text extracted", "pages", n, "chars", len(joined))
	}
	return pages, nil
}

// EnsureText returns the stored text for rec, extracting it first when the
// report has not been extracted yet.
func (e *Extractor) EnsureText(ctx context.Context, rec models.ReportRecord) (string, error) {
	if rec.HasText() {
		text, err := e.store.ReadText(rec.Identity)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
	}
	if _, err := e.Extract(ctx, rec); err != nil {
		return "", err
	}
	return e.store.ReadText(rec.Identity)
}

// OK reports how many pages succeeded.
func OK(pages []models.ExtractedPage) int {
	n := 0
	for _, p := range pages {
		if p.OK() {
			n++
		}
	}
	return n
}

func (e *Extractor) open(data []byte) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("panic opening PDF: %v", r)
		}
	}()
	return e.opener.Open(data)
}

// pageText isolates one page so that a corrupt content stream only costs
// that page.
func pageText(doc Document, n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("panic on page %d: %v", n, r)
		}
	}()
	return doc.PageText(n)
}

// ── ledongthuc/pdf backend ──

// PDFOpener opens documents with ledongthuc/pdf.
type PDFOpener struct{}

func (PDFOpener) Open(data []byte) (Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return pdfDocument{r: r}, nil
}

type pdfDocument struct {
	r *pdf.Reader
}

func (d pdfDocument) NumPages() int { return d.r.NumPage() }

func (d pdfDocument) PageText(n int) (string, error) {
	page := d.r.Page(n)
	if page.V.IsNull() {
		return "", errors.New("missing page object")
	}
	return page.GetPlainText(nil)
}
