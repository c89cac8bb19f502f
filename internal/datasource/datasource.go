// Package datasource fetches report listings and documents from public
// disclosure sites. Every outbound request goes through one paced,
// retrying HTTP core shared by the cninfo and feed listers.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/pkg/models"
)

// Source is what the fetch orchestrator needs from a disclosure site.
type Source interface {
	// SearchReports lists candidate documents for a report, source order
	// preserved. No match is an empty slice, not an error.
	SearchReports(ctx context.Context, entity string, year int, kind models.ReportKind) ([]models.Listing, error)

	// Download returns the complete document body.
	Download(ctx context.Context, url string) (*Document, error)

	// Head returns cheap remote metadata without transferring the body.
	Head(ctx context.Context, url string) (*RemoteMeta, error)
}

// Document is a downloaded binary.
type Document struct {
	Body          []byte
	ContentLength int64 // declared length, -1 if absent
	ContentType   string
	ETag          string
}

// RemoteMeta is the result of a HEAD request.
type RemoteMeta struct {
	ContentLength int64 // -1 if absent
	ETag          string
	LastModified  string
}

// --- Errors ---

// HTTPError is a non-2xx response. It unwraps to the taxonomy error matching
// its status: 404/410 are ErrNotFound, 429 and 5xx are ErrNetwork, other
// 4xx are ErrClient.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s from %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL, e.Body)
}

func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone:
		return models.ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return models.ErrNetwork
	default:
		return models.ErrClient
	}
}

// ErrTruncated marks a body shorter than its declared length.
var ErrTruncated = errors.New("truncated response body")

// retryable reports whether err is a transient failure worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, models.ErrNetwork)
}

// --- Client core ---

// Options configures the HTTP core.
type Options struct {
	UserAgent   string
	Referer     string
	MinInterval time.Duration
	Timeout     time.Duration // per attempt
	MaxRetries  int           // retries after the first attempt
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	HTTPClient *http.Client
	Pacer      *infra.Pacer // shared pacer; one is created when nil
	Logger     *slog.Logger
}

// OptionsFromConfig maps the source config section onto Options.
func OptionsFromConfig(cfg config.SourceConfig) Options {
	return Options{
		UserAgent:   cfg.UserAgent,
		Referer:     cfg.Referer,
		MinInterval: cfg.MinInterval,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}
}

// httpCore performs paced, retried requests.
type httpCore struct {
	opts   Options
	client *http.Client
	pacer  *infra.Pacer
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func newHTTPCore(opts Options) *httpCore {
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	c := &httpCore{
		opts:   opts,
		client: opts.HTTPClient,
		pacer:  opts.Pacer,
		logger: infra.LoggerOrDefault(opts.Logger).With("component", "datasource"),
		sleep:  sleepCtx,
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.pacer == nil {
		c.pacer = infra.NewPacer(opts.MinInterval)
	}
	return c
}

// response is a fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do issues method against url with retries. Attempts are paced; backoff
// doubles per retry up to MaxBackoff. Cancellation of ctx stops immediately.
func (c *httpCore) do(ctx context.Context, method, url string, headers map[string]string) (*response, error) {
	attempts := c.opts.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		resp, err := c.once(ctx, method, url, headers)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !retryable(err) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("request failed",
			"method", method, "url", url,
			"attempt", attempt, "max_attempts", attempts, "error", err)
	}
	return nil, fmt.Errorf("%w: %s %s failed after %d attempts: %w", models.ErrNetwork, method, url, attempts, lastErr)
}

// backoff returns the delay before retry n (1-based).
func (c *httpCore) backoff(n int) time.Duration {
	if n > 30 {
		return c.opts.MaxBackoff
	}
	d := c.opts.BaseBackoff << (n - 1)
	if d <= 0 || d > c.opts.MaxBackoff {
		d = c.opts.MaxBackoff
	}
	return d
}

// once performs a single paced attempt with its own timeout.
func (c *httpCore) once(ctx context.Context, method, url string, headers map[string]string) (*response, error) {
	var out *response
	err := c.pacer.Do(ctx, func() error {
		actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(actx, method, url, nil)
		if err != nil {
			return fmt.Errorf("%w: create request: %v", models.ErrClient, err)
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "application/json, text/html, application/pdf, */*")
		req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
		if c.opts.Referer != "" {
			req.Header.Set("Referer", c.opts.Referer)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s %s: %v", models.ErrNetwork, method, url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &HTTPError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				URL:        url,
				Body:       string(body),
			}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			// Dropped connections surface here as unexpected EOF.
			return fmt.Errorf("%w: read %s: %v", models.ErrNetwork, url, err)
		}
		if method != http.MethodHead && resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
			return fmt.Errorf("%w: %w: got %d of %d bytes from %s", models.ErrNetwork, ErrTruncated, len(body), resp.ContentLength, url)
		}

		out = &response{status: resp.StatusCode, header: resp.Header, body: body}
		return nil
	})
	return out, err
}

// download fetches url and wraps the body as a Document.
func (c *httpCore) download(ctx context.Context, url string) (*Document, error) {
	resp, err := c.do(ctx, http.MethodGet, url, map[string]string{"Accept": "application/pdf, */*"})
	if err != nil {
		return nil, err
	}
	return &Document{
		Body:          resp.body,
		ContentLength: headerLength(resp.header),
		ContentType:   resp.header.Get("Content-Type"),
		ETag:          resp.header.Get("ETag"),
	}, nil
}

// head issues a HEAD request.
func (c *httpCore) head(ctx context.Context, url string) (*RemoteMeta, error) {
	resp, err := c.do(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return &RemoteMeta{
		ContentLength: headerLength(resp.header),
		ETag:          resp.header.Get("ETag"),
		LastModified:  resp.header.Get("Last-Modified"),
	}, nil
}

func headerLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
