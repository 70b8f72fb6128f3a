// Package scraper is the HTTP client for the external EK scraper service.
// Every call is a single round trip bounded by a fixed timeout; retries are
// left to the caller's refresh schedule.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/flight"
	"github.com/dpktjf/dpk-ek-scraper/internal/search"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single scraper round trip unless WithTimeout says otherwise
const DefaultTimeout = 20 * time.Second

const (
	defaultUserAgent = "dpk-ek-scraper/1.0"

	fetchPath   = "/ek-scraper"
	triggerPath = "/ek-scraper/trigger"

	opFetch   = "fetch"
	opTrigger = "trigger"
)

// API is what the coordinator needs from the scraper service
type API interface {
	FetchFlights(ctx context.Context, cfg search.Config) (*flight.SearchResult, error)
	TriggerScrape(ctx context.Context, cfg search.Config, callbackURL string) error
}

// RequestObserver receives one call per completed request
type RequestObserver interface {
	ObserveRequest(op, outcome string, d time.Duration)
}

// Ensure Client implements API at compile time.
var _ API = (*Client)(nil)

// Client talks to the scraper's HTTP endpoint
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	token     string
	logger    *zap.Logger
	observer  RequestObserver
}

// Option configures a Client
type Option func(*Client)

// WithTimeout overrides the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client. Its timeout is kept
// unless it is zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		timeout := c.http.Timeout
		c.http = hc
		if c.http.Timeout == 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithToken sends a bearer token with every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.Named("scraper")
		}
	}
}

// WithObserver records request outcomes, typically into Prometheus
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient builds a client for the scraper at baseURL
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: DefaultTimeout},
		userAgent: defaultUserAgent,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchFlights runs a synchronous scrape for cfg and returns its result
func (c *Client) FetchFlights(ctx context.Context, cfg search.Config) (*flight.SearchResult, error) {
	rel := &url.URL{Path: fetchPath, RawQuery: cfg.Query().Encode()}

	var result *flight.SearchResult
	err := c.do(ctx, opFetch, rel, func(body io.Reader) error {
		decoded, err := flight.Decode(body)
		if err != nil {
			return err
		}
		result = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched flights",
		zap.String("job_id", result.JobID),
		zap.Int("outbound", len(result.Outbound)),
		zap.Int("return", len(result.Return)),
		zap.Int("combined", len(result.Combined)))
	return result, nil
}

// TriggerScrape asks the scraper to run cfg and push the result to
// callbackURL. The response body is ignored.
func (c *Client) TriggerScrape(ctx context.Context, cfg search.Config, callbackURL string) error {
	if strings.TrimSpace(callbackURL) == "" {
		return &Error{Kind: KindBadRequest, Op: opTrigger, Err: fmt.Errorf("callback url is required")}
	}
	values := cfg.Query()
	values.Set("job_id", cfg.JobID())
	values.Set("callback", callbackURL)
	rel := &url.URL{Path: triggerPath, RawQuery: values.Encode()}

	if err := c.do(ctx, opTrigger, rel, nil); err != nil {
		return err
	}
	c.logger.Debug("Triggered scrape",
		zap.String("job_id", cfg.JobID()),
		zap.String("callback", callbackURL))
	return nil
}

func (c *Client) do(ctx context.Context, op string, rel *url.URL, decode func(io.Reader) error) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err)
		}
		if c.observer != nil {
			c.observer.ObserveRequest(op, outcome, time.Since(start))
		}
	}()

	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return &Error{Kind: KindBadRequest, Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return statusError(op, resp.StatusCode)
	}
	if decode == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := decode(resp.Body); err != nil {
		// A body that stops arriving mid-read is still a transport problem.
		return classify(op, err)
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("scraper url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse scraper url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("scraper url %q has no host", raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
