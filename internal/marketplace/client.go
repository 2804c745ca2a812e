// Package marketplace is the HTTP client for the Mercado Livre REST API.
//
// Every call:
//   - sends "Authorization: Bearer <token>" when a token is given (public
//     reads pass an empty token),
//   - treats any non-2xx status as failure and returns an *APIError that
//     wraps ErrRequestFailed,
//   - runs under the client's fixed timeout, so a stalled connection ends as
//     an ordinary failure,
//   - waits on the optional client-side rate limiter first.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/mercado-insights/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.mercadolibre.com"
	DefaultSiteID  = "MLB"
	userAgent      = "MercadoInsights/1.0"

	// MaxBatchSize is the marketplace ceiling for GET /items?ids=.
	MaxBatchSize = 20
	// MaxPageSize is the ceiling for paginated searches.
	MaxPageSize = 50
)

var ErrRequestFailed = errors.New("marketplace: request failed")

// APIError describes a failed call. StatusCode is zero for transport
// failures (timeouts, DNS, connection resets).
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("marketplace: %s %s: %v", e.Method, e.Path, e.Cause)
	}
	return fmt.Sprintf("marketplace: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrRequestFailed, e.Cause}
	}
	return []error{ErrRequestFailed}
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type Config struct {
	BaseURL string
	SiteID  string
	Timeout time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
}

type Client struct {
	baseURL string
	siteID  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SiteID == "" {
		cfg.SiteID = DefaultSiteID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		siteID:  cfg.SiteID,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// do performs one request. body, when non-nil, is sent as JSON; out, when
// non-nil, receives the decoded JSON response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestsTotal.WithLabelValues("mercadolivre", metrics.Outcome(err)).Inc()
		metrics.UpstreamRequestDuration.WithLabelValues("mercadolivre").Observe(time.Since(start).Seconds())
	}()

	fail := func(cause error) error {
		return &APIError{Method: method, Path: path, Cause: cause}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marketplace: encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("marketplace: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("marketplace request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
