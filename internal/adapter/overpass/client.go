package overpass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"

	"go.ngs.io/areamap-api/internal/metrics"
)

// ErrFetchFailed is the only error kind returned by the client. Transport
// errors, timeouts, non-success statuses and undecodable bodies all wrap it.
var ErrFetchFailed = errors.New("overpass: fetch failed")

const defaultUserAgent = "areamap-api/0.1"

// Client fetches Overpass query URLs and converts the responses to GeoJSON.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	log        logr.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter paces outbound requests; nil disables pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the client logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for the given interpreter endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		userAgent:  defaultUserAgent,
		log:        logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the interpreter URL queries are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// URL builds the request URL for a query against this client's endpoint.
func (c *Client) URL(query string) string {
	return RequestURL(c.endpoint, query)
}

// Fetch GETs requestURL and converts the Overpass response to GeoJSON.
func (c *Client) Fetch(ctx context.Context, requestURL string) (*geojson.FeatureCollection, error) {
	raw, err := c.FetchRaw(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	fc, err := Convert(raw)
	if err != nil {
		metrics.OverpassFailTotal.Inc()
		c.log.Error(err, "overpass_convert_error", "url", requestURL)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	metrics.OverpassFeatures.Observe(float64(len(fc.Features)))

	return fc, nil
}

// FetchRaw GETs requestURL and returns the response body.
func (c *Client) FetchRaw(ctx context.Context, requestURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %w", ErrFetchFailed, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	t0 := time.Now()
	metrics.OverpassRequestsTotal.Inc()
	if c.log.V(1).Enabled() {
		query, err := QueryFromURL(requestURL)
		if err != nil {
			query = requestURL
		}
		c.log.V(1).Info("overpass_req", "endpoint", c.endpoint, "query", query)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.OverpassFailTotal.Inc()
		c.log.Error(err, "overpass_http_error", "url", requestURL)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	dur := time.Since(t0).Milliseconds()
	metrics.OverpassDurationMs.Observe(float64(dur))
	if err != nil {
		metrics.OverpassFailTotal.Inc()
		c.log.Error(err, "overpass_read_error", "url", requestURL)
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetchFailed, err)
	}

	c.log.V(1).Info("overpass_resp", "status", resp.StatusCode, "bytes", len(body), "duration_ms", dur)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.OverpassFailTotal.Inc()
		err := fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
		c.log.Error(err, "overpass_status_error", "url", requestURL, "status", resp.StatusCode)
		return nil, err
	}

	return body, nil
}
