package wcs

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
)

const (
	serviceWCS = "WCS"
	version201 = "2.0.1"

	// FormatGeoTIFF is the output format requested by GetCoverage.
	FormatGeoTIFF = "image/tiff"
)

// ErrNotRectifiedGrid is returned for coverages that are not regular grids.
var ErrNotRectifiedGrid = errors.New("expected coverage of type RectifiedGridCoverage")

// Client talks to a single WCS 2.0.1 endpoint using KVP requests.
type Client struct {
	endpoint *url.URL
	http     *http.Client
	logger   *slog.Logger

	descriptions *lru.Cache[string, *CoverageDescription]
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	http      *http.Client
	logger    *slog.Logger
	cacheSize int
}

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) { cfg.http = c }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cfg *clientConfig) { cfg.logger = l }
}

// WithDescriptionCacheSize sets how many coverage descriptions are kept.
func WithDescriptionCacheSize(n int) ClientOption {
	return func(cfg *clientConfig) { cfg.cacheSize = n }
}

// NewClient returns a client for the WCS service at endpoint. The endpoint
// may already carry query parameters, they are preserved on every request.
func NewClient(endpoint string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}

	cfg := clientConfig{
		http:      &http.Client{Timeout: 2 * time.Minute},
		logger:    slog.New(slog.DiscardHandler),
		cacheSize: 64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache, err := lru.New[string, *CoverageDescription](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create description cache: %w", err)
	}

	return &Client{
		endpoint:     u,
		http:         cfg.http,
		logger:       cfg.logger,
		descriptions: cache,
	}, nil
}

// Capabilities issues a GetCapabilities request.
func (c *Client) Capabilities(ctx context.Context) (*Capabilities, error) {
	body, err := c.do(ctx, c.query("GetCapabilities"))
	if err != nil {
		return nil, err
	}
	var caps Capabilities
	if err := decodeXML(body, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities: %w", err)
	}
	return &caps, nil
}

// DescribeCoverage returns the description of coverage id. Descriptions are
// cached for the lifetime of the client.
func (c *Client) DescribeCoverage(ctx context.Context, id string) (*CoverageDescription, error) {
	if desc, ok := c.descriptions.Get(id); ok {
		return desc, nil
	}

	q := c.query("DescribeCoverage")
	q.Set("coverageId", id)
	body, err := c.do(ctx, q)
	if err != nil {
		return nil, err
	}

	var descs coverageDescriptions
	if err := decodeXML(body, &descs); err != nil {
		return nil, fmt.Errorf("failed to parse coverage descriptions: %w", err)
	}
	if len(descs.Descriptions) == 0 {
		return nil, fmt.Errorf("no description returned for coverage %q", id)
	}
	desc := &descs.Descriptions[0]
	if desc.ID == "" {
		desc.ID = id
	}
	c.descriptions.Add(id, desc)
	return desc, nil
}

// RectifiedGridCoverage describes coverage id and checks that it is a
// rectified grid coverage.
func (c *Client) RectifiedGridCoverage(ctx context.Context, id string) (*CoverageDescription, error) {
	desc, err := c.DescribeCoverage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !desc.IsRectifiedGrid() {
		return nil, fmt.Errorf("coverage %q: %w", id, ErrNotRectifiedGrid)
	}
	return desc, nil
}

// GetCoverage fetches the part of the coverage inside bound as a GeoTIFF.
// bound is expressed in the coverage's axis order.
func (c *Client) GetCoverage(ctx context.Context, desc *CoverageDescription, bound orb.Bound) ([]byte, error) {
	xAxis, yAxis := desc.Axes()

	q := c.query("GetCoverage")
	q.Set("coverageId", desc.ID)
	q.Set("format", FormatGeoTIFF)
	q.Add("subset", subset(xAxis, bound.Min[0], bound.Max[0]))
	q.Add("subset", subset(yAxis, bound.Min[1], bound.Max[1]))

	return c.do(ctx, q)
}

func subset(axis string, lo, hi float64) string {
	return axis + "(" + strconv.FormatFloat(lo, 'f', -1, 64) + "," + strconv.FormatFloat(hi, 'f', -1, 64) + ")"
}

func (c *Client) query(request string) url.Values {
	q := c.endpoint.Query()
	q.Set("service", serviceWCS)
	q.Set("version", version201)
	q.Set("request", request)
	return q
}

func (c *Client) do(ctx context.Context, q url.Values) ([]byte, error) {
	u := *c.endpoint
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wcs %s request failed: %w", q.Get("request"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read wcs %s response: %w", q.Get("request"), err)
	}

	c.logger.Debug("wcs request",
		"request", q.Get("request"),
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start))

	if isXML(resp.Header.Get("Content-Type"), body) {
		if serr := parseException(body); serr != nil {
			return nil, serr
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wcs %s request failed with status %s", q.Get("request"), resp.Status)
	}
	return body, nil
}

func isXML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "xml") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}

// parseException returns the first exception of an OWS ExceptionReport, or
// nil if body is not one.
func parseException(body []byte) *ServiceError {
	var report exceptionReport
	if err := decodeXML(body, &report); err != nil {
		return nil
	}
	if len(report.Exceptions) == 0 {
		return &ServiceError{Code: "NoApplicableCode"}
	}
	e := report.Exceptions[0]
	return &ServiceError{
		Code:    e.Code,
		Locator: e.Locator,
		Text:    strings.TrimSpace(e.Text),
	}
}

func decodeXML(body []byte, v any) error {
	return xml.NewDecoder(bytes.NewReader(body)).Decode(v)
}
