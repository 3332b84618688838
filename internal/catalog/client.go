// Package catalog queries library catalogs for physical-media holdings.
package catalog

import (
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shelfcheck/pkg/platform/circuit"
	"shelfcheck/pkg/platform/sentinel"
)

// DefaultCatalog is the catalog used when a request names none.
const DefaultCatalog = "www.richlandlibrary.com"

var tracer = otel.Tracer("shelfcheck/internal/catalog")

// formatCodes restricts a search to Blu-ray, Blu-ray/DVD combo and DVD.
var formatCodes = []string{"brd", "bdv", "dvd"}

// DefaultHeaders are sent with every search. The catalog API serves browser clients.
func DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("DNT", "1")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	return h
}

// Client searches one catalog.
type Client struct {
	id         string
	searchURL  string
	httpClient *http.Client
	headers    http.Header
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithHeaders replaces the default request headers.
func WithHeaders(h http.Header) Option {
	return func(cl *Client) {
		cl.headers = h.Clone()
	}
}

// WithBreaker sets the circuit breaker guarding the catalog.
func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New creates a client for catalog id searching at searchURL.
func New(id, searchURL string, opts ...Option) (*Client, error) {
	if id == "" {
		return nil, errors.New("catalog id is required")
	}
	if _, err := url.ParseRequestURI(searchURL); err != nil {
		return nil, fmt.Errorf("catalog %s search url: %w", id, err)
	}
	c := &Client{
		id:         strings.ToLower(id),
		searchURL:  searchURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    DefaultHeaders(),
		breaker:    circuit.New("catalog:"+id, circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID returns the catalog id.
func (c *Client) ID() string { return c.id }

type searchResponse struct {
	Rows []json.RawMessage `json:"rows"`
}

// Query searches the catalog by title and returns the raw rows.
func (c *Client) Query(ctx context.Context, title string) (rows []Row, err error) {
	ctx, span := tracer.Start(ctx, "catalog.Query")
	span.SetAttributes(attribute.String("catalog", c.id), attribute.String("title", title))
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		queryDuration.WithLabelValues(c.id, outcome).Observe(time.Since(start).Seconds())
		span.End()
	}()

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("catalog %s circuit open: %w", c.id, sentinel.ErrUnavailable)
	}

	rows, err = c.query(ctx, title)
	if err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "catalog circuit opened", "catalog", c.id, "error", err)
		}
		return nil, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "catalog circuit closed", "catalog", c.id)
	}
	return rows, nil
}

func (c *Client) query(ctx context.Context, title string) ([]Row, error) {
	form := url.Values{}
	form.Set("page", "1")
	form.Set("advanced[TI]", title)
	for i, code := range formatCodes {
		form.Set(fmt.Sprintf("advanced[TOM][%d]", i), code)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.DebugContext(ctx, "querying catalog", "catalog", c.id, "title", title)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog %s request: %w", c.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("catalog %s returned status %d", c.id, resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog %s response: %w", c.id, err)
	}
	rows := make([]Row, 0, len(body.Rows))
	for _, r := range body.Rows {
		rows = append(rows, Row(r))
	}
	return rows, nil
}
