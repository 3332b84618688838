// Package letterboxd fetches list membership from letterboxd.com.
package letterboxd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"shelfcheck/pkg/domain"
	dErrors "shelfcheck/pkg/domain-errors"
)

const DefaultBaseURL = "https://letterboxd.com"

// Scraper reads the paginated detail view of a list.
type Scraper struct {
	baseURL     string
	httpClient  *http.Client
	userAgent   string
	concurrency int
	logger      *slog.Logger
}

type Option func(*Scraper)

func WithBaseURL(u string) Option {
	return func(s *Scraper) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Scraper) {
		if c != nil {
			s.httpClient = c
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(s *Scraper) {
		s.userAgent = ua
	}
}

// WithConcurrency bounds the pages fetched at once.
func WithConcurrency(n int) Option {
	return func(s *Scraper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scraper) {
		s.logger = logger
	}
}

func New(opts ...Option) *Scraper {
	s := &Scraper{
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		userAgent:   "shelfcheck/1.0",
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchItems returns the list title and its items in list order. Page one
// supplies the title and page count; the remaining pages are fetched
// concurrently.
func (s *Scraper) FetchItems(ctx context.Context, owner, list string) (domain.Listing, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	list = strings.ToLower(strings.TrimSpace(list))
	if owner == "" || list == "" {
		return domain.Listing{}, dErrors.New(dErrors.CodeInvalidInput, "owner and list are required")
	}

	first, err := s.fetchPage(ctx, owner, list, 1)
	if err != nil {
		return domain.Listing{}, err
	}
	listing := domain.Listing{Title: first.title, Items: first.items}
	if first.lastPage <= 1 {
		return listing, nil
	}

	rest := make([][]domain.Item, first.lastPage-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for n := 2; n <= first.lastPage; n++ {
		g.Go(func() error {
			p, err := s.fetchPage(gctx, owner, list, n)
			if err != nil {
				return err
			}
			rest[n-2] = p.items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Listing{}, err
	}
	for _, items := range rest {
		listing.Items = append(listing.Items, items...)
	}
	return listing, nil
}

func (s *Scraper) fetchPage(ctx context.Context, owner, list string, n int) (page, error) {
	url := fmt.Sprintf("%s/%s/list/%s/detail/page/%d", s.baseURL, owner, list, n)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return page{}, fmt.Errorf("build letterboxd request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return page{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "letterboxd unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return page{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("list %s/%s not found", owner, list))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return page{}, dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("letterboxd returned status %d", resp.StatusCode))
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return page{}, fmt.Errorf("parse %s: %w", url, err)
	}
	p := parsePage(doc)
	if len(p.items) == 0 {
		s.logger.ErrorContext(ctx, "no items found on page, likely letterboxd throttling",
			"owner", owner,
			"list", list,
			"page", n,
		)
	}
	return p, nil
}
