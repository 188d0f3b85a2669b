// Package apiclient reads the spot catalog from a running SugVoyage API.
package apiclient

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/valyala/fasthttp"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

const pageSize = 50

// Options configures a CatalogClient.
type Options struct {
	BaseURL   string
	Timeout   time.Duration // per request, default 5s
	MaxAge    time.Duration // reuse the last catalog for this long, 0 always refetches
	UserAgent string
	// Dial overrides the network dialer, mainly for tests.
	Dial fasthttp.DialFunc
}

// CatalogClient implements ports.CatalogProvider over the REST API. It pages
// through GET /v1/spots and keeps the last complete result.
type CatalogClient struct {
	client *fasthttp.Client
	opts   Options
	now    func() time.Time

	mu        sync.Mutex
	cached    []domain.Spot
	fetchedAt time.Time
}

// NewCatalogClient creates a client for the API at opts.BaseURL.
func NewCatalogClient(opts Options) *CatalogClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "sugvoyage-watcher/1.0"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &CatalogClient{
		client: &fasthttp.Client{
			Name:                opts.UserAgent,
			Dial:                opts.Dial,
			MaxConnsPerHost:     4,
			MaxIdleConnDuration: 90 * time.Second,
			ReadTimeout:         opts.Timeout,
			WriteTimeout:        opts.Timeout,
		},
		opts: opts,
		now:  time.Now,
	}
}

type spotPage struct {
	Data       []domain.Spot `json:"data"`
	Pagination struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
		Total  int `json:"total"`
	} `json:"pagination"`
}

// Spots returns the full catalog. Any failure is reported as
// domain.ErrCatalogUnavailable.
func (c *CatalogClient) Spots(ctx context.Context) ([]domain.Spot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.opts.MaxAge > 0 && c.now().Sub(c.fetchedAt) < c.opts.MaxAge {
		return c.cached, nil
	}

	var all []domain.Spot
	for offset := 0; ; {
		page, err := c.fetchPage(ctx, offset)
		if err != nil {
			return nil, eris.Wrapf(domain.ErrCatalogUnavailable, "apiclient: fetch spots at offset %d: %v", offset, err)
		}
		all = append(all, page.Data...)
		offset += len(page.Data)
		if len(page.Data) == 0 || offset >= page.Pagination.Total {
			break
		}
	}
	if all == nil {
		all = []domain.Spot{}
	}

	c.cached = all
	c.fetchedAt = c.now()
	return all, nil
}

func (c *CatalogClient) fetchPage(ctx context.Context, offset int) (*spotPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.opts.BaseURL + "/v1/spots?offset=" + strconv.Itoa(offset) + "&limit=" + strconv.Itoa(pageSize))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, eris.Wrap(err, "request")
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, eris.Errorf("unexpected status %d", resp.StatusCode())
	}

	var page spotPage
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, eris.Wrap(err, "decode page")
	}
	return &page, nil
}
