package foodapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL = "https://world.openfoodfacts.org"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20

	breakerFailures = 5
	breakerOpenFor  = 30 * time.Second
)

var (
	ErrNotFound    = errors.New("foodapi: not found")
	ErrBadStatus   = errors.New("foodapi: bad status")
	ErrUnavailable = errors.New("foodapi: unavailable")
	ErrDecode      = errors.New("foodapi: malformed response")
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Log        *zap.Logger
	Registerer prometheus.Registerer
}

// Client is a read-only Open Food Facts client. It never retries; a failed
// call is reported to the caller, and repeated failures open a breaker that
// fails fast with ErrUnavailable.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	log       *zap.Logger
	breaker   *gobreaker.CircuitBreaker[[]byte]
	group     singleflight.Group
	metrics   *clientMetrics
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		baseURL:   baseURL,
		userAgent: cfg.UserAgent,
		http:      hc,
		log:       log,
		metrics:   newClientMetrics(cfg.Registerer),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "foodapi",
		Timeout: breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			// a missing product or a caller giving up says nothing about upstream health
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c
}

// Search returns one page of full-text results. An empty query yields an
// empty page without calling upstream.
func (c *Client) Search(ctx context.Context, query string, page int) ([]Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Product{}, nil
	}

	q := url.Values{}
	q.Set("search_terms", query)
	q.Set("search_simple", "1")
	q.Set("action", "process")
	q.Set("json", "1")
	q.Set("page", strconv.Itoa(clampPage(page)))
	q.Set("page_size", strconv.Itoa(PageSize))

	body, err := c.getPage(ctx, "search", "/cgi/search.pl", q)
	if err != nil {
		return nil, err
	}
	return c.decodePage("search", body)
}

// ByCategory returns one page of the products tagged with category id.
func (c *Client) ByCategory(ctx context.Context, id string, page int) ([]Product, error) {
	path := fmt.Sprintf("/category/%s/%d.json", url.PathEscape(id), clampPage(page))

	body, err := c.getPage(ctx, "category", path, nil)
	if err != nil {
		return nil, err
	}
	return c.decodePage("category", body)
}

// Product looks up a single product by barcode. A missing product is
// reported as ok=false with a nil error.
func (c *Client) Product(ctx context.Context, code string) (Product, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Product{}, false, nil
	}

	v, err := c.shared(ctx, "product:"+code, func(ctx context.Context) (any, error) {
		body, err := c.get(ctx, "product", "/api/v0/product/"+url.PathEscape(code)+".json", nil)
		if err != nil {
			return nil, err
		}

		var resp productResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.metrics.observeDecodeFailure("product")
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if resp.Status == 0 || resp.Product == nil {
			return nil, ErrNotFound
		}

		p := *resp.Product
		if p.Code == "" {
			p.Code = code
		}
		return p, nil
	})
	if errors.Is(err, ErrNotFound) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, err
	}
	return v.(Product), true, nil
}

// Categories returns the category taxonomy in upstream order.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	v, err := c.shared(ctx, "categories", func(ctx context.Context) (any, error) {
		body, err := c.get(ctx, "categories", "/categories.json", nil)
		if err != nil {
			return nil, err
		}

		var resp categoriesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.metrics.observeDecodeFailure("categories")
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if resp.Tags == nil {
			resp.Tags = []Category{}
		}
		return resp.Tags, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Category), nil
}

// shared collapses concurrent calls for key into one upstream request. The
// request runs detached from any single caller's cancellation; each caller
// still stops waiting when its own ctx is done.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getPage treats a 404 on a listing as a failed fetch rather than an empty
// page, so the caller's pagination state is left alone.
func (c *Client) getPage(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	body, err := c.get(ctx, op, path, query)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: status=%d", ErrBadStatus, http.StatusNotFound)
	}
	return body, err
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	start := time.Now()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, query)
	})

	c.metrics.observe(op, outcomeOf(err), time.Since(start))

	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return nil, err
	}
}

func (c *Client) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status=%d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return body, nil
}

func (c *Client) decodePage(op string, body []byte) ([]Product, error) {
	var resp pageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.metrics.observeDecodeFailure(op)
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, op, err)
	}
	if resp.Products == nil {
		resp.Products = []Product{}
	}
	return resp.Products, nil
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
