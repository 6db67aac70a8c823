package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"Pantry/internal/foodapi"
)

const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultFetchTimeout = 15 * time.Second

	// FallbackQuery is searched when the query filter is blank.
	FallbackQuery = "snack"
)

var ErrClosed = errors.New("catalog controller closed")

// Source serves paged product listings. *foodapi.Client satisfies it.
type Source interface {
	Search(ctx context.Context, query string, page int) ([]foodapi.Product, error)
	ByCategory(ctx context.Context, categoryID string, page int) ([]foodapi.Product, error)
}

// Filter selects the listing. Query and Category are never both set.
type Filter struct {
	Query    string `json:"query,omitempty"`
	Category string `json:"category,omitempty"`
}

// State is a snapshot of the accumulated listing.
type State struct {
	Items      []foodapi.Product `json:"items"`
	NextPage   int               `json:"next_page"`
	HasMore    bool              `json:"has_more"`
	Loading    bool              `json:"loading"`
	Filter     Filter            `json:"filter"`
	Err        string            `json:"error,omitempty"`
	Generation uint64            `json:"generation"`
}

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

type Options struct {
	Debounce     time.Duration
	FetchTimeout time.Duration
	AfterFunc    AfterFunc
	Log          *zap.Logger
}

// Controller accumulates pages of a filtered listing. Every filter change
// starts a new generation; fetches carry the generation they were issued
// for and their results are dropped once it is superseded.
type Controller struct {
	src          Source
	log          *zap.Logger
	debounce     time.Duration
	fetchTimeout time.Duration
	afterFunc    AfterFunc

	mu     sync.Mutex
	state  State
	timer  Timer
	cancel context.CancelFunc
	closed bool
}

func NewController(src Source, opts Options) *Controller {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	return &Controller{
		src:          src,
		log:          opts.Log,
		debounce:     opts.Debounce,
		fetchTimeout: opts.FetchTimeout,
		afterFunc:    opts.AfterFunc,
		state: State{
			Items:    []foodapi.Product{},
			NextPage: 1,
			HasMore:  true,
		},
	}
}

func (c *Controller) SetQuery(q string) { c.setFilter(Filter{Query: q}) }

func (c *Controller) SetCategory(id string) { c.setFilter(Filter{Category: id}) }

func (c *Controller) ClearFilters() { c.setFilter(Filter{}) }

func (c *Controller) setFilter(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || f == c.state.Filter {
		return
	}
	c.scheduleLocked(f)
}

// Refresh starts a new generation for the current filter and schedules its
// first page after the debounce delay.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.scheduleLocked(c.state.Filter)
}

// Reload starts a new generation for the current filter and fetches its
// first page before returning.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.resetLocked(c.state.Filter)
	req := c.beginLocked(ctx, true)
	c.mu.Unlock()

	return c.run(req)
}

// LoadMore fetches the next page of the current generation. It reports
// false without fetching while a fetch is in flight, once the listing is
// exhausted, or before the generation's first page has landed. A failed
// first page is retried in place.
func (c *Controller) LoadMore(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if c.state.Loading || !c.state.HasMore {
		c.mu.Unlock()
		return false, nil
	}
	firstPageFailed := c.state.NextPage == 1 && c.state.Err != ""
	if c.state.NextPage == 1 && !firstPageFailed {
		c.mu.Unlock()
		return false, nil
	}
	req := c.beginLocked(ctx, firstPageFailed)
	c.mu.Unlock()

	return true, c.run(req)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.Items = append([]foodapi.Product(nil), c.state.Items...)
	if s.Items == nil {
		s.Items = []foodapi.Product{}
	}
	return s
}

// Sorted returns the accumulated items ordered by key. The stored order is
// left as fetched.
func (c *Controller) Sorted(key SortKey) []foodapi.Product {
	c.mu.Lock()
	items := c.state.Items
	c.mu.Unlock()

	return SortProducts(items, key)
}

func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) resetLocked(f Filter) uint64 {
	c.stopLocked()
	c.state = State{
		Items:      []foodapi.Product{},
		NextPage:   1,
		HasMore:    true,
		Filter:     f,
		Generation: c.state.Generation + 1,
	}
	return c.state.Generation
}

func (c *Controller) scheduleLocked(f Filter) {
	gen := c.resetLocked(f)
	c.timer = c.afterFunc(c.debounce, func() { c.fire(gen) })
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.state.Generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	req := c.beginLocked(context.Background(), true)
	c.mu.Unlock()

	_ = c.run(req)
}

type fetchRequest struct {
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64
	page   int
	filter Filter
	reset  bool
}

func (c *Controller) beginLocked(parent context.Context, reset bool) fetchRequest {
	ctx, cancel := context.WithTimeout(parent, c.fetchTimeout)
	c.cancel = cancel
	c.state.Loading = true

	page := c.state.NextPage
	if reset {
		page = 1
	}

	return fetchRequest{
		ctx:    ctx,
		cancel: cancel,
		gen:    c.state.Generation,
		page:   page,
		filter: c.state.Filter,
		reset:  reset,
	}
}

func (c *Controller) run(req fetchRequest) error {
	items, err := c.fetch(req.ctx, req.filter, req.page)
	req.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || req.gen != c.state.Generation {
		c.log.Debug("stale page discarded",
			zap.Uint64("generation", req.gen),
			zap.Uint64("current", c.state.Generation),
			zap.Int("page", req.page),
		)
		return nil
	}

	c.cancel = nil
	c.state.Loading = false

	if err != nil {
		c.log.Warn("catalog page fetch failed",
			zap.Error(err),
			zap.String("query", req.filter.Query),
			zap.String("category", req.filter.Category),
			zap.Int("page", req.page),
		)
		c.state.Err = err.Error()
		return err
	}

	c.state.Err = ""
	if req.reset {
		c.state.Items = append([]foodapi.Product{}, items...)
	} else {
		c.state.Items = append(c.state.Items, items...)
	}
	c.state.NextPage = req.page + 1
	c.state.HasMore = len(items) == foodapi.PageSize
	return nil
}

func (c *Controller) fetch(ctx context.Context, f Filter, page int) ([]foodapi.Product, error) {
	if f.Category != "" {
		return c.src.ByCategory(ctx, f.Category, page)
	}

	q := strings.TrimSpace(f.Query)
	if q == "" {
		q = FallbackQuery
	}
	return c.src.Search(ctx, q, page)
}
