// Package scroll walks all hits of a query with the engine's scroll protocol.
package scroll

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	elasticv7 "github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pteich/elastic-client-kit/api"
	"github.com/pteich/elastic-client-kit/elastic"
)

const (
	kModScroll = "scroll"

	DefaultSize      = 1000
	DefaultKeepAlive = 5 * time.Minute
)

type State int

const (
	Uninitialized State = iota
	Active
	Exhausted
	Released
	// Expired means the engine dropped the context before the cursor was done.
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Exhausted:
		return "exhausted"
	case Released:
		return "released"
	case Expired:
		return "expired"
	}
	return "uninitialized"
}

type Config struct {
	Index     []string
	Query     elasticv7.Query
	Size      int
	KeepAlive time.Duration
	// Sort defaults to _doc, the cheapest order for scrolling.
	Sort []elasticv7.Sorter
	// Fields restricts _source to the listed fields.
	Fields []string
	Logger *zerolog.Logger
}

// Cursor holds one server side scroll context. It is safe for concurrent use, but pages are handed
// out in order to whoever calls Next.
type Cursor struct {
	tr        esapi.Transport
	keepAlive time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	state    State
	scrollID string
	total    int64
	first    []*api.SearchHit
	buffered bool
}

// Open runs the initial search and buffers its page for the first call to Next.
func Open(ctx context.Context, tr esapi.Transport, cfg Config) (*Cursor, error) {
	if len(cfg.Index) == 0 {
		return nil, &elastic.InvalidRequestError{Field: "index", Reason: "is required"}
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.KeepAlive < 0 {
		return nil, &elastic.InvalidRequestError{Field: "scroll", Reason: "must be positive"}
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	c := &Cursor{
		tr:        tr,
		keepAlive: cfg.KeepAlive,
		log:       logger.With().Str("mod", kModScroll).Logger(),
	}

	search := api.Search(cfg.Index...).Size(cfg.Size)
	if cfg.Query != nil {
		search.Query(cfg.Query)
	}
	if len(cfg.Sort) > 0 {
		search.SortBy(cfg.Sort...)
	} else {
		search.Sort("_doc", true)
	}
	if len(cfg.Fields) > 0 {
		search.SourceIncludes(cfg.Fields...)
	}
	body, err := search.Body()
	if err != nil {
		return nil, err
	}

	res, err := c.do(ctx, esapi.SearchRequest{
		Index:  cfg.Index,
		Body:   bytes.NewReader(body),
		Scroll: cfg.KeepAlive,
	})
	if err != nil {
		return nil, err
	}

	c.state = Active
	c.scrollID = res.ScrollID
	c.total = res.TotalHits()
	if res.Hits != nil {
		c.first = res.Hits.Hits
	}
	c.buffered = true

	c.log.Debug().
		Strs("index", cfg.Index).
		Int64("total", c.total).
		Dur("keepAlive", cfg.KeepAlive).
		Msg("Scroll opened")

	return c, nil
}

// Next returns the next page of hits. Once the hits run out the context is cleared and Next returns
// io.EOF from then on.
func (c *Cursor) Next(ctx context.Context) ([]*api.SearchHit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Exhausted:
		return nil, io.EOF
	case Expired:
		return nil, &elastic.CursorExpiredError{}
	case Uninitialized, Released:
		return nil, &elastic.StateError{Op: "next", State: c.state.String()}
	}

	var hits []*api.SearchHit
	if c.buffered {
		hits = c.first
		c.first, c.buffered = nil, false
	} else {
		res, err := c.do(ctx, esapi.ScrollRequest{ScrollID: c.scrollID, Scroll: c.keepAlive})
		if err != nil {
			var ce *elastic.CursorExpiredError
			if errors.As(err, &ce) {
				c.log.Warn().Str("scrollID", c.scrollID).Msg("Scroll context expired")
				c.state = Expired
				ce.ScrollID = c.scrollID
				c.scrollID = ""
			}
			return nil, err
		}
		if res.ScrollID != "" {
			c.scrollID = res.ScrollID
		}
		if res.Hits != nil {
			hits = res.Hits.Hits
		}
	}

	if len(hits) == 0 {
		c.state = Exhausted
		if err := c.clear(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to clear exhausted scroll")
		}
		return nil, io.EOF
	}
	return hits, nil
}

// Release clears the server context. Releasing a cursor that is already done is a no-op.
func (c *Cursor) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Exhausted, Released, Expired:
		return nil
	}
	c.state = Released
	c.first, c.buffered = nil, false
	return c.clear(ctx)
}

// Each hands every page to fn until the hits run out, fn fails or ctx ends. The cursor is released
// in any case.
func (c *Cursor) Each(ctx context.Context, fn func([]*api.SearchHit) error) error {
	defer func() {
		if err := c.Release(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn().Err(err).Msg("Failed to release scroll")
		}
	}()

	for {
		hits, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(hits); err != nil {
			return err
		}
	}
}

func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Total is the hit count reported by the initial search, -1 if the engine did not track it.
func (c *Cursor) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Cursor) ScrollID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrollID
}

// clear drops the server context. Must hold c.mu.
func (c *Cursor) clear(ctx context.Context) error {
	if c.scrollID == "" {
		return nil
	}
	id := c.scrollID
	c.scrollID = ""

	res, err := esapi.ClearScrollRequest{ScrollID: []string{id}}.Do(ctx, c.tr)
	if err != nil {
		return errors.Wrap(err, "clear scroll")
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	// the engine already dropped it
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return errors.Errorf("clear scroll: %s", res.Status())
	}
	return nil
}

func (c *Cursor) do(ctx context.Context, req esapi.Request) (*api.SearchResult, error) {
	res, err := req.Do(ctx, c.tr)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read scroll response")
	}
	out, err := api.ParseSearchResponse(&elastic.Response{StatusCode: res.StatusCode, Header: res.Header, Body: data})
	if err != nil {
		return nil, err
	}
	if out.Degraded() {
		c.log.Warn().
			Int("failed", out.Warning.Failed).
			Int("total", out.Warning.Total).
			Msg("Scroll page misses shards")
	}
	return out, nil
}
