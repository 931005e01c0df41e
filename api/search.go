package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	elasticv7 "github.com/olivere/elastic/v7"
	"github.com/pkg/errors"

	"github.com/pteich/elastic-client-kit/elastic"
)

// SearchRequest runs a query DSL search. The body is rendered by an olivere SearchSource.
type SearchRequest struct {
	builder
	indices []string
	src     *elasticv7.SearchSource
	query   elasticv7.Query
	source  sourceFilter
}

func Search(indices ...string) *SearchRequest {
	return &SearchRequest{indices: indices, src: elasticv7.NewSearchSource()}
}

func (r *SearchRequest) Query(q elasticv7.Query) *SearchRequest {
	r.query = q
	return r
}

func (r *SearchRequest) From(n int) *SearchRequest {
	if n < 0 {
		r.invalid("from", "must not be negative")
	}
	r.src.From(n)
	return r
}

func (r *SearchRequest) Size(n int) *SearchRequest {
	if n < 0 {
		r.invalid("size", "must not be negative")
	}
	r.src.Size(n)
	return r
}

func (r *SearchRequest) Sort(field string, ascending bool) *SearchRequest {
	r.src.Sort(field, ascending)
	return r
}

func (r *SearchRequest) SortBy(sorter ...elasticv7.Sorter) *SearchRequest {
	r.src.SortBy(sorter...)
	return r
}

func (r *SearchRequest) Highlight(h *elasticv7.Highlight) *SearchRequest {
	r.src.Highlight(h)
	return r
}

func (r *SearchRequest) Aggregation(name string, agg elasticv7.Aggregation) *SearchRequest {
	r.src.Aggregation(name, agg)
	return r
}

func (r *SearchRequest) Suggester(s elasticv7.Suggester) *SearchRequest {
	r.src.Suggester(s)
	return r
}

// SourceIncludes, SourceExcludes and FetchSource set the same option; the last call wins.
func (r *SearchRequest) SourceIncludes(fields ...string) *SearchRequest {
	r.source.include(fields)
	return r
}

func (r *SearchRequest) SourceExcludes(fields ...string) *SearchRequest {
	r.source.exclude(fields)
	return r
}

func (r *SearchRequest) FetchSource(enabled bool) *SearchRequest {
	r.source.fetch(enabled)
	return r
}

func (r *SearchRequest) StoredFields(fields ...string) *SearchRequest {
	r.src.StoredFields(fields...)
	return r
}

// Timeout bounds the search on the engine side; partial results are returned with TimedOut set.
func (r *SearchRequest) Timeout(d time.Duration) *SearchRequest {
	r.src.Timeout(FormatDuration(d))
	return r
}

func (r *SearchRequest) Explain(v bool) *SearchRequest {
	r.src.Explain(v)
	return r
}

func (r *SearchRequest) Profile(v bool) *SearchRequest {
	r.src.Profile(v)
	return r
}

func (r *SearchRequest) TrackTotalHits(v bool) *SearchRequest {
	r.src.TrackTotalHits(v)
	return r
}

func (r *SearchRequest) Routing(routing string) *SearchRequest {
	r.set("routing", routing)
	return r
}

func (r *SearchRequest) Preference(p string) *SearchRequest {
	r.set("preference", p)
	return r
}

func (r *SearchRequest) SearchType(t string) *SearchRequest {
	r.set("search_type", t)
	return r
}

func (r *SearchRequest) AllowPartialSearchResults(v bool) *SearchRequest {
	r.setBool("allow_partial_search_results", v)
	return r
}

// Scroll opens a scroll context kept alive for keepAlive between pages.
func (r *SearchRequest) Scroll(keepAlive time.Duration) *SearchRequest {
	r.setDuration("scroll", keepAlive)
	return r
}

// Body renders the search body.
func (r *SearchRequest) Body() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}

	src := *r.src
	if r.query != nil {
		if _, err := querySource(r.query); err != nil {
			return nil, err
		}
		src.Query(r.query)
	}
	if fsc := r.source.context(); fsc != nil {
		src.FetchSourceContext(fsc)
	}

	body, err := src.Source()
	if err != nil {
		return nil, &elastic.QueryError{Reason: err.Error()}
	}
	return queryBody(body)
}

func (r *SearchRequest) Build() (elastic.Request, error) {
	body, err := r.Body()
	if err != nil {
		return elastic.Request{}, err
	}
	return r.request(http.MethodPost, path(indexList(r.indices), "_search"), body)
}

func (r *SearchRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*SearchResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*SearchResult, error) {
		return ParseSearchResponse(res)
	})
}

// queryBody encodes a request body built from query sources.
func queryBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &elastic.QueryError{Reason: err.Error()}
	}
	return data, nil
}

// SearchResult is a search or scroll page.
type SearchResult struct {
	TookInMillis int64                   `json:"took"`
	TimedOut     bool                    `json:"timed_out"`
	ScrollID     string                  `json:"_scroll_id,omitempty"`
	Shards       *ShardsInfo             `json:"_shards,omitempty"`
	Hits         *SearchHits             `json:"hits,omitempty"`
	Aggregations elasticv7.Aggregations  `json:"aggregations,omitempty"`
	Suggest      elasticv7.SearchSuggest `json:"suggest,omitempty"`
	Profile      json.RawMessage         `json:"profile,omitempty"`
	Status       int                     `json:"status,omitempty"`
	Error        *elastic.ErrorT         `json:"error,omitempty"`

	Warning *elastic.PartialSuccessWarning `json:"-"`
}

// Degraded reports results that miss some shards.
func (r *SearchResult) Degraded() bool { return r.Warning != nil }

// TotalHits returns the total hit count, or -1 when the engine did not track it.
func (r *SearchResult) TotalHits() int64 {
	if r.Hits == nil || r.Hits.Total == nil {
		return -1
	}
	return r.Hits.Total.Value
}

type SearchHits struct {
	Total    *TotalHits   `json:"total,omitempty"`
	MaxScore *float64     `json:"max_score,omitempty"`
	Hits     []*SearchHit `json:"hits"`
}

type TotalHits struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// UnmarshalJSON accepts both the object form and the plain number of older engines.
func (t *TotalHits) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		t.Relation = "eq"
		return json.Unmarshal(data, &t.Value)
	}
	type plain TotalHits
	return json.Unmarshal(data, (*plain)(t))
}

type SearchHit struct {
	Index          string                       `json:"_index"`
	ID             string                       `json:"_id"`
	Score          *float64                     `json:"_score,omitempty"`
	Routing        string                       `json:"_routing,omitempty"`
	Version        *int64                       `json:"_version,omitempty"`
	SeqNo          *int64                       `json:"_seq_no,omitempty"`
	PrimaryTerm    *int64                       `json:"_primary_term,omitempty"`
	Source         json.RawMessage              `json:"_source,omitempty"`
	Fields         map[string]json.RawMessage   `json:"fields,omitempty"`
	Highlight      elasticv7.SearchHitHighlight `json:"highlight,omitempty"`
	Sort           []any                        `json:"sort,omitempty"`
	Explanation    json.RawMessage              `json:"_explanation,omitempty"`
	MatchedQueries []string                     `json:"matched_queries,omitempty"`
}

func (h *SearchHit) GetSource() []byte {
	return h.Source
}

// ParseSearchResponse parses search and scroll responses.
func ParseSearchResponse(res *elastic.Response) (*SearchResult, error) {
	out, err := decode[SearchResult](res, "", "")
	if err != nil {
		return nil, err
	}
	out.Warning = out.Shards.Warning()
	return out, nil
}

// CountRequest counts the documents matching a query.
type CountRequest struct {
	builder
	indices []string
	query   elasticv7.Query
}

func Count(indices ...string) *CountRequest {
	return &CountRequest{indices: indices}
}

func (r *CountRequest) Query(q elasticv7.Query) *CountRequest {
	r.query = q
	return r
}

func (r *CountRequest) Routing(routing string) *CountRequest {
	r.set("routing", routing)
	return r
}

func (r *CountRequest) Build() (elastic.Request, error) {
	var body []byte
	if r.query != nil {
		q, err := querySource(r.query)
		if err != nil {
			return elastic.Request{}, err
		}
		if body, err = queryBody(map[string]any{"query": q}); err != nil {
			return elastic.Request{}, err
		}
	}
	return r.request(http.MethodPost, path(indexList(r.indices), "_count"), body)
}

func (r *CountRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (int64, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (int64, error) {
		out, err := decode[struct {
			Count int64 `json:"count"`
		}](res, indexList(r.indices), "")
		if err != nil {
			return 0, err
		}
		return out.Count, nil
	})
}

// ExplainRequest tells why a document matches a query or not.
type ExplainRequest struct {
	builder
	index string
	id    string
	query elasticv7.Query
}

type ExplainResult struct {
	Index       string          `json:"_index"`
	ID          string          `json:"_id"`
	Matched     bool            `json:"matched"`
	Explanation json.RawMessage `json:"explanation,omitempty"`
}

func Explain(index, id string) *ExplainRequest {
	r := &ExplainRequest{index: index, id: id}
	r.require("index", index)
	r.require("id", id)
	return r
}

func (r *ExplainRequest) Query(q elasticv7.Query) *ExplainRequest {
	r.query = q
	return r
}

func (r *ExplainRequest) Routing(routing string) *ExplainRequest {
	r.set("routing", routing)
	return r
}

func (r *ExplainRequest) Build() (elastic.Request, error) {
	b := r.builder
	if r.query == nil {
		b.invalid("query", "is required")
		return elastic.Request{}, b.err
	}
	q, err := querySource(r.query)
	if err != nil {
		return elastic.Request{}, err
	}
	body, err := queryBody(map[string]any{"query": q})
	if err != nil {
		return elastic.Request{}, err
	}
	return b.request(http.MethodPost, path(r.index, "_explain", r.id), body)
}

func (r *ExplainRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*ExplainResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*ExplainResult, error) {
		return decode[ExplainResult](res, r.index, r.id)
	})
}

// MultiSearchRequest sends several searches in one round trip.
type MultiSearchRequest struct {
	builder
	searches []*SearchRequest
}

type MultiSearchResult struct {
	TookInMillis int64           `json:"took"`
	Responses    []*SearchResult `json:"responses"`
}

func MultiSearch(searches ...*SearchRequest) *MultiSearchRequest {
	return &MultiSearchRequest{searches: searches}
}

func (r *MultiSearchRequest) Add(s ...*SearchRequest) *MultiSearchRequest {
	r.searches = append(r.searches, s...)
	return r
}

func (r *MultiSearchRequest) MaxConcurrentSearches(n int) *MultiSearchRequest {
	r.setInt("max_concurrent_searches", int64(n))
	return r
}

func (r *MultiSearchRequest) Build() (elastic.Request, error) {
	b := r.builder
	if len(r.searches) == 0 {
		b.invalid("searches", "at least one search is required")
	}

	var buf bytes.Buffer
	for i, s := range r.searches {
		header := map[string]any{}
		if len(s.indices) > 0 {
			header["index"] = indexList(s.indices)
		}
		for k := range s.params {
			header[k] = s.params.Get(k)
		}
		body, err := s.Body()
		if err != nil {
			return elastic.Request{}, errors.Wrapf(err, "search %d", i)
		}
		line, err := json.Marshal(header)
		if err != nil {
			return elastic.Request{}, errors.Wrapf(err, "search %d", i)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		buf.Write(body)
		buf.WriteByte('\n')
	}

	req, err := b.request(http.MethodPost, "/_msearch", buf.Bytes())
	if err != nil {
		return req, err
	}
	return req.WithHeader("Content-Type", "application/x-ndjson"), nil
}

// Do returns one result per search. Failed searches carry Error instead of hits.
func (r *MultiSearchRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*MultiSearchResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*MultiSearchResult, error) {
		out, err := decode[MultiSearchResult](res, "", "")
		if err != nil {
			return nil, err
		}
		for _, sr := range out.Responses {
			if sr != nil {
				sr.Warning = sr.Shards.Warning()
			}
		}
		return out, nil
	})
}
