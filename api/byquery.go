package api

import (
	"context"
	"net/http"
	"time"

	elasticv7 "github.com/olivere/elastic/v7"
	"github.com/pteich/elastic-client-kit/elastic"
)

// ByQueryResult is returned by reindex, update by query and delete by query.
type ByQueryResult struct {
	Took             int64            `json:"took"`
	TimedOut         bool             `json:"timed_out"`
	Total            int64            `json:"total"`
	Updated          int64            `json:"updated"`
	Created          int64            `json:"created"`
	Deleted          int64            `json:"deleted"`
	Batches          int64            `json:"batches"`
	VersionConflicts int64            `json:"version_conflicts"`
	Noops            int64            `json:"noops"`
	Failures         []ByQueryFailure `json:"failures,omitempty"`
	Task             string           `json:"task,omitempty"`
	Retries          *ByQueryRetries  `json:"retries,omitempty"`
}

type ByQueryRetries struct {
	Bulk   int64 `json:"bulk"`
	Search int64 `json:"search"`
}

type ByQueryFailure struct {
	Index  string          `json:"index"`
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Cause  *elastic.ErrorT `json:"cause,omitempty"`
}

// byQuery holds the options shared by update and delete by query.
type byQuery struct {
	builder
	indices []string
	query   elasticv7.Query
}

func (r *byQuery) init(indices []string) {
	r.indices = indices
	r.requireAll("index", indices)
}

func (r *byQuery) body(extra map[string]any) ([]byte, error) {
	body := map[string]any{}
	for k, v := range extra {
		body[k] = v
	}
	if r.query != nil {
		src, err := querySource(r.query)
		if err != nil {
			return nil, err
		}
		body["query"] = src
	}
	return encodeBody(body)
}

// build validates on b, a copy of the request's builder.
func (r *byQuery) build(b builder, endpoint string, extra map[string]any) (elastic.Request, error) {
	if b.err != nil {
		return elastic.Request{}, b.err
	}
	body, err := r.body(extra)
	if err != nil {
		return elastic.Request{}, err
	}
	return b.request(http.MethodPost, path(indexList(r.indices), endpoint), body)
}

func parseByQuery(res *elastic.Response, index string) (*ByQueryResult, error) {
	return decode[ByQueryResult](res, index, "")
}

// UpdateByQueryRequest updates every document matching a query, optionally with a script.
type UpdateByQueryRequest struct {
	byQuery
	script *Script
}

func UpdateByQuery(indices ...string) *UpdateByQueryRequest {
	r := &UpdateByQueryRequest{}
	r.init(indices)
	return r
}

func (r *UpdateByQueryRequest) Query(q elasticv7.Query) *UpdateByQueryRequest {
	r.query = q
	return r
}

func (r *UpdateByQueryRequest) Script(s *Script) *UpdateByQueryRequest {
	r.script = s
	return r
}

// Conflicts is "abort" or "proceed".
func (r *UpdateByQueryRequest) Conflicts(c string) *UpdateByQueryRequest {
	r.set("conflicts", c)
	return r
}

func (r *UpdateByQueryRequest) Refresh(v bool) *UpdateByQueryRequest {
	r.setBool("refresh", v)
	return r
}

func (r *UpdateByQueryRequest) Routing(routing string) *UpdateByQueryRequest {
	r.set("routing", routing)
	return r
}

func (r *UpdateByQueryRequest) ScrollSize(n int) *UpdateByQueryRequest {
	r.setInt("scroll_size", int64(n))
	return r
}

func (r *UpdateByQueryRequest) Pipeline(p string) *UpdateByQueryRequest {
	r.set("pipeline", p)
	return r
}

// WaitForCompletion false starts a task and returns its id in ByQueryResult.Task.
func (r *UpdateByQueryRequest) WaitForCompletion(v bool) *UpdateByQueryRequest {
	r.setBool("wait_for_completion", v)
	return r
}

func (r *UpdateByQueryRequest) Timeout(d time.Duration) *UpdateByQueryRequest {
	r.setDuration("timeout", d)
	return r
}

func (r *UpdateByQueryRequest) Build() (elastic.Request, error) {
	b := r.builder
	extra := map[string]any{}
	if r.script != nil {
		src, err := r.script.Source()
		if err != nil {
			b.invalid("script", err.Error())
		}
		extra["script"] = src
	}
	return r.build(b, "_update_by_query", extra)
}

func (r *UpdateByQueryRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*ByQueryResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*ByQueryResult, error) {
		return parseByQuery(res, indexList(r.indices))
	})
}

// DeleteByQueryRequest deletes every document matching a query.
type DeleteByQueryRequest struct {
	byQuery
}

func DeleteByQuery(indices ...string) *DeleteByQueryRequest {
	r := &DeleteByQueryRequest{}
	r.init(indices)
	return r
}

func (r *DeleteByQueryRequest) Query(q elasticv7.Query) *DeleteByQueryRequest {
	r.query = q
	return r
}

func (r *DeleteByQueryRequest) Conflicts(c string) *DeleteByQueryRequest {
	r.set("conflicts", c)
	return r
}

func (r *DeleteByQueryRequest) Refresh(v bool) *DeleteByQueryRequest {
	r.setBool("refresh", v)
	return r
}

func (r *DeleteByQueryRequest) Routing(routing string) *DeleteByQueryRequest {
	r.set("routing", routing)
	return r
}

func (r *DeleteByQueryRequest) ScrollSize(n int) *DeleteByQueryRequest {
	r.setInt("scroll_size", int64(n))
	return r
}

func (r *DeleteByQueryRequest) WaitForCompletion(v bool) *DeleteByQueryRequest {
	r.setBool("wait_for_completion", v)
	return r
}

func (r *DeleteByQueryRequest) Timeout(d time.Duration) *DeleteByQueryRequest {
	r.setDuration("timeout", d)
	return r
}

func (r *DeleteByQueryRequest) Build() (elastic.Request, error) {
	b := r.builder
	if r.query == nil {
		b.invalid("query", "is required")
	}
	return r.build(b, "_delete_by_query", nil)
}

func (r *DeleteByQueryRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*ByQueryResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*ByQueryResult, error) {
		return parseByQuery(res, indexList(r.indices))
	})
}

// ReindexRequest copies documents from source indices into a destination index.
type ReindexRequest struct {
	builder
	source  []string
	dest    string
	query   elasticv7.Query
	script  *Script
	opType  string
	maxDocs int64
	size    int
}

func Reindex(dest string, source ...string) *ReindexRequest {
	r := &ReindexRequest{dest: dest, source: source}
	r.require("dest", dest)
	r.requireAll("source", source)
	return r
}

func (r *ReindexRequest) Query(q elasticv7.Query) *ReindexRequest {
	r.query = q
	return r
}

func (r *ReindexRequest) Script(s *Script) *ReindexRequest {
	r.script = s
	return r
}

// Create only writes documents missing from the destination.
func (r *ReindexRequest) Create() *ReindexRequest {
	r.opType = "create"
	return r
}

func (r *ReindexRequest) MaxDocs(n int64) *ReindexRequest {
	r.maxDocs = n
	return r
}

// BatchSize is the number of documents read per scroll batch.
func (r *ReindexRequest) BatchSize(n int) *ReindexRequest {
	if n <= 0 {
		r.invalid("size", "must be positive")
	}
	r.size = n
	return r
}

func (r *ReindexRequest) Conflicts(c string) *ReindexRequest {
	r.set("conflicts", c)
	return r
}

func (r *ReindexRequest) Refresh(v bool) *ReindexRequest {
	r.setBool("refresh", v)
	return r
}

func (r *ReindexRequest) WaitForCompletion(v bool) *ReindexRequest {
	r.setBool("wait_for_completion", v)
	return r
}

func (r *ReindexRequest) Timeout(d time.Duration) *ReindexRequest {
	r.setDuration("timeout", d)
	return r
}

func (r *ReindexRequest) Build() (elastic.Request, error) {
	b := r.builder
	if b.err != nil {
		return elastic.Request{}, b.err
	}

	source := map[string]any{"index": r.source}
	if r.query != nil {
		src, err := querySource(r.query)
		if err != nil {
			return elastic.Request{}, err
		}
		source["query"] = src
	}
	if r.size > 0 {
		source["size"] = r.size
	}
	dest := map[string]any{"index": r.dest}
	if r.opType != "" {
		dest["op_type"] = r.opType
	}

	body := map[string]any{"source": source, "dest": dest}
	if r.maxDocs > 0 {
		body["max_docs"] = r.maxDocs
	}
	if r.script != nil {
		src, err := r.script.Source()
		if err != nil {
			return elastic.Request{}, &elastic.InvalidRequestError{Field: "script", Reason: err.Error()}
		}
		body["script"] = src
	}

	data, err := encodeBody(body)
	if err != nil {
		b.invalid("body", err.Error())
	}
	return b.request(http.MethodPost, "/_reindex", data)
}

func (r *ReindexRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*ByQueryResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*ByQueryResult, error) {
		return parseByQuery(res, r.dest)
	})
}
