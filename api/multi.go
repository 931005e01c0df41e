package api

import (
	"context"
	"net/http"

	"github.com/pteich/elastic-client-kit/elastic"
)

// MultiGetItem addresses one document of a multi get.
type MultiGetItem struct {
	Index          string   `json:"_index"`
	ID             string   `json:"_id"`
	Routing        string   `json:"routing,omitempty"`
	SourceIncludes []string `json:"-"`
}

type multiGetDoc struct {
	MultiGetItem
	Source any `json:"_source,omitempty"`
}

type MultiGetRequest struct {
	builder
	items []MultiGetItem
}

type MultiGetResult struct {
	Docs []*GetResult `json:"docs"`
}

func MultiGet(items ...MultiGetItem) *MultiGetRequest {
	r := &MultiGetRequest{}
	return r.Add(items...)
}

func (r *MultiGetRequest) Add(items ...MultiGetItem) *MultiGetRequest {
	for _, it := range items {
		r.require("_index", it.Index)
		r.require("_id", it.ID)
	}
	r.items = append(r.items, items...)
	return r
}

func (r *MultiGetRequest) Realtime(v bool) *MultiGetRequest {
	r.setBool("realtime", v)
	return r
}

func (r *MultiGetRequest) Refresh(v bool) *MultiGetRequest {
	r.setBool("refresh", v)
	return r
}

func (r *MultiGetRequest) Preference(p string) *MultiGetRequest {
	r.set("preference", p)
	return r
}

func (r *MultiGetRequest) Build() (elastic.Request, error) {
	b := r.builder
	if len(r.items) == 0 {
		b.invalid("docs", "at least one document is required")
	}
	docs := make([]multiGetDoc, 0, len(r.items))
	for _, it := range r.items {
		d := multiGetDoc{MultiGetItem: it}
		if len(it.SourceIncludes) > 0 {
			d.Source = it.SourceIncludes
		}
		docs = append(docs, d)
	}
	body, err := encodeBody(map[string]any{"docs": docs})
	if err != nil {
		b.invalid("docs", err.Error())
	}
	return b.request(http.MethodPost, "/_mget", body)
}

// Do returns one result per item in request order. Missing documents have Found false,
// per item errors are set on the result.
func (r *MultiGetRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*MultiGetResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*MultiGetResult, error) {
		return decode[MultiGetResult](res, "", "")
	})
}

// MultiTermVectorsItem addresses one document of a multi term vectors request.
type MultiTermVectorsItem struct {
	Index  string   `json:"_index"`
	ID     string   `json:"_id"`
	Fields []string `json:"fields,omitempty"`
}

type MultiTermVectorsRequest struct {
	builder
	items []MultiTermVectorsItem
}

type MultiTermVectorsResult struct {
	Docs []*TermVectorsResult `json:"docs"`
}

func MultiTermVectors(items ...MultiTermVectorsItem) *MultiTermVectorsRequest {
	r := &MultiTermVectorsRequest{}
	return r.Add(items...)
}

func (r *MultiTermVectorsRequest) Add(items ...MultiTermVectorsItem) *MultiTermVectorsRequest {
	for _, it := range items {
		r.require("_index", it.Index)
		r.require("_id", it.ID)
	}
	r.items = append(r.items, items...)
	return r
}

func (r *MultiTermVectorsRequest) TermStatistics(v bool) *MultiTermVectorsRequest {
	r.setBool("term_statistics", v)
	return r
}

func (r *MultiTermVectorsRequest) FieldStatistics(v bool) *MultiTermVectorsRequest {
	r.setBool("field_statistics", v)
	return r
}

func (r *MultiTermVectorsRequest) Build() (elastic.Request, error) {
	b := r.builder
	if len(r.items) == 0 {
		b.invalid("docs", "at least one document is required")
	}
	body, err := encodeBody(map[string]any{"docs": r.items})
	if err != nil {
		b.invalid("docs", err.Error())
	}
	return b.request(http.MethodPost, "/_mtermvectors", body)
}

func (r *MultiTermVectorsRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*MultiTermVectorsResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*MultiTermVectorsResult, error) {
		return decode[MultiTermVectorsResult](res, "", "")
	})
}
