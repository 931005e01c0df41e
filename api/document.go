package api

import (
	"context"
	"net/http"
	"time"

	elasticv7 "github.com/olivere/elastic/v7"
	"github.com/pteich/elastic-client-kit/elastic"
)

// IndexRequest stores a document.
type IndexRequest struct {
	builder
	index string
	id    string
	doc   any
}

func Index(index string) *IndexRequest {
	r := &IndexRequest{index: index}
	r.require("index", index)
	return r
}

func (r *IndexRequest) ID(id string) *IndexRequest {
	r.id = id
	return r
}

// Doc sets the document. Raw JSON ([]byte, json.RawMessage, string) is sent as is.
func (r *IndexRequest) Doc(doc any) *IndexRequest {
	r.doc = doc
	return r
}

// Create makes the write fail with AlreadyExistsError if the id is taken.
func (r *IndexRequest) Create() *IndexRequest {
	r.set("op_type", "create")
	return r
}

func (r *IndexRequest) Routing(routing string) *IndexRequest {
	r.set("routing", routing)
	return r
}

func (r *IndexRequest) Timeout(d time.Duration) *IndexRequest {
	r.setDuration("timeout", d)
	return r
}

func (r *IndexRequest) Refresh(p RefreshPolicy) *IndexRequest {
	r.set("refresh", string(p))
	return r
}

func (r *IndexRequest) Version(v int64) *IndexRequest {
	r.setInt("version", v)
	return r
}

// VersionType is one of "internal", "external" or "external_gte".
func (r *IndexRequest) VersionType(t string) *IndexRequest {
	r.set("version_type", t)
	return r
}

func (r *IndexRequest) IfSeqNo(seqNo, primaryTerm int64) *IndexRequest {
	r.setInt("if_seq_no", seqNo)
	r.setInt("if_primary_term", primaryTerm)
	return r
}

func (r *IndexRequest) Pipeline(p string) *IndexRequest {
	r.set("pipeline", p)
	return r
}

func (r *IndexRequest) WaitForActiveShards(n string) *IndexRequest {
	r.set("wait_for_active_shards", n)
	return r
}

func (r *IndexRequest) Build() (elastic.Request, error) {
	b := r.builder
	if r.doc == nil {
		b.invalid("doc", "is required")
	}
	if r.params.Get("op_type") == "create" {
		b.require("id", r.id)
	}
	body, err := encodeBody(r.doc)
	if err != nil {
		b.invalid("doc", err.Error())
	}

	if r.id == "" {
		return b.request(http.MethodPost, path(r.index, "_doc"), body)
	}
	return b.request(http.MethodPut, path(r.index, "_doc", r.id), body)
}

func (r *IndexRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*WriteResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*WriteResult, error) {
		return parseWrite(res, r.index, r.id)
	})
}

// GetRequest fetches a document by id.
type GetRequest struct {
	builder
	index  string
	id     string
	source sourceFilter
}

func Get(index, id string) *GetRequest {
	r := &GetRequest{index: index, id: id}
	r.require("index", index)
	r.require("id", id)
	return r
}

func (r *GetRequest) Routing(routing string) *GetRequest {
	r.set("routing", routing)
	return r
}

func (r *GetRequest) Preference(p string) *GetRequest {
	r.set("preference", p)
	return r
}

func (r *GetRequest) Realtime(v bool) *GetRequest {
	r.setBool("realtime", v)
	return r
}

func (r *GetRequest) Refresh(v bool) *GetRequest {
	r.setBool("refresh", v)
	return r
}

func (r *GetRequest) Version(v int64) *GetRequest {
	r.setInt("version", v)
	return r
}

func (r *GetRequest) VersionType(t string) *GetRequest {
	r.set("version_type", t)
	return r
}

func (r *GetRequest) StoredFields(fields ...string) *GetRequest {
	r.set("stored_fields", indexList(fields))
	return r
}

// SourceIncludes, SourceExcludes and FetchSource all set the same option; the last call wins.
func (r *GetRequest) SourceIncludes(fields ...string) *GetRequest {
	r.source.include(fields)
	return r
}

func (r *GetRequest) SourceExcludes(fields ...string) *GetRequest {
	r.source.exclude(fields)
	return r
}

func (r *GetRequest) FetchSource(enabled bool) *GetRequest {
	r.source.fetch(enabled)
	return r
}

func (r *GetRequest) Build() (elastic.Request, error) {
	b := r.builder
	b.params = cloneParams(r.params)
	r.source.apply(&b)
	return b.request(http.MethodGet, path(r.index, "_doc", r.id), nil)
}

// Do returns the document. A missing document is not an error: Found is false.
func (r *GetRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*GetResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*GetResult, error) {
		return parseGet(res, r.index, r.id)
	})
}

// ExistsRequest checks for a document without fetching it.
type ExistsRequest struct {
	builder
	index string
	id    string
}

func Exists(index, id string) *ExistsRequest {
	r := &ExistsRequest{index: index, id: id}
	r.require("index", index)
	r.require("id", id)
	return r
}

func (r *ExistsRequest) Routing(routing string) *ExistsRequest {
	r.set("routing", routing)
	return r
}

func (r *ExistsRequest) Preference(p string) *ExistsRequest {
	r.set("preference", p)
	return r
}

func (r *ExistsRequest) Realtime(v bool) *ExistsRequest {
	r.setBool("realtime", v)
	return r
}

func (r *ExistsRequest) Build() (elastic.Request, error) {
	return r.request(http.MethodHead, path(r.index, "_doc", r.id), nil)
}

func (r *ExistsRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (bool, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (bool, error) {
		return parseExists(res, r.index, r.id)
	})
}

// DeleteRequest removes a document. Deleting a missing document yields Result "not_found".
type DeleteRequest struct {
	builder
	index string
	id    string
}

func Delete(index, id string) *DeleteRequest {
	r := &DeleteRequest{index: index, id: id}
	r.require("index", index)
	r.require("id", id)
	return r
}

func (r *DeleteRequest) Routing(routing string) *DeleteRequest {
	r.set("routing", routing)
	return r
}

func (r *DeleteRequest) Timeout(d time.Duration) *DeleteRequest {
	r.setDuration("timeout", d)
	return r
}

func (r *DeleteRequest) Refresh(p RefreshPolicy) *DeleteRequest {
	r.set("refresh", string(p))
	return r
}

func (r *DeleteRequest) Version(v int64) *DeleteRequest {
	r.setInt("version", v)
	return r
}

func (r *DeleteRequest) VersionType(t string) *DeleteRequest {
	r.set("version_type", t)
	return r
}

func (r *DeleteRequest) IfSeqNo(seqNo, primaryTerm int64) *DeleteRequest {
	r.setInt("if_seq_no", seqNo)
	r.setInt("if_primary_term", primaryTerm)
	return r
}

func (r *DeleteRequest) WaitForActiveShards(n string) *DeleteRequest {
	r.set("wait_for_active_shards", n)
	return r
}

func (r *DeleteRequest) Build() (elastic.Request, error) {
	return r.request(http.MethodDelete, path(r.index, "_doc", r.id), nil)
}

func (r *DeleteRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*WriteResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*WriteResult, error) {
		return parseWrite(res, r.index, r.id)
	})
}

// Script is a stored or inline script, built with NewScript.
type Script = elasticv7.Script

func NewScript(source string) *Script {
	return elasticv7.NewScript(source)
}

// UpdateRequest partially updates a document with a doc or a script.
type UpdateRequest struct {
	builder
	index       string
	id          string
	doc         any
	upsert      any
	docAsUpsert *bool
	detectNoop  *bool
	script      *Script
	source      sourceFilter
}

func Update(index, id string) *UpdateRequest {
	r := &UpdateRequest{index: index, id: id}
	r.require("index", index)
	r.require("id", id)
	return r
}

func (r *UpdateRequest) Doc(doc any) *UpdateRequest {
	r.doc = doc
	return r
}

func (r *UpdateRequest) Upsert(doc any) *UpdateRequest {
	r.upsert = doc
	return r
}

func (r *UpdateRequest) DocAsUpsert(v bool) *UpdateRequest {
	r.docAsUpsert = &v
	return r
}

func (r *UpdateRequest) DetectNoop(v bool) *UpdateRequest {
	r.detectNoop = &v
	return r
}

func (r *UpdateRequest) Script(s *Script) *UpdateRequest {
	r.script = s
	return r
}

func (r *UpdateRequest) RetryOnConflict(n int) *UpdateRequest {
	if n < 0 {
		r.invalid("retry_on_conflict", "must not be negative")
	}
	r.setInt("retry_on_conflict", int64(n))
	return r
}

func (r *UpdateRequest) Routing(routing string) *UpdateRequest {
	r.set("routing", routing)
	return r
}

func (r *UpdateRequest) Timeout(d time.Duration) *UpdateRequest {
	r.setDuration("timeout", d)
	return r
}

func (r *UpdateRequest) Refresh(p RefreshPolicy) *UpdateRequest {
	r.set("refresh", string(p))
	return r
}

func (r *UpdateRequest) IfSeqNo(seqNo, primaryTerm int64) *UpdateRequest {
	r.setInt("if_seq_no", seqNo)
	r.setInt("if_primary_term", primaryTerm)
	return r
}

func (r *UpdateRequest) WaitForActiveShards(n string) *UpdateRequest {
	r.set("wait_for_active_shards", n)
	return r
}

// FetchSource, SourceIncludes and SourceExcludes control the source returned with the result.
// They set the same option; the last call wins.
func (r *UpdateRequest) FetchSource(enabled bool) *UpdateRequest {
	r.source.fetch(enabled)
	return r
}

func (r *UpdateRequest) SourceIncludes(fields ...string) *UpdateRequest {
	r.source.include(fields)
	return r
}

func (r *UpdateRequest) SourceExcludes(fields ...string) *UpdateRequest {
	r.source.exclude(fields)
	return r
}

func (r *UpdateRequest) Build() (elastic.Request, error) {
	b := r.builder
	if r.doc == nil && r.script == nil {
		b.invalid("doc", "doc or script is required")
	}

	body := map[string]any{}
	if r.doc != nil {
		body["doc"] = r.doc
	}
	if r.script != nil {
		src, err := r.script.Source()
		if err != nil {
			b.invalid("script", err.Error())
		}
		body["script"] = src
	}
	if r.upsert != nil {
		body["upsert"] = r.upsert
	}
	if r.docAsUpsert != nil {
		body["doc_as_upsert"] = *r.docAsUpsert
	}
	if r.detectNoop != nil {
		body["detect_noop"] = *r.detectNoop
	}
	if fsc := r.source.context(); fsc != nil {
		src, err := fsc.Source()
		if err != nil {
			b.invalid("_source", err.Error())
		}
		body["_source"] = src
	}

	data, err := encodeBody(body)
	if err != nil {
		b.invalid("doc", err.Error())
	}
	return b.request(http.MethodPost, path(r.index, "_update", r.id), data)
}

func (r *UpdateRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*WriteResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*WriteResult, error) {
		return parseWrite(res, r.index, r.id)
	})
}

// TermVectorsRequest returns term information for a stored or an artificial document.
type TermVectorsRequest struct {
	builder
	index  string
	id     string
	doc    any
	fields []string
}

func TermVectors(index string) *TermVectorsRequest {
	r := &TermVectorsRequest{index: index}
	r.require("index", index)
	return r
}

func (r *TermVectorsRequest) ID(id string) *TermVectorsRequest {
	r.id = id
	return r
}

// Doc requests term vectors for an artificial document that is not stored.
func (r *TermVectorsRequest) Doc(doc any) *TermVectorsRequest {
	r.doc = doc
	return r
}

func (r *TermVectorsRequest) Fields(fields ...string) *TermVectorsRequest {
	r.fields = fields
	return r
}

func (r *TermVectorsRequest) Offsets(v bool) *TermVectorsRequest {
	r.setBool("offsets", v)
	return r
}

func (r *TermVectorsRequest) Positions(v bool) *TermVectorsRequest {
	r.setBool("positions", v)
	return r
}

func (r *TermVectorsRequest) Payloads(v bool) *TermVectorsRequest {
	r.setBool("payloads", v)
	return r
}

func (r *TermVectorsRequest) TermStatistics(v bool) *TermVectorsRequest {
	r.setBool("term_statistics", v)
	return r
}

func (r *TermVectorsRequest) FieldStatistics(v bool) *TermVectorsRequest {
	r.setBool("field_statistics", v)
	return r
}

func (r *TermVectorsRequest) Routing(routing string) *TermVectorsRequest {
	r.set("routing", routing)
	return r
}

func (r *TermVectorsRequest) Realtime(v bool) *TermVectorsRequest {
	r.setBool("realtime", v)
	return r
}

func (r *TermVectorsRequest) Build() (elastic.Request, error) {
	b := r.builder
	if r.id == "" && r.doc == nil {
		b.invalid("id", "id or doc is required")
	}

	b.params = cloneParams(r.params)
	if len(r.fields) > 0 {
		b.set("fields", indexList(r.fields))
	}

	if r.doc == nil {
		return b.request(http.MethodGet, path(r.index, "_termvectors", r.id), nil)
	}
	body, err := encodeBody(map[string]any{"doc": r.doc})
	if err != nil {
		b.invalid("doc", err.Error())
	}
	return b.request(http.MethodPost, path(r.index, "_termvectors", r.id), body)
}

func (r *TermVectorsRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*TermVectorsResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*TermVectorsResult, error) {
		return decode[TermVectorsResult](res, r.index, r.id)
	})
}

type TermVectorsResult struct {
	Index       string                      `json:"_index"`
	ID          string                      `json:"_id,omitempty"`
	Version     int64                       `json:"_version,omitempty"`
	Found       bool                        `json:"found"`
	Took        int64                       `json:"took"`
	TermVectors map[string]TermVectorsField `json:"term_vectors"`
}

type TermVectorsField struct {
	FieldStatistics *FieldStatistics    `json:"field_statistics,omitempty"`
	Terms           map[string]TermInfo `json:"terms"`
}

type FieldStatistics struct {
	DocCount   int64 `json:"doc_count"`
	SumDocFreq int64 `json:"sum_doc_freq"`
	SumTTF     int64 `json:"sum_ttf"`
}

type TermInfo struct {
	DocFreq  int64       `json:"doc_freq,omitempty"`
	TTF      int64       `json:"ttf,omitempty"`
	TermFreq int64       `json:"term_freq"`
	Tokens   []TermToken `json:"tokens,omitempty"`
}

type TermToken struct {
	Position    int64  `json:"position"`
	StartOffset int64  `json:"start_offset"`
	EndOffset   int64  `json:"end_offset"`
	Payload     string `json:"payload,omitempty"`
}

func cloneParams(p map[string][]string) map[string][]string {
	if p == nil {
		return nil
	}
	out := make(map[string][]string, len(p))
	for k, v := range p {
		out[k] = append([]string(nil), v...)
	}
	return out
}
