package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pteich/elastic-client-kit/elastic"
)

// CreateIndexRequest creates an index with settings, mappings and aliases.
type CreateIndexRequest struct {
	builder
	index    string
	settings map[string]any
	mappings any
	aliases  map[string]any
}

func CreateIndex(index string) *CreateIndexRequest {
	r := &CreateIndexRequest{index: index, settings: map[string]any{}}
	r.require("index", index)
	return r
}

func (r *CreateIndexRequest) Shards(n int) *CreateIndexRequest {
	if n < 1 {
		r.invalid("number_of_shards", "must be at least 1")
	}
	r.settings["number_of_shards"] = n
	return r
}

func (r *CreateIndexRequest) Replicas(n int) *CreateIndexRequest {
	if n < 0 {
		r.invalid("number_of_replicas", "must not be negative")
	}
	r.settings["number_of_replicas"] = n
	return r
}

// Setting sets any index setting, e.g. "refresh_interval".
func (r *CreateIndexRequest) Setting(key string, value any) *CreateIndexRequest {
	r.settings[key] = value
	return r
}

// Mapping sets the mappings body, e.g. {"properties": {...}}.
func (r *CreateIndexRequest) Mapping(m any) *CreateIndexRequest {
	r.mappings = m
	return r
}

func (r *CreateIndexRequest) Alias(name string) *CreateIndexRequest {
	if r.aliases == nil {
		r.aliases = map[string]any{}
	}
	r.aliases[name] = map[string]any{}
	return r
}

func (r *CreateIndexRequest) Timeout(d time.Duration) *CreateIndexRequest {
	r.setDuration("timeout", d)
	return r
}

func (r *CreateIndexRequest) MasterTimeout(d time.Duration) *CreateIndexRequest {
	r.setDuration("master_timeout", d)
	return r
}

func (r *CreateIndexRequest) WaitForActiveShards(n string) *CreateIndexRequest {
	r.set("wait_for_active_shards", n)
	return r
}

func (r *CreateIndexRequest) Build() (elastic.Request, error) {
	b := r.builder
	body := map[string]any{}
	if len(r.settings) > 0 {
		body["settings"] = r.settings
	}
	if r.mappings != nil {
		m, err := encodeBody(r.mappings)
		if err != nil {
			b.invalid("mappings", err.Error())
		}
		body["mappings"] = json.RawMessage(m)
	}
	if len(r.aliases) > 0 {
		body["aliases"] = r.aliases
	}

	data, err := encodeBody(body)
	if err != nil {
		b.invalid("settings", err.Error())
	}
	return b.request(http.MethodPut, path(r.index), data)
}

func (r *CreateIndexRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*Acknowledged, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*Acknowledged, error) {
		return parseAcknowledged(res, r.index)
	})
}

// IndexInfo is one index as returned by GetIndex.
type IndexInfo struct {
	Aliases  map[string]json.RawMessage `json:"aliases"`
	Mappings json.RawMessage            `json:"mappings"`
	Settings json.RawMessage            `json:"settings"`
}

type GetIndexRequest struct {
	builder
	indices []string
}

func GetIndex(indices ...string) *GetIndexRequest {
	r := &GetIndexRequest{indices: indices}
	r.requireAll("index", indices)
	return r
}

func (r *GetIndexRequest) IgnoreUnavailable(v bool) *GetIndexRequest {
	r.setBool("ignore_unavailable", v)
	return r
}

func (r *GetIndexRequest) Build() (elastic.Request, error) {
	return r.request(http.MethodGet, path(indexList(r.indices)), nil)
}

func (r *GetIndexRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (map[string]IndexInfo, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (map[string]IndexInfo, error) {
		out, err := decode[map[string]IndexInfo](res, indexList(r.indices), "")
		if err != nil {
			return nil, err
		}
		return *out, nil
	})
}

type IndexExistsRequest struct {
	builder
	indices []string
}

func IndexExists(indices ...string) *IndexExistsRequest {
	r := &IndexExistsRequest{indices: indices}
	r.requireAll("index", indices)
	return r
}

func (r *IndexExistsRequest) Build() (elastic.Request, error) {
	return r.request(http.MethodHead, path(indexList(r.indices)), nil)
}

func (r *IndexExistsRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (bool, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (bool, error) {
		return parseExists(res, indexList(r.indices), "")
	})
}

// indexAction covers admin operations that only take an index list and return an acknowledgement.
type indexAction struct {
	builder
	method  string
	action  string
	indices []string
}

func newIndexAction(method, action string, indices []string) *indexAction {
	r := &indexAction{method: method, action: action, indices: indices}
	r.requireAll("index", indices)
	return r
}

func (r *indexAction) build() (elastic.Request, error) {
	return r.request(r.method, path(indexList(r.indices), r.action), nil)
}

func (r *indexAction) do(ctx context.Context, ex elastic.Executor, opts []elastic.Option) (*Acknowledged, error) {
	req, err := r.build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*Acknowledged, error) {
		return parseAcknowledged(res, indexList(r.indices))
	})
}

type DeleteIndexRequest struct{ *indexAction }

func DeleteIndex(indices ...string) *DeleteIndexRequest {
	return &DeleteIndexRequest{newIndexAction(http.MethodDelete, "", indices)}
}

func (r *DeleteIndexRequest) Timeout(d time.Duration) *DeleteIndexRequest {
	r.setDuration("timeout", d)
	return r
}

func (r *DeleteIndexRequest) Build() (elastic.Request, error) { return r.build() }

func (r *DeleteIndexRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*Acknowledged, error) {
	return r.do(ctx, ex, opts)
}

type OpenIndexRequest struct{ *indexAction }

func OpenIndex(indices ...string) *OpenIndexRequest {
	return &OpenIndexRequest{newIndexAction(http.MethodPost, "_open", indices)}
}

func (r *OpenIndexRequest) WaitForActiveShards(n string) *OpenIndexRequest {
	r.set("wait_for_active_shards", n)
	return r
}

func (r *OpenIndexRequest) Build() (elastic.Request, error) { return r.build() }

func (r *OpenIndexRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*Acknowledged, error) {
	return r.do(ctx, ex, opts)
}

type CloseIndexRequest struct{ *indexAction }

func CloseIndex(indices ...string) *CloseIndexRequest {
	return &CloseIndexRequest{newIndexAction(http.MethodPost, "_close", indices)}
}

func (r *CloseIndexRequest) Build() (elastic.Request, error) { return r.build() }

func (r *CloseIndexRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*Acknowledged, error) {
	return r.do(ctx, ex, opts)
}

// ResizeKind selects how ResizeIndex builds the target index.
type ResizeKind string

const (
	Shrink ResizeKind = "_shrink"
	Split  ResizeKind = "_split"
	Clone  ResizeKind = "_clone"
)

// ResizeIndexRequest shrinks, splits or clones source into a new target index.
type ResizeIndexRequest struct {
	builder
	kind     ResizeKind
	source   string
	target   string
	settings map[string]any
	aliases  map[string]any
}

func ResizeIndex(kind ResizeKind, source, target string) *ResizeIndexRequest {
	r := &ResizeIndexRequest{kind: kind, source: source, target: target, settings: map[string]any{}}
	switch kind {
	case Shrink, Split, Clone:
	default:
		r.invalid("kind", "must be shrink, split or clone")
	}
	r.require("source", source)
	r.require("target", target)
	return r
}

func (r *ResizeIndexRequest) Shards(n int) *ResizeIndexRequest {
	if n < 1 {
		r.invalid("number_of_shards", "must be at least 1")
	}
	r.settings["index.number_of_shards"] = n
	return r
}

func (r *ResizeIndexRequest) Replicas(n int) *ResizeIndexRequest {
	r.settings["index.number_of_replicas"] = n
	return r
}

func (r *ResizeIndexRequest) Setting(key string, value any) *ResizeIndexRequest {
	r.settings[key] = value
	return r
}

func (r *ResizeIndexRequest) Alias(name string) *ResizeIndexRequest {
	if r.aliases == nil {
		r.aliases = map[string]any{}
	}
	r.aliases[name] = map[string]any{}
	return r
}

func (r *ResizeIndexRequest) WaitForActiveShards(n string) *ResizeIndexRequest {
	r.set("wait_for_active_shards", n)
	return r
}

func (r *ResizeIndexRequest) Build() (elastic.Request, error) {
	b := r.builder
	body := map[string]any{}
	if len(r.settings) > 0 {
		body["settings"] = r.settings
	}
	if len(r.aliases) > 0 {
		body["aliases"] = r.aliases
	}
	data, err := encodeBody(body)
	if err != nil {
		b.invalid("settings", err.Error())
	}
	return b.request(http.MethodPost, path(r.source, string(r.kind), r.target), data)
}

func (r *ResizeIndexRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*Acknowledged, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*Acknowledged, error) {
		return parseAcknowledged(res, r.source)
	})
}

// RolloverRequest moves an alias to a new index once one of the conditions is met.
type RolloverRequest struct {
	builder
	alias      string
	newIndex   string
	conditions map[string]any
	settings   map[string]any
}

type RolloverResult struct {
	Acknowledged       bool            `json:"acknowledged"`
	ShardsAcknowledged bool            `json:"shards_acknowledged"`
	OldIndex           string          `json:"old_index"`
	NewIndex           string          `json:"new_index"`
	RolledOver         bool            `json:"rolled_over"`
	DryRun             bool            `json:"dry_run"`
	Conditions         map[string]bool `json:"conditions"`
}

func Rollover(alias string) *RolloverRequest {
	r := &RolloverRequest{alias: alias, conditions: map[string]any{}, settings: map[string]any{}}
	r.require("alias", alias)
	return r
}

func (r *RolloverRequest) NewIndex(name string) *RolloverRequest {
	r.newIndex = name
	return r
}

func (r *RolloverRequest) MaxAge(d time.Duration) *RolloverRequest {
	r.conditions["max_age"] = FormatDuration(d)
	return r
}

func (r *RolloverRequest) MaxDocs(n int64) *RolloverRequest {
	r.conditions["max_docs"] = n
	return r
}

// MaxSize takes a byte size value such as "50gb".
func (r *RolloverRequest) MaxSize(size string) *RolloverRequest {
	r.conditions["max_size"] = size
	return r
}

func (r *RolloverRequest) Setting(key string, value any) *RolloverRequest {
	r.settings[key] = value
	return r
}

func (r *RolloverRequest) DryRun(v bool) *RolloverRequest {
	r.setBool("dry_run", v)
	return r
}

func (r *RolloverRequest) Build() (elastic.Request, error) {
	b := r.builder
	body := map[string]any{}
	if len(r.conditions) > 0 {
		body["conditions"] = r.conditions
	}
	if len(r.settings) > 0 {
		body["settings"] = r.settings
	}
	data, err := encodeBody(body)
	if err != nil {
		b.invalid("conditions", err.Error())
	}
	return b.request(http.MethodPost, path(r.alias, "_rollover", r.newIndex), data)
}

func (r *RolloverRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*RolloverResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*RolloverResult, error) {
		return decode[RolloverResult](res, r.alias, "")
	})
}

// UpdateAliasesRequest applies alias additions and removals atomically.
type UpdateAliasesRequest struct {
	builder
	actions []map[string]any
}

func UpdateAliases() *UpdateAliasesRequest {
	return &UpdateAliasesRequest{}
}

func (r *UpdateAliasesRequest) Add(index, alias string) *UpdateAliasesRequest {
	r.require("index", index)
	r.require("alias", alias)
	r.actions = append(r.actions, map[string]any{"add": map[string]string{"index": index, "alias": alias}})
	return r
}

func (r *UpdateAliasesRequest) Remove(index, alias string) *UpdateAliasesRequest {
	r.require("index", index)
	r.require("alias", alias)
	r.actions = append(r.actions, map[string]any{"remove": map[string]string{"index": index, "alias": alias}})
	return r
}

func (r *UpdateAliasesRequest) Build() (elastic.Request, error) {
	b := r.builder
	if len(r.actions) == 0 {
		b.invalid("actions", "at least one alias action is required")
	}
	data, err := encodeBody(map[string]any{"actions": r.actions})
	if err != nil {
		b.invalid("actions", err.Error())
	}
	return b.request(http.MethodPost, "/_aliases", data)
}

func (r *UpdateAliasesRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*Acknowledged, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*Acknowledged, error) {
		return parseAcknowledged(res, "")
	})
}

// shardsAction covers maintenance operations answered with a _shards section.
// An empty index list targets all indices.
type shardsAction struct {
	builder
	action  string
	indices []string
}

func (r *shardsAction) build() (elastic.Request, error) {
	return r.request(http.MethodPost, path(indexList(r.indices), r.action), nil)
}

func (r *shardsAction) do(ctx context.Context, ex elastic.Executor, opts []elastic.Option) (*ShardsResult, error) {
	req, err := r.build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*ShardsResult, error) {
		return parseShards(res, indexList(r.indices))
	})
}

// RefreshRequest makes recent writes visible to search.
type RefreshRequest struct{ shardsAction }

func Refresh(indices ...string) *RefreshRequest {
	return &RefreshRequest{shardsAction{action: "_refresh", indices: indices}}
}

func (r *RefreshRequest) Build() (elastic.Request, error) { return r.build() }

func (r *RefreshRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*ShardsResult, error) {
	return r.do(ctx, ex, opts)
}

// FlushRequest commits in-memory writes of the engine to disk.
type FlushRequest struct{ shardsAction }

func Flush(indices ...string) *FlushRequest {
	return &FlushRequest{shardsAction{action: "_flush", indices: indices}}
}

func (r *FlushRequest) Force(v bool) *FlushRequest {
	r.setBool("force", v)
	return r
}

func (r *FlushRequest) WaitIfOngoing(v bool) *FlushRequest {
	r.setBool("wait_if_ongoing", v)
	return r
}

func (r *FlushRequest) Build() (elastic.Request, error) { return r.build() }

func (r *FlushRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*ShardsResult, error) {
	return r.do(ctx, ex, opts)
}

type ForceMergeRequest struct{ shardsAction }

func ForceMerge(indices ...string) *ForceMergeRequest {
	return &ForceMergeRequest{shardsAction{action: "_forcemerge", indices: indices}}
}

func (r *ForceMergeRequest) MaxNumSegments(n int) *ForceMergeRequest {
	if n < 1 {
		r.invalid("max_num_segments", "must be at least 1")
	}
	r.setInt("max_num_segments", int64(n))
	return r
}

func (r *ForceMergeRequest) OnlyExpungeDeletes(v bool) *ForceMergeRequest {
	r.setBool("only_expunge_deletes", v)
	return r
}

func (r *ForceMergeRequest) Flush(v bool) *ForceMergeRequest {
	r.setBool("flush", v)
	return r
}

func (r *ForceMergeRequest) Build() (elastic.Request, error) { return r.build() }

func (r *ForceMergeRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*ShardsResult, error) {
	return r.do(ctx, ex, opts)
}

type ClearCacheRequest struct{ shardsAction }

func ClearCache(indices ...string) *ClearCacheRequest {
	return &ClearCacheRequest{shardsAction{action: "_cache/clear", indices: indices}}
}

func (r *ClearCacheRequest) Query(v bool) *ClearCacheRequest {
	r.setBool("query", v)
	return r
}

func (r *ClearCacheRequest) Fielddata(v bool) *ClearCacheRequest {
	r.setBool("fielddata", v)
	return r
}

func (r *ClearCacheRequest) Request(v bool) *ClearCacheRequest {
	r.setBool("request", v)
	return r
}

func (r *ClearCacheRequest) Build() (elastic.Request, error) { return r.build() }

func (r *ClearCacheRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*ShardsResult, error) {
	return r.do(ctx, ex, opts)
}

// AnalyzeRequest runs text through an analyzer or an ad hoc tokenizer chain.
type AnalyzeRequest struct {
	builder
	index string
	body  map[string]any
}

type AnalyzeToken struct {
	Token       string `json:"token"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Type        string `json:"type"`
	Position    int    `json:"position"`
}

type AnalyzeResult struct {
	Tokens []AnalyzeToken `json:"tokens"`
}

// Analyze targets index when given, the cluster level analyzers otherwise.
func Analyze(index string) *AnalyzeRequest {
	return &AnalyzeRequest{index: index, body: map[string]any{}}
}

func (r *AnalyzeRequest) Text(text ...string) *AnalyzeRequest {
	r.body["text"] = text
	return r
}

func (r *AnalyzeRequest) Analyzer(name string) *AnalyzeRequest {
	r.body["analyzer"] = name
	return r
}

func (r *AnalyzeRequest) Field(name string) *AnalyzeRequest {
	r.body["field"] = name
	return r
}

func (r *AnalyzeRequest) Tokenizer(name string) *AnalyzeRequest {
	r.body["tokenizer"] = name
	return r
}

func (r *AnalyzeRequest) Filters(names ...string) *AnalyzeRequest {
	r.body["filter"] = names
	return r
}

func (r *AnalyzeRequest) Build() (elastic.Request, error) {
	b := r.builder
	if _, ok := r.body["text"]; !ok {
		b.invalid("text", "is required")
	}
	data, err := encodeBody(r.body)
	if err != nil {
		b.invalid("text", err.Error())
	}
	return b.request(http.MethodPost, path(r.index, "_analyze"), data)
}

func (r *AnalyzeRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*AnalyzeResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*AnalyzeResult, error) {
		return decode[AnalyzeResult](res, r.index, "")
	})
}
