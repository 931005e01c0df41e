package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pteich/elastic-client-kit/elastic"
)

func TestCreateIndexBuild(t *testing.T) {
	req, err := CreateIndex("logs-1").
		Shards(1).
		Replicas(0).
		Mapping(`{"properties":{"msg":{"type":"text"}}}`).
		Alias("logs").
		Timeout(30 * time.Second).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Method() != http.MethodPut || req.Path() != "/logs-1" {
		t.Fatalf("unexpected request %s", req)
	}
	if req.Param("timeout") != "30s" {
		t.Fatalf("timeout = %q", req.Param("timeout"))
	}

	want := map[string]any{
		"settings": map[string]any{"number_of_shards": float64(1), "number_of_replicas": float64(0)},
		"mappings": map[string]any{"properties": map[string]any{"msg": map[string]any{"type": "text"}}},
		"aliases":  map[string]any{"logs": map[string]any{}},
	}
	if diff := cmp.Diff(want, jsonMap(t, req.Body())); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateIndexBuild_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		req   *CreateIndexRequest
		field string
	}{
		{"missing index", CreateIndex(" "), "index"},
		{"zero shards", CreateIndex("x").Shards(0), "number_of_shards"},
		{"negative replicas", CreateIndex("x").Replicas(-1), "number_of_replicas"},
		{"zero timeout", CreateIndex("x").Timeout(0), "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Build()
			var ie *elastic.InvalidRequestError
			if !errors.As(err, &ie) || ie.Field != tt.field {
				t.Fatalf("expected %s error, got %v", tt.field, err)
			}
		})
	}
}

func TestCreateIndexDo_Exists(t *testing.T) {
	body := `{"error":{"type":"resource_already_exists_exception","reason":"index [logs-1/abc] already exists","index":"logs-1"},"status":400}`
	_, err := CreateIndex("logs-1").Do(context.Background(), respond(400, body, nil))

	var ee *elastic.EngineError
	if !errors.As(err, &ee) || ee.Type != "resource_already_exists_exception" {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestIndexActions(t *testing.T) {
	tests := []struct {
		name   string
		build  func() (elastic.Request, error)
		method string
		path   string
	}{
		{"delete", DeleteIndex("a", "b").Build, http.MethodDelete, "/a,b"},
		{"open", OpenIndex("a").Build, http.MethodPost, "/a/_open"},
		{"close", CloseIndex("a").Build, http.MethodPost, "/a/_close"},
		{"exists", IndexExists("a").Build, http.MethodHead, "/a"},
		{"get", GetIndex("a").Build, http.MethodGet, "/a"},
		{"refresh all", Refresh().Build, http.MethodPost, "/_refresh"},
		{"flush", Flush("a").Force(true).Build, http.MethodPost, "/a/_flush"},
		{"forcemerge", ForceMerge("a").MaxNumSegments(1).Build, http.MethodPost, "/a/_forcemerge"},
		{"clear cache", ClearCache("a").Query(true).Build, http.MethodPost, "/a/_cache/clear"},
		{"shrink", ResizeIndex(Shrink, "a", "b").Build, http.MethodPost, "/a/_shrink/b"},
		{"rollover", Rollover("logs").MaxDocs(10).Build, http.MethodPost, "/logs/_rollover"},
		{"rollover named", Rollover("logs").NewIndex("logs-2").Build, http.MethodPost, "/logs/_rollover/logs-2"},
		{"aliases", UpdateAliases().Add("a", "x").Build, http.MethodPost, "/_aliases"},
		{"analyze", Analyze("").Text("hello world").Analyzer("standard").Build, http.MethodPost, "/_analyze"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if req.Method() != tt.method || req.Path() != tt.path {
				t.Fatalf("got %s %s, want %s %s", req.Method(), req.Path(), tt.method, tt.path)
			}
		})
	}
}

func TestIndexExistsDo(t *testing.T) {
	ok, err := IndexExists("a").Do(context.Background(), respond(404, "", nil))
	if err != nil || ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
}

func TestRefreshDo_Degraded(t *testing.T) {
	body := `{"_shards":{"total":4,"successful":2,"failed":0}}`
	res, err := Refresh("a").Do(context.Background(), respond(200, body, nil))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !res.Degraded() {
		t.Fatal("expected degraded result")
	}
}

func TestResizeIndex_InvalidKind(t *testing.T) {
	_, err := ResizeIndex("_merge", "a", "b").Build()
	var ie *elastic.InvalidRequestError
	if !errors.As(err, &ie) || ie.Field != "kind" {
		t.Fatalf("expected kind error, got %v", err)
	}
}

func TestByQueryBuild(t *testing.T) {
	req, err := DeleteByQuery("logs").Query(NewTermQuery("level", "debug")).Conflicts("proceed").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Path() != "/logs/_delete_by_query" || req.Param("conflicts") != "proceed" {
		t.Fatalf("unexpected request %s", req)
	}

	if _, err := DeleteByQuery("logs").Build(); err == nil {
		t.Fatal("expected error without query")
	}

	req, err = Reindex("dest", "src-1", "src-2").BatchSize(500).Create().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := map[string]any{
		"source": map[string]any{"index": []any{"src-1", "src-2"}, "size": float64(500)},
		"dest":   map[string]any{"index": "dest", "op_type": "create"},
	}
	if diff := cmp.Diff(want, jsonMap(t, req.Body())); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateByQueryDo(t *testing.T) {
	body := `{"took":12,"timed_out":false,"total":3,"updated":3,"batches":1,"version_conflicts":0,"noops":0,"failures":[]}`
	res, err := UpdateByQuery("logs").Script(NewScript("ctx._source.n++")).Do(context.Background(), respond(200, body, nil))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.Updated != 3 || res.Total != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}
