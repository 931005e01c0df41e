package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pteich/elastic-client-kit/elastic"
)

func TestSearchBody(t *testing.T) {
	req, err := Search("logs-1", "logs-2").
		Query(NewTermQuery("level", "error")).
		From(10).
		Size(5).
		Sort("@timestamp", false).
		SourceIncludes("msg").
		Timeout(2 * time.Second).
		Routing("r1").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Method() != http.MethodPost || req.Path() != "/logs-1,logs-2/_search" {
		t.Fatalf("unexpected request %s", req)
	}
	if req.Param("routing") != "r1" {
		t.Fatalf("routing = %q", req.Param("routing"))
	}

	want := map[string]any{
		"query":   map[string]any{"term": map[string]any{"level": "error"}},
		"from":    float64(10),
		"size":    float64(5),
		"sort":    []any{map[string]any{"@timestamp": map[string]any{"order": "desc"}}},
		"_source": map[string]any{"includes": []any{"msg"}},
		"timeout": "2s",
	}
	if diff := cmp.Diff(want, jsonMap(t, req.Body())); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchBody_SourceLastWins(t *testing.T) {
	body, err := Search("logs").SourceIncludes("a").FetchSource(false).Body()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if got := jsonMap(t, body)["_source"]; got != false {
		t.Fatalf("_source = %v, want false", got)
	}
}

func TestSearchBody_InvalidRawQuery(t *testing.T) {
	_, err := Search("logs").Query(NewRawStringQuery(`{"match":`)).Build()
	var qe *elastic.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestSearchBody_Invalid(t *testing.T) {
	_, err := Search("logs").Size(-1).Build()
	var ie *elastic.InvalidRequestError
	if !errors.As(err, &ie) || ie.Field != "size" {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestSearchDo(t *testing.T) {
	body := `{
		"took": 3,
		"timed_out": false,
		"_shards": {"total": 2, "successful": 1, "skipped": 0, "failed": 1},
		"hits": {
			"total": {"value": 2, "relation": "eq"},
			"max_score": 1.0,
			"hits": [
				{"_index": "logs", "_id": "1", "_score": 1.0, "_source": {"msg": "a"}},
				{"_index": "logs", "_id": "2", "_score": 1.0, "_source": {"msg": "b"}}
			]
		}
	}`

	res, err := Search("logs").Query(NewMatchAllQuery()).Do(context.Background(), respond(200, body, nil))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.TotalHits() != 2 || len(res.Hits.Hits) != 2 {
		t.Fatalf("unexpected hits %+v", res.Hits)
	}
	if string(res.Hits.Hits[1].GetSource()) != `{"msg": "b"}` {
		t.Fatalf("source = %s", res.Hits.Hits[1].GetSource())
	}
	if !res.Degraded() {
		t.Fatal("expected degraded result for failed shard")
	}
}

func TestSearchDo_QueryError(t *testing.T) {
	body := `{"error":{"root_cause":[{"type":"parsing_exception","reason":"unknown query [nope]"}],"type":"parsing_exception","reason":"unknown query [nope]"},"status":400}`

	_, err := Search("logs").Do(context.Background(), respond(400, body, nil))
	var qe *elastic.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestTotalHits_Number(t *testing.T) {
	var hits SearchHits
	if err := json.Unmarshal([]byte(`{"total": 42, "hits": []}`), &hits); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := &TotalHits{Value: 42, Relation: "eq"}
	if diff := cmp.Diff(want, hits.Total); diff != "" {
		t.Fatalf("total mismatch (-want +got):\n%s", diff)
	}

	res := &SearchResult{Hits: &SearchHits{}}
	if res.TotalHits() != -1 {
		t.Fatalf("untracked total = %d", res.TotalHits())
	}
}

func TestCountDo(t *testing.T) {
	var last elastic.Request
	n, err := Count("logs").Query(NewMatchAllQuery()).Do(context.Background(), respond(200, `{"count":7}`, &last))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if n != 7 {
		t.Fatalf("count = %d", n)
	}
	if last.Path() != "/logs/_count" {
		t.Fatalf("path = %s", last.Path())
	}
}

func TestExplainBuild(t *testing.T) {
	_, err := Explain("logs", "1").Build()
	var ie *elastic.InvalidRequestError
	if !errors.As(err, &ie) || ie.Field != "query" {
		t.Fatalf("expected query error, got %v", err)
	}

	req, err := Explain("logs", "1").Query(NewMatchAllQuery()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Path() != "/logs/_explain/1" {
		t.Fatalf("path = %s", req.Path())
	}
}

func TestMultiSearchBuild(t *testing.T) {
	req, err := MultiSearch(
		Search("a").Query(NewMatchAllQuery()),
		Search("b").Size(1).Preference("_local"),
	).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Header().Get("Content-Type") != "application/x-ndjson" {
		t.Fatalf("content type = %q", req.Header().Get("Content-Type"))
	}

	lines := bytes.Split(bytes.TrimSuffix(req.Body(), []byte("\n")), []byte("\n"))
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), req.Body())
	}
	if diff := cmp.Diff(map[string]any{"index": "b", "preference": "_local"}, jsonMap(t, lines[2])); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}

	if _, err := MultiSearch().Build(); err == nil {
		t.Fatal("expected error for empty multi search")
	}
}

func TestFilterBuild(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{
			name:   "match all",
			filter: Filter{},
			want:   `{"bool":{"must":{"match_all":{}}}}`,
		},
		{
			name:   "range and query string",
			filter: Filter{TimeField: "ts", Start: "2024-01-01", End: "2024-02-01", Query: "level:error"},
			want:   `{"bool":{"filter":{"range":{"ts":{"from":"2024-01-01","include_lower":true,"include_upper":true,"to":"2024-02-01"}}},"must":{"query_string":{"query":"level:error"}}}}`,
		},
		{
			name:   "raw query wins",
			filter: Filter{RawQuery: `{"term":{"a":1}}`, Query: "ignored"},
			want:   `{"bool":{"must":{"term":{"a":1}}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := tt.filter.Build().Source()
			if err != nil {
				t.Fatalf("source: %v", err)
			}
			got, err := json.Marshal(src)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if diff := cmp.Diff(jsonMap(t, []byte(tt.want)), jsonMap(t, got)); diff != "" {
				t.Fatalf("query mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// unencodableQuery has a source that json cannot encode.
type unencodableQuery struct{}

func (unencodableQuery) Source() (any, error) {
	return map[string]any{"script": func() {}}, nil
}

func TestQueryBody_EncodeError(t *testing.T) {
	builds := map[string]func() (elastic.Request, error){
		"search":  Search("logs").Query(unencodableQuery{}).Build,
		"count":   Count("logs").Query(unencodableQuery{}).Build,
		"explain": Explain("logs", "1").Query(unencodableQuery{}).Build,
	}
	for name, build := range builds {
		t.Run(name, func(t *testing.T) {
			_, err := build()
			var qe *elastic.QueryError
			if !errors.As(err, &qe) {
				t.Fatalf("expected QueryError, got %v", err)
			}
		})
	}
}
