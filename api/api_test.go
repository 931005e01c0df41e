package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pteich/elastic-client-kit/elastic"
)

type executorFunc func(ctx context.Context, req elastic.Request) (*elastic.Response, error)

func (f executorFunc) Execute(ctx context.Context, req elastic.Request, _ ...elastic.Option) (*elastic.Response, error) {
	return f(ctx, req)
}

// respond returns an executor answering every request with status and body and records the last request.
func respond(status int, body string, last *elastic.Request) elastic.Executor {
	return executorFunc(func(_ context.Context, req elastic.Request) (*elastic.Response, error) {
		if last != nil {
			*last = req
		}
		return &elastic.Response{StatusCode: status, Body: []byte(body)}, nil
	})
}

func jsonMap(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{48 * time.Hour, "2d"},
		{3 * time.Hour, "3h"},
		{5 * time.Minute, "5m"},
		{90 * time.Second, "90s"},
		{1500 * time.Millisecond, "1500ms"},
		{3 * time.Microsecond, "3micros"},
		{7, "7nanos"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPath(t *testing.T) {
	if got := path("logs", "_doc", ""); got != "/logs/_doc" {
		t.Fatalf("got %q", got)
	}
	if got := path("", "_search"); got != "/_search" {
		t.Fatalf("got %q", got)
	}
	if got := path(); got != "/" {
		t.Fatalf("got %q", got)
	}
}

func TestResponseError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "index not found",
			status: 404,
			body:   `{"error":{"type":"index_not_found_exception","reason":"no such index [x]","index":"x"},"status":404}`,
			check: func(err error) bool {
				var e *elastic.IndexNotFoundError
				return errors.As(err, &e) && e.Index == "x"
			},
		},
		{
			name:   "plain string error",
			status: 500,
			body:   `{"error":"boom","status":500}`,
			check: func(err error) bool {
				var e *elastic.EngineError
				return errors.As(err, &e) && e.Reason == "boom"
			},
		},
		{
			name:   "no body",
			status: 503,
			body:   ``,
			check: func(err error) bool {
				var e *elastic.EngineError
				return errors.As(err, &e) && e.Status == 503
			},
		},
		{
			name:   "query error",
			status: 400,
			body:   `{"error":{"type":"search_phase_execution_exception","reason":"","root_cause":[{"type":"parsing_exception","reason":"unknown query [nope]"}]},"status":400}`,
			check: func(err error) bool {
				var e *elastic.QueryError
				return errors.As(err, &e) && e.Reason == "unknown query [nope]"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ResponseError(&elastic.Response{StatusCode: tt.status, Body: []byte(tt.body)}, "x", "")
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error %T: %v", err, err)
			}
		})
	}

	if err := ResponseError(&elastic.Response{StatusCode: 200, Body: []byte(`{}`)}, "", ""); err != nil {
		t.Fatalf("expected nil for success, got %v", err)
	}
}

func TestShardsWarning(t *testing.T) {
	full := &ShardsInfo{Total: 2, Successful: 2}
	if full.Warning() != nil {
		t.Fatal("expected no warning")
	}

	partial := &ShardsInfo{Total: 2, Successful: 1, Failed: 1}
	want := &elastic.PartialSuccessWarning{Total: 2, Successful: 1, Failed: 1}
	if diff := cmp.Diff(want, partial.Warning()); diff != "" {
		t.Fatalf("warning mismatch (-want +got):\n%s", diff)
	}

	var none *ShardsInfo
	if none.Warning() != nil {
		t.Fatal("expected no warning for missing shards section")
	}
}
