package api

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pteich/elastic-client-kit/elastic"
)

func ndjsonLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	if !bytes.HasSuffix(data, []byte("\n")) {
		t.Fatalf("missing trailing newline: %q", data)
	}
	var out []map[string]any
	for _, l := range bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n")) {
		out = append(out, jsonMap(t, l))
	}
	return out
}

func TestEncodeBulkItem(t *testing.T) {
	tests := []struct {
		name string
		item BulkItem
		want []map[string]any
	}{
		{
			name: "index",
			item: BulkIndex{Index: "logs", ID: "1", Routing: "r", Doc: `{"msg":"a"}`},
			want: []map[string]any{
				{"index": map[string]any{"_index": "logs", "_id": "1", "routing": "r"}},
				{"msg": "a"},
			},
		},
		{
			name: "create without id",
			item: BulkIndex{Index: "logs", Create: true, Doc: map[string]int{"n": 1}},
			want: []map[string]any{
				{"create": map[string]any{"_index": "logs"}},
				{"n": float64(1)},
			},
		},
		{
			name: "update",
			item: BulkUpdate{Index: "logs", ID: "1", Doc: []byte(`{"n":2}`), DocAsUpsert: true},
			want: []map[string]any{
				{"update": map[string]any{"_index": "logs", "_id": "1"}},
				{"doc": map[string]any{"n": float64(2)}, "doc_as_upsert": true},
			},
		},
		{
			name: "delete",
			item: BulkDelete{Index: "logs", ID: "1"},
			want: []map[string]any{
				{"delete": map[string]any{"_index": "logs", "_id": "1"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeBulkItem(tt.item)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if diff := cmp.Diff(tt.want, ndjsonLines(t, data)); diff != "" {
				t.Fatalf("lines mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeBulkItem_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		item  BulkItem
		field string
	}{
		{"nil", nil, "item"},
		{"index without index", BulkIndex{Doc: "{}"}, "_index"},
		{"index without doc", BulkIndex{Index: "logs"}, "doc"},
		{"update without id", BulkUpdate{Index: "logs", Doc: "{}"}, "_id"},
		{"update without doc", BulkUpdate{Index: "logs", ID: "1"}, "doc"},
		{"delete without id", BulkDelete{Index: "logs"}, "_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeBulkItem(tt.item)
			var ie *elastic.InvalidRequestError
			if !errors.As(err, &ie) || ie.Field != tt.field {
				t.Fatalf("expected %s error, got %v", tt.field, err)
			}
		})
	}
}

func TestBulkItemString(t *testing.T) {
	if got := (BulkIndex{Index: "logs", Create: true}).String(); got != "create logs" {
		t.Fatalf("got %q", got)
	}
	if got := (BulkDelete{Index: "logs", ID: "7"}).String(); got != "delete logs/7" {
		t.Fatalf("got %q", got)
	}
}

func TestParseBulkResponse(t *testing.T) {
	body := `{"took":30,"errors":true,"items":[
		{"index":{"_index":"logs","_id":"1","_version":1,"result":"created","status":201,"_seq_no":0,"_primary_term":1}},
		{"create":{"_index":"logs","_id":"2","status":409,"error":{"type":"version_conflict_engine_exception","reason":"[2]: version conflict, document already exists (current version [1])"}}},
		{"delete":{"_index":"logs","_id":"3","status":429,"error":{"type":"es_rejected_execution_exception","reason":"rejected"}}}
	]}`

	res, err := ParseBulkResponse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Errors || len(res.Items) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	actions := []string{res.Items[0].Action, res.Items[1].Action, res.Items[2].Action}
	if diff := cmp.Diff([]string{"index", "create", "delete"}, actions); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}

	if res.Items[0].Failed() || res.Items[0].Err() != nil {
		t.Fatalf("first item should succeed: %+v", res.Items[0])
	}
	var ae *elastic.AlreadyExistsError
	if !errors.As(res.Items[1].Err(), &ae) || ae.ID != "2" {
		t.Fatalf("expected AlreadyExistsError, got %v", res.Items[1].Err())
	}
	if len(res.Failures()) != 2 {
		t.Fatalf("failures = %d", len(res.Failures()))
	}
}

func TestBulkDo(t *testing.T) {
	var last elastic.Request
	body := `{"took":1,"errors":false,"items":[{"index":{"_index":"logs","_id":"1","status":201}},{"delete":{"_index":"logs","_id":"2","status":200}}]}`

	res, err := Bulk(BulkIndex{Index: "logs", ID: "1", Doc: "{}"}).
		Add(BulkDelete{Index: "logs", ID: "2"}).
		Refresh(RefreshTrue).
		Do(context.Background(), respond(200, body, &last))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(res.Items) != 2 || res.Errors {
		t.Fatalf("unexpected result %+v", res)
	}
	if last.Path() != "/_bulk" || last.Param("refresh") != "true" {
		t.Fatalf("unexpected request %s", last)
	}
	if last.Header().Get("Content-Type") != "application/x-ndjson" {
		t.Fatalf("content type = %q", last.Header().Get("Content-Type"))
	}
	if n := bytes.Count(last.Body(), []byte("\n")); n != 3 {
		t.Fatalf("expected 3 lines, got %d", n)
	}

	if _, err := Bulk().Build(); err == nil {
		t.Fatal("expected error for empty bulk")
	}
}
