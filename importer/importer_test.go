package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/pteich/elastic-client-kit/bulk"
)

// stubBulk accepts every document except those with _id "bad".
type stubBulk struct {
	mu   sync.Mutex
	ids  []string
	docs []string
}

func (s *stubBulk) Perform(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []string
	hasErrors := false
	sc := bufio.NewScanner(req.Body)
	for sc.Scan() {
		var meta struct {
			Index struct {
				ID string `json:"_id"`
			} `json:"index"`
		}
		if err := json.Unmarshal(sc.Bytes(), &meta); err != nil {
			return nil, err
		}
		sc.Scan()
		s.ids = append(s.ids, meta.Index.ID)
		s.docs = append(s.docs, sc.Text())

		if meta.Index.ID == "bad" {
			hasErrors = true
			items = append(items, `{"index":{"_index":"logs","_id":"bad","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}}`)
			continue
		}
		items = append(items, `{"index":{"_index":"logs","_id":"`+meta.Index.ID+`","status":201,"result":"created"}}`)
	}

	body := `{"took":1,"errors":` + strconv.FormatBool(hasErrors) + `,"items":[` + strings.Join(items, ",") + `]}`
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func TestImport(t *testing.T) {
	stub := &stubBulk{}
	p, err := bulk.NewProcessor(stub,
		bulk.WithLogger(zerolog.Nop()),
		bulk.WithBulkActions(2),
		bulk.WithFlushInterval(0),
		bulk.WithConcurrentRequests(0),
		bulk.WithRetryPolicy(bulk.NoRetry()),
	)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	input := strings.Join([]string{
		`{"uid":"u1","msg":"one"}`,
		``,
		`not json`,
		`{"uid":7,"msg":"two"}`,
		`{"uid":"bad","msg":"three"}`,
		`{"msg":"no id"}`,
	}, "\n")

	sum, err := Import(context.Background(), strings.NewReader(input), p, "logs", "uid")
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	want := Summary{Lines: 5, Skipped: 1, Succeeded: 3, Failed: 1}
	if diff := cmp.Diff(want, sum); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"u1", "7", "bad", ""}, stub.ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if stub.docs[0] != `{"uid":"u1","msg":"one"}` {
		t.Fatalf("document changed on the way: %s", stub.docs[0])
	}
}

func TestDocumentID(t *testing.T) {
	tests := []struct {
		line   string
		field  string
		wantID string
		wantOK bool
	}{
		{`{"id":"x"}`, "id", "x", true},
		{`{"id":12}`, "id", "12", true},
		{`{"id":{"nested":1}}`, "id", "", true},
		{`{"other":1}`, "id", "", true},
		{`{"id":"x"}`, "", "", true},
		{`[1,2]`, "id", "", false},
	}

	for _, tt := range tests {
		id, ok := documentID(tt.line, tt.field)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("documentID(%s, %q) = %q, %v", tt.line, tt.field, id, ok)
		}
	}
}
