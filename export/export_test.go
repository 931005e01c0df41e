package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/elasticsearch"

	"github.com/pteich/elastic-client-kit/api"
	"github.com/pteich/elastic-client-kit/elastic"
	"github.com/pteich/elastic-client-kit/flags"
)

// stubEngine answers count with the number of docs and serves them all in a single scroll page.
type stubEngine struct {
	docs    []string
	counted []byte
	pages   int
}

func (s *stubEngine) Execute(_ context.Context, req elastic.Request, _ ...elastic.Option) (*elastic.Response, error) {
	s.counted = req.Body()
	return &elastic.Response{StatusCode: http.StatusOK, Body: []byte(fmt.Sprintf(`{"count":%d}`, len(s.docs)))}, nil
}

func (s *stubEngine) Perform(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodDelete {
		return respond(`{"succeeded":true}`), nil
	}

	var hits []string
	if s.pages == 0 {
		for i, doc := range s.docs {
			hits = append(hits, fmt.Sprintf(`{"_index":"logs","_id":"%d","_source":%s}`, i+1, doc))
		}
	}
	s.pages++
	return respond(fmt.Sprintf(`{"_scroll_id":"s%d","hits":{"total":{"value":%d,"relation":"eq"},"hits":[%s]}}`,
		s.pages, len(s.docs), strings.Join(hits, ","))), nil
}

func respond(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{flags.FormatCSV, "msg\nhello\nworld\n"},
		{flags.FormatJSON, "{\"msg\":\"hello\"}\n{\"msg\":\"world\"}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			es := &stubEngine{docs: []string{`{"msg":"hello"}`, `{"msg":"world"}`}}

			conf := flags.Default()
			conf.Index = "logs"
			conf.Fieldlist = "msg"
			conf.OutFormat = tt.format
			conf.StartDate = "2023-01-01"
			conf.Outfile = filepath.Join(t.TempDir(), "out")

			if err := Run(context.Background(), &conf, es); err != nil {
				t.Fatalf("run: %s", err)
			}

			data, err := os.ReadFile(conf.Outfile)
			if err != nil {
				t.Fatalf("read output: %s", err)
			}
			// csv rows are written by several workers
			if tt.format == flags.FormatCSV {
				if len(data) != len(tt.want) || !bytes.HasPrefix(data, []byte("msg\n")) {
					t.Fatalf("output = %q", data)
				}
			} else if string(data) != tt.want {
				t.Fatalf("output = %q", data)
			}

			var count map[string]any
			if err := json.Unmarshal(es.counted, &count); err != nil {
				t.Fatalf("count body %q: %s", es.counted, err)
			}
			q := count["query"].(map[string]any)["bool"].(map[string]any)
			if _, ok := q["filter"]; !ok {
				t.Fatalf("time range missing from query %v", q)
			}
		})
	}
}

func TestExportE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	tests := []struct {
		version int
		image   string
	}{
		{version: 8, image: "docker.elastic.co/elasticsearch/elasticsearch:8.17.0"},
		{version: 9, image: "docker.elastic.co/elasticsearch/elasticsearch:9.2.3"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Elasticsearch_v%d", tt.version), func(t *testing.T) {
			ctx := context.Background()

			esContainer, err := elasticsearch.Run(ctx, tt.image,
				testcontainers.CustomizeRequest(testcontainers.GenericContainerRequest{
					ContainerRequest: testcontainers.ContainerRequest{
						Env: map[string]string{
							"discovery.type":         "single-node",
							"xpack.security.enabled": "false",
						},
					},
				}),
			)
			if err != nil {
				t.Fatalf("failed to start container: %s", err)
			}
			defer func() {
				if err := esContainer.Terminate(ctx); err != nil {
					t.Fatalf("failed to terminate container: %s", err)
				}
			}()

			outFileName := fmt.Sprintf("test_output_v%d.csv", tt.version)
			defer os.Remove(outFileName)

			conf := flags.Default()
			conf.ElasticURL = esContainer.Settings.Address
			conf.ElasticVersion = tt.version
			conf.Index = "test-index"
			conf.Outfile = outFileName
			conf.ScrollSize = 2
			conf.Fieldlist = "id,message"

			opts, err := conf.SessionOptions()
			if err != nil {
				t.Fatalf("session options: %s", err)
			}
			es, err := elastic.NewSession(opts...)
			if err != nil {
				t.Fatalf("new session: %s", err)
			}
			defer es.Close(ctx)

			seedData(t, es)

			if err := Run(ctx, &conf, es); err != nil {
				t.Fatalf("export: %s", err)
			}

			verifyOutput(t, outFileName, 3)
		})
	}
}

func seedData(t *testing.T, es *elastic.Session) {
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		doc := map[string]any{
			"@timestamp": fmt.Sprintf("2023-01-01T00:00:0%dZ", i),
			"message":    fmt.Sprintf("test message %d", i),
			"id":         i,
		}
		if _, err := api.Index("test-index").ID(fmt.Sprint(i)).Doc(doc).Do(ctx, es); err != nil {
			t.Fatalf("failed to index doc: %s", err)
		}
	}

	if _, err := api.Refresh("test-index").Do(ctx, es); err != nil {
		t.Fatalf("failed to refresh index: %s", err)
	}
}

func verifyOutput(t *testing.T, filename string, expectedLines int) {
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read output file: %s", err)
	}

	lines := bytes.Count(data, []byte("\n"))
	// CSV header + expectedLines
	if lines != expectedLines+1 {
		t.Errorf("expected %d lines in output (including header), got %d", expectedLines+1, lines)
	}
}
