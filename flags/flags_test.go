package flags

import (
	"testing"
	"time"

	"github.com/pteich/elastic-client-kit/elastic"
)

func TestFlags_SessionOptions(t *testing.T) {
	f := Default()
	f.ElasticURL = "http://es1:9200,http://es2:9201"
	f.Headers = "X-Team: search, X-Env:prod"
	f.SniffInterval = "1m"
	f.Selector = "prefer:zone=a"

	opts, err := f.SessionOptions()
	if err != nil {
		t.Fatalf("session options: %v", err)
	}

	var o elastic.Options
	o = o.With(opts...)

	if len(o.Nodes) != 2 || o.Nodes[1].Port != 9201 {
		t.Fatalf("unexpected nodes %+v", o.Nodes)
	}
	if o.Header.Get("X-Team") != "search" || o.Header.Get("X-Env") != "prod" {
		t.Fatalf("unexpected headers %v", o.Header)
	}
	if o.SniffInterval != time.Minute || o.RequestTimeout != 30*time.Second {
		t.Fatalf("unexpected durations sniff=%s timeout=%s", o.SniffInterval, o.RequestTimeout)
	}
}

func TestFlags_SessionOptionsInvalid(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Flags)
	}{
		{"no nodes", func(f *Flags) { f.ElasticURL = "" }},
		{"bad selector", func(f *Flags) { f.Selector = "nearest" }},
		{"bad duration", func(f *Flags) { f.RequestTimeout = "soon" }},
		{"bad header", func(f *Flags) { f.Headers = "novalue" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Default()
			tt.mod(&f)
			if _, err := f.SessionOptions(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFlags_BulkOptions(t *testing.T) {
	f := Default()
	if _, err := f.BulkOptions(); err != nil {
		t.Fatalf("bulk options: %v", err)
	}

	f.Overflow = "drop"
	if _, err := f.BulkOptions(); err == nil {
		t.Fatal("expected error for unknown overflow")
	}

	f = Default()
	f.Retry = "linear"
	if _, err := f.BulkOptions(); err == nil {
		t.Fatal("expected error for unknown retry policy")
	}
}

func TestFlags_ScrollKeepAlive(t *testing.T) {
	f := Default()
	d, err := f.ScrollKeepAlive()
	if err != nil || d != 5*time.Minute {
		t.Fatalf("keep alive = %s, %v", d, err)
	}
}
