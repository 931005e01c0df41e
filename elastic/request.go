package elastic

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Request is a frozen engine request. Use NewRequest or a builder from the api package.
type Request struct {
	method  string
	path    string
	params  url.Values
	body    []byte
	header  http.Header
	options []Option
}

// NewRequest copies its arguments so the result cannot be changed by the caller afterwards.
func NewRequest(method, path string, params url.Values, body []byte) Request {
	r := Request{
		method: strings.ToUpper(method),
		path:   path,
		header: http.Header{},
	}
	if len(params) > 0 {
		r.params = cloneValues(params)
	}
	if body != nil {
		r.body = append([]byte(nil), body...)
		r.header.Set("Content-Type", "application/json")
	}
	return r
}

func (r Request) Method() string { return r.method }
func (r Request) Path() string   { return r.path }

func (r Request) Params() url.Values { return cloneValues(r.params) }

func (r Request) Param(key string) string { return r.params.Get(key) }

func (r Request) Body() []byte {
	if r.body == nil {
		return nil
	}
	return append([]byte(nil), r.body...)
}

func (r Request) Header() http.Header { return r.header.Clone() }

// WithHeader returns a copy of the request with the header set.
func (r Request) WithHeader(key, value string) Request {
	r.header = r.header.Clone()
	if r.header == nil {
		r.header = http.Header{}
	}
	r.header.Set(key, value)
	return r
}

// WithOptions returns a copy of the request carrying per-request option overrides.
func (r Request) WithOptions(opts ...Option) Request {
	merged := make([]Option, 0, len(r.options)+len(opts))
	merged = append(merged, r.options...)
	merged = append(merged, opts...)
	r.options = merged
	return r
}

// URL renders path and query, relative to a node.
func (r Request) URL() *url.URL {
	return &url.URL{Path: r.path, RawQuery: r.params.Encode()}
}

func (r Request) String() string {
	u := r.URL()
	return r.method + " " + u.String()
}

func (r Request) httpRequest(ctx context.Context, header http.Header) (*http.Request, error) {
	var body *bytes.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.method, r.URL().String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.method, r.URL().String(), nil)
	}
	if err != nil {
		return nil, err
	}

	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for k, vv := range r.header {
		req.Header.Del(k)
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// Response is a buffered engine response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Node       Node
}

func (r *Response) IsError() bool { return r.StatusCode >= 300 }

func (r *Response) String() string {
	return http.StatusText(r.StatusCode) + " " + string(r.Body)
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vv := range v {
		out[k] = append([]string(nil), vv...)
	}
	return out
}
