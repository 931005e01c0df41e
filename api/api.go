// Package api turns typed intents into engine requests and engine responses into typed results.
//
// Builders collect options fluently and report the first invalid one from Build. A built
// elastic.Request is frozen: later calls on the builder do not change it.
package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	elasticv7 "github.com/olivere/elastic/v7"
	"github.com/pteich/elastic-client-kit/elastic"
)

// RefreshPolicy controls when changes of a write become visible to search.
type RefreshPolicy string

const (
	RefreshFalse   RefreshPolicy = "false"
	RefreshTrue    RefreshPolicy = "true"
	RefreshWaitFor RefreshPolicy = "wait_for"
)

type builder struct {
	err    error
	params url.Values
}

func (b *builder) invalid(field, reason string) {
	if b.err == nil {
		b.err = &elastic.InvalidRequestError{Field: field, Reason: reason}
	}
}

func (b *builder) require(field, value string) {
	if strings.TrimSpace(value) == "" {
		b.invalid(field, "is required")
	}
}

func (b *builder) requireAll(field string, values []string) {
	if len(values) == 0 {
		b.invalid(field, "is required")
		return
	}
	for _, v := range values {
		b.require(field, v)
	}
}

func (b *builder) set(key, value string) {
	if b.params == nil {
		b.params = url.Values{}
	}
	b.params.Set(key, value)
}

func (b *builder) setBool(key string, v bool) {
	b.set(key, strconv.FormatBool(v))
}

func (b *builder) setInt(key string, v int64) {
	b.set(key, strconv.FormatInt(v, 10))
}

func (b *builder) setDuration(key string, d time.Duration) {
	if d <= 0 {
		b.invalid(key, "must be positive")
		return
	}
	b.set(key, FormatDuration(d))
}

func (b *builder) request(method, path string, body []byte) (elastic.Request, error) {
	if b.err != nil {
		return elastic.Request{}, b.err
	}
	return elastic.NewRequest(method, path, b.params, body), nil
}

// sourceFilter is the single _source option. Includes, excludes and disabling replace each other.
type sourceFilter struct {
	mode   int
	fields []string
}

const (
	sourceDefault = iota
	sourceInclude
	sourceExclude
	sourceDisabled
)

func (s *sourceFilter) include(fields []string) { *s = sourceFilter{mode: sourceInclude, fields: fields} }
func (s *sourceFilter) exclude(fields []string) { *s = sourceFilter{mode: sourceExclude, fields: fields} }

func (s *sourceFilter) fetch(enabled bool) {
	if enabled {
		*s = sourceFilter{}
	} else {
		*s = sourceFilter{mode: sourceDisabled}
	}
}

func (s sourceFilter) apply(b *builder) {
	switch s.mode {
	case sourceInclude:
		b.set("_source_includes", strings.Join(s.fields, ","))
	case sourceExclude:
		b.set("_source_excludes", strings.Join(s.fields, ","))
	case sourceDisabled:
		b.set("_source", "false")
	}
}

func (s sourceFilter) context() *elasticv7.FetchSourceContext {
	switch s.mode {
	case sourceInclude:
		return elasticv7.NewFetchSourceContext(true).Include(s.fields...)
	case sourceExclude:
		return elasticv7.NewFetchSourceContext(true).Exclude(s.fields...)
	case sourceDisabled:
		return elasticv7.NewFetchSourceContext(false)
	}
	return nil
}

// FormatDuration renders d in the engine's time unit notation, e.g. "30s" or "5m".
func FormatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d%(24*time.Hour) == 0:
		return strconv.FormatInt(int64(d/(24*time.Hour)), 10) + "d"
	case d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	case d%time.Second == 0:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	case d%time.Millisecond == 0:
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	case d%time.Microsecond == 0:
		return strconv.FormatInt(d.Microseconds(), 10) + "micros"
	}
	return strconv.FormatInt(d.Nanoseconds(), 10) + "nanos"
}

// encodeBody marshals v. Raw JSON given as []byte, json.RawMessage or string is passed through,
// queries and other olivere sources are rendered first.
func encodeBody(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case json.RawMessage:
		return t, nil
	case string:
		return []byte(t), nil
	case elasticv7.Query:
		src, err := t.Source()
		if err != nil {
			return nil, err
		}
		return json.Marshal(src)
	}
	return json.Marshal(v)
}

func querySource(q elasticv7.Query) (any, error) {
	src, err := q.Source()
	if err != nil {
		return nil, &elastic.QueryError{Reason: err.Error()}
	}
	if raw, ok := src.(json.RawMessage); ok && !json.Valid(raw) {
		return nil, &elastic.QueryError{Reason: "query is not valid JSON"}
	}
	return src, nil
}

func path(parts ...string) string {
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		sb.WriteByte('/')
		sb.WriteString(p)
	}
	if sb.Len() == 0 {
		return "/"
	}
	return sb.String()
}

func indexList(indices []string) string {
	return strings.Join(indices, ",")
}

func do[T any](ctx context.Context, ex elastic.Executor, req elastic.Request, err error, opts []elastic.Option, parse func(*elastic.Response) (T, error)) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	res, err := ex.Execute(ctx, req, opts...)
	if err != nil {
		return zero, err
	}
	return parse(res)
}
