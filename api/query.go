package api

import (
	"strings"

	elasticv7 "github.com/olivere/elastic/v7"
)

// Query is any query DSL node accepted by the builders.
type Query = elasticv7.Query

func NewBoolQuery() *elasticv7.BoolQuery {
	return elasticv7.NewBoolQuery()
}

func NewRangeQuery(field string) *elasticv7.RangeQuery {
	return elasticv7.NewRangeQuery(field)
}

func NewQueryStringQuery(query string) *elasticv7.QueryStringQuery {
	return elasticv7.NewQueryStringQuery(query)
}

func NewMatchAllQuery() *elasticv7.MatchAllQuery {
	return elasticv7.NewMatchAllQuery()
}

func NewMatchQuery(field string, text any) *elasticv7.MatchQuery {
	return elasticv7.NewMatchQuery(field, text)
}

func NewTermQuery(field string, value any) *elasticv7.TermQuery {
	return elasticv7.NewTermQuery(field, value)
}

func NewTermsQuery(field string, values ...any) *elasticv7.TermsQuery {
	return elasticv7.NewTermsQuery(field, values...)
}

func NewIdsQuery() *elasticv7.IdsQuery {
	return elasticv7.NewIdsQuery()
}

func NewExistsQuery(field string) *elasticv7.ExistsQuery {
	return elasticv7.NewExistsQuery(field)
}

// NewRawStringQuery passes a JSON query through unchanged. Invalid JSON is reported as QueryError on Build.
func NewRawStringQuery(rawQuery string) elasticv7.RawStringQuery {
	return elasticv7.NewRawStringQuery(rawQuery)
}

func NewFieldSort(field string) *elasticv7.FieldSort {
	return elasticv7.NewFieldSort(field)
}

func NewHighlight() *elasticv7.Highlight {
	return elasticv7.NewHighlight()
}

func NewTermsAggregation() *elasticv7.TermsAggregation {
	return elasticv7.NewTermsAggregation()
}

// Filter describes the common export style query: an optional time range on one field combined with
// either a raw JSON query or a Lucene query string. Everything is matched when both are empty.
type Filter struct {
	TimeField string
	Start     string
	End       string
	RawQuery  string
	Query     string
}

// Build returns the bool query for f.
func (f Filter) Build() Query {
	q := NewBoolQuery()

	if f.Start != "" || f.End != "" {
		field := f.TimeField
		if field == "" {
			field = "@timestamp"
		}
		rq := NewRangeQuery(field)
		if f.Start != "" {
			rq = rq.Gte(f.Start)
		}
		if f.End != "" {
			rq = rq.Lte(f.End)
		}
		q = q.Filter(rq)
	}

	switch {
	case strings.TrimSpace(f.RawQuery) != "":
		q = q.Must(NewRawStringQuery(f.RawQuery))
	case strings.TrimSpace(f.Query) != "":
		q = q.Must(NewQueryStringQuery(f.Query))
	default:
		q = q.Must(NewMatchAllQuery())
	}
	return q
}
