package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/pteich/elastic-client-kit/elastic"
)

// ShardsInfo is the _shards section of write and search responses.
type ShardsInfo struct {
	Total      int                    `json:"total"`
	Successful int                    `json:"successful"`
	Skipped    int                    `json:"skipped,omitempty"`
	Failed     int                    `json:"failed"`
	Failures   []elastic.ShardFailure `json:"failures,omitempty"`
}

// Warning returns a partial success warning when fewer shard copies than requested applied the operation.
func (s *ShardsInfo) Warning() *elastic.PartialSuccessWarning {
	if s == nil || s.Total == 0 || s.Successful+s.Skipped >= s.Total {
		return nil
	}
	return &elastic.PartialSuccessWarning{
		Total:      s.Total,
		Successful: s.Successful,
		Failed:     s.Failed,
		Failures:   s.Failures,
	}
}

// WriteResult is returned by index, delete and update operations.
type WriteResult struct {
	Index         string      `json:"_index"`
	ID            string      `json:"_id"`
	Version       int64       `json:"_version"`
	SeqNo         int64       `json:"_seq_no"`
	PrimaryTerm   int64       `json:"_primary_term"`
	Result        string      `json:"result"`
	Shards        *ShardsInfo `json:"_shards,omitempty"`
	ForcedRefresh bool        `json:"forced_refresh,omitempty"`
	Get           *GetResult  `json:"get,omitempty"`

	Warning *elastic.PartialSuccessWarning `json:"-"`
}

// Degraded reports a write that succeeded on fewer shard copies than requested.
func (r *WriteResult) Degraded() bool { return r.Warning != nil }

type GetResult struct {
	Index       string                     `json:"_index"`
	ID          string                     `json:"_id"`
	Version     int64                      `json:"_version,omitempty"`
	SeqNo       int64                      `json:"_seq_no,omitempty"`
	PrimaryTerm int64                      `json:"_primary_term,omitempty"`
	Routing     string                     `json:"_routing,omitempty"`
	Found       bool                       `json:"found"`
	Source      json.RawMessage            `json:"_source,omitempty"`
	Fields      map[string]json.RawMessage `json:"fields,omitempty"`
	Error       *elastic.ErrorT            `json:"error,omitempty"`
}

// Decode unmarshals the document source into v.
func (r *GetResult) Decode(v any) error {
	if len(r.Source) == 0 {
		return errors.Errorf("document %s/%s has no source", r.Index, r.ID)
	}
	return json.Unmarshal(r.Source, v)
}

// Acknowledged is the result of most index admin operations.
type Acknowledged struct {
	Acknowledged       bool   `json:"acknowledged"`
	ShardsAcknowledged bool   `json:"shards_acknowledged,omitempty"`
	Index              string `json:"index,omitempty"`
}

// ShardsResult is returned by refresh, flush, force merge and clear cache.
type ShardsResult struct {
	Shards *ShardsInfo `json:"_shards"`

	Warning *elastic.PartialSuccessWarning `json:"-"`
}

func (r *ShardsResult) Degraded() bool { return r.Warning != nil }

type errorResponse struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}

// ResponseError translates an error response into the error taxonomy. It returns nil for
// successful responses. index and id name the targeted document for error context.
func ResponseError(res *elastic.Response, index, id string) error {
	if !res.IsError() {
		return nil
	}

	var er errorResponse
	if len(res.Body) == 0 || json.Unmarshal(res.Body, &er) != nil || len(er.Error) == 0 {
		return elastic.TranslateError(res.StatusCode, nil, index, id)
	}

	var e elastic.ErrorT
	if bytes.HasPrefix(bytes.TrimSpace(er.Error), []byte(`"`)) {
		// very old engines report the error as a plain string
		_ = json.Unmarshal(er.Error, &e.Reason)
	} else if err := json.Unmarshal(er.Error, &e); err != nil {
		return elastic.TranslateError(res.StatusCode, nil, index, id)
	}
	return elastic.TranslateError(res.StatusCode, &e, index, id)
}

// notFoundBody reports a 404 that describes a missing document rather than an error.
func notFoundBody(res *elastic.Response) bool {
	if res.StatusCode != http.StatusNotFound {
		return false
	}
	var er errorResponse
	return json.Unmarshal(res.Body, &er) == nil && len(er.Error) == 0
}

func decode[T any](res *elastic.Response, index, id string) (*T, error) {
	if err := ResponseError(res, index, id); err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(res.Body, out); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return out, nil
}

func parseWrite(res *elastic.Response, index, id string) (*WriteResult, error) {
	var out *WriteResult
	var err error
	if notFoundBody(res) {
		out = &WriteResult{}
		err = json.Unmarshal(res.Body, out)
	} else {
		out, err = decode[WriteResult](res, index, id)
	}
	if err != nil {
		return nil, err
	}
	out.Warning = out.Shards.Warning()
	return out, nil
}

func parseGet(res *elastic.Response, index, id string) (*GetResult, error) {
	if notFoundBody(res) {
		out := &GetResult{}
		if err := json.Unmarshal(res.Body, out); err != nil {
			return nil, errors.Wrap(err, "decode response")
		}
		return out, nil
	}
	return decode[GetResult](res, index, id)
}

func parseAcknowledged(res *elastic.Response, index string) (*Acknowledged, error) {
	return decode[Acknowledged](res, index, "")
}

func parseShards(res *elastic.Response, index string) (*ShardsResult, error) {
	out, err := decode[ShardsResult](res, index, "")
	if err != nil {
		return nil, err
	}
	out.Warning = out.Shards.Warning()
	return out, nil
}

func parseExists(res *elastic.Response, index, id string) (bool, error) {
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, elastic.TranslateError(res.StatusCode, nil, index, id)
}
