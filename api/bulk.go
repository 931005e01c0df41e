package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	elasticv7 "github.com/olivere/elastic/v7"
	"github.com/pkg/errors"

	"github.com/pteich/elastic-client-kit/elastic"
)

// BulkItem is one operation of a bulk request: BulkIndex, BulkUpdate or BulkDelete.
// Items are plain values and are never changed once handed to a request or processor.
type BulkItem interface {
	// Action is the bulk action name: index, create, update or delete.
	Action() string
	// Target returns the addressed index and document id. id may be empty for index actions.
	Target() (index, id string)
	// Source renders the NDJSON lines of the item without trailing newlines.
	Source() ([]string, error)

	bulkItem()
}

// BulkIndex writes a whole document.
type BulkIndex struct {
	Index       string
	ID          string
	Routing     string
	Pipeline    string
	Create      bool
	Version     int64
	VersionType string
	Doc         any
}

func (b BulkIndex) Action() string {
	if b.Create {
		return "create"
	}
	return "index"
}

func (b BulkIndex) Target() (string, string) { return b.Index, b.ID }

func (b BulkIndex) Source() ([]string, error) {
	r := elasticv7.NewBulkIndexRequest().Index(b.Index).Doc(rawDoc(b.Doc))
	if b.ID != "" {
		r.Id(b.ID)
	}
	if b.Create {
		r.OpType("create")
	}
	if b.Routing != "" {
		r.Routing(b.Routing)
	}
	if b.Pipeline != "" {
		r.Pipeline(b.Pipeline)
	}
	if b.Version > 0 {
		r.Version(b.Version)
	}
	if b.VersionType != "" {
		r.VersionType(b.VersionType)
	}
	return r.Source()
}

func (b BulkIndex) String() string { return bulkString(b) }

func (BulkIndex) bulkItem() {}

// BulkUpdate partially updates a document with Doc or Script.
type BulkUpdate struct {
	Index           string
	ID              string
	Routing         string
	Doc             any
	Upsert          any
	DocAsUpsert     bool
	Script          *Script
	RetryOnConflict int
}

func (BulkUpdate) Action() string { return "update" }

func (b BulkUpdate) Target() (string, string) { return b.Index, b.ID }

func (b BulkUpdate) Source() ([]string, error) {
	r := elasticv7.NewBulkUpdateRequest().Index(b.Index).Id(b.ID)
	if b.Routing != "" {
		r.Routing(b.Routing)
	}
	if b.Doc != nil {
		r.Doc(rawDoc(b.Doc))
	}
	if b.Upsert != nil {
		r.Upsert(rawDoc(b.Upsert))
	}
	if b.DocAsUpsert {
		r.DocAsUpsert(true)
	}
	if b.Script != nil {
		r.Script(b.Script)
	}
	if b.RetryOnConflict > 0 {
		r.RetryOnConflict(b.RetryOnConflict)
	}
	return r.Source()
}

func (b BulkUpdate) String() string { return bulkString(b) }

func (BulkUpdate) bulkItem() {}

// BulkDelete removes a document.
type BulkDelete struct {
	Index       string
	ID          string
	Routing     string
	Version     int64
	VersionType string
}

func (BulkDelete) Action() string { return "delete" }

func (b BulkDelete) Target() (string, string) { return b.Index, b.ID }

func (b BulkDelete) Source() ([]string, error) {
	r := elasticv7.NewBulkDeleteRequest().Index(b.Index).Id(b.ID)
	if b.Routing != "" {
		r.Routing(b.Routing)
	}
	if b.Version > 0 {
		r.Version(b.Version)
	}
	if b.VersionType != "" {
		r.VersionType(b.VersionType)
	}
	return r.Source()
}

func (b BulkDelete) String() string { return bulkString(b) }

func (BulkDelete) bulkItem() {}

func bulkString(item BulkItem) string {
	index, id := item.Target()
	if id == "" {
		return fmt.Sprintf("%s %s", item.Action(), index)
	}
	return fmt.Sprintf("%s %s/%s", item.Action(), index, id)
}

// rawDoc keeps raw JSON bytes from being marshaled as strings.
func rawDoc(doc any) any {
	switch t := doc.(type) {
	case []byte:
		return json.RawMessage(t)
	case string:
		return json.RawMessage(t)
	}
	return doc
}

// EncodeBulkItem validates item and returns its NDJSON lines including the trailing newline.
func EncodeBulkItem(item BulkItem) ([]byte, error) {
	if item == nil {
		return nil, &elastic.InvalidRequestError{Field: "item", Reason: "is required"}
	}
	index, id := item.Target()
	if index == "" {
		return nil, &elastic.InvalidRequestError{Field: "_index", Reason: "is required"}
	}
	switch t := item.(type) {
	case BulkIndex:
		if t.Doc == nil {
			return nil, &elastic.InvalidRequestError{Field: "doc", Reason: "is required"}
		}
	case BulkUpdate:
		if id == "" {
			return nil, &elastic.InvalidRequestError{Field: "_id", Reason: "is required"}
		}
		if t.Doc == nil && t.Script == nil {
			return nil, &elastic.InvalidRequestError{Field: "doc", Reason: "doc or script is required"}
		}
	case BulkDelete:
		if id == "" {
			return nil, &elastic.InvalidRequestError{Field: "_id", Reason: "is required"}
		}
	}

	lines, err := item.Source()
	if err != nil {
		return nil, &elastic.InvalidRequestError{Field: "doc", Reason: err.Error()}
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// BulkRequest sends a fixed set of items in one round trip.
type BulkRequest struct {
	builder
	items []BulkItem
}

func Bulk(items ...BulkItem) *BulkRequest {
	return &BulkRequest{items: append([]BulkItem(nil), items...)}
}

func (r *BulkRequest) Add(items ...BulkItem) *BulkRequest {
	r.items = append(r.items, items...)
	return r
}

func (r *BulkRequest) Refresh(p RefreshPolicy) *BulkRequest {
	r.set("refresh", string(p))
	return r
}

func (r *BulkRequest) Timeout(d time.Duration) *BulkRequest {
	r.setDuration("timeout", d)
	return r
}

// Pipeline is the default ingest pipeline for items that set none.
func (r *BulkRequest) Pipeline(p string) *BulkRequest {
	r.set("pipeline", p)
	return r
}

func (r *BulkRequest) WaitForActiveShards(n string) *BulkRequest {
	r.set("wait_for_active_shards", n)
	return r
}

func (r *BulkRequest) Build() (elastic.Request, error) {
	b := r.builder
	if len(r.items) == 0 {
		b.invalid("items", "at least one item is required")
	}
	if b.err != nil {
		return elastic.Request{}, b.err
	}

	var buf bytes.Buffer
	for i, item := range r.items {
		data, err := EncodeBulkItem(item)
		if err != nil {
			return elastic.Request{}, errors.Wrapf(err, "item %d", i)
		}
		buf.Write(data)
	}

	req, err := b.request(http.MethodPost, "/_bulk", buf.Bytes())
	if err != nil {
		return req, err
	}
	return req.WithHeader("Content-Type", "application/x-ndjson"), nil
}

// Do sends the items. Item failures are reported per item in the result, see BulkResult.Failures.
func (r *BulkRequest) Do(ctx context.Context, ex elastic.Executor, opts ...elastic.Option) (*BulkResult, error) {
	req, err := r.Build()
	return do(ctx, ex, req, err, opts, func(res *elastic.Response) (*BulkResult, error) {
		if err := ResponseError(res, "", ""); err != nil {
			return nil, err
		}
		return ParseBulkResponse(res.Body)
	})
}

type BulkResult struct {
	Took   int64            `json:"took"`
	Errors bool             `json:"errors"`
	Items  []BulkItemResult `json:"items"`
}

// BulkItemResult is the outcome of one item, in request order.
type BulkItemResult struct {
	Action      string          `json:"-"`
	Index       string          `json:"_index"`
	ID          string          `json:"_id"`
	Version     int64           `json:"_version,omitempty"`
	Result      string          `json:"result,omitempty"`
	Status      int             `json:"status"`
	SeqNo       int64           `json:"_seq_no,omitempty"`
	PrimaryTerm int64           `json:"_primary_term,omitempty"`
	Shards      *ShardsInfo     `json:"_shards,omitempty"`
	Error       *elastic.ErrorT `json:"error,omitempty"`
}

func (r *BulkItemResult) UnmarshalJSON(data []byte) error {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if len(wrapped) != 1 {
		return errors.Errorf("bulk item has %d actions", len(wrapped))
	}

	type plain BulkItemResult
	for action, raw := range wrapped {
		var p plain
		if err := json.Unmarshal(raw, &p); err != nil {
			return errors.Wrapf(err, "bulk item %s", action)
		}
		*r = BulkItemResult(p)
		r.Action = action
	}
	return nil
}

// Failed reports an item the engine did not apply.
func (r *BulkItemResult) Failed() bool {
	return r.Error != nil || r.Status >= 300
}

// Err translates a failed item into the error taxonomy.
func (r *BulkItemResult) Err() error {
	if !r.Failed() {
		return nil
	}
	return elastic.TranslateError(r.Status, r.Error, r.Index, r.ID)
}

// Failures returns the failed items.
func (r *BulkResult) Failures() []BulkItemResult {
	var out []BulkItemResult
	for _, it := range r.Items {
		if it.Failed() {
			out = append(out, it)
		}
	}
	return out
}

func ParseBulkResponse(body []byte) (*BulkResult, error) {
	var out BulkResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decode bulk response")
	}
	return &out, nil
}
