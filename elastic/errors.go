package elastic

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrProcessorClosed = errors.New("bulk processor closed")
	ErrEmptyNodeSet    = errors.New("empty node set")
)

// NoAvailableNodeError is returned when the selector leaves no node to talk to.
type NoAvailableNodeError struct {
	Known int
}

func (e *NoAvailableNodeError) Error() string {
	return fmt.Sprintf("no available node (%d known)", e.Known)
}

// TransportError wraps a connection level failure against a node.
type TransportError struct {
	Node  string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Node, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// RequestTimeoutError is returned when a single request exceeded its timeout.
type RequestTimeoutError struct {
	Node    string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.Node, e.Timeout)
}

// ResponseTooLargeError is returned when a response body exceeds MaxResponseSize.
type ResponseTooLargeError struct {
	Node  string
	Limit int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response from %s exceeds %d bytes", e.Node, e.Limit)
}

// InvalidRequestError is raised by request builders; such requests never reach the wire.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

type VersionConflictError struct {
	Index  string
	ID     string
	Reason string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: %s", e.Index, e.ID, e.Reason)
}

type AlreadyExistsError struct {
	Index string
	ID    string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("document %s/%s already exists", e.Index, e.ID)
}

type IndexNotFoundError struct {
	Index string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found", e.Index)
}

// QueryError reports a query the engine (or the client) could not parse.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string {
	return "malformed query: " + e.Reason
}

// CursorExpiredError means the scroll keep-alive lapsed; the scroll has to be reopened.
type CursorExpiredError struct {
	ScrollID string
}

func (e *CursorExpiredError) Error() string {
	return "scroll context expired"
}

type ShutdownTimeoutError struct {
	InFlight int
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("shutdown timed out with %d requests in flight", e.InFlight)
}

// StateError is returned when an operation is called in a state that does not allow it.
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// EngineError is any error reported by the engine that has no more specific type.
type EngineError struct {
	Status int
	Type   string
	Reason string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d %s: %s", e.Status, e.Type, e.Reason)
}

// BulkItemFailure is one bulk item that could not be applied.
type BulkItemFailure struct {
	Item any
	Err  error
}

func (f BulkItemFailure) Error() string {
	return fmt.Sprintf("bulk item failed: %v", f.Err)
}

func (f BulkItemFailure) Unwrap() error { return f.Err }

// PartialSuccessWarning is attached to results that were applied to fewer shard copies than requested.
// It is not returned as an error.
type PartialSuccessWarning struct {
	Total      int
	Successful int
	Failed     int
	Failures   []ShardFailure
}

func (w *PartialSuccessWarning) String() string {
	return fmt.Sprintf("partial success: %d of %d shard copies", w.Successful, w.Total)
}

// ErrorT is the error object of an engine response.
type ErrorT struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	Index     string    `json:"index,omitempty"`
	RootCause []*ErrorT `json:"root_cause,omitempty"`
	CausedBy  *ErrorT   `json:"caused_by,omitempty"`
}

type ShardFailure struct {
	Index  string  `json:"_index,omitempty"`
	Shard  int     `json:"_shard"`
	Node   string  `json:"_node,omitempty"`
	Reason *ErrorT `json:"reason,omitempty"`
	Status string  `json:"status,omitempty"`
}

// TranslateError maps an engine status and error object onto the error taxonomy.
// index and id name the document the request targeted, if any.
func TranslateError(status int, e *ErrorT, index, id string) error {
	if status < 300 && e == nil {
		return nil
	}
	if e == nil {
		e = &ErrorT{Type: http.StatusText(status)}
	}

	switch e.Type {
	case "version_conflict_engine_exception":
		if strings.Contains(e.Reason, "document already exists") {
			return &AlreadyExistsError{Index: index, ID: id}
		}
		return &VersionConflictError{Index: index, ID: id, Reason: e.Reason}
	case "index_not_found_exception":
		idx := e.Index
		if idx == "" {
			idx = index
		}
		return &IndexNotFoundError{Index: idx}
	case "search_context_missing_exception":
		return &CursorExpiredError{}
	case "parsing_exception", "x_content_parse_exception", "query_shard_exception", "search_phase_execution_exception":
		if status == http.StatusBadRequest {
			return &QueryError{Reason: rootReason(e)}
		}
	}

	// The scroll endpoint wraps a missing context in a 404 without a typed root.
	if status == http.StatusNotFound && hasRootType(e, "search_context_missing_exception") {
		return &CursorExpiredError{}
	}

	return &EngineError{Status: status, Type: e.Type, Reason: rootReason(e)}
}

func rootReason(e *ErrorT) string {
	if e.Reason != "" {
		return e.Reason
	}
	for _, rc := range e.RootCause {
		if rc != nil && rc.Reason != "" {
			return rc.Reason
		}
	}
	return e.Type
}

func hasRootType(e *ErrorT, typ string) bool {
	for _, rc := range e.RootCause {
		if rc != nil && rc.Type == typ {
			return true
		}
	}
	return e.CausedBy != nil && e.CausedBy.Type == typ
}
