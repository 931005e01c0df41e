package elastic

import (
	"errors"
	"testing"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    *ErrorT
		check  func(error) bool
	}{
		{
			name:   "ok",
			status: 200,
			check:  func(err error) bool { return err == nil },
		},
		{
			name:   "create conflict",
			status: 409,
			err: &ErrorT{
				Type:   "version_conflict_engine_exception",
				Reason: "[1]: version conflict, document already exists (current version [1])",
			},
			check: func(err error) bool {
				var e *AlreadyExistsError
				return errors.As(err, &e) && e.Index == "logs-1" && e.ID == "1"
			},
		},
		{
			name:   "version conflict",
			status: 409,
			err: &ErrorT{
				Type:   "version_conflict_engine_exception",
				Reason: "[1]: version conflict, current version [2] is different than the one provided [1]",
			},
			check: func(err error) bool {
				var e *VersionConflictError
				return errors.As(err, &e)
			},
		},
		{
			name:   "index not found",
			status: 404,
			err:    &ErrorT{Type: "index_not_found_exception", Reason: "no such index [logs-2]", Index: "logs-2"},
			check: func(err error) bool {
				var e *IndexNotFoundError
				return errors.As(err, &e) && e.Index == "logs-2"
			},
		},
		{
			name:   "query parse",
			status: 400,
			err: &ErrorT{
				Type:      "parsing_exception",
				RootCause: []*ErrorT{{Type: "parsing_exception", Reason: "unknown query [matchx]"}},
			},
			check: func(err error) bool {
				var e *QueryError
				return errors.As(err, &e) && e.Reason == "unknown query [matchx]"
			},
		},
		{
			name:   "scroll expired",
			status: 404,
			err: &ErrorT{
				Type:      "search_phase_execution_exception",
				Reason:    "all shards failed",
				RootCause: []*ErrorT{{Type: "search_context_missing_exception", Reason: "No search context found for id [1]"}},
			},
			check: func(err error) bool {
				var e *CursorExpiredError
				return errors.As(err, &e)
			},
		},
		{
			name:   "no error body",
			status: 500,
			check: func(err error) bool {
				var e *EngineError
				return errors.As(err, &e) && e.Status == 500
			},
		},
		{
			name:   "other",
			status: 400,
			err:    &ErrorT{Type: "mapper_parsing_exception", Reason: "failed to parse field [n]"},
			check: func(err error) bool {
				var e *EngineError
				return errors.As(err, &e) && e.Type == "mapper_parsing_exception"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TranslateError(tt.status, tt.err, "logs-1", "1")
			if !tt.check(err) {
				t.Fatalf("unexpected translation: %T %v", err, err)
			}
		})
	}
}

func TestBulkItemFailure_Unwrap(t *testing.T) {
	cause := &VersionConflictError{Index: "i", ID: "1"}
	var err error = BulkItemFailure{Item: "doc", Err: cause}

	var vc *VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("BulkItemFailure should unwrap to its cause")
	}
}
