package bulk

import (
	"github.com/pteich/elastic-client-kit/elastic"
)

// Result summarizes one flush sequence including its retries.
type Result struct {
	Succeeded int
	Retried   int
	Failures  []elastic.BulkItemFailure
}

// Listener observes flushes. For every batch BeforeFlush is called once, followed by exactly one of
// AfterFlush or AfterFlushFailed. Calls are serialized, implementations need no locking of their own.
type Listener interface {
	BeforeFlush(id int64, b *Batch)
	// AfterFlush is called once the engine answered, possibly with item failures in res.
	AfterFlush(id int64, b *Batch, res Result)
	// AfterFlushFailed is called when the bulk request itself failed after all retries.
	AfterFlushFailed(id int64, b *Batch, err error)
}

// ListenerFuncs adapts plain functions to a Listener. Nil functions are skipped.
type ListenerFuncs struct {
	Before func(id int64, b *Batch)
	After  func(id int64, b *Batch, res Result)
	Failed func(id int64, b *Batch, err error)
}

func (l ListenerFuncs) BeforeFlush(id int64, b *Batch) {
	if l.Before != nil {
		l.Before(id, b)
	}
}

func (l ListenerFuncs) AfterFlush(id int64, b *Batch, res Result) {
	if l.After != nil {
		l.After(id, b, res)
	}
}

func (l ListenerFuncs) AfterFlushFailed(id int64, b *Batch, err error) {
	if l.Failed != nil {
		l.Failed(id, b, err)
	}
}
