package bulk

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pteich/elastic-client-kit/api"
)

// Overflow decides what Add does when all concurrent flush slots are busy.
type Overflow int

const (
	// OverflowBlock makes the caller wait for a free slot.
	OverflowBlock Overflow = iota
	// OverflowQueue parks the batch and starts it as soon as a slot frees.
	OverflowQueue
)

func (o Overflow) String() string {
	if o == OverflowQueue {
		return "queue"
	}
	return "block"
}

// ParseOverflow accepts "block" and "queue".
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "block":
		return OverflowBlock, nil
	case "queue":
		return OverflowQueue, nil
	}
	return OverflowBlock, errors.Errorf("unknown overflow policy %q", s)
}

const (
	defaultBulkActions     = 1000
	defaultBulkSize        = 5 * 1024 * 1024
	defaultFlushInterval   = 5 * time.Second
	defaultConcurrent      = 1
	defaultShutdownTimeout = 30 * time.Second
)

type options struct {
	bulkActions     int
	bulkSize        int
	flushInterval   time.Duration
	concurrent      int
	overflow        Overflow
	retry           RetryPolicy
	listener        Listener
	shutdownTimeout time.Duration
	refresh         api.RefreshPolicy
	pipeline        string
	log             zerolog.Logger
}

type Opt func(*options)

func parseOpts(opts ...Opt) (options, error) {
	o := options{
		bulkActions:     defaultBulkActions,
		bulkSize:        defaultBulkSize,
		flushInterval:   defaultFlushInterval,
		concurrent:      defaultConcurrent,
		retry:           DefaultRetry(),
		shutdownTimeout: defaultShutdownTimeout,
		log:             log.Logger,
	}
	for _, f := range opts {
		f(&o)
	}

	switch {
	case o.bulkActions < 1:
		return o, errors.Errorf("bulk actions must be at least 1, got %d", o.bulkActions)
	case o.bulkSize < 1:
		return o, errors.Errorf("bulk size must be at least 1 byte, got %d", o.bulkSize)
	case o.flushInterval < 0:
		return o, errors.Errorf("flush interval must not be negative, got %s", o.flushInterval)
	case o.concurrent < 0:
		return o, errors.Errorf("concurrent requests must not be negative, got %d", o.concurrent)
	case o.retry.MaxRetries < 0:
		return o, errors.Errorf("max retries must not be negative, got %d", o.retry.MaxRetries)
	case o.shutdownTimeout <= 0:
		return o, errors.Errorf("shutdown timeout must be positive, got %s", o.shutdownTimeout)
	}
	if o.listener == nil {
		o.listener = ListenerFuncs{}
	}
	return o, nil
}

// WithBulkActions flushes once n items are buffered.
func WithBulkActions(n int) Opt {
	return func(o *options) { o.bulkActions = n }
}

// WithBulkSize flushes once the serialized batch reaches size bytes.
func WithBulkSize(size int) Opt {
	return func(o *options) { o.bulkSize = size }
}

// WithFlushInterval flushes a non empty batch d after its first item. Zero disables the timer.
func WithFlushInterval(d time.Duration) Opt {
	return func(o *options) { o.flushInterval = d }
}

// WithConcurrentRequests allows n flushes in flight. Zero flushes synchronously in the caller of Add.
func WithConcurrentRequests(n int) Opt {
	return func(o *options) { o.concurrent = n }
}

func WithOverflow(p Overflow) Opt {
	return func(o *options) { o.overflow = p }
}

func WithRetryPolicy(p RetryPolicy) Opt {
	return func(o *options) { o.retry = p }
}

func WithListener(l Listener) Opt {
	return func(o *options) { o.listener = l }
}

func WithShutdownTimeout(d time.Duration) Opt {
	return func(o *options) { o.shutdownTimeout = d }
}

// WithRefresh sets the refresh policy of every bulk request.
func WithRefresh(p api.RefreshPolicy) Opt {
	return func(o *options) { o.refresh = p }
}

// WithPipeline sets the default ingest pipeline of every bulk request.
func WithPipeline(p string) Opt {
	return func(o *options) { o.pipeline = p }
}

func WithLogger(l zerolog.Logger) Opt {
	return func(o *options) { o.log = l }
}
