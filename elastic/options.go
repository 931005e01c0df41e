package elastic

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxResponseSize        = 100 * 1024 * 1024
	defaultRequestTimeout         = 30 * time.Second
	defaultConnectTimeout         = time.Second
	defaultSocketTimeout          = 30 * time.Second
	defaultMaxConnsPerHost        = 10
	defaultSniffAfterFailureDelay = time.Minute
	defaultShutdownTimeout        = 30 * time.Second
	defaultEngineVersion          = 8
)

// Options is the immutable configuration of a session. Per call overrides work on a copy.
type Options struct {
	Nodes                  []Node
	Header                 http.Header
	MaxResponseSize        int64
	RequestTimeout         time.Duration
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
	MaxConnsPerHost        int
	Selector               Selector
	SniffInterval          time.Duration
	SniffOnFailure         bool
	SniffAfterFailureDelay time.Duration
	SniffScheme            string
	ShutdownTimeout        time.Duration
	EngineVersion          int
	PerformerFactory       PerformerFactory
	Logger                 zerolog.Logger
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Header:                 http.Header{},
		MaxResponseSize:        defaultMaxResponseSize,
		RequestTimeout:         defaultRequestTimeout,
		ConnectTimeout:         defaultConnectTimeout,
		SocketTimeout:          defaultSocketTimeout,
		MaxConnsPerHost:        defaultMaxConnsPerHost,
		Selector:               Any,
		SniffAfterFailureDelay: defaultSniffAfterFailureDelay,
		SniffScheme:            "http",
		ShutdownTimeout:        defaultShutdownTimeout,
		EngineVersion:          defaultEngineVersion,
		Logger:                 log.Logger,
	}
}

// With returns a copy of the options with overrides applied. The receiver is left untouched.
func (o Options) With(opts ...Option) Options {
	c := o
	c.Header = o.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	c.Nodes = append([]Node(nil), o.Nodes...)
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func WithNodes(nodes ...Node) Option {
	return func(o *Options) { o.Nodes = append([]Node(nil), nodes...) }
}

func WithHeader(key, value string) Option {
	return func(o *Options) { o.Header.Set(key, value) }
}

func WithMaxResponseSize(n int64) Option {
	return func(o *Options) { o.MaxResponseSize = n }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

func WithSocketTimeout(d time.Duration) Option {
	return func(o *Options) { o.SocketTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(o *Options) { o.MaxConnsPerHost = n }
}

func WithSelector(s Selector) Option {
	return func(o *Options) { o.Selector = s }
}

// WithSniffInterval enables periodic node discovery. Zero disables it.
func WithSniffInterval(d time.Duration) Option {
	return func(o *Options) { o.SniffInterval = d }
}

func WithSniffOnFailure(enabled bool) Option {
	return func(o *Options) { o.SniffOnFailure = enabled }
}

func WithSniffAfterFailureDelay(d time.Duration) Option {
	return func(o *Options) { o.SniffAfterFailureDelay = d }
}

func WithSniffScheme(scheme string) Option {
	return func(o *Options) { o.SniffScheme = scheme }
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Options) { o.ShutdownTimeout = d }
}

// WithEngineVersion picks the go-elasticsearch major version used per node (8 or 9).
func WithEngineVersion(v int) Option {
	return func(o *Options) { o.EngineVersion = v }
}

// WithPerformerFactory replaces the per node client construction, mostly for tests.
func WithPerformerFactory(f PerformerFactory) Option {
	return func(o *Options) { o.PerformerFactory = f }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
