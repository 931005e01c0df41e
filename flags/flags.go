package flags

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pteich/elastic-client-kit/bulk"
	"github.com/pteich/elastic-client-kit/elastic"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatRAW  = "raw"

	ModeExport = "export"
	ModeImport = "import"
)

type Flags struct {
	Mode string `cli:"mode" cliAlt:"m" env:"ESKIT_MODE" usage:"Run mode [export|import]"`

	ElasticURL      string `cli:"connect" cliAlt:"c" env:"ESKIT_CONNECT" usage:"Comma separated list of node URLs"`
	ElasticVersion  int    `cli:"version" env:"ESKIT_VERSION" usage:"Major version of the engine client [8|9]"`
	Headers         string `cli:"headers" env:"ESKIT_HEADERS" usage:"Default headers as comma separated key:value list"`
	RequestTimeout  string `cli:"timeout" env:"ESKIT_TIMEOUT" usage:"Per request timeout"`
	ConnectTimeout  string `cli:"connectTimeout" env:"ESKIT_CONNECT_TIMEOUT" usage:"Dial timeout"`
	SocketTimeout   string `cli:"socketTimeout" env:"ESKIT_SOCKET_TIMEOUT" usage:"Timeout waiting for response headers"`
	MaxConnsPerHost int    `cli:"maxConns" env:"ESKIT_MAX_CONNS" usage:"Maximum connections per node"`
	Selector        string `cli:"selector" env:"ESKIT_SELECTOR" usage:"Node selector [any|skip_dedicated_masters|attr:key=value|prefer:key=value]"`
	SniffInterval   string `cli:"sniffInterval" env:"ESKIT_SNIFF_INTERVAL" usage:"Node discovery interval such as 5m, 0 disables periodic sniffing"`
	SniffOnFailure  bool   `cli:"sniffOnFailure" env:"ESKIT_SNIFF_ON_FAILURE" usage:"Rediscover nodes after a node failure"`
	SniffScheme     string `cli:"sniffScheme" env:"ESKIT_SNIFF_SCHEME" usage:"Scheme of discovered nodes"`

	Index      string `cli:"index" cliAlt:"i" env:"ESKIT_INDEX" usage:"ElasticSearch Index (or Index Prefix)"`
	RAWQuery   string `cli:"rawquery" cliAlt:"r" env:"ESKIT_RAWQUERY" usage:"ElasticSearch raw query string"`
	Query      string `cli:"query" cliAlt:"q" env:"ESKIT_QUERY" usage:"Lucene query same that is used in Kibana search input"`
	OutFormat  string `cli:"outformat" cliAlt:"f" env:"ESKIT_OUTFORMAT" usage:"Format of the output data. [json|csv|raw]"`
	Outfile    string `cli:"outfile" cliAlt:"o" env:"ESKIT_OUTFILE" usage:"Path to output file, - for stdout"`
	StartDate  string `cli:"start" cliAlt:"s" env:"ESKIT_START" usage:"Start date for included documents"`
	EndDate    string `cli:"end" cliAlt:"e" env:"ESKIT_END" usage:"End date for included documents"`
	ScrollSize int    `cli:"size" env:"ESKIT_SIZE" usage:"Number of documents that will be returned per shard"`
	KeepAlive  string `cli:"keepAlive" env:"ESKIT_KEEPALIVE" usage:"Scroll context keep-alive between pages"`
	Timefield  string `cli:"timefield" env:"ESKIT_TIMEFIELD" usage:"Field name to use for start and end date query"`
	Fieldlist  string `cli:"fields" env:"ESKIT_FIELDS" usage:"Fields to include in export as comma separated list"`
	Fields     []string

	Infile          string `cli:"infile" env:"ESKIT_INFILE" usage:"NDJSON file to import, - for stdin"`
	IDField         string `cli:"idfield" env:"ESKIT_IDFIELD" usage:"Document field used as _id on import"`
	Pipeline        string `cli:"pipeline" env:"ESKIT_PIPELINE" usage:"Ingest pipeline for imported documents"`
	BulkActions     int    `cli:"bulkActions" env:"ESKIT_BULK_ACTIONS" usage:"Flush after this many documents"`
	BulkSize        int    `cli:"bulkSize" env:"ESKIT_BULK_SIZE" usage:"Flush after this many bytes"`
	FlushInterval   string `cli:"flushInterval" env:"ESKIT_FLUSH_INTERVAL" usage:"Flush a non empty batch after this interval"`
	Concurrent      int    `cli:"concurrent" env:"ESKIT_CONCURRENT" usage:"Concurrent bulk requests, 0 flushes synchronously"`
	Overflow        string `cli:"overflow" env:"ESKIT_OVERFLOW" usage:"What to do when all bulk slots are busy [block|queue]"`
	Retry           string `cli:"retry" env:"ESKIT_RETRY" usage:"Bulk retry policy [exponential|constant|none]"`
	RetryDelay      string `cli:"retryDelay" env:"ESKIT_RETRY_DELAY" usage:"(Initial) delay between bulk retries"`
	RetryMaxDelay   string `cli:"retryMaxDelay" env:"ESKIT_RETRY_MAX_DELAY" usage:"Maximum delay of exponential retries"`
	MaxRetries      int    `cli:"maxRetries" env:"ESKIT_MAX_RETRIES" usage:"Maximum bulk retries per item"`
	ShutdownTimeout string `cli:"shutdownTimeout" env:"ESKIT_SHUTDOWN_TIMEOUT" usage:"Time to wait for in-flight requests on exit"`

	Trace bool `cli:"trace" env:"ESKIT_TRACE" usage:"Enable trace logging"`
}

// Default returns the flags with the values used when nothing is set.
func Default() Flags {
	return Flags{
		Mode:            ModeExport,
		ElasticURL:      "http://localhost:9200",
		ElasticVersion:  8,
		RequestTimeout:  "30s",
		ConnectTimeout:  "1s",
		SocketTimeout:   "30s",
		MaxConnsPerHost: 10,
		Selector:        "any",
		SniffInterval:   "0",
		SniffScheme:     "http",
		Index:           "logs-*",
		Query:           "*",
		OutFormat:       FormatCSV,
		Outfile:         "output.csv",
		ScrollSize:      1000,
		KeepAlive:       "5m",
		Timefield:       "@timestamp",
		Infile:          "-",
		BulkActions:     1000,
		BulkSize:        5 * 1024 * 1024,
		FlushInterval:   "5s",
		Concurrent:      1,
		Overflow:        "block",
		Retry:           "exponential",
		RetryDelay:      "50ms",
		RetryMaxDelay:   "5s",
		MaxRetries:      8,
		ShutdownTimeout: "30s",
	}
}

// SessionOptions turns the connection flags into session options.
func (f *Flags) SessionOptions() ([]elastic.Option, error) {
	nodes, err := elastic.ParseNodes(f.ElasticURL)
	if err != nil {
		return nil, err
	}
	selector, err := elastic.ParseSelector(f.Selector)
	if err != nil {
		return nil, err
	}

	var d durations
	requestTimeout := d.parse("timeout", f.RequestTimeout)
	connectTimeout := d.parse("connectTimeout", f.ConnectTimeout)
	socketTimeout := d.parse("socketTimeout", f.SocketTimeout)
	sniffInterval := d.parse("sniffInterval", f.SniffInterval)
	shutdownTimeout := d.parse("shutdownTimeout", f.ShutdownTimeout)
	if d.err != nil {
		return nil, d.err
	}

	opts := []elastic.Option{
		elastic.WithNodes(nodes...),
		elastic.WithEngineVersion(f.ElasticVersion),
		elastic.WithRequestTimeout(requestTimeout),
		elastic.WithConnectTimeout(connectTimeout),
		elastic.WithSocketTimeout(socketTimeout),
		elastic.WithMaxConnsPerHost(f.MaxConnsPerHost),
		elastic.WithSelector(selector),
		elastic.WithSniffInterval(sniffInterval),
		elastic.WithSniffOnFailure(f.SniffOnFailure),
		elastic.WithSniffScheme(f.SniffScheme),
		elastic.WithShutdownTimeout(shutdownTimeout),
	}

	if f.Headers != "" {
		for _, kv := range strings.Split(f.Headers, ",") {
			key, value, ok := strings.Cut(kv, ":")
			if !ok || strings.TrimSpace(key) == "" {
				return nil, errors.Errorf("invalid header %q, expected key:value", kv)
			}
			opts = append(opts, elastic.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
		}
	}

	return opts, nil
}

// BulkOptions turns the import flags into bulk processor options.
func (f *Flags) BulkOptions() ([]bulk.Opt, error) {
	var d durations
	interval := d.parse("flushInterval", f.FlushInterval)
	delay := d.parse("retryDelay", f.RetryDelay)
	maxDelay := d.parse("retryMaxDelay", f.RetryMaxDelay)
	shutdownTimeout := d.parse("shutdownTimeout", f.ShutdownTimeout)
	if d.err != nil {
		return nil, d.err
	}

	overflow, err := bulk.ParseOverflow(f.Overflow)
	if err != nil {
		return nil, err
	}
	retry, err := bulk.ParseRetry(f.Retry, delay, maxDelay, f.MaxRetries)
	if err != nil {
		return nil, err
	}

	opts := []bulk.Opt{
		bulk.WithBulkActions(f.BulkActions),
		bulk.WithBulkSize(f.BulkSize),
		bulk.WithFlushInterval(interval),
		bulk.WithConcurrentRequests(f.Concurrent),
		bulk.WithOverflow(overflow),
		bulk.WithRetryPolicy(retry),
		bulk.WithShutdownTimeout(shutdownTimeout),
	}
	if f.Pipeline != "" {
		opts = append(opts, bulk.WithPipeline(f.Pipeline))
	}
	return opts, nil
}

func (f *Flags) ScrollKeepAlive() (time.Duration, error) {
	var d durations
	v := d.parse("keepAlive", f.KeepAlive)
	return v, d.err
}

// durations keeps the first parse error so a group of values can be checked once.
type durations struct {
	err error
}

func (d *durations) parse(name, value string) time.Duration {
	if d.err != nil || value == "" {
		return 0
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		d.err = errors.Wrapf(err, "invalid %s", name)
	}
	return v
}
