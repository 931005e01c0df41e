package elastic

import (
	"context"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Executor sends a request to the cluster and returns the buffered response.
type Executor interface {
	Execute(ctx context.Context, req Request, opts ...Option) (*Response, error)
}

// AsyncExecutor is an Executor that can also run requests in the background.
type AsyncExecutor interface {
	Executor
	ExecuteAsync(ctx context.Context, req Request, cb func(*Response, error), opts ...Option) context.CancelFunc
}

var (
	_ AsyncExecutor   = (*Session)(nil)
	_ esapi.Transport = (*Session)(nil)
)
