package elastic

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	es8 "github.com/elastic/go-elasticsearch/v8"
	es9 "github.com/elastic/go-elasticsearch/v9"
	"github.com/pkg/errors"
)

// Performer executes a single http round trip against one node.
// Both go-elasticsearch clients satisfy it.
type Performer interface {
	Perform(*http.Request) (*http.Response, error)
}

// PerformerFactory creates the performer for one node. rt is the shared connection pool.
type PerformerFactory func(node Node, rt http.RoundTripper) (Performer, error)

// ClientFactory returns the default factory that creates a go-elasticsearch client per node.
// Retries are disabled in the client, failover is handled by the session.
func ClientFactory(version int, header http.Header) PerformerFactory {
	return func(node Node, rt http.RoundTripper) (Performer, error) {
		switch version {
		case 9:
			return es9.NewClient(es9.Config{
				Addresses:    []string{node.URL()},
				Header:       header,
				Transport:    rt,
				DisableRetry: true,
			})
		case 8, 0:
			return es8.NewClient(es8.Config{
				Addresses:    []string{node.URL()},
				Header:       header,
				Transport:    rt,
				DisableRetry: true,
			})
		}
		return nil, errors.Errorf("unsupported engine version %d", version)
	}
}

type transport struct {
	mu      sync.Mutex
	clients map[string]Performer
	factory PerformerFactory
	rt      *http.Transport
}

func newTransport(o Options) *transport {
	dialer := &net.Dialer{Timeout: o.ConnectTimeout}
	rt := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: o.SocketTimeout,
		MaxConnsPerHost:       o.MaxConnsPerHost,
		MaxIdleConnsPerHost:   o.MaxConnsPerHost,
		ForceAttemptHTTP2:     true,
	}

	factory := o.PerformerFactory
	if factory == nil {
		factory = ClientFactory(o.EngineVersion, nil)
	}

	return &transport{
		clients: make(map[string]Performer),
		factory: factory,
		rt:      rt,
	}
}

func (t *transport) performer(n Node) (Performer, error) {
	key := n.URL()

	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.clients[key]; ok {
		return p, nil
	}
	p, err := t.factory(n, t.rt)
	if err != nil {
		return nil, errors.Wrapf(err, "create client for %s", key)
	}
	t.clients[key] = p
	return p, nil
}

// roundTrip sends req to node and buffers the response body.
func (t *transport) roundTrip(ctx context.Context, n Node, req Request, o Options) (*Response, error) {
	p, err := t.performer(n)
	if err != nil {
		return nil, err
	}

	hreq, err := req.httpRequest(ctx, o.Header)
	if err != nil {
		return nil, &InvalidRequestError{Field: "request", Reason: err.Error()}
	}

	hres, err := p.Perform(hreq)
	if err != nil {
		return nil, err
	}
	defer hres.Body.Close()

	limit := o.MaxResponseSize
	if limit <= 0 {
		limit = defaultMaxResponseSize
	}
	body, err := io.ReadAll(io.LimitReader(hres.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, &ResponseTooLargeError{Node: n.URL(), Limit: limit}
	}

	return &Response{
		StatusCode: hres.StatusCode,
		Header:     hres.Header,
		Body:       body,
		Node:       n,
	}, nil
}

func (t *transport) close() {
	t.rt.CloseIdleConnections()
}
