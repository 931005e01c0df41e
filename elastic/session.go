package elastic

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	kModSession = "session"

	headerOpaqueID = "X-Opaque-Id"
	maxAttempts    = 2
)

// Session owns the node registry, the connection pool and the sniffer.
// It is safe for concurrent use and must be closed.
type Session struct {
	opts      Options
	registry  *Registry
	transport *transport
	sniffer   *Sniffer
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

func NewSession(opts ...Option) (*Session, error) {
	o := defaultOptions().With(opts...)
	if len(o.Nodes) == 0 {
		return nil, ErrEmptyNodeSet
	}

	registry, err := NewRegistry(o.Nodes, o.Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:      o,
		registry:  registry,
		transport: newTransport(o),
		log:       o.Logger.With().Str("mod", kModSession).Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.sniffer = newSniffer(s.Execute, registry, o)
	if o.SniffInterval > 0 || o.SniffOnFailure {
		s.sniffer.Start()
	}

	s.log.Debug().
		Int("nodes", len(o.Nodes)).
		Dur("sniffInterval", o.SniffInterval).
		Bool("sniffOnFailure", o.SniffOnFailure).
		Msg("Session started")

	return s, nil
}

func (s *Session) Registry() *Registry { return s.registry }

func (s *Session) Sniffer() *Sniffer { return s.sniffer }

// Options returns the session defaults.
func (s *Session) Options() Options { return s.opts.With() }

func (s *Session) begin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	s.inFlight.Add(1)
	return true
}

func (s *Session) end() {
	s.inFlight.Add(-1)
	s.wg.Done()
}

// Execute sends req to a node picked by the registry and returns the buffered response.
// A transport failure marks the node failed and the request is retried once on another node.
// Engine errors are not errors here: the response is returned for the caller to parse.
func (s *Session) Execute(ctx context.Context, req Request, opts ...Option) (*Response, error) {
	if !s.begin() {
		return nil, ErrSessionClosed
	}
	defer s.end()
	return s.execute(ctx, req, opts...)
}

// ExecuteAsync runs Execute in the background. cb is called exactly once, also when the
// request was cancelled or the session is closed. The returned func cancels the request.
func (s *Session) ExecuteAsync(ctx context.Context, req Request, cb func(*Response, error), opts ...Option) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	if !s.begin() {
		go func() {
			defer cancel()
			cb(nil, ErrSessionClosed)
		}()
		return cancel
	}

	go func() {
		defer s.end()
		defer cancel()
		res, err := s.execute(ctx, req, opts...)
		cb(res, err)
	}()
	return cancel
}

func (s *Session) execute(ctx context.Context, req Request, opts ...Option) (*Response, error) {
	o := s.opts.With(req.options...).With(opts...)
	if req.header.Get(headerOpaqueID) == "" && o.Header.Get(headerOpaqueID) == "" {
		req = req.WithHeader(headerOpaqueID, uuid.NewString())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	var (
		errs  *multierror.Error
		tried []string
		last  string
	)
	for range maxAttempts {
		node, err := s.registry.SelectNode(o.Selector, tried...)
		if err != nil {
			if errs == nil {
				return nil, err
			}
			break
		}
		tried = append(tried, node.URL())
		last = node.URL()

		res, err := s.attempt(ctx, node, req, o)
		if err == nil && !failoverStatus(res.StatusCode) {
			s.registry.MarkAlive(node)
			return res, nil
		}

		if err != nil {
			var timeout *RequestTimeoutError
			switch {
			case errors.As(err, &timeout):
				s.registry.MarkFailed(node)
				return nil, err
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case !isTransportFailure(err):
				return nil, err
			}
			errs = multierror.Append(errs, errors.Wrap(err, node.URL()))
		} else {
			errs = multierror.Append(errs, errors.Errorf("%s: status %d", node.URL(), res.StatusCode))
		}

		s.log.Debug().
			Str("node", node.URL()).
			Str("req", req.String()).
			Err(errs.Errors[len(errs.Errors)-1]).
			Msg("Request failed, trying another node")

		s.registry.MarkFailed(node)
		if o.SniffOnFailure && !isSniff(ctx) {
			s.sniffer.Trigger()
		}
	}

	return nil, &TransportError{Node: last, Cause: errs.ErrorOrNil()}
}

func (s *Session) attempt(ctx context.Context, node Node, req Request, o Options) (*Response, error) {
	if o.RequestTimeout <= 0 {
		return s.transport.roundTrip(ctx, node, req, o)
	}

	actx, cancel := context.WithTimeout(ctx, o.RequestTimeout)
	defer cancel()

	res, err := s.transport.roundTrip(actx, node, req, o)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, &RequestTimeoutError{Node: node.URL(), Timeout: o.RequestTimeout}
	}
	return res, err
}

func failoverStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTransportFailure(err error) bool {
	var tooLarge *ResponseTooLargeError
	var invalid *InvalidRequestError
	return !errors.As(err, &tooLarge) && !errors.As(err, &invalid)
}

// Perform implements esapi.Transport so typed go-elasticsearch requests share node selection and failover.
func (s *Session) Perform(hreq *http.Request) (*http.Response, error) {
	var body []byte
	if hreq.Body != nil {
		var err error
		body, err = io.ReadAll(hreq.Body)
		hreq.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "read request body")
		}
		if len(body) == 0 {
			body = nil
		}
	}

	req := NewRequest(hreq.Method, hreq.URL.Path, hreq.URL.Query(), body)
	for k, vv := range hreq.Header {
		req.header[k] = append([]string(nil), vv...)
	}

	res, err := s.Execute(hreq.Context(), req)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:        http.StatusText(res.StatusCode),
		StatusCode:    res.StatusCode,
		Header:        res.Header,
		Body:          io.NopCloser(bytes.NewReader(res.Body)),
		ContentLength: int64(len(res.Body)),
		Request:       hreq,
	}, nil
}

// Close stops the sniffer, rejects new requests and waits for in-flight ones up to
// ShutdownTimeout or ctx. Requests still running after that are cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.sniffer.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if s.opts.ShutdownTimeout > 0 {
		t := time.NewTimer(s.opts.ShutdownTimeout)
		defer t.Stop()
		timeout = t.C
	}

	var err error
	select {
	case <-done:
	case <-timeout:
		err = &ShutdownTimeoutError{InFlight: int(s.inFlight.Load())}
	case <-ctx.Done():
		err = &ShutdownTimeoutError{InFlight: int(s.inFlight.Load())}
	}

	s.cancel()
	s.transport.close()

	if err != nil {
		s.log.Warn().Err(err).Msg("Session closed with requests in flight")
	} else {
		s.log.Debug().Msg("Session closed")
	}
	return err
}
