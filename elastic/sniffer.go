package elastic

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const kModSniffer = "sniffer"

type sniffKey struct{}

func withSniff(ctx context.Context) context.Context {
	return context.WithValue(ctx, sniffKey{}, true)
}

// isSniff reports whether ctx belongs to a sniff request. Those never trigger another sniff.
func isSniff(ctx context.Context) bool {
	v, _ := ctx.Value(sniffKey{}).(bool)
	return v
}

type execFunc func(ctx context.Context, req Request, opts ...Option) (*Response, error)

// Sniffer periodically asks the cluster for its nodes and replaces the registry node set.
type Sniffer struct {
	exec         execFunc
	registry     *Registry
	interval     time.Duration
	afterFailure time.Duration
	scheme       string
	log          zerolog.Logger

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func newSniffer(exec execFunc, registry *Registry, o Options) *Sniffer {
	return &Sniffer{
		exec:         exec,
		registry:     registry,
		interval:     o.SniffInterval,
		afterFailure: o.SniffAfterFailureDelay,
		scheme:       o.SniffScheme,
		log:          o.Logger.With().Str("mod", kModSniffer).Logger(),
		trigger:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start launches the background loop. With a sniff interval set the first sniff runs immediately.
func (s *Sniffer) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.run(ctx)
	})
}

// Trigger requests an out of schedule sniff. Concurrent triggers coalesce into one.
func (s *Sniffer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for an in-flight sniff to return.
func (s *Sniffer) Stop() {
	s.stopOnce.Do(func() {
		s.startOnce.Do(func() { close(s.done) })
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}

func (s *Sniffer) run(ctx context.Context) {
	defer close(s.done)

	// initial discovery right away when sniffing periodically
	timer := time.NewTimer(0)
	if s.interval <= 0 {
		timer.Stop()
	}
	defer timer.Stop()

	for {
		var afterFailure bool
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
			afterFailure = true
		}

		err := s.Sniff(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("Sniff failed, keeping current nodes")
			afterFailure = true
		}

		next := s.interval
		if afterFailure {
			next = s.afterFailure
		}
		if next > 0 {
			timer.Reset(next)
		}
	}
}

// Sniff fetches the node list once and refreshes the registry.
// On error or an empty result the registry is left as it is.
func (s *Sniffer) Sniff(ctx context.Context) error {
	res, err := s.exec(withSniff(ctx), NewRequest(http.MethodGet, "/_nodes/http", nil, nil))
	if err != nil {
		return err
	}
	if res.IsError() {
		return &EngineError{Status: res.StatusCode, Reason: string(res.Body)}
	}

	nodes, err := parseNodesInfo(res.Body, s.scheme)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return errors.New("sniff found no http nodes")
	}

	s.log.Debug().Int("nodes", len(nodes)).Msg("Sniffed nodes")
	return s.registry.Refresh(nodes)
}

type nodesInfo struct {
	Nodes map[string]struct {
		Name       string            `json:"name"`
		Roles      []string          `json:"roles"`
		Attributes map[string]string `json:"attributes"`
		HTTP       *struct {
			PublishAddress string `json:"publish_address"`
		} `json:"http"`
	} `json:"nodes"`
}

func parseNodesInfo(body []byte, scheme string) ([]Node, error) {
	var info nodesInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, errors.Wrap(err, "decode nodes info")
	}

	ids := make([]string, 0, len(info.Nodes))
	for id := range info.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		n := info.Nodes[id]
		if n.HTTP == nil || n.HTTP.PublishAddress == "" {
			continue
		}
		host, port, err := parsePublishAddress(n.HTTP.PublishAddress)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, Node{
			ID:         id,
			Name:       n.Name,
			Scheme:     scheme,
			Host:       host,
			Port:       port,
			Roles:      n.Roles,
			Attributes: n.Attributes,
		})
	}
	return nodes, nil
}

// parsePublishAddress understands "ip:port" and "hostname/ip:port". The hostname wins when present.
func parsePublishAddress(addr string) (string, int, error) {
	hostname, hostport, ok := strings.Cut(addr, "/")
	if !ok {
		hostport = hostname
		hostname = ""
	}

	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, errors.Wrapf(err, "publish address %q", addr)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, errors.Wrapf(err, "publish address %q port", addr)
	}
	if hostname != "" {
		host = hostname
	}
	return host, port, nil
}
