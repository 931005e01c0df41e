package elastic

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	kModRegistry = "registry"

	defaultResurrectTimeout = time.Minute
	deadAfterFailures       = 2
)

type nodeState struct {
	node      Node
	status    NodeStatus
	failures  int
	deadSince time.Time
}

// NodeInfo is a point in time view of a registered node.
type NodeInfo struct {
	Node   Node
	Status NodeStatus
}

// Registry owns the set of known nodes and their health.
// The node set is only ever replaced as a whole.
type Registry struct {
	mu     sync.RWMutex
	states []*nodeState
	byURL  map[string]*nodeState

	rr        atomic.Uint64
	resurrect time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func NewRegistry(nodes []Node, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		resurrect: defaultResurrectTimeout,
		now:       time.Now,
		log:       log.With().Str("mod", kModRegistry).Logger(),
	}
	if err := r.Refresh(nodes); err != nil {
		return nil, err
	}
	return r, nil
}

// SelectNode returns the next node in round-robin order among the nodes the selector keeps.
// Healthy nodes are preferred over suspected ones, dead nodes are only used as a last resort.
func (r *Registry) SelectNode(sel Selector, exclude ...string) (Node, error) {
	if sel == nil {
		sel = Any
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.states))
	for _, st := range r.states {
		if !slices.Contains(exclude, st.node.URL()) {
			nodes = append(nodes, st.node)
		}
	}

	var alive, suspected, resurrectable, dead []*nodeState
	now := r.now()
	for _, n := range sel.Select(nodes) {
		st, ok := r.byURL[n.URL()]
		if !ok {
			continue
		}
		switch st.status {
		case NodeAlive:
			alive = append(alive, st)
		case NodeSuspected:
			suspected = append(suspected, st)
		default:
			if now.Sub(st.deadSince) >= r.resurrect {
				resurrectable = append(resurrectable, st)
			} else {
				dead = append(dead, st)
			}
		}
	}

	var bucket []*nodeState
	switch {
	case len(alive) > 0:
		bucket = alive
	case len(suspected) > 0:
		bucket = suspected
	case len(resurrectable) > 0:
		bucket = resurrectable
	case len(dead) > 0:
		// Everything is dead: try the node that has been dead the longest.
		oldest := dead[0]
		for _, st := range dead[1:] {
			if st.deadSince.Before(oldest.deadSince) {
				oldest = st
			}
		}
		return oldest.node.clone(), nil
	default:
		return Node{}, &NoAvailableNodeError{Known: len(r.states)}
	}

	i := r.rr.Add(1) - 1
	return bucket[i%uint64(len(bucket))].node.clone(), nil
}

// MarkFailed moves a node from alive to suspected, and to dead on a repeated failure.
func (r *Registry) MarkFailed(n Node) {
	var status NodeStatus
	var failures int

	r.mu.Lock()
	st, ok := r.byURL[n.URL()]
	if ok {
		st.failures++
		if st.failures >= deadAfterFailures {
			st.status = NodeDead
			st.deadSince = r.now()
		} else {
			st.status = NodeSuspected
		}
		status, failures = st.status, st.failures
	}
	r.mu.Unlock()

	if ok {
		r.log.Warn().
			Str("node", n.URL()).
			Str("status", status.String()).
			Int("failures", failures).
			Msg("Node marked failed")
	}
}

// MarkAlive resets the health of a node after a successful round trip.
func (r *Registry) MarkAlive(n Node) {
	r.mu.RLock()
	st, ok := r.byURL[n.URL()]
	healthy := ok && st.status == NodeAlive && st.failures == 0
	r.mu.RUnlock()
	if !ok || healthy {
		return
	}

	r.mu.Lock()
	if st, ok = r.byURL[n.URL()]; ok {
		st.status = NodeAlive
		st.failures = 0
		st.deadSince = time.Time{}
	}
	r.mu.Unlock()
}

// Refresh replaces the node set. Health of nodes present in both sets is carried over.
func (r *Registry) Refresh(nodes []Node) error {
	if len(nodes) == 0 {
		return ErrEmptyNodeSet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]*nodeState, 0, len(nodes))
	byURL := make(map[string]*nodeState, len(nodes))
	for _, n := range nodes {
		key := n.URL()
		if _, dup := byURL[key]; dup {
			continue
		}
		st := &nodeState{node: n.clone()}
		if old, ok := r.byURL[key]; ok {
			st.status = old.status
			st.failures = old.failures
			st.deadSince = old.deadSince
		}
		states = append(states, st)
		byURL[key] = st
	}

	r.states = states
	r.byURL = byURL

	r.log.Debug().Int("nodes", len(states)).Msg("Node set replaced")
	return nil
}

// Nodes returns a snapshot of the registered nodes.
func (r *Registry) Nodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeInfo, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, NodeInfo{Node: st.node.clone(), Status: st.status})
	}
	return out
}
