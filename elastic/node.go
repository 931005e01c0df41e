package elastic

import (
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type NodeStatus int

const (
	NodeAlive NodeStatus = iota
	NodeSuspected
	NodeDead
)

func (s NodeStatus) String() string {
	switch s {
	case NodeAlive:
		return "alive"
	case NodeSuspected:
		return "suspected"
	case NodeDead:
		return "dead"
	}
	return "unknown"
}

// Node is one engine endpoint. Values handed out by the registry are copies.
type Node struct {
	ID         string
	Name       string
	Scheme     string
	Host       string
	Port       int
	Roles      []string
	Attributes map[string]string
}

// URL renders the node address; it doubles as the node identity.
func (n Node) URL() string {
	scheme := n.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

func (n Node) HasRole(role string) bool {
	return slices.Contains(n.Roles, role)
}

// DedicatedMaster reports whether the node is master eligible without holding data or ingesting.
// Nodes without role information are never treated as dedicated masters.
func (n Node) DedicatedMaster() bool {
	if !n.HasRole("master") {
		return false
	}
	for _, r := range n.Roles {
		if r == "ingest" || strings.HasPrefix(r, "data") {
			return false
		}
	}
	return true
}

func (n Node) clone() Node {
	c := n
	c.Roles = slices.Clone(n.Roles)
	if n.Attributes != nil {
		c.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// ParseNode parses an address like "http://localhost:9200" or "localhost:9200".
func ParseNode(addr string) (Node, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Node{}, errors.New("empty node address")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return Node{}, errors.Wrapf(err, "parse node %q", addr)
	}
	if u.Hostname() == "" {
		return Node{}, errors.Errorf("node %q has no host", addr)
	}

	port := 9200
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Node{}, errors.Wrapf(err, "node %q port", addr)
		}
	}

	return Node{Scheme: u.Scheme, Host: u.Hostname(), Port: port}, nil
}

// ParseNodes splits a comma separated node list.
func ParseNodes(list string) ([]Node, error) {
	var nodes []Node
	for _, addr := range strings.Split(list, ",") {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		n, err := ParseNode(addr)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil, ErrEmptyNodeSet
	}
	return nodes, nil
}
