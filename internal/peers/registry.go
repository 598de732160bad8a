package peers

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// DefaultCapacity bounds the number of configured peers.
const DefaultCapacity = 64

// ErrTooManyPeers is returned when the peer list exceeds the registry capacity.
var ErrTooManyPeers = errors.New("too many peers")

// Peer is the file-channel address of a sibling daemon.
type Peer struct {
	Host string
	Port int
}

func (p Peer) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Parse reads a host:port pair.
func Parse(addr string) (Peer, error) {
	host, portText, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return Peer{}, fmt.Errorf("parse peer %q: %w", addr, err)
	}
	if host == "" {
		return Peer{}, fmt.Errorf("parse peer %q: missing host", addr)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return Peer{}, fmt.Errorf("parse peer %q: invalid port", addr)
	}
	return Peer{Host: host, Port: port}, nil
}

// ParseList parses every address, keeping order and duplicates.
func ParseList(addrs []string) ([]Peer, error) {
	out := make([]Peer, 0, len(addrs))
	for _, addr := range addrs {
		p, err := Parse(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Route says where a request for a resource should be served.
type Route int

const (
	Local Route = iota
	Forward
)

func (r Route) String() string {
	if r == Forward {
		return "forward"
	}
	return "local"
}

// Decision is the outcome of Registry.Decide.
type Decision struct {
	Route Route
	Peer  Peer
}

// IsLocal reports whether this daemon is authoritative for the resource.
func (d Decision) IsLocal() bool {
	return d.Route == Local
}

// Registry is an immutable snapshot of this daemon's identity and its
// siblings. It is safe for concurrent use without locking; reconfiguration
// builds a new Registry.
type Registry struct {
	self  string
	peers []Peer
	index map[string]Peer
	ring  *rendezvous.Rendezvous
}

// NewRegistry builds a registry for the node advertised as self. Every
// daemon must list the same set of nodes (itself included through self) for
// ownership decisions to agree without further coordination.
func NewRegistry(self string, list []Peer, capacity int) (*Registry, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if len(list) > capacity {
		return nil, fmt.Errorf("%w: %d configured, capacity %d", ErrTooManyPeers, len(list), capacity)
	}
	self = strings.TrimSpace(self)
	if self == "" {
		return nil, errors.New("registry self address is required")
	}

	index := make(map[string]Peer, len(list))
	nodes := []string{self}
	for _, p := range list {
		key := p.String()
		if key == self {
			continue
		}
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = p
		nodes = append(nodes, key)
	}

	return &Registry{
		self:  self,
		peers: append([]Peer(nil), list...),
		index: index,
		ring:  rendezvous.New(nodes, xxhash.Sum64String),
	}, nil
}

// Self returns this daemon's advertised address.
func (r *Registry) Self() string {
	return r.self
}

// Peers returns a copy of the configured peers in configuration order.
func (r *Registry) Peers() []Peer {
	return append([]Peer(nil), r.peers...)
}

// Len returns the number of configured peers.
func (r *Registry) Len() int {
	return len(r.peers)
}

// Decide maps a resource to the node that owns it using highest-random-weight
// hashing over self and the peers.
func (r *Registry) Decide(resource string) Decision {
	if len(r.index) == 0 {
		return Decision{Route: Local}
	}
	owner := r.ring.Lookup(resource)
	if owner == r.self {
		return Decision{Route: Local}
	}
	p, ok := r.index[owner]
	if !ok {
		return Decision{Route: Local}
	}
	return Decision{Route: Forward, Peer: p}
}
