// Package memory provides an in-process transport.Network for tests and
// simulation. Links between nodes can be given artificial delay, drop
// probability, and partitions, so election safety can be exercised under
// message loss without real sockets.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/xraph/accord/id"
	"github.com/xraph/accord/transport"
)

// Network is an in-process hub connecting node transports. Safe for
// concurrent use.
type Network struct {
	mu         sync.RWMutex
	nodes      map[string]*nodeTransport
	delay      time.Duration
	dropProb   float64
	partitions map[string]int // node ID → partition group
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithDelay adds a fixed delivery delay to every message.
func WithDelay(d time.Duration) NetworkOption {
	return func(n *Network) { n.delay = d }
}

// WithDropProbability drops each message independently with probability p.
func WithDropProbability(p float64) NetworkOption {
	return func(n *Network) { n.dropProb = p }
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		nodes:      make(map[string]*nodeTransport),
		partitions: make(map[string]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Node returns (creating if needed) the transport endpoint for a node.
func (n *Network) Node(nodeID id.NodeID) transport.Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := nodeID.String()
	if t, ok := n.nodes[key]; ok {
		return t
	}
	t := &nodeTransport{net: n, self: key}
	n.nodes[key] = t
	return t
}

// Partition splits the nodes into groups that cannot reach each other.
// Nodes not named in any group remain in group 0. Call Heal to undo.
func (n *Network) Partition(groups ...[]id.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.partitions = make(map[string]int)
	for g, group := range groups {
		for _, nodeID := range group {
			n.partitions[nodeID.String()] = g + 1
		}
	}
}

// Heal removes all partitions.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.partitions = make(map[string]int)
}

// reachable reports whether a message from one node can reach another
// under the current partition map.
func (n *Network) reachable(from, to string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.partitions[from] == n.partitions[to]
}

// deliver routes a request frame to the destination's handler, applying
// delay and drop policy.
func (n *Network) deliver(ctx context.Context, from, to string, f *transport.Frame) (*transport.Frame, error) {
	if !n.reachable(from, to) {
		return nil, fmt.Errorf("%w: %s is partitioned from %s", transport.ErrPeerUnreachable, to, from)
	}

	n.mu.RLock()
	dst, ok := n.nodes[to]
	delay := n.delay
	dropProb := n.dropProb
	n.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown node %s", transport.ErrPeerUnreachable, to)
	}
	if dropProb > 0 && rand.Float64() < dropProb { //nolint:gosec // simulated loss uses non-crypto rand
		// A dropped message looks like a timeout to the sender.
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", transport.ErrTransport, ctx.Err())
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", transport.ErrTransport, ctx.Err())
		}
	}

	dst.mu.RLock()
	handler := dst.handler
	closed := dst.closed
	dst.mu.RUnlock()

	if closed || handler == nil {
		return nil, fmt.Errorf("%w: node %s not accepting", transport.ErrPeerUnreachable, to)
	}

	resp, err := handler(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}
	// The response crosses the (possibly re-partitioned) network too.
	if !n.reachable(to, from) {
		return nil, fmt.Errorf("%w: response lost in partition", transport.ErrPeerUnreachable)
	}
	return resp, nil
}

// nodeTransport is one node's endpoint on the network.
type nodeTransport struct {
	net  *Network
	self string

	mu      sync.RWMutex
	handler transport.Handler
	closed  bool
}

// Compile-time interface check.
var _ transport.Transport = (*nodeTransport)(nil)

// Send delivers a frame to the destination node and waits for the
// response or ctx expiry.
func (t *nodeTransport) Send(ctx context.Context, to id.NodeID, f *transport.Frame) (*transport.Frame, error) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: transport closed", transport.ErrTransport)
	}

	type result struct {
		resp *transport.Frame
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.net.deliver(ctx, t.self, to.String(), f)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", transport.ErrTransport, ctx.Err())
	}
}

// Handle registers the inbound request handler.
func (t *nodeTransport) Handle(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Close stops the endpoint from sending and receiving.
func (t *nodeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
