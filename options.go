package accord

import (
	"log/slog"

	"github.com/xraph/accord/ext"
	"github.com/xraph/accord/id"
	"github.com/xraph/accord/store"
	"github.com/xraph/accord/transport"
)

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithSelf sets the local node's identity. Required.
func WithSelf(nodeID id.NodeID) Option {
	return func(c *Coordinator) { c.self = nodeID }
}

// WithAddress sets the address peers should dial for the local node. It
// is advertised in heartbeats and stored in membership records; the
// in-process transport ignores it.
func WithAddress(addr string) Option {
	return func(c *Coordinator) { c.address = addr }
}

// WithConfig sets the coordinator configuration. Defaults to
// DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithStore sets the persistence backend. Required; consensus hard state
// must survive restarts.
func WithStore(s store.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithTransport sets the peer messaging transport. Required.
func WithTransport(t transport.Transport) Option {
	return func(c *Coordinator) { c.transport = t }
}

// WithPeers seeds the initial cluster membership. Nodes discovered through
// heartbeats are added on top of the seeds.
func WithPeers(peers ...id.NodeID) Option {
	return func(c *Coordinator) { c.seeds = append(c.seeds, peers...) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithExtensions registers lifecycle extensions.
func WithExtensions(exts ...ext.Extension) Option {
	return func(c *Coordinator) { c.extensions = append(c.extensions, exts...) }
}
