package ext

import (
	"context"
	"log/slog"

	"github.com/xraph/accord/id"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type leaderElectedEntry struct {
	name string
	hook LeaderElected
}

type leaderStepDownEntry struct {
	name string
	hook LeaderStepDown
}

type termAdvancedEntry struct {
	name string
	hook TermAdvanced
}

type nodeSuspectedEntry struct {
	name string
	hook NodeSuspected
}

type nodeFailedEntry struct {
	name string
	hook NodeFailed
}

type nodeRecoveredEntry struct {
	name string
	hook NodeRecovered
}

type nodeEvictedEntry struct {
	name string
	hook NodeEvicted
}

type membershipChangedEntry struct {
	name string
	hook MembershipChanged
}

type circuitStateChangedEntry struct {
	name string
	hook CircuitStateChanged
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	leaderElected       []leaderElectedEntry
	leaderStepDown      []leaderStepDownEntry
	termAdvanced        []termAdvancedEntry
	nodeSuspected       []nodeSuspectedEntry
	nodeFailed          []nodeFailedEntry
	nodeRecovered       []nodeRecoveredEntry
	nodeEvicted         []nodeEvictedEntry
	membershipChanged   []membershipChangedEntry
	circuitStateChanged []circuitStateChangedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(LeaderElected); ok {
		r.leaderElected = append(r.leaderElected, leaderElectedEntry{name, h})
	}
	if h, ok := e.(LeaderStepDown); ok {
		r.leaderStepDown = append(r.leaderStepDown, leaderStepDownEntry{name, h})
	}
	if h, ok := e.(TermAdvanced); ok {
		r.termAdvanced = append(r.termAdvanced, termAdvancedEntry{name, h})
	}
	if h, ok := e.(NodeSuspected); ok {
		r.nodeSuspected = append(r.nodeSuspected, nodeSuspectedEntry{name, h})
	}
	if h, ok := e.(NodeFailed); ok {
		r.nodeFailed = append(r.nodeFailed, nodeFailedEntry{name, h})
	}
	if h, ok := e.(NodeRecovered); ok {
		r.nodeRecovered = append(r.nodeRecovered, nodeRecoveredEntry{name, h})
	}
	if h, ok := e.(NodeEvicted); ok {
		r.nodeEvicted = append(r.nodeEvicted, nodeEvictedEntry{name, h})
	}
	if h, ok := e.(MembershipChanged); ok {
		r.membershipChanged = append(r.membershipChanged, membershipChangedEntry{name, h})
	}
	if h, ok := e.(CircuitStateChanged); ok {
		r.circuitStateChanged = append(r.circuitStateChanged, circuitStateChangedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Consensus event emitters
// ──────────────────────────────────────────────────

// EmitLeaderElected notifies all extensions that implement LeaderElected.
func (r *Registry) EmitLeaderElected(ctx context.Context, nodeID id.NodeID, term uint64) {
	for _, e := range r.leaderElected {
		if err := e.hook.OnLeaderElected(ctx, nodeID, term); err != nil {
			r.logHookError("OnLeaderElected", e.name, err)
		}
	}
}

// EmitLeaderStepDown notifies all extensions that implement LeaderStepDown.
func (r *Registry) EmitLeaderStepDown(ctx context.Context, nodeID id.NodeID, term uint64, reason string) {
	for _, e := range r.leaderStepDown {
		if err := e.hook.OnLeaderStepDown(ctx, nodeID, term, reason); err != nil {
			r.logHookError("OnLeaderStepDown", e.name, err)
		}
	}
}

// EmitTermAdvanced notifies all extensions that implement TermAdvanced.
func (r *Registry) EmitTermAdvanced(ctx context.Context, term uint64) {
	for _, e := range r.termAdvanced {
		if err := e.hook.OnTermAdvanced(ctx, term); err != nil {
			r.logHookError("OnTermAdvanced", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Membership event emitters
// ──────────────────────────────────────────────────

// EmitNodeSuspected notifies all extensions that implement NodeSuspected.
func (r *Registry) EmitNodeSuspected(ctx context.Context, nodeID id.NodeID) {
	for _, e := range r.nodeSuspected {
		if err := e.hook.OnNodeSuspected(ctx, nodeID); err != nil {
			r.logHookError("OnNodeSuspected", e.name, err)
		}
	}
}

// EmitNodeFailed notifies all extensions that implement NodeFailed.
func (r *Registry) EmitNodeFailed(ctx context.Context, nodeID id.NodeID) {
	for _, e := range r.nodeFailed {
		if err := e.hook.OnNodeFailed(ctx, nodeID); err != nil {
			r.logHookError("OnNodeFailed", e.name, err)
		}
	}
}

// EmitNodeRecovered notifies all extensions that implement NodeRecovered.
func (r *Registry) EmitNodeRecovered(ctx context.Context, nodeID id.NodeID) {
	for _, e := range r.nodeRecovered {
		if err := e.hook.OnNodeRecovered(ctx, nodeID); err != nil {
			r.logHookError("OnNodeRecovered", e.name, err)
		}
	}
}

// EmitNodeEvicted notifies all extensions that implement NodeEvicted.
func (r *Registry) EmitNodeEvicted(ctx context.Context, nodeID id.NodeID) {
	for _, e := range r.nodeEvicted {
		if err := e.hook.OnNodeEvicted(ctx, nodeID); err != nil {
			r.logHookError("OnNodeEvicted", e.name, err)
		}
	}
}

// EmitMembershipChanged notifies all extensions that implement
// MembershipChanged.
func (r *Registry) EmitMembershipChanged(ctx context.Context, members []id.NodeID) {
	for _, e := range r.membershipChanged {
		if err := e.hook.OnMembershipChanged(ctx, members); err != nil {
			r.logHookError("OnMembershipChanged", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCircuitStateChanged notifies all extensions that implement
// CircuitStateChanged.
func (r *Registry) EmitCircuitStateChanged(ctx context.Context, name, from, to string) {
	for _, e := range r.circuitStateChanged {
		if err := e.hook.OnCircuitStateChanged(ctx, name, from, to); err != nil {
			r.logHookError("OnCircuitStateChanged", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block coordination.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
