package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/accord/ext"
	"github.com/xraph/accord/id"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.LeaderElected       = (*MetricsExtension)(nil)
	_ ext.LeaderStepDown      = (*MetricsExtension)(nil)
	_ ext.TermAdvanced        = (*MetricsExtension)(nil)
	_ ext.NodeSuspected       = (*MetricsExtension)(nil)
	_ ext.NodeFailed          = (*MetricsExtension)(nil)
	_ ext.NodeRecovered       = (*MetricsExtension)(nil)
	_ ext.NodeEvicted         = (*MetricsExtension)(nil)
	_ ext.CircuitStateChanged = (*MetricsExtension)(nil)
)

// MetricsExtension records coordination lifecycle metrics with
// OpenTelemetry counters.
type MetricsExtension struct {
	electionWon   metric.Int64Counter
	stepDown      metric.Int64Counter
	termAdvanced  metric.Int64Counter
	nodeSuspected metric.Int64Counter
	nodeFailed    metric.Int64Counter
	nodeRecovered metric.Int64Counter
	nodeEvicted   metric.Int64Counter
	breakerChange metric.Int64Counter
}

// Option configures the MetricsExtension.
type Option func(*options)

type options struct {
	provider metric.MeterProvider
}

// WithMeterProvider sets the MeterProvider. Defaults to the global otel
// provider.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(o *options) { o.provider = p }
}

// NewMetricsExtension creates the extension and registers its instruments.
func NewMetricsExtension(opts ...Option) (*MetricsExtension, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.provider == nil {
		o.provider = otel.GetMeterProvider()
	}

	meter := o.provider.Meter("github.com/xraph/accord")

	m := &MetricsExtension{}
	for _, inst := range []struct {
		counter *metric.Int64Counter
		name    string
		desc    string
	}{
		{&m.electionWon, "accord.election.won", "Elections won by the local node"},
		{&m.stepDown, "accord.election.stepdown", "Leader or candidate step-downs"},
		{&m.termAdvanced, "accord.term.advanced", "Term advances observed"},
		{&m.nodeSuspected, "accord.node.suspected", "Nodes transitioned to Suspected"},
		{&m.nodeFailed, "accord.node.failed", "Nodes transitioned to Failed"},
		{&m.nodeRecovered, "accord.node.recovered", "Nodes recovered after suspicion or failure"},
		{&m.nodeEvicted, "accord.node.evicted", "Node records evicted after the eviction window"},
		{&m.breakerChange, "accord.breaker.transition", "Peer circuit breaker state transitions"},
	} {
		c, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc))
		if err != nil {
			return nil, fmt.Errorf("observability: create counter %s: %w", inst.name, err)
		}
		*inst.counter = c
	}

	return m, nil
}

// Name returns the extension name.
func (m *MetricsExtension) Name() string { return "observability.metrics" }

// ──────────────────────────────────────────────────
// Consensus hooks
// ──────────────────────────────────────────────────

// OnLeaderElected counts election wins.
func (m *MetricsExtension) OnLeaderElected(ctx context.Context, nodeID id.NodeID, term uint64) error {
	m.electionWon.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", nodeID.String()),
	))
	return nil
}

// OnLeaderStepDown counts step-downs by reason.
func (m *MetricsExtension) OnLeaderStepDown(ctx context.Context, nodeID id.NodeID, term uint64, reason string) error {
	m.stepDown.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", nodeID.String()),
		attribute.String("reason", reason),
	))
	return nil
}

// OnTermAdvanced counts term advances.
func (m *MetricsExtension) OnTermAdvanced(ctx context.Context, _ uint64) error {
	m.termAdvanced.Add(ctx, 1)
	return nil
}

// ──────────────────────────────────────────────────
// Membership hooks
// ──────────────────────────────────────────────────

// OnNodeSuspected counts suspect transitions.
func (m *MetricsExtension) OnNodeSuspected(ctx context.Context, nodeID id.NodeID) error {
	m.nodeSuspected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", nodeID.String()),
	))
	return nil
}

// OnNodeFailed counts failure transitions.
func (m *MetricsExtension) OnNodeFailed(ctx context.Context, nodeID id.NodeID) error {
	m.nodeFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", nodeID.String()),
	))
	return nil
}

// OnNodeRecovered counts recoveries.
func (m *MetricsExtension) OnNodeRecovered(ctx context.Context, nodeID id.NodeID) error {
	m.nodeRecovered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", nodeID.String()),
	))
	return nil
}

// OnNodeEvicted counts evictions.
func (m *MetricsExtension) OnNodeEvicted(ctx context.Context, nodeID id.NodeID) error {
	m.nodeEvicted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", nodeID.String()),
	))
	return nil
}

// ──────────────────────────────────────────────────
// Breaker hook
// ──────────────────────────────────────────────────

// OnCircuitStateChanged counts breaker transitions by destination state.
func (m *MetricsExtension) OnCircuitStateChanged(ctx context.Context, name, from, to string) error {
	m.breakerChange.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("to", to),
	))
	return nil
}
