package k8s

import "log/slog"

// Option configures the Provider.
type Option func(*Provider)

// WithLeaseName sets the Lease object name for the leader mirror.
// Default: "accord-leader".
func WithLeaseName(name string) Option {
	return func(p *Provider) { p.leaseName = name }
}

// WithLabelSelector sets the Pod label selector used for discovery.
// Default: "app.kubernetes.io/component=accord-node".
func WithLabelSelector(selector string) Option {
	return func(p *Provider) { p.labelSelector = selector }
}

// WithAnnotationPrefix sets the annotation key prefix.
// Default: "accord.xraph.com/".
func WithAnnotationPrefix(prefix string) Option {
	return func(p *Provider) { p.annotationPrefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}
