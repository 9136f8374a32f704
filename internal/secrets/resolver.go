package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics counts secret lookups.
type Metrics struct {
	lookups *prometheus.CounterVec
}

// NewMetrics registers the lookup counter on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "secrets",
				Name:      "lookups_total",
				Help:      "Secret reference lookups by scheme and result",
			},
			[]string{"scheme", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.lookups)
	}
	return m
}

func (m *Metrics) record(scheme string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.lookups.WithLabelValues(scheme, result).Inc()
}

// Resolver dispatches references to providers by scheme.
type Resolver struct {
	providers map[string]Provider
	logger    *zap.Logger
	metrics   *Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics sets the resolver's metrics.
func WithMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithProvider registers a provider, replacing any with the same scheme.
func WithProvider(p Provider) ResolverOption {
	return func(r *Resolver) {
		r.providers[p.Scheme()] = p
	}
}

// NewResolver returns a resolver with the env and file providers registered.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider),
		logger:    zap.NewNop(),
	}
	env, file := NewEnvProvider(), NewFileProvider("")
	r.providers[env.Scheme()] = env
	r.providers[file.Scheme()] = file

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the secret a reference points at, or value itself when it
// carries no registered scheme.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	scheme, ref, ok := strings.Cut(value, ":")
	if !ok {
		return value, nil
	}
	provider, ok := r.providers[scheme]
	if !ok {
		return value, nil
	}

	secret, err := provider.GetSecret(ctx, ref)
	r.metrics.record(scheme, err)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}

	r.logger.Debug("secret reference resolved", zap.String("scheme", scheme))
	return secret, nil
}
