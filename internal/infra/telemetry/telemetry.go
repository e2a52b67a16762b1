package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lumenauth/magiclink-service/internal/infra/config"
)

// Provider represents a telemetry provider handle.
type Provider struct {
	requestCounter prometheus.Counter
	loginOutcomes  *prometheus.CounterVec
	lockouts       prometheus.Counter
}

// Attach configures telemetry exporters and returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	counter := promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "magiclink",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	})

	outcomes := promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magiclink",
		Name:      "login_outcomes_total",
		Help:      "Login attempts partitioned by stage and outcome",
	}, []string{"stage", "outcome"})

	lockouts := promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "magiclink",
		Name:      "twofactor_lockouts_total",
		Help:      "Accounts locked out after repeated two-factor failures",
	})

	return &Provider{
		requestCounter: counter,
		loginOutcomes:  outcomes,
		lockouts:       lockouts,
	}, nil
}

// RequestCounter exposes the HTTP request metric.
func (p *Provider) RequestCounter() prometheus.Counter {
	if p == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{})
	}
	return p.requestCounter
}

// ObserveLogin records the outcome of a login stage.
func (p *Provider) ObserveLogin(stage, outcome string) {
	if p == nil {
		return
	}
	p.loginOutcomes.WithLabelValues(stage, outcome).Inc()
}

// ObserveLockout records an account lockout.
func (p *Provider) ObserveLockout() {
	if p == nil {
		return
	}
	p.lockouts.Inc()
}
