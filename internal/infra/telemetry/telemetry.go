package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leadrgg/leadr-core/internal/core/port"
)

const namespace = "leadr"

// TrustMetrics counts anti-cheat verdicts, nonce outcomes and device session events.
type TrustMetrics struct {
	verdicts *prometheus.CounterVec
	nonces   *prometheus.CounterVec
	sessions *prometheus.CounterVec
}

var _ port.TrustMetrics = (*TrustMetrics)(nil)

// NewTrustMetrics registers the domain collectors, reusing collectors already registered under the same name.
func NewTrustMetrics(reg prometheus.Registerer) (*TrustMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	verdicts, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "anticheat",
		Name:      "verdicts_total",
		Help:      "Anti-cheat verdicts partitioned by action and flag type.",
	}, []string{"action", "flag_type"})
	if err != nil {
		return nil, err
	}

	nonces, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "nonce",
		Name:      "outcomes_total",
		Help:      "Nonce issue and consume outcomes.",
	}, []string{"outcome"})
	if err != nil {
		return nil, err
	}

	sessions, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "device_session",
		Name:      "events_total",
		Help:      "Device session lifecycle events.",
	}, []string{"event"})
	if err != nil {
		return nil, err
	}

	return &TrustMetrics{verdicts: verdicts, nonces: nonces, sessions: sessions}, nil
}

// ObserveVerdict counts an anti-cheat verdict. Accept verdicts carry an empty flag type.
func (m *TrustMetrics) ObserveVerdict(action, flagType string) {
	if m == nil {
		return
	}
	if flagType == "" {
		flagType = "none"
	}
	m.verdicts.WithLabelValues(action, flagType).Inc()
}

func (m *TrustMetrics) ObserveNonce(outcome string) {
	if m == nil {
		return
	}
	m.nonces.WithLabelValues(outcome).Inc()
}

func (m *TrustMetrics) ObserveSession(event string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(event).Inc()
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return vec, nil
}
