package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts session operations. A nil *Metrics records nothing.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	RefreshReuseTotal prometheus.Counter
	RevokedTotal      prometheus.Counter
}

// NewMetrics creates the session metrics and registers them on reg (when non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crud_auth_operations_total",
				Help: "Total number of auth operations by outcome",
			},
			[]string{"op", "result"},
		),
		RefreshReuseTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crud_auth_refresh_reuse_total",
				Help: "Total number of revoked refresh tokens presented again",
			},
		),
		RevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crud_auth_refresh_revoked_total",
				Help: "Total number of refresh token records revoked",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.OperationsTotal, m.RefreshReuseTotal, m.RevokedTotal)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = errorResult(err)
	}
	m.OperationsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) reuse() {
	if m == nil {
		return
	}
	m.RefreshReuseTotal.Inc()
}

func (m *Metrics) revoked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RevokedTotal.Add(float64(n))
}
