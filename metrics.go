package updater

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup sources reported by the release lookup counter.
const (
	SourceMemory    = "memory"
	SourceCache     = "cache"
	SourceAPI       = "api"
	SourceNoRelease = "no_release"
	SourceError     = "error"
)

// Metrics holds the updater's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	lookups   *prometheus.CounterVec
	apiErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plugin_updater",
			Name:      "release_lookups_total",
			Help:      "Latest release lookups by where the data came from.",
		}, []string{"owner", "repo", "source"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plugin_updater",
			Name:      "api_errors_total",
			Help:      "Failed GitHub API release fetches by error code.",
		}, []string{"owner", "repo", "code"}),
	}
	reg.MustRegister(m.lookups, m.apiErrors)
	return m
}

func (m *Metrics) lookup(owner, repo, source string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(owner, repo, source).Inc()
}

func (m *Metrics) apiError(owner, repo string, code ErrorCode) {
	if m == nil {
		return
	}
	m.apiErrors.WithLabelValues(owner, repo, string(code)).Inc()
}
