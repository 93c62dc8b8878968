package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyhub_registrations_total",
			Help: "Device registrations by result.",
		},
		[]string{"result"},
	)

	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyhub_sends_total",
			Help: "Send requests by terminal state.",
		},
		[]string{"state"},
	)

	TokenExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyhub_token_exchanges_total",
			Help: "Signed assertion exchanges against the token endpoint.",
		},
		[]string{"result"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyhub_device_cache_lookups_total",
			Help: "API key lookups served by the device cache.",
		},
		[]string{"result"},
	)

	DispatchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyhub_dispatch_duration_seconds",
			Help:    "Duration of calls to the push provider.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)

var registerOnce sync.Once

// MustRegister adds every instrument to reg. Safe to call more than once.
func MustRegister(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			RegistrationsTotal,
			SendsTotal,
			TokenExchangesTotal,
			CacheLookupsTotal,
			DispatchDurationSeconds,
		)
	})
}
