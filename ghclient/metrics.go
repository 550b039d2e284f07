package ghclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ghapp_broker_upstream_requests_total",
	Help: "Upstream GitHub API calls, by endpoint and outcome",
}, []string{"endpoint", "status"})

var upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ghapp_broker_upstream_request_duration_seconds",
	Help:    "Time spent on upstream GitHub API calls, including assertion minting",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 30, 20),
}, []string{"endpoint", "status"})
