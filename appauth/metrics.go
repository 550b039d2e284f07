package appauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var assertionsMinted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ghapp_broker_assertions_minted_total",
	Help: "Number of app assertions minted, by outcome",
}, []string{"status"})
