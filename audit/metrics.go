package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var auditEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ghapp_broker_audit_entries_total",
	Help: "Audit log entries written, by direction",
}, []string{"direction"})

var auditFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ghapp_broker_audit_failures_total",
	Help: "Exchanges aborted by the audit middleware, by failure kind",
}, []string{"kind"})

var auditBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ghapp_broker_audit_bytes_total",
	Help: "Bytes appended to the audit log",
})
