package nmemory

import "github.com/prometheus/client_golang/prometheus"

var MutationCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nmemory",
	Subsystem: "table",
	Name:      "mutations",
}, []string{"table", "op"})

var RollbackCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nmemory",
	Subsystem: "table",
	Name:      "rollbacks",
}, []string{"table"})

// AtomicSteps counts the micro-steps logged inside atomic scopes, by kind:
// index_delete, index_insert, record_update.
var AtomicSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nmemory",
	Subsystem: "table",
	Name:      "atomic_steps",
}, []string{"table", "kind"})
