// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package machine

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
)

// oopsCode recovers the Code() an oops-wrapped error carries, matching the
// pkg/errutil.LogError convention used elsewhere in this module.
func oopsCode(err error) (string, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "", false
	}
	code := fmt.Sprint(oopsErr.Code())
	return code, code != ""
}

// Metrics for policy virtual machine execution.
var (
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aranya_policy_vm_run_duration_seconds",
		Help:    "Histogram of policy VM entry-point run latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aranya_policy_vm_runs_total",
		Help: "Total number of policy VM action/command runs by kind and outcome",
	}, []string{"kind", "outcome"})

	panicsByKind = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aranya_policy_vm_panics_total",
		Help: "Total number of policy VM panics by error kind",
	}, []string{"kind"})

	// transactionsGauge is registered but never set; nothing in the
	// module reports open transaction counts to it.
	transactionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aranya_policy_vm_open_transactions",
		Help: "Number of policy VM transactions currently open",
	})
)

// Metrics is a thin, stateless handle onto the package's prometheus
// collectors; it exists so VM construction doesn't depend on the global
// registry directly and a future test registry can be substituted.
type Metrics struct{}

// NewMetrics returns a Metrics handle.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) observeRun(kind, name string, d time.Duration, err error) {
	runDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err == nil {
		runsTotal.WithLabelValues(kind, "committed").Inc()
		return
	}
	runsTotal.WithLabelValues(kind, "rejected").Inc()
	if me, ok := oopsCode(err); ok {
		panicsByKind.WithLabelValues(me).Inc()
	}
}

func init() {
	_ = transactionsGauge
}
