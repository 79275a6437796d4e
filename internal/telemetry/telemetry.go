// Copyright 2026 Zerobus Wrapper Authors. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry emits the wrapper's observability signals: Prometheus
// counters and histograms for batch outcomes, and span events surfaced as
// structured log entries with the send latency. When observability is
// disabled every method is a no-op, safe to call from hot paths.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	batchesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zerobus_batches_sent_total",
		Help: "Total batches submitted, labelled by overall success",
	}, []string{"success"})
	rowsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zerobus_rows_sent_total",
		Help: "Total rows accepted by the upstream service",
	})
	rowsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zerobus_rows_failed_total",
		Help: "Total rows that failed, labelled by error kind",
	}, []string{"kind"})
	batchBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zerobus_batch_bytes",
		Help:    "Distribution of input batch sizes in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
	sendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zerobus_send_latency_seconds",
		Help:    "Distribution of end-to-end send latencies",
		Buckets: prometheus.DefBuckets,
	})
	backoffEngagedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zerobus_backoff_engaged_total",
		Help: "Cooldowns installed, labelled by trigger kind",
	}, []string{"kind"})
)

func init() {
	// Registration is eager; without a /metrics endpoint it is harmless.
	prometheus.MustRegister(batchesSentTotal, rowsSentTotal, rowsFailedTotal,
		batchBytes, sendLatency, backoffEngagedTotal)
}

var endpointOnce sync.Once

// Telemetry gates metric and span emission on the configured switch.
type Telemetry struct {
	enabled bool
	log     *zap.Logger
	now     func() time.Time
}

// New builds the sink. When metricsAddr is non-empty a dedicated HTTP
// server serves /metrics; leave it empty if Prometheus is exposed
// elsewhere in the process.
func New(enabled bool, metricsAddr string, log *zap.Logger) *Telemetry {
	t := &Telemetry{enabled: enabled, log: log, now: time.Now}
	if enabled && metricsAddr != "" {
		startMetricsEndpoint(metricsAddr, log)
	}
	return t
}

// Enabled reports whether emission is active.
func (t *Telemetry) Enabled() bool { return t != nil && t.enabled }

// RecordBatchSent emits the batch-sent counter with its success label plus
// the size and latency distributions.
func (t *Telemetry) RecordBatchSent(success bool, bytesIn int, latency time.Duration) {
	if !t.Enabled() {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	batchesSentTotal.WithLabelValues(label).Inc()
	batchBytes.Observe(float64(bytesIn))
	sendLatency.Observe(latency.Seconds())
}

// RecordRows accumulates per-row outcome counters.
func (t *Telemetry) RecordRows(ok int, failedByKind map[string]int) {
	if !t.Enabled() {
		return
	}
	if ok > 0 {
		rowsSentTotal.Add(float64(ok))
	}
	for kind, n := range failedByKind {
		if n > 0 {
			rowsFailedTotal.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// RecordBackoff counts an installed cooldown.
func (t *Telemetry) RecordBackoff(kind string) {
	if !t.Enabled() {
		return
	}
	backoffEngagedTotal.WithLabelValues(kind).Inc()
}

// StartSpan opens a span covering one batch send. The returned func ends
// the span; spans surface as paired structured log events carrying the
// table and elapsed time.
func (t *Telemetry) StartSpan(table string) func() {
	if !t.Enabled() {
		return func() {}
	}
	start := t.now()
	t.log.Debug("span start", zap.String("span", "send_batch"), zap.String("table", table))
	return func() {
		t.log.Debug("span end",
			zap.String("span", "send_batch"),
			zap.String("table", table),
			zap.Duration("elapsed", t.now().Sub(start)))
	}
}

// Flush synchronizes buffered telemetry. Prometheus is pull-based, so only
// the logger needs a sync; called before shutdown completes.
func (t *Telemetry) Flush() error {
	if !t.Enabled() {
		return nil
	}
	// Sync errors on stderr sinks are expected and carry no signal.
	_ = t.log.Sync()
	return nil
}

func startMetricsEndpoint(addr string, log *zap.Logger) {
	endpointOnce.Do(func() {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	})
}
