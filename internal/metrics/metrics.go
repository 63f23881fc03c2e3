/*
 * Copyright (c) 2026, the policy-gate authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics holds the process-wide Prometheus collectors and the HTTP
// server that exposes them.
package metrics

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// ActiveRequests tracks requests currently inside the filter.
	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "policy_gate_active_requests",
		Help: "Number of requests currently being processed",
	})

	// ChecksTotal counts decision checks by canonical result code.
	ChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_gate_checks_total",
		Help: "Decision service checks by canonical result code",
	}, []string{"code"})

	// CheckDurationSeconds observes the latency of decision checks.
	CheckDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "policy_gate_check_duration_seconds",
		Help:    "Decision service check latency",
		Buckets: prometheus.DefBuckets,
	})

	// ReportsTotal counts telemetry reports by send outcome.
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_gate_reports_total",
		Help: "Telemetry reports by send outcome code",
	}, []string{"code"})

	// LocalRepliesTotal counts requests terminated by the filter, by HTTP
	// status sent to the client.
	LocalRepliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_gate_local_replies_total",
		Help: "Requests terminated by the policy filter, by HTTP status",
	}, []string{"status"})

	heapAllocBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "policy_gate_heap_alloc_bytes",
		Help: "Bytes of allocated heap objects",
	})

	goroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "policy_gate_goroutines",
		Help: "Number of live goroutines",
	})
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// Init builds the registry on first use and returns it. Subsequent calls
// return the same registry, so tests and servers can share it.
func Init() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			ActiveRequests,
			ChecksTotal,
			CheckDurationSeconds,
			ReportsTotal,
			LocalRepliesTotal,
			heapAllocBytes,
			goroutineCount,
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	})
	return registry
}

// UpdateMemoryMetrics refreshes the runtime gauges.
func UpdateMemoryMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapAllocBytes.Set(float64(ms.HeapAlloc))
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}
