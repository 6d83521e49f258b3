// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the running acquisition session's health counters and
// the viewer's sampling-period estimate as Prometheus gauges/counters
// (spec.md §3 trace indicators, SPEC_FULL.md §9 EMA sampling period).
type Metrics struct {
	TraceErrorFramesTotal  prometheus.Counter
	TraceDelayedTimestamp3 prometheus.Counter
	TraceOverflowCount     prometheus.Counter
	RingBufferOccupancy    prometheus.Gauge
	ViewerSamplingPeriod   prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TraceErrorFramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acqd",
			Subsystem: "trace",
			Name:      "error_frames_total",
			Help:      "Total trace frames the decoder could not classify.",
		}),
		TraceDelayedTimestamp3: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acqd",
			Subsystem: "trace",
			Name:      "delayed_timestamp3_total",
			Help:      "Total timestamp packets tagged with delay class 3.",
		}),
		TraceOverflowCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acqd",
			Subsystem: "trace",
			Name:      "overflow_total",
			Help:      "Total overflow packets observed by the decoder.",
		}),
		RingBufferOccupancy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "acqd",
			Subsystem: "ringbuffer",
			Name:      "occupancy",
			Help:      "Current number of queued items in the trace ring buffer.",
		}),
		ViewerSamplingPeriod: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "acqd",
			Subsystem: "viewer",
			Name:      "sampling_period_seconds",
			Help:      "EMA-filtered inter-sample period observed by the viewer handler.",
		}),
	}
}

// SetTraceIndicators updates the counters to the decoder's latest
// cumulative totals. Counters only move forward; Add is given the delta
// against the last observed value.
func (m *Metrics) SetTraceIndicators(errorFrames, delayed3, overflow uint64, last *[3]uint64) {
	if errorFrames > last[0] {
		m.TraceErrorFramesTotal.Add(float64(errorFrames - last[0]))
		last[0] = errorFrames
	}
	if delayed3 > last[1] {
		m.TraceDelayedTimestamp3.Add(float64(delayed3 - last[1]))
		last[1] = delayed3
	}
	if overflow > last[2] {
		m.TraceOverflowCount.Add(float64(overflow - last[2]))
		last[2] = overflow
	}
}

// Handler returns the HTTP handler to mount at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
