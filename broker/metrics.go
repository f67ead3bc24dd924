//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package broker implements components C3 (request table) and C4
// (trigger engine): the single shared table of in-flight requests, the
// dedup/refcount/timeout machinery spec §4.1 describes, and the
// condition-variable wait/wake protocol between Trigger and TakeNext.
package broker

import "github.com/prometheus/client_golang/prometheus"

// metrics are the broker's prometheus instrumentation (SPEC_FULL.md
// DOMAIN STACK). They are registered against a caller-supplied registry
// so cmd/broker-daemon controls whether/where they're exposed; a nil
// registry disables registration (used by tests that build several
// Broker instances in the same process).
type metrics struct {
	triggered   *prometheus.CounterVec
	completed   *prometheus.CounterVec
	inFlight    prometheus.Gauge
	timeouts    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mountbroker_requests_triggered_total",
			Help: "Requests triggered, by type.",
		}, []string{"type"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mountbroker_requests_completed_total",
			Help: "Requests completed, by type and outcome.",
		}, []string{"type", "outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mountbroker_requests_in_flight",
			Help: "Requests posted but not yet completed.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mountbroker_request_timeouts_total",
			Help: "Requests completed by their own one-shot timeout timer.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.triggered, m.completed, m.inFlight, m.timeouts)
	}

	return m
}
