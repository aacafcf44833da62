// MIT License
//
// Copyright (c) 2023-2026 Arvo Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package metrics exposes the runtime's per-node Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the runtime updates, registered on its own
// registry so that tests can run many nodes in one process.
type Metrics struct {
	registry *prometheus.Registry

	Activations        prometheus.Counter
	ActivationFailed   prometheus.Counter
	Deactivations      prometheus.Counter
	ActiveObjects      prometheus.Gauge
	MessagesDispatched prometheus.Counter
	HandlerPanics      prometheus.Counter
	Redirects          prometheus.Counter
	ProxiedRequests    prometheus.Counter
	ProbeFailures      prometheus.Counter
	PubSubDrops        prometheus.Counter
	StateSaveFailures  prometheus.Counter
}

// New creates the collectors, labeled with the node name.
func New(node string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"node": node}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Activations: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_object_activations_total",
			Help:        "Number of service object activations.",
			ConstLabels: labels,
		}),
		ActivationFailed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_object_activation_failures_total",
			Help:        "Number of failed service object activations.",
			ConstLabels: labels,
		}),
		Deactivations: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_object_deactivations_total",
			Help:        "Number of service object deactivations.",
			ConstLabels: labels,
		}),
		ActiveObjects: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "arvo_active_objects",
			Help:        "Number of locally active service objects.",
			ConstLabels: labels,
		}),
		MessagesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_messages_dispatched_total",
			Help:        "Number of messages dispatched to local objects.",
			ConstLabels: labels,
		}),
		HandlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_handler_panics_total",
			Help:        "Number of recovered handler panics.",
			ConstLabels: labels,
		}),
		Redirects: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_redirects_total",
			Help:        "Number of redirect responses sent to clients.",
			ConstLabels: labels,
		}),
		ProxiedRequests: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_proxied_requests_total",
			Help:        "Number of requests proxied to a peer node.",
			ConstLabels: labels,
		}),
		ProbeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_probe_failures_total",
			Help:        "Number of failed peer reachability probes.",
			ConstLabels: labels,
		}),
		PubSubDrops: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_pubsub_drops_total",
			Help:        "Number of publishes dropped on full subscriber mailboxes.",
			ConstLabels: labels,
		}),
		StateSaveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "arvo_state_save_failures_total",
			Help:        "Number of failed managed state checkpoints.",
			ConstLabels: labels,
		}),
	}
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
