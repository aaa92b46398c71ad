// Package metrics declares the Prometheus collectors shared by ingestion,
// thread building and identity resolution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadgraph_events_received_total",
		Help: "Messages pulled from the transport",
	})

	EventsDecodeFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadgraph_events_decode_failed_total",
		Help: "Messages discarded because the payload could not be decoded",
	})

	BroadcastDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadgraph_broadcast_dropped_total",
		Help: "Events dropped from a lagging subscriber queue",
	}, []string{"subscriber"})

	NodesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadgraph_nodes_created_total",
		Help: "Nodes added to tracked threads",
	}, []string{"root"})

	EdgesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadgraph_edges_created_total",
		Help: "Edges added to tracked threads",
	}, []string{"root", "kind"})

	BuilderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadgraph_builder_errors_total",
		Help: "Events whose processing failed inside a thread builder",
	}, []string{"root"})

	// IdentityLookups counts resolutions by the tier that answered:
	// memory, store, remote, or error.
	IdentityLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadgraph_identity_lookups_total",
		Help: "Identity resolutions by answering tier",
	}, []string{"tier"})
)
