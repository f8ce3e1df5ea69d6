// Package metrics exposes the node's Prometheus instrumentation. Counters
// are registered on the default registry and served by the HTTP control
// surface at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mentorcall_active_calls",
		Help: "Number of call sessions not yet ended.",
	})

	CallsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentorcall_calls_started_total",
		Help: "Call sessions created, by direction and call type.",
	}, []string{"direction", "call_type"})

	CallsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentorcall_calls_ended_total",
		Help: "Call sessions ended, by reason.",
	}, []string{"reason"})

	RingTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentorcall_ring_timeouts_total",
		Help: "Sessions ended because the ring window elapsed.",
	})

	OffersRejectedBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentorcall_offers_rejected_busy_total",
		Help: "Inbound offers refused because the call key was already active.",
	})

	SignalingDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentorcall_signaling_dropped_total",
		Help: "Inbound signaling messages discarded, by reason.",
	}, []string{"reason"})

	CandidatesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentorcall_ice_candidates_queued_total",
		Help: "Remote ICE candidates buffered before the remote description.",
	})

	GroupRoomsJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentorcall_group_rooms_joined_total",
		Help: "Group rooms this node has joined.",
	})
)

// Drop reasons for SignalingDropped.
const (
	DropReasonStale       = "stale"
	DropReasonNotForUs    = "not_for_us"
	DropReasonInvalid     = "invalid"
	DropReasonUnsupported = "unsupported"
)
