package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// claim counter - every claim issued by a context, initial or user-driven
	// labels: status (success/failure), failure = the store rejected the write
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsession_claims_total",
			Help: "total number of session claims",
		},
		[]string{"status"},
	)

	// release counter - only counts releases that actually removed a record
	// guarded no-ops from non-owners are not counted
	ReleasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabsession_releases_total",
			Help: "total number of session releases by the owner",
		},
	)

	// demotion counter - an owner learned that another context claimed
	// a high rate means users keep bouncing the session between tabs
	DemotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabsession_demotions_total",
			Help: "total number of owners demoted by a foreign claim",
		},
	)

	// transitions by target status
	// labels: to (owner/observing/unclaimed)
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsession_status_transitions_total",
			Help: "total number of coordinator status transitions",
		},
		[]string{"to"},
	)

	// contexts in this process that currently believe they own the session
	// anything above 1 across the fleet outside a claim race is a bug
	OwnedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabsession_owned_sessions",
			Help: "number of local contexts currently in the owner state",
		},
	)

	// store failures absorbed by the safe wrapper
	// labels: op (get/set/remove/subscribe)
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsession_store_errors_total",
			Help: "total number of shared store operations that failed",
		},
		[]string{"op"},
	)

	// foreign change notifications handled by coordinators
	NotificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabsession_notifications_total",
			Help: "total number of foreign change notifications handled",
		},
	)

	// raft leader status - 1 if this node is leader, 0 if follower
	// only the leader accepts writes to the replicated store
	RaftIsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabsession_raft_is_leader",
			Help: "whether this node is the raft leader (1 = leader, 0 = follower)",
		},
	)

	// last raft log index applied to the key-value fsm
	RaftAppliedIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabsession_raft_applied_index",
			Help: "last raft log index applied to the fsm",
		},
	)

	// service uptime - always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabsession_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	// set uptime gauge to 1 on startup
	Up.Set(1)
}
