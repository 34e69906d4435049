package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "friday_runs_total",
		Help: "Total runs by outcome",
	}, []string{"outcome"})

	nodeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "friday_node_attempts_total",
		Help: "Total node attempts by node type and result",
	}, []string{"type", "result"})

	repairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "friday_repairs_total",
		Help: "Total repairs by kind",
	}, []string{"kind"})

	skillHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "friday_skill_cache_hits_total",
		Help: "Total nodes whose code came from the skill cache",
	})

	nodesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "friday_nodes_in_flight",
		Help: "Nodes currently dispatched",
	})

	nodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "friday_node_duration_seconds",
		Help:    "Wall time of one node attempt, including judging",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"type"})
)

var tracer = otel.Tracer("friday.orchestrator")
