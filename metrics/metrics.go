package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recorder pool
	poolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_pool_size",
		Help: "Number of recorder slots in the pool",
	})
	poolBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_pool_busy",
		Help: "Number of recorder slots currently assigned to a room",
	})
	assignTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_assign_total",
		Help: "Recorder assignment attempts by outcome",
	}, []string{"outcome"}) // outcome=assigned|exhausted|error
	livenessPingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_liveness_ping_total",
		Help: "Liveness ping ticks by outcome",
	}, []string{"outcome"}) // outcome=ok|conflict|error

	// Sessions
	egressTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egress_operations_total",
		Help: "Egress start/stop operations by outcome",
	}, []string{"op", "outcome"}) // op=start|stop, outcome=success|rejected|failure
	ingressTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingress_operations_total",
		Help: "Ingress endpoint operations by outcome",
	}, []string{"op", "outcome"}) // op=reuse|create|delete

	// Media events
	mediaEventTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_event_transitions_total",
		Help: "Media event state transitions by target state and outcome",
	}, []string{"state", "outcome"})

	// Ingestion
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_jobs_total",
		Help: "Ingestion jobs by stage and outcome",
	}, []string{"stage", "outcome"}) // stage=discover|prepare|attach, outcome=enqueued|completed|failed|retry|abandoned
	tracksUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_tracks_total",
		Help: "Tracks handled during attach by outcome",
	}, []string{"outcome"}) // outcome=uploaded|missing

	// Reconciliation
	reconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_corrections_total",
		Help: "Drift corrections applied by reconciliation loop",
	}, []string{"loop"}) // loop=rooms|egress
	reconcileFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_failures_total",
		Help: "Reconciliation ticks or items that failed",
	}, []string{"loop"})

	// Boundary
	webhookTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by outcome",
	}, []string{"outcome"}) // outcome=accepted|ignored|unauthorized|invalid|error
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "command_bus_total",
		Help: "Command bus messages by type and outcome",
	}, []string{"type", "outcome"})
)

func SetPoolSize(n int)                 { poolSize.Set(float64(n)) }
func SetPoolBusy(n int)                 { poolBusy.Set(float64(n)) }
func RecordAssign(outcome string)       { assignTotal.WithLabelValues(outcome).Inc() }
func RecordLivenessPing(outcome string) { livenessPingTotal.WithLabelValues(outcome).Inc() }

func RecordEgress(op, outcome string)  { egressTotal.WithLabelValues(op, outcome).Inc() }
func RecordIngress(op, outcome string) { ingressTotal.WithLabelValues(op, outcome).Inc() }

func RecordMediaEventTransition(state, outcome string) {
	mediaEventTransitions.WithLabelValues(state, outcome).Inc()
}

func RecordJob(stage, outcome string) { jobsTotal.WithLabelValues(stage, outcome).Inc() }
func RecordTrack(outcome string)      { tracksUploaded.WithLabelValues(outcome).Inc() }

func RecordReconcileCorrection(loop string) { reconcileCorrections.WithLabelValues(loop).Inc() }
func RecordReconcileFailure(loop string)    { reconcileFailures.WithLabelValues(loop).Inc() }

func RecordWebhook(outcome string)          { webhookTotal.WithLabelValues(outcome).Inc() }
func RecordCommand(cmdType, outcome string) { commandsTotal.WithLabelValues(cmdType, outcome).Inc() }
