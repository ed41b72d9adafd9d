package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	streamsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nalrelay_streams_active",
		Help: "Number of active ingest sessions",
	}, []string{"transport"})

	bytesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_bytes_received_total",
		Help: "Total Annex-B bytes received",
	}, []string{"transport"})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nalrelay_session_duration_seconds",
		Help:    "Ingest session duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~16k seconds
	}, []string{"transport"})

	connectionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_connections_rejected_total",
		Help: "Connections refused by the accept loop",
	}, []string{"transport", "reason"})

	// Parser metrics
	unitsParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_units_parsed_total",
		Help: "NAL units extracted from the byte stream",
	}, []string{"kind"})

	malformedUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_malformed_units_total",
		Help: "Units discarded for exceeding the size limit",
	}, []string{"transport"})

	bytesDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nalrelay_bytes_discarded_total",
		Help: "Bytes dropped with malformed units",
	})

	// Assembler metrics
	accessUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_access_units_total",
		Help: "Access units delivered to sinks",
	}, []string{"keyframe"})

	vclDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nalrelay_vcl_dropped_total",
		Help: "Slices dropped while no format description was available",
	})

	descriptionBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_description_builds_total",
		Help: "Format description builds by result",
	}, []string{"result"})

	parameterResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nalrelay_parameter_resets_total",
		Help: "Parameter sets received while ready that restarted the pair",
	})

	// Sink and sender metrics
	sinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_sink_errors_total",
		Help: "Access units a sink failed to accept",
	}, []string{"sink"})

	unitsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_units_sent_total",
		Help: "NAL units written by the sender",
	}, []string{"kind"})

	bytesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nalrelay_bytes_sent_total",
		Help: "Annex-B bytes written by the sender",
	}, []string{"transport"})
)

// Description build results.
const (
	BuildOK     = "ok"
	BuildFailed = "failed"
)

// IncActiveStreams marks a session as started.
func IncActiveStreams(transport string) {
	streamsActive.WithLabelValues(transport).Inc()
}

// DecActiveStreams marks a session as finished.
func DecActiveStreams(transport string) {
	streamsActive.WithLabelValues(transport).Dec()
}

// AddBytesReceived counts bytes read from a connection.
func AddBytesReceived(transport string, n int) {
	bytesReceivedTotal.WithLabelValues(transport).Add(float64(n))
}

// RecordSessionDuration records the lifetime of a session
func RecordSessionDuration(transport string, seconds float64) {
	sessionDuration.WithLabelValues(transport).Observe(seconds)
}

// IncConnectionsRejected counts a refused connection.
func IncConnectionsRejected(transport, reason string) {
	connectionsRejectedTotal.WithLabelValues(transport, reason).Inc()
}

// IncUnitsParsed counts a unit of the given kind.
func IncUnitsParsed(kind string) {
	unitsParsedTotal.WithLabelValues(kind).Inc()
}

// RecordMalformedUnit counts a discarded unit and its bytes.
func RecordMalformedUnit(transport string, discarded int) {
	malformedUnitsTotal.WithLabelValues(transport).Inc()
	bytesDiscardedTotal.Add(float64(discarded))
}

// IncAccessUnits counts an access unit.
func IncAccessUnits(keyframe bool) {
	label := "false"
	if keyframe {
		label = "true"
	}
	accessUnitsTotal.WithLabelValues(label).Inc()
}

// AddVCLDropped counts slices dropped by the assembler.
func AddVCLDropped(n int64) {
	if n > 0 {
		vclDroppedTotal.Add(float64(n))
	}
}

// AddDescriptionBuilds counts description builds with the given result.
func AddDescriptionBuilds(result string, n int64) {
	if n > 0 {
		descriptionBuildsTotal.WithLabelValues(result).Add(float64(n))
	}
}

// AddParameterResets counts parameter-set restarts.
func AddParameterResets(n int64) {
	if n > 0 {
		parameterResetsTotal.Add(float64(n))
	}
}

// IncSinkErrors counts a sink write failure.
func IncSinkErrors(sink string) {
	sinkErrorsTotal.WithLabelValues(sink).Inc()
}

// RecordUnitSent counts a unit written by the sender.
func RecordUnitSent(transport, kind string, bytes int) {
	unitsSentTotal.WithLabelValues(kind).Inc()
	bytesSentTotal.WithLabelValues(transport).Add(float64(bytes))
}
