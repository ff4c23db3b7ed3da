// Package kmetrics exposes the library's ambient Prometheus instrumentation
// (frames received, decode errors, checksum mismatches, records written,
// writer degradations, pending-queue depth). Nothing in this package is
// spec'd behaviour; it is the observability surface any production Go
// service in this corpus carries regardless of the domain it serves.
package kmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/kdepth/krakenfeed/internal/klog"
)

const namespace = "krakenfeed"

var (
	// FramesReceived counts inbound websocket text frames, across all
	// channel clients.
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Total websocket frames received.",
	})

	// DecodeErrors counts frames that failed wire decode.
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Total frames that failed to decode.",
	})

	// ChecksumMismatches counts announced-vs-computed CRC32 mismatches.
	ChecksumMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checksum_mismatches_total",
		Help:      "Total book checksum mismatches by symbol.",
	}, []string{"symbol"})

	// RecordsWritten counts records a sink accepted into its buffer; a
	// record is counted before it is flushed to disk.
	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_written_total",
		Help:      "Total records accepted by a sink (buffered for writing) by sink kind.",
	}, []string{"sink"})

	// WriterDegradations counts failed writer calls reported through
	// LogWriterDegraded: the I/O failure itself and every record dropped
	// afterwards while the sink is degraded.
	WriterDegradations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "writer_degradations_total",
		Help:      "Total writer calls that failed with an I/O error or were dropped by a degraded writer.",
	})

	// PendingQueueDepth reports the current size of a client's pending
	// update buffer.
	PendingQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_queue_depth",
		Help:      "Current pending update queue depth by channel.",
	}, []string{"channel"})

	// ConnectionsOpened counts successful websocket handshakes.
	ConnectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_opened_total",
		Help:      "Total websocket connections opened.",
	})

	// ConnectionsClosed counts websocket connection teardowns, clean or not.
	ConnectionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_closed_total",
		Help:      "Total websocket connections closed.",
	})
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// degradationLogLimiter caps writer-degradation log lines at one per second
// with a burst of 5, so a sink stuck retrying a dead disk cannot itself
// flood the log (§5 Backpressure).
var degradationLogLimiter = rate.NewLimiter(rate.Limit(1), 5)

// LogWriterDegraded increments WriterDegradations and logs err, subject to
// degradationLogLimiter so repeated failures on the same sink do not flood
// the log.
func LogWriterDegraded(sink string, err error) {
	WriterDegradations.Inc()
	if degradationLogLimiter.Allow() {
		klog.Errorf(klog.WriterMgr, "%s: %v", sink, err)
	}
}
