// Package metrics wires prometheus/client_golang counters and gauges for
// the pipe, chat, and ppp packages, in the shape of the host codebase's
// stats tracker: a small set of named counters registered once at
// construction, incremented from the hot path without ever touching an
// HTTP server (the embedder mounts promhttp.Handler() itself if it wants
// one — this package only owns the collectors).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder implements pipe's, chat's, and ppp's optional observability
// hooks against a single prometheus registry.
type Recorder struct {
	pipeOpens      prometheus.Counter
	chatScripts    *prometheus.CounterVec
	pppFrames      *prometheus.CounterVec
	pppTxQueueSize prometheus.Gauge
	pppAllocFailed prometheus.Counter
	pppWriteFailed prometheus.Counter
}

// New constructs a Recorder and registers its collectors with reg. Pass
// prometheus.NewRegistry() for an isolated registry (recommended in tests),
// or prometheus.DefaultRegisterer for a process-wide one.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		pipeOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipe_opens_total",
			Help: "Number of times a pipe transitioned CLOSED -> OPEN.",
		}),
		chatScripts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_scripts_total",
			Help: "Number of chat scripts completed, by result.",
		}, []string{"result"}),
		pppFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ppp_frames_total",
			Help: "Number of PPP frames processed, by direction and result.",
		}, []string{"direction", "result"}),
		pppTxQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ppp_tx_queue_depth",
			Help: "Current depth of the PPP TX packet queue.",
		}),
		pppAllocFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ppp_rx_alloc_failed_total",
			Help: "Number of times the receive decoder could not allocate a packet.",
		}),
		pppWriteFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ppp_rx_write_failed_total",
			Help: "Number of times the receive decoder dropped a frame on a full packet buffer.",
		}),
	}
	reg.MustRegister(
		r.pipeOpens, r.chatScripts, r.pppFrames,
		r.pppTxQueueSize, r.pppAllocFailed, r.pppWriteFailed,
	)
	return r
}

// IncPipeOpen satisfies pipe's optional Recorder hook.
func (r *Recorder) IncPipeOpen() { r.pipeOpens.Inc() }

// IncChatScript satisfies chat's optional Recorder hook.
func (r *Recorder) IncChatScript(result string) { r.chatScripts.WithLabelValues(result).Inc() }

// IncRxFrame satisfies ppp.Recorder.
func (r *Recorder) IncRxFrame(result string) { r.pppFrames.WithLabelValues("rx", result).Inc() }

// IncTxFrame satisfies ppp.Recorder.
func (r *Recorder) IncTxFrame(result string) { r.pppFrames.WithLabelValues("tx", result).Inc() }

// SetTxQueueDepth satisfies ppp.Recorder.
func (r *Recorder) SetTxQueueDepth(n int) { r.pppTxQueueSize.Set(float64(n)) }

// IncAllocFailed satisfies ppp.Recorder.
func (r *Recorder) IncAllocFailed() { r.pppAllocFailed.Inc() }

// IncWriteFailed satisfies ppp.Recorder.
func (r *Recorder) IncWriteFailed() { r.pppWriteFailed.Inc() }
