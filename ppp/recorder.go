package ppp

// Recorder receives PPP framer events for optional observability wiring
// (see the metrics package). A nil Recorder is always safe to use; callers
// check for nil before invoking it.
type Recorder interface {
	IncRxFrame(result string)
	IncTxFrame(result string)
	SetTxQueueDepth(n int)
	IncAllocFailed()
	IncWriteFailed()
}
