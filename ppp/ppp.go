// Package ppp implements RFC 1662 HDLC async framing: byte stuffing,
// CRC-16-CCITT FCS computation, and the conversion between wire bytes on a
// pipe and netpkt.Packet objects handed to (or pulled from) a network-stack
// collaborator. PPP negotiation (LCP/IPCP/PAP/CHAP) is out of scope; this
// layer only moves framed bytes.
package ppp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-modem/modemcore/cmn/cos"
	"github.com/go-modem/modemcore/cmn/debug"
	"github.com/go-modem/modemcore/cmn/nlog"
	"github.com/go-modem/modemcore/diag"
	"github.com/go-modem/modemcore/id"
	"github.com/go-modem/modemcore/netpkt"
	"github.com/go-modem/modemcore/pipe"
	"github.com/go-modem/modemcore/sched"
	"github.com/pkg/errors"
)

// Config controls buffer sizing; all four default to sane embedded-scale
// values if left zero (see New).
type Config struct {
	BufSize    int           // read buffer size for the process work item
	RingSize   int           // encoded-byte ring buffer capacity
	QueueDepth int           // bounded TX packet queue capacity
	RetryDelay time.Duration // delay before retrying a stalled pipe transmit
}

const (
	defaultBufSize    = 256
	defaultRingSize   = 512
	defaultQueueDepth = 8
	defaultRetryDelay = 5 * time.Millisecond
)

func (cfg *Config) setDefaults() {
	if cfg.BufSize <= 0 {
		cfg.BufSize = defaultBufSize
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = defaultRingSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
}

// Framer is the PPP handle: one receive decoder, one transmit encoder, a
// bounded TX packet queue, and a ring buffer of already-encoded bytes
// sitting between the encoder and the pipe.
type Framer struct {
	cfg   Config
	iface netpkt.Interface
	sched *sched.Scheduler
	rec   Recorder

	mu   sync.Mutex
	pipe *pipe.Pipe

	attached atomic.Bool

	rx      *rxDecoder
	tx      *txEncoder
	txQueue *pktQueue
	ring    *byteRing
	readBuf []byte

	taskProcess *sched.Task
	taskSend    *sched.Task
}

// New builds a Framer. iface models the network stack: Alloc supplies fresh
// packets for the receive decoder, Input receives finished ones.
func New(cfg Config, scheduler *sched.Scheduler, iface netpkt.Interface, rec Recorder) (*Framer, error) {
	if scheduler == nil || iface == nil {
		return nil, errors.Wrap(cos.ErrInvalidArgument, "ppp: scheduler and iface are required")
	}
	cfg.setDefaults()

	f := &Framer{
		cfg:     cfg,
		iface:   iface,
		sched:   scheduler,
		rec:     rec,
		rx:      newRxDecoder(iface, rec),
		tx:      newTxEncoder(),
		txQueue: newPktQueue(cfg.QueueDepth),
		ring:    newByteRing(cfg.RingSize),
		readBuf: make([]byte, cfg.BufSize),
	}
	f.taskProcess = scheduler.NewTask(f.doProcess)
	f.taskSend = scheduler.NewTask(f.doSend)
	return f, nil
}

// Attach binds p and installs the framer's pipe-event callback. Idempotent:
// a second call while already attached is a no-op.
func (f *Framer) Attach(p *pipe.Pipe) {
	if !f.attached.CompareAndSwap(false, true) {
		return
	}
	f.mu.Lock()
	f.pipe = p
	f.mu.Unlock()
	p.Attach(f.onPipeEvent)
}

// Release cancels outstanding work synchronously, detaches the pipe, drops
// any in-flight RX/TX packet, and drains (unreffing) the TX queue. The
// handle may be Attach-ed again afterward.
func (f *Framer) Release() {
	f.sched.CancelSync(f.taskSend)
	f.sched.CancelSync(f.taskProcess)

	f.mu.Lock()
	p := f.pipe
	f.pipe = nil
	f.mu.Unlock()
	if p != nil {
		p.Release()
	}

	f.rx.reset()

	if f.tx.pkt != nil {
		f.tx.finish().Unref()
	}
	f.tx.state = txIdle

	for _, pkt := range f.txQueue.drain() {
		pkt.Unref()
	}
	f.ring.reset()
	f.attached.Store(false)
}

func (f *Framer) boundPipe() *pipe.Pipe {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipe
}

func (f *Framer) onPipeEvent(ev pipe.Event) {
	if ev == pipe.EventReceiveReady {
		f.sched.ScheduleNow(f.taskProcess)
	}
}

func (f *Framer) doProcess() {
	p := f.boundPipe()
	if p == nil {
		return
	}
	n, err := p.Receive(f.readBuf)
	if err != nil || n <= 0 {
		return
	}
	for _, b := range f.readBuf[:n] {
		f.rx.feed(b)
	}
	f.sched.ScheduleNow(f.taskProcess)
}

// Send validates pkt, refs it, and enqueues it for transmission. Fails with
// ErrProtocolNotSupported for an unframed packet of unknown family,
// ErrNoData for a too-short packet, ErrPermissionDenied if not attached, and
// ErrNoMemory if the TX queue is full.
func (f *Framer) Send(pkt netpkt.Packet) error {
	debug.Assert(pkt != nil)

	if pkt.PPP() {
		if pkt.Len() < 2 {
			return errors.Wrap(cos.ErrNoData, "ppp: send: ppp-framed packet too short")
		}
	} else {
		if pkt.Family() != netpkt.AFInet && pkt.Family() != netpkt.AFInet6 {
			return errors.Wrap(cos.ErrProtocolNotSupported, "ppp: send: unsupported family")
		}
		if pkt.Len() < 1 {
			return errors.Wrap(cos.ErrNoData, "ppp: send: empty packet")
		}
	}
	if !f.attached.Load() {
		return errors.Wrap(cos.ErrPermissionDenied, "ppp: send: not attached")
	}

	pkt.Ref()
	if !f.txQueue.push(pkt) {
		pkt.Unref()
		return errors.Wrap(cos.ErrNoMemory, "ppp: send: tx queue full")
	}
	nlog.Infof("ppp: %s: enqueued %d-byte packet (family=%d ppp=%v)",
		id.New(), pkt.Len(), pkt.Family(), pkt.PPP())
	if f.rec != nil {
		f.rec.SetTxQueueDepth(f.txQueue.len())
	}
	f.sched.ScheduleNow(f.taskSend)
	return nil
}

// Snapshot renders the framer's current state for the diag package.
func (f *Framer) Snapshot() diag.PPPSnapshot {
	return diag.PPPSnapshot{
		Attached:     f.attached.Load(),
		TxQueueDepth: f.txQueue.len(),
		TxInFlight:   f.tx.pkt != nil,
		RxInFlight:   f.rx.pkt != nil,
	}
}

// doSend pulls queued packets through the encoder into the ring buffer,
// then drains the ring buffer through the pipe.
func (f *Framer) doSend() {
	p := f.boundPipe()
	if p == nil {
		return
	}

	for f.ring.free() > 0 {
		if f.tx.pkt == nil {
			pkt, ok := f.txQueue.pop()
			if !ok {
				break
			}
			f.tx.start(pkt)
			if f.rec != nil {
				f.rec.SetTxQueueDepth(f.txQueue.len())
			}
		}
		b, emitted, done := f.tx.step()
		if emitted {
			f.ring.push(b)
		}
		if done {
			f.tx.finish().Unref()
			if f.rec != nil {
				f.rec.IncTxFrame("ok")
			}
		}
	}

	stalled := false
	if claim := f.ring.claim(); len(claim) > 0 {
		n, err := p.Transmit(claim)
		if err != nil {
			nlog.Warningf("ppp: transmit: %v", err)
		}
		f.ring.advance(n)
		stalled = n == 0
	}

	if f.ring.size > 0 || f.tx.pkt != nil || f.txQueue.len() > 0 {
		if stalled {
			f.sched.ScheduleAfter(f.taskSend, f.cfg.RetryDelay)
		} else {
			f.sched.ScheduleNow(f.taskSend)
		}
	}
}
