// Package pipe implements the duplex byte channel abstraction every layer
// above (chat, ppp) is built on: an open/close state machine driven by a
// caller-supplied Transport, and a single event callback that fires
// OPENED/RECEIVE_READY/CLOSED notifications.
//
// All operations and all three Notify* functions serialize on the pipe's
// mutex. The event callback runs while that mutex is held, so a callback
// must never call back into the same Pipe synchronously — it schedules
// work instead (see package sched).
package pipe

import (
	"context"
	"sync"
	"time"

	"github.com/go-modem/modemcore/cmn/cos"
	"github.com/go-modem/modemcore/cmn/debug"
	"github.com/go-modem/modemcore/diag"
	"github.com/pkg/errors"
)

// Event is posted to the attached callback.
type Event int

const (
	EventOpened Event = iota
	EventReceiveReady
	EventClosed
)

func (e Event) String() string {
	switch e {
	case EventOpened:
		return "OPENED"
	case EventReceiveReady:
		return "RECEIVE_READY"
	case EventClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// State is the pipe's open/closed lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
)

// Transport is implemented by whatever moves bytes in and out of the wire
// (e.g. a UART driver). Transport implementations are out of scope for
// this module; they must call NotifyOpened/NotifyClosed/NotifyReceiveReady
// on the Pipe they're bound to in order to drive state and wake consumers.
type Transport interface {
	Open() error
	Transmit(buf []byte) (int, error)
	Receive(buf []byte) (int, error)
	Close() error
}

// Callback receives pipe lifecycle/readiness events.
type Callback func(ev Event)

// OpenWait bounds how long Open/Close block waiting for the transport to
// complete, per the external-interfaces contract.
const OpenWait = 10 * time.Second

// Recorder receives pipe lifecycle events for optional observability wiring
// (see the metrics package). A nil Recorder is always safe to use.
type Recorder interface {
	IncPipeOpen()
}

// Pipe is a duplex byte channel with explicit open/close state and one
// event callback. The zero value is not usable; construct with New.
type Pipe struct {
	transport Transport

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	cb    Callback
	rec   Recorder
}

// New binds a Transport. The pipe starts CLOSED with no callback attached.
func New(transport Transport) *Pipe {
	debug.Assert(transport != nil)
	p := &Pipe{transport: transport, state: StateClosed}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetRecorder installs an optional metrics recorder. Pass nil to detach it.
func (p *Pipe) SetRecorder(rec Recorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rec = rec
}

// Attach installs the event callback, replacing any previous one.
func (p *Pipe) Attach(cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

// Release clears the callback. The underlying transport is left open.
func (p *Pipe) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = nil
}

// State returns the current open/closed state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot renders the pipe's current state for the diag package.
func (p *Pipe) Snapshot() diag.PipeSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := "CLOSED"
	if p.state == StateOpen {
		name = "OPEN"
	}
	return diag.PipeSnapshot{State: name}
}

// OpenAsync invokes the transport's Open without waiting for completion.
func (p *Pipe) OpenAsync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateOpen {
		return nil
	}
	return errors.Wrap(p.transport.Open(), "pipe: open")
}

// Open invokes the transport's Open and blocks (up to OpenWait, or ctx's
// deadline if sooner) for NotifyOpened to land. Returns immediately if
// already OPEN.
func (p *Pipe) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateOpen {
		return nil
	}
	if err := p.transport.Open(); err != nil {
		return errors.Wrap(err, "pipe: open")
	}
	return p.waitLocked(ctx, StateOpen)
}

// CloseAsync invokes the transport's Close without waiting for completion.
func (p *Pipe) CloseAsync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return nil
	}
	return errors.Wrap(p.transport.Close(), "pipe: close")
}

// Close invokes the transport's Close and blocks (up to OpenWait) for
// NotifyClosed to land. Returns immediately if already CLOSED.
func (p *Pipe) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return nil
	}
	if err := p.transport.Close(); err != nil {
		return errors.Wrap(err, "pipe: close")
	}
	return p.waitLocked(ctx, StateClosed)
}

// waitLocked blocks on the condition variable until state reaches want, the
// deadline passes, or ctx is done. Called with p.mu held; the lock is
// released by the wait and always re-acquired before returning, so a
// single deferred Unlock in the caller is correct (no redundant unlock).
//
// The timer callback takes p.mu before signaling done/Broadcast: it can only
// run while the waiter either hasn't reached cond.Wait yet (in which case the
// next loop iteration sees done closed) or is already inside cond.Wait (which
// releases p.mu, so the timer's Broadcast reaches it there) — never in the
// gap between the done-check and the Wait call, which would otherwise lose
// the wakeup.
func (p *Pipe) waitLocked(ctx context.Context, want State) error {
	deadline := time.Now().Add(OpenWait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	done := make(chan struct{})
	timer := time.AfterFunc(time.Until(deadline), func() {
		p.mu.Lock()
		close(done)
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	for p.state != want {
		select {
		case <-done:
			return cos.ErrRetry
		default:
		}
		p.cond.Wait()
	}
	return nil
}

// Transmit returns the count of bytes the transport accepted, which may be
// less than len(buf) or zero. Fails with ErrPermissionDenied while CLOSED.
func (p *Pipe) Transmit(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateOpen {
		return 0, cos.ErrPermissionDenied
	}
	n, err := p.transport.Transmit(buf)
	if err != nil {
		return n, errors.Wrap(err, "pipe: transmit")
	}
	return n, nil
}

// Receive returns the count of bytes read, which may be zero; zero is not
// an error, it means "nothing available, try again later". Fails with
// ErrPermissionDenied while CLOSED.
func (p *Pipe) Receive(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateOpen {
		return 0, cos.ErrPermissionDenied
	}
	n, err := p.transport.Receive(buf)
	if err != nil {
		return n, errors.Wrap(err, "pipe: receive")
	}
	return n, nil
}

// NotifyOpened is called by the Transport once its Open completes. It
// transitions the pipe to OPEN, wakes any blocked Open caller, and invokes
// the callback (if any) with EventOpened, all under the pipe's mutex.
func (p *Pipe) NotifyOpened() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateOpen
	p.cond.Broadcast()
	if p.rec != nil {
		p.rec.IncPipeOpen()
	}
	if p.cb != nil {
		p.cb(EventOpened)
	}
}

// NotifyClosed is called by the Transport once its Close completes (or to
// report a permanent fault). It transitions the pipe to CLOSED, wakes any
// blocked Close caller, and invokes the callback with EventClosed.
func (p *Pipe) NotifyClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateClosed
	p.cond.Broadcast()
	if p.cb != nil {
		p.cb(EventClosed)
	}
}

// NotifyReceiveReady is called by the Transport when bytes are available
// to Receive. It does not touch state; it only invokes the callback.
func (p *Pipe) NotifyReceiveReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cb != nil {
		p.cb(EventReceiveReady)
	}
}
