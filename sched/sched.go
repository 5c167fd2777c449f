// Package sched implements the cooperative work-queue scheduler shared by
// pipe, chat, and ppp: a single goroutine drains one task at a time, so
// task bodies never run concurrently with each other and never need their
// own locking against the scheduler. This is the same shape as a
// production stream collector's house-keeping loop (ticker + control
// channel + a min-heap of pending deadlines), generalized into a reusable
// primitive instead of being embedded ad hoc in each engine.
package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/go-modem/modemcore/cmn/cos"
	"github.com/go-modem/modemcore/cmn/debug"
	"github.com/go-modem/modemcore/cmn/mono"
	"golang.org/x/sync/errgroup"
)

// Task is a one-shot, idempotent unit of deferred work. Scheduling an
// already-queued task is a no-op; Cancel/CancelSync withdraw a task before
// it runs (or prevent a re-schedule racing with a Release).
type Task struct {
	fn        func()
	sched     *Scheduler
	mu        sync.Mutex
	queued    bool
	cancelled bool
	deadline  int64 // mono.NanoTime() reading; only meaningful while queued in the delayed heap
	index     int   // heap slot, -1 when not in the delayed heap
}

func (t *Task) markQueued() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queued {
		return false
	}
	t.queued = true
	t.cancelled = false
	return true
}

type opKind int

const (
	opNow opKind = iota
	opAfter
	opCancel
)

type op struct {
	kind  opKind
	task  *Task
	delay time.Duration
	done  chan struct{} // non-nil for CancelSync
}

// Scheduler runs Tasks one at a time on a single internal goroutine.
type Scheduler struct {
	opCh    chan op
	stop    cos.StopCh
	pending []*Task // min-heap by deadline
}

// New constructs a Scheduler. Call Run to start its loop.
func New() *Scheduler {
	return &Scheduler{opCh: make(chan op, 256)}
}

// Run drives the scheduler loop inside an errgroup.Group until ctx is done
// (returning ctx's error) or Stop is called (returning nil). A panic in a
// task is not recovered.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx) })
	return g.Wait()
}

// Stop halts the loop; safe to call more than once.
func (s *Scheduler) Stop() { s.stop.Close() }

// NewTask wraps fn as a schedulable unit bound to this scheduler.
func (s *Scheduler) NewTask(fn func()) *Task {
	return &Task{fn: fn, sched: s, index: -1}
}

// ScheduleNow enqueues t to run as soon as the loop is free. No-op if t is
// already queued (pending-now or pending-delayed).
func (s *Scheduler) ScheduleNow(t *Task) {
	if !t.markQueued() {
		return
	}
	s.send(op{kind: opNow, task: t})
}

// ScheduleAfter enqueues t to run after delay elapses. No-op if t is
// already queued.
func (s *Scheduler) ScheduleAfter(t *Task, delay time.Duration) {
	if !t.markQueued() {
		return
	}
	if delay <= 0 {
		s.send(op{kind: opNow, task: t})
		return
	}
	s.send(op{kind: opAfter, task: t, delay: delay})
}

// Cancel withdraws t asynchronously: it will not run the next time it was
// scheduled for, but Cancel does not wait for an in-flight run to finish.
func (s *Scheduler) Cancel(t *Task) {
	t.mu.Lock()
	if t.queued {
		t.cancelled = true
	}
	t.mu.Unlock()
	s.send(op{kind: opCancel, task: t})
}

// CancelSync withdraws t and blocks until the scheduler loop has processed
// the cancellation, so the caller can safely reuse or free t's closure
// state immediately after this returns.
func (s *Scheduler) CancelSync(t *Task) {
	t.mu.Lock()
	if t.queued {
		t.cancelled = true
	}
	t.mu.Unlock()
	done := make(chan struct{})
	s.send(op{kind: opCancel, task: t, done: done})
	select {
	case <-done:
	case <-s.stop.Listen():
	}
}

func (s *Scheduler) send(o op) {
	select {
	case s.opCh <- o:
	case <-s.stop.Listen():
	}
}

func (s *Scheduler) loop(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop.Listen():
			return nil
		case o := <-s.opCh:
			s.handle(o, timer)
		case <-timer.C:
			s.fireDue(timer)
		}
	}
}

func (s *Scheduler) handle(o op, timer *time.Timer) {
	switch o.kind {
	case opNow:
		s.run(o.task)
		s.rearm(timer)
	case opAfter:
		o.task.deadline = mono.NanoTime() + int64(o.delay)
		heap.Push((*taskHeap)(&s.pending), o.task)
		s.rearm(timer)
	case opCancel:
		o.task.mu.Lock()
		if o.task.index >= 0 {
			heap.Remove((*taskHeap)(&s.pending), o.task.index)
		}
		o.task.queued = false
		o.task.cancelled = true
		o.task.mu.Unlock()
		s.rearm(timer)
		if o.done != nil {
			close(o.done)
		}
	}
}

func (s *Scheduler) run(t *Task) {
	t.mu.Lock()
	if t.cancelled {
		t.queued = false
		t.cancelled = false
		t.mu.Unlock()
		return
	}
	t.queued = false
	fn := t.fn
	t.mu.Unlock()
	debug.Assert(fn != nil)
	fn()
}

func (s *Scheduler) fireDue(timer *time.Timer) {
	now := mono.NanoTime()
	for len(s.pending) > 0 && s.pending[0].deadline <= now {
		t := heap.Pop((*taskHeap)(&s.pending)).(*Task)
		s.run(t)
	}
	s.rearm(timer)
}

func (s *Scheduler) rearm(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if len(s.pending) == 0 {
		timer.Reset(time.Hour)
		return
	}
	d := time.Duration(s.pending[0].deadline - mono.NanoTime())
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// taskHeap implements container/heap.Interface over []*Task ordered by
// deadline, ascending.
type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
