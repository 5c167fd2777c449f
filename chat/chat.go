// Package chat implements the line-oriented AT command scripting engine: it
// sends requests, matches responses against three pattern tables (RESPONSE,
// ABORT, UNSOLICITED), dispatches to per-match callbacks, and enforces
// per-step and per-script timeouts while at most one script runs at a time.
package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-modem/modemcore/cmn/cos"
	"github.com/go-modem/modemcore/cmn/debug"
	"github.com/go-modem/modemcore/cmn/nlog"
	"github.com/go-modem/modemcore/diag"
	"github.com/go-modem/modemcore/id"
	"github.com/go-modem/modemcore/pipe"
	"github.com/go-modem/modemcore/sched"
	"github.com/pkg/errors"
)

// Config is copied by reference into the Chat handle at New time; the
// caller owns its lifetime.
type Config struct {
	RecvBufSize    int           // R: max bytes in one accumulated line, including args
	WorkBufSize    int           // size of the scratch buffer the process task reads into
	ArgvLimit      int           // max argv entries per matched line
	Delimiter      []byte        // e.g. "\r\n"
	Filter         cos.ByteSet   // bytes silently dropped before parsing, e.g. {0}
	Unsolicited    []MatchRecord // installed permanently; active with or without a running script
	ProcessTimeout time.Duration // delay before draining newly-ready bytes / retrying partial sends
}

func (cfg Config) validate() error {
	if cfg.RecvBufSize <= 0 || cfg.WorkBufSize <= 0 || cfg.ArgvLimit <= 0 {
		return errors.Wrap(cos.ErrInvalidArgument, "chat: config: buffer sizes must be > 0")
	}
	if len(cfg.Delimiter) == 0 {
		return errors.Wrap(cos.ErrInvalidArgument, "chat: config: delimiter must be non-empty")
	}
	return nil
}

// Recorder receives chat script completion events for optional
// observability wiring (see the metrics package). A nil Recorder is always
// safe to use.
type Recorder interface {
	IncChatScript(result string)
}

// Chat is the AT command scripting handle. Construct with New; the zero
// value is not usable.
type Chat struct {
	cfg   Config
	pipe  *pipe.Pipe
	sched *sched.Scheduler
	rec   Recorder

	mu sync.Mutex

	// parser state (see parser.go) - touched only from the scheduler
	// goroutine (process task runs on it), so it needs no lock of its own.
	recvBuf        []byte
	workBuf        []byte
	delimSet       cos.ByteSet
	argv           []string
	matchedRecord  *MatchRecord
	matchedKind    Kind
	argStart       int
	matches        [numKinds][]MatchRecord

	// script execution state - also scheduler-goroutine-only, except
	// `running` which guards concurrent ScriptRun callers.
	running       atomic.Bool
	pendingScript *Script
	script        *Script
	corrID        string
	stepIndex     int
	sendReqPos    int
	sendDelimPos  int

	taskProcess          *sched.Task
	taskScriptRun        *sched.Task
	taskScriptAbort      *sched.Task
	taskScriptTimeout    *sched.Task
	taskScriptSend       *sched.Task
	taskScriptSendTimeout *sched.Task
}

// New validates cfg, installs the permanent UNSOLICITED matches, and
// registers the handle's work items with scheduler.
func New(cfg Config, scheduler *sched.Scheduler) (*Chat, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	debug.Assert(scheduler != nil)

	c := &Chat{
		cfg:     cfg,
		sched:   scheduler,
		recvBuf: make([]byte, 0, cfg.RecvBufSize),
		workBuf: make([]byte, cfg.WorkBufSize),
		argv:    make([]string, 0, cfg.ArgvLimit),
	}
	for _, b := range cfg.Delimiter {
		c.delimSet[b] = true
	}
	c.matches[KindUnsolicited] = cfg.Unsolicited

	c.taskProcess = scheduler.NewTask(c.doProcess)
	c.taskScriptRun = scheduler.NewTask(c.doScriptRun)
	c.taskScriptAbort = scheduler.NewTask(c.doScriptAbort)
	c.taskScriptTimeout = scheduler.NewTask(c.doScriptTimeout)
	c.taskScriptSend = scheduler.NewTask(c.doScriptSend)
	c.taskScriptSendTimeout = scheduler.NewTask(c.doScriptSendTimeout)
	return c, nil
}

// Attach binds p, resets the parser, and installs the chat engine's
// pipe-event callback.
func (c *Chat) Attach(p *pipe.Pipe) {
	c.mu.Lock()
	c.pipe = p
	c.mu.Unlock()
	c.resetParser()
	p.Attach(c.onPipeEvent)
}

// Release detaches from the pipe and synchronously cancels every pending
// work item; the handle may be Attach-ed again afterward.
func (c *Chat) Release() {
	for _, t := range []*sched.Task{
		c.taskProcess, c.taskScriptRun, c.taskScriptAbort,
		c.taskScriptTimeout, c.taskScriptSend, c.taskScriptSendTimeout,
	} {
		c.sched.CancelSync(t)
	}

	c.mu.Lock()
	p := c.pipe
	c.pipe = nil
	c.mu.Unlock()
	if p != nil {
		p.Release()
	}

	c.resetParser()
	c.script = nil
	c.pendingScript = nil
	c.running.Store(false)
}

// SetRecorder installs an optional metrics recorder. Pass nil to detach it.
func (c *Chat) SetRecorder(rec Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = rec
}

func (c *Chat) boundPipe() *pipe.Pipe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipe
}

// Snapshot renders the chat engine's current state for the diag package.
// Safe to call from any goroutine; script/step fields reflect a best-effort
// read since they are normally touched only from the scheduler goroutine.
func (c *Chat) Snapshot() diag.ChatSnapshot {
	s := diag.ChatSnapshot{Running: c.running.Load()}
	if c.script != nil {
		s.ScriptName = c.script.Name
		s.StepIndex = c.stepIndex
		s.CorrID = c.corrID
	}
	return s
}

func (c *Chat) onPipeEvent(ev pipe.Event) {
	if ev == pipe.EventReceiveReady {
		c.sched.ScheduleAfter(c.taskProcess, c.cfg.ProcessTimeout)
	}
}

func (c *Chat) doProcess() {
	p := c.boundPipe()
	if p == nil {
		return
	}
	n, err := p.Receive(c.workBuf)
	if err != nil || n <= 0 {
		return
	}
	for _, b := range c.workBuf[:n] {
		c.processByte(b)
	}
	c.sched.ScheduleNow(c.taskProcess)
}

// ScriptRun validates script and, if no script is currently running,
// enqueues it to start on the scheduler goroutine. Returns ErrBusy if a
// script is already running.
func (c *Chat) ScriptRun(script *Script) error {
	if err := validateScript(script); err != nil {
		return err
	}
	if c.boundPipe() == nil {
		return errors.Wrap(cos.ErrPermissionDenied, "chat: script_run: not attached")
	}
	if !c.running.CompareAndSwap(false, true) {
		return cos.ErrBusy
	}
	c.mu.Lock()
	c.pendingScript = script
	c.mu.Unlock()
	c.sched.ScheduleNow(c.taskScriptRun)
	return nil
}

// ScriptAbort asynchronously stops the running script, if any, with
// ResultAbort. No-op if no script is running.
func (c *Chat) ScriptAbort() {
	c.sched.ScheduleNow(c.taskScriptAbort)
}

func validateScript(s *Script) error {
	if s == nil || len(s.Steps) == 0 {
		return errors.Wrap(cos.ErrInvalidArgument, "chat: script: must have at least one step")
	}
	for i, step := range s.Steps {
		if len(step.Request) == 0 && len(step.Responses) == 0 {
			return errors.Wrapf(cos.ErrInvalidArgument,
				"chat: script: step %d has neither a request nor response matches", i)
		}
	}
	return nil
}

func (c *Chat) doScriptRun() {
	c.mu.Lock()
	script := c.pendingScript
	c.pendingScript = nil
	c.mu.Unlock()
	debug.Assert(script != nil)
	c.scriptStart(script)
}

func (c *Chat) doScriptAbort() {
	if c.script != nil {
		c.stopScript(ResultAbort)
	}
}

func (c *Chat) scriptStart(script *Script) {
	c.script = script
	c.corrID = id.New()
	nlog.Infof("chat: %s: starting script %q", c.corrID, script.Name)
	c.matches[KindAbort] = script.AbortMatches
	c.scriptNext(true)
	if c.script != nil && script.Timeout > 0 {
		c.sched.ScheduleAfter(c.taskScriptTimeout, script.Timeout)
	}
}

func (c *Chat) scriptNext(initial bool) {
	if initial {
		c.stepIndex = 0
	} else {
		c.stepIndex++
	}
	if c.script == nil {
		return
	}
	if c.stepIndex >= len(c.script.Steps) {
		c.stopScript(ResultSuccess)
		return
	}
	step := c.script.Steps[c.stepIndex]
	c.matches[KindResponse] = step.Responses
	c.sendReqPos, c.sendDelimPos = 0, 0

	switch {
	case len(step.Request) > 0:
		c.sched.ScheduleNow(c.taskScriptSend)
	case len(step.Responses) == 0:
		c.advanceAfterStep(step)
	}
}

// advanceAfterStep runs once a step's request (if any) is fully sent and
// the step has no response matches to wait for: advance immediately, or
// after the step's own timeout.
func (c *Chat) advanceAfterStep(step Step) {
	if step.Timeout <= 0 {
		c.scriptNext(false)
		return
	}
	c.sched.ScheduleAfter(c.taskScriptSendTimeout, step.Timeout)
}

func (c *Chat) doScriptSendTimeout() {
	if c.script != nil {
		c.scriptNext(false)
	}
}

func (c *Chat) doScriptSend() {
	if c.script == nil {
		return
	}
	p := c.boundPipe()
	if p == nil {
		return
	}
	step := c.script.Steps[c.stepIndex]

	if c.sendReqPos < len(step.Request) {
		n, err := p.Transmit(step.Request[c.sendReqPos:])
		if err != nil {
			nlog.Warningf("chat: %s: send request: %v", c.script.Name, err)
		}
		c.sendReqPos += n
	}
	if c.sendReqPos < len(step.Request) {
		c.sched.ScheduleAfter(c.taskScriptSend, c.cfg.ProcessTimeout)
		return
	}

	if c.sendDelimPos < len(c.cfg.Delimiter) {
		n, err := p.Transmit(c.cfg.Delimiter[c.sendDelimPos:])
		if err != nil {
			nlog.Warningf("chat: %s: send delimiter: %v", c.script.Name, err)
		}
		c.sendDelimPos += n
	}
	if c.sendDelimPos < len(c.cfg.Delimiter) {
		c.sched.ScheduleAfter(c.taskScriptSend, c.cfg.ProcessTimeout)
		return
	}

	if len(step.Responses) == 0 {
		c.advanceAfterStep(step)
	}
}

func (c *Chat) doScriptTimeout() {
	if c.script != nil {
		c.stopScript(ResultTimeout)
	}
}

// stopScript clears all running state — including the running flag,
// before invoking the completion callback — then drops the script
// reference. Invoked at most once per ScriptRun.
func (c *Chat) stopScript(result Result) {
	if c.script == nil {
		return
	}
	script := c.script
	c.corrID = ""
	c.matches[KindResponse] = nil
	c.matches[KindAbort] = nil
	c.sched.Cancel(c.taskScriptTimeout)
	c.running.Store(false)
	if c.rec != nil {
		c.rec.IncChatScript(result.String())
	}
	if script.OnDone != nil {
		script.OnDone(result)
	}
	c.script = nil
}
