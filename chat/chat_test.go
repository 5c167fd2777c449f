package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-modem/modemcore/chat"
	"github.com/go-modem/modemcore/cmn/cos"
	"github.com/go-modem/modemcore/pipe"
	"github.com/go-modem/modemcore/sched"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestChat(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "chat suite")
}

// loopTransport is an in-memory Transport: feed() pushes bytes that Receive
// will hand back, and Transmit records whatever was sent.
type loopTransport struct {
	mu   sync.Mutex
	p    *pipe.Pipe
	rx   [][]byte
	tx   []byte
}

func (l *loopTransport) bind(p *pipe.Pipe) { l.p = p }
func (l *loopTransport) Open() error       { return nil }
func (l *loopTransport) Close() error      { return nil }

func (l *loopTransport) Transmit(buf []byte) (int, error) {
	l.mu.Lock()
	l.tx = append(l.tx, buf...)
	l.mu.Unlock()
	return len(buf), nil
}

func (l *loopTransport) Receive(buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rx) == 0 {
		return 0, nil
	}
	chunk := l.rx[0]
	l.rx = l.rx[1:]
	n := copy(buf, chunk)
	return n, nil
}

// feed pushes bytes into the transport's receive queue and nudges the pipe
// so the chat engine drains them.
func (l *loopTransport) feed(b []byte) {
	l.mu.Lock()
	l.rx = append(l.rx, b)
	l.mu.Unlock()
	l.p.NotifyReceiveReady()
}

func newHarness() (*chat.Chat, *loopTransport, *sched.Scheduler) {
	s := sched.New()
	go s.Run(context.Background())

	lt := &loopTransport{}
	p := pipe.New(lt)
	lt.bind(p)
	p.NotifyOpened()

	c, err := chat.New(chat.Config{
		RecvBufSize:    256,
		WorkBufSize:    64,
		ArgvLimit:      8,
		Delimiter:      []byte("\r\n"),
		Filter:         cos.NewByteSet(0),
		ProcessTimeout: time.Millisecond,
	}, s)
	Expect(err).NotTo(HaveOccurred())
	c.Attach(p)
	return c, lt, s
}

var _ = Describe("Chat", func() {
	It("completes a script with SUCCESS on a matching response (scenario 1)", func() {
		c, lt, s := newHarness()
		defer s.Stop()
		defer c.Release()

		done := make(chan chat.Result, 1)
		script := &chat.Script{
			Name:    "init",
			Timeout: time.Second,
			Steps: []chat.Step{
				{
					Request: []byte("AT"),
					Responses: []chat.MatchRecord{
						{Literal: []byte("OK")},
					},
				},
			},
			OnDone: func(r chat.Result) { done <- r },
		}

		Expect(c.ScriptRun(script)).To(Succeed())

		Eventually(func() []byte {
			lt.mu.Lock()
			defer lt.mu.Unlock()
			return append([]byte(nil), lt.tx...)
		}).Should(Equal([]byte("AT\r\n")))

		lt.feed([]byte("OK\r\n"))

		var result chat.Result
		Eventually(done).Should(Receive(&result))
		Expect(result).To(Equal(chat.ResultSuccess))
	})

	It("times out a script that never gets its response (scenario 2)", func() {
		c, _, s := newHarness()
		defer s.Stop()
		defer c.Release()

		done := make(chan chat.Result, 1)
		script := &chat.Script{
			Name:    "init",
			Timeout: 50 * time.Millisecond,
			Steps: []chat.Step{
				{Request: []byte("AT"), Responses: []chat.MatchRecord{{Literal: []byte("OK")}}},
			},
			OnDone: func(r chat.Result) { done <- r },
		}

		Expect(c.ScriptRun(script)).To(Succeed())

		var result chat.Result
		Eventually(done, time.Second).Should(Receive(&result))
		Expect(result).To(Equal(chat.ResultTimeout))
	})

	It("dispatches an unsolicited match with no script running (scenario 3)", func() {
		s := sched.New()
		go s.Run(context.Background())
		defer s.Stop()

		lt := &loopTransport{}
		p := pipe.New(lt)
		lt.bind(p)
		p.NotifyOpened()

		var argv []string
		var mu sync.Mutex

		c3, err := chat.New(chat.Config{
			RecvBufSize: 256, WorkBufSize: 64, ArgvLimit: 8,
			Delimiter: []byte("\r\n"), Filter: cos.NewByteSet(0),
			ProcessTimeout: time.Millisecond,
			Unsolicited: []chat.MatchRecord{
				{
					Literal:    []byte("+CREG: "),
					Separators: cos.NewByteSet(','),
					Callback: func(a []string) {
						mu.Lock()
						argv = append([]string(nil), a...)
						mu.Unlock()
					},
				},
			},
		}, s)
		Expect(err).NotTo(HaveOccurred())
		c3.Attach(p)
		defer c3.Release()

		lt.feed([]byte("+CREG: 1,5\r\n"))

		Eventually(func() []string {
			mu.Lock()
			defer mu.Unlock()
			return argv
		}).Should(Equal([]string{"+CREG: ", "1", "5"}))
	})

	It("aborts a running script on an abort match (scenario 4)", func() {
		c, lt, s := newHarness()
		defer s.Stop()
		defer c.Release()

		done := make(chan chat.Result, 1)
		script := &chat.Script{
			Name:    "init",
			Timeout: time.Second,
			AbortMatches: []chat.MatchRecord{
				{Literal: []byte("ERROR")},
			},
			Steps: []chat.Step{
				{Request: []byte("AT"), Responses: []chat.MatchRecord{{Literal: []byte("OK")}}},
			},
			OnDone: func(r chat.Result) { done <- r },
		}

		Expect(c.ScriptRun(script)).To(Succeed())
		lt.feed([]byte("ERROR\r\n"))

		var result chat.Result
		Eventually(done).Should(Receive(&result))
		Expect(result).To(Equal(chat.ResultAbort))
	})

	It("rejects a second ScriptRun while one is in flight", func() {
		c, _, s := newHarness()
		defer s.Stop()
		defer c.Release()

		script := &chat.Script{
			Name:    "init",
			Timeout: time.Second,
			Steps:   []chat.Step{{Request: []byte("AT"), Responses: []chat.MatchRecord{{Literal: []byte("OK")}}}},
			OnDone:  func(chat.Result) {},
		}
		Expect(c.ScriptRun(script)).To(Succeed())
		Expect(c.ScriptRun(script)).To(MatchError(cos.ErrBusy))
	})

	It("never fires the catch-all for an empty line", func() {
		s := sched.New()
		go s.Run(context.Background())
		defer s.Stop()

		lt := &loopTransport{}
		p := pipe.New(lt)
		lt.bind(p)
		p.NotifyOpened()

		fired := 0
		var mu sync.Mutex
		c3, err := chat.New(chat.Config{
			RecvBufSize: 64, WorkBufSize: 32, ArgvLimit: 4,
			Delimiter: []byte("\r\n"), Filter: cos.NewByteSet(0),
			ProcessTimeout: time.Millisecond,
			Unsolicited: []chat.MatchRecord{
				{Callback: func([]string) { mu.Lock(); fired++; mu.Unlock() }},
			},
		}, s)
		Expect(err).NotTo(HaveOccurred())
		c3.Attach(p)
		defer c3.Release()

		lt.feed([]byte("\r\n"))
		lt.feed([]byte("hello\r\n"))

		Eventually(func() int { mu.Lock(); defer mu.Unlock(); return fired }).Should(Equal(1))
	})
})
