package ppp_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-modem/modemcore/cmn/cos"
	"github.com/go-modem/modemcore/netpkt"
	"github.com/go-modem/modemcore/pipe"
	"github.com/go-modem/modemcore/ppp"
	"github.com/go-modem/modemcore/sched"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestPPP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ppp suite")
}

// loopTransport is the same in-memory duplex stand-in chat's suite uses:
// Transmit records bytes, Receive hands back whatever was fed.
type loopTransport struct {
	mu sync.Mutex
	p  *pipe.Pipe
	rx [][]byte
	tx []byte
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

func (l *loopTransport) feed(b []byte) {
	l.mu.Lock()
	l.rx = append(l.rx, b)
	l.mu.Unlock()
	l.p.NotifyReceiveReady()
}

func (l *loopTransport) txSnapshot() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.tx...)
}

// recordingIface captures every packet handed to Input, standing in for the
// network stack.
type recordingIface struct {
	pool     *netpkt.Pool
	mu       sync.Mutex
	received []netpkt.Packet
}

func newRecordingIface(bufSize int) *recordingIface {
	return &recordingIface{pool: netpkt.NewPool(bufSize)}
}

func (r *recordingIface) Alloc() (netpkt.Packet, bool) { return r.pool.Alloc() }

func (r *recordingIface) Input(p netpkt.Packet) {
	r.mu.Lock()
	r.received = append(r.received, p)
	r.mu.Unlock()
}

func (r *recordingIface) snapshot() []netpkt.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]netpkt.Packet(nil), r.received...)
}

func packetBytes(p netpkt.Packet) []byte {
	var out []byte
	for {
		b, ok := p.ReadByte()
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}

func newHarness(bufSize int) (*ppp.Framer, *loopTransport, *recordingIface, *sched.Scheduler) {
	s := sched.New()
	go s.Run(context.Background())

	lt := &loopTransport{}
	p := pipe.New(lt)
	lt.bind(p)
	p.NotifyOpened()

	iface := newRecordingIface(bufSize)
	f, err := ppp.New(ppp.Config{BufSize: 64, RingSize: 256, QueueDepth: 4}, s, iface, nil)
	Expect(err).NotTo(HaveOccurred())
	f.Attach(p)
	return f, lt, iface, s
}

var _ = Describe("PPP framer", func() {
	It("round-trips an IPv4 packet (scenario 5)", func() {
		f, lt, iface, s := newHarness(128)
		defer s.Stop()
		defer f.Release()

		payload := []byte{0x45, 0x00, 0x00, 0x1C, 0x01, 0x02, 0x03, 0x04}
		pkt := iface.pool.Get(netpkt.AFInet)
		for _, b := range payload {
			Expect(pkt.WriteByte(b)).To(BeTrue())
		}

		Expect(f.Send(pkt)).To(Succeed())

		var wire []byte
		Eventually(func() []byte {
			wire = lt.txSnapshot()
			return wire
		}).ShouldNot(BeEmpty())

		Expect(wire[0]).To(Equal(byte(0x7E)))
		// protocol high byte 0x00 is below 0x20, so it is stuffed as 7D 20
		Expect(wire[1:7]).To(Equal([]byte{0xFF, 0x7D, 0x23, 0x7D, 0x20, 0x21}))
		Expect(wire[len(wire)-1]).To(Equal(byte(0x7E)))

		lt.feed(wire)

		Eventually(func() []netpkt.Packet { return iface.snapshot() }).Should(HaveLen(1))
		got := iface.snapshot()[0]
		Expect(got.PPP()).To(BeTrue())
		// a PPP-marked packet carries its protocol field ahead of the payload
		Expect(packetBytes(got)).To(Equal(append([]byte{0x00, 0x21}, payload...)))
	})

	It("escapes a 0x7E payload byte on the wire (scenario 6)", func() {
		f, lt, iface, s := newHarness(128)
		defer s.Stop()
		defer f.Release()

		payload := []byte{0x01, 0x7E, 0x02}
		pkt := iface.pool.Get(netpkt.AFInet)
		for _, b := range payload {
			Expect(pkt.WriteByte(b)).To(BeTrue())
		}
		Expect(f.Send(pkt)).To(Succeed())

		var wire []byte
		Eventually(func() []byte {
			wire = lt.txSnapshot()
			return wire
		}).ShouldNot(BeEmpty())

		interior := wire[1 : len(wire)-1]
		Expect(interior).To(ContainElement(byte(0x7D)))
		idx := -1
		for i, b := range interior {
			if b == 0x7D && i+1 < len(interior) && interior[i+1] == 0x5E {
				idx = i
				break
			}
		}
		Expect(idx).To(BeNumerically(">=", 0), "expected a 7D 5E escape sequence for the stuffed 0x7E byte")
		for _, b := range interior {
			if b == 0x7E {
				Fail("unescaped 0x7E found inside the frame interior")
			}
		}
	})

	It("never emits an unescaped control byte between the flags (stuffing property)", func() {
		f, lt, iface, s := newHarness(128)
		defer s.Stop()
		defer f.Release()

		payload := []byte{0x00, 0x01, 0x1F, 0x7D, 0x7E, 0x20, 0xFF}
		pkt := iface.pool.Get(netpkt.AFInet6)
		for _, b := range payload {
			Expect(pkt.WriteByte(b)).To(BeTrue())
		}
		Expect(f.Send(pkt)).To(Succeed())

		var wire []byte
		Eventually(func() []byte {
			wire = lt.txSnapshot()
			return wire
		}).ShouldNot(BeEmpty())

		interior := wire[1 : len(wire)-1]
		for i := 0; i < len(interior); i++ {
			if interior[i] < 0x20 || interior[i] == 0x7E {
				Expect(i).NotTo(Equal(0))
				Expect(interior[i-1]).To(Equal(byte(0x7D)), "raw control byte must be preceded by an escape")
			}
		}
	})

	It("rejects Send for an unsupported family with ErrProtocolNotSupported", func() {
		f, _, iface, s := newHarness(64)
		defer s.Stop()
		defer f.Release()

		pkt := iface.pool.Get(netpkt.AFUnspec)
		Expect(pkt.WriteByte(0x01)).To(BeTrue())
		Expect(f.Send(pkt)).To(MatchError(cos.ErrProtocolNotSupported))
	})

	It("rejects Send for an empty packet with ErrNoData", func() {
		f, _, iface, s := newHarness(64)
		defer s.Stop()
		defer f.Release()

		pkt := iface.pool.Get(netpkt.AFInet)
		Expect(f.Send(pkt)).To(MatchError(cos.ErrNoData))
	})

	It("fails Send with ErrNoMemory once the TX queue is full", func() {
		s := sched.New()
		defer s.Stop()

		lt := &loopTransport{}
		p := pipe.New(lt)
		lt.bind(p)
		// the scheduler loop is only started after both Sends, so the send
		// work item cannot pop the first packet out of the queue in between.
		p.NotifyOpened()

		iface := newRecordingIface(64)
		f, err := ppp.New(ppp.Config{BufSize: 16, RingSize: 4, QueueDepth: 1}, s, iface, nil)
		Expect(err).NotTo(HaveOccurred())
		f.Attach(p)
		defer f.Release()

		mk := func() netpkt.Packet {
			pk := iface.pool.Get(netpkt.AFInet)
			_ = pk.WriteByte(0xAB)
			return pk
		}
		Expect(f.Send(mk())).To(Succeed())
		// second Send overflows the 1-deep queue, which still holds the first packet.
		err = f.Send(mk())
		Expect(err).To(MatchError(cos.ErrNoMemory))
		go s.Run(context.Background())
	})

	It("computes the FCS over FF 03 | protocol | payload with seed/XOR 0xFFFF (FCS property)", func() {
		f, lt, iface, s := newHarness(128)
		defer s.Stop()
		defer f.Release()

		payload := []byte{0x10, 0x20, 0x30}
		pkt := iface.pool.Get(netpkt.AFInet)
		for _, b := range payload {
			Expect(pkt.WriteByte(b)).To(BeTrue())
		}
		Expect(f.Send(pkt)).To(Succeed())

		var wire []byte
		Eventually(func() []byte {
			wire = lt.txSnapshot()
			return wire
		}).ShouldNot(BeEmpty())

		// unstuff the interior by hand and recompute the FCS the same way
		// the encoder does, to confirm the two trailing bytes are correct.
		interior := wire[1 : len(wire)-1]
		var unstuffed []byte
		for i := 0; i < len(interior); i++ {
			b := interior[i]
			if b == 0x7D {
				i++
				unstuffed = append(unstuffed, interior[i]^0x20)
				continue
			}
			unstuffed = append(unstuffed, b)
		}
		body, trailer := unstuffed[:len(unstuffed)-2], unstuffed[len(unstuffed)-2:]

		var fcs uint16 = 0xFFFF
		fcsTable := buildFCSTable()
		for _, b := range body {
			fcs = (fcs >> 8) ^ fcsTable[(fcs^uint16(b))&0xFF]
		}
		final := fcs ^ 0xFFFF
		Expect(trailer).To(Equal([]byte{byte(final & 0xFF), byte(final >> 8)}))
	})

	It("drains and unrefs the TX queue on Release without leaking state", func() {
		f, _, iface, s := newHarness(64)
		defer s.Stop()

		pkt := iface.pool.Get(netpkt.AFInet)
		_ = pkt.WriteByte(0x01)
		Expect(f.Send(pkt)).To(Succeed())
		f.Release()
		Expect(f.Snapshot().TxQueueDepth).To(BeZero())
		Expect(f.Snapshot().TxInFlight).To(BeFalse())

		p2 := pipe.New(&loopTransport{})
		f.Attach(p2)
		Expect(f.Send(iface.pool.Get(netpkt.AFInet))).To(MatchError(cos.ErrNoData))
	})
})

func buildFCSTable() [256]uint16 {
	var t [256]uint16
	for b := 0; b < 256; b++ {
		v := uint16(b)
		for i := 0; i < 8; i++ {
			if v&1 != 0 {
				v = (v >> 1) ^ 0x8408
			} else {
				v >>= 1
			}
		}
		t[b] = v
	}
	return t
}
