package ppp

import (
	"sync"

	"github.com/go-modem/modemcore/netpkt"
)

// pktQueue is the bounded TX packet queue: a mutex-guarded FIFO, per the
// concurrency note that the producer (Send) and the consumer (the send work
// item) only share its head/tail state.
type pktQueue struct {
	mu    sync.Mutex
	items []netpkt.Packet
	cap   int
}

func newPktQueue(capacity int) *pktQueue {
	return &pktQueue{cap: capacity}
}

func (q *pktQueue) push(p netpkt.Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, p)
	return true
}

func (q *pktQueue) pop() (netpkt.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

func (q *pktQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain empties the queue and returns whatever was left, for Release to
// unref.
func (q *pktQueue) drain() []netpkt.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// byteRing is the fixed-capacity circular buffer of already-encoded bytes
// sitting between the transmit encoder and the pipe.
type byteRing struct {
	buf        []byte
	head, tail int
	size       int
}

func newByteRing(capacity int) *byteRing {
	return &byteRing{buf: make([]byte, capacity)}
}

func (r *byteRing) free() int { return len(r.buf) - r.size }

func (r *byteRing) push(b byte) bool {
	if r.size == len(r.buf) {
		return false
	}
	r.buf[r.tail] = b
	r.tail = (r.tail + 1) % len(r.buf)
	r.size++
	return true
}

// claim returns the longest contiguous readable region starting at head;
// the caller must call advance with however much of it it actually consumed.
func (r *byteRing) claim() []byte {
	if r.size == 0 {
		return nil
	}
	n := r.size
	if r.head+n > len(r.buf) {
		n = len(r.buf) - r.head
	}
	return r.buf[r.head : r.head+n]
}

func (r *byteRing) advance(n int) {
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
}

func (r *byteRing) reset() {
	r.head, r.tail, r.size = 0, 0, 0
}
