// Package netpkt models the network-stack collaborator that the PPP framer
// hands decoded packets to and pulls encoded packets from. This core has no
// real IP stack to link against, so Packet is kept as a narrow interface and
// Pool is a reference, fixed-buffer, ref-counted implementation good enough
// for tests and for any embedder that has no network stack of its own.
package netpkt

// Address family identifiers, matching the values PPP's protocol field
// derives from.
const (
	AFUnspec = 0
	AFInet   = 2
	AFInet6  = 10
)

// Packet is the opaque unit the PPP framer reads from (transmit) and writes
// into (receive). Implementations are expected to be reference-counted: the
// framer calls Ref when it enqueues a packet for transmit and Unref once it
// has fully consumed or discarded it.
type Packet interface {
	Family() int
	Len() int
	PPP() bool
	SetPPP(ppp bool)

	// ReadByte returns the next unread payload byte and advances the read
	// cursor; ok is false once the packet is exhausted.
	ReadByte() (b byte, ok bool)

	// WriteByte appends a byte to the packet; ok is false if the packet's
	// backing buffer has no space left.
	WriteByte(b byte) (ok bool)

	Ref()
	Unref()
}

// Interface models "hand a received packet to the network stack" and "get a
// fresh packet to fill in on receive" without depending on a real one.
type Interface interface {
	// Alloc returns a fresh, zero-length packet for the receive decoder to
	// fill in; ok is false if the interface is out of packet buffers.
	Alloc() (Packet, bool)
	// Input hands a fully decoded packet to the network stack. The
	// decoder's own reference is transferred; Input takes ownership.
	Input(p Packet)
}
