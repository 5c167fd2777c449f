package ppp

import "github.com/go-modem/modemcore/netpkt"

// rxState is the 6-state receive decoder's current position in the framing
// prefix 7E FF 7D 23.
type rxState int

const (
	rxHdrSOF rxState = iota
	rxHdrFF
	rxHdr7D
	rxHdr23
	rxWriting
	rxUnescaping
)

// rxDecoder is bit-transparent: it delivers the un-stuffed payload with the
// trailing 2 FCS bytes removed, and never checks the FCS itself. Because
// netpkt.Packet only supports appending, the trailing FCS is never written:
// the decoder holds the last two payload bytes back in pend and only writes
// the older one out once a third byte displaces it.
type rxDecoder struct {
	state rxState
	iface netpkt.Interface
	rec   Recorder

	pkt     netpkt.Packet
	pend    [2]byte
	pendN   int
}

func newRxDecoder(iface netpkt.Interface, rec Recorder) *rxDecoder {
	return &rxDecoder{state: rxHdrSOF, iface: iface, rec: rec}
}

func (d *rxDecoder) feed(b byte) {
	switch d.state {
	case rxHdrSOF:
		if b == 0x7E {
			d.state = rxHdrFF
		}
	case rxHdrFF:
		switch b {
		case 0x7E: // repeated flags between frames: stay
		case 0xFF:
			d.state = rxHdr7D
		default:
			d.state = rxHdrSOF
		}
	case rxHdr7D:
		if b == 0x7D {
			d.state = rxHdr23
		} else {
			d.state = rxHdrSOF
		}
	case rxHdr23:
		if b != 0x23 {
			d.state = rxHdrSOF
			return
		}
		pkt, ok := d.iface.Alloc()
		if !ok {
			if d.rec != nil {
				d.rec.IncAllocFailed()
			}
			d.state = rxHdrSOF
			return
		}
		d.pkt = pkt
		d.pendN = 0
		d.state = rxWriting
	case rxWriting:
		switch b {
		case 0x7E:
			d.finishFrame()
		case 0x7D:
			d.state = rxUnescaping
		default:
			if !d.appendByte(b) {
				d.abortFrame()
			}
		}
	case rxUnescaping:
		if !d.appendByte(b ^ 0x20) {
			d.abortFrame()
		} else {
			d.state = rxWriting
		}
	}
}

// appendByte holds the latest byte back in pend, flushing the oldest held
// byte into the packet once pend is full. Returns false if the packet's
// buffer has no room for the byte being flushed.
func (d *rxDecoder) appendByte(b byte) bool {
	if d.pendN < 2 {
		d.pend[d.pendN] = b
		d.pendN++
		return true
	}
	if !d.pkt.WriteByte(d.pend[0]) {
		return false
	}
	d.pend[0] = d.pend[1]
	d.pend[1] = b
	return true
}

func (d *rxDecoder) finishFrame() {
	d.pkt.SetPPP(true)
	d.iface.Input(d.pkt)
	if d.rec != nil {
		d.rec.IncRxFrame("ok")
	}
	d.pkt = nil
	d.pendN = 0
	d.state = rxHdrSOF
}

func (d *rxDecoder) abortFrame() {
	if d.rec != nil {
		d.rec.IncWriteFailed()
	}
	if d.pkt != nil {
		d.pkt.Unref()
		d.pkt = nil
	}
	d.pendN = 0
	d.state = rxHdrSOF
}

func (d *rxDecoder) reset() {
	if d.pkt != nil {
		d.pkt.Unref()
		d.pkt = nil
	}
	d.pendN = 0
	d.state = rxHdrSOF
}
