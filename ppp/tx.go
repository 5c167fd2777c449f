package ppp

import "github.com/go-modem/modemcore/netpkt"

// txState is the transmit encoder's position. It yields one output byte per
// step call; the stuffable fields (protocol high/low, payload, FCS low/high)
// each get a shadow "escaping" state that remembers the XORed byte and emits
// it on the following call.
type txState int

const (
	txIdle txState = iota
	txHeader
	txAddress
	txCtrlEsc
	txCtrl
	txProtoHi
	txProtoHiEsc
	txProtoLo
	txProtoLoEsc
	txPayload
	txPayloadEsc
	txFCSLo
	txFCSLoEsc
	txFCSHi
	txFCSHiEsc
	txEnd
)

func stuffRequired(b byte) bool { return b == 0x7E || b == 0x7D || b < 0x20 }

// txEncoder encodes one packet at a time into HDLC async-framed bytes.
type txEncoder struct {
	state   txState
	pkt     netpkt.Packet
	protoHi byte
	protoLo byte
	fcs     uint16
	fcsOut  uint16
	escByte byte
}

func newTxEncoder() *txEncoder { return &txEncoder{state: txIdle} }

// start begins encoding pkt; the caller must ensure no packet is currently
// in flight (pkt == nil).
func (e *txEncoder) start(pkt netpkt.Packet) {
	e.pkt = pkt
	e.fcs = fcsInit
	e.state = txHeader
	switch pkt.Family() {
	case netpkt.AFInet:
		e.protoHi, e.protoLo = 0x00, 0x21
	case netpkt.AFInet6:
		e.protoHi, e.protoLo = 0x00, 0x57
	default:
		e.protoHi, e.protoLo = 0x00, 0x00
	}
}

// finish clears the current packet once step has returned done == true and
// returns it so the caller can unref it.
func (e *txEncoder) finish() netpkt.Packet {
	p := e.pkt
	e.pkt = nil
	return p
}

// step advances the encoder by one output byte. emitted is false only for
// the pure state transition when the payload is exhausted and no byte is
// produced that call. done is true exactly once, on the frame's closing 7E.
func (e *txEncoder) step() (out byte, emitted bool, done bool) {
	switch e.state {
	case txHeader:
		e.state = txAddress
		return 0x7E, true, false

	case txAddress:
		e.fcs = fcsStep(e.fcs, 0xFF)
		e.state = txCtrlEsc
		return 0xFF, true, false

	case txCtrlEsc:
		e.state = txCtrl
		return 0x7D, true, false

	case txCtrl:
		e.fcs = fcsStep(e.fcs, 0x03)
		if e.pkt.PPP() {
			e.state = txPayload
		} else {
			e.state = txProtoHi
		}
		return 0x23, true, false

	case txProtoHi:
		e.fcs = fcsStep(e.fcs, e.protoHi)
		if stuffRequired(e.protoHi) {
			e.escByte = e.protoHi ^ 0x20
			e.state = txProtoHiEsc
			return 0x7D, true, false
		}
		e.state = txProtoLo
		return e.protoHi, true, false

	case txProtoHiEsc:
		e.state = txProtoLo
		return e.escByte, true, false

	case txProtoLo:
		e.fcs = fcsStep(e.fcs, e.protoLo)
		if stuffRequired(e.protoLo) {
			e.escByte = e.protoLo ^ 0x20
			e.state = txProtoLoEsc
			return 0x7D, true, false
		}
		e.state = txPayload
		return e.protoLo, true, false

	case txProtoLoEsc:
		e.state = txPayload
		return e.escByte, true, false

	case txPayload:
		b, ok := e.pkt.ReadByte()
		if !ok {
			e.fcsOut = fcsFinal(e.fcs)
			e.state = txFCSLo
			return 0, false, false
		}
		e.fcs = fcsStep(e.fcs, b)
		if stuffRequired(b) {
			e.escByte = b ^ 0x20
			e.state = txPayloadEsc
			return 0x7D, true, false
		}
		return b, true, false

	case txPayloadEsc:
		e.state = txPayload
		return e.escByte, true, false

	case txFCSLo:
		lo := byte(e.fcsOut & 0xFF)
		if stuffRequired(lo) {
			e.escByte = lo ^ 0x20
			e.state = txFCSLoEsc
			return 0x7D, true, false
		}
		e.state = txFCSHi
		return lo, true, false

	case txFCSLoEsc:
		e.state = txFCSHi
		return e.escByte, true, false

	case txFCSHi:
		hi := byte((e.fcsOut >> 8) & 0xFF)
		if stuffRequired(hi) {
			e.escByte = hi ^ 0x20
			e.state = txFCSHiEsc
			return 0x7D, true, false
		}
		e.state = txEnd
		return hi, true, false

	case txFCSHiEsc:
		e.state = txEnd
		return e.escByte, true, false

	case txEnd:
		e.state = txIdle
		return 0x7E, true, true
	}
	return 0, false, false // txIdle: nothing to do
}
