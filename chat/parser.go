package chat

import "github.com/go-modem/modemcore/cmn/nlog"

// processByte drives the receive parser one byte at a time. It is only
// ever called from the process work item, so it never runs concurrently
// with itself or with script-execution state changes.
func (c *Chat) processByte(b byte) {
	if c.cfg.Filter.Has(b) {
		return
	}

	c.recvBuf = append(c.recvBuf, b)
	if len(c.recvBuf) >= c.cfg.RecvBufSize || len(c.argv) >= c.cfg.ArgvLimit {
		nlog.Warningf("chat: receive overrun (line=%d argv=%d), resetting parser",
			len(c.recvBuf), len(c.argv))
		c.resetParser()
		return
	}

	if c.hasDelimiterSuffix() {
		c.lineComplete()
		return
	}
	if c.delimSet.Has(b) {
		// partial delimiter: wait to see whether the full sequence forms
		return
	}

	if c.matchedRecord == nil {
		c.tryMatch()
		return
	}
	if c.matchedRecord.Separators.Has(b) {
		c.closeArg()
	}
}

func (c *Chat) hasDelimiterSuffix() bool {
	d := c.cfg.Delimiter
	if len(c.recvBuf) < len(d) {
		return false
	}
	tail := c.recvBuf[len(c.recvBuf)-len(d):]
	for i := range d {
		if tail[i] != d[i] {
			return false
		}
	}
	return true
}

// tryMatch enumerates RESPONSE, ABORT, UNSOLICITED in order looking for a
// record whose literal length equals the bytes accumulated so far.
func (c *Chat) tryMatch() {
	for kind := Kind(0); kind < numKinds; kind++ {
		for i := range c.matches[kind] {
			rec := &c.matches[kind][i]
			if rec.isCatchAll() || len(rec.Literal) != len(c.recvBuf) {
				continue
			}
			if !literalMatches(rec, c.recvBuf) {
				continue
			}
			c.matchedRecord = rec
			c.matchedKind = kind
			c.argStart = len(c.recvBuf)
			c.argv = c.argv[:0]
			c.argv = append(c.argv, string(append([]byte(nil), c.recvBuf...)))
			return
		}
	}
}

func literalMatches(rec *MatchRecord, buf []byte) bool {
	for i, want := range rec.Literal {
		if rec.Wildcard && want == '?' {
			continue
		}
		if buf[i] != want {
			return false
		}
	}
	return true
}

// closeArg is called when the current byte (already appended to recvBuf)
// is a separator for the matched record: it cuts out the argument that
// ended just before the separator.
func (c *Chat) closeArg() {
	arg := string(c.recvBuf[c.argStart : len(c.recvBuf)-1])
	c.argv = append(c.argv, arg)
	c.argStart = len(c.recvBuf)
}

func (c *Chat) lineComplete() {
	defer c.resetParser()

	lineLen := len(c.recvBuf)
	if lineLen == len(c.cfg.Delimiter) {
		return // empty line
	}
	bodyEnd := lineLen - len(c.cfg.Delimiter)

	if c.matchedRecord == nil {
		rec, kind, ok := c.findCatchAll()
		if !ok {
			return // unmatched line, dropped
		}
		full := string(append([]byte(nil), c.recvBuf[:bodyEnd]...))
		c.dispatch(rec, kind, []string{"", full})
		return
	}

	argv := c.argv
	if c.argStart < bodyEnd {
		argv = append(argv, string(c.recvBuf[c.argStart:bodyEnd]))
	}
	rec, kind := c.matchedRecord, c.matchedKind
	c.dispatch(rec, kind, argv)
}

func (c *Chat) findCatchAll() (*MatchRecord, Kind, bool) {
	for kind := Kind(0); kind < numKinds; kind++ {
		for i := range c.matches[kind] {
			if c.matches[kind][i].isCatchAll() {
				return &c.matches[kind][i], kind, true
			}
		}
	}
	return nil, 0, false
}

func (c *Chat) dispatch(rec *MatchRecord, kind Kind, argv []string) {
	switch kind {
	case KindUnsolicited:
		if rec.Callback != nil {
			rec.Callback(argv)
		}
	case KindAbort:
		if rec.Callback != nil {
			rec.Callback(argv)
		}
		c.stopScript(ResultAbort)
	case KindResponse:
		if rec.Callback != nil {
			rec.Callback(argv)
		}
		c.scriptNext(false)
	}
}

func (c *Chat) resetParser() {
	c.recvBuf = c.recvBuf[:0]
	c.matchedRecord = nil
	c.argStart = 0
	c.argv = c.argv[:0]
}
