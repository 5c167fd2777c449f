package chat

import (
	"time"

	"github.com/go-modem/modemcore/cmn/cos"
)

// Kind identifies which of the three match tables a MatchRecord belongs
// to. Enumeration and catch-all search always walk the tables in this
// order: RESPONSE, ABORT, UNSOLICITED.
type Kind int

const (
	KindResponse Kind = iota
	KindAbort
	KindUnsolicited
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "RESPONSE"
	case KindAbort:
		return "ABORT"
	case KindUnsolicited:
		return "UNSOLICITED"
	default:
		return "UNKNOWN"
	}
}

// MatchCallback receives the matched line's arguments: argv[0] is the
// literal (or wildcarded) text that matched; subsequent entries are the
// separator-delimited arguments that followed it. For a catch-all match,
// argv is {"", fullLine}.
type MatchCallback func(argv []string)

// MatchRecord describes one line pattern a kind's table can match against.
// An empty Literal is a catch-all: it matches any otherwise-unmatched,
// non-empty line.
type MatchRecord struct {
	Literal    []byte
	Wildcard   bool // '?' in Literal matches any single byte
	Separators cos.ByteSet
	Callback   MatchCallback
}

func (m MatchRecord) isCatchAll() bool { return len(m.Literal) == 0 }

// Result is the outcome a script's completion callback is invoked with.
type Result int

const (
	ResultSuccess Result = iota
	ResultTimeout
	ResultAbort
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultTimeout:
		return "TIMEOUT"
	case ResultAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Step is one request/response pair inside a Script. A Step with empty
// Responses is send-only (request, fire and forget, optionally wait Timeout
// before advancing); a Step with an empty Request only waits for one of
// Responses.
type Step struct {
	Request   []byte
	Responses []MatchRecord
	Timeout   time.Duration
}

// Script is an AT command dialogue: a named sequence of Steps, a set of
// abort patterns active for its whole run, and a completion callback
// invoked exactly once, after the running flag has already been cleared.
type Script struct {
	Name         string
	Steps        []Step
	AbortMatches []MatchRecord
	OnDone       func(Result)
	Timeout      time.Duration
}
