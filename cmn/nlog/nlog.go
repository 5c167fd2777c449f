// Package nlog is the line logger shared by every package in this module:
// severity-leveled, caller-tagged, mutex-guarded, with a pluggable sink.
//
// Unlike a server daemon's logger, an embedded modem core has no log
// directory to rotate into and no daemon ID to stamp lines with; this is
// the same severity/header/buffer-reuse shape, sized down to a single
// io.Writer sink (stderr by default, swappable via SetOutput).
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevChar = "IWE"

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	minSev           = sevInfo

	linePool = sync.Pool{New: func() any { return &strings.Builder{} }}
)

// SetOutput redirects all log lines to w (nil resets to stderr).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

// SetQuiet suppresses Info/Warning lines, keeping only Error.
func SetQuiet(quiet bool) {
	mu.Lock()
	defer mu.Unlock()
	if quiet {
		minSev = sevErr
	} else {
		minSev = sevInfo
	}
}

func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Infoln(args ...any)                  { logln(sevInfo, 1, args...) }
func InfoDepth(depth int, args ...any)     { logln(sevInfo, depth+1, args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func Warningln(args ...any)               { logln(sevWarn, 1, args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }
func Errorln(args ...any)                 { logln(sevErr, 1, args...) }
func ErrorDepth(depth int, args ...any)    { logln(sevErr, depth+1, args...) }

func log(sev severity, depth int, format string, args ...any) {
	write(sev, depth+1, fmt.Sprintf(format, args...))
}

func logln(sev severity, depth int, args ...any) {
	write(sev, depth+1, fmt.Sprintln(args...))
}

func write(sev severity, depth int, msg string) {
	mu.Lock()
	defer mu.Unlock()
	if sev < minSev {
		return
	}
	sb := linePool.Get().(*strings.Builder)
	sb.Reset()
	formatHdr(sb, sev, depth+1)
	sb.WriteString(msg)
	if !strings.HasSuffix(msg, "\n") {
		sb.WriteByte('\n')
	}
	io.WriteString(out, sb.String())
	linePool.Put(sb)
}

func formatHdr(sb *strings.Builder, sev severity, depth int) {
	sb.WriteByte(sevChar[sev])
	sb.WriteByte(' ')
	sb.WriteString(time.Now().Format("15:04:05.000000"))
	sb.WriteByte(' ')
	_, fn, ln, ok := runtime.Caller(depth + 1)
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
		fn = fn[idx+1:]
	}
	sb.WriteString(fn)
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(ln))
	sb.WriteByte(' ')
}
