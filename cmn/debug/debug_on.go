//go:build debug

package debug

import (
	"fmt"
	"sync"

	"github.com/go-modem/modemcore/cmn/nlog"
)

func ON() bool { return true }

func Infof(format string, args ...any) { nlog.InfoDepth(1, fmt.Sprintf(format, args...)) }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func AssertFunc(f func() bool, args ...any) { Assert(f(), args...) }

func AssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: " + err.Error())
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}

// AssertMutexLocked panics if mu is currently unlocked. It relies on
// sync.Mutex.TryLock, which is only safe to call for this purpose because
// debug builds pay the (tiny) extra lock/unlock cost deliberately.
func AssertMutexLocked(mu *sync.Mutex) {
	if mu.TryLock() {
		mu.Unlock()
		panic("assertion failed: mutex not locked")
	}
}

func AssertRWMutexLocked(mu *sync.RWMutex) {
	if mu.TryLock() {
		mu.Unlock()
		panic("assertion failed: rwmutex not locked")
	}
}
