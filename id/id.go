// Package id generates short correlation IDs for chat scripts and PPP TX
// packets, for log lines and the diag snapshot, the same way the host
// codebase tags its daemon/session IDs.
package id

import (
	"sync"

	"github.com/teris-io/shortid"
)

// abc mirrors the host codebase's custom shortid alphabet: a fixed ordering
// of the 64 URL-safe characters (shortid requires exactly 64).
const abc = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	mu  sync.Mutex
	gen *shortid.Shortid
)

// Init seeds the generator. Safe to call more than once; the last seed
// wins. Optional: if Init was never called, New seeds the generator with
// worker 1 and seed 1 on first use.
func Init(seed uint64) {
	mu.Lock()
	gen = shortid.MustNew(1, abc, seed)
	mu.Unlock()
}

// New returns a fresh short correlation ID.
func New() string {
	mu.Lock()
	if gen == nil {
		gen = shortid.MustNew(1, abc, 1)
	}
	g := gen
	mu.Unlock()
	return g.MustGenerate()
}
