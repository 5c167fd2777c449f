//go:build !debug

// Package debug provides build-tag-gated invariant checks: a no-op build
// (this file) and a `-tags debug` build that actually asserts.
package debug

import "sync"

func ON() bool { return false }

func Infof(_ string, _ ...any) {}

func Func(_ func()) {}

func Assert(_ bool, _ ...any)            {}
func AssertFunc(_ func() bool, _ ...any) {}
func AssertNoErr(_ error)                {}
func Assertf(_ bool, _ string, _ ...any) {}

func AssertMutexLocked(_ *sync.Mutex)     {}
func AssertRWMutexLocked(_ *sync.RWMutex) {}
