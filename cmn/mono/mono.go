// Package mono provides a monotonic nanosecond clock for timeout accounting
// that must not be perturbed by wall-clock adjustments (NTP, RTC writes).
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, monotonic.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// Since returns the elapsed duration since a NanoTime() reading.
func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
