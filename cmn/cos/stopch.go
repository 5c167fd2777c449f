package cos

import "sync"

// StopCh is a close-once broadcast signal: Close is idempotent, Listen
// returns the same channel to every caller so any number of goroutines can
// select on it. The scheduler's control loop stops via one of these instead
// of a raw channel close, which panics on double-close.
type StopCh struct {
	once sync.Once
	ch   chan struct{}
	mu   sync.Mutex
}

func (s *StopCh) init() {
	s.mu.Lock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	s.mu.Unlock()
}

// Listen returns the channel that closes when Close is called.
func (s *StopCh) Listen() <-chan struct{} {
	s.init()
	return s.ch
}

// Close is safe to call more than once and from more than one goroutine.
func (s *StopCh) Close() {
	s.init()
	s.once.Do(func() { close(s.ch) })
}
