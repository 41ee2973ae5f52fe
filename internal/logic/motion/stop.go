package motion

import "sync/atomic"

// StopSource is polled between motion steps; a true result interrupts the
// move in progress.
type StopSource interface {
	StopRequested() bool
}

// StopFunc adapts a plain function to StopSource.
type StopFunc func() bool

func (f StopFunc) StopRequested() bool { return f() }

// AnyStop reports a stop as soon as one of its sources does. Nil sources
// are skipped.
func AnyStop(sources ...StopSource) StopSource {
	return StopFunc(func() bool {
		for _, s := range sources {
			if s != nil && s.StopRequested() {
				return true
			}
		}
		return false
	})
}

// Latch is a StopSource set from another goroutine (web handler, signal).
// A raised latch stays raised until Clear.
type Latch struct {
	raised atomic.Bool
}

// Request raises the latch.
func (l *Latch) Request() { l.raised.Store(true) }

// Clear lowers the latch.
func (l *Latch) Clear() { l.raised.Store(false) }

func (l *Latch) StopRequested() bool { return l.raised.Load() }
