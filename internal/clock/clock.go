// Package clock abstracts wall time and single-shot timers so state machines
// can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable single-shot timer.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer already fired or was stopped.
	Stop() bool
}

// Clock provides the current time and single-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// =============================================================================
// Mock
// =============================================================================

// Mock is a manually advanced Clock. Timer callbacks run synchronously inside
// Advance, in due-time order, on the caller's goroutine.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*mockTimer
}

type mockTimer struct {
	mock  *Mock
	due   time.Time
	seq   uint64
	fn    func()
	fired bool
	done  bool
}

// NewMock returns a Mock starting at start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now returns the mock time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc registers f to run once the mock time reaches now+d.
func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &mockTimer{mock: m, due: m.now.Add(d), seq: m.seq, fn: f}
	m.timers = append(m.timers, t)
	return t
}

// Pending returns the number of armed timers.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing every timer that becomes due.
// Timers armed by callbacks fire too if they fall within the window.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.compactLocked()
			m.mu.Unlock()
			return
		}
		if next.due.After(m.now) {
			m.now = next.due
		}
		next.fired = true
		next.done = true
		fn := next.fn
		m.mu.Unlock()

		fn()
	}
}

func (m *Mock) nextDueLocked(target time.Time) *mockTimer {
	var due []*mockTimer
	for _, t := range m.timers {
		if !t.done && !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].seq < due[j].seq
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}

func (m *Mock) compactLocked() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	m.timers = live
}

func (t *mockTimer) Stop() bool {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
