package clock

import (
	"sort"
	"sync"
	"time"
)

// fakeTickerBuffer bounds how many unconsumed ticks a fake ticker holds.
// Unlike time.Ticker, a fake ticker does not drop ticks while there is room.
const fakeTickerBuffer = 1024

// Fake is a manually advanced Clock.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	c      chan time.Time
	next   time.Time
	period time.Duration // 0 for timers
	done   bool
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker creates a ticker firing every d of fake time.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		c:      make(chan time.Time, fakeTickerBuffer),
		next:   f.now.Add(d),
		period: d,
	}
	f.waiters = append(f.waiters, w)
	return &fakeTicker{clock: f, w: w}
}

// NewTimer creates a timer firing once after d of fake time.
func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		c:    make(chan time.Time, 1),
		next: f.now.Add(d),
	}
	if d <= 0 {
		w.c <- f.now
		w.done = true
		return &fakeTimer{clock: f, w: w}
	}
	f.waiters = append(f.waiters, w)
	return &fakeTimer{clock: f, w: w}
}

// Advance moves fake time forward by d, firing every ticker and timer whose
// deadline falls inside the window in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.now.Add(d)
	for {
		w := f.earliest()
		if w == nil || w.next.After(target) {
			break
		}
		f.now = w.next
		select {
		case w.c <- w.next:
		default:
		}
		if w.period > 0 {
			w.next = w.next.Add(w.period)
		} else {
			w.done = true
			f.remove(w)
		}
	}
	f.now = target
}

// Waiters returns the number of active tickers and timers.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// earliest returns the waiter with the nearest deadline. Must be called with lock held.
func (f *Fake) earliest() *fakeWaiter {
	if len(f.waiters) == 0 {
		return nil
	}
	sort.SliceStable(f.waiters, func(i, j int) bool {
		return f.waiters[i].next.Before(f.waiters[j].next)
	})
	return f.waiters[0]
}

// remove drops a waiter. Must be called with lock held.
func (f *Fake) remove(w *fakeWaiter) bool {
	for i, x := range f.waiters {
		if x == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTicker struct {
	clock *Fake
	w     *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.c }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.w.done = true
	t.clock.remove(t.w)
}

type fakeTimer struct {
	clock *Fake
	w     *fakeWaiter
}

func (t *fakeTimer) C() <-chan time.Time { return t.w.c }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.w.done {
		return false
	}
	t.w.done = true
	return t.clock.remove(t.w)
}
