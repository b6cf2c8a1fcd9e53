// Package ticker is the shared once-per-second tick source. Expiry sweeps,
// the liveness check and the reconnect cooldown all run off one goroutine
// instead of per-concern timers.
package ticker

import (
	"sync"
	"time"
)

type Ticker struct {
	mu        sync.Mutex
	listeners map[string]func(now time.Time)
	stop      chan struct{}
	once      sync.Once
}

func New() *Ticker {
	t := &Ticker{
		listeners: make(map[string]func(time.Time)),
		stop:      make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Ticker) loop() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-tick.C:
			t.fire(now)
		}
	}
}

func (t *Ticker) fire(now time.Time) {
	t.mu.Lock()
	fns := make([]func(time.Time), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	// Listeners run outside the lock; they may unsubscribe themselves.
	for _, fn := range fns {
		fn(now)
	}
}

// Subscribe registers fn under name, replacing any previous listener with the
// same name. fn must not block on network I/O.
func (t *Ticker) Subscribe(name string, fn func(now time.Time)) {
	t.mu.Lock()
	t.listeners[name] = fn
	t.mu.Unlock()
}

func (t *Ticker) Unsubscribe(name string) {
	t.mu.Lock()
	delete(t.listeners, name)
	t.mu.Unlock()
}

func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stop) })
}
