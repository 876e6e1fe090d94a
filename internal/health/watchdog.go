// Package health implements the rearm-able watchdog that backs both
// the client's connection-liveness check and the server's per-client
// health tracking: a timer that fires an alert exactly once if it is
// not reset within a bound duration.
package health

import (
	"sync"
	"time"
)

// Watchdog[A] emits a caller-chosen alert value of type A on its sink
// channel if Check is not called again within timeout of the previous
// Check. After the alert fires, the watchdog is expired: further Check
// calls are no-ops, matching the one-shot semantics both the client
// and server handlers rely on.
//
// A single internal goroutine owns the timer, so "reset before
// expiry" and "alert emission" can never race each other the way they
// could with one timer per Check call.
type Watchdog[A any] struct {
	sink    chan<- A
	alert   A
	timeout time.Duration

	resetCh chan struct{}
	stopCh  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	expired bool
}

// New constructs a Watchdog bound to timeout and starts its driving
// goroutine. The timer does not begin counting down until the first
// Check.
func New[A any](sink chan<- A, alert A, timeout time.Duration) *Watchdog[A] {
	w := &Watchdog[A]{
		sink:    sink,
		alert:   alert,
		timeout: timeout,
		resetCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Watchdog[A]) run() {
	timer := time.NewTimer(w.timeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	armed := false

	for {
		select {
		case <-w.resetCh:
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.timeout)
			armed = true
		case <-timer.C:
			armed = false
			w.mu.Lock()
			if w.expired {
				w.mu.Unlock()
				continue
			}
			w.expired = true
			w.mu.Unlock()
			select {
			case w.sink <- w.alert:
			case <-w.stopCh:
			}
			return
		case <-w.stopCh:
			return
		}
	}
}

// Check resets the watchdog's timer, arming (or rearming) the
// timeout window. A no-op once the watchdog has already expired.
func (w *Watchdog[A]) Check() {
	w.mu.Lock()
	if w.expired {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	select {
	case w.resetCh <- struct{}{}:
	default:
		// A reset is already pending consumption by run(); it will
		// rearm to a fresh timeout window regardless, so this Check's
		// intent is still honored.
	}
}

// Expired reports whether the alert has already fired.
func (w *Watchdog[A]) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}

// Stop halts the watchdog's goroutine without firing the alert. Used
// when the owning actor is tearing down on a path that doesn't want a
// spurious Unhealthy/removed transition (e.g. a clean shutdown).
func (w *Watchdog[A]) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
