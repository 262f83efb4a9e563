package agent

import (
	"sync"
	"time"
)

// ActivityWatchdog fires a callback when no tool call has been recorded
// within Timeout of the last activity. Pause/Resume are refcounted so
// nested delegations can suspend the parent's timer for their duration
// without losing track of how many delegations are in flight.
type ActivityWatchdog struct {
	mu           sync.Mutex
	checkEvery   time.Duration
	timeout      time.Duration
	safetyCeil   int
	lastActivity time.Time
	pauseCount   int
	stop         chan struct{}
	running      bool
	onTimeout    func()
}

// NewActivityWatchdog creates a watchdog with the given check interval,
// timeout, and safety ceiling on the pause refcount (a ceiling breach
// resets the count rather than wedging the watchdog permanently paused).
// Non-positive values fall back to the stock defaults.
func NewActivityWatchdog(checkEvery, timeout time.Duration, safetyCeiling int, onTimeout func()) *ActivityWatchdog {
	if checkEvery <= 0 {
		checkEvery = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if safetyCeiling <= 0 {
		safetyCeiling = 10
	}
	return &ActivityWatchdog{
		checkEvery:   checkEvery,
		timeout:      timeout,
		safetyCeil:   safetyCeiling,
		lastActivity: time.Now(),
		onTimeout:    onTimeout,
	}
}

// Start begins the periodic check loop if not already paused.
func (w *ActivityWatchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startLocked()
}

func (w *ActivityWatchdog) startLocked() {
	if w.running || w.pauseCount > 0 {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	stop := w.stop
	go w.loop(stop)
}

func (w *ActivityWatchdog) loop(stop chan struct{}) {
	ticker := time.NewTicker(w.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			elapsed := time.Since(w.lastActivity)
			timedOut := elapsed > w.timeout
			w.mu.Unlock()
			if timedOut && w.onTimeout != nil {
				w.onTimeout()
			}
		}
	}
}

// Stop halts the check loop entirely (shutdown), independent of pause state.
func (w *ActivityWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *ActivityWatchdog) stopLocked() {
	if !w.running {
		return
	}
	close(w.stop)
	w.running = false
}

// RecordActivity resets the elapsed-since-last-tool-call clock. Called on
// every successful tool call.
func (w *ActivityWatchdog) RecordActivity() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = time.Now()
}

// Pause increments the refcount, stopping the check loop on the
// transition from 0 to 1.
func (w *ActivityWatchdog) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pauseCount++
	if w.pauseCount > w.safetyCeil {
		// Recover from a pairing bug (unbalanced Pause calls) rather than
		// wedging the watchdog paused forever.
		w.pauseCount = 1
	}
	if w.pauseCount == 1 {
		w.stopLocked()
	}
}

// Resume decrements the refcount, restarting the check loop once it
// returns to 0. delegationSucceeded controls whether the activity clock is
// reset: a failed delegation must not give its parent credit for progress,
// so the parent can still time out on schedule.
func (w *ActivityWatchdog) Resume(delegationSucceeded bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pauseCount > 0 {
		w.pauseCount--
	}
	if delegationSucceeded {
		w.lastActivity = time.Now()
	}
	if w.pauseCount == 0 {
		w.startLocked()
	}
}

// PauseCount reports the current refcount, for tests asserting balance.
func (w *ActivityWatchdog) PauseCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pauseCount
}
