package agent

import (
	"fmt"
	"sync"
	"time"
)

// WatchdogSettings configures the per-run ActivityWatchdog. Zero values fall
// back to NewActivityWatchdog's defaults (10s check, 90s timeout, ceiling 10).
type WatchdogSettings struct {
	CheckInterval time.Duration
	Timeout       time.Duration
	SafetyCeiling int

	// MaxContinuations bounds how many consecutive timeouts post a
	// continuation reminder before the run is cancelled outright.
	MaxContinuations int
}

// DefaultMaxTimeoutContinuations is the number of watchdog-timeout
// continuation reminders a run absorbs before it is cancelled.
const DefaultMaxTimeoutContinuations = 3

// LoopDetectionSettings configures the per-run LoopDetector over the model's
// streamed content and thinking text.
type LoopDetectionSettings struct {
	Patterns      []LoopPattern
	WarmupPeriod  time.Duration
	CheckInterval time.Duration
	StallTimeout  time.Duration
}

// DefaultLoopPatterns returns the stock pattern set: exact repetition of a
// trailing 80-character chunk appearing three or more times.
func DefaultLoopPatterns() []LoopPattern {
	return []LoopPattern{
		RepetitionPattern("chunk-repetition", 80, 3),
	}
}

// SetWatchdog enables the per-run activity watchdog. Passing nil disables it.
func (r *Runtime) SetWatchdog(settings *WatchdogSettings) {
	r.watchdogSettings = settings
}

// SetLoopDetection enables the per-run loop detector. Passing nil disables it.
func (r *Runtime) SetLoopDetection(settings *LoopDetectionSettings) {
	r.loopSettings = settings
}

// PermissionDeniedMessage is the single model-visible text for every
// permission denial, so denials never leak tool internals.
const PermissionDeniedMessage = "Permission denied. Tell ally what to do instead."

const activityTimeoutReminder = "You have not called a tool for an extended period. " +
	"If you are still working, continue with the next concrete step now; " +
	"if you are finished, reply with your final answer."

func thinkingLoopReminder(patternName string) string {
	return fmt.Sprintf("Your output appears to be looping (%s). "+
		"Stop repeating yourself, summarize where you are, and take a different next step.", patternName)
}

const emptyResponseReminder = "Your last response was empty. Either call a tool " +
	"to make progress or reply with your final answer."

// pollStall drives LoopDetector.CheckStall on a timer, since a stalled
// stream never calls Feed again on its own. The returned func stops the
// poller; it is safe to call more than once.
func pollStall(d *LoopDetector, stallTimeout time.Duration) func() {
	interval := stallTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if d.CheckStall() {
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}
