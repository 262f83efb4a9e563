package agent

import (
	"encoding/json"
	"fmt"
)

// CycleSettings configures tool-call cycle detection: a sliding window of
// recent call signatures, a repeat threshold that triggers a warning, and a
// break threshold of consecutive distinct signatures that resets the window.
type CycleSettings struct {
	WindowSize     int
	Threshold      int
	BreakThreshold int
}

// DefaultCycleSettings mirrors the documented defaults (window 15,
// threshold 3, break 3).
func DefaultCycleSettings() CycleSettings {
	return CycleSettings{WindowSize: 15, Threshold: 3, BreakThreshold: 3}
}

// SetCycleDetection enables tool-call cycle detection. Passing nil disables it.
func (r *Runtime) SetCycleDetection(settings *CycleSettings) {
	r.cycleSettings = settings
}

// cycleDetector tracks repeated (name, canonicalized-args) signatures.
type cycleDetector struct {
	cfg         CycleSettings
	window      []string
	lastSig     string
	distinctRun int
	warned      map[string]bool
}

func newCycleDetector(cfg CycleSettings) *cycleDetector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultCycleSettings().WindowSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultCycleSettings().Threshold
	}
	if cfg.BreakThreshold <= 0 {
		cfg.BreakThreshold = DefaultCycleSettings().BreakThreshold
	}
	return &cycleDetector{cfg: cfg, warned: make(map[string]bool)}
}

// Observe records one tool call and reports whether its signature has now
// repeated enough times in the window to warrant a cycle warning. Each
// signature warns at most once per window generation.
func (c *cycleDetector) Observe(name string, args json.RawMessage) bool {
	sig := name + "\x00" + canonicalizeArgs(args)

	if sig == c.lastSig {
		c.distinctRun = 0
	} else {
		c.distinctRun++
		c.lastSig = sig
		if c.distinctRun >= c.cfg.BreakThreshold {
			c.window = c.window[:0]
			c.warned = make(map[string]bool)
			c.distinctRun = 0
		}
	}

	c.window = append(c.window, sig)
	if len(c.window) > c.cfg.WindowSize {
		c.window = c.window[1:]
	}

	count := 0
	for _, s := range c.window {
		if s == sig {
			count++
		}
	}
	if count >= c.cfg.Threshold && !c.warned[sig] {
		c.warned[sig] = true
		return true
	}
	return false
}

// canonicalizeArgs produces a stable representation of a JSON argument
// object: decode and re-encode so key order and whitespace differences do
// not defeat signature matching. Invalid JSON falls back to the raw bytes.
func canonicalizeArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return string(args)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return string(args)
	}
	return string(canonical)
}

func cycleReminder(toolName string) string {
	return fmt.Sprintf("You have repeated the same %s call with identical arguments several times. "+
		"Its result will not change; use what you already have or try a different approach.", toolName)
}

// ExploratorySettings configures the consecutive-exploratory-call reminder
// thresholds: a gentle delegation suggestion first, then a stern one.
type ExploratorySettings struct {
	GentleThreshold int
	SternThreshold  int
}

// DefaultExploratorySettings returns the stock thresholds (4 and 8).
func DefaultExploratorySettings() ExploratorySettings {
	return ExploratorySettings{GentleThreshold: 4, SternThreshold: 8}
}

// SetExploratoryTracking enables exploratory-streak reminders. Passing nil
// disables them.
func (r *Runtime) SetExploratoryTracking(settings *ExploratorySettings) {
	r.exploratorySettings = settings
}

// exploratoryTracker counts consecutive exploratory tool calls (read, grep,
// glob and friends). Housekeeping tools that do not break the streak leave
// the count unchanged; a mutating call resets it.
type exploratoryTracker struct {
	cfg         ExploratorySettings
	streak      int
	gentleFired bool
	sternFired  bool
}

func newExploratoryTracker(cfg ExploratorySettings) *exploratoryTracker {
	if cfg.GentleThreshold <= 0 {
		cfg.GentleThreshold = DefaultExploratorySettings().GentleThreshold
	}
	if cfg.SternThreshold <= 0 {
		cfg.SternThreshold = DefaultExploratorySettings().SternThreshold
	}
	return &exploratoryTracker{cfg: cfg}
}

// Observe records one tool call and returns a reminder to inject, or "".
func (e *exploratoryTracker) Observe(tool Tool) string {
	switch {
	case tool.IsExploratoryTool():
		e.streak++
	case tool.BreaksExploratoryStreak():
		e.streak = 0
		e.gentleFired = false
		e.sternFired = false
		return ""
	default:
		// Housekeeping: neither extends nor breaks the streak.
		return ""
	}

	if e.streak >= e.cfg.SternThreshold && !e.sternFired {
		e.sternFired = true
		return "You have been exploring for a long stretch without acting. " +
			"Delegate the remaining investigation to a sub-agent with the delegate tool, " +
			"or commit to a change now."
	}
	if e.streak >= e.cfg.GentleThreshold && !e.gentleFired {
		e.gentleFired = true
		return "You have made several exploratory calls in a row. " +
			"If the investigation is open-ended, consider delegating it to a sub-agent."
	}
	return ""
}
