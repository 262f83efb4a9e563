package agent

import (
	"strings"
	"sync"
	"time"
)

// LoopPattern is a single stream-pattern check evaluated against the text
// accumulated so far for a run. Checkers are stateless and pure: given the
// same accumulated text they always return the same verdict.
type LoopPattern struct {
	Name  string
	Check func(accumulated string) bool
}

// RepetitionPattern flags exact repetition of a trailing chunk of size
// window appearing at least minCount times within the accumulated text.
func RepetitionPattern(name string, window, minCount int) LoopPattern {
	return LoopPattern{
		Name: name,
		Check: func(text string) bool {
			if len(text) < window {
				return false
			}
			chunk := text[len(text)-window:]
			return strings.Count(text, chunk) >= minCount
		},
	}
}

// LoopDetectorConfig configures one stream's detector.
type LoopDetectorConfig struct {
	EventType       string
	Patterns        []LoopPattern
	WarmupPeriod    time.Duration
	CheckInterval   time.Duration
	StallTimeout    time.Duration
	OnLoopDetected  func(patternName string)
}

// LoopDetector watches an accumulating text stream (model content and/or
// thinking) for repetition or stalling, and fires its callback at most
// once per run.
type LoopDetector struct {
	mu          sync.Mutex
	cfg         LoopDetectorConfig
	startedAt   time.Time
	lastCheck   time.Time
	lastGrowth  time.Time
	accumulated strings.Builder
	fired       bool
}

// NewLoopDetector creates a detector; zero-valued intervals fall back to
// the stock defaults (15s warmup, 5s check interval).
func NewLoopDetector(cfg LoopDetectorConfig) *LoopDetector {
	if cfg.WarmupPeriod <= 0 {
		cfg.WarmupPeriod = 15 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	now := time.Now()
	return &LoopDetector{cfg: cfg, startedAt: now, lastCheck: now, lastGrowth: now}
}

// Feed appends a chunk of streamed text and, outside the warmup period and
// no more often than CheckInterval, evaluates every configured pattern in
// order. The first match fires OnLoopDetected exactly once for this
// detector's lifetime.
func (d *LoopDetector) Feed(chunk string) {
	if chunk == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.accumulated.WriteString(chunk)
	d.lastGrowth = time.Now()

	if d.fired {
		return
	}
	now := time.Now()
	if now.Sub(d.startedAt) < d.cfg.WarmupPeriod {
		return
	}
	if now.Sub(d.lastCheck) < d.cfg.CheckInterval {
		return
	}
	d.lastCheck = now

	text := d.accumulated.String()
	for _, p := range d.cfg.Patterns {
		if p.Check == nil {
			continue
		}
		if p.Check(text) {
			d.fired = true
			if d.cfg.OnLoopDetected != nil {
				d.cfg.OnLoopDetected(p.Name)
			}
			return
		}
	}
}

// CheckStall reports whether no new characters have arrived within
// StallTimeout; callers are expected to poll this on a timer since a
// stalled stream never calls Feed again. Fires OnLoopDetected with the
// synthetic pattern name "stall" at most once.
func (d *LoopDetector) CheckStall() bool {
	if d.cfg.StallTimeout <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fired {
		return false
	}
	if time.Since(d.startedAt) < d.cfg.WarmupPeriod {
		return false
	}
	if time.Since(d.lastGrowth) < d.cfg.StallTimeout {
		return false
	}
	d.fired = true
	if d.cfg.OnLoopDetected != nil {
		d.cfg.OnLoopDetected("stall")
	}
	return true
}

// Reset clears accumulated text and the fired flag, for reuse across turns
// on a pooled agent.
func (d *LoopDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accumulated.Reset()
	d.fired = false
	now := time.Now()
	d.startedAt = now
	d.lastCheck = now
	d.lastGrowth = now
}
