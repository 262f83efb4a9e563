package config

import "time"

// SessionConfig controls agent-loop timing: watchdog thresholds, duration
// budgets per thoroughness level, and loop-detector tuning.
type SessionConfig struct {
	// Thoroughness selects the maxDuration budget: quick ~1min, medium
	// ~5min, thorough ~10min, uncapped.
	Thoroughness string `yaml:"thoroughness"`

	// HistoryDB, when set, points at a SQLite file that persists sessions,
	// message history, and tool events across restarts. Empty keeps
	// everything in memory.
	HistoryDB string `yaml:"history_db"`

	// Archive, when configured with a bucket, uploads the session
	// transcript to S3 when the process exits.
	Archive ArchiveConfig `yaml:"archive"`

	Watchdog      WatchdogConfig      `yaml:"watchdog"`
	LoopDetector  LoopDetectorConfig  `yaml:"loop_detector"`
	Cycle         CycleDetectionConfig `yaml:"cycle_detection"`
	Exploratory   ExploratoryConfig   `yaml:"exploratory"`
}

// ArchiveConfig names the S3 destination for transcript archival.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// WatchdogConfig configures the per-agent activity watchdog.
type WatchdogConfig struct {
	Enabled            bool          `yaml:"enabled"`
	CheckInterval      time.Duration `yaml:"check_interval"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxContinuations   int           `yaml:"max_continuations"`
	RefcountSafetyCeiling int        `yaml:"refcount_safety_ceiling"`
}

// LoopDetectorConfig configures the thinking/content loop detector.
type LoopDetectorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WarmupPeriod    time.Duration `yaml:"warmup_period"`
	CheckInterval   time.Duration `yaml:"check_interval"`
	RepetitionWindow int          `yaml:"repetition_window_chars"`
	RepetitionCount int           `yaml:"repetition_count"`
	StallTimeout    time.Duration `yaml:"stall_timeout"`
}

// CycleDetectionConfig configures tool-call cycle detection.
type CycleDetectionConfig struct {
	WindowSize     int `yaml:"window_size"`
	Threshold      int `yaml:"threshold"`
	BreakThreshold int `yaml:"break_threshold"`
}

// ExploratoryConfig configures the exploratory-streak reminder thresholds.
type ExploratoryConfig struct {
	GentleThreshold int `yaml:"gentle_threshold"`
	SternThreshold  int `yaml:"stern_threshold"`
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Thoroughness == "" {
		cfg.Thoroughness = "medium"
	}
	if cfg.Watchdog.CheckInterval == 0 {
		cfg.Watchdog.CheckInterval = 10 * time.Second
	}
	if cfg.Watchdog.Timeout == 0 {
		cfg.Watchdog.Timeout = 90 * time.Second
	}
	if cfg.Watchdog.MaxContinuations == 0 {
		cfg.Watchdog.MaxContinuations = 3
	}
	if cfg.Watchdog.RefcountSafetyCeiling == 0 {
		cfg.Watchdog.RefcountSafetyCeiling = 10
	}
	if cfg.LoopDetector.WarmupPeriod == 0 {
		cfg.LoopDetector.WarmupPeriod = 15 * time.Second
	}
	if cfg.LoopDetector.CheckInterval == 0 {
		cfg.LoopDetector.CheckInterval = 5 * time.Second
	}
	if cfg.LoopDetector.RepetitionWindow == 0 {
		cfg.LoopDetector.RepetitionWindow = 400
	}
	if cfg.LoopDetector.RepetitionCount == 0 {
		cfg.LoopDetector.RepetitionCount = 3
	}
	if cfg.LoopDetector.StallTimeout == 0 {
		cfg.LoopDetector.StallTimeout = 45 * time.Second
	}
	if cfg.Cycle.WindowSize == 0 {
		cfg.Cycle.WindowSize = 15
	}
	if cfg.Cycle.Threshold == 0 {
		cfg.Cycle.Threshold = 3
	}
	if cfg.Cycle.BreakThreshold == 0 {
		cfg.Cycle.BreakThreshold = 3
	}
	if cfg.Exploratory.GentleThreshold == 0 {
		cfg.Exploratory.GentleThreshold = 4
	}
	if cfg.Exploratory.SternThreshold == 0 {
		cfg.Exploratory.SternThreshold = 8
	}
}

// MaxDuration maps a thoroughness level to a wall-clock budget. A zero
// duration means uncapped.
func (c SessionConfig) MaxDuration() time.Duration {
	switch c.Thoroughness {
	case "quick":
		return time.Minute
	case "medium":
		return 5 * time.Minute
	case "thorough":
		return 10 * time.Minute
	default:
		return 0
	}
}
