package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// AgentRunStatus is the lifecycle state of a background-delegated agent
// run.
type AgentRunStatus string

const (
	AgentStatusRunning   AgentRunStatus = "running"
	AgentStatusCompleted AgentRunStatus = "completed"
	AgentStatusError     AgentRunStatus = "error"
	AgentStatusKilled    AgentRunStatus = "killed"
)

// AgentOutcome describes how a background-delegated agent run ended.
type AgentOutcome struct {
	Status  AgentRunStatus
	Result  string
	Error   string
	EndedAt time.Time
}

// AgentRunRecord tracks one agent delegated to run in the background,
// i.e. spawned without the caller blocking on its completion.
type AgentRunRecord struct {
	ID           string
	Task         string
	ParentCallID string
	CreatedAt    time.Time
	StartedAt    time.Time
	Outcome      *AgentOutcome

	cancel context.CancelFunc
}

// IsComplete reports whether the run has a terminal outcome.
func (r *AgentRunRecord) IsComplete() bool {
	return r.Outcome != nil
}

// AgentSupervisorConfig configures an AgentSupervisor.
type AgentSupervisorConfig struct {
	DefaultTimeout time.Duration
	ArchiveAfter   time.Duration
	SweepInterval  time.Duration
	OnRunComplete  func(ctx context.Context, record *AgentRunRecord)
}

// DefaultAgentSupervisorConfig returns sensible defaults: a 10-minute
// default timeout and a 1-hour archive window.
func DefaultAgentSupervisorConfig() *AgentSupervisorConfig {
	return &AgentSupervisorConfig{
		DefaultTimeout: 10 * time.Minute,
		ArchiveAfter:   time.Hour,
		SweepInterval:  time.Minute,
	}
}

// AgentSupervisor tracks agents delegated to run in the background,
// independent of the tool call that spawned them, exposing list/get/kill
// and a scheduled sweep that archives completed runs after a TTL. IDs are
// bg-agent-<unixMs>-<rand>.
type AgentSupervisor struct {
	mu      sync.RWMutex
	cfg     *AgentSupervisorConfig
	runs    map[string]*AgentRunRecord
	sweeper *cron.Cron
	stopped bool
}

// NewAgentSupervisor creates a supervisor and schedules its sweep job.
func NewAgentSupervisor(cfg *AgentSupervisorConfig) *AgentSupervisor {
	if cfg == nil {
		cfg = DefaultAgentSupervisorConfig()
	}
	s := &AgentSupervisor{
		cfg:  cfg,
		runs: make(map[string]*AgentRunRecord),
	}
	if cfg.SweepInterval > 0 {
		s.sweeper = cron.New()
		s.sweeper.Schedule(cron.Every(cfg.SweepInterval), cron.FuncJob(s.sweep))
		s.sweeper.Start()
	}
	return s
}

// Spawn registers a new background agent run and returns its record. run
// is invoked in its own goroutine with a context cancelled either by
// KillAgent or by the record's configured timeout; the caller is
// responsible for actually driving the agent loop inside run.
func (s *AgentSupervisor) Spawn(task, parentCallID string, timeout time.Duration, run func(ctx context.Context) (string, error)) *AgentRunRecord {
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	record := &AgentRunRecord{
		ID:           fmt.Sprintf("bg-agent-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8]),
		Task:         task,
		ParentCallID: parentCallID,
		CreatedAt:    time.Now(),
		StartedAt:    time.Now(),
		cancel:       cancel,
	}

	s.mu.Lock()
	s.runs[record.ID] = record
	s.mu.Unlock()

	go func() {
		result, err := run(ctx)
		cancel()

		outcome := &AgentOutcome{EndedAt: time.Now()}
		switch {
		case errors.Is(ctx.Err(), context.Canceled) && err != nil:
			outcome.Status = AgentStatusKilled
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			outcome.Status = AgentStatusError
			outcome.Error = "background agent exceeded its timeout"
		case err != nil:
			outcome.Status = AgentStatusError
			outcome.Error = err.Error()
		default:
			outcome.Status = AgentStatusCompleted
			outcome.Result = result
		}

		s.mu.Lock()
		record.Outcome = outcome
		s.mu.Unlock()

		if s.cfg.OnRunComplete != nil {
			s.cfg.OnRunComplete(context.Background(), record)
		}
	}()

	return record
}

// Get returns a copy of the run record for id.
func (s *AgentSupervisor) Get(id string) (AgentRunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return AgentRunRecord{}, false
	}
	return *r, true
}

// ListActive returns every run that has not yet reached a terminal outcome.
func (s *AgentSupervisor) ListActive() []AgentRunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AgentRunRecord
	for _, r := range s.runs {
		if !r.IsComplete() {
			out = append(out, *r)
		}
	}
	return out
}

// KillAgent cancels id's context, interrupting its run function and its
// underlying model client call; the run goroutine settles the outcome to
// AgentStatusKilled once it observes the cancellation.
func (s *AgentSupervisor) KillAgent(id string) error {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no background agent with id %s", id)
	}
	if r.IsComplete() {
		return nil
	}
	r.cancel()
	return nil
}

// Stop halts the scheduled sweep.
func (s *AgentSupervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sweeper := s.sweeper
	s.mu.Unlock()
	if sweeper != nil {
		sweeper.Stop()
	}
}

func (s *AgentSupervisor) sweep() {
	if s.cfg.ArchiveAfter <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.ArchiveAfter)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.runs {
		if r.IsComplete() && r.Outcome.EndedAt.Before(cutoff) {
			delete(s.runs, id)
		}
	}
}
