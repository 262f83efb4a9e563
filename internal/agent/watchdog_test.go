package agent

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestActivityWatchdog_FiresOnTimeout(t *testing.T) {
	var fired int32
	w := NewActivityWatchdog(5*time.Millisecond, 10*time.Millisecond, 0, func() {
		atomic.AddInt32(&fired, 1)
	})
	w.Start()
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) == 0 {
		t.Fatal("expected watchdog to fire at least once after timeout")
	}
}

func TestActivityWatchdog_RecordActivityPreventsTimeout(t *testing.T) {
	var fired int32
	w := NewActivityWatchdog(5*time.Millisecond, 20*time.Millisecond, 0, func() {
		atomic.AddInt32(&fired, 1)
	})
	w.Start()
	defer w.Stop()

	stop := time.After(60 * time.Millisecond)
	ticker := time.NewTicker(8 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ticker.C:
			w.RecordActivity()
		}
	}
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("expected repeated activity to prevent timeout")
	}
}

func TestActivityWatchdog_PauseResumeBalance(t *testing.T) {
	w := NewActivityWatchdog(time.Second, time.Second, 0, nil)
	w.Pause()
	w.Pause()
	w.Resume(true)
	w.Resume(true)
	if w.PauseCount() != 0 {
		t.Fatalf("expected balanced pause/resume to return refcount to 0, got %d", w.PauseCount())
	}
}

func TestActivityWatchdog_ResumeFailureDoesNotResetClock(t *testing.T) {
	w := NewActivityWatchdog(time.Second, time.Second, 0, nil)
	before := w.lastActivity
	w.Pause()
	time.Sleep(2 * time.Millisecond)
	w.Resume(false)
	if w.lastActivity.After(before) {
		t.Fatal("expected a failed delegation resume to leave the activity clock untouched")
	}
}

func TestActivityWatchdog_SafetyCeilingRecovers(t *testing.T) {
	w := NewActivityWatchdog(time.Second, time.Second, 2, nil)
	w.Pause()
	w.Pause()
	w.Pause() // exceeds ceiling of 2
	if w.PauseCount() != 1 {
		t.Fatalf("expected safety ceiling breach to reset refcount to 1, got %d", w.PauseCount())
	}
}
