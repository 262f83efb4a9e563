package agent

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoPatches is returned when Undo is called with an empty journal.
var ErrNoPatches = errors.New("patchjournal: no patches to undo")

// Patch captures the pre-image of a file before a mutating tool call
// committed, so the most recent mutation can be undone.
type Patch struct {
	ID        string
	Path      string
	CallID    string
	Existed   bool // false means the file did not exist before the mutation (a create)
	PreImage  string
	Timestamp time.Time
	Size      int
}

// PatchJournalConfig bounds the journal's memory footprint.
type PatchJournalConfig struct {
	MaxPatches   int
	MaxTotalKiB  int
}

// PatchJournal is a per-session undo log for mutating tools (write, edit,
// line-edit, delete). When a cap is hit the oldest patch is dropped.
type PatchJournal struct {
	mu      sync.Mutex
	cfg     PatchJournalConfig
	patches []Patch
	total   int
}

// NewPatchJournal creates a journal bounded by cfg. Non-positive fields
// fall back to sane defaults (200 patches, 50MiB).
func NewPatchJournal(cfg PatchJournalConfig) *PatchJournal {
	if cfg.MaxPatches <= 0 {
		cfg.MaxPatches = 200
	}
	if cfg.MaxTotalKiB <= 0 {
		cfg.MaxTotalKiB = 50 * 1024
	}
	return &PatchJournal{cfg: cfg}
}

// Capture records the pre-image of path before a mutating tool commits.
// existed=false marks a create: undoing it removes the file rather than
// restoring content.
func (j *PatchJournal) Capture(path, callID, preImage string, existed bool) Patch {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := Patch{
		ID:        uuid.NewString(),
		Path:      path,
		CallID:    callID,
		Existed:   existed,
		PreImage:  preImage,
		Timestamp: time.Now(),
		Size:      len(preImage),
	}
	j.patches = append(j.patches, p)
	j.total += p.Size

	for len(j.patches) > j.cfg.MaxPatches || j.total > j.cfg.MaxTotalKiB*1024 {
		oldest := j.patches[0]
		j.patches = j.patches[1:]
		j.total -= oldest.Size
	}
	return p
}

// Peek returns the most recent patch without removing it.
func (j *PatchJournal) Peek() (Patch, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) == 0 {
		return Patch{}, false
	}
	return j.patches[len(j.patches)-1], true
}

// Undo pops and applies the most recent patch to disk: a deleted file's
// content is restored, and an undone create removes the file it added.
func (j *PatchJournal) Undo() (Patch, error) {
	j.mu.Lock()
	if len(j.patches) == 0 {
		j.mu.Unlock()
		return Patch{}, ErrNoPatches
	}
	p := j.patches[len(j.patches)-1]
	j.patches = j.patches[:len(j.patches)-1]
	j.total -= p.Size
	j.mu.Unlock()

	if !p.Existed {
		if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
			return p, err
		}
		return p, nil
	}
	if err := os.WriteFile(p.Path, []byte(p.PreImage), 0o644); err != nil {
		return p, err
	}
	return p, nil
}

// Count returns the number of patches currently retained.
func (j *PatchJournal) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.patches)
}

// Reset discards all patches, e.g. on session end.
func (j *PatchJournal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.patches = nil
	j.total = 0
}
