// Package jobs tracks the long-running jobs the language server announces.
package jobs

import (
	"sort"
	"sync"
	"time"
)

// Started is the payload of a notifyJobStarted notification.
type Started struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Ended is the payload of a notifyJobEnded notification.
type Ended struct {
	ID string `json:"id"`
}

// Job is a running job.
type Job struct {
	Started
	StartedAt time.Time `json:"started_at"`
}

type Tracker struct {
	mu   sync.Mutex
	jobs map[string]Job
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]Job), now: time.Now}
}

// Start records a job. Restarting a known id keeps its original start time.
func (t *Tracker) Start(s Started) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.jobs[s.ID]; ok {
		existing.Started = s
		t.jobs[s.ID] = existing
		return
	}
	t.jobs[s.ID] = Job{Started: s, StartedAt: t.now()}
}

// End forgets a job. It reports whether the job was known.
func (t *Tracker) End(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.jobs[id]
	delete(t.jobs, id)
	return ok
}

// Active returns running jobs, oldest first.
func (t *Tracker) Active() []Job {
	t.mu.Lock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
