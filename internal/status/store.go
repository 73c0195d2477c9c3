// Package status keeps the latest known state of every job.
package status

import (
	"sync"
	"time"

	"github.com/tastythames/blast-runner/internal/job"
)

// State is the last thing a job reported.
type State struct {
	Kind    string
	Status  job.Status // empty while running
	Percent int
	Message string
	At      time.Time
}

// Running reports whether no terminal event has been seen yet.
func (s State) Running() bool { return s.Status == "" }

// Store is the interface used by the CLI and metrics.
type Store interface {
	Apply(kind string, ev job.Event)
	Snapshot() map[string]State
}

// MemStore is an in-memory implementation of Store.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]State
}

func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string]State),
	}
}

// Apply folds one job event into the stored state.
func (c *MemStore) Apply(kind string, ev job.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.data[ev.JobID]
	s.Kind = kind
	s.At = time.Now()
	switch ev.Kind {
	case job.EventMessage:
		s.Message = ev.Text
	case job.EventPercent:
		s.Percent = ev.Percent
	case job.EventDone:
		if ev.Outcome != nil {
			s.Status = ev.Outcome.Status
			s.Message = ev.Outcome.Message
			if ev.Outcome.OK() {
				s.Percent = 100
			}
		}
	}
	c.data[ev.JobID] = s
}

func (c *MemStore) Snapshot() map[string]State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]State, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}
