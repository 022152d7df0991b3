// Package registry tracks the set of live sessions for a process and reaps
// idle ones. It is the single piece of process-wide shared state the
// design allows (spec.md §3, §5, §9 DESIGN NOTES — "replace the global
// session dict with a registry type guarded by a lock").
package registry

import (
	"sync"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// Closer is implemented by anything the registry must tear down when a
// session is removed, without the registry needing to know pipeline
// internals.
type Closer interface {
	Close()
}

type entry struct {
	session *voicesession.Session
	closer  Closer
}

// Registry is a lock-guarded map of session id to Session. Readers take a
// snapshot copy rather than holding the lock across iteration (spec.md §5
// "the registry exposes a snapshot copy to readers").
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	logger  voicesession.Logger
}

func New(logger voicesession.Logger) *Registry {
	if logger == nil {
		logger = voicesession.NoOpLogger{}
	}
	return &Registry{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Put registers a session and the closer that owns its pipeline/transport.
func (r *Registry) Put(s *voicesession.Session, closer Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = entry{session: s, closer: closer}
}

func (r *Registry) Get(id string) (*voicesession.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Remove closes and deletes the session, if present. Safe to call more than
// once for the same id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok && e.closer != nil {
		e.closer.Close()
	}
}

// Snapshot returns a copy of the currently registered sessions, safe to
// range over without holding the registry lock.
func (r *Registry) Snapshot() []*voicesession.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*voicesession.Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reaper periodically scans the registry and removes sessions idle longer
// than their configured timeout (spec.md §4.8). Call Run in its own
// goroutine; close the stop channel passed to Run to stop it.
type Reaper struct {
	registry *Registry
	interval time.Duration
	logger   voicesession.Logger
}

func NewReaper(r *Registry, interval time.Duration, logger voicesession.Logger) *Reaper {
	if logger == nil {
		logger = voicesession.NoOpLogger{}
	}
	return &Reaper{registry: r, interval: interval, logger: logger}
}

func (rp *Reaper) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rp.sweep()
		}
	}
}

func (rp *Reaper) sweep() {
	for _, s := range rp.registry.Snapshot() {
		timeout := time.Duration(s.Config.SessionIdleTimeout) * time.Second
		if timeout <= 0 {
			continue
		}
		if s.IdleFor() > timeout {
			rp.logger.Info("reaping idle session", "sessionID", s.ID, "idleFor", s.IdleFor().String())
			s.CancelActive()
			s.SetState(voicesession.StateClosed)
			rp.registry.Remove(s.ID)
		}
	}
}
