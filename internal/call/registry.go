package call

import (
	"context"
	"sync"
	"time"

	"github.com/antoniostano/handoff/internal/apperr"
)

// Registry is the in-memory source of truth for active call sessions, keyed
// by room identifier.
//
// Two locks are at play: the registry-level mutex guards the session map and
// individual snapshot mutations, while each session carries a transition
// mutex that serializes whole orchestrator transitions. start_transfer,
// fail_transfer and merge_calls are reachable from independent trigger
// sources (API call, transport webhook) and must never interleave for one
// session.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*registryEntry
	idleTimeout time.Duration
	onEvict     func(Session)
}

type registryEntry struct {
	txMu sync.Mutex
	s    *Session
}

func NewRegistry(idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Registry{
		sessions:    make(map[string]*registryEntry),
		idleTimeout: idleTimeout,
	}
}

func (r *Registry) SetEvictHook(hook func(Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = hook
}

func (r *Registry) Create(s Session) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.RoomID]; ok {
		return apperr.Newf(apperr.KindConflict, "call session %q already exists", s.RoomID)
	}
	r.sessions[s.RoomID] = &registryEntry{s: cloneSession(&s)}
	return nil
}

func (r *Registry) Get(roomID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[roomID]
	if !ok {
		return Session{}, apperr.Newf(apperr.KindNotFound, "call session %q not found", roomID)
	}
	return *cloneSession(e.s), nil
}

// Update applies fn to the session under the registry lock and returns the
// resulting snapshot. fn sees a live pointer; it must not retain it.
func (r *Registry) Update(roomID string, fn func(*Session) error) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[roomID]
	if !ok {
		return Session{}, apperr.Newf(apperr.KindNotFound, "call session %q not found", roomID)
	}
	if err := fn(e.s); err != nil {
		return Session{}, err
	}
	e.s.UpdatedAt = time.Now().UTC()
	return *cloneSession(e.s), nil
}

// Lock acquires the session's transition mutex. Every orchestrator
// transition runs inside it, including event-triggered ones, which is what
// makes a late consult-room-closed event and an in-flight merge mutually
// exclusive.
func (r *Registry) Lock(roomID string) (func(), error) {
	r.mu.RLock()
	e, ok := r.sessions[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "call session %q not found", roomID)
	}
	e.txMu.Lock()
	return e.txMu.Unlock, nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, e := range r.sessions {
		if e.s.Status != StatusCompleted {
			count++
		}
	}
	return count
}

// StartJanitor sweeps idle sessions on an interval. The source system kept
// sessions forever; completed calls are evicted after the idle timeout, and
// calls stuck without activity are evicted after four times that. In-flight
// transfers are never swept.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictIdle()
			}
		}
	}()
}

func (r *Registry) evictIdle() {
	now := time.Now().UTC()
	var evicted []Session

	r.mu.Lock()
	for roomID, e := range r.sessions {
		if e.s.Status == StatusTransferring {
			continue
		}
		idle := now.Sub(e.s.UpdatedAt)
		completed := e.s.Status == StatusCompleted
		if (completed && idle >= r.idleTimeout) || idle >= 4*r.idleTimeout {
			evicted = append(evicted, *cloneSession(e.s))
			delete(r.sessions, roomID)
		}
	}
	hook := r.onEvict
	r.mu.Unlock()

	if hook != nil {
		for _, s := range evicted {
			hook(s)
		}
	}
}

func cloneSession(s *Session) *Session {
	c := *s
	if s.History != nil {
		c.History = make([]Entry, len(s.History))
		copy(c.History, s.History)
	}
	return &c
}
