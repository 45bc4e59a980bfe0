package drilldown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

// ErrSessionNotFound is returned for unknown or evicted session ids.
var ErrSessionNotFound = fmt.Errorf("drill-down session: %w", engine.ErrNodeNotFound)

// Registry holds the open sessions of every user view.
type Registry struct {
	fetcher Fetcher
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(fetcher Fetcher, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		fetcher:  fetcher,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open creates a session with a fresh id.
func (r *Registry) Open() *Session {
	s := NewSession(uuid.NewString(), r.fetcher, r.opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Close forgets a session. It reports whether the session existed.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictIdle closes sessions unused for longer than idle and returns their ids.
func (r *Registry) EvictIdle(idle time.Duration) []string {
	cutoff := r.opts.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, s := range r.sessions {
		if s.LastUsed().Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Reset closes every session and purges the shared cache. Call it after the
// data behind the engine has been replaced.
func (r *Registry) Reset(ctx context.Context) (int, error) {
	r.mu.Lock()
	n := len(r.sessions)
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	if r.opts.Cache == nil {
		return n, nil
	}
	if err := r.opts.Cache.Purge(ctx); err != nil {
		return n, fmt.Errorf("purge shared cache: %w", err)
	}
	return n, nil
}
