/*
Package drilldown memoizes hierarchy expansions for one analysis view.

PURPOSE:
  The analysis screen opens sections first and expands one branch at a
  time. Each expansion is a full engine query scoped to the children of the
  branch. A Session keeps the results so collapsing and re-expanding a
  branch never re-runs aggregation.

STATE MACHINE (per branch):
  Collapsed -> Loading -> Expanded
  Expanded  -> Collapsed            on Collapse (result kept)
  any       -> Collapsed            on Invalidate or filter change (result dropped)

KEYS:
  Key{Level, Parent, FilterHash}. Level is the level of the children, Parent
  the path of the expanded node ("" for the root).

RULES:
  1. Concurrent Expand calls for the same key share one fetch (singleflight);
     a caller that cancels stops waiting, the fetch still completes and
     is stored for the others
  2. A filter change drops every branch and bumps the generation; a fetch
     started under an older generation returns ErrStaleExpansion and is
     not stored
  3. Errors are never cached: the branch goes back to Collapsed
  4. Refresh re-aggregates one branch, bypassing the shared ResultCache
  5. Degraded results stay in the session but are not written to the
     shared ResultCache

SEE ALSO:
  - cache.go: Shared Noop / Redis result tier
  - registry.go: Sessions by id with idle eviction
  - engine/engine.go: The Fetcher implementation
*/
package drilldown

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

// ErrStaleExpansion is returned when the filter changed while a branch was
// being fetched.
var ErrStaleExpansion = errors.New("expansion discarded: filter changed while loading")

// =============================================================================
// TYPES
// =============================================================================

type State string

const (
	StateCollapsed State = "collapsed"
	StateLoading   State = "loading"
	StateExpanded  State = "expanded"
)

const cacheKeyPrefix = "recon:drill:"

// Key identifies one branch under one filter.
type Key struct {
	Level      engine.Level
	Parent     string
	FilterHash string
}

// CacheKey is the key used in the shared ResultCache.
func (k Key) CacheKey() string {
	sum := sha1.Sum([]byte(string(k.Level) + "|" + k.Parent + "|" + k.FilterHash))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Fetcher runs one scoped analysis. *engine.Engine implements it.
type Fetcher interface {
	Query(ctx context.Context, scope engine.Scope, filter engine.PeriodFilter) (*engine.QueryResult, error)
}

// Branch describes one branch for status views.
type Branch struct {
	Level     engine.Level
	Parent    string
	State     State
	Rows      int
	FetchedAt time.Time
}

type branch struct {
	state     State
	result    *engine.QueryResult
	fetchedAt time.Time
}

// Options tune a Session.
type Options struct {
	Cache    ResultCache
	CacheTTL time.Duration
	Now      func() time.Time
}

// =============================================================================
// SESSION
// =============================================================================

type Session struct {
	ID string

	fetcher  Fetcher
	cache    ResultCache
	cacheTTL time.Duration
	now      func() time.Time

	mu         sync.Mutex
	filter     engine.PeriodFilter
	filterHash string
	generation uint64
	branches   map[Key]*branch
	lastUsed   time.Time

	flight singleflight.Group
}

// NewSession creates a session with no branches. The first Expand sets its filter.
func NewSession(id string, fetcher Fetcher, opts Options) *Session {
	if opts.Cache == nil {
		opts.Cache = NoopResultCache{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		ID:       id,
		fetcher:  fetcher,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		now:      opts.Now,
		branches: make(map[Key]*branch),
		lastUsed: opts.Now(),
	}
}

// Expand returns the children of parent under filter, from memory when the
// branch was fetched before.
func (s *Session) Expand(ctx context.Context, parent engine.Path, filter engine.PeriodFilter) (*engine.QueryResult, error) {
	level, err := childLevel(parent)
	if err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.touch()
	if filter.Hash() != s.filterHash {
		s.invalidateLocked(filter)
	}
	key := Key{Level: level, Parent: parent.String(), FilterHash: s.filterHash}
	gen := s.generation
	if b, ok := s.branches[key]; ok && b.result != nil {
		b.state = StateExpanded
		res := b.result
		s.mu.Unlock()
		zerolog.Ctx(ctx).Debug().Str("session", s.ID).Str("parent", key.Parent).Msg("drill-down cache hit")
		return res, nil
	}
	s.branches[key] = &branch{state: StateLoading}
	s.mu.Unlock()

	res, shared, err := s.do(ctx, "expand", key, gen, func(ctx context.Context) (*engine.QueryResult, error) {
		return s.load(ctx, key, parent, filter, false)
	})
	if shared {
		zerolog.Ctx(ctx).Debug().Str("session", s.ID).Str("parent", key.Parent).Msg("joined in-flight expansion")
	}
	return res, err
}

// ExpandMany expands several branches concurrently under one filter.
// Results are returned in the order of parents.
func (s *Session) ExpandMany(ctx context.Context, parents []engine.Path, filter engine.PeriodFilter) ([]*engine.QueryResult, error) {
	results := make([]*engine.QueryResult, len(parents))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parents {
		i, p := i, p
		g.Go(func() error {
			res, err := s.Expand(gctx, p, filter)
			if err != nil {
				return fmt.Errorf("expand %q: %w", p.String(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Collapse hides a branch and keeps its result for the next Expand.
// It reports whether the branch was expanded.
func (s *Session) Collapse(parent engine.Path) bool {
	level, err := childLevel(parent)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	b, ok := s.branches[Key{Level: level, Parent: parent.String(), FilterHash: s.filterHash}]
	if !ok || b.state != StateExpanded {
		return false
	}
	b.state = StateCollapsed
	return true
}

// Refresh re-aggregates one branch under the current filter, ignoring both
// the session memo and the shared cache.
func (s *Session) Refresh(ctx context.Context, parent engine.Path) (*engine.QueryResult, error) {
	level, err := childLevel(parent)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.touch()
	if s.filterHash == "" {
		s.mu.Unlock()
		return nil, &engine.ValidationError{Field: "filter", Message: "expand a branch before refreshing it"}
	}
	filter := s.filter
	key := Key{Level: level, Parent: parent.String(), FilterHash: s.filterHash}
	gen := s.generation
	s.branches[key] = &branch{state: StateLoading}
	s.mu.Unlock()

	res, _, err := s.do(ctx, "refresh", key, gen, func(ctx context.Context) (*engine.QueryResult, error) {
		return s.load(ctx, key, parent, filter, true)
	})
	return res, err
}

// Invalidate drops every branch and makes filter the active one.
// Fetches still in flight are discarded when they complete.
func (s *Session) Invalidate(filter engine.PeriodFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.invalidateLocked(filter)
}

// State returns the state of the branch below parent under the current filter.
func (s *Session) State(parent engine.Path) State {
	level, err := childLevel(parent)
	if err != nil {
		return StateCollapsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.branches[Key{Level: level, Parent: parent.String(), FilterHash: s.filterHash}]; ok {
		return b.state
	}
	return StateCollapsed
}

// Branches lists every known branch ordered by parent path.
func (s *Session) Branches() []Branch {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Branch, 0, len(s.branches))
	for k, b := range s.branches {
		br := Branch{Level: k.Level, Parent: k.Parent, State: b.state, FetchedAt: b.fetchedAt}
		if b.result != nil {
			br.Rows = len(b.result.Rows)
		}
		out = append(out, br)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parent < out[j].Parent })
	return out
}

// Filter returns the active filter and whether one was set.
func (s *Session) Filter() (engine.PeriodFilter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter, s.filterHash != ""
}

// LastUsed is the time of the most recent operation.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// =============================================================================
// INTERNALS
// =============================================================================

// do runs fetch once per (op, key, generation) and stores its outcome.
// The shared fetch ignores the cancellation of whichever caller started it.
// Each caller waits only as long as its own ctx allows.
func (s *Session) do(ctx context.Context, op string, key Key, gen uint64,
	fetch func(context.Context) (*engine.QueryResult, error)) (*engine.QueryResult, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(flightKey(op, key, gen), func() (any, error) {
		res, err := fetch(detached)
		return s.store(key, gen, res, err)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Shared, r.Err
		}
		return r.Val.(*engine.QueryResult), r.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Session) load(ctx context.Context, key Key, parent engine.Path, filter engine.PeriodFilter, bypass bool) (*engine.QueryResult, error) {
	log := zerolog.Ctx(ctx)
	cacheKey := key.CacheKey()

	if !bypass {
		res, ok, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			log.Warn().Err(err).Str("key", cacheKey).Msg("result cache read failed")
		} else if ok {
			return res, nil
		}
	}

	res, err := s.fetcher.Query(ctx, engine.Scope{Level: key.Level, Parent: parent}, filter)
	if err != nil {
		return nil, err
	}
	if !res.Degraded {
		if err := s.cache.Set(ctx, cacheKey, res, s.cacheTTL); err != nil {
			log.Warn().Err(err).Str("key", cacheKey).Msg("result cache write failed")
		}
	}
	return res, nil
}

// store records the outcome of a fetch started under generation gen.
func (s *Session) store(key Key, gen uint64, res *engine.QueryResult, err error) (*engine.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return nil, ErrStaleExpansion
	}
	if err != nil {
		delete(s.branches, key)
		return nil, err
	}
	s.branches[key] = &branch{state: StateExpanded, result: res, fetchedAt: s.now()}
	return res, nil
}

func (s *Session) invalidateLocked(filter engine.PeriodFilter) {
	s.filter = filter
	s.filterHash = filter.Hash()
	s.generation++
	s.branches = make(map[Key]*branch)
}

func (s *Session) touch() {
	s.lastUsed = s.now()
}

func flightKey(op string, k Key, gen uint64) string {
	return fmt.Sprintf("%s|%d|%s|%s|%s", op, gen, k.Level, k.Parent, k.FilterHash)
}

// childLevel returns the level listed when parent is expanded.
func childLevel(parent engine.Path) (engine.Level, error) {
	if parent.IsRoot() {
		return engine.LevelSection, nil
	}
	level, ok := parent.Level()
	if !ok {
		return "", &engine.ValidationError{Field: "parent", Message: "path is deeper than the hierarchy"}
	}
	child, ok := level.Child()
	if !ok {
		return "", &engine.ValidationError{Field: "parent", Message: "items cannot be expanded"}
	}
	return child, nil
}
