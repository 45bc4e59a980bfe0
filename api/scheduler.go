/*
scheduler.go - Idle drill-down session sweeper

PURPOSE:
  Periodically closes drill-down sessions nobody has touched for a while,
  so the memoized branches of abandoned views do not accumulate.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - Evicts every session whose last operation is older than IdleTimeout

CONFIGURATION:
  - CheckInterval: How often to sweep (sessions.sweep_interval)
  - IdleTimeout: Inactivity before eviction (sessions.idle_timeout)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSessionSweeper(registry, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - drilldown/registry.go: EvictIdle
*/
package api

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Betotradicao/TESTES--sub002/drilldown"
)

// SessionSweeper evicts idle drill-down sessions.
type SessionSweeper struct {
	Sessions      *drilldown.Registry
	CheckInterval time.Duration
	IdleTimeout   time.Duration
	Enabled       bool

	logger zerolog.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionSweeper creates a sweeper with a one minute interval and a
// thirty minute idle timeout.
func NewSessionSweeper(sessions *drilldown.Registry, logger zerolog.Logger) *SessionSweeper {
	return &SessionSweeper{
		Sessions:      sessions,
		CheckInterval: time.Minute,
		IdleTimeout:   30 * time.Minute,
		Enabled:       true,
		logger:        logger.With().Str("component", "session-sweeper").Logger(),
	}
}

// Start begins the sweeper.
func (ss *SessionSweeper) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		ss.logger.Info().Msg("disabled, not starting")
		return
	}
	if ss.ticker != nil {
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.stop = make(chan bool)
	ss.wg.Add(1)

	go ss.run(ss.ticker, ss.stop)

	ss.logger.Info().
		Dur("interval", ss.CheckInterval).
		Dur("idle_timeout", ss.IdleTimeout).
		Msg("started")
}

// Stop stops the sweeper and waits for the running sweep.
func (ss *SessionSweeper) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		ss.ticker = nil
		ss.logger.Info().Msg("stopped")
	}
}

func (ss *SessionSweeper) run(ticker *time.Ticker, stop chan bool) {
	defer ss.wg.Done()

	ss.RunNow()

	for {
		select {
		case <-ticker.C:
			ss.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and returns the evicted session ids.
func (ss *SessionSweeper) RunNow() []string {
	evicted := ss.Sessions.EvictIdle(ss.IdleTimeout)
	if len(evicted) > 0 {
		ss.logger.Info().Int("evicted", len(evicted)).Int("open", ss.Sessions.Len()).Msg("idle sessions closed")
	} else {
		ss.logger.Debug().Int("open", ss.Sessions.Len()).Msg("no idle sessions")
	}
	return evicted
}
