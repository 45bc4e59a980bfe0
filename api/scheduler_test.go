package api

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Betotradicao/TESTES--sub002/drilldown"
	"github.com/Betotradicao/TESTES--sub002/engine"
	"github.com/Betotradicao/TESTES--sub002/engine/store"
)

func TestSessionSweeper_RunNowEvictsIdle(t *testing.T) {
	// GIVEN: One idle and one recently used session
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	m := store.NewMemory()
	_, err := m.AddNode(nil, engine.HierarchyNode{Level: engine.LevelSection, Code: "10"})
	require.NoError(t, err)
	eng := engine.New(engine.Config{Catalog: m, Facts: m, References: m})
	reg := drilldown.NewRegistry(eng, drilldown.Options{Now: clock})

	idle := reg.Open()
	active := reg.Open()
	now = now.Add(45 * time.Minute)
	active.Invalidate(engine.PeriodFilter{
		StartDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
	})

	sweeper := NewSessionSweeper(reg, zerolog.New(zerolog.NewTestWriter(t)))
	sweeper.IdleTimeout = 30 * time.Minute

	// WHEN: Sweeping
	evicted := sweeper.RunNow()

	// THEN: Only the idle session is closed
	assert.Equal(t, []string{idle.ID}, evicted)
	_, err = reg.Get(active.ID)
	assert.NoError(t, err)
	_, err = reg.Get(idle.ID)
	assert.ErrorIs(t, err, drilldown.ErrSessionNotFound)
}

func TestSessionSweeper_StartStop(t *testing.T) {
	reg := drilldown.NewRegistry(nil, drilldown.Options{})
	reg.Open()

	sweeper := NewSessionSweeper(reg, zerolog.Nop())
	sweeper.CheckInterval = 10 * time.Millisecond
	sweeper.IdleTimeout = 0

	sweeper.Start()
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	sweeper.Stop()

	// Restart after stop
	sweeper.Start()
	sweeper.Stop()
	sweeper.Stop()
}

func TestSessionSweeper_Disabled(t *testing.T) {
	reg := drilldown.NewRegistry(nil, drilldown.Options{})
	reg.Open()

	sweeper := NewSessionSweeper(reg, zerolog.Nop())
	sweeper.Enabled = false
	sweeper.Start()
	sweeper.Stop()

	assert.Equal(t, 1, reg.Len())
}
