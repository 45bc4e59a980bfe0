/*
scenarios_test.go - Tests for the demo dataset endpoints

PURPOSE:
	Tests that loading a scenario replaces the store contents, tracks the
	current scenario and drops drill-down state computed from older data.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Betotradicao/TESTES--sub002/drilldown"
	"github.com/Betotradicao/TESTES--sub002/engine"
	"github.com/Betotradicao/TESTES--sub002/store/sqlite"
)

func TestListScenarios(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, 4)
	for _, s := range list {
		_, err := ts.handler.Factory.Preset(s.ID)
		assert.NoError(t, err, "scenario %s has an embedded dataset", s.ID)
	}
}

func TestLoadScenario_ReplacesData(t *testing.T) {
	// GIVEN: hortifruti-padaria is loaded
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "hortifruti-padaria", decode[ScenarioDTO](t, rec).ID)

	// WHEN: Loading the carcass scenario
	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "decomposition-boi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: Only Acougue remains and its cuts borrow from the carcass
	rec = ts.do(t, http.MethodGet, "/api/analysis?decomposition=children&"+march, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[AnalysisResponse](t, rec)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "30", res.Rows[0].Node.Code)
	assert.Equal(t, 20000.0, res.Rows[0].FinalPurchaseValue)

	rec = ts.do(t, http.MethodGet, "/api/analysis?level=subgroup&parent=30/1&decomposition=children&"+march, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	subgroups := decode[AnalysisResponse](t, rec)
	assert.Equal(t, 5000.0, rowFor(t, subgroups.Rows, "30/1/1").FinalPurchaseValue)
	assert.Equal(t, 7000.0, rowFor(t, subgroups.Rows, "30/1/2").BorrowedValue)

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "decomposition-boi", decode[ScenarioDTO](t, rec).ID)
}

func TestLoadScenario_UnknownID(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "hortifruti-padaria", decode[ScenarioDTO](t, rec).ID, "current data untouched")
}

func TestResetDatabase(t *testing.T) {
	ts := setupTestServer(t)
	id := openSession(t, ts)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/hierarchy/sections", nil)
	assert.Empty(t, decode[[]NodeDTO](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "sessions built on old data are closed")

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestLoadScenario_PurgesSharedCache(t *testing.T) {
	// GIVEN: A server with a Redis tier holding an expanded branch
	mr := miniredis.RunT(t)
	cache := drilldown.NewRedisResultCache(mr.Addr(), "", 0)
	t.Cleanup(func() { cache.Close() })

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	eng := engine.New(engine.Config{Catalog: db, Facts: db, References: db})
	h := NewHandler(eng, drilldown.NewRegistry(eng, drilldown.Options{Cache: cache, CacheTTL: time.Minute}), db)
	ctx := context.Background()
	require.NoError(t, h.loadScenario(ctx, "hortifruti-padaria"))

	ts := &testServer{handler: h, router: NewRouter(h, RouterOptions{Logger: zerolog.Nop()}), store: db}
	id := openSession(t, ts)
	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/expand", SessionRequest{Filter: childrenFilter()})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, mr.Keys())

	// WHEN: Another scenario is loaded
	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "bonus-mix"})
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: No cached branch survives
	assert.Empty(t, mr.Keys())
}

// slowLoadStore runs duringLoad once, between the hierarchy and the facts
// being written.
type slowLoadStore struct {
	*sqlite.Store
	duringLoad func()
}

func (s *slowLoadStore) SavePurchases(ctx context.Context, lines ...engine.PurchaseLine) error {
	if s.duringLoad != nil {
		s.duringLoad()
		s.duringLoad = nil
	}
	return s.Store.SavePurchases(ctx, lines...)
}

func TestLoadScenario_PurgesBranchesCachedDuringLoad(t *testing.T) {
	// GIVEN: A Redis tier and a client expanding while a scenario is loading
	mr := miniredis.RunT(t)
	cache := drilldown.NewRedisResultCache(mr.Addr(), "", 0)
	t.Cleanup(func() { cache.Close() })

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	demo := &slowLoadStore{Store: db}
	eng := engine.New(engine.Config{Catalog: db, Facts: db, References: db})
	h := NewHandler(eng, drilldown.NewRegistry(eng, drilldown.Options{Cache: cache, CacheTTL: time.Minute}), demo)
	ts := &testServer{handler: h, router: NewRouter(h, RouterOptions{Logger: zerolog.Nop()}), store: db}

	cachedMidLoad := 0
	demo.duringLoad = func() {
		id := openSession(t, ts)
		rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/expand", SessionRequest{Filter: childrenFilter()})
		require.Equal(t, http.StatusOK, rec.Code)
		cachedMidLoad = len(mr.Keys())
	}

	// WHEN: The load completes
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "hortifruti-padaria"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: The branch cached from partial data is gone and a new session sees the full data
	require.Positive(t, cachedMidLoad)
	assert.Empty(t, mr.Keys())

	id := openSession(t, ts)
	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/expand", SessionRequest{Filter: childrenFilter()})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[ExpandResponse](t, rec)
	assert.NotEmpty(t, res.Result.Rows)
}
