/*
scenarios.go - Demo dataset loaders for testing and demonstrations

PURPOSE:
  Provides pre-built datasets that populate the SQLite store with a small
  hierarchy, a month of purchases and sales, and the reference data that
  produces each kind of loan.

AVAILABLE SCENARIOS:
  hortifruti-padaria:  Production loan of 300 between two sections
  decomposition-boi:   Carcass purchase decomposed into cuts
  association-pack:    Pack items borrowing from loose units
  bonus-mix:           Bonus and other inbound documents, stale reference data

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Parse the embedded JSON via the factory
 3. Write hierarchy, stores, facts and reference data
 4. Reset drill-down sessions and purge the shared cache

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "hortifruti-padaria"}

ADDING NEW SCENARIOS:
 1. Drop a JSON file in factory/presets/
 2. Add it to the 'scenarios' slice with ID, name, description

NOTE:
  Scenarios reset the store. They are only routed when the server runs on
  the SQLite driver.

SEE ALSO:
  - handlers.go: Handler and response helpers
  - factory/dataset.go: Dataset JSON schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Betotradicao/TESTES--sub002/factory"
)

// DemoStore is a store scenarios can be written into.
type DemoStore interface {
	factory.Sink
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "hortifruti-padaria",
		Name:        "Hortifruti lends to Padaria",
		Description: "Tomato bought by Hortifruti is 30% consumed by bread sold in Padaria",
		Category:    "loans",
	},
	{
		ID:          "decomposition-boi",
		Name:        "Carcass decomposed into cuts",
		Description: "Boi casado purchase is split into picanha, alcatra and costela",
		Category:    "loans",
	},
	{
		ID:          "association-pack",
		Name:        "Cans sold as packs",
		Description: "A 12-can pack is sold from loose cans bought by the unit",
		Category:    "loans",
	},
	{
		ID:          "bonus-mix",
		Name:        "Bonus and other inbound documents",
		Description: "Regular purchases, supplier bonus and other CFOPs on one item",
		Category:    "fiscal",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined dataset.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase empties the store.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// loadScenario clears the store and writes the preset with the given id.
func (h *Handler) loadScenario(ctx context.Context, id string) error {
	ds, err := h.Factory.Preset(id)
	if err != nil {
		return err
	}
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := ds.Load(ctx, h.Demo); err != nil {
		return err
	}
	// Queries served while the load ran saw partial data.
	h.resetDrilldown(ctx)

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()

	zerolog.Ctx(ctx).Info().Str("scenario", id).
		Int("purchases", len(ds.Purchases)).
		Int("sales", len(ds.Sales)).
		Msg("scenario loaded")
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if h.Demo == nil {
		return fmt.Errorf("scenarios need the sqlite store")
	}
	if err := h.Demo.Reset(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	// Every memoized branch was computed from the old data.
	h.resetDrilldown(ctx)
	return nil
}

// resetDrilldown closes every session and purges the shared result cache.
func (h *Handler) resetDrilldown(ctx context.Context) {
	closed, err := h.Sessions.Reset(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("shared cache not purged")
	}
	zerolog.Ctx(ctx).Debug().Int("sessions", closed).Msg("drill-down sessions reset")
}
