/*
handlers.go - HTTP API handlers for the reconciliation engine

PURPOSE:
  Exposes the engine, the drill-down sessions and the demo datasets via a
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the engine.

ENDPOINTS:
  Catalog:
    GET    /api/hierarchy/{level}       Nodes of a level (parent= path)
    GET    /api/stores                  Store list

  Analysis:
    GET    /api/analysis                Rows and totals (level, parent, filter)
    GET    /api/analysis/totals         Totals only
    GET    /api/analysis/loans          Loan detail (direction, level, path)

  Sessions:
    POST   /api/sessions                Open a drill-down session
    GET    /api/sessions/{id}           Branch states
    POST   /api/sessions/{id}/expand    Expand one or several branches
    POST   /api/sessions/{id}/collapse  Hide a branch, keep its rows
    POST   /api/sessions/{id}/refresh   Re-aggregate one branch
    POST   /api/sessions/{id}/invalidate Drop every branch for a new filter
    DELETE /api/sessions/{id}           Close

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, bad filter, end before start
  - 404: Unknown node or session
  - 409: Expansion discarded because the filter changed meanwhile
  - 503: A source is unavailable, Retry-After is set
  - 500: Internal errors

  A loan conservation failure is not an error: the response is 200 with
  "degraded": true.

SEE ALSO:
  - dto.go: Request/response data structures
  - filter.go: Filter parameters
  - scenarios.go: Demo dataset loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Betotradicao/TESTES--sub002/drilldown"
	"github.com/Betotradicao/TESTES--sub002/engine"
	"github.com/Betotradicao/TESTES--sub002/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *engine.Engine
	Sessions *drilldown.Registry

	// Demo is the writable store scenarios are loaded into. Nil when the
	// engine reads a back-office database.
	Demo    DemoStore
	Factory *factory.DatasetFactory

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler. demo may be nil.
func NewHandler(eng *engine.Engine, sessions *drilldown.Registry, demo DemoStore) *Handler {
	return &Handler{
		Engine:   eng,
		Sessions: sessions,
		Demo:     demo,
		Factory:  factory.NewDatasetFactory(),
	}
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

// ListNodes lists the nodes of the level in the URL below the parent= path.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	level, err := engine.ParseLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	parent := engine.ParsePath(r.URL.Query().Get("parent"))
	if err := (engine.Scope{Level: level, Parent: parent}).Validate(); err != nil {
		writeEngineError(w, r, err)
		return
	}

	ctx := r.Context()
	catalog := h.Engine.Catalog()
	if !parent.IsRoot() {
		if _, err := catalog.Node(ctx, parent); err != nil {
			writeEngineError(w, r, err)
			return
		}
	}

	nodes, err := catalog.Children(ctx, level, parent)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeDTOs(nodes))
}

func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.Engine.Catalog().Stores(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	dtos := make([]StoreDTO, 0, len(stores))
	for _, s := range stores {
		dtos = append(dtos, StoreDTO{Code: s.Code, Name: s.Name})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ANALYSIS ENDPOINTS
// =============================================================================

// GetAnalysis returns the adjusted rows of every node at level below parent.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	res, ok := h.query(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisResponse(res))
}

// GetAnalysisTotals returns only the totals row of the same query.
func (h *Handler) GetAnalysisTotals(w http.ResponseWriter, r *http.Request) {
	res, ok := h.query(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, TotalsResponse{
		Level:    string(res.Scope.Level),
		Parent:   res.Scope.Parent.String(),
		Totals:   toRowDTO(res.Totals, false),
		Degraded: res.Degraded,
		Warnings: res.Warnings,
	})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) (*engine.QueryResult, bool) {
	q := r.URL.Query()
	scope, err := scopeFromQuery(q.Get("level"), q.Get("parent"))
	if err != nil {
		writeEngineError(w, r, err)
		return nil, false
	}
	filter, err := filterFromRequest(r)
	if err != nil {
		writeEngineError(w, r, err)
		return nil, false
	}

	res, err := h.Engine.Query(r.Context(), scope, filter)
	if err != nil {
		writeEngineError(w, r, err)
		return nil, false
	}
	return res, true
}

// GetLoanDetail lists the transfers behind a row's lent or borrowed value.
func (h *Handler) GetLoanDetail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	direction, err := engine.ParseDirection(q.Get("direction"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	var level engine.Level
	if raw := q.Get("level"); raw != "" {
		if level, err = engine.ParseLevel(raw); err != nil {
			writeEngineError(w, r, err)
			return
		}
	}
	filter, err := filterFromRequest(r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	detail, err := h.Engine.Detail(r.Context(), engine.DetailQuery{
		Direction: direction,
		Level:     level,
		Path:      engine.ParsePath(q.Get("path")),
		Filter:    filter,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDetailResponse(detail))
}

func scopeFromQuery(rawLevel, rawParent string) (engine.Scope, error) {
	scope := engine.Scope{Level: engine.LevelSection, Parent: engine.ParsePath(rawParent)}
	if rawLevel != "" {
		level, err := engine.ParseLevel(rawLevel)
		if err != nil {
			return scope, err
		}
		scope.Level = level
	} else if lv, ok := scope.Parent.Level(); ok {
		// Without a level the rows are the parent's children.
		if child, ok := lv.Child(); ok {
			scope.Level = child
		}
	}
	return scope, scope.Validate()
}

func filterFromRequest(r *http.Request) (engine.PeriodFilter, error) {
	req, err := filterFromQuery(r.URL.Query())
	if err != nil {
		return engine.PeriodFilter{}, err
	}
	return req.ToFilter()
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	s := h.Sessions.Open()
	zerolog.Ctx(r.Context()).Debug().Str("session", s.ID).Msg("drill-down session opened")
	writeJSON(w, http.StatusCreated, toSessionDTO(s))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.Sessions.Close(chi.URLParam(r, "id")) {
		writeEngineError(w, r, drilldown.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExpandSession expands "path", or every entry of "paths" concurrently.
func (h *Handler) ExpandSession(w http.ResponseWriter, r *http.Request) {
	s, req, filter, ok := h.sessionRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if len(req.Paths) > 0 {
		parents := make([]engine.Path, 0, len(req.Paths))
		for _, p := range req.Paths {
			parents = append(parents, engine.ParsePath(p))
		}
		results, err := s.ExpandMany(ctx, parents, filter)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		out := make([]ExpandResponse, 0, len(results))
		for i, res := range results {
			out = append(out, expandResponse(s, parents[i], res))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	parent := engine.ParsePath(req.Path)
	res, err := s.Expand(ctx, parent, filter)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expandResponse(s, parent, res))
}

func (h *Handler) CollapseSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	parent := engine.ParsePath(req.Path)
	collapsed := s.Collapse(parent)
	writeJSON(w, http.StatusOK, CollapseResponse{
		SessionID: s.ID,
		Parent:    parent.String(),
		Collapsed: collapsed,
		State:     string(s.State(parent)),
	})
}

func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	parent := engine.ParsePath(req.Path)
	res, err := s.Refresh(r.Context(), parent)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expandResponse(s, parent, res))
}

// InvalidateSession drops every branch. A filter in the body becomes the
// session's new filter.
func (h *Handler) InvalidateSession(w http.ResponseWriter, r *http.Request) {
	s, _, filter, ok := h.sessionRequest(w, r)
	if !ok {
		return
	}
	s.Invalidate(filter)
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*drilldown.Session, bool) {
	s, err := h.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, r, err)
		return nil, false
	}
	return s, true
}

// sessionRequest resolves the session, decodes the body and settles the
// filter: the body's filter if given, else the session's current one.
func (h *Handler) sessionRequest(w http.ResponseWriter, r *http.Request) (*drilldown.Session, SessionRequest, engine.PeriodFilter, bool) {
	var req SessionRequest
	s, ok := h.session(w, r)
	if !ok {
		return nil, req, engine.PeriodFilter{}, false
	}
	if !decodeBody(w, r, &req) {
		return nil, req, engine.PeriodFilter{}, false
	}

	if req.Filter == nil {
		filter, ok := s.Filter()
		if !ok {
			writeEngineError(w, r, &engine.ValidationError{Field: "filter", Message: "session has no filter yet"})
			return nil, req, engine.PeriodFilter{}, false
		}
		return s, req, filter, true
	}

	filter, err := req.Filter.ToFilter()
	if err != nil {
		writeEngineError(w, r, err)
		return nil, req, engine.PeriodFilter{}, false
	}
	return s, req, filter, true
}

func expandResponse(s *drilldown.Session, parent engine.Path, res *engine.QueryResult) ExpandResponse {
	return ExpandResponse{
		SessionID: s.ID,
		Parent:    parent.String(),
		State:     string(s.State(parent)),
		Result:    toAnalysisResponse(res),
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine or session error onto a status code.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Details: err.Error()}
	status := http.StatusInternalServerError

	var verr *engine.ValidationError
	switch {
	case errors.Is(err, engine.ErrInvalidPeriod):
		status, resp.Error, resp.Code = http.StatusBadRequest, "Invalid period", "invalid_period"
	case errors.As(err, &verr):
		status, resp.Error, resp.Code = http.StatusBadRequest, "Invalid "+verr.Field, "validation_failed"
	case engine.IsClientError(err):
		status, resp.Error, resp.Code = http.StatusBadRequest, "Invalid request", "validation_failed"
	case engine.IsNotFound(err):
		status, resp.Error, resp.Code = http.StatusNotFound, "Not found", "not_found"
	case errors.Is(err, drilldown.ErrStaleExpansion):
		status, resp.Error, resp.Code = http.StatusConflict, "Filter changed while loading", "stale_expansion"
	case engine.IsRetryable(err):
		status, resp.Error, resp.Code = http.StatusServiceUnavailable, "Source unavailable, retry later", "source_unavailable"
		w.Header().Set("Retry-After", retryAfterSeconds(err))
	default:
		resp.Error, resp.Code = "Internal error", "internal"
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func retryAfterSeconds(err error) string {
	secs := int(math.Ceil(engine.RetryAfter(err).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
