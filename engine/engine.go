/*
engine.go - Query and detail pipeline

PURPOSE:
  Ties the catalog, the fact aggregator, the loan resolver and the margin
  calculator into the two read operations the API serves.

PIPELINE (Query):
  1. Validate filter and scope, check the scope parent exists
  2. Aggregate item-level facts for the whole catalog and roll the
     buyer's items up to the requested level below the scope parent
  3. Resolve loans on every item (children mode only), index them
  4. Apply lent/borrowed per node, derive margins
  5. Check conservation over every node of the level, flag if broken
  6. Order by sale value descending, compute totals and shares

PIPELINE (Detail):
  Same steps 1-3 without the rollup, then the ledger legs of one node grouped by loan kind.
  Detail totals always equal the row's lent or borrowed value because both
  read the same ledger.

FAILURE MODES:
  ValidationError          -> nothing is read
  SourceUnavailableError   -> nothing is returned, caller may retry
  ConservationViolation    -> result returned with Degraded set
  Partial reference data   -> result returned with the skip count
*/
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Config wires an Engine to its sources.
type Config struct {
	Catalog    Catalog
	Facts      FactSource
	References ReferenceSource

	// RetryAfter is suggested to clients when a source is unavailable.
	RetryAfter time.Duration
}

type Engine struct {
	catalog    Catalog
	aggregator *Aggregator
	resolver   *Resolver
	retryAfter time.Duration
}

func New(cfg Config) *Engine {
	return &Engine{
		catalog:    cfg.Catalog,
		aggregator: NewAggregator(cfg.Catalog, cfg.Facts, cfg.RetryAfter),
		resolver:   NewResolver(cfg.References, cfg.RetryAfter),
		retryAfter: cfg.RetryAfter,
	}
}

// Catalog exposes the hierarchy the engine reads from.
func (e *Engine) Catalog() Catalog { return e.catalog }

// QueryResult is the answer to one analysis query.
type QueryResult struct {
	Scope  Scope
	Filter PeriodFilter
	Rows   []AdjustedNodeResult
	Totals AdjustedNodeResult

	// Degraded is set when loan conservation failed; figures are still
	// returned but should not be trusted for reconciliation.
	Degraded bool
	Warnings []string

	// PartialReferenceData counts loan relationships that were skipped.
	PartialReferenceData int
	Transfers            int
}

// Query returns the adjusted rows of every active node in scope.
func (e *Engine) Query(ctx context.Context, scope Scope, filter PeriodFilter) (*QueryResult, error) {
	agg, err := e.aggregator.Collect(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	res, err := e.resolver.Resolve(ctx, agg.Items, agg.Catalog, filter)
	if err != nil {
		return nil, err
	}
	ledger := NewLoanLedger(res.Transfers)

	days := filter.Days()
	facts, nodes := agg.Facts, agg.Nodes
	seen := make(map[string]bool, len(facts))
	rows := make([]AdjustedNodeResult, 0, len(facts))
	for _, f := range facts {
		seen[f.Node.Path.String()] = true
		rows = append(rows, ComputeMargins(f, ledger.Lent(f.Node.Path), ledger.Borrowed(f.Node.Path)))
	}
	// Nodes that only moved loans still carry purchase value. A buyer
	// restriction lists the buyer's nodes only.
	for _, n := range nodes {
		if seen[n.Path.String()] || filter.BuyerCode != "" {
			continue
		}
		lent, borrowed := ledger.Lent(n.Path), ledger.Borrowed(n.Path)
		if lent.IsZero() && borrowed.IsZero() {
			continue
		}
		rows = append(rows, ComputeMargins(NodeFact{Node: n}, lent, borrowed))
	}

	result := &QueryResult{
		Scope:                scope,
		Filter:               filter,
		PartialReferenceData: res.Skipped,
		Transfers:            len(res.Transfers),
	}

	log := zerolog.Ctx(ctx)
	if res.Skipped > 0 {
		log.Warn().Int("skipped", res.Skipped).Msg("loan relationships reference unknown items")
		result.Warnings = append(result.Warnings, "partial reference data: some loan relationships were skipped")
	}
	if len(res.Transfers) > 0 {
		if cerr := e.checkConservation(ctx, scope, nodes, ledger); cerr != nil {
			log.Error().Err(cerr).
				Str("level", string(scope.Level)).
				Str("filter", filter.Hash()).
				Msg("loan conservation check failed")
			result.Degraded = true
			result.Warnings = append(result.Warnings, cerr.Error())
		}
	}

	sortRows(rows)
	result.Rows = rows
	result.Totals = ComputeTotals(rows, days)
	ApplyShares(result.Rows, result.Totals)
	return result, nil
}

// ledger aggregates every item and indexes the loans between them.
func (e *Engine) ledger(ctx context.Context, filter PeriodFilter) (*LoanLedger, error) {
	items, catalog, err := e.aggregator.itemFacts(ctx, filter)
	if err != nil {
		return nil, err
	}
	res, err := e.resolver.Resolve(ctx, items, catalog, filter)
	if err != nil {
		return nil, err
	}
	return NewLoanLedger(res.Transfers), nil
}

// checkConservation compares lent and borrowed totals over every catalog
// node of the scope level. Transfers on items whose ancestors are missing
// from the catalog make the sums diverge.
func (e *Engine) checkConservation(ctx context.Context, scope Scope, scoped []HierarchyNode, ledger *LoanLedger) error {
	nodes := scoped
	if !scope.Parent.IsRoot() {
		var err error
		if nodes, err = e.catalog.Children(ctx, scope.Level, nil); err != nil {
			return unavailable("catalog", e.retryAfter, err)
		}
	}
	lent, borrowed := decimal.Zero, decimal.Zero
	for _, n := range nodes {
		lent = lent.Add(ledger.Lent(n.Path))
		borrowed = borrowed.Add(ledger.Borrowed(n.Path))
	}
	total := ledger.Total()
	if !lent.Equal(borrowed) || !lent.Equal(total) {
		return &ConservationError{Lent: lent, Borrowed: borrowed}
	}
	return nil
}

func sortRows(rows []AdjustedNodeResult) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].SaleValue.Cmp(rows[j].SaleValue); c != 0 {
			return c > 0
		}
		return rows[i].Node.Path.String() < rows[j].Node.Path.String()
	})
}

// =============================================================================
// DETAIL
// =============================================================================

// DetailQuery asks for the loans one node gave or received.
type DetailQuery struct {
	Direction Direction
	Level     Level
	Path      Path
	Filter    PeriodFilter
}

// LoanEntry is one transfer seen from the queried node.
type LoanEntry struct {
	ID           string
	Item         HierarchyNode // the queried node's own item on this transfer
	Counterparty HierarchyNode // the item on the other side
	Value        decimal.Decimal
}

// LoanGroup holds the entries of one kind.
type LoanGroup struct {
	Kind    LoanKind
	Total   decimal.Decimal
	Entries []LoanEntry
}

// LoanDetail is the breakdown of a node's lent or borrowed value.
type LoanDetail struct {
	Node      HierarchyNode
	Direction Direction
	Total     decimal.Decimal
	Groups    []LoanGroup
}

// Detail lists the transfers behind a row's lent or borrowed value.
func (e *Engine) Detail(ctx context.Context, q DetailQuery) (*LoanDetail, error) {
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}
	if q.Direction != DirectionLent && q.Direction != DirectionBorrowed {
		return nil, &ValidationError{Field: "direction", Message: "must be lent or borrowed"}
	}
	level, ok := q.Path.Level()
	if !ok {
		return nil, &ValidationError{Field: "path", Message: "a node path is required"}
	}
	if q.Level != "" && q.Level != level {
		return nil, &ValidationError{Field: "level", Message: "does not match the path depth"}
	}

	node, err := e.catalog.Node(ctx, q.Path)
	if err != nil {
		return nil, unavailable("catalog", e.retryAfter, err)
	}

	ledger, err := e.ledger(ctx, q.Filter)
	if err != nil {
		return nil, err
	}

	detail := &LoanDetail{Node: node, Direction: q.Direction, Total: decimal.Zero}
	byKind := make(map[LoanKind]*LoanGroup)
	for _, t := range ledger.Legs(q.Path, q.Direction) {
		g, ok := byKind[t.Kind]
		if !ok {
			g = &LoanGroup{Kind: t.Kind, Total: decimal.Zero}
			byKind[t.Kind] = g
		}
		entry := LoanEntry{ID: t.ID, Item: t.Source, Counterparty: t.Target, Value: t.Value}
		if q.Direction == DirectionBorrowed {
			entry.Item, entry.Counterparty = t.Target, t.Source
		}
		g.Entries = append(g.Entries, entry)
		g.Total = g.Total.Add(t.Value)
		detail.Total = detail.Total.Add(t.Value)
	}
	for _, kind := range LoanKinds {
		g, ok := byKind[kind]
		if !ok {
			continue
		}
		sort.SliceStable(g.Entries, func(i, j int) bool {
			return g.Entries[i].Value.GreaterThan(g.Entries[j].Value)
		})
		detail.Groups = append(detail.Groups, *g)
	}
	return detail, nil
}
