/*
store.go - Read interfaces between the engine and its data sources

PURPOSE:
  Defines what the engine needs from the outside world. The engine is
  read-only: it never writes transactions, catalog entries or reference
  data. Implementations load them from SQLite, Postgres or memory.

KEY INTERFACES:
  Catalog:         Product hierarchy and store list
  FactSource:      Purchase lines, sale lines and inventory for a period
  ReferenceSource: Recipes, associations and decompositions

FAILURE CONTRACT:
  Driver or network failures are returned as-is (or already wrapped in
  SourceUnavailableError). The engine wraps anything unclassified so the
  API can answer 503 with a retry hint. Missing nodes return ErrNodeNotFound.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory for tests and demos
  - store/sqlite/sqlite.go: Embedded database, demo scenarios
  - store/postgres/postgres.go: Back-office schema, read-only

SEE ALSO:
  - aggregate.go: Consumes FactSource
  - loans.go: Consumes ReferenceSource
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// CATALOG - Product hierarchy
// =============================================================================

// Catalog resolves hierarchy nodes. Codes are unique within (level, parent).
type Catalog interface {
	// Children lists nodes at level whose ancestors match parent.
	// An empty parent lists every node at that level.
	Children(ctx context.Context, level Level, parent Path) ([]HierarchyNode, error)

	// Node returns the node addressed by path, or ErrNodeNotFound.
	Node(ctx context.Context, path Path) (HierarchyNode, error)

	// Items returns every item with its full path.
	Items(ctx context.Context) ([]HierarchyNode, error)

	// Stores lists the stores transactions may be filtered by.
	Stores(ctx context.Context) ([]Store, error)
}

// Ancestors returns the chain of nodes from the section down to (and
// including) the node at path, resolved through c.
func Ancestors(ctx context.Context, c Catalog, path Path) ([]HierarchyNode, error) {
	chain := make([]HierarchyNode, 0, len(path))
	for depth := 1; depth <= len(path); depth++ {
		n, err := c.Node(ctx, path.Prefix(depth))
		if err != nil {
			return nil, err
		}
		chain = append(chain, n)
	}
	return chain, nil
}

// =============================================================================
// FACT SOURCE - Transaction-level records
// =============================================================================

// FactQuery narrows what a FactSource returns. Dates are inclusive days.
type FactQuery struct {
	Start     time.Time
	End       time.Time
	StoreCode string
}

// Contains reports whether t falls on a day inside [Start, End].
func (q FactQuery) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(truncateDay(q.Start)) && !d.After(truncateDay(q.End))
}

// QueryFor builds the FactQuery matching a filter.
func QueryFor(f PeriodFilter) FactQuery {
	return FactQuery{Start: f.StartDate, End: f.EndDate, StoreCode: f.StoreCode}
}

// FactSource reads raw transaction records.
type FactSource interface {
	PurchaseLines(ctx context.Context, q FactQuery) ([]PurchaseLine, error)
	SaleLines(ctx context.Context, q FactQuery) ([]SaleLine, error)
	Inventory(ctx context.Context, q FactQuery) ([]StockPosition, error)
}

// =============================================================================
// REFERENCE SOURCE - Loan relationships
// =============================================================================

// ReferenceSource reads the relationships loans are resolved from.
type ReferenceSource interface {
	Recipes(ctx context.Context) ([]RecipeLine, error)
	Associations(ctx context.Context) ([]AssociationPair, error)
	Decompositions(ctx context.Context) ([]DecompositionLine, error)
}

// LoadReferenceData reads every relationship kind from r.
func LoadReferenceData(ctx context.Context, r ReferenceSource) (ReferenceData, error) {
	var data ReferenceData
	var err error
	if data.Recipes, err = r.Recipes(ctx); err != nil {
		return data, err
	}
	if data.Associations, err = r.Associations(ctx); err != nil {
		return data, err
	}
	if data.Decompositions, err = r.Decompositions(ctx); err != nil {
		return data, err
	}
	return data, nil
}
