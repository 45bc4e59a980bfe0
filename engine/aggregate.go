/*
aggregate.go - Fact Aggregator

PURPOSE:
  Sums purchase lines, sale lines and inventory into NodeFact rows for one
  level of the hierarchy. Facts are first accumulated per item, then rolled
  up to the requested level by path prefix.

FILTERING ORDER:
  1. FactSource applies the period and store restriction
  2. Purchase lines are dropped by fiscal class (invoice flags, bonus mode)
  3. Sale lines are dropped by sale channel
  4. Items are dropped by buyer and by scope parent when rolled up
  5. Survivors are summed per node

Loans are resolved on the unrestricted item set; the buyer only narrows
which items feed the rows.

A node appears when it bought or sold anything. A node with sales and no
purchases is kept with zero purchase totals.

SEE ALSO:
  - period.go: Filter semantics
  - loans.go: Consumes item-level facts
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Scope selects the rows of a query: every node at Level below Parent.
// Parent may be any ancestor path, an empty Parent means the whole catalog.
type Scope struct {
	Level  Level
	Parent Path
}

func (s Scope) Validate() error {
	if !s.Level.Valid() {
		return &ValidationError{Field: "level", Message: fmt.Sprintf("unknown level %q", s.Level)}
	}
	if s.Parent.Depth() >= s.Level.Depth() {
		return &ValidationError{Field: "parent",
			Message: fmt.Sprintf("%q is not above level %s", s.Parent.String(), s.Level)}
	}
	return nil
}

// Aggregator turns raw records into NodeFacts.
type Aggregator struct {
	catalog    Catalog
	facts      FactSource
	retryAfter time.Duration
}

func NewAggregator(catalog Catalog, facts FactSource, retryAfter time.Duration) *Aggregator {
	return &Aggregator{catalog: catalog, facts: facts, retryAfter: retryAfter}
}

// Aggregation is everything one scoped aggregation produced.
type Aggregation struct {
	// Facts are the rows of the scope, restricted by buyer.
	Facts []NodeFact

	// Items are the active item-level facts of the whole catalog. The buyer
	// restriction does not apply: loans are resolved on this set.
	Items []NodeFact

	// Catalog maps every catalog item by code.
	Catalog map[string]HierarchyNode

	// Nodes are the catalog entries at the scope level below the parent.
	Nodes []HierarchyNode
}

// Aggregate returns one NodeFact per active node in scope, ordered by path.
func (a *Aggregator) Aggregate(ctx context.Context, scope Scope, filter PeriodFilter) ([]NodeFact, error) {
	agg, err := a.Collect(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	return agg.Facts, nil
}

// Collect validates the request, aggregates every item and rolls the
// buyer's items up to the scope level.
func (a *Aggregator) Collect(ctx context.Context, scope Scope, filter PeriodFilter) (*Aggregation, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := a.checkParent(ctx, scope.Parent); err != nil {
		return nil, err
	}

	items, catalog, err := a.itemFacts(ctx, filter)
	if err != nil {
		return nil, err
	}
	nodes, err := a.catalog.Children(ctx, scope.Level, scope.Parent)
	if err != nil {
		return nil, unavailable("catalog", a.retryAfter, err)
	}
	return &Aggregation{
		Facts:   Rollup(ForBuyer(items, filter.BuyerCode), scope, nodes, filter.Days()),
		Items:   items,
		Catalog: catalog,
		Nodes:   nodes,
	}, nil
}

// checkParent resolves every ancestor of parent, so a path whose prefix is
// unknown is rejected as well.
func (a *Aggregator) checkParent(ctx context.Context, parent Path) error {
	if parent.IsRoot() {
		return nil
	}
	if _, err := Ancestors(ctx, a.catalog, parent); err != nil {
		if IsNotFound(err) {
			return &ValidationError{Field: "parent", Message: fmt.Sprintf("node %q not found", parent.String())}
		}
		return unavailable("catalog", a.retryAfter, err)
	}
	return nil
}

// ItemFacts aggregates every active item of the catalog. Loan resolution
// runs on this full set so that lent and borrowed totals balance globally.
func (a *Aggregator) ItemFacts(ctx context.Context, filter PeriodFilter) ([]NodeFact, error) {
	facts, _, err := a.itemFacts(ctx, filter)
	return facts, err
}

// itemFacts also returns every catalog item keyed by code.
func (a *Aggregator) itemFacts(ctx context.Context, filter PeriodFilter) ([]NodeFact, map[string]HierarchyNode, error) {
	if err := filter.Validate(); err != nil {
		return nil, nil, err
	}

	catalogItems, err := a.catalog.Items(ctx)
	if err != nil {
		return nil, nil, unavailable("catalog", a.retryAfter, err)
	}

	var (
		purchases []PurchaseLine
		sales     []SaleLine
		stock     []StockPosition
	)
	q := QueryFor(filter)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		purchases, err = a.facts.PurchaseLines(gctx, q)
		return err
	})
	g.Go(func() (err error) {
		sales, err = a.facts.SaleLines(gctx, q)
		return err
	})
	g.Go(func() (err error) {
		stock, err = a.facts.Inventory(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, unavailable("facts", a.retryAfter, err)
	}

	known := make(map[string]HierarchyNode, len(catalogItems))
	byCode := make(map[string]*NodeFact, len(catalogItems))
	for _, it := range catalogItems {
		known[it.Code] = it
		byCode[it.Code] = &NodeFact{Node: it}
	}

	for _, p := range purchases {
		f, ok := byCode[p.ItemCode]
		if !ok {
			continue
		}
		class := ClassifyCFOP(p.CFOP)
		if !filter.InvoiceTypes.Allows(class) || !filter.BonusMode.Allows(class) {
			continue
		}
		f.QuantityPurchased = f.QuantityPurchased.Add(p.Quantity)
		f.PurchaseValue = f.PurchaseValue.Add(p.Value)
		f.TaxCredit = f.TaxCredit.Add(p.TaxCredit)
	}
	for _, s := range sales {
		f, ok := byCode[s.ItemCode]
		if !ok || !filter.SaleTypes.Allows(s.Type) {
			continue
		}
		f.QuantitySold = f.QuantitySold.Add(s.Quantity)
		f.SaleValue = f.SaleValue.Add(s.Value)
		f.CostOfSale = f.CostOfSale.Add(s.Cost)
		f.TaxTotal = f.TaxTotal.Add(s.Tax)
	}
	for _, s := range stock {
		if f, ok := byCode[s.ItemCode]; ok {
			f.InventoryOnHand = f.InventoryOnHand.Add(s.Quantity)
		}
	}

	days := filter.Days()
	out := make([]NodeFact, 0, len(byCode))
	for _, f := range byCode {
		if !active(*f) {
			continue
		}
		f.CoverageDays = coverageDays(f.InventoryOnHand, f.QuantitySold, days)
		out = append(out, *f)
	}
	sortByPath(out)
	return out, known, nil
}

// ForBuyer keeps the items assigned to buyer. An empty buyer keeps all.
func ForBuyer(items []NodeFact, buyer string) []NodeFact {
	if buyer == "" {
		return items
	}
	out := make([]NodeFact, 0, len(items))
	for _, it := range items {
		if it.Node.Buyer == buyer {
			out = append(out, it)
		}
	}
	return out
}

// Rollup sums item facts into the nodes of scope. nodes are the catalog
// entries at scope.Level; items whose ancestor is not among them are dropped.
func Rollup(items []NodeFact, scope Scope, nodes []HierarchyNode, days int) []NodeFact {
	depth := scope.Level.Depth()
	byPath := make(map[string]*NodeFact, len(nodes))
	for _, n := range nodes {
		byPath[n.Path.String()] = &NodeFact{Node: n}
	}

	for _, it := range items {
		if !it.Node.Path.HasPrefix(scope.Parent) || it.Node.Path.Depth() < depth {
			continue
		}
		f, ok := byPath[it.Node.Path.Prefix(depth).String()]
		if !ok {
			continue
		}
		f.add(it)
	}

	out := make([]NodeFact, 0, len(byPath))
	for _, f := range byPath {
		if !active(*f) {
			continue
		}
		f.CoverageDays = coverageDays(f.InventoryOnHand, f.QuantitySold, days)
		out = append(out, *f)
	}
	sortByPath(out)
	return out
}

func active(f NodeFact) bool {
	return !f.QuantityPurchased.IsZero() || !f.PurchaseValue.IsZero() ||
		!f.QuantitySold.IsZero() || !f.SaleValue.IsZero()
}

// coverageDays is inventory divided by the average daily quantity sold.
func coverageDays(onHand, sold decimal.Decimal, days int) decimal.Decimal {
	if !sold.IsPositive() || days <= 0 {
		return decimal.Zero
	}
	daily := sold.Div(decimal.NewFromInt(int64(days)))
	return RoundHalfUp(onHand.Div(daily), 2)
}

func sortByPath(facts []NodeFact) {
	sort.Slice(facts, func(i, j int) bool {
		return facts[i].Node.Path.String() < facts[j].Node.Path.String()
	})
}
