/*
loans.go - Loan Decomposition Resolver

PURPOSE:
  A purchase booked on one item is often consumed by another: flour bought
  by the bakery input item ends up in bread, a carcass is broken down into
  cuts, a pack is sold from a base item. The resolver turns these reference
  relationships into LoanTransfers so that purchase cost follows the goods.

LOAN KINDS:
  production:     input (insumo) lends to finished product
                  - with ParticipationPct: inputPurchase * pct / 100
                  - otherwise:             finishedSold * qty * inputUnitCost
  association:    base item lends to associated item
                  associatedSold * qty(default 1) * baseUnitCost
  decomposition:  parent item lends to child item
                  parentPurchase * share / 100

RULES:
  1. Only when the filter's decomposition mode is "children"
  2. Only kinds enabled in LoanTypeFlags
  3. Per source item and kind, the total lent never exceeds the source's
     purchase value; candidates are scaled down proportionally
  4. Values are rounded half-up to cents once, both legs share the value
  5. A relationship naming an item missing from the catalog is skipped and
     counted as partial reference data
  6. Cycles (A lends to B, B lends to A) stay as independent transfers

SEE ALSO:
  - ledger.go: Indexes transfers by node for lent/borrowed totals
  - engine.go: Conservation check and rollup
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPES
// =============================================================================

type LoanKind string

const (
	LoanProduction    LoanKind = "production"
	LoanAssociation   LoanKind = "association"
	LoanDecomposition LoanKind = "decomposition"
)

// LoanKinds lists every kind in presentation order.
var LoanKinds = []LoanKind{LoanProduction, LoanAssociation, LoanDecomposition}

type Direction string

const (
	DirectionLent     Direction = "lent"
	DirectionBorrowed Direction = "borrowed"
)

// ParseDirection accepts English names and the back-office aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lent", "emprestei":
		return DirectionLent, nil
	case "borrowed", "emprestado":
		return DirectionBorrowed, nil
	}
	return "", &ValidationError{Field: "direction", Message: fmt.Sprintf("unknown direction %q", s)}
}

// LoanTransfer moves Value of purchase cost from Source to Target.
// It is recorded as lent on Source and borrowed on Target.
type LoanTransfer struct {
	ID     string
	Kind   LoanKind
	Source HierarchyNode
	Target HierarchyNode
	Value  decimal.Decimal
}

// Resolution is the outcome of resolving loans for one filter.
type Resolution struct {
	Transfers []LoanTransfer

	// Skipped counts relationships dropped because an item was missing
	// from the catalog.
	Skipped int
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	refs       ReferenceSource
	retryAfter time.Duration
}

func NewResolver(refs ReferenceSource, retryAfter time.Duration) *Resolver {
	return &Resolver{refs: refs, retryAfter: retryAfter}
}

// Resolve loads reference data and emits transfers between the given items.
// items must be item-level facts; catalog maps every known item code.
func (r *Resolver) Resolve(ctx context.Context, items []NodeFact, catalog map[string]HierarchyNode, filter PeriodFilter) (Resolution, error) {
	if !filter.LoansEnabled() || filter.LoanTypes == (LoanTypeFlags{}) {
		return Resolution{}, nil
	}
	data, err := LoadReferenceData(ctx, r.refs)
	if err != nil {
		return Resolution{}, unavailable("reference data", r.retryAfter, err)
	}
	return ResolveLoans(data, items, catalog, filter.LoanTypes), nil
}

type candidate struct {
	kind   LoanKind
	line   int
	source HierarchyNode
	target HierarchyNode
	value  decimal.Decimal
}

// ResolveLoans is the pure resolution step.
func ResolveLoans(data ReferenceData, items []NodeFact, catalog map[string]HierarchyNode, flags LoanTypeFlags) Resolution {
	facts := make(map[string]NodeFact, len(items))
	for _, f := range items {
		facts[f.Node.Code] = f
	}

	var res Resolution
	var cands []candidate
	hundred := decimal.NewFromInt(100)

	pair := func(src, tgt string) (HierarchyNode, HierarchyNode, bool) {
		s, okS := catalog[src]
		t, okT := catalog[tgt]
		if !okS || !okT {
			res.Skipped++
			return s, t, false
		}
		return s, t, src != tgt
	}

	if flags.Production {
		for i, rl := range data.Recipes {
			s, t, ok := pair(rl.InputCode, rl.FinishedCode)
			if !ok {
				continue
			}
			src := facts[s.Code]
			var v decimal.Decimal
			if rl.ParticipationPct.IsPositive() {
				v = src.PurchaseValue.Mul(rl.ParticipationPct).Div(hundred)
			} else {
				v = facts[t.Code].QuantitySold.Mul(rl.Quantity).Mul(src.UnitCost())
			}
			cands = append(cands, candidate{LoanProduction, i, s, t, v})
		}
	}

	if flags.Association {
		for i, ap := range data.Associations {
			s, t, ok := pair(ap.BaseCode, ap.AssociatedCode)
			if !ok {
				continue
			}
			qty := ap.Quantity
			if !qty.IsPositive() {
				qty = decimal.NewFromInt(1)
			}
			v := facts[t.Code].QuantitySold.Mul(qty).Mul(facts[s.Code].UnitCost())
			cands = append(cands, candidate{LoanAssociation, i, s, t, v})
		}
	}

	if flags.Decomposition {
		for i, dl := range data.Decompositions {
			s, t, ok := pair(dl.ParentCode, dl.ChildCode)
			if !ok {
				continue
			}
			v := facts[s.Code].PurchaseValue.Mul(dl.Share).Div(hundred)
			cands = append(cands, candidate{LoanDecomposition, i, s, t, v})
		}
	}

	capBySource(cands, facts)

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.kind != b.kind {
			return kindOrder(a.kind) < kindOrder(b.kind)
		}
		return a.line < b.line
	})

	for _, c := range cands {
		v := RoundHalfUp(c.value, 2)
		if !v.IsPositive() {
			continue
		}
		res.Transfers = append(res.Transfers, LoanTransfer{
			ID:     fmt.Sprintf("%s:%s>%s#%d", c.kind, c.source.Code, c.target.Code, c.line),
			Kind:   c.kind,
			Source: c.source,
			Target: c.target,
			Value:  v,
		})
	}
	return res
}

// capBySource scales candidates so that no source lends more than it bought
// within one kind. Sources with no positive purchase value lend nothing.
func capBySource(cands []candidate, facts map[string]NodeFact) {
	type key struct {
		kind LoanKind
		code string
	}
	totals := make(map[key]decimal.Decimal)
	for _, c := range cands {
		if c.value.IsPositive() {
			k := key{c.kind, c.source.Code}
			totals[k] = totals[k].Add(c.value)
		}
	}
	for i := range cands {
		c := &cands[i]
		if !c.value.IsPositive() {
			c.value = decimal.Zero
			continue
		}
		limit := facts[c.source.Code].PurchaseValue
		if !limit.IsPositive() {
			c.value = decimal.Zero
			continue
		}
		total := totals[key{c.kind, c.source.Code}]
		if total.GreaterThan(limit) {
			c.value = c.value.Mul(limit).Div(total)
		}
	}
}

func kindOrder(k LoanKind) int {
	for i, kk := range LoanKinds {
		if kk == k {
			return i
		}
	}
	return len(LoanKinds)
}
