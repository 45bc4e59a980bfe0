/*
Package engine provides the purchase-vs-sale reconciliation engine.

PURPOSE:
  This package contains the domain types and algorithms that reconcile what
  a retail company bought against what it sold, per node of a four-level
  product hierarchy, and re-attribute purchase cost between nodes that lend
  goods to each other (recipes, associated items, decomposed carcasses).

KEY CONCEPTS IN THIS FILE (types.go):
  - Level / Path: Position of a node in the section > group > subgroup > item tree
  - HierarchyNode: A catalog entry
  - NodeFact: Aggregated purchase/sale totals for a node over a period
  - PurchaseLine / SaleLine / StockPosition: Raw transaction-level records
  - RecipeLine / AssociationPair / DecompositionLine: Loan reference data

DESIGN PRINCIPLES:
  1. Precision: Every monetary value is a decimal.Decimal, never a float
  2. Addressing: A node is identified by its Path, codes repeat across parents
  3. Read-only: The engine never writes transaction data

USAGE:
  eng := engine.New(catalog, facts, refs)
  result, err := eng.Query(ctx, engine.Scope{Level: engine.LevelGroup,
      Parent: engine.ParsePath("10")}, filter)

SEE ALSO:
  - period.go: PeriodFilter and fiscal classification
  - aggregate.go: Fact Aggregator
  - loans.go: Loan Decomposition Resolver
  - margins.go: Margin Calculator
  - engine.go: Query and detail pipeline
*/
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEVEL - Depth in the product hierarchy
// =============================================================================

type Level string

const (
	LevelSection  Level = "section"
	LevelGroup    Level = "group"
	LevelSubgroup Level = "subgroup"
	LevelItem     Level = "item"
)

var levelsByDepth = []Level{LevelSection, LevelGroup, LevelSubgroup, LevelItem}

// ParseLevel accepts the English level names and the back-office aliases.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "section", "sections", "secao", "secoes":
		return LevelSection, nil
	case "group", "groups", "grupo", "grupos":
		return LevelGroup, nil
	case "subgroup", "subgroups", "subgrupo", "subgrupos":
		return LevelSubgroup, nil
	case "item", "items", "itens", "produto", "produtos":
		return LevelItem, nil
	}
	return "", &ValidationError{Field: "level", Message: fmt.Sprintf("unknown level %q", s)}
}

// LevelAt returns the level found at the given depth (1 = section).
func LevelAt(depth int) (Level, bool) {
	if depth < 1 || depth > len(levelsByDepth) {
		return "", false
	}
	return levelsByDepth[depth-1], true
}

// Depth returns 1 for sections through 4 for items, 0 for unknown levels.
func (l Level) Depth() int {
	for i, lv := range levelsByDepth {
		if lv == l {
			return i + 1
		}
	}
	return 0
}

func (l Level) Valid() bool { return l.Depth() > 0 }

// Child returns the level directly below l.
func (l Level) Child() (Level, bool) { return LevelAt(l.Depth() + 1) }

// Parent returns the level directly above l.
func (l Level) Parent() (Level, bool) { return LevelAt(l.Depth() - 1) }

// =============================================================================
// PATH - Codes from section down to a node
// =============================================================================

// Path addresses a node by the codes of its ancestors and itself.
// An empty Path is the root above all sections.
type Path []string

// ParsePath splits "10/3/7" into a Path. Empty segments are dropped.
func ParsePath(s string) Path {
	var p Path
	for _, seg := range strings.Split(s, "/") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			p = append(p, seg)
		}
	}
	return p
}

func (p Path) String() string { return strings.Join(p, "/") }
func (p Path) Depth() int      { return len(p) }
func (p Path) IsRoot() bool    { return len(p) == 0 }

// Level returns the level of the node the path points at.
func (p Path) Level() (Level, bool) { return LevelAt(len(p)) }

// Code returns the last code of the path.
func (p Path) Code() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Parent returns the path without its last code.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1:len(p)-1]
}

// Child appends a code without aliasing the receiver.
func (p Path) Child(code string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, code)
}

// Prefix truncates the path to the given depth.
func (p Path) Prefix(depth int) Path {
	if depth >= len(p) {
		return p
	}
	return p[:depth:depth]
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (p Path) Equal(other Path) bool {
	return len(p) == len(other) && p.HasPrefix(other)
}

// =============================================================================
// CATALOG ENTRIES
// =============================================================================

// HierarchyNode is one entry of the product hierarchy.
type HierarchyNode struct {
	Level       Level
	Code        string
	ParentCode  string
	Description string
	Path        Path

	// MarginTarget is the section's target margin percentage (sections only).
	MarginTarget decimal.Decimal

	// Buyer is the purchasing agent responsible for an item (items only).
	Buyer string
}

// Store is a physical store (loja) that records transactions.
type Store struct {
	Code string
	Name string
}

// =============================================================================
// NODE FACT - Aggregated totals for a node over a period
// =============================================================================

type NodeFact struct {
	Node HierarchyNode

	QuantityPurchased decimal.Decimal
	QuantitySold      decimal.Decimal
	PurchaseValue     decimal.Decimal
	CostOfSale        decimal.Decimal
	SaleValue         decimal.Decimal
	TaxTotal          decimal.Decimal
	TaxCredit         decimal.Decimal
	InventoryOnHand   decimal.Decimal
	CoverageDays      decimal.Decimal
}

// UnitCost is the average purchase cost per unit, zero when nothing was bought.
func (f NodeFact) UnitCost() decimal.Decimal {
	if !f.QuantityPurchased.IsPositive() {
		return decimal.Zero
	}
	return f.PurchaseValue.Div(f.QuantityPurchased)
}

func (f *NodeFact) add(o NodeFact) {
	f.QuantityPurchased = f.QuantityPurchased.Add(o.QuantityPurchased)
	f.QuantitySold = f.QuantitySold.Add(o.QuantitySold)
	f.PurchaseValue = f.PurchaseValue.Add(o.PurchaseValue)
	f.CostOfSale = f.CostOfSale.Add(o.CostOfSale)
	f.SaleValue = f.SaleValue.Add(o.SaleValue)
	f.TaxTotal = f.TaxTotal.Add(o.TaxTotal)
	f.TaxCredit = f.TaxCredit.Add(o.TaxCredit)
	f.InventoryOnHand = f.InventoryOnHand.Add(o.InventoryOnHand)
}

// =============================================================================
// TRANSACTION RECORDS - What a FactSource returns
// =============================================================================

// PurchaseLine is one item line of an inbound fiscal document.
type PurchaseLine struct {
	ItemCode  string
	StoreCode string
	Date      time.Time
	CFOP      string
	Quantity  decimal.Decimal
	Value     decimal.Decimal
	TaxCredit decimal.Decimal
}

// SaleLine is one item line of a sale.
type SaleLine struct {
	ItemCode  string
	StoreCode string
	Date      time.Time
	Type      SaleType
	Quantity  decimal.Decimal
	Value     decimal.Decimal
	Cost      decimal.Decimal
	Tax       decimal.Decimal
}

// StockPosition is the current inventory of an item in a store.
type StockPosition struct {
	ItemCode  string
	StoreCode string
	Quantity  decimal.Decimal
}

// =============================================================================
// REFERENCE DATA - Loan relationships between items
// =============================================================================

// RecipeLine says that producing FinishedCode consumes InputCode.
// ParticipationPct, when positive, is the share of the input's purchase
// value attributed to the finished product. Otherwise Quantity is the input
// quantity consumed per finished unit sold.
type RecipeLine struct {
	FinishedCode     string
	InputCode        string
	Quantity         decimal.Decimal
	ParticipationPct decimal.Decimal
}

// AssociationPair links an associated item to the base item it is sold from.
type AssociationPair struct {
	BaseCode       string
	AssociatedCode string
	Quantity       decimal.Decimal
}

// DecompositionLine says ParentCode is broken down into ChildCode.
type DecompositionLine struct {
	ParentCode string
	ChildCode  string
	Share      decimal.Decimal
}

// ReferenceData bundles every loan relationship in effect.
type ReferenceData struct {
	Recipes        []RecipeLine
	Associations   []AssociationPair
	Decompositions []DecompositionLine
}

// =============================================================================
// ROUNDING
// =============================================================================

var half = decimal.New(5, -1)

// RoundHalfUp rounds to the given number of places, ties toward +infinity.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Add(half).Floor().Shift(-places)
}

// Percent returns num/den*100 rounded to 2 places, 0 when den <= 0.
func Percent(num, den decimal.Decimal) decimal.Decimal {
	if !den.IsPositive() {
		return decimal.Zero
	}
	return RoundHalfUp(num.Div(den).Mul(decimal.NewFromInt(100)), 2)
}
