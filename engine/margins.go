/*
margins.go - Margin Calculator

PURPOSE:
  Derives the adjusted purchase value and the margin indicators of a node
  once its loans are known, and the same indicators for a set of rows.

FORMULAS (all percentages rounded half-up to 2 places):
  finalPurchase = purchase - lent + borrowed
  markdown      = (sale - cost) / sale * 100
  profitMargin  = (sale - cost - taxTotal + taxCredit) / sale * 100
  netMargin     = (sale - cost - taxTotal + taxCredit) / (sale - taxTotal) * 100
  target        = cost / sale * 100
  achieved      = finalPurchase / sale * 100
  variance      = target - achieved
  difference    = cost - finalPurchase

  A zero or negative denominator yields 0, never an error.

TOTALS:
  Computed from summed components, never by averaging row percentages.
*/
package engine

import "github.com/shopspring/decimal"

// AdjustedNodeResult is a NodeFact with loans applied and margins derived.
type AdjustedNodeResult struct {
	NodeFact

	LentValue          decimal.Decimal
	BorrowedValue      decimal.Decimal
	FinalPurchaseValue decimal.Decimal

	MarkdownPct     decimal.Decimal
	ProfitMarginPct decimal.Decimal
	NetMarginPct    decimal.Decimal
	TargetPct       decimal.Decimal
	AchievedPct     decimal.Decimal
	VariancePct     decimal.Decimal

	DifferenceValue  decimal.Decimal
	PurchaseSharePct decimal.Decimal
	SaleSharePct     decimal.Decimal
	MarginTargetPct  decimal.Decimal
}

// ComputeMargins applies lent and borrowed values to fact.
func ComputeMargins(fact NodeFact, lent, borrowed decimal.Decimal) AdjustedNodeResult {
	r := AdjustedNodeResult{
		NodeFact:        fact,
		LentValue:       lent,
		BorrowedValue:   borrowed,
		MarginTargetPct: fact.Node.MarginTarget,
	}
	r.FinalPurchaseValue = fact.PurchaseValue.Sub(lent).Add(borrowed)
	r.derive()
	return r
}

func (r *AdjustedNodeResult) derive() {
	sale, cost := r.SaleValue, r.CostOfSale
	profit := sale.Sub(cost).Sub(r.TaxTotal).Add(r.TaxCredit)

	r.MarkdownPct = Percent(sale.Sub(cost), sale)
	r.ProfitMarginPct = Percent(profit, sale)
	r.NetMarginPct = Percent(profit, sale.Sub(r.TaxTotal))
	r.TargetPct = Percent(cost, sale)
	r.AchievedPct = Percent(r.FinalPurchaseValue, sale)
	r.VariancePct = r.TargetPct.Sub(r.AchievedPct)
	r.DifferenceValue = cost.Sub(r.FinalPurchaseValue)
}

// ComputeTotals sums rows and derives percentages from the sums.
func ComputeTotals(results []AdjustedNodeResult, days int) AdjustedNodeResult {
	var t AdjustedNodeResult
	t.Node = HierarchyNode{Description: "TOTAL"}
	for _, r := range results {
		t.add(r.NodeFact)
		t.LentValue = t.LentValue.Add(r.LentValue)
		t.BorrowedValue = t.BorrowedValue.Add(r.BorrowedValue)
	}
	t.FinalPurchaseValue = t.PurchaseValue.Sub(t.LentValue).Add(t.BorrowedValue)
	t.CoverageDays = coverageDays(t.InventoryOnHand, t.QuantitySold, days)
	t.derive()
	if len(results) > 0 {
		t.PurchaseSharePct = Percent(t.FinalPurchaseValue, t.FinalPurchaseValue)
		t.SaleSharePct = Percent(t.SaleValue, t.SaleValue)
	}
	return t
}

// ApplyShares sets each row's share of the totals' purchase and sale values.
func ApplyShares(results []AdjustedNodeResult, totals AdjustedNodeResult) {
	for i := range results {
		results[i].PurchaseSharePct = Percent(results[i].FinalPurchaseValue, totals.FinalPurchaseValue)
		results[i].SaleSharePct = Percent(results[i].SaleValue, totals.SaleValue)
	}
}
