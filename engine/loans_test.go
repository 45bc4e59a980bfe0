package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

func item(path string) engine.HierarchyNode {
	p := engine.ParsePath(path)
	return engine.HierarchyNode{Level: engine.LevelItem, Code: p.Code(), Path: p}
}

func catalogOf(nodes ...engine.HierarchyNode) map[string]engine.HierarchyNode {
	out := make(map[string]engine.HierarchyNode, len(nodes))
	for _, n := range nodes {
		out[n.Code] = n
	}
	return out
}

func TestResolveLoans_DecompositionShares(t *testing.T) {
	parent, a, b := item("30/1/1/301"), item("30/1/1/302"), item("30/1/1/303")
	facts := []engine.NodeFact{{Node: parent, PurchaseValue: dec("1000"), QuantityPurchased: dec("200")}}
	cat := catalogOf(parent, a, b)

	tests := []struct {
		name           string
		shareA, shareB string
		wantA, wantB   string
	}{
		{"full split", "60", "40", "600", "400"},
		{"remainder stays on parent", "50", "30", "500", "300"},
		{"over 100 scaled down", "80", "40", "666.67", "333.33"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := engine.ReferenceData{Decompositions: []engine.DecompositionLine{
				{ParentCode: "301", ChildCode: "302", Share: dec(tt.shareA)},
				{ParentCode: "301", ChildCode: "303", Share: dec(tt.shareB)},
			}}
			res := engine.ResolveLoans(data, facts, cat, engine.AllLoanTypes())
			require.Len(t, res.Transfers, 2)
			assertDec(t, tt.wantA, res.Transfers[0].Value)
			assertDec(t, tt.wantB, res.Transfers[1].Value)
			assert.Equal(t, engine.LoanDecomposition, res.Transfers[0].Kind)
		})
	}
}

func TestResolveLoans_ProductionByQuantity(t *testing.T) {
	// GIVEN: A recipe without participation, 0.2 kg of input per finished unit
	// WHEN: 50 finished units were sold and the input costs 2.50/kg
	// THEN: The input lends 50 * 0.2 * 2.50 = 25

	input, finished := item("10/1/1/101"), item("20/1/1/201")
	facts := []engine.NodeFact{
		{Node: input, PurchaseValue: dec("250"), QuantityPurchased: dec("100")},
		{Node: finished, QuantitySold: dec("50")},
	}
	data := engine.ReferenceData{Recipes: []engine.RecipeLine{
		{FinishedCode: "201", InputCode: "101", Quantity: dec("0.2")},
	}}

	res := engine.ResolveLoans(data, facts, catalogOf(input, finished), engine.AllLoanTypes())
	require.Len(t, res.Transfers, 1)
	assertDec(t, "25", res.Transfers[0].Value)
	assert.Equal(t, "101", res.Transfers[0].Source.Code)
	assert.Equal(t, "201", res.Transfers[0].Target.Code)
}

func TestResolveLoans_ProductionCappedAtPurchase(t *testing.T) {
	// Participations of one input summing to 150% never lend more than it bought
	input, f1, f2 := item("10/1/1/101"), item("20/1/1/201"), item("20/1/1/202")
	facts := []engine.NodeFact{{Node: input, PurchaseValue: dec("300"), QuantityPurchased: dec("10")}}
	data := engine.ReferenceData{Recipes: []engine.RecipeLine{
		{FinishedCode: "201", InputCode: "101", ParticipationPct: dec("100")},
		{FinishedCode: "202", InputCode: "101", ParticipationPct: dec("50")},
	}}

	res := engine.ResolveLoans(data, facts, catalogOf(input, f1, f2), engine.AllLoanTypes())
	require.Len(t, res.Transfers, 2)
	assertDec(t, "200", res.Transfers[0].Value)
	assertDec(t, "100", res.Transfers[1].Value)
}

func TestResolveLoans_AssociationDefaultQuantity(t *testing.T) {
	base, assoc := item("20/1/1/201"), item("20/1/1/202")
	facts := []engine.NodeFact{
		{Node: base, PurchaseValue: dec("200"), QuantityPurchased: dec("100")},
		{Node: assoc, QuantitySold: dec("30")},
	}
	data := engine.ReferenceData{Associations: []engine.AssociationPair{{BaseCode: "201", AssociatedCode: "202"}}}

	res := engine.ResolveLoans(data, facts, catalogOf(base, assoc), engine.AllLoanTypes())
	require.Len(t, res.Transfers, 1)
	assertDec(t, "60", res.Transfers[0].Value)
	assert.Equal(t, engine.LoanAssociation, res.Transfers[0].Kind)
}

func TestResolveLoans_SkipsUnknownAndZero(t *testing.T) {
	known, idle := item("20/1/1/201"), item("20/1/1/202")
	facts := []engine.NodeFact{{Node: known, PurchaseValue: dec("100"), QuantityPurchased: dec("10")}}
	data := engine.ReferenceData{
		Recipes: []engine.RecipeLine{
			{FinishedCode: "201", InputCode: "999", ParticipationPct: dec("10")},
			{FinishedCode: "888", InputCode: "201", ParticipationPct: dec("10")},
		},
		// 202 bought nothing, so it lends nothing
		Decompositions: []engine.DecompositionLine{{ParentCode: "202", ChildCode: "201", Share: dec("100")}},
	}

	res := engine.ResolveLoans(data, facts, catalogOf(known, idle), engine.AllLoanTypes())
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, res.Transfers)
}

func TestResolveLoans_KindOrderAndFlags(t *testing.T) {
	a, b := item("20/1/1/201"), item("20/1/1/202")
	facts := []engine.NodeFact{
		{Node: a, PurchaseValue: dec("100"), QuantityPurchased: dec("10"), QuantitySold: dec("1")},
		{Node: b, PurchaseValue: dec("100"), QuantityPurchased: dec("10"), QuantitySold: dec("1")},
	}
	data := engine.ReferenceData{
		Decompositions: []engine.DecompositionLine{{ParentCode: "201", ChildCode: "202", Share: dec("10")}},
		Associations:   []engine.AssociationPair{{BaseCode: "202", AssociatedCode: "201"}},
		Recipes:        []engine.RecipeLine{{FinishedCode: "202", InputCode: "201", ParticipationPct: dec("5")}},
	}

	res := engine.ResolveLoans(data, facts, catalogOf(a, b), engine.AllLoanTypes())
	require.Len(t, res.Transfers, 3)
	assert.Equal(t, engine.LoanProduction, res.Transfers[0].Kind)
	assert.Equal(t, engine.LoanAssociation, res.Transfers[1].Kind)
	assert.Equal(t, engine.LoanDecomposition, res.Transfers[2].Kind)

	res = engine.ResolveLoans(data, facts, catalogOf(a, b), engine.LoanTypeFlags{Association: true})
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, engine.LoanAssociation, res.Transfers[0].Kind)
}

func TestLoanLedger_RollsUpBothLegs(t *testing.T) {
	transfers := []engine.LoanTransfer{
		{ID: "t1", Kind: engine.LoanProduction, Source: item("10/1/1/101"), Target: item("20/1/1/201"), Value: dec("300")},
		{ID: "t2", Kind: engine.LoanAssociation, Source: item("20/1/1/201"), Target: item("20/1/2/205"), Value: dec("50")},
	}
	ledger := engine.NewLoanLedger(transfers)

	assertDec(t, "300", ledger.Lent(engine.ParsePath("10")))
	assertDec(t, "350", ledger.Borrowed(engine.ParsePath("20")))
	assertDec(t, "50", ledger.Lent(engine.ParsePath("20/1")))
	assertDec(t, "50", ledger.Borrowed(engine.ParsePath("20/1/2")))
	assertDec(t, "0", ledger.Borrowed(engine.ParsePath("20/1/1/205")))
	assertDec(t, "350", ledger.Total())

	legs := ledger.Legs(engine.ParsePath("20"), engine.DirectionBorrowed)
	require.Len(t, legs, 2)
	assert.Equal(t, "t1", legs[0].ID)
}
