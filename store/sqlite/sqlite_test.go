package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Betotradicao/TESTES--sub002/engine"
	"github.com/Betotradicao/TESTES--sub002/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

// seed saves 10 Hortifruti > 1 > 1 > 101 and 20 Padaria > 1 > 1 > 201.
func seed(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	for _, n := range []struct {
		parent string
		node   engine.HierarchyNode
	}{
		{"", engine.HierarchyNode{Level: engine.LevelSection, Code: "10", Description: "Hortifruti", MarginTarget: decimal.RequireFromString("30")}},
		{"", engine.HierarchyNode{Level: engine.LevelSection, Code: "20", Description: "Padaria"}},
		{"10", engine.HierarchyNode{Level: engine.LevelGroup, Code: "1", Description: "Legumes"}},
		{"20", engine.HierarchyNode{Level: engine.LevelGroup, Code: "1", Description: "Paes"}},
		{"10/1", engine.HierarchyNode{Level: engine.LevelSubgroup, Code: "1", Description: "Tomates"}},
		{"20/1", engine.HierarchyNode{Level: engine.LevelSubgroup, Code: "1", Description: "Especiais"}},
		{"10/1/1", engine.HierarchyNode{Level: engine.LevelItem, Code: "101", Description: "Tomate", Buyer: "B1"}},
		{"20/1/1", engine.HierarchyNode{Level: engine.LevelItem, Code: "201", Description: "Pao de tomate"}},
	} {
		_, err := s.SaveNode(ctx, engine.ParsePath(n.parent), n.node)
		require.NoError(t, err)
	}
	require.NoError(t, s.SaveStores(ctx, engine.Store{Code: "2", Name: "Bairro"}, engine.Store{Code: "1", Name: "Centro"}))
}

func TestStore_Catalog(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	sections, err := s.Children(ctx, engine.LevelSection, nil)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "Hortifruti", sections[0].Description)
	assert.True(t, decimal.RequireFromString("30").Equal(sections[0].MarginTarget))

	// Group code "1" exists under both sections; the parent disambiguates
	groups, err := s.Children(ctx, engine.LevelGroup, engine.ParsePath("20"))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Paes", groups[0].Description)
	assert.Equal(t, "20", groups[0].ParentCode)

	items, err := s.Children(ctx, engine.LevelItem, engine.ParsePath("10"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "10/1/1/101", items[0].Path.String())
	assert.Equal(t, "B1", items[0].Buyer)

	all, err := s.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	node, err := s.Node(ctx, engine.ParsePath("20/1/1"))
	require.NoError(t, err)
	assert.Equal(t, engine.LevelSubgroup, node.Level)

	_, err = s.Node(ctx, engine.ParsePath("99"))
	assert.ErrorIs(t, err, engine.ErrNodeNotFound)

	stores, err := s.Stores(ctx)
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.Equal(t, "1", stores[0].Code)
}

func TestStore_SaveNodeValidation(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	// GIVEN: A group saved directly below the root
	_, err := s.SaveNode(ctx, nil, engine.HierarchyNode{Level: engine.LevelGroup, Code: "5"})
	// THEN: The level does not match the depth
	assert.Error(t, err)

	_, err = s.SaveNode(ctx, engine.ParsePath("30"), engine.HierarchyNode{Level: engine.LevelGroup, Code: "1"})
	assert.ErrorIs(t, err, engine.ErrNodeNotFound)

	// Item codes are unique across the whole hierarchy
	_, err = s.SaveNode(ctx, engine.ParsePath("20/1/1"), engine.HierarchyNode{Level: engine.LevelItem, Code: "101"})
	assert.Error(t, err)

	// Saving the same path again updates it
	_, err = s.SaveNode(ctx, engine.ParsePath("10/1/1"), engine.HierarchyNode{Level: engine.LevelItem, Code: "101", Description: "Tomate italiano"})
	require.NoError(t, err)
	n, err := s.Node(ctx, engine.ParsePath("10/1/1/101"))
	require.NoError(t, err)
	assert.Equal(t, "Tomate italiano", n.Description)
}

func TestStore_Facts(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.SavePurchases(ctx,
		engine.PurchaseLine{ItemCode: "101", StoreCode: "1", Date: day(1), CFOP: "1102",
			Quantity: decimal.RequireFromString("10.5"), Value: decimal.RequireFromString("21.35"), TaxCredit: decimal.Zero},
		engine.PurchaseLine{ItemCode: "101", StoreCode: "2", Date: day(31), CFOP: "1910",
			Quantity: decimal.RequireFromString("1"), Value: decimal.RequireFromString("2"), TaxCredit: decimal.Zero},
		engine.PurchaseLine{ItemCode: "101", StoreCode: "1", Date: day(1).AddDate(0, 1, 0), CFOP: "1102",
			Quantity: decimal.RequireFromString("1"), Value: decimal.RequireFromString("2"), TaxCredit: decimal.Zero},
	))
	require.NoError(t, s.SaveSales(ctx,
		engine.SaleLine{ItemCode: "201", StoreCode: "1", Date: day(15), Type: engine.SaleCounter,
			Quantity: decimal.RequireFromString("3"), Value: decimal.RequireFromString("24"), Cost: decimal.RequireFromString("9"), Tax: decimal.RequireFromString("1.2")},
	))
	require.NoError(t, s.SaveStock(ctx,
		engine.StockPosition{ItemCode: "101", StoreCode: "1", Quantity: decimal.RequireFromString("7")},
		engine.StockPosition{ItemCode: "101", StoreCode: "2", Quantity: decimal.RequireFromString("3")},
	))

	q := engine.FactQuery{Start: day(1), End: day(31)}

	purchases, err := s.PurchaseLines(ctx, q)
	require.NoError(t, err)
	require.Len(t, purchases, 2, "the April line is outside the period")
	assert.True(t, decimal.RequireFromString("21.35").Equal(purchases[0].Value))
	assert.Equal(t, day(1), purchases[0].Date)
	assert.Equal(t, "1910", purchases[1].CFOP)

	q.StoreCode = "1"
	purchases, err = s.PurchaseLines(ctx, q)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	sales, err := s.SaleLines(ctx, q)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, engine.SaleCounter, sales[0].Type)
	assert.True(t, decimal.RequireFromString("1.2").Equal(sales[0].Tax))

	stock, err := s.Inventory(ctx, q)
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.True(t, decimal.RequireFromString("7").Equal(stock[0].Quantity))
}

func TestStore_ReferenceDataAndReset(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveReferenceData(ctx, engine.ReferenceData{
		Recipes:        []engine.RecipeLine{{FinishedCode: "201", InputCode: "101", ParticipationPct: decimal.RequireFromString("30")}},
		Associations:   []engine.AssociationPair{{BaseCode: "201", AssociatedCode: "101"}},
		Decompositions: []engine.DecompositionLine{{ParentCode: "101", ChildCode: "201", Share: decimal.RequireFromString("12.5")}},
	}))

	data, err := engine.LoadReferenceData(ctx, s)
	require.NoError(t, err)
	require.Len(t, data.Recipes, 1)
	assert.True(t, decimal.RequireFromString("30").Equal(data.Recipes[0].ParticipationPct))
	require.Len(t, data.Associations, 1)
	assert.True(t, decimal.NewFromInt(1).Equal(data.Associations[0].Quantity), "missing quantity defaults to 1")
	require.Len(t, data.Decompositions, 1)
	assert.True(t, decimal.RequireFromString("12.5").Equal(data.Decompositions[0].Share))

	require.NoError(t, s.Reset(ctx))

	items, err := s.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	data, err = engine.LoadReferenceData(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, data.Recipes)
}

func TestStore_DrivesEngine(t *testing.T) {
	// GIVEN: The production scenario persisted in SQLite
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.SavePurchases(ctx, engine.PurchaseLine{
		ItemCode: "101", StoreCode: "1", Date: day(5), CFOP: "1102",
		Quantity: decimal.RequireFromString("500"), Value: decimal.RequireFromString("1000"), TaxCredit: decimal.Zero,
	}))
	require.NoError(t, s.SaveSales(ctx, engine.SaleLine{
		ItemCode: "201", StoreCode: "1", Date: day(12), Type: engine.SalePOS,
		Quantity: decimal.RequireFromString("100"), Value: decimal.RequireFromString("800"),
		Cost: decimal.RequireFromString("300"), Tax: decimal.Zero,
	}))
	require.NoError(t, s.SaveReferenceData(ctx, engine.ReferenceData{
		Recipes: []engine.RecipeLine{{FinishedCode: "201", InputCode: "101", ParticipationPct: decimal.RequireFromString("30")}},
	}))

	eng := engine.New(engine.Config{Catalog: s, Facts: s, References: s, RetryAfter: time.Second})

	// WHEN: Querying sections with children decomposition
	res, err := eng.Query(ctx, engine.Scope{Level: engine.LevelSection}, engine.PeriodFilter{
		StartDate:     day(1),
		EndDate:       day(31),
		Decomposition: engine.DecompositionChildren,
		LoanTypes:     engine.AllLoanTypes(),
	})

	// THEN: Padaria borrows 300 from Hortifruti
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.False(t, res.Degraded)
	for _, row := range res.Rows {
		switch row.Node.Code {
		case "10":
			assert.True(t, decimal.RequireFromString("700").Equal(row.FinalPurchaseValue), row.FinalPurchaseValue.String())
		case "20":
			assert.True(t, decimal.RequireFromString("300").Equal(row.BorrowedValue), row.BorrowedValue.String())
		}
	}
}
