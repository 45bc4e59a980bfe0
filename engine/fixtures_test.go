package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Betotradicao/TESTES--sub002/engine"
	"github.com/Betotradicao/TESTES--sub002/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func march(day int) time.Time {
	return time.Date(2025, time.March, day, 0, 0, 0, 0, time.UTC)
}

func marchFilter() engine.PeriodFilter {
	return engine.PeriodFilter{
		StartDate: march(1),
		EndDate:   march(31),
		LoanTypes: engine.AllLoanTypes(),
	}
}

func childrenFilter() engine.PeriodFilter {
	f := marchFilter()
	f.Decomposition = engine.DecompositionChildren
	return f
}

// assertDec compares decimals by value, not representation.
func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

// newCatalog builds three sections:
//
//	10 Hortifruti > 10/1 Legumes > 10/1/1 Tomates > 101 Tomate
//	20 Padaria    > 20/1 Paes    > 20/1/1 Especiais > 201 Pao de tomate, 202 Kit pao
//	30 Acougue    > 30/1 Bovinos > 30/1/1 Cortes    > 301 Boi casado, 302 Picanha, 303 Alcatra
func newCatalog(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()

	add := func(parent string, level engine.Level, code, desc string) {
		_, err := m.AddNode(engine.ParsePath(parent), engine.HierarchyNode{Level: level, Code: code, Description: desc})
		require.NoError(t, err)
	}

	_, err := m.AddNode(nil, engine.HierarchyNode{Level: engine.LevelSection, Code: "10", Description: "Hortifruti", MarginTarget: dec("30")})
	require.NoError(t, err)
	add("", engine.LevelSection, "20", "Padaria")
	add("", engine.LevelSection, "30", "Acougue")

	add("10", engine.LevelGroup, "1", "Legumes")
	add("20", engine.LevelGroup, "1", "Paes")
	add("30", engine.LevelGroup, "1", "Bovinos")

	add("10/1", engine.LevelSubgroup, "1", "Tomates")
	add("20/1", engine.LevelSubgroup, "1", "Especiais")
	add("30/1", engine.LevelSubgroup, "1", "Cortes")

	_, err = m.AddNode(engine.ParsePath("10/1/1"), engine.HierarchyNode{Level: engine.LevelItem, Code: "101", Description: "Tomate", Buyer: "B1"})
	require.NoError(t, err)
	add("20/1/1", engine.LevelItem, "201", "Pao de tomate")
	add("20/1/1", engine.LevelItem, "202", "Kit pao")
	add("30/1/1", engine.LevelItem, "301", "Boi casado")
	add("30/1/1", engine.LevelItem, "302", "Picanha")
	add("30/1/1", engine.LevelItem, "303", "Alcatra")

	m.AddStore(engine.Store{Code: "1", Name: "Loja Centro"})
	m.AddStore(engine.Store{Code: "2", Name: "Loja Bairro"})
	return m
}

func purchase(item, store string, day int, qty, value string) engine.PurchaseLine {
	return engine.PurchaseLine{
		ItemCode: item, StoreCode: store, Date: march(day), CFOP: "1102",
		Quantity: dec(qty), Value: dec(value), TaxCredit: decimal.Zero,
	}
}

func sale(item, store string, day int, qty, value, cost string) engine.SaleLine {
	return engine.SaleLine{
		ItemCode: item, StoreCode: store, Date: march(day), Type: engine.SalePOS,
		Quantity: dec(qty), Value: dec(value), Cost: dec(cost), Tax: decimal.Zero,
	}
}

// newHortifrutiPadaria is the production scenario: Hortifruti buys 1000 of
// tomato, 30% of which goes into bread sold by Padaria.
func newHortifrutiPadaria(t *testing.T) (*engine.Engine, *store.Memory) {
	t.Helper()
	m := newCatalog(t)
	m.AddPurchases(purchase("101", "1", 5, "500", "1000"))
	m.AddSales(
		sale("101", "1", 10, "300", "1400", "700"),
		sale("201", "1", 12, "100", "800", "300"),
	)
	m.AddRecipes(engine.RecipeLine{FinishedCode: "201", InputCode: "101", ParticipationPct: dec("30")})
	return newEngine(m), m
}

func newEngine(m *store.Memory) *engine.Engine {
	return engine.New(engine.Config{
		Catalog:    m,
		Facts:      m,
		References: m,
		RetryAfter: 30 * time.Second,
	})
}

func rowByCode(t *testing.T, rows []engine.AdjustedNodeResult, code string) engine.AdjustedNodeResult {
	t.Helper()
	for _, r := range rows {
		if r.Node.Code == code {
			return r
		}
	}
	t.Fatalf("row %s not found", code)
	return engine.AdjustedNodeResult{}
}
