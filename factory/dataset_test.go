package factory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Betotradicao/TESTES--sub002/engine"
	"github.com/Betotradicao/TESTES--sub002/factory"
	"github.com/Betotradicao/TESTES--sub002/store/sqlite"
)

func march() engine.PeriodFilter {
	return engine.PeriodFilter{
		StartDate:     time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
		Decomposition: engine.DecompositionChildren,
		LoanTypes:     engine.AllLoanTypes(),
	}
}

func loadPreset(t *testing.T, id string) *engine.Engine {
	t.Helper()
	ds, err := factory.NewDatasetFactory().Preset(id)
	require.NoError(t, err)

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, ds.Load(context.Background(), store))
	return engine.New(engine.Config{Catalog: store, Facts: store, References: store, RetryAfter: time.Second})
}

func row(t *testing.T, res *engine.QueryResult, path string) engine.AdjustedNodeResult {
	t.Helper()
	for _, r := range res.Rows {
		if r.Node.Path.String() == path {
			return r
		}
	}
	t.Fatalf("row %s not found", path)
	return engine.AdjustedNodeResult{}
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestParseDataset(t *testing.T) {
	ds, err := factory.NewDatasetFactory().ParseDataset(`{
		"id": "tiny",
		"stores": [{"code": "1", "name": "Centro"}],
		"hierarchy": [{"code": "10", "description": "Hortifruti", "margin_target": 30, "groups": [
			{"code": "1", "subgroups": [{"code": "1", "items": [{"code": "101", "buyer": "B1"}]}]}]}],
		"purchases": [{"item": "101", "store": "1", "date": "05/03/2025", "cfop": "1102", "quantity": 10, "value": "20.10"}],
		"sales": [{"item": "101", "store": "1", "date": "2025-03-06", "type": "counter", "quantity": "1", "value": "3", "cost": "2"}],
		"decompositions": [{"parent": "101", "child": "999", "share": "50"}]
	}`)
	require.NoError(t, err)

	assert.Equal(t, "tiny", ds.Name, "name defaults to id")
	require.Len(t, ds.Nodes, 4)
	assert.Equal(t, engine.LevelItem, ds.Nodes[3].Node.Level)
	assert.Equal(t, "10/1/1", ds.Nodes[3].Parent.String())
	assertDec(t, "30", ds.Nodes[0].Node.MarginTarget)

	require.Len(t, ds.Purchases, 1)
	assert.Equal(t, time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC), ds.Purchases[0].Date)
	assertDec(t, "20.10", ds.Purchases[0].Value)
	assert.Equal(t, engine.SaleCounter, ds.Sales[0].Type)

	// Reference data may name unknown items
	require.Len(t, ds.References.Decompositions, 1)
}

func TestParseDataset_Validation(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"invalid json", `{`, "invalid JSON"},
		{"missing id", `{"name": "x"}`, "ID is required"},
		{
			"unknown item",
			`{"id": "x", "stores": [{"code": "1"}], "purchases": [{"item": "9", "store": "1", "date": "2025-03-01"}]}`,
			`unknown item "9"`,
		},
		{
			"unknown store",
			`{"id": "x", "hierarchy": [{"code": "1", "groups": [{"code": "1", "subgroups": [{"code": "1", "items": [{"code": "9"}]}]}]}],
			  "sales": [{"item": "9", "store": "7", "date": "2025-03-01"}]}`,
			`unknown store "7"`,
		},
		{
			"duplicate item",
			`{"id": "x", "hierarchy": [{"code": "1", "groups": [{"code": "1", "subgroups": [
				{"code": "1", "items": [{"code": "9"}]}, {"code": "2", "items": [{"code": "9"}]}]}]}]}`,
			"declared twice",
		},
		{
			"bad sale type",
			`{"id": "x", "stores": [{"code": "1"}], "hierarchy": [{"code": "1", "groups": [{"code": "1", "subgroups": [{"code": "1", "items": [{"code": "9"}]}]}]}],
			  "sales": [{"item": "9", "store": "1", "date": "2025-03-01", "type": "drone"}]}`,
			"unknown sale type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewDatasetFactory().ParseDataset(tt.json)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPresets_AllParse(t *testing.T) {
	ids := factory.PresetIDs()
	assert.Equal(t, []string{"association-pack", "bonus-mix", "decomposition-boi", "hortifruti-padaria"}, ids)

	f := factory.NewDatasetFactory()
	for _, id := range ids {
		ds, err := f.Preset(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, ds.ID)
		assert.NotEmpty(t, ds.Nodes, id)
	}

	_, err := f.Preset("nope")
	assert.Error(t, err)
}

func TestPreset_HortifrutiPadaria(t *testing.T) {
	eng := loadPreset(t, "hortifruti-padaria")

	res, err := eng.Query(context.Background(), engine.Scope{Level: engine.LevelSection}, march())
	require.NoError(t, err)

	horti := row(t, res, "10")
	assertDec(t, "300", horti.LentValue)
	assertDec(t, "1300", horti.FinalPurchaseValue) // 1000 + 600 - 300

	padaria := row(t, res, "20")
	assertDec(t, "300", padaria.BorrowedValue)
	assertDec(t, "700", padaria.FinalPurchaseValue) // 400 + 300
	assert.False(t, res.Degraded)
}

func TestPreset_DecompositionBoi(t *testing.T) {
	// GIVEN: A 20000 carcass split 10/25/40 into cuts
	eng := loadPreset(t, "decomposition-boi")

	// WHEN: Looking at the subgroups of Bovinos
	res, err := eng.Query(context.Background(),
		engine.Scope{Level: engine.LevelSubgroup, Parent: engine.ParsePath("30/1")}, march())
	require.NoError(t, err)

	// THEN: The carcass keeps the 25% remainder
	assertDec(t, "15000", row(t, res, "30/1/1").LentValue)
	assertDec(t, "5000", row(t, res, "30/1/1").FinalPurchaseValue)
	assertDec(t, "7000", row(t, res, "30/1/2").BorrowedValue)
	assertDec(t, "8000", row(t, res, "30/1/3").FinalPurchaseValue)
	assertDec(t, "20000", res.Totals.FinalPurchaseValue)
}

func TestPreset_AssociationPack(t *testing.T) {
	eng := loadPreset(t, "association-pack")

	res, err := eng.Query(context.Background(),
		engine.Scope{Level: engine.LevelItem, Parent: engine.ParsePath("40")}, march())
	require.NoError(t, err)

	// 40 packs * 12 cans * 3.00 per can
	assertDec(t, "1440", row(t, res, "40/1/2/402").BorrowedValue)
	assertDec(t, "2160", row(t, res, "40/1/1/401").FinalPurchaseValue)
}

func TestPreset_BonusMixReportsStaleReference(t *testing.T) {
	eng := loadPreset(t, "bonus-mix")

	res, err := eng.Query(context.Background(), engine.Scope{Level: engine.LevelSection}, march())
	require.NoError(t, err)
	assert.Equal(t, 1, res.PartialReferenceData)
	assert.NotEmpty(t, res.Warnings)
	assertDec(t, "1610", row(t, res, "50").PurchaseValue)

	only := march()
	only.BonusMode = engine.BonusOnly
	res, err = eng.Query(context.Background(), engine.Scope{Level: engine.LevelSection}, only)
	require.NoError(t, err)
	assertDec(t, "200", row(t, res, "50").PurchaseValue)
}
