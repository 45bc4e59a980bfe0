/*
Package factory provides JSON to Go dataset conversion.

PURPOSE:
  Converts JSON dataset definitions (hierarchy, stores, transactions,
  reference data) into engine types and loads them into a writable store.
  Demo scenarios, fixtures and one-off imports are all expressed this way,
  so nobody has to write SQL to seed an environment.

JSON SCHEMA:
  {
    "id": "hortifruti-padaria",
    "name": "Hortifruti lends to Padaria",
    "stores": [{"code": "1", "name": "Loja Centro"}],
    "hierarchy": [
      {"code": "10", "description": "Hortifruti", "margin_target": "30",
       "groups": [{"code": "1", "description": "Legumes",
         "subgroups": [{"code": "1", "description": "Tomates",
           "items": [{"code": "101", "description": "Tomate", "buyer": "B1"}]}]}]}
    ],
    "purchases": [{"item": "101", "store": "1", "date": "2025-03-05",
                   "cfop": "1102", "quantity": "500", "value": "1000"}],
    "sales":     [{"item": "101", "store": "1", "date": "2025-03-10",
                   "type": "pos", "quantity": "300", "value": "1400", "cost": "700"}],
    "stock":     [{"item": "101", "store": "1", "quantity": "40"}],
    "recipes":        [{"finished": "201", "input": "101", "participation_pct": "30"}],
    "associations":   [{"base": "401", "associated": "402", "quantity": "12"}],
    "decompositions": [{"parent": "301", "child": "302", "share": "10"}]
  }

  Numbers may be JSON numbers or strings; strings keep exact decimals.
  Dates accept YYYY-MM-DD or DD/MM/YYYY.

VALIDATION:
  - id is required
  - item codes are unique across the hierarchy
  - purchases, sales and stock must reference a declared item and store
  - reference data may name unknown items (the engine skips and reports them)

USAGE:
  f := factory.NewDatasetFactory()
  ds, err := f.ParseDataset(jsonString)
  if err != nil { ... }
  err = ds.Load(ctx, sqliteStore)

SEE ALSO:
  - presets.go: Embedded demo datasets
  - store/sqlite/sqlite.go: The Sink used by the API
  - api/scenarios.go: Scenario loading endpoints
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DatasetJSON is the JSON representation of a dataset.
type DatasetJSON struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	Stores         []StoreJSON         `json:"stores"`
	Hierarchy      []SectionJSON       `json:"hierarchy"`
	Purchases      []PurchaseJSON      `json:"purchases,omitempty"`
	Sales          []SaleJSON          `json:"sales,omitempty"`
	Stock          []StockJSON         `json:"stock,omitempty"`
	Recipes        []RecipeJSON        `json:"recipes,omitempty"`
	Associations   []AssociationJSON   `json:"associations,omitempty"`
	Decompositions []DecompositionJSON `json:"decompositions,omitempty"`
}

type StoreJSON struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type SectionJSON struct {
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	MarginTarget decimal.Decimal `json:"margin_target"`
	Groups       []GroupJSON     `json:"groups"`
}

type GroupJSON struct {
	Code        string         `json:"code"`
	Description string         `json:"description"`
	Subgroups   []SubgroupJSON `json:"subgroups"`
}

type SubgroupJSON struct {
	Code        string     `json:"code"`
	Description string     `json:"description"`
	Items       []ItemJSON `json:"items"`
}

type ItemJSON struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Buyer       string `json:"buyer,omitempty"`
}

type PurchaseJSON struct {
	Item      string          `json:"item"`
	Store     string          `json:"store"`
	Date      string          `json:"date"`
	CFOP      string          `json:"cfop"`
	Quantity  decimal.Decimal `json:"quantity"`
	Value     decimal.Decimal `json:"value"`
	TaxCredit decimal.Decimal `json:"tax_credit"`
}

type SaleJSON struct {
	Item     string          `json:"item"`
	Store    string          `json:"store"`
	Date     string          `json:"date"`
	Type     string          `json:"type"` // pos, invoice, counter, transfer (or 0-3)
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
	Cost     decimal.Decimal `json:"cost"`
	Tax      decimal.Decimal `json:"tax"`
}

type StockJSON struct {
	Item     string          `json:"item"`
	Store    string          `json:"store"`
	Quantity decimal.Decimal `json:"quantity"`
}

type RecipeJSON struct {
	Finished         string          `json:"finished"`
	Input            string          `json:"input"`
	Quantity         decimal.Decimal `json:"quantity"`
	ParticipationPct decimal.Decimal `json:"participation_pct"`
}

type AssociationJSON struct {
	Base       string          `json:"base"`
	Associated string          `json:"associated"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type DecompositionJSON struct {
	Parent string          `json:"parent"`
	Child  string          `json:"child"`
	Share  decimal.Decimal `json:"share"`
}

// =============================================================================
// DATASET
// =============================================================================

// NodeDef places a node below its parent. Nodes are listed parent first.
type NodeDef struct {
	Parent engine.Path
	Node   engine.HierarchyNode
}

// Dataset is a validated, engine-typed dataset.
type Dataset struct {
	ID          string
	Name        string
	Description string

	Nodes      []NodeDef
	Stores     []engine.Store
	Purchases  []engine.PurchaseLine
	Sales      []engine.SaleLine
	Stock      []engine.StockPosition
	References engine.ReferenceData
}

// Sink is a writable store a Dataset can be loaded into.
type Sink interface {
	SaveNode(ctx context.Context, parent engine.Path, node engine.HierarchyNode) (engine.HierarchyNode, error)
	SaveStores(ctx context.Context, stores ...engine.Store) error
	SavePurchases(ctx context.Context, lines ...engine.PurchaseLine) error
	SaveSales(ctx context.Context, lines ...engine.SaleLine) error
	SaveStock(ctx context.Context, positions ...engine.StockPosition) error
	SaveReferenceData(ctx context.Context, data engine.ReferenceData) error
}

// Load writes the dataset into sink, hierarchy first.
func (d *Dataset) Load(ctx context.Context, sink Sink) error {
	for _, n := range d.Nodes {
		if _, err := sink.SaveNode(ctx, n.Parent, n.Node); err != nil {
			return fmt.Errorf("dataset %s: node %s: %w", d.ID, n.Parent.Child(n.Node.Code), err)
		}
	}
	if err := sink.SaveStores(ctx, d.Stores...); err != nil {
		return fmt.Errorf("dataset %s: %w", d.ID, err)
	}
	if err := sink.SavePurchases(ctx, d.Purchases...); err != nil {
		return fmt.Errorf("dataset %s: %w", d.ID, err)
	}
	if err := sink.SaveSales(ctx, d.Sales...); err != nil {
		return fmt.Errorf("dataset %s: %w", d.ID, err)
	}
	if err := sink.SaveStock(ctx, d.Stock...); err != nil {
		return fmt.Errorf("dataset %s: %w", d.ID, err)
	}
	if err := sink.SaveReferenceData(ctx, d.References); err != nil {
		return fmt.Errorf("dataset %s: %w", d.ID, err)
	}
	return nil
}

// =============================================================================
// DATASET FACTORY
// =============================================================================

// DatasetFactory converts JSON datasets to engine types.
type DatasetFactory struct{}

// NewDatasetFactory creates a new dataset factory.
func NewDatasetFactory() *DatasetFactory {
	return &DatasetFactory{}
}

// ParseDataset parses a JSON string into a Dataset.
func (f *DatasetFactory) ParseDataset(jsonStr string) (*Dataset, error) {
	var dj DatasetJSON
	if err := json.Unmarshal([]byte(jsonStr), &dj); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.FromJSON(dj)
}

// FromJSON converts a DatasetJSON into a Dataset.
func (f *DatasetFactory) FromJSON(dj DatasetJSON) (*Dataset, error) {
	if dj.ID == "" {
		return nil, fmt.Errorf("dataset ID is required")
	}

	ds := &Dataset{ID: dj.ID, Name: dj.Name, Description: dj.Description}
	if ds.Name == "" {
		ds.Name = dj.ID
	}

	stores := make(map[string]bool, len(dj.Stores))
	for _, s := range dj.Stores {
		if s.Code == "" {
			return nil, fmt.Errorf("store code is required")
		}
		stores[s.Code] = true
		ds.Stores = append(ds.Stores, engine.Store{Code: s.Code, Name: s.Name})
	}

	items, err := ds.addHierarchy(dj.Hierarchy)
	if err != nil {
		return nil, err
	}

	known := func(kind string, i int, item, store string) error {
		if !items[item] {
			return fmt.Errorf("%s[%d]: unknown item %q", kind, i, item)
		}
		if !stores[store] {
			return fmt.Errorf("%s[%d]: unknown store %q", kind, i, store)
		}
		return nil
	}

	for i, p := range dj.Purchases {
		if err := known("purchases", i, p.Item, p.Store); err != nil {
			return nil, err
		}
		date, err := engine.ParseDate(fmt.Sprintf("purchases[%d].date", i), p.Date)
		if err != nil {
			return nil, err
		}
		ds.Purchases = append(ds.Purchases, engine.PurchaseLine{
			ItemCode: p.Item, StoreCode: p.Store, Date: date, CFOP: p.CFOP,
			Quantity: p.Quantity, Value: p.Value, TaxCredit: p.TaxCredit,
		})
	}

	for i, s := range dj.Sales {
		if err := known("sales", i, s.Item, s.Store); err != nil {
			return nil, err
		}
		date, err := engine.ParseDate(fmt.Sprintf("sales[%d].date", i), s.Date)
		if err != nil {
			return nil, err
		}
		saleType, err := parseSaleType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("sales[%d]: %w", i, err)
		}
		ds.Sales = append(ds.Sales, engine.SaleLine{
			ItemCode: s.Item, StoreCode: s.Store, Date: date, Type: saleType,
			Quantity: s.Quantity, Value: s.Value, Cost: s.Cost, Tax: s.Tax,
		})
	}

	for i, s := range dj.Stock {
		if err := known("stock", i, s.Item, s.Store); err != nil {
			return nil, err
		}
		ds.Stock = append(ds.Stock, engine.StockPosition{ItemCode: s.Item, StoreCode: s.Store, Quantity: s.Quantity})
	}

	for _, r := range dj.Recipes {
		ds.References.Recipes = append(ds.References.Recipes, engine.RecipeLine{
			FinishedCode: r.Finished, InputCode: r.Input, Quantity: r.Quantity, ParticipationPct: r.ParticipationPct,
		})
	}
	for _, a := range dj.Associations {
		ds.References.Associations = append(ds.References.Associations, engine.AssociationPair{
			BaseCode: a.Base, AssociatedCode: a.Associated, Quantity: a.Quantity,
		})
	}
	for _, d := range dj.Decompositions {
		ds.References.Decompositions = append(ds.References.Decompositions, engine.DecompositionLine{
			ParentCode: d.Parent, ChildCode: d.Child, Share: d.Share,
		})
	}

	return ds, nil
}

// addHierarchy flattens the nested hierarchy into parent-first NodeDefs and
// returns the set of item codes.
func (ds *Dataset) addHierarchy(sections []SectionJSON) (map[string]bool, error) {
	items := make(map[string]bool)
	add := func(parent engine.Path, node engine.HierarchyNode) (engine.Path, error) {
		if node.Code == "" {
			return nil, fmt.Errorf("%s below %q: code is required", node.Level, parent.String())
		}
		ds.Nodes = append(ds.Nodes, NodeDef{Parent: parent, Node: node})
		return parent.Child(node.Code), nil
	}

	for _, s := range sections {
		sp, err := add(nil, engine.HierarchyNode{
			Level: engine.LevelSection, Code: s.Code, Description: s.Description, MarginTarget: s.MarginTarget,
		})
		if err != nil {
			return nil, err
		}
		for _, g := range s.Groups {
			gp, err := add(sp, engine.HierarchyNode{Level: engine.LevelGroup, Code: g.Code, Description: g.Description})
			if err != nil {
				return nil, err
			}
			for _, sg := range g.Subgroups {
				sgp, err := add(gp, engine.HierarchyNode{Level: engine.LevelSubgroup, Code: sg.Code, Description: sg.Description})
				if err != nil {
					return nil, err
				}
				for _, it := range sg.Items {
					if items[it.Code] {
						return nil, fmt.Errorf("item code %q declared twice", it.Code)
					}
					if _, err := add(sgp, engine.HierarchyNode{
						Level: engine.LevelItem, Code: it.Code, Description: it.Description, Buyer: it.Buyer,
					}); err != nil {
						return nil, err
					}
					items[it.Code] = true
				}
			}
		}
	}
	return items, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func parseSaleType(s string) (engine.SaleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pos", "pdv":
		return engine.SalePOS, nil
	case "invoice", "nf", "nota":
		return engine.SaleCustomerInvoice, nil
	case "counter", "balcao":
		return engine.SaleCounter, nil
	case "transfer", "transferencia":
		return engine.SaleTransfer, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 3 {
		return engine.SaleType(n), nil
	}
	return 0, fmt.Errorf("unknown sale type %q", s)
}
