// Package store provides in-memory implementations of the engine's sources.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

// =============================================================================
// MEMORY STORE - In-memory catalog, facts and reference data (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	nodes  map[string]engine.HierarchyNode
	stores []engine.Store

	purchases []engine.PurchaseLine
	sales     []engine.SaleLine
	stock     []engine.StockPosition

	refs engine.ReferenceData

	// failure, when set, is returned by every read.
	failure error
}

func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]engine.HierarchyNode)}
}

// AddNode registers node under parent. The parent must already exist and
// sit exactly one level above node.Level.
func (m *Memory) AddNode(parent engine.Path, node engine.HierarchyNode) (engine.HierarchyNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node.Level.Depth() != parent.Depth()+1 {
		return node, fmt.Errorf("%s %q cannot sit below %q", node.Level, node.Code, parent.String())
	}
	if !parent.IsRoot() {
		if _, ok := m.nodes[parent.String()]; !ok {
			return node, fmt.Errorf("parent %q: %w", parent.String(), engine.ErrNodeNotFound)
		}
	}
	node.Path = parent.Child(node.Code)
	node.ParentCode = parent.Code()
	m.nodes[node.Path.String()] = node
	return node, nil
}

// AddItemUnchecked registers an item whose ancestors may be missing from the
// catalog, as happens with stale back-office data.
func (m *Memory) AddItemUnchecked(path engine.Path, node engine.HierarchyNode) engine.HierarchyNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	node.Level = engine.LevelItem
	node.Code = path.Code()
	node.Path = path
	node.ParentCode = path.Parent().Code()
	m.nodes[path.String()] = node
	return node
}

func (m *Memory) AddStore(s engine.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = append(m.stores, s)
}

func (m *Memory) AddPurchases(lines ...engine.PurchaseLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases = append(m.purchases, lines...)
}

func (m *Memory) AddSales(lines ...engine.SaleLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = append(m.sales, lines...)
}

func (m *Memory) AddStock(positions ...engine.StockPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock = append(m.stock, positions...)
}

func (m *Memory) AddRecipes(lines ...engine.RecipeLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs.Recipes = append(m.refs.Recipes, lines...)
}

func (m *Memory) AddAssociations(pairs ...engine.AssociationPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs.Associations = append(m.refs.Associations, pairs...)
}

func (m *Memory) AddDecompositions(lines ...engine.DecompositionLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs.Decompositions = append(m.refs.Decompositions, lines...)
}

// SetFailure makes every read fail with err until cleared with nil.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// =============================================================================
// engine.Catalog
// =============================================================================

func (m *Memory) Children(_ context.Context, level engine.Level, parent engine.Path) ([]engine.HierarchyNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}

	var out []engine.HierarchyNode
	for _, n := range m.nodes {
		if n.Level == level && n.Path.HasPrefix(parent) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.String() < out[j].Path.String() })
	return out, nil
}

func (m *Memory) Node(_ context.Context, path engine.Path) (engine.HierarchyNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return engine.HierarchyNode{}, m.failure
	}
	n, ok := m.nodes[path.String()]
	if !ok {
		return engine.HierarchyNode{}, fmt.Errorf("%s: %w", path.String(), engine.ErrNodeNotFound)
	}
	return n, nil
}

func (m *Memory) Items(ctx context.Context) ([]engine.HierarchyNode, error) {
	return m.Children(ctx, engine.LevelItem, nil)
}

func (m *Memory) Stores(_ context.Context) ([]engine.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	return append([]engine.Store(nil), m.stores...), nil
}

// =============================================================================
// engine.FactSource
// =============================================================================

func (m *Memory) PurchaseLines(_ context.Context, q engine.FactQuery) ([]engine.PurchaseLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	var out []engine.PurchaseLine
	for _, p := range m.purchases {
		if matches(q, p.StoreCode) && q.Contains(p.Date) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) SaleLines(_ context.Context, q engine.FactQuery) ([]engine.SaleLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	var out []engine.SaleLine
	for _, s := range m.sales {
		if matches(q, s.StoreCode) && q.Contains(s.Date) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) Inventory(_ context.Context, q engine.FactQuery) ([]engine.StockPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	var out []engine.StockPosition
	for _, s := range m.stock {
		if matches(q, s.StoreCode) {
			out = append(out, s)
		}
	}
	return out, nil
}

// =============================================================================
// engine.ReferenceSource
// =============================================================================

func (m *Memory) Recipes(_ context.Context) ([]engine.RecipeLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	return append([]engine.RecipeLine(nil), m.refs.Recipes...), nil
}

func (m *Memory) Associations(_ context.Context) ([]engine.AssociationPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	return append([]engine.AssociationPair(nil), m.refs.Associations...), nil
}

func (m *Memory) Decompositions(_ context.Context) ([]engine.DecompositionLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	return append([]engine.DecompositionLine(nil), m.refs.Decompositions...), nil
}

func matches(q engine.FactQuery, storeCode string) bool {
	return q.StoreCode == "" || q.StoreCode == storeCode
}
