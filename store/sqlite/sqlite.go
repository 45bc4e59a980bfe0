/*
Package sqlite provides a SQLite-backed implementation of the engine's sources.

PURPOSE:
  Holds a complete back-office dataset (hierarchy, stores, purchase and sale
  lines, inventory, reference data) in one embedded file. The engine reads it
  through engine.Catalog, engine.FactSource and engine.ReferenceSource; demo
  scenarios and imports write it through the Save* methods.

INTERFACES IMPLEMENTED:
  engine.Catalog:         Hierarchy nodes and stores
  engine.FactSource:      Purchase lines, sale lines, inventory
  engine.ReferenceSource: Recipes, associations, decompositions
  factory.Sink:           Dataset loading

KEY TABLES:
  hierarchy_nodes:     One row per node, addressed by its full path
  purchase_lines:      Inbound fiscal document lines (CFOP classified)
  sale_lines:          Sales by channel
  inventory:           Current stock per item and store
  recipe_lines:        Production relationships (input -> finished)
  association_pairs:   Base -> associated items
  decomposition_lines: Parent -> child cuts

DECIMALS:
  Every monetary and quantity column is TEXT holding the exact decimal
  string. shopspring/decimal scans and writes it directly.

INDEXES:
  - idx_hierarchy_level_parent: Children listing (hot path of drill-down)
  - idx_purchase_lines_date / idx_sale_lines_date: Period scans

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Reads share the lock, so the
  aggregator's concurrent fact queries do not serialize on it.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/recon.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.New(engine.Config{Catalog: store, Facts: store, References: store})

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: Read-only back-office implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

const dateLayout = "2006-01-02"

// Store implements the engine's sources using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Product hierarchy: section > group > subgroup > item
	CREATE TABLE IF NOT EXISTS hierarchy_nodes (
		path TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		code TEXT NOT NULL,
		parent_path TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		margin_target TEXT NOT NULL DEFAULT '0',
		buyer TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_hierarchy_level_parent
		ON hierarchy_nodes(level, parent_path);

	-- Item codes are global: loans reference items by code alone
	CREATE UNIQUE INDEX IF NOT EXISTS idx_hierarchy_item_code
		ON hierarchy_nodes(code) WHERE level = 'item';

	CREATE TABLE IF NOT EXISTS stores (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS purchase_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_code TEXT NOT NULL,
		store_code TEXT NOT NULL,
		date TEXT NOT NULL,
		cfop TEXT NOT NULL,
		quantity TEXT NOT NULL,
		value TEXT NOT NULL,
		tax_credit TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_purchase_lines_date
		ON purchase_lines(date, store_code);

	CREATE TABLE IF NOT EXISTS sale_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_code TEXT NOT NULL,
		store_code TEXT NOT NULL,
		date TEXT NOT NULL,
		sale_type INTEGER NOT NULL,
		quantity TEXT NOT NULL,
		value TEXT NOT NULL,
		cost TEXT NOT NULL,
		tax TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_sale_lines_date
		ON sale_lines(date, store_code);

	CREATE TABLE IF NOT EXISTS inventory (
		item_code TEXT NOT NULL,
		store_code TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY (item_code, store_code)
	);

	CREATE TABLE IF NOT EXISTS recipe_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		finished_code TEXT NOT NULL,
		input_code TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		participation_pct TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS association_pairs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		base_code TEXT NOT NULL,
		associated_code TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '1'
	);

	CREATE TABLE IF NOT EXISTS decomposition_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_code TEXT NOT NULL,
		child_code TEXT NOT NULL,
		share TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CATALOG (engine.Catalog interface)
// =============================================================================

const nodeColumns = `path, level, code, parent_path, description, margin_target, buyer`

// Children lists nodes at level below parent, ordered by path.
func (s *Store) Children(ctx context.Context, level engine.Level, parent engine.Path) ([]engine.HierarchyNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + nodeColumns + ` FROM hierarchy_nodes WHERE level = ?`
	args := []any{string(level)}
	if !parent.IsRoot() {
		query += ` AND (parent_path = ? OR parent_path LIKE ?)`
		args = append(args, parent.String(), parent.String()+"/%")
	}
	query += ` ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var nodes []engine.HierarchyNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Node returns the node at path or engine.ErrNodeNotFound.
func (s *Store) Node(ctx context.Context, path engine.Path) (engine.HierarchyNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE path = ?`, path.String())
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.HierarchyNode{}, fmt.Errorf("%s: %w", path.String(), engine.ErrNodeNotFound)
	}
	return n, err
}

// Items returns every item with its full path.
func (s *Store) Items(ctx context.Context) ([]engine.HierarchyNode, error) {
	return s.Children(ctx, engine.LevelItem, nil)
}

// Stores lists stores ordered by code.
func (s *Store) Stores(ctx context.Context) ([]engine.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT code, name FROM stores ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stores: %w", err)
	}
	defer rows.Close()

	var stores []engine.Store
	for rows.Next() {
		var st engine.Store
		if err := rows.Scan(&st.Code, &st.Name); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

// SaveNode inserts or updates a node below parent. The parent must exist
// and sit one level above node.Level.
func (s *Store) SaveNode(ctx context.Context, parent engine.Path, node engine.HierarchyNode) (engine.HierarchyNode, error) {
	if node.Level.Depth() != parent.Depth()+1 {
		return node, fmt.Errorf("%s %q cannot sit below %q", node.Level, node.Code, parent.String())
	}
	if !parent.IsRoot() {
		if _, err := s.Node(ctx, parent); err != nil {
			return node, fmt.Errorf("parent %w", err)
		}
	}
	node.Path = parent.Child(node.Code)
	node.ParentCode = parent.Code()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hierarchy_nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			description = excluded.description,
			margin_target = excluded.margin_target,
			buyer = excluded.buyer
	`,
		node.Path.String(),
		string(node.Level),
		node.Code,
		parent.String(),
		node.Description,
		node.MarginTarget,
		node.Buyer,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return node, fmt.Errorf("item code %q already used elsewhere in the hierarchy", node.Code)
		}
		return node, fmt.Errorf("failed to save node: %w", err)
	}
	return node, nil
}

// SaveStores inserts or replaces stores.
func (s *Store) SaveStores(ctx context.Context, stores ...engine.Store) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, st := range stores {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO stores (code, name) VALUES (?, ?)`, st.Code, st.Name); err != nil {
				return fmt.Errorf("failed to save store: %w", err)
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (engine.HierarchyNode, error) {
	var (
		n          engine.HierarchyNode
		path       string
		level      string
		parentPath string
	)
	if err := row.Scan(&path, &level, &n.Code, &parentPath, &n.Description, &n.MarginTarget, &n.Buyer); err != nil {
		return n, err
	}
	n.Path = engine.ParsePath(path)
	n.Level = engine.Level(level)
	n.ParentCode = engine.ParsePath(parentPath).Code()
	return n, nil
}

// =============================================================================
// FACTS (engine.FactSource interface)
// =============================================================================

// PurchaseLines returns purchase lines inside the query's period.
func (s *Store) PurchaseLines(ctx context.Context, q engine.FactQuery) ([]engine.PurchaseLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := periodQuery(`
		SELECT item_code, store_code, date, cfop, quantity, value, tax_credit
		FROM purchase_lines`, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase lines: %w", err)
	}
	defer rows.Close()

	var lines []engine.PurchaseLine
	for rows.Next() {
		var (
			l    engine.PurchaseLine
			date string
		)
		if err := rows.Scan(&l.ItemCode, &l.StoreCode, &date, &l.CFOP, &l.Quantity, &l.Value, &l.TaxCredit); err != nil {
			return nil, err
		}
		if l.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("purchase line date %q: %w", date, err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SaleLines returns sale lines inside the query's period.
func (s *Store) SaleLines(ctx context.Context, q engine.FactQuery) ([]engine.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := periodQuery(`
		SELECT item_code, store_code, date, sale_type, quantity, value, cost, tax
		FROM sale_lines`, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale lines: %w", err)
	}
	defer rows.Close()

	var lines []engine.SaleLine
	for rows.Next() {
		var (
			l        engine.SaleLine
			date     string
			saleType int
		)
		if err := rows.Scan(&l.ItemCode, &l.StoreCode, &date, &saleType, &l.Quantity, &l.Value, &l.Cost, &l.Tax); err != nil {
			return nil, err
		}
		if l.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("sale line date %q: %w", date, err)
		}
		l.Type = engine.SaleType(saleType)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Inventory returns current stock, filtered by store only.
func (s *Store) Inventory(ctx context.Context, q engine.FactQuery) ([]engine.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT item_code, store_code, quantity FROM inventory`
	var args []any
	if q.StoreCode != "" {
		query += ` WHERE store_code = ?`
		args = append(args, q.StoreCode)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var positions []engine.StockPosition
	for rows.Next() {
		var p engine.StockPosition
		if err := rows.Scan(&p.ItemCode, &p.StoreCode, &p.Quantity); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func periodQuery(base string, q engine.FactQuery) (string, []any) {
	query := base + ` WHERE date BETWEEN ? AND ?`
	args := []any{q.Start.Format(dateLayout), q.End.Format(dateLayout)}
	if q.StoreCode != "" {
		query += ` AND store_code = ?`
		args = append(args, q.StoreCode)
	}
	return query + ` ORDER BY id`, args
}

// SavePurchases appends purchase lines atomically.
func (s *Store) SavePurchases(ctx context.Context, lines ...engine.PurchaseLine) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO purchase_lines
				(item_code, store_code, date, cfop, quantity, value, tax_credit)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, l.ItemCode, l.StoreCode, l.Date.Format(dateLayout), l.CFOP, l.Quantity, l.Value, l.TaxCredit)
			if err != nil {
				return fmt.Errorf("failed to save purchase line: %w", err)
			}
		}
		return nil
	})
}

// SaveSales appends sale lines atomically.
func (s *Store) SaveSales(ctx context.Context, lines ...engine.SaleLine) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sale_lines
				(item_code, store_code, date, sale_type, quantity, value, cost, tax)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, l.ItemCode, l.StoreCode, l.Date.Format(dateLayout), int(l.Type), l.Quantity, l.Value, l.Cost, l.Tax)
			if err != nil {
				return fmt.Errorf("failed to save sale line: %w", err)
			}
		}
		return nil
	})
}

// SaveStock inserts or replaces stock positions.
func (s *Store) SaveStock(ctx context.Context, positions ...engine.StockPosition) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range positions {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO inventory (item_code, store_code, quantity) VALUES (?, ?, ?)`,
				p.ItemCode, p.StoreCode, p.Quantity)
			if err != nil {
				return fmt.Errorf("failed to save stock: %w", err)
			}
		}
		return nil
	})
}

// =============================================================================
// REFERENCE DATA (engine.ReferenceSource interface)
// =============================================================================

func (s *Store) Recipes(ctx context.Context) ([]engine.RecipeLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT finished_code, input_code, quantity, participation_pct FROM recipe_lines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipes: %w", err)
	}
	defer rows.Close()

	var lines []engine.RecipeLine
	for rows.Next() {
		var l engine.RecipeLine
		if err := rows.Scan(&l.FinishedCode, &l.InputCode, &l.Quantity, &l.ParticipationPct); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) Associations(ctx context.Context) ([]engine.AssociationPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT base_code, associated_code, quantity FROM association_pairs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query associations: %w", err)
	}
	defer rows.Close()

	var pairs []engine.AssociationPair
	for rows.Next() {
		var p engine.AssociationPair
		if err := rows.Scan(&p.BaseCode, &p.AssociatedCode, &p.Quantity); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (s *Store) Decompositions(ctx context.Context) ([]engine.DecompositionLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT parent_code, child_code, share FROM decomposition_lines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query decompositions: %w", err)
	}
	defer rows.Close()

	var lines []engine.DecompositionLine
	for rows.Next() {
		var l engine.DecompositionLine
		if err := rows.Scan(&l.ParentCode, &l.ChildCode, &l.Share); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SaveReferenceData appends every relationship in data atomically.
func (s *Store) SaveReferenceData(ctx context.Context, data engine.ReferenceData) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range data.Recipes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO recipe_lines (finished_code, input_code, quantity, participation_pct) VALUES (?, ?, ?, ?)`,
				l.FinishedCode, l.InputCode, l.Quantity, l.ParticipationPct); err != nil {
				return fmt.Errorf("failed to save recipe: %w", err)
			}
		}
		for _, p := range data.Associations {
			qty := p.Quantity
			if !qty.IsPositive() {
				qty = decimal.NewFromInt(1)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO association_pairs (base_code, associated_code, quantity) VALUES (?, ?, ?)`,
				p.BaseCode, p.AssociatedCode, qty); err != nil {
				return fmt.Errorf("failed to save association: %w", err)
			}
		}
		for _, l := range data.Decompositions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO decomposition_lines (parent_code, child_code, share) VALUES (?, ?, ?)`,
				l.ParentCode, l.ChildCode, l.Share); err != nil {
				return fmt.Errorf("failed to save decomposition: %w", err)
			}
		}
		return nil
	})
}

// =============================================================================
// UTILITIES
// =============================================================================

// withTx runs fn inside a database transaction under the write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"decomposition_lines", "association_pairs", "recipe_lines",
		"inventory", "sale_lines", "purchase_lines", "stores", "hierarchy_nodes",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
