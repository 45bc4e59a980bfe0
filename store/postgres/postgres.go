/*
Package postgres reads the engine's sources from a PostgreSQL replica of the
back-office database.

PURPOSE:
  Production deployments do not own the data: the ERP writes it, a replica
  exposes it. This store is read-only and expects the replica to publish the
  views below (names are fixed, columns are selected explicitly).

VIEWS:
  recon_hierarchy       (path, level, code, parent_path, description, margin_target, buyer)
  recon_stores          (code, name)
  recon_purchase_lines  (item_code, store_code, entry_date, cfop, quantity, value, tax_credit)
  recon_sale_lines      (item_code, store_code, sale_date, sale_type, quantity, value, cost, tax)
  recon_inventory       (item_code, store_code, quantity)
  recon_recipes         (finished_code, input_code, quantity, participation_pct)
  recon_associations    (base_code, associated_code, quantity)
  recon_decompositions  (parent_code, child_code, share)

ERRORS:
  Connection-level failures (SQLSTATE class 08, 53, 57) are returned as
  engine.SourceUnavailableError so callers can retry. Other driver errors
  are wrapped with the failing operation; the engine classifies them.

SEE ALSO:
  - store/sqlite/sqlite.go: Writable embedded implementation
  - engine/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

type Store struct {
	db         *sql.DB
	retryAfter time.Duration
}

// New opens a pool against databaseURL and pings it.
func New(ctx context.Context, databaseURL string, retryAfter time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db, retryAfter), nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sql.DB, retryAfter time.Duration) *Store {
	return &Store{db: db, retryAfter: retryAfter}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// CATALOG
// =============================================================================

const nodeQuery = `
		SELECT path, level, code, parent_path, description, margin_target, buyer
		FROM recon_hierarchy`

func (s *Store) Children(ctx context.Context, level engine.Level, parent engine.Path) ([]engine.HierarchyNode, error) {
	query := nodeQuery + `
		WHERE level = $1`
	args := []any{string(level)}
	if !parent.IsRoot() {
		query += ` AND (parent_path = $2 OR parent_path LIKE $3)`
		args = append(args, parent.String(), parent.String()+"/%")
	}
	query += `
		ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("query hierarchy", err)
	}
	defer rows.Close()

	nodes := make([]engine.HierarchyNode, 0, 64)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, s.wrap("scan hierarchy", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read hierarchy", err)
	}
	return nodes, nil
}

func (s *Store) Node(ctx context.Context, path engine.Path) (engine.HierarchyNode, error) {
	row := s.db.QueryRowContext(ctx, nodeQuery+`
		WHERE path = $1`, path.String())
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.HierarchyNode{}, fmt.Errorf("%s: %w", path.String(), engine.ErrNodeNotFound)
	}
	if err != nil {
		return engine.HierarchyNode{}, s.wrap("query node", err)
	}
	return n, nil
}

func (s *Store) Items(ctx context.Context) ([]engine.HierarchyNode, error) {
	return s.Children(ctx, engine.LevelItem, nil)
}

func (s *Store) Stores(ctx context.Context) ([]engine.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name
		FROM recon_stores
		ORDER BY code
	`)
	if err != nil {
		return nil, s.wrap("query stores", err)
	}
	defer rows.Close()

	var stores []engine.Store
	for rows.Next() {
		var st engine.Store
		if err := rows.Scan(&st.Code, &st.Name); err != nil {
			return nil, s.wrap("scan stores", err)
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read stores", err)
	}
	return stores, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (engine.HierarchyNode, error) {
	var (
		n                       engine.HierarchyNode
		path, level, parentPath string
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
// FACTS
// =============================================================================

func (s *Store) PurchaseLines(ctx context.Context, q engine.FactQuery) ([]engine.PurchaseLine, error) {
	query, args := periodQuery(`
		SELECT item_code, store_code, entry_date, cfop, quantity, value, tax_credit
		FROM recon_purchase_lines`, "entry_date", q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("query purchase lines", err)
	}
	defer rows.Close()

	lines := make([]engine.PurchaseLine, 0, 256)
	for rows.Next() {
		var l engine.PurchaseLine
		if err := rows.Scan(&l.ItemCode, &l.StoreCode, &l.Date, &l.CFOP, &l.Quantity, &l.Value, &l.TaxCredit); err != nil {
			return nil, s.wrap("scan purchase lines", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read purchase lines", err)
	}
	return lines, nil
}

func (s *Store) SaleLines(ctx context.Context, q engine.FactQuery) ([]engine.SaleLine, error) {
	query, args := periodQuery(`
		SELECT item_code, store_code, sale_date, sale_type, quantity, value, cost, tax
		FROM recon_sale_lines`, "sale_date", q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("query sale lines", err)
	}
	defer rows.Close()

	lines := make([]engine.SaleLine, 0, 256)
	for rows.Next() {
		var (
			l        engine.SaleLine
			saleType int64
		)
		if err := rows.Scan(&l.ItemCode, &l.StoreCode, &l.Date, &saleType, &l.Quantity, &l.Value, &l.Cost, &l.Tax); err != nil {
			return nil, s.wrap("scan sale lines", err)
		}
		l.Type = engine.SaleType(saleType)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read sale lines", err)
	}
	return lines, nil
}

func (s *Store) Inventory(ctx context.Context, q engine.FactQuery) ([]engine.StockPosition, error) {
	query := `
		SELECT item_code, store_code, quantity
		FROM recon_inventory`
	var args []any
	if q.StoreCode != "" {
		query += `
		WHERE store_code = $1`
		args = append(args, q.StoreCode)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("query inventory", err)
	}
	defer rows.Close()

	var positions []engine.StockPosition
	for rows.Next() {
		var p engine.StockPosition
		if err := rows.Scan(&p.ItemCode, &p.StoreCode, &p.Quantity); err != nil {
			return nil, s.wrap("scan inventory", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read inventory", err)
	}
	return positions, nil
}

// periodQuery filters base on an inclusive day range and an optional store.
func periodQuery(base, dateColumn string, q engine.FactQuery) (string, []any) {
	query := base + `
		WHERE ` + dateColumn + ` BETWEEN $1 AND $2`
	args := []any{engine.FormatDate(q.Start), engine.FormatDate(q.End)}
	if q.StoreCode != "" {
		query += ` AND store_code = $3`
		args = append(args, q.StoreCode)
	}
	return query, args
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (s *Store) Recipes(ctx context.Context) ([]engine.RecipeLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT finished_code, input_code, quantity, participation_pct
		FROM recon_recipes
	`)
	if err != nil {
		return nil, s.wrap("query recipes", err)
	}
	defer rows.Close()

	var lines []engine.RecipeLine
	for rows.Next() {
		var l engine.RecipeLine
		if err := rows.Scan(&l.FinishedCode, &l.InputCode, &l.Quantity, &l.ParticipationPct); err != nil {
			return nil, s.wrap("scan recipes", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read recipes", err)
	}
	return lines, nil
}

func (s *Store) Associations(ctx context.Context) ([]engine.AssociationPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT base_code, associated_code, quantity
		FROM recon_associations
	`)
	if err != nil {
		return nil, s.wrap("query associations", err)
	}
	defer rows.Close()

	var pairs []engine.AssociationPair
	for rows.Next() {
		var p engine.AssociationPair
		if err := rows.Scan(&p.BaseCode, &p.AssociatedCode, &p.Quantity); err != nil {
			return nil, s.wrap("scan associations", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read associations", err)
	}
	return pairs, nil
}

func (s *Store) Decompositions(ctx context.Context) ([]engine.DecompositionLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_code, child_code, share
		FROM recon_decompositions
	`)
	if err != nil {
		return nil, s.wrap("query decompositions", err)
	}
	defer rows.Close()

	var lines []engine.DecompositionLine
	for rows.Next() {
		var l engine.DecompositionLine
		if err := rows.Scan(&l.ParentCode, &l.ChildCode, &l.Share); err != nil {
			return nil, s.wrap("scan decompositions", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read decompositions", err)
	}
	return lines, nil
}

// =============================================================================
// ERRORS
// =============================================================================

// wrap tags err with op and promotes connection-level failures to
// engine.SourceUnavailableError.
func (s *Store) wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch sqlStateClass(pgErr.Code) {
		case "08", "53", "57":
			return &engine.SourceUnavailableError{Source: "postgres", RetryAfter: s.retryAfter,
				Err: fmt.Errorf("%s: %s (SQLSTATE %s)", op, pgErr.Message, pgErr.Code)}
		}
		return fmt.Errorf("%s: %s (SQLSTATE %s): %w", op, pgErr.Message, pgErr.Code, err)
	}
	if pgconn.Timeout(err) || errors.Is(err, sql.ErrConnDone) {
		return &engine.SourceUnavailableError{Source: "postgres", RetryAfter: s.retryAfter, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sqlStateClass(code string) string {
	if len(code) < 2 {
		return code
	}
	return code[:2]
}
