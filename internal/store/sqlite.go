package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
)

// SQLiteStore 基于 SQLite 的持久订单存储（纯 Go 驱动，无需 cgo）
type SQLiteStore struct {
	db *sql.DB
}

const orderColumns = `client_order_id, exchange_order_id, pair, side, type, quantity, price, status,
	filled_quantity, avg_fill_price, fee, cancel_requested, last_error, created_at, updated_at, last_checked_at`

// OpenSQLite 打开（必要时创建）数据库并迁移表结构
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=FULL;`,
		`CREATE TABLE IF NOT EXISTS orders (
			client_order_id   TEXT PRIMARY KEY,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			pair              TEXT NOT NULL,
			side              TEXT NOT NULL,
			type              TEXT NOT NULL,
			quantity          TEXT NOT NULL,
			price             TEXT NOT NULL,
			status            TEXT NOT NULL,
			filled_quantity   TEXT NOT NULL,
			avg_fill_price    TEXT NOT NULL,
			fee               TEXT NOT NULL,
			cancel_requested  INTEGER NOT NULL DEFAULT 0,
			last_error        TEXT NOT NULL DEFAULT '',
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL,
			last_checked_at   INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pair ON orders(pair);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec *domain.OrderRecord) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO NOTHING`,
		rec.ClientOrderID, rec.ExchangeOrderID, string(rec.Pair), string(rec.Side), string(rec.Type),
		rec.Quantity, rec.Price, string(rec.Status), rec.FilledQuantity, rec.AvgFillPrice, rec.Fee,
		rec.CancelRequested, rec.LastError, toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt), toNanos(rec.LastCheckedAt))
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	if n == 0 {
		return ports.ErrOrderExists
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, clientOrderID string) (*domain.OrderRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?`, clientOrderID)
	rec, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec *domain.OrderRecord) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET
			exchange_order_id = ?, status = ?, filled_quantity = ?, avg_fill_price = ?, fee = ?,
			cancel_requested = ?, last_error = ?, updated_at = ?, last_checked_at = ?
		WHERE client_order_id = ?`,
		rec.ExchangeOrderID, string(rec.Status), rec.FilledQuantity, rec.AvgFillPrice, rec.Fee,
		rec.CancelRequested, rec.LastError, toNanos(rec.UpdatedAt), toNanos(rec.LastCheckedAt),
		rec.ClientOrderID)
	if err != nil {
		return errors.Wrap(err, "update order")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update order")
	}
	if n == 0 {
		return ports.ErrOrderNotFound
	}
	return nil
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*domain.OrderRecord, error) {
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status IN (?, ?, ?) ORDER BY created_at, client_order_id`,
		string(domain.OrderStatusPending), string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled))
}

func (s *SQLiteStore) ListByPair(ctx context.Context, pair domain.Pair) ([]*domain.OrderRecord, error) {
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE pair = ? ORDER BY created_at, client_order_id`, string(pair))
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*domain.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var out []*domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.OrderRecord, error) {
	var (
		rec                          domain.OrderRecord
		pair, side, typ, status      string
		createdAt, updatedAt, lastCk int64
	)
	err := row.Scan(&rec.ClientOrderID, &rec.ExchangeOrderID, &pair, &side, &typ,
		&rec.Quantity, &rec.Price, &status, &rec.FilledQuantity, &rec.AvgFillPrice, &rec.Fee,
		&rec.CancelRequested, &rec.LastError, &createdAt, &updatedAt, &lastCk)
	if err != nil {
		return nil, err
	}
	rec.Pair = domain.Pair(pair)
	rec.Side = domain.Side(side)
	rec.Type = domain.OrderType(typ)
	rec.Status = domain.OrderStatus(status)
	rec.CreatedAt = fromNanos(createdAt)
	rec.UpdatedAt = fromNanos(updatedAt)
	rec.LastCheckedAt = fromNanos(lastCk)
	return &rec, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
