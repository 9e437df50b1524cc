/*
Package sqlstore provides a SQL-backed implementation of the bloodbank
collaborator interfaces.

PURPOSE:
  Implements LedgerStore, OfferRegistry, DonationHistory,
  HospitalDirectory, DonorDirectory and BloodRequestStore on one database.
  The same code runs against SQLite (mattn/go-sqlite3) and PostgreSQL
  (lib/pq); only the id column type and placeholder syntax differ.

KEY TABLES:
  inventory_lots:  One row per (blood_type, location), units never negative
  movements:       Journal of every lot change, idempotency_key unique
  donation_offers: Offers with an optimistic version column
  hospitals, donors, donations, blood_requests

INDEXES:
  - idx_lots_type_expiry: FEFO scans (hot path)
  - idx_movements_idempotency: keyed delta dedupe
  - idx_offers_status / idx_offers_routed: dashboard and hospital queries

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order equals time order in
  both dialects.

CONCURRENCY:
  Uses sync.RWMutex around every call. A SQLite database is opened with a
  single connection; PostgreSQL relies on its own row locking inside
  WithTx.

USAGE:
  store, err := sqlstore.New("./data/bloodbank.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := bloodbank.NewAllocationEngine(store)
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// timeLayout keeps every stored timestamp the same width.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements every bloodbank store interface.
type Store struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
}

var (
	_ bloodbank.LedgerStore       = (*Store)(nil)
	_ bloodbank.LedgerStore       = (*txStore)(nil)
	_ bloodbank.OfferRegistry     = (*Store)(nil)
	_ bloodbank.DonationHistory   = (*Store)(nil)
	_ bloodbank.HospitalDirectory = (*Store)(nil)
	_ bloodbank.DonorDirectory    = (*Store)(nil)
	_ bloodbank.BloodRequestStore = (*Store)(nil)
)

// New opens a SQLite database at dbPath. Use ":memory:" for an in-memory
// database.
func New(dbPath string) (*Store, error) {
	return Open("sqlite3", dbPath)
}

// Open connects with driver "sqlite3" or "postgres" and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var (
		d   dialect
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite3", "sqlite":
		d = dialectSQLite
		db, err = sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
		if err == nil {
			// :memory: is per connection.
			db.SetMaxOpenConns(1)
		}
	case "postgres", "postgresql":
		d = dialectPostgres
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dialect: d}
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

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	schema := strings.ReplaceAll(`
	-- Inventory lots, one per blood type and location
	CREATE TABLE IF NOT EXISTS inventory_lots (
		id {{ID}},
		blood_type TEXT NOT NULL,
		units_available INTEGER NOT NULL CHECK (units_available >= 0),
		location TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		UNIQUE (blood_type, location)
	);

	CREATE INDEX IF NOT EXISTS idx_lots_type_expiry
		ON inventory_lots(blood_type, expiry_date, id);

	-- Movement journal; lots may be deleted, rows stay
	CREATE TABLE IF NOT EXISTS movements (
		seq {{ID}},
		id TEXT NOT NULL UNIQUE,
		lot_id BIGINT NOT NULL,
		blood_type TEXT NOT NULL,
		location TEXT NOT NULL,
		delta INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_idempotency
		ON movements(idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_movements_type
		ON movements(blood_type, seq);

	-- Hospitals (roster order = id)
	CREATE TABLE IF NOT EXISTS hospitals (
		id {{ID}},
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		address TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS donors (
		id {{ID}},
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		blood_type TEXT NOT NULL,
		location TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS donations (
		id {{ID}},
		donor_id BIGINT NOT NULL,
		hospital_id BIGINT NOT NULL,
		blood_type TEXT NOT NULL,
		units INTEGER NOT NULL,
		status TEXT NOT NULL,
		donated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_donations_donor_status
		ON donations(donor_id, status);

	-- Donation offers
	CREATE TABLE IF NOT EXISTS donation_offers (
		id {{ID}},
		donor_id BIGINT NOT NULL,
		blood_type TEXT NOT NULL,
		preferred_date TEXT NOT NULL,
		location TEXT NOT NULL,
		notes TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		routed_to_id BIGINT,
		routed_to_name TEXT,
		routed_by TEXT,
		appointment_date TEXT,
		hospital_notes TEXT,
		rejection_reason TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_offers_status
		ON donation_offers(status);
	CREATE INDEX IF NOT EXISTS idx_offers_routed
		ON donation_offers(routed_to_id) WHERE routed_to_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_offers_donor
		ON donation_offers(donor_id);

	-- Blood requests
	CREATE TABLE IF NOT EXISTS blood_requests (
		id {{ID}},
		blood_group TEXT NOT NULL,
		units_requested INTEGER NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_by_id BIGINT NOT NULL,
		requester_donor_id BIGINT,
		patient_name TEXT NOT NULL,
		patient_age INTEGER NOT NULL DEFAULT 0,
		required_by TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_blood_requests_status
		ON blood_requests(status);
	`, "{{ID}}", idColumn)

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL LEDGER (bloodbank.LedgerStore.WithTx)
// =============================================================================

// WithTx executes fn within a database transaction. fn must use only the
// store it is handed.
func (s *Store) WithTx(ctx context.Context, fn func(bloodbank.LedgerStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the LedgerStore view handed to WithTx callbacks. The parent
// lock is already held, so it never locks.
type txStore struct {
	q      queryer
	parent *Store
}

func (ts *txStore) FindLotsByBloodType(ctx context.Context, bt bloodbank.BloodType) ([]bloodbank.InventoryLot, error) {
	return ts.parent.queryLots(ctx, ts.q, "WHERE blood_type = ? ORDER BY id", bt.Code())
}

func (ts *txStore) FindAllOrderedByExpiry(ctx context.Context, bt bloodbank.BloodType) ([]bloodbank.InventoryLot, error) {
	return ts.parent.queryLots(ctx, ts.q, fefoClause, bt.Code())
}

func (ts *txStore) FindLotByKey(ctx context.Context, bt bloodbank.BloodType, location string) (*bloodbank.InventoryLot, error) {
	return ts.parent.queryLot(ctx, ts.q, "WHERE blood_type = ? AND location = ?", bt.Code(), location)
}

func (ts *txStore) FindLotByID(ctx context.Context, id int64) (*bloodbank.InventoryLot, error) {
	return ts.parent.queryLot(ctx, ts.q, "WHERE id = ?", id)
}

func (ts *txStore) ListLots(ctx context.Context) ([]bloodbank.InventoryLot, error) {
	return ts.parent.queryLots(ctx, ts.q, "ORDER BY id")
}

func (ts *txStore) SaveLot(ctx context.Context, lot *bloodbank.InventoryLot) error {
	return ts.parent.saveLot(ctx, ts.q, lot)
}

func (ts *txStore) DeleteLot(ctx context.Context, id int64) error {
	_, err := ts.q.ExecContext(ctx, ts.parent.rebind("DELETE FROM inventory_lots WHERE id = ?"), id)
	return err
}

func (ts *txStore) AppendMovements(ctx context.Context, movements []bloodbank.Movement) error {
	return ts.parent.appendMovements(ctx, ts.q, movements)
}

func (ts *txStore) MovementExists(ctx context.Context, key string) (bool, error) {
	return ts.parent.movementExists(ctx, ts.q, key)
}

func (ts *txStore) ListMovements(ctx context.Context, bt *bloodbank.BloodType, limit int) ([]bloodbank.Movement, error) {
	return ts.parent.listMovements(ctx, ts.q, bt, limit)
}

// WithTx on a view joins the enclosing transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(bloodbank.LedgerStore) error) error {
	return fn(ts)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"movements", "inventory_lots", "donation_offers", "blood_requests", "donations", "donors", "hospitals"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertReturningID runs an INSERT ... RETURNING id statement.
func (s *Store) insertReturningID(ctx context.Context, q queryer, query string, args ...any) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
	return id, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*p), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
