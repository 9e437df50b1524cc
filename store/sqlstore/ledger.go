package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

// =============================================================================
// INVENTORY LOTS (bloodbank.LedgerStore)
// =============================================================================

const lotColumns = "id, blood_type, units_available, location, expiry_date"

const fefoClause = "WHERE blood_type = ? ORDER BY expiry_date ASC, id ASC"

func (s *Store) FindLotsByBloodType(ctx context.Context, bt bloodbank.BloodType) ([]bloodbank.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLots(ctx, s.db, "WHERE blood_type = ? ORDER BY id", bt.Code())
}

// FindAllOrderedByExpiry returns the FEFO ordering: expiry ascending, ties by id.
func (s *Store) FindAllOrderedByExpiry(ctx context.Context, bt bloodbank.BloodType) ([]bloodbank.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLots(ctx, s.db, fefoClause, bt.Code())
}

func (s *Store) FindLotByKey(ctx context.Context, bt bloodbank.BloodType, location string) (*bloodbank.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLot(ctx, s.db, "WHERE blood_type = ? AND location = ?", bt.Code(), location)
}

func (s *Store) FindLotByID(ctx context.Context, id int64) (*bloodbank.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLot(ctx, s.db, "WHERE id = ?", id)
}

func (s *Store) ListLots(ctx context.Context) ([]bloodbank.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLots(ctx, s.db, "ORDER BY id")
}

// SaveLot inserts a lot with ID 0 or overwrites an existing one.
func (s *Store) SaveLot(ctx context.Context, lot *bloodbank.InventoryLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLot(ctx, s.db, lot)
}

func (s *Store) DeleteLot(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM inventory_lots WHERE id = ?"), id)
	return err
}

func (s *Store) saveLot(ctx context.Context, q queryer, lot *bloodbank.InventoryLot) error {
	if lot.UnitsAvailable < 0 {
		return fmt.Errorf("%w: lot %d would go negative", bloodbank.ErrValidation, lot.ID)
	}

	if lot.ID == 0 {
		id, err := s.insertReturningID(ctx, q, `
			INSERT INTO inventory_lots (blood_type, units_available, location, expiry_date)
			VALUES (?, ?, ?, ?)`,
			lot.BloodType.Code(), lot.UnitsAvailable, lot.Location, formatTime(lot.ExpiryDate),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: lot for %s at %q already exists", bloodbank.ErrConflict, lot.BloodType, lot.Location)
			}
			return fmt.Errorf("failed to insert lot: %w", err)
		}
		lot.ID = id
		return nil
	}

	res, err := q.ExecContext(ctx, s.rebind(`
		UPDATE inventory_lots
		SET blood_type = ?, units_available = ?, location = ?, expiry_date = ?
		WHERE id = ?`),
		lot.BloodType.Code(), lot.UnitsAvailable, lot.Location, formatTime(lot.ExpiryDate), lot.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: lot for %s at %q already exists", bloodbank.ErrConflict, lot.BloodType, lot.Location)
		}
		return fmt.Errorf("failed to update lot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: inventory lot %d", bloodbank.ErrNotFound, lot.ID)
	}
	return nil
}

func (s *Store) queryLot(ctx context.Context, q queryer, clause string, args ...any) (*bloodbank.InventoryLot, error) {
	lots, err := s.queryLots(ctx, q, clause, args...)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, nil
	}
	return &lots[0], nil
}

func (s *Store) queryLots(ctx context.Context, q queryer, clause string, args ...any) ([]bloodbank.InventoryLot, error) {
	rows, err := q.QueryContext(ctx, s.rebind("SELECT "+lotColumns+" FROM inventory_lots "+clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []bloodbank.InventoryLot
	for rows.Next() {
		var (
			lot    bloodbank.InventoryLot
			code   string
			expiry string
		)
		if err := rows.Scan(&lot.ID, &code, &lot.UnitsAvailable, &lot.Location, &expiry); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		if lot.BloodType, err = bloodbank.ParseBloodTypeCode(code); err != nil {
			return nil, err
		}
		lot.ExpiryDate = parseTime(expiry)
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// =============================================================================
// MOVEMENT JOURNAL
// =============================================================================

// AppendMovements writes journal rows atomically. A reused idempotency key
// returns ErrDuplicateIdempotencyKey.
func (s *Store) AppendMovements(ctx context.Context, movements []bloodbank.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.appendMovements(ctx, sqlTx, movements); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) MovementExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.movementExists(ctx, s.db, key)
}

// ListMovements returns the newest movements first. limit <= 0 means all.
func (s *Store) ListMovements(ctx context.Context, bt *bloodbank.BloodType, limit int) ([]bloodbank.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMovements(ctx, s.db, bt, limit)
}

func (s *Store) appendMovements(ctx context.Context, q queryer, movements []bloodbank.Movement) error {
	query := s.rebind(`
		INSERT INTO movements
		(id, lot_id, blood_type, location, delta, balance_after, idempotency_key, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, m := range movements {
		_, err := q.ExecContext(ctx, query,
			m.ID,
			m.LotID,
			m.BloodType.Code(),
			m.Location,
			m.Delta,
			m.BalanceAfter,
			nullString(m.IdempotencyKey),
			nullString(m.Reason),
			formatTime(m.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s", bloodbank.ErrDuplicateIdempotencyKey, m.IdempotencyKey)
			}
			return fmt.Errorf("failed to append movement: %w", err)
		}
	}
	return nil
}

func (s *Store) movementExists(ctx context.Context, q queryer, key string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM movements WHERE idempotency_key = ?"),
		key,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) listMovements(ctx context.Context, q queryer, bt *bloodbank.BloodType, limit int) ([]bloodbank.Movement, error) {
	query := `
		SELECT id, lot_id, blood_type, location, delta, balance_after, idempotency_key, reason, created_at
		FROM movements`
	var args []any
	if bt != nil {
		query += " WHERE blood_type = ?"
		args = append(args, bt.Code())
	}
	query += " ORDER BY seq DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []bloodbank.Movement
	for rows.Next() {
		var (
			m         bloodbank.Movement
			code      string
			key       sql.NullString
			reason    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.LotID, &code, &m.Location, &m.Delta, &m.BalanceAfter, &key, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		if m.BloodType, err = bloodbank.ParseBloodTypeCode(code); err != nil {
			return nil, err
		}
		m.IdempotencyKey = key.String
		m.Reason = reason.String
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// errNoRows reports whether err is sql.ErrNoRows.
func errNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
