/*
allocation.go - FEFO allocation of unit deltas across inventory lots

PURPOSE:
  A blood type is usually stocked in several lots (one per storage
  location), each with its own expiry date. The AllocationEngine decides
  which lots a signed delta touches.

POLICY:
  Lots are visited in FEFO order: expiry ascending, ties by id.

  Replenishment (delta > 0):
    The whole delta is credited to the first lot in FEFO order.

  Consumption (delta < 0):
    The total across all lots is checked first. If it cannot cover the
    withdrawal the call fails with InsufficientStockError and no lot is
    touched. Otherwise lots are drained to zero in FEFO order until the
    withdrawal is covered.

EXAMPLE:
  lots: L1 exp 2025-09-10 units 5, L2 exp 2025-09-20 units 10
  ApplyDelta(A+, -8)  => L1 0, L2 7
  ApplyDelta(A+, +6)  => L1 11, L2 10

CONCURRENCY:
  Calls for the same blood type are serialised by a per-type mutex, and
  every write of one call (lot rows and journal rows) goes through one
  LedgerStore.WithTx. Two withdrawals can therefore never both pass the
  availability check against the same stale total.

IDEMPOTENCY:
  ApplyDelta applies on every call. Callers that retry use
  ApplyDeltaWithKey; a key already in the journal is refused with
  ErrDuplicateIdempotencyKey inside the same transaction.
*/
package bloodbank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const bloodTypeCount = 8

// AllocationEngine applies unit deltas to the lots of a blood type.
type AllocationEngine struct {
	Store LedgerStore
	Now   func() time.Time

	locks [bloodTypeCount + 1]sync.Mutex
}

func NewAllocationEngine(store LedgerStore) *AllocationEngine {
	return &AllocationEngine{Store: store, Now: time.Now}
}

// LotChange is one lot touched by an allocation.
type LotChange struct {
	Index int // position in the FEFO-ordered input
	Delta int
}

// Allocate computes the effect of delta on lots, which must already be in
// FEFO order. It returns the updated lots (same order) and the changes
// made. lots is not modified.
func Allocate(bt BloodType, lots []InventoryLot, delta int) ([]InventoryLot, []LotChange, error) {
	if delta == 0 {
		return nil, nil, invalid("delta must be non-zero")
	}
	if len(lots) == 0 {
		return nil, nil, notFound(fmt.Sprintf("no inventory lots for blood type %s", bt))
	}

	updated := make([]InventoryLot, len(lots))
	copy(updated, lots)

	if delta > 0 {
		if delta > math.MaxInt-updated[0].UnitsAvailable {
			return nil, nil, invalid("delta %d would overflow lot %d", delta, updated[0].ID)
		}
		updated[0].UnitsAvailable += delta
		return updated, []LotChange{{Index: 0, Delta: delta}}, nil
	}

	// -math.MinInt is not representable.
	if delta == math.MinInt {
		return nil, nil, invalid("delta %d is out of range", delta)
	}
	requested := -delta
	total := 0
	for _, lot := range lots {
		// Saturate: requested never exceeds math.MaxInt.
		if lot.UnitsAvailable > math.MaxInt-total {
			total = math.MaxInt
			break
		}
		total += lot.UnitsAvailable
	}
	if total < requested {
		return nil, nil, &InsufficientStockError{BloodType: bt, Available: total, Requested: requested}
	}

	var changes []LotChange
	remaining := requested
	for i := range updated {
		if remaining == 0 {
			break
		}
		take := min(remaining, updated[i].UnitsAvailable)
		if take == 0 {
			continue
		}
		updated[i].UnitsAvailable -= take
		remaining -= take
		changes = append(changes, LotChange{Index: i, Delta: -take})
	}
	return updated, changes, nil
}

// ApplyDelta applies delta to the lots of bt and returns every lot of that
// type sorted by location.
func (e *AllocationEngine) ApplyDelta(ctx context.Context, bt BloodType, delta int) ([]InventoryLot, error) {
	return e.apply(ctx, bt, delta, "", "")
}

// ApplyDeltaWithKey is ApplyDelta guarded by a caller-supplied idempotency
// key. An empty key behaves like ApplyDelta.
func (e *AllocationEngine) ApplyDeltaWithKey(ctx context.Context, bt BloodType, delta int, key, reason string) ([]InventoryLot, error) {
	return e.apply(ctx, bt, delta, strings.TrimSpace(key), reason)
}

func (e *AllocationEngine) apply(ctx context.Context, bt BloodType, delta int, key, reason string) (result []InventoryLot, err error) {
	if !bt.Valid() {
		return nil, invalid("unknown blood type %d", int(bt))
	}
	if delta == 0 {
		return nil, invalid("delta must be non-zero")
	}

	ctx, span := startSpan(ctx, "allocation.apply_delta", trace.WithAttributes(
		attribute.String("blood_type", bt.String()),
		attribute.Int("delta", delta),
		attribute.Bool("keyed", key != ""),
	))
	defer func() { endSpan(span, err) }()

	mu := e.lockFor(bt)
	mu.Lock()
	defer mu.Unlock()

	err = e.Store.WithTx(ctx, func(s LedgerStore) error {
		if key != "" {
			exists, err := s.MovementExists(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to check idempotency key: %w", err)
			}
			if exists {
				return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, key)
			}
		}

		lots, err := s.FindAllOrderedByExpiry(ctx, bt)
		if err != nil {
			return fmt.Errorf("failed to load lots: %w", err)
		}

		updated, changes, err := Allocate(bt, lots, delta)
		if err != nil {
			return err
		}

		now := e.now()
		movements := make([]Movement, 0, len(changes))
		for i, c := range changes {
			lot := updated[c.Index]
			if err := s.SaveLot(ctx, &lot); err != nil {
				return fmt.Errorf("failed to save lot %d: %w", lot.ID, err)
			}
			m := Movement{
				ID:           uuid.NewString(),
				LotID:        lot.ID,
				BloodType:    bt,
				Location:     lot.Location,
				Delta:        c.Delta,
				BalanceAfter: lot.UnitsAvailable,
				Reason:       reason,
				CreatedAt:    now,
			}
			// The key lives on the first row only; the column is unique.
			if i == 0 {
				m.IdempotencyKey = key
			}
			movements = append(movements, m)
		}
		if err := s.AppendMovements(ctx, movements); err != nil {
			return fmt.Errorf("failed to journal movements: %w", err)
		}

		result = sortByLocation(updated)
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("lots", len(result)))
	return result, nil
}

// CreateLot registers a new lot. A second lot for the same blood type and
// location is refused with ErrConflict.
func (e *AllocationEngine) CreateLot(ctx context.Context, lot InventoryLot) (*InventoryLot, error) {
	lot.Location = strings.TrimSpace(lot.Location)
	switch {
	case !lot.BloodType.Valid():
		return nil, invalid("blood type is required")
	case lot.Location == "":
		return nil, invalid("location is required")
	case lot.UnitsAvailable < 0:
		return nil, invalid("units available cannot be negative")
	case lot.ExpiryDate.IsZero():
		return nil, invalid("expiry date is required")
	}
	lot.ID = 0

	mu := e.lockFor(lot.BloodType)
	mu.Lock()
	defer mu.Unlock()

	existing, err := e.Store.FindLotByKey(ctx, lot.BloodType, lot.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing lot: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: lot for %s at %q already exists", ErrConflict, lot.BloodType, lot.Location)
	}
	if err := e.Store.SaveLot(ctx, &lot); err != nil {
		return nil, err
	}
	return &lot, nil
}

// RemovedReason is the movement reason journaled when a lot with units is
// removed.
const RemovedReason = "removed"

// RemoveLot deletes a lot regardless of its balance. Remaining units are
// journaled as a "removed" movement.
func (e *AllocationEngine) RemoveLot(ctx context.Context, id int64) error {
	lot, err := e.Store.FindLotByID(ctx, id)
	if err != nil {
		return err
	}
	if lot == nil {
		return notFound(fmt.Sprintf("inventory lot %d", id))
	}

	mu := e.lockFor(lot.BloodType)
	mu.Lock()
	defer mu.Unlock()

	return e.Store.WithTx(ctx, func(s LedgerStore) error {
		current, err := s.FindLotByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound(fmt.Sprintf("inventory lot %d", id))
		}
		if err := s.DeleteLot(ctx, id); err != nil {
			return fmt.Errorf("failed to delete lot %d: %w", id, err)
		}
		if current.UnitsAvailable == 0 {
			return nil
		}
		return s.AppendMovements(ctx, []Movement{{
			ID:           uuid.NewString(),
			LotID:        current.ID,
			BloodType:    current.BloodType,
			Location:     current.Location,
			Delta:        -current.UnitsAvailable,
			BalanceAfter: 0,
			Reason:       RemovedReason,
			CreatedAt:    e.now(),
		}})
	})
}

func (e *AllocationEngine) lockFor(bt BloodType) *sync.Mutex {
	return &e.locks[bt]
}

func (e *AllocationEngine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// SortFEFO orders lots by expiry ascending, ties by id ascending.
func SortFEFO(lots []InventoryLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].ExpiryDate.Equal(lots[j].ExpiryDate) {
			return lots[i].ExpiryDate.Before(lots[j].ExpiryDate)
		}
		return lots[i].ID < lots[j].ID
	})
}

func sortByLocation(lots []InventoryLot) []InventoryLot {
	out := make([]InventoryLot, len(lots))
	copy(out, lots)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Location < out[j].Location
	})
	return out
}
