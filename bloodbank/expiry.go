package bloodbank

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ExpiredReason is the movement reason written for expiry write-offs.
const ExpiredReason = "expired"

// WriteOff is one lot drained because its expiry date has passed.
type WriteOff struct {
	LotID      int64
	BloodType  BloodType
	Location   string
	Units      int
	ExpiryDate time.Time
}

// WriteOffExpired drains every lot whose expiry date is before asOf's
// calendar day and journals the loss. A lot expiring on asOf's day is still
// usable. Each blood type is written off in its own transaction under the
// same lock ApplyDelta takes.
func (e *AllocationEngine) WriteOffExpired(ctx context.Context, asOf time.Time) (written []WriteOff, err error) {
	ctx, span := startSpan(ctx, "allocation.write_off_expired")
	defer func() {
		span.SetAttributes(attribute.Int("write_offs", len(written)))
		endSpan(span, err)
	}()

	// Expiry dates are stored as UTC midnight, so asOf's calendar day is
	// compared in UTC too.
	y, m, d := asOf.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, bt := range AllBloodTypes {
		w, err := e.writeOffType(ctx, bt, cutoff)
		if err != nil {
			return written, fmt.Errorf("failed to write off %s: %w", bt, err)
		}
		recordWriteOffs(ctx, w)
		written = append(written, w...)
	}
	return written, nil
}

func (e *AllocationEngine) writeOffType(ctx context.Context, bt BloodType, cutoff time.Time) ([]WriteOff, error) {
	mu := e.lockFor(bt)
	mu.Lock()
	defer mu.Unlock()

	var written []WriteOff
	err := e.Store.WithTx(ctx, func(s LedgerStore) error {
		lots, err := s.FindAllOrderedByExpiry(ctx, bt)
		if err != nil {
			return err
		}

		now := e.now()
		var movements []Movement
		for _, lot := range lots {
			// FEFO order: the first unexpired lot ends the scan.
			if !lot.ExpiryDate.Before(cutoff) {
				break
			}
			if lot.UnitsAvailable == 0 {
				continue
			}
			units := lot.UnitsAvailable
			lot.UnitsAvailable = 0
			if err := s.SaveLot(ctx, &lot); err != nil {
				return fmt.Errorf("failed to save lot %d: %w", lot.ID, err)
			}
			movements = append(movements, Movement{
				ID:           uuid.NewString(),
				LotID:        lot.ID,
				BloodType:    bt,
				Location:     lot.Location,
				Delta:        -units,
				BalanceAfter: 0,
				Reason:       ExpiredReason,
				CreatedAt:    now,
			})
			written = append(written, WriteOff{
				LotID: lot.ID, BloodType: bt, Location: lot.Location,
				Units: units, ExpiryDate: lot.ExpiryDate,
			})
		}
		if len(movements) == 0 {
			return nil
		}
		return s.AppendMovements(ctx, movements)
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}
