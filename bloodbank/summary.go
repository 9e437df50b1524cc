package bloodbank

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockSummary is the dashboard line for one blood type.
type StockSummary struct {
	BloodType      BloodType
	TotalUnits     int
	LotCount       int
	LowStock       bool
	EarliestExpiry *time.Time

	// SharePercent is this type's share of all units, rounded to 2 places.
	SharePercent decimal.Decimal
}

// Summary returns one line per blood type, in AllBloodTypes order,
// including types with no lots.
func (e *AllocationEngine) Summary(ctx context.Context) ([]StockSummary, error) {
	lots, err := e.Store.ListLots(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(lots), nil
}

// Summarize aggregates lots into per-type summaries.
func Summarize(lots []InventoryLot) []StockSummary {
	byType := make(map[BloodType]*StockSummary, bloodTypeCount)
	grand := 0
	for _, lot := range lots {
		s, ok := byType[lot.BloodType]
		if !ok {
			s = &StockSummary{BloodType: lot.BloodType}
			byType[lot.BloodType] = s
		}
		s.TotalUnits += lot.UnitsAvailable
		s.LotCount++
		if s.EarliestExpiry == nil || lot.ExpiryDate.Before(*s.EarliestExpiry) {
			exp := lot.ExpiryDate
			s.EarliestExpiry = &exp
		}
		grand += lot.UnitsAvailable
	}

	hundred := decimal.NewFromInt(100)
	out := make([]StockSummary, 0, len(AllBloodTypes))
	for _, bt := range AllBloodTypes {
		s := StockSummary{BloodType: bt, SharePercent: decimal.Zero}
		if found, ok := byType[bt]; ok {
			s = *found
		}
		s.LowStock = s.TotalUnits < LowStockThreshold
		if grand > 0 {
			s.SharePercent = decimal.NewFromInt(int64(s.TotalUnits)).
				Mul(hundred).
				Div(decimal.NewFromInt(int64(grand))).
				Round(2)
		} else {
			s.SharePercent = decimal.Zero
		}
		out = append(out, s)
	}
	return out
}
