package bloodbank_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

func TestWriteOffExpired_DrainsOnlyPastExpiry(t *testing.T) {
	// GIVEN: Leeds expires 09-10, York 09-20
	// WHEN: Sweeping on 09-15
	// THEN: Leeds is written off, York untouched, and a second sweep is a no-op
	engine, mem := newTwoLotEngine(t)
	ctx := context.Background()

	written, err := engine.WriteOffExpired(ctx, time.Date(2025, time.September, 15, 8, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, "Leeds", written[0].Location)
	assert.Equal(t, 5, written[0].Units)

	lots, err := mem.FindLotsByBloodType(ctx, bloodbank.APositive)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Leeds": 0, "York": 10}, unitsByLocation(lots))

	movements, err := mem.ListMovements(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, bloodbank.ExpiredReason, movements[0].Reason)
	assert.Equal(t, -5, movements[0].Delta)

	written, err = engine.WriteOffExpired(ctx, time.Date(2025, time.September, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestWriteOffExpired_ExpiryDayStillUsable(t *testing.T) {
	engine, _ := newTwoLotEngine(t)

	written, err := engine.WriteOffExpired(context.Background(), time.Date(2025, time.September, 10, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestWriteOffExpired_CutoffUsesUTCCalendarDay(t *testing.T) {
	// GIVEN: Leeds expires 2025-09-10 (stored as UTC midnight)
	// WHEN: Sweeping on the morning of 09-10 in a zone west of UTC
	// THEN: Leeds is still usable; on 09-11 in a zone east of UTC it is written off
	engine, mem := newTwoLotEngine(t)
	ctx := context.Background()

	edt := time.FixedZone("EDT", -4*3600)
	written, err := engine.WriteOffExpired(ctx, time.Date(2025, time.September, 10, 10, 0, 0, 0, edt))
	require.NoError(t, err)
	assert.Empty(t, written)

	lots, err := mem.FindLotsByBloodType(ctx, bloodbank.APositive)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Leeds": 5, "York": 10}, unitsByLocation(lots))

	jst := time.FixedZone("JST", 9*3600)
	written, err = engine.WriteOffExpired(ctx, time.Date(2025, time.September, 11, 1, 0, 0, 0, jst))
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, "Leeds", written[0].Location)
}
