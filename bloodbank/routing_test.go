package bloodbank_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeline/bloodbank-engine/bloodbank"
	"github.com/lifeline/bloodbank-engine/bloodbank/store"
)

func routingRoster() []bloodbank.Hospital {
	return []bloodbank.Hospital{
		{ID: 1, FirstName: "St Thomas", LastName: "Hospital", Address: "Westminster Bridge Rd, London"},
		{ID: 2, FirstName: "Royal", LastName: "Infirmary", Address: "Oxford Road, Manchester"},
		{ID: 3, FirstName: "General", LastName: "Hospital", Address: "Park Lane, Leeds"},
	}
}

func seedHospitalLot(t *testing.T, mem *store.Memory, h bloodbank.Hospital, bt bloodbank.BloodType, units int) {
	t.Helper()
	lot := &bloodbank.InventoryLot{
		BloodType: bt, UnitsAvailable: units, Location: h.DisplayName(),
		ExpiryDate: date(2025, time.October, 1),
	}
	require.NoError(t, mem.SaveLot(context.Background(), lot))
}

func TestTieredRouter_NeedTier_FirstLowStockHospitalWins(t *testing.T) {
	// GIVEN: Hospital 1 holds 40 O-, hospitals 2 and 3 hold 12 and 5
	// WHEN: Routing an O- offer from a London donor
	// THEN: Hospital 2 wins on need even though hospital 3 is lower
	mem := store.NewMemory()
	roster := routingRoster()
	seedHospitalLot(t, mem, roster[0], bloodbank.ONegative, 40)
	seedHospitalLot(t, mem, roster[1], bloodbank.ONegative, 12)
	seedHospitalLot(t, mem, roster[2], bloodbank.ONegative, 5)

	route, ok, err := bloodbank.NewTieredRouter(mem).Route(context.Background(), "Camden, London", bloodbank.ONegative, roster)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(2), route.HospitalID)
	assert.Equal(t, "Royal Infirmary", route.DisplayName)
	assert.Equal(t, bloodbank.RouteByNeed, route.Tier)
}

func TestTieredRouter_NeedTier_IgnoresOtherBloodTypes(t *testing.T) {
	mem := store.NewMemory()
	roster := routingRoster()
	seedHospitalLot(t, mem, roster[1], bloodbank.APositive, 1)

	route, ok, err := bloodbank.NewTieredRouter(mem).Route(context.Background(), "Leeds", bloodbank.ONegative, roster)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(3), route.HospitalID)
	assert.Equal(t, bloodbank.RouteByLocality, route.Tier)
}

func TestTieredRouter_NeedTier_ThresholdIsExclusive(t *testing.T) {
	mem := store.NewMemory()
	roster := routingRoster()
	seedHospitalLot(t, mem, roster[0], bloodbank.BPositive, bloodbank.LowStockThreshold)

	route, ok, err := bloodbank.NewTieredRouter(mem).Route(context.Background(), "Nowhere", bloodbank.BPositive, roster)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, bloodbank.RouteByDefault, route.Tier)
}

func TestTieredRouter_LocalityTier_MatchesCityInAddress(t *testing.T) {
	mem := store.NewMemory()

	route, ok, err := bloodbank.NewTieredRouter(mem).Route(context.Background(), "Salford, Greater Manchester", bloodbank.APositive, routingRoster())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(2), route.HospitalID)
	assert.Equal(t, bloodbank.RouteByLocality, route.Tier)
}

func TestTieredRouter_LocalityTier_FallsBackToFirstWord(t *testing.T) {
	mem := store.NewMemory()

	route, ok, err := bloodbank.NewTieredRouter(mem).Route(context.Background(), "Park Lane flats", bloodbank.APositive, routingRoster())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(3), route.HospitalID)
	assert.Equal(t, bloodbank.RouteByLocality, route.Tier)
}

func TestTieredRouter_DefaultTier_FirstInRoster(t *testing.T) {
	mem := store.NewMemory()

	route, ok, err := bloodbank.NewTieredRouter(mem).Route(context.Background(), "Aberystwyth", bloodbank.APositive, routingRoster())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(1), route.HospitalID)
	assert.Equal(t, bloodbank.RouteByDefault, route.Tier)
}

func TestTieredRouter_EmptyRoster_NoRoute(t *testing.T) {
	_, ok, err := bloodbank.NewTieredRouter(store.NewMemory()).Route(context.Background(), "London", bloodbank.APositive, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTieredRouter_CustomThreshold(t *testing.T) {
	mem := store.NewMemory()
	roster := routingRoster()
	seedHospitalLot(t, mem, roster[2], bloodbank.OPositive, 30)

	router := bloodbank.NewTieredRouter(mem)
	router.Threshold = 50

	route, ok, err := router.Route(context.Background(), "London", bloodbank.OPositive, roster)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), route.HospitalID)
	assert.Equal(t, bloodbank.RouteByNeed, route.Tier)
}

func TestPriorityKeyword(t *testing.T) {
	cases := []struct {
		location string
		want     string
	}{
		{"Central LONDON", "london"},
		{"Didsbury, Manchester", "manchester"},
		{"Aberystwyth Town", "aberystwyth"},
		{"   ", ""},
		{"", ""},
	}
	for _, tc := range cases {
		t.Run(tc.location, func(t *testing.T) {
			assert.Equal(t, tc.want, bloodbank.PriorityKeyword(tc.location, bloodbank.DefaultCityKeywords))
		})
	}
}
