package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) donorByName(t *testing.T, first string) DonorDTO {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/donors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, d := range decode[map[string][]DonorDTO](t, rec)["donors"] {
		if d.FirstName == first {
			return d
		}
	}
	t.Fatalf("donor %s not found", first)
	return DonorDTO{}
}

func TestScenarios_ListAndCurrent(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	s.loadScenario(t, "city-hospitals")

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "city-hospitals", decode[ScenarioDTO](t, rec).ID)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_CityHospitals_RoutesByLocality(t *testing.T) {
	s := newTestServer(t, Config{})
	s.loadScenario(t, "city-hospitals")

	mary := s.donorByName(t, "Mary")
	offer := s.createOffer(t, mary.ID, "Central London")
	assert.Equal(t, "locality", offer.RoutedBy)
	assert.Equal(t, "St Thomas Hospital", offer.RoutedToName)

	// Ada has never donated.
	ada := s.donorByName(t, "Ada")
	rec := s.do(t, http.MethodPost, "/api/donors/"+itoa(ada.ID)+"/blood-requests", map[string]any{
		"blood_group": "O+", "units_requested": 1,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestScenario_LowStock_RoutesByNeed(t *testing.T) {
	s := newTestServer(t, Config{})
	s.loadScenario(t, "low-stock")

	mary := s.donorByName(t, "Mary")
	offer := s.createOffer(t, mary.ID, "London")
	assert.Equal(t, "need", offer.RoutedBy)
	assert.Equal(t, "Royal Infirmary", offer.RoutedToName)
}

func TestScenario_ExpiringStock_SweepDrainsPastExpiry(t *testing.T) {
	s := newTestServer(t, Config{})
	s.loadScenario(t, "expiring-stock")

	rec := s.do(t, http.MethodPost, "/api/admin/expiry/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	written := decode[map[string][]WriteOffDTO](t, rec)["write_offs"]
	require.Len(t, written, 1)
	assert.Equal(t, "St Thomas Hospital", written[0].Location)
	assert.Equal(t, 12, written[0].Units)
}

func TestScenario_LoadTwice_ReplacesData(t *testing.T) {
	s := newTestServer(t, Config{})
	s.loadScenario(t, "city-hospitals")
	s.loadScenario(t, "city-hospitals")

	rec := s.do(t, http.MethodGet, "/api/hospitals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]HospitalDTO](t, rec)["hospitals"], 3)
}

func TestResetDatabase(t *testing.T) {
	s := newTestServer(t, Config{})
	s.loadScenario(t, "low-stock")

	rec := s.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/inventory/lots", nil)
	assert.Empty(t, decode[map[string][]LotDTO](t, rec)["lots"])

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}
