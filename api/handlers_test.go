/*
handlers_test.go - HTTP tests for the inventory and party handlers

Every test runs the real router against an in-memory SQLite store.
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeline/bloodbank-engine/store/sqlstore"
)

var testClock = time.Date(2025, time.September, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	store, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testClock }
	}
	h := NewHandler(store, cfg)
	return &testServer{h: h, router: NewRouter(h)}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createLot(t *testing.T, bloodType, location string, units int, expiry string) LotDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/inventory/lots", map[string]any{
		"blood_type": bloodType, "units_available": units, "location": location, "expiry_date": expiry,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[LotDTO](t, rec)
}

func (s *testServer) createHospital(t *testing.T, first, last, address string) HospitalDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/hospitals", CreateHospitalRequest{FirstName: first, LastName: last, Address: address})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[HospitalDTO](t, rec)
}

func (s *testServer) createDonor(t *testing.T, first, last, bloodType, location string) DonorDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/donors", map[string]any{
		"first_name": first, "last_name": last, "blood_type": bloodType, "location": location,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[DonorDTO](t, rec)
}

// =============================================================================
// INVENTORY
// =============================================================================

func TestAdjustInventory_ConsumesEarliestExpiryFirst(t *testing.T) {
	// GIVEN: York (expires 09-20, 10 units) and Leeds (expires 09-10, 5 units)
	// WHEN: Withdrawing 8 units
	// THEN: Leeds drains first and the response lists lots by location
	s := newTestServer(t, Config{})
	s.createLot(t, "A+", "York", 10, "2025-09-20")
	s.createLot(t, "A+", "Leeds", 5, "2025-09-10")

	rec := s.do(t, http.MethodPost, "/api/inventory/A_POS/adjust", AdjustInventoryRequest{Delta: -8, Reason: "transfusion"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[AdjustInventoryResponse](t, rec)
	require.Len(t, resp.Lots, 2)
	assert.Equal(t, "Leeds", resp.Lots[0].Location)
	assert.Equal(t, 0, resp.Lots[0].UnitsAvailable)
	assert.Equal(t, "York", resp.Lots[1].Location)
	assert.Equal(t, 7, resp.Lots[1].UnitsAvailable)

	rec = s.do(t, http.MethodGet, "/api/inventory/movements?blood_type=A%2B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decode[map[string][]MovementDTO](t, rec)["movements"]
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, "transfusion", m.Reason)
	}
}

func TestAdjustInventory_Insufficient_422WithShortage(t *testing.T) {
	s := newTestServer(t, Config{})
	s.createLot(t, "O-", "Leeds", 5, "2025-09-10")

	rec := s.do(t, http.MethodPost, "/api/inventory/O-/adjust", AdjustInventoryRequest{Delta: -6})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[struct {
		Code    string `json:"code"`
		Details struct {
			Available int `json:"available"`
			Requested int `json:"requested"`
		} `json:"details"`
	}](t, rec)
	assert.Equal(t, "insufficient_stock", resp.Code)
	assert.Equal(t, 5, resp.Details.Available)
	assert.Equal(t, 6, resp.Details.Requested)

	rec = s.do(t, http.MethodGet, "/api/inventory/lots", nil)
	lots := decode[map[string][]LotDTO](t, rec)["lots"]
	require.Len(t, lots, 1)
	assert.Equal(t, 5, lots[0].UnitsAvailable)
}

func TestAdjustInventory_IdempotencyKeyReplay_Conflict(t *testing.T) {
	s := newTestServer(t, Config{})
	s.createLot(t, "B+", "Leeds", 10, "2025-09-10")

	rec := s.do(t, http.MethodPost, "/api/inventory/B_POS/adjust", AdjustInventoryRequest{Delta: -2}, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/inventory/B_POS/adjust", AdjustInventoryRequest{Delta: -2}, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_idempotency_key", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/inventory/lots?blood_type=B_POS", nil)
	lots := decode[map[string][]LotDTO](t, rec)["lots"]
	require.Len(t, lots, 1)
	assert.Equal(t, 8, lots[0].UnitsAvailable)
}

func TestAdjustInventory_BadInput(t *testing.T) {
	s := newTestServer(t, Config{})
	s.createLot(t, "A+", "York", 10, "2025-09-20")

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown blood type", "/api/inventory/C_POS/adjust", AdjustInventoryRequest{Delta: 1}, http.StatusBadRequest},
		{"zero delta", "/api/inventory/A_POS/adjust", AdjustInventoryRequest{Delta: 0}, http.StatusBadRequest},
		{"no lots for type", "/api/inventory/AB-/adjust", AdjustInventoryRequest{Delta: 1}, http.StatusNotFound},
		{"malformed body", "/api/inventory/A_POS/adjust", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateLot_Validation(t *testing.T) {
	s := newTestServer(t, Config{})
	s.createLot(t, "A+", "York", 10, "2025-09-20")

	// Same type and location
	rec := s.do(t, http.MethodPost, "/api/inventory/lots", map[string]any{
		"blood_type": "A+", "units_available": 1, "location": "York", "expiry_date": "2025-10-01",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/inventory/lots", map[string]any{
		"blood_type": "Z+", "units_available": 1, "location": "York", "expiry_date": "2025-10-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/inventory/lots", map[string]any{
		"blood_type": "A-", "units_available": 1, "location": "York", "expiry_date": "01/10/2025",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteLot(t *testing.T) {
	s := newTestServer(t, Config{})
	lot := s.createLot(t, "A+", "York", 10, "2025-09-20")

	rec := s.do(t, http.MethodDelete, "/api/inventory/lots/"+itoa(lot.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The remaining units are journaled.
	rec = s.do(t, http.MethodGet, "/api/inventory/movements?blood_type=A%2B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decode[map[string][]MovementDTO](t, rec)["movements"]
	require.Len(t, movements, 1)
	assert.Equal(t, "removed", movements[0].Reason)
	assert.Equal(t, lot.ID, movements[0].LotID)
	assert.Equal(t, -10, movements[0].Delta)
	assert.Equal(t, 0, movements[0].BalanceAfter)

	rec = s.do(t, http.MethodDelete, "/api/inventory/lots/"+itoa(lot.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/inventory/lots/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInventorySummary(t *testing.T) {
	s := newTestServer(t, Config{})
	s.createLot(t, "A+", "York", 10, "2025-09-20")
	s.createLot(t, "A+", "Leeds", 5, "2025-09-10")
	s.createLot(t, "O-", "Leeds", 45, "2025-09-30")

	rec := s.do(t, http.MethodGet, "/api/inventory/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decode[map[string][]StockSummaryDTO](t, rec)["summary"]
	byType := make(map[string]StockSummaryDTO)
	for _, line := range summary {
		byType[line.BloodType.String()] = line
	}

	aPos := byType["A+"]
	assert.Equal(t, 15, aPos.TotalUnits)
	assert.Equal(t, 2, aPos.LotCount)
	assert.True(t, aPos.LowStock)
	assert.Equal(t, "2025-09-10", aPos.EarliestExpiry)
	assert.Equal(t, "25", aPos.SharePercent.String())

	oNeg := byType["O-"]
	assert.False(t, oNeg.LowStock)
	assert.Equal(t, "75", oNeg.SharePercent.String())
}

func TestWriteOffExpired_Endpoint(t *testing.T) {
	s := newTestServer(t, Config{})
	s.createLot(t, "A+", "York", 10, "2025-09-20")
	s.createLot(t, "A+", "Leeds", 5, "2025-09-10")

	rec := s.do(t, http.MethodPost, "/api/admin/expiry/sweep?as_of=2025-09-15", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	written := decode[map[string][]WriteOffDTO](t, rec)["write_offs"]
	require.Len(t, written, 1)
	assert.Equal(t, "Leeds", written[0].Location)
	assert.Equal(t, 5, written[0].Units)

	// The handler clock (09-01) is before every expiry.
	rec = s.do(t, http.MethodPost, "/api/admin/expiry/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]WriteOffDTO](t, rec)["write_offs"])
}

// =============================================================================
// PARTIES
// =============================================================================

func TestHospitalsAndDonors(t *testing.T) {
	s := newTestServer(t, Config{})
	hosp := s.createHospital(t, "St Thomas", "Hospital", "Westminster Bridge Road, London")
	assert.Equal(t, "St Thomas Hospital", hosp.DisplayName)

	donor := s.createDonor(t, "Mary", "Seacole", "O-", "London")
	assert.Equal(t, "O-", donor.BloodType.String())

	rec := s.do(t, http.MethodGet, "/api/hospitals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]HospitalDTO](t, rec)["hospitals"], 1)

	rec = s.do(t, http.MethodGet, "/api/donors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]DonorDTO](t, rec)["donors"], 1)

	rec = s.do(t, http.MethodPost, "/api/hospitals", CreateHospitalRequest{FirstName: "Nameless"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordDonation(t *testing.T) {
	s := newTestServer(t, Config{})
	hosp := s.createHospital(t, "Royal", "Infirmary", "Oxford Road, Manchester")
	donor := s.createDonor(t, "Alan", "Turing", "A+", "Manchester")

	rec := s.do(t, http.MethodPost, "/api/donations", RecordDonationRequest{
		DonorID: donor.ID, HospitalID: hosp.ID, Units: 1, DonatedAt: "2025-05-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	donation := decode[DonationDTO](t, rec)
	assert.Equal(t, "completed", donation.Status)
	assert.Equal(t, "A+", donation.BloodType.String())

	rec = s.do(t, http.MethodPost, "/api/donations", RecordDonationRequest{DonorID: 999, HospitalID: hosp.ID, Units: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/donations", RecordDonationRequest{DonorID: donor.ID, HospitalID: hosp.ID, Units: 1, Status: "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Config{})
	rec := s.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestCORS_ConfiguredOrigin(t *testing.T) {
	s := newTestServer(t, Config{CORSOrigins: []string{"https://coordinator.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "https://coordinator.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "https://coordinator.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
