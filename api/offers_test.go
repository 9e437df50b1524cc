package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type offerParties struct {
	london, leeds HospitalDTO
	donor         DonorDTO
}

func seedParties(t *testing.T, s *testServer) offerParties {
	t.Helper()
	return offerParties{
		london: s.createHospital(t, "St Thomas", "Hospital", "Westminster Bridge Road, London"),
		leeds:  s.createHospital(t, "General", "Hospital", "Great George Street, Leeds"),
		donor:  s.createDonor(t, "Mary", "Seacole", "O-", "Leeds"),
	}
}

func (s *testServer) createOffer(t *testing.T, donorID int64, location string) OfferDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/donors/"+itoa(donorID)+"/offers", map[string]any{
		"blood_type": "O-", "preferred_date": "2025-09-20", "location": location,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[OfferDTO](t, rec)
}

func TestOfferLifecycle_ConfirmByRoutedHospital(t *testing.T) {
	// GIVEN: Two hospitals with no stock and a donor in Leeds
	// WHEN: The donor offers and hospitals respond
	// THEN: Only the Leeds hospital sees and confirms the offer
	s := newTestServer(t, Config{})
	p := seedParties(t, s)

	offer := s.createOffer(t, p.donor.ID, "Leeds")
	assert.Equal(t, "pending", offer.Status)
	require.NotNil(t, offer.RoutedToID)
	assert.Equal(t, p.leeds.ID, *offer.RoutedToID)
	assert.Equal(t, "General Hospital", offer.RoutedToName)
	assert.Equal(t, "locality", offer.RoutedBy)
	assert.Equal(t, 1, offer.Version)

	base := "/api/hospitals/"
	offerPath := "/offers/" + itoa(offer.ID)

	rec := s.do(t, http.MethodPost, base+itoa(p.london.ID)+offerPath+"/confirm", ConfirmOfferRequest{AppointmentDate: "2025-09-21"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, base+itoa(p.london.ID)+"/offers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]OfferDTO](t, rec)["offers"])

	rec = s.do(t, http.MethodPost, base+itoa(p.leeds.ID)+offerPath+"/confirm", ConfirmOfferRequest{
		AppointmentDate: "2025-09-21", HospitalNotes: "Bring ID",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decode[OfferDTO](t, rec)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Equal(t, "Bring ID", confirmed.HospitalNotes)
	assert.Equal(t, 2, confirmed.Version)

	// Terminal
	rec = s.do(t, http.MethodPost, "/api/donors/"+itoa(p.donor.ID)+offerPath+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decode[ErrorResponse](t, rec).Code)
}

func TestOffer_RejectNeedsReason(t *testing.T) {
	s := newTestServer(t, Config{})
	p := seedParties(t, s)
	offer := s.createOffer(t, p.donor.ID, "Leeds")
	path := "/api/hospitals/" + itoa(p.leeds.ID) + "/offers/" + itoa(offer.ID) + "/reject"

	rec := s.do(t, http.MethodPost, path, RejectOfferRequest{Reason: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, path, RejectOfferRequest{Reason: "Clinic closed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Clinic closed", decode[OfferDTO](t, rec).RejectionReason)
}

func TestOffer_CancelOnlyByOwner(t *testing.T) {
	s := newTestServer(t, Config{})
	p := seedParties(t, s)
	other := s.createDonor(t, "Alan", "Turing", "A+", "Manchester")
	offer := s.createOffer(t, p.donor.ID, "Leeds")

	rec := s.do(t, http.MethodPost, "/api/donors/"+itoa(other.ID)+"/offers/"+itoa(offer.ID)+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/donors/"+itoa(p.donor.ID)+"/offers/"+itoa(offer.ID)+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[OfferDTO](t, rec).Status)
}

func TestCreateOffer_UnknownDonor_NotFound(t *testing.T) {
	s := newTestServer(t, Config{})
	seedParties(t, s)

	rec := s.do(t, http.MethodPost, "/api/donors/999/offers", map[string]any{
		"blood_type": "O-", "preferred_date": "2025-09-20", "location": "Leeds",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOffer_Validation(t *testing.T) {
	s := newTestServer(t, Config{})
	p := seedParties(t, s)
	path := "/api/donors/" + itoa(p.donor.ID) + "/offers"

	rec := s.do(t, http.MethodPost, path, map[string]any{"blood_type": "O-", "preferred_date": "2025-09-20", "location": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, path, map[string]any{"blood_type": "O-", "preferred_date": "soon", "location": "Leeds"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOffer_RateLimited(t *testing.T) {
	s := newTestServer(t, Config{OfferRatePerMinute: 1, OfferBurst: 1})
	p := seedParties(t, s)
	other := s.createDonor(t, "Alan", "Turing", "A+", "Manchester")

	s.createOffer(t, p.donor.ID, "Leeds")

	rec := s.do(t, http.MethodPost, "/api/donors/"+itoa(p.donor.ID)+"/offers", map[string]any{
		"blood_type": "O-", "preferred_date": "2025-09-22", "location": "Leeds",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Limits are per donor.
	s.createOffer(t, other.ID, "Manchester")
}

func TestCreateOffer_RateLimit_UnknownDonorsNotTracked(t *testing.T) {
	// GIVEN: Rate limiting is on
	// WHEN: Offers are posted for donor ids that do not exist
	// THEN: Each is a 404 and no limiter state is kept for them
	s := newTestServer(t, Config{OfferRatePerMinute: 1, OfferBurst: 1})
	seedParties(t, s)

	for _, id := range []string{"999", "1000", "1001"} {
		rec := s.do(t, http.MethodPost, "/api/donors/"+id+"/offers", map[string]any{
			"blood_type": "O-", "preferred_date": "2025-09-20", "location": "Leeds",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	s.h.limiter.mu.Lock()
	defer s.h.limiter.mu.Unlock()
	assert.Empty(t, s.h.limiter.limiters)
}

func TestListOffers_FiltersAndSummary(t *testing.T) {
	s := newTestServer(t, Config{})
	p := seedParties(t, s)
	first := s.createOffer(t, p.donor.ID, "Leeds")
	s.createOffer(t, p.donor.ID, "London")

	rec := s.do(t, http.MethodPost, "/api/donors/"+itoa(p.donor.ID)+"/offers/"+itoa(first.ID)+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/offers?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[map[string][]OfferDTO](t, rec)["offers"]
	require.Len(t, pending, 1)
	assert.Equal(t, "London", pending[0].Location)

	rec = s.do(t, http.MethodGet, "/api/donors/"+itoa(p.donor.ID)+"/offers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]OfferDTO](t, rec)["offers"], 2)

	rec = s.do(t, http.MethodGet, "/api/offers?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/offers?from=2025-09-30&to=2025-09-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/offers/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[map[string]int](t, rec)
	assert.Equal(t, 1, summary["pending"])
	assert.Equal(t, 1, summary["cancelled"])
	assert.Equal(t, 0, summary["confirmed"])
}

// =============================================================================
// BLOOD REQUESTS
// =============================================================================

func TestDonorBloodRequest_GatedOnCompletedDonation(t *testing.T) {
	s := newTestServer(t, Config{})
	p := seedParties(t, s)
	path := "/api/donors/" + itoa(p.donor.ID) + "/blood-requests"
	body := map[string]any{"blood_group": "O-", "units_requested": 2}

	rec := s.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/donors/999/blood-requests", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/donations", RecordDonationRequest{
		DonorID: p.donor.ID, HospitalID: p.leeds.ID, Units: 1, DonatedAt: "2025-03-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[BloodRequestDTO](t, rec)
	assert.Equal(t, "high", req.Priority)
	assert.Equal(t, "pending", req.Status)
	assert.Equal(t, "Self (Mary Seacole)", req.PatientName)
	require.NotNil(t, req.RequesterDonorID)
	assert.Equal(t, p.donor.ID, *req.RequesterDonorID)
	assert.Equal(t, "2025-09-08T09:00:00Z", req.RequiredBy)
}

func TestHospitalBloodRequest_AndStatusFlow(t *testing.T) {
	s := newTestServer(t, Config{})
	p := seedParties(t, s)

	rec := s.do(t, http.MethodPost, "/api/hospitals/999/blood-requests", map[string]any{
		"blood_group": "A+", "units_requested": 3, "patient_name": "J. Doe",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/hospitals/"+itoa(p.london.ID)+"/blood-requests", map[string]any{
		"blood_group": "A+", "units_requested": 3, "patient_name": "J. Doe", "patient_age": 54,
		"priority": "critical", "required_by": "2025-09-02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decode[BloodRequestDTO](t, rec)
	assert.Equal(t, "critical", req.Priority)
	assert.Equal(t, 54, req.PatientAge)

	statusPath := "/api/admin/blood-requests/" + itoa(req.ID) + "/status"

	rec = s.do(t, http.MethodPost, statusPath, UpdateRequestStatusRequest{Status: "fulfilled"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, statusPath, UpdateRequestStatusRequest{Status: "approved"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, statusPath, UpdateRequestStatusRequest{Status: "fulfilled"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/blood-requests?status=fulfilled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]BloodRequestDTO](t, rec)["blood_requests"], 1)

	rec = s.do(t, http.MethodGet, "/api/blood-requests?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]BloodRequestDTO](t, rec)["blood_requests"])
}
