/*
offers.go - Donation offer and blood request handlers

ENDPOINTS:
  Donor side:
    POST /api/donors/{donorID}/offers               Create and route an offer
    GET  /api/donors/{donorID}/offers               The donor's offers
    POST /api/donors/{donorID}/offers/{id}/cancel   Withdraw a pending offer
    POST /api/donors/{donorID}/blood-requests       Request blood (gated)

  Hospital side:
    GET  /api/hospitals/{hospitalID}/offers              Offers routed here
    POST /api/hospitals/{hospitalID}/offers/{id}/confirm Book the donation
    POST /api/hospitals/{hospitalID}/offers/{id}/reject  Decline with reason
    POST /api/hospitals/{hospitalID}/blood-requests      Request for a patient

  Admin:
    GET  /api/offers                          All offers (filters)
    GET  /api/offers/summary                  Count per status
    GET  /api/blood-requests                  All requests (?status=)
    POST /api/admin/blood-requests/{id}/status Advance a request

Offers that belong to another party answer 404, never 403.
*/
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

// =============================================================================
// DONOR SIDE
// =============================================================================

// CreateOffer creates a pending offer for the donor and routes it.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	donorID, err := idParam(r, "donorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid donor id", err)
		return
	}
	var req CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	preferred, err := parseDate(req.PreferredDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid preferred_date (use YYYY-MM-DD)", err)
		return
	}

	donor, err := h.Store.FindDonor(ctx, donorID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get donor", err)
		return
	}
	if donor == nil {
		writeError(w, http.StatusNotFound, "Donor not found", nil)
		return
	}
	// Only known donors get a limiter entry.
	if !h.limiter.Allow(donorID) {
		writeError(w, http.StatusTooManyRequests, "Too many offers, try again later", nil)
		return
	}

	offer, err := h.Offers.CreateOffer(ctx, donorID, bloodbank.OfferInput{
		BloodType:     req.BloodType,
		PreferredDate: preferred,
		Location:      req.Location,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create offer", err)
		return
	}

	h.Logger.InfoContext(ctx, "offer created",
		"offer_id", offer.ID,
		"donor_id", donorID,
		"routed_by", string(offer.RoutedBy),
		"routed_to", offer.RoutedToName,
	)
	writeJSON(w, http.StatusCreated, toOfferDTO(*offer))
}

func (h *Handler) ListDonorOffers(w http.ResponseWriter, r *http.Request) {
	donorID, err := idParam(r, "donorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid donor id", err)
		return
	}

	filter, ok := offerFilterFromQuery(w, r)
	if !ok {
		return
	}
	filter.DonorID = &donorID

	offers, err := h.Offers.ListOffers(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list offers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": toOfferDTOs(offers)})
}

func (h *Handler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	donorID, err := idParam(r, "donorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid donor id", err)
		return
	}
	offerID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offer id", err)
		return
	}

	offer, err := h.Offers.Cancel(r.Context(), donorID, offerID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to cancel offer", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTO(*offer))
}

// CreateDonorBloodRequest raises a request in the donor's own name. Only
// donors with a completed donation pass the gate.
func (h *Handler) CreateDonorBloodRequest(w http.ResponseWriter, r *http.Request) {
	donorID, err := idParam(r, "donorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid donor id", err)
		return
	}

	in, ok := decodeBloodRequest(w, r)
	if !ok {
		return
	}

	req, err := h.Requests.CreateDonorBloodRequest(r.Context(), donorID, in)
	if err != nil {
		h.writeDomainError(w, r, "Failed to create blood request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBloodRequestDTO(*req))
}

// =============================================================================
// HOSPITAL SIDE
// =============================================================================

func (h *Handler) ListHospitalOffers(w http.ResponseWriter, r *http.Request) {
	hospitalID, err := idParam(r, "hospitalID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hospital id", err)
		return
	}

	filter, ok := offerFilterFromQuery(w, r)
	if !ok {
		return
	}
	filter.HospitalID = &hospitalID

	offers, err := h.Offers.ListOffers(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list offers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": toOfferDTOs(offers)})
}

func (h *Handler) ConfirmOffer(w http.ResponseWriter, r *http.Request) {
	hospitalID, offerID, ok := hospitalOfferParams(w, r)
	if !ok {
		return
	}

	var req ConfirmOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	appointment, err := parseDate(req.AppointmentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid appointment_date", err)
		return
	}

	offer, err := h.Offers.Confirm(r.Context(), hospitalID, offerID, appointment, req.HospitalNotes)
	if err != nil {
		h.writeDomainError(w, r, "Failed to confirm offer", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTO(*offer))
}

func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	hospitalID, offerID, ok := hospitalOfferParams(w, r)
	if !ok {
		return
	}

	var req RejectOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	offer, err := h.Offers.Reject(r.Context(), hospitalID, offerID, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, "Failed to reject offer", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTO(*offer))
}

func (h *Handler) CreateHospitalBloodRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hospitalID, err := idParam(r, "hospitalID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hospital id", err)
		return
	}
	hosp, err := h.Store.FindHospital(ctx, hospitalID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get hospital", err)
		return
	}
	if hosp == nil {
		writeError(w, http.StatusNotFound, "Hospital not found", nil)
		return
	}

	in, ok := decodeBloodRequest(w, r)
	if !ok {
		return
	}

	req, err := h.Requests.CreateHospitalBloodRequest(ctx, hospitalID, in)
	if err != nil {
		h.writeDomainError(w, r, "Failed to create blood request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBloodRequestDTO(*req))
}

// =============================================================================
// ADMIN
// =============================================================================

// ListOffers supports ?status=, ?blood_type=, ?from=, ?to=.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	filter, ok := offerFilterFromQuery(w, r)
	if !ok {
		return
	}

	offers, err := h.Offers.ListOffers(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list offers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": toOfferDTOs(offers)})
}

func (h *Handler) GetOfferSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Offers.StatusSummary(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to summarize offers", err)
		return
	}

	resp := make(map[string]int, len(counts))
	for status, n := range counts {
		resp[string(status)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListBloodRequests(w http.ResponseWriter, r *http.Request) {
	var status *bloodbank.RequestStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := bloodbank.RequestStatus(strings.ToLower(raw))
		status = &s
	}

	reqs, err := h.Requests.ListBloodRequests(r.Context(), status)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list blood requests", err)
		return
	}

	dtos := make([]BloodRequestDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toBloodRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, map[string]any{"blood_requests": dtos})
}

func (h *Handler) UpdateBloodRequestStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request id", err)
		return
	}

	var body UpdateRequestStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := h.Requests.AdvanceStatus(r.Context(), id, bloodbank.RequestStatus(strings.ToLower(body.Status)))
	if err != nil {
		h.writeDomainError(w, r, "Failed to update blood request", err)
		return
	}
	writeJSON(w, http.StatusOK, toBloodRequestDTO(*req))
}

// =============================================================================
// HELPERS
// =============================================================================

func hospitalOfferParams(w http.ResponseWriter, r *http.Request) (hospitalID, offerID int64, ok bool) {
	hospitalID, err := idParam(r, "hospitalID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hospital id", err)
		return 0, 0, false
	}
	offerID, err = idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offer id", err)
		return 0, 0, false
	}
	return hospitalID, offerID, true
}

func offerFilterFromQuery(w http.ResponseWriter, r *http.Request) (bloodbank.OfferFilter, bool) {
	q := r.URL.Query()
	var filter bloodbank.OfferFilter

	if raw := q.Get("status"); raw != "" {
		s := bloodbank.OfferStatus(strings.ToLower(raw))
		filter.Status = &s
	}
	if raw := q.Get("blood_type"); raw != "" {
		bt, err := parseBloodTypeParam(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid blood type", err)
			return filter, false
		}
		filter.BloodType = &bt
	}

	var err error
	if filter.From, err = parseOptionalDate(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return filter, false
	}
	if filter.To, err = parseOptionalDate(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return filter, false
	}
	return filter, true
}

func decodeBloodRequest(w http.ResponseWriter, r *http.Request) (bloodbank.BloodRequestInput, bool) {
	var req CreateBloodRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return bloodbank.BloodRequestInput{}, false
	}

	requiredBy, err := parseOptionalDate(req.RequiredBy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid required_by", err)
		return bloodbank.BloodRequestInput{}, false
	}

	return bloodbank.BloodRequestInput{
		BloodGroup:     req.BloodGroup,
		UnitsRequested: req.UnitsRequested,
		Priority:       bloodbank.RequestPriority(strings.ToLower(req.Priority)),
		PatientName:    req.PatientName,
		PatientAge:     req.PatientAge,
		RequiredBy:     requiredBy,
		Notes:          req.Notes,
	}, true
}
