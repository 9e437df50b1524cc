/*
handlers.go - HTTP API handlers for the blood-bank coordination engine

PURPOSE:
  Exposes the allocation engine, offer lifecycle and request gate via REST.
  Handles HTTP request/response and JSON serialization, and delegates every
  decision to the bloodbank package.

ENDPOINTS:
  Inventory:
    GET    /api/inventory/lots                 List lots (?blood_type=)
    POST   /api/inventory/lots                 Register a lot
    DELETE /api/inventory/lots/{id}            Remove a lot
    POST   /api/inventory/{bloodType}/adjust   Apply a FEFO delta
    GET    /api/inventory/summary              Per-type stock summary
    GET    /api/inventory/movements            Movement journal

  Parties:
    GET/POST /api/hospitals, GET/POST /api/donors, POST /api/donations

  Offers and blood requests: see offers.go

  Scenarios: see scenarios.go

ARCHITECTURE:
  Handler holds the store and the engines built on it. Engines are
  stateless apart from their locks, so one Handler serves all requests.

ERROR HANDLING:
  Domain errors map to status codes in statusFor:
  - 400: ErrValidation, malformed JSON
  - 403: ErrForbidden
  - 404: ErrNotFound
  - 409: ErrConflict, ErrInvalidState, ErrDuplicateIdempotencyKey,
         ErrConcurrentModification
  - 422: ErrInsufficientStock
  - 429: offer rate limit
  - 500: everything else (logged)

SECURITY NOTE:
  No authentication. The acting donor or hospital is taken from the path.

SEE ALSO:
  - dto.go: Request/response data structures
  - offers.go: Offer and blood request handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lifeline/bloodbank-engine/bloodbank"
	"github.com/lifeline/bloodbank-engine/store/sqlstore"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Config carries the optional knobs of a Handler.
type Config struct {
	Logger *slog.Logger

	// OfferRatePerMinute limits offer creation per donor. Zero disables.
	OfferRatePerMinute float64
	OfferBurst         int

	CORSOrigins []string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlstore.Store
	Engine   *bloodbank.AllocationEngine
	Offers   *bloodbank.OfferService
	Requests *bloodbank.RequestService
	Logger   *slog.Logger

	limiter     *donorLimiter
	corsOrigins []string
	now         func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engines onto store.
func NewHandler(store *sqlstore.Store, cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	engine := bloodbank.NewAllocationEngine(store)
	engine.Now = now

	return &Handler{
		Store:  store,
		Engine: engine,
		Offers: &bloodbank.OfferService{
			Offers:    store,
			Hospitals: store,
			Router:    bloodbank.NewTieredRouter(store),
			Now:       now,
		},
		Requests: &bloodbank.RequestService{
			Requests: store,
			Gate:     &bloodbank.EligibilityGate{Donors: store, History: store},
			Now:      now,
		},
		Logger:      logger,
		limiter:     newDonorLimiter(cfg.OfferRatePerMinute, cfg.OfferBurst),
		corsOrigins: cfg.CORSOrigins,
		now:         now,
	}
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// ListLots returns every lot, or the lots of one type with ?blood_type=.
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		lots []bloodbank.InventoryLot
		err  error
	)
	if raw := r.URL.Query().Get("blood_type"); raw != "" {
		bt, perr := parseBloodTypeParam(raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid blood type", perr)
			return
		}
		lots, err = h.Store.FindAllOrderedByExpiry(ctx, bt)
	} else {
		lots, err = h.Store.ListLots(ctx)
	}
	if err != nil {
		h.writeDomainError(w, r, "Failed to list lots", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"lots": toLotDTOs(lots)})
}

// CreateLot registers a new lot.
func (h *Handler) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req CreateLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expiry_date (use YYYY-MM-DD)", err)
		return
	}

	lot, err := h.Engine.CreateLot(r.Context(), bloodbank.InventoryLot{
		BloodType:      req.BloodType,
		UnitsAvailable: req.UnitsAvailable,
		Location:       req.Location,
		ExpiryDate:     expiry,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create lot", err)
		return
	}

	writeJSON(w, http.StatusCreated, toLotDTO(*lot))
}

// DeleteLot removes a lot regardless of balance; leftover units are journaled.
func (h *Handler) DeleteLot(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid lot id", err)
		return
	}

	if err := h.Engine.RemoveLot(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to delete lot", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// AdjustInventory applies a signed delta to one blood type, FEFO.
func (h *Handler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	bt, err := parseBloodTypeParam(chi.URLParam(r, "bloodType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid blood type", err)
		return
	}

	var req AdjustInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	lots, err := h.Engine.ApplyDeltaWithKey(r.Context(), bt, req.Delta, key, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, "Failed to adjust inventory", err)
		return
	}

	h.Logger.InfoContext(r.Context(), "inventory adjusted",
		"blood_type", bt.String(),
		"delta", req.Delta,
		"idempotency_key", key,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeJSON(w, http.StatusOK, AdjustInventoryResponse{
		BloodType: bt,
		Delta:     req.Delta,
		Lots:      toLotDTOs(lots),
	})
}

// GetInventorySummary returns one line per blood type.
func (h *Handler) GetInventorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.Summary(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to summarize inventory", err)
		return
	}

	dtos := make([]StockSummaryDTO, len(summary))
	for i, s := range summary {
		dtos[i] = toStockSummaryDTO(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": dtos})
}

// ListMovements returns the journal, newest first (?blood_type=, ?limit=).
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var bt *bloodbank.BloodType
	if raw := q.Get("blood_type"); raw != "" {
		parsed, err := parseBloodTypeParam(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid blood type", err)
			return
		}
		bt = &parsed
	}

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	movements, err := h.Store.ListMovements(r.Context(), bt, limit)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list movements", err)
		return
	}

	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": dtos})
}

// WriteOffExpired drains lots past expiry as of today (or ?as_of=).
func (h *Handler) WriteOffExpired(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	written, err := h.Engine.WriteOffExpired(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, r, "Failed to write off expired lots", err)
		return
	}

	dtos := make([]WriteOffDTO, len(written))
	for i, wo := range written {
		dtos[i] = WriteOffDTO{
			LotID:      wo.LotID,
			BloodType:  wo.BloodType,
			Location:   wo.Location,
			Units:      wo.Units,
			ExpiryDate: wo.ExpiryDate.Format(dateLayout),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"write_offs": dtos})
}

// =============================================================================
// PARTY HANDLERS
// =============================================================================

func (h *Handler) ListHospitals(w http.ResponseWriter, r *http.Request) {
	hospitals, err := h.Store.ListHospitals(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list hospitals", err)
		return
	}

	dtos := make([]HospitalDTO, len(hospitals))
	for i, hosp := range hospitals {
		dtos[i] = toHospitalDTO(hosp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"hospitals": dtos})
}

func (h *Handler) CreateHospital(w http.ResponseWriter, r *http.Request) {
	var req CreateHospitalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "first_name and address are required", nil)
		return
	}

	hosp := bloodbank.Hospital{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Address:   strings.TrimSpace(req.Address),
	}
	if err := h.Store.SaveHospital(r.Context(), &hosp); err != nil {
		h.writeDomainError(w, r, "Failed to create hospital", err)
		return
	}

	writeJSON(w, http.StatusCreated, toHospitalDTO(hosp))
}

func (h *Handler) ListDonors(w http.ResponseWriter, r *http.Request) {
	donors, err := h.Store.ListDonors(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list donors", err)
		return
	}

	dtos := make([]DonorDTO, len(donors))
	for i, d := range donors {
		dtos[i] = toDonorDTO(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"donors": dtos})
}

func (h *Handler) CreateDonor(w http.ResponseWriter, r *http.Request) {
	var req CreateDonorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.FirstName) == "" || !req.BloodType.Valid() {
		writeError(w, http.StatusBadRequest, "first_name and blood_type are required", nil)
		return
	}

	donor := bloodbank.Donor{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		BloodType: req.BloodType,
		Location:  strings.TrimSpace(req.Location),
	}
	if err := h.Store.SaveDonor(r.Context(), &donor); err != nil {
		h.writeDomainError(w, r, "Failed to create donor", err)
		return
	}

	writeJSON(w, http.StatusCreated, toDonorDTO(donor))
}

// RecordDonation stores a donation event for an existing donor and hospital.
func (h *Handler) RecordDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RecordDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Units <= 0 {
		writeError(w, http.StatusBadRequest, "units must be positive", nil)
		return
	}

	status := bloodbank.DonationCompleted
	switch bloodbank.DonationStatus(strings.ToLower(req.Status)) {
	case "", bloodbank.DonationCompleted:
	case bloodbank.DonationScheduled:
		status = bloodbank.DonationScheduled
	case bloodbank.DonationCancelled:
		status = bloodbank.DonationCancelled
	default:
		writeError(w, http.StatusBadRequest, "Invalid donation status", nil)
		return
	}

	donatedAt := h.now()
	if req.DonatedAt != "" {
		parsed, err := parseDate(req.DonatedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid donated_at", err)
			return
		}
		donatedAt = parsed
	}

	donor, err := h.Store.FindDonor(ctx, req.DonorID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get donor", err)
		return
	}
	if donor == nil {
		writeError(w, http.StatusNotFound, "Donor not found", nil)
		return
	}
	hosp, err := h.Store.FindHospital(ctx, req.HospitalID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get hospital", err)
		return
	}
	if hosp == nil {
		writeError(w, http.StatusNotFound, "Hospital not found", nil)
		return
	}

	donation := bloodbank.Donation{
		DonorID:    donor.ID,
		HospitalID: hosp.ID,
		BloodType:  donor.BloodType,
		Units:      req.Units,
		Status:     status,
		DonatedAt:  donatedAt,
	}
	if err := h.Store.SaveDonation(ctx, &donation); err != nil {
		h.writeDomainError(w, r, "Failed to record donation", err)
		return
	}

	writeJSON(w, http.StatusCreated, DonationDTO{
		ID:         donation.ID,
		DonorID:    donation.DonorID,
		HospitalID: donation.HospitalID,
		BloodType:  donation.BloodType,
		Units:      donation.Units,
		Status:     string(donation.Status),
		DonatedAt:  donation.DonatedAt.Format(time.RFC3339),
	})
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps err onto a status and error code. Server faults
// are logged; client errors are not.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), message,
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}

	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}
	var stockErr *bloodbank.InsufficientStockError
	if errors.As(err, &stockErr) {
		resp.Details = map[string]any{
			"message":   stockErr.Error(),
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		}
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, bloodbank.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, bloodbank.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, bloodbank.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "insufficient_stock"
	case errors.Is(err, bloodbank.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, bloodbank.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "duplicate_idempotency_key"
	case errors.Is(err, bloodbank.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, bloodbank.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, bloodbank.ErrValidation):
		return http.StatusBadRequest, "validation"
	}
	return http.StatusInternalServerError, "internal"
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q is not a valid id", raw)
	}
	return id, nil
}

// parseBloodTypeParam accepts the short form ("O-", URL-escaped or not)
// or the storage code ("O_NEG").
func parseBloodTypeParam(raw string) (bloodbank.BloodType, error) {
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	if bt, err := bloodbank.ParseBloodType(raw); err == nil {
		return bt, nil
	}
	return bloodbank.ParseBloodTypeCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseOptionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
