/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates hospitals, donors, donation
	history and inventory lots that exercise one part of the engine.

AVAILABLE SCENARIOS:

	city-hospitals:  Healthy stock in three cities; offers route by locality
	low-stock:       One hospital short on O- so offers route by need
	expiring-stock:  Lots past and near expiry for FEFO and the sweeper

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create the hospital roster (roster order = id order)
 3. Create donors and their donation history
 4. Register lots keyed by hospital display name

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "low-stock"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
	Expiry dates are relative to the handler clock.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "city-hospitals",
		Name:        "City Hospitals",
		Description: "Three well-stocked hospitals; offers route to the donor's city",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Royal Infirmary is short on O-; O- offers route there first",
	},
	{
		ID:          "expiring-stock",
		Name:        "Expiring Stock",
		Description: "A+ lots expired, expiring today and next week; run the expiry sweep",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "city-hospitals":
		load = h.loadCityHospitalsScenario
	case "low-stock":
		load = h.loadLowStockScenario
	case "expiring-stock":
		load = h.loadExpiringStockScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		h.writeDomainError(w, r, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		h.writeDomainError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every table.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeDomainError(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedRoster creates the three demo hospitals in roster order.
func (h *Handler) seedRoster(ctx context.Context) ([]bloodbank.Hospital, error) {
	roster := []bloodbank.Hospital{
		{FirstName: "St Thomas", LastName: "Hospital", Address: "Westminster Bridge Road, London"},
		{FirstName: "Royal", LastName: "Infirmary", Address: "Oxford Road, Manchester"},
		{FirstName: "General", LastName: "Hospital", Address: "Great George Street, Leeds"},
	}
	for i := range roster {
		if err := h.Store.SaveHospital(ctx, &roster[i]); err != nil {
			return nil, fmt.Errorf("failed to create hospital %s: %w", roster[i].DisplayName(), err)
		}
	}
	return roster, nil
}

// seedDonor creates a donor with the given number of completed donations
// at hosp.
func (h *Handler) seedDonor(ctx context.Context, d bloodbank.Donor, hosp bloodbank.Hospital, completed int) error {
	if err := h.Store.SaveDonor(ctx, &d); err != nil {
		return fmt.Errorf("failed to create donor %s: %w", d.FullName(), err)
	}
	for i := 0; i < completed; i++ {
		donation := bloodbank.Donation{
			DonorID:    d.ID,
			HospitalID: hosp.ID,
			BloodType:  d.BloodType,
			Units:      1,
			Status:     bloodbank.DonationCompleted,
			DonatedAt:  h.now().AddDate(0, -4*(i+1), 0),
		}
		if err := h.Store.SaveDonation(ctx, &donation); err != nil {
			return fmt.Errorf("failed to record donation: %w", err)
		}
	}
	return nil
}

func (h *Handler) seedLot(ctx context.Context, bt bloodbank.BloodType, location string, units int, expiresInDays int) error {
	today := h.now().UTC().Truncate(24 * time.Hour)
	_, err := h.Engine.CreateLot(ctx, bloodbank.InventoryLot{
		BloodType:      bt,
		UnitsAvailable: units,
		Location:       location,
		ExpiryDate:     today.AddDate(0, 0, expiresInDays),
	})
	return err
}

func (h *Handler) loadCityHospitalsScenario(ctx context.Context) error {
	roster, err := h.seedRoster(ctx)
	if err != nil {
		return err
	}

	for i, hosp := range roster {
		for _, bt := range []bloodbank.BloodType{bloodbank.OPositive, bloodbank.ONegative, bloodbank.APositive} {
			if err := h.seedLot(ctx, bt, hosp.DisplayName(), 30+10*i, 21+7*i); err != nil {
				return err
			}
		}
	}

	donors := []struct {
		donor     bloodbank.Donor
		completed int
	}{
		{bloodbank.Donor{FirstName: "Mary", LastName: "Seacole", BloodType: bloodbank.ONegative, Location: "London"}, 2},
		{bloodbank.Donor{FirstName: "Alan", LastName: "Turing", BloodType: bloodbank.APositive, Location: "Manchester"}, 1},
		{bloodbank.Donor{FirstName: "Ada", LastName: "Lovelace", BloodType: bloodbank.OPositive, Location: "Harrogate"}, 0},
	}
	for _, d := range donors {
		if err := h.seedDonor(ctx, d.donor, roster[0], d.completed); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadLowStockScenario(ctx context.Context) error {
	roster, err := h.seedRoster(ctx)
	if err != nil {
		return err
	}

	units := map[string]int{
		roster[0].DisplayName(): 45,
		roster[1].DisplayName(): 8,
		roster[2].DisplayName(): 25,
	}
	for _, hosp := range roster {
		if err := h.seedLot(ctx, bloodbank.ONegative, hosp.DisplayName(), units[hosp.DisplayName()], 14); err != nil {
			return err
		}
		if err := h.seedLot(ctx, bloodbank.OPositive, hosp.DisplayName(), 40, 28); err != nil {
			return err
		}
	}

	if err := h.seedDonor(ctx, bloodbank.Donor{
		FirstName: "Mary", LastName: "Seacole", BloodType: bloodbank.ONegative, Location: "London",
	}, roster[0], 3); err != nil {
		return err
	}
	return h.seedDonor(ctx, bloodbank.Donor{
		FirstName: "Florence", LastName: "Nightingale", BloodType: bloodbank.OPositive, Location: "Leeds",
	}, roster[2], 1)
}

func (h *Handler) loadExpiringStockScenario(ctx context.Context) error {
	roster, err := h.seedRoster(ctx)
	if err != nil {
		return err
	}

	lots := []struct {
		hosp    bloodbank.Hospital
		units   int
		expires int
	}{
		{roster[0], 12, -2},
		{roster[1], 6, 0},
		{roster[2], 30, 7},
	}
	for _, l := range lots {
		if err := h.seedLot(ctx, bloodbank.APositive, l.hosp.DisplayName(), l.units, l.expires); err != nil {
			return err
		}
	}

	return h.seedDonor(ctx, bloodbank.Donor{
		FirstName: "Alan", LastName: "Turing", BloodType: bloodbank.APositive, Location: "Manchester",
	}, roster[1], 1)
}
