/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the bloodbank domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar dates (expiry, preferred date) are "YYYY-MM-DD". Timestamps are
  RFC3339. Request fields accept either form.

BLOOD TYPES:
  Always the short form ("A+", "O-"). Decoding an unknown string fails the
  whole body with a 400.

SEE ALSO:
  - handlers.go: Uses these types
  - bloodbank/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

const dateLayout = "2006-01-02"

// =============================================================================
// INVENTORY
// =============================================================================

type LotDTO struct {
	ID             int64               `json:"id"`
	BloodType      bloodbank.BloodType `json:"blood_type"`
	UnitsAvailable int                 `json:"units_available"`
	Location       string              `json:"location"`
	ExpiryDate     string              `json:"expiry_date"`
}

type CreateLotRequest struct {
	BloodType      bloodbank.BloodType `json:"blood_type"`
	UnitsAvailable int                 `json:"units_available"`
	Location       string              `json:"location"`
	ExpiryDate     string              `json:"expiry_date"`
}

// AdjustInventoryRequest applies a signed delta. The Idempotency-Key
// header, when present, makes the call safe to retry.
type AdjustInventoryRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

type AdjustInventoryResponse struct {
	BloodType bloodbank.BloodType `json:"blood_type"`
	Delta     int                 `json:"delta"`
	Lots      []LotDTO            `json:"lots"`
}

type StockSummaryDTO struct {
	BloodType      bloodbank.BloodType `json:"blood_type"`
	TotalUnits     int                 `json:"total_units"`
	LotCount       int                 `json:"lot_count"`
	LowStock       bool                `json:"low_stock"`
	EarliestExpiry string              `json:"earliest_expiry,omitempty"`
	SharePercent   decimal.Decimal     `json:"share_percent"`
}

type MovementDTO struct {
	ID             string              `json:"id"`
	LotID          int64               `json:"lot_id"`
	BloodType      bloodbank.BloodType `json:"blood_type"`
	Location       string              `json:"location"`
	Delta          int                 `json:"delta"`
	BalanceAfter   int                 `json:"balance_after"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	Reason         string              `json:"reason,omitempty"`
	CreatedAt      string              `json:"created_at"`
}

type WriteOffDTO struct {
	LotID      int64               `json:"lot_id"`
	BloodType  bloodbank.BloodType `json:"blood_type"`
	Location   string              `json:"location"`
	Units      int                 `json:"units"`
	ExpiryDate string              `json:"expiry_date"`
}

// =============================================================================
// PARTIES
// =============================================================================

type HospitalDTO struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
}

type CreateHospitalRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address   string `json:"address"`
}

type DonorDTO struct {
	ID        int64               `json:"id"`
	FirstName string              `json:"first_name"`
	LastName  string              `json:"last_name"`
	BloodType bloodbank.BloodType `json:"blood_type"`
	Location  string              `json:"location"`
}

type CreateDonorRequest struct {
	FirstName string              `json:"first_name"`
	LastName  string              `json:"last_name"`
	BloodType bloodbank.BloodType `json:"blood_type"`
	Location  string              `json:"location"`
}

// RecordDonationRequest records a donation event. Status defaults to
// "completed".
type RecordDonationRequest struct {
	DonorID    int64  `json:"donor_id"`
	HospitalID int64  `json:"hospital_id"`
	Units      int    `json:"units"`
	Status     string `json:"status,omitempty"`
	DonatedAt  string `json:"donated_at,omitempty"`
}

type DonationDTO struct {
	ID         int64               `json:"id"`
	DonorID    int64               `json:"donor_id"`
	HospitalID int64               `json:"hospital_id"`
	BloodType  bloodbank.BloodType `json:"blood_type"`
	Units      int                 `json:"units"`
	Status     string              `json:"status"`
	DonatedAt  string              `json:"donated_at"`
}

// =============================================================================
// DONATION OFFERS
// =============================================================================

type OfferDTO struct {
	ID              int64               `json:"id"`
	DonorID         int64               `json:"donor_id"`
	BloodType       bloodbank.BloodType `json:"blood_type"`
	PreferredDate   string              `json:"preferred_date"`
	Location        string              `json:"location"`
	Notes           string              `json:"notes,omitempty"`
	Status          string              `json:"status"`
	RoutedToID      *int64              `json:"routed_to_id,omitempty"`
	RoutedToName    string              `json:"routed_to_name,omitempty"`
	RoutedBy        string              `json:"routed_by,omitempty"`
	AppointmentDate string              `json:"appointment_date,omitempty"`
	HospitalNotes   string              `json:"hospital_notes,omitempty"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	Version         int                 `json:"version"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

type CreateOfferRequest struct {
	BloodType     bloodbank.BloodType `json:"blood_type"`
	PreferredDate string              `json:"preferred_date"`
	Location      string              `json:"location"`
	Notes         string              `json:"notes,omitempty"`
}

type ConfirmOfferRequest struct {
	AppointmentDate string `json:"appointment_date"`
	HospitalNotes   string `json:"hospital_notes,omitempty"`
}

type RejectOfferRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// BLOOD REQUESTS
// =============================================================================

type BloodRequestDTO struct {
	ID               int64               `json:"id"`
	BloodGroup       bloodbank.BloodType `json:"blood_group"`
	UnitsRequested   int                 `json:"units_requested"`
	Priority         string              `json:"priority"`
	Status           string              `json:"status"`
	RequestedByID    int64               `json:"requested_by_id"`
	RequesterDonorID *int64              `json:"requester_donor_id,omitempty"`
	PatientName      string              `json:"patient_name"`
	PatientAge       int                 `json:"patient_age"`
	RequiredBy       string              `json:"required_by"`
	Notes            string              `json:"notes,omitempty"`
	CreatedAt        string              `json:"created_at"`
	UpdatedAt        string              `json:"updated_at"`
}

// CreateBloodRequestRequest is shared by donors and hospitals. Donors'
// priority and patient fields are ignored.
type CreateBloodRequestRequest struct {
	BloodGroup     bloodbank.BloodType `json:"blood_group"`
	UnitsRequested int                 `json:"units_requested"`
	Priority       string              `json:"priority,omitempty"`
	PatientName    string              `json:"patient_name,omitempty"`
	PatientAge     int                 `json:"patient_age,omitempty"`
	RequiredBy     string              `json:"required_by,omitempty"`
	Notes          string              `json:"notes,omitempty"`
}

type UpdateRequestStatusRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLotDTO(l bloodbank.InventoryLot) LotDTO {
	return LotDTO{
		ID:             l.ID,
		BloodType:      l.BloodType,
		UnitsAvailable: l.UnitsAvailable,
		Location:       l.Location,
		ExpiryDate:     l.ExpiryDate.Format(dateLayout),
	}
}

func toLotDTOs(lots []bloodbank.InventoryLot) []LotDTO {
	dtos := make([]LotDTO, len(lots))
	for i, l := range lots {
		dtos[i] = toLotDTO(l)
	}
	return dtos
}

func toStockSummaryDTO(s bloodbank.StockSummary) StockSummaryDTO {
	dto := StockSummaryDTO{
		BloodType:    s.BloodType,
		TotalUnits:   s.TotalUnits,
		LotCount:     s.LotCount,
		LowStock:     s.LowStock,
		SharePercent: s.SharePercent,
	}
	if s.EarliestExpiry != nil {
		dto.EarliestExpiry = s.EarliestExpiry.Format(dateLayout)
	}
	return dto
}

func toMovementDTO(m bloodbank.Movement) MovementDTO {
	return MovementDTO{
		ID:             m.ID,
		LotID:          m.LotID,
		BloodType:      m.BloodType,
		Location:       m.Location,
		Delta:          m.Delta,
		BalanceAfter:   m.BalanceAfter,
		IdempotencyKey: m.IdempotencyKey,
		Reason:         m.Reason,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

func toHospitalDTO(h bloodbank.Hospital) HospitalDTO {
	return HospitalDTO{
		ID:          h.ID,
		FirstName:   h.FirstName,
		LastName:    h.LastName,
		DisplayName: h.DisplayName(),
		Address:     h.Address,
	}
}

func toDonorDTO(d bloodbank.Donor) DonorDTO {
	return DonorDTO{
		ID:        d.ID,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		BloodType: d.BloodType,
		Location:  d.Location,
	}
}

func toOfferDTO(o bloodbank.DonationOffer) OfferDTO {
	dto := OfferDTO{
		ID:              o.ID,
		DonorID:         o.DonorID,
		BloodType:       o.BloodType,
		PreferredDate:   o.PreferredDate.Format(dateLayout),
		Location:        o.Location,
		Notes:           o.Notes,
		Status:          string(o.Status),
		RoutedToID:      o.RoutedToID,
		RoutedToName:    o.RoutedToName,
		RoutedBy:        string(o.RoutedBy),
		HospitalNotes:   o.HospitalNotes,
		RejectionReason: o.RejectionReason,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
	}
	if o.AppointmentDate != nil {
		dto.AppointmentDate = o.AppointmentDate.Format(time.RFC3339)
	}
	return dto
}

func toOfferDTOs(offers []bloodbank.DonationOffer) []OfferDTO {
	dtos := make([]OfferDTO, len(offers))
	for i, o := range offers {
		dtos[i] = toOfferDTO(o)
	}
	return dtos
}

func toBloodRequestDTO(r bloodbank.BloodRequest) BloodRequestDTO {
	return BloodRequestDTO{
		ID:               r.ID,
		BloodGroup:       r.BloodGroup,
		UnitsRequested:   r.UnitsRequested,
		Priority:         string(r.Priority),
		Status:           string(r.Status),
		RequestedByID:    r.RequestedByID,
		RequesterDonorID: r.RequesterDonorID,
		PatientName:      r.PatientName,
		PatientAge:       r.PatientAge,
		RequiredBy:       r.RequiredBy.Format(time.RFC3339),
		Notes:            r.Notes,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        r.UpdatedAt.Format(time.RFC3339),
	}
}
