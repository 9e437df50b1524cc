/*
Package bloodbank provides the decision core of the blood-bank coordination
platform.

PURPOSE:
  Everything outside this package is record keeping: donors, hospitals and
  requests are stored and returned. This package holds the parts with real
  ordering rules and invariants:
  - AllocationEngine: spreads unit deltas across the lots of one blood type
  - TieredRouter: picks the hospital a donation offer goes to
  - OfferService: the pending -> confirmed/rejected/cancelled offer lifecycle
  - EligibilityGate: donor-initiated blood requests need a completed donation

KEY CONCEPTS IN THIS FILE (types.go):
  - BloodType: the 8-member ABO/Rh enumeration
  - InventoryLot: one batch of units at one location with its own expiry
  - DonationOffer: a donor's proposal to donate, routed to one hospital
  - BloodRequest: a hospital's or eligible donor's need for units

DESIGN PRINCIPLES:
  1. Collaborators are interfaces (store.go); engines own no storage
  2. Blood types are an exhaustive enum; strings are parsed once at the edge
  3. Engines never log or retry; every failure is returned to the caller

SEE ALSO:
  - allocation.go: FEFO ledger allocation
  - routing.go: Offer routing policy
  - offer.go: Offer state machine
  - eligibility.go: Donor request gate
*/
package bloodbank

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// BLOOD TYPE
// =============================================================================

// BloodType is one of the eight ABO/Rh groups.
type BloodType int

const (
	APositive BloodType = iota + 1
	ANegative
	BPositive
	BNegative
	ABPositive
	ABNegative
	OPositive
	ONegative
)

// AllBloodTypes lists every group in display order.
var AllBloodTypes = []BloodType{
	APositive, ANegative, BPositive, BNegative,
	ABPositive, ABNegative, OPositive, ONegative,
}

// ParseBloodType maps a short display form ("A+", "O-") onto the enum.
func ParseBloodType(s string) (BloodType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A+":
		return APositive, nil
	case "A-":
		return ANegative, nil
	case "B+":
		return BPositive, nil
	case "B-":
		return BNegative, nil
	case "AB+":
		return ABPositive, nil
	case "AB-":
		return ABNegative, nil
	case "O+":
		return OPositive, nil
	case "O-":
		return ONegative, nil
	}
	return 0, fmt.Errorf("%w: unknown blood type %q", ErrValidation, s)
}

// ParseBloodTypeCode maps a storage code ("A_POS") onto the enum.
func ParseBloodTypeCode(code string) (BloodType, error) {
	for _, bt := range AllBloodTypes {
		if bt.Code() == code {
			return bt, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown blood type code %q", ErrValidation, code)
}

// String returns the short display form.
func (b BloodType) String() string {
	switch b {
	case APositive:
		return "A+"
	case ANegative:
		return "A-"
	case BPositive:
		return "B+"
	case BNegative:
		return "B-"
	case ABPositive:
		return "AB+"
	case ABNegative:
		return "AB-"
	case OPositive:
		return "O+"
	case ONegative:
		return "O-"
	}
	return fmt.Sprintf("BloodType(%d)", int(b))
}

// Code returns the internal storage code.
func (b BloodType) Code() string {
	switch b {
	case APositive:
		return "A_POS"
	case ANegative:
		return "A_NEG"
	case BPositive:
		return "B_POS"
	case BNegative:
		return "B_NEG"
	case ABPositive:
		return "AB_POS"
	case ABNegative:
		return "AB_NEG"
	case OPositive:
		return "O_POS"
	case ONegative:
		return "O_NEG"
	}
	return ""
}

// Valid reports whether b is one of the eight groups.
func (b BloodType) Valid() bool {
	return b >= APositive && b <= ONegative
}

func (b BloodType) MarshalJSON() ([]byte, error) {
	if !b.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(b.String())
}

func (b *BloodType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: blood type must be a string", ErrValidation)
	}
	parsed, err := ParseBloodType(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// =============================================================================
// INVENTORY
// =============================================================================

// LowStockThreshold is the unit count under which a lot counts as low.
const LowStockThreshold = 20

// InventoryLot is one batch of units of a blood type at a storage location.
type InventoryLot struct {
	ID             int64
	BloodType      BloodType
	UnitsAvailable int
	Location       string
	ExpiryDate     time.Time
}

// Movement is the journal row written for every lot the engine changes.
type Movement struct {
	ID             string
	LotID          int64
	BloodType      BloodType
	Location       string
	Delta          int
	BalanceAfter   int
	IdempotencyKey string
	Reason         string
	CreatedAt      time.Time
}

// =============================================================================
// PARTIES
// =============================================================================

type Hospital struct {
	ID        int64
	FirstName string
	LastName  string
	Address   string
}

// DisplayName is the name used to key a hospital's own inventory lots.
func (h Hospital) DisplayName() string {
	return strings.TrimSpace(h.FirstName + " " + h.LastName)
}

type Donor struct {
	ID        int64
	FirstName string
	LastName  string
	BloodType BloodType
	Location  string
}

func (d Donor) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

type DonationStatus string

const (
	DonationScheduled DonationStatus = "scheduled"
	DonationCompleted DonationStatus = "completed"
	DonationCancelled DonationStatus = "cancelled"
)

// Donation is a donation event recorded by a hospital.
type Donation struct {
	ID         int64
	DonorID    int64
	HospitalID int64
	BloodType  BloodType
	Units      int
	Status     DonationStatus
	DonatedAt  time.Time
}

// =============================================================================
// DONATION OFFER
// =============================================================================

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferConfirmed OfferStatus = "confirmed"
	OfferRejected  OfferStatus = "rejected"
	OfferCancelled OfferStatus = "cancelled"
)

// AllOfferStatuses lists the statuses in lifecycle order.
var AllOfferStatuses = []OfferStatus{OfferPending, OfferConfirmed, OfferRejected, OfferCancelled}

// IsTerminal reports whether no transition may leave s.
func (s OfferStatus) IsTerminal() bool {
	return s == OfferConfirmed || s == OfferRejected || s == OfferCancelled
}

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferPending, OfferConfirmed, OfferRejected, OfferCancelled:
		return true
	}
	return false
}

// DonationOffer is a donor's proposal to donate.
// RoutedToID is fixed at creation; Version guards concurrent transitions.
type DonationOffer struct {
	ID            int64
	DonorID       int64
	BloodType     BloodType
	PreferredDate time.Time
	Location      string
	Notes         string
	Status        OfferStatus

	RoutedToID   *int64
	RoutedToName string
	RoutedBy     RouteTier

	AppointmentDate *time.Time
	HospitalNotes   string
	RejectionReason string

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OfferFilter narrows offer queries. Nil fields do not filter.
type OfferFilter struct {
	Status     *OfferStatus
	BloodType  *BloodType
	DonorID    *int64
	HospitalID *int64
	From       *time.Time // inclusive, on PreferredDate
	To         *time.Time // inclusive, on PreferredDate
}

// Matches reports whether o passes every set field of f.
func (f OfferFilter) Matches(o DonationOffer) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.BloodType != nil && o.BloodType != *f.BloodType {
		return false
	}
	if f.DonorID != nil && o.DonorID != *f.DonorID {
		return false
	}
	if f.HospitalID != nil && (o.RoutedToID == nil || *o.RoutedToID != *f.HospitalID) {
		return false
	}
	if f.From != nil && o.PreferredDate.Before(*f.From) {
		return false
	}
	if f.To != nil && o.PreferredDate.After(*f.To) {
		return false
	}
	return true
}

// =============================================================================
// BLOOD REQUEST
// =============================================================================

type RequestPriority string

const (
	PriorityLow      RequestPriority = "low"
	PriorityMedium   RequestPriority = "medium"
	PriorityHigh     RequestPriority = "high"
	PriorityCritical RequestPriority = "critical"
)

func (p RequestPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestFulfilled RequestStatus = "fulfilled"
)

// BloodRequest is a need for units raised by a hospital or an eligible donor.
type BloodRequest struct {
	ID               int64
	BloodGroup       BloodType
	UnitsRequested   int
	Priority         RequestPriority
	Status           RequestStatus
	RequestedByID    int64
	RequesterDonorID *int64
	PatientName      string
	PatientAge       int
	RequiredBy       time.Time
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
