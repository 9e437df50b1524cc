/*
store.go - Collaborator contracts between the engines and persistence

PURPOSE:
  The engines own no storage. Each one is handed the narrow interfaces it
  reads and writes through, and the composition root (cmd/server) decides
  which implementation backs them.

KEY INTERFACES:
  LedgerStore:       Inventory lots and their movement journal
  OfferRegistry:     Donation offers
  DonationHistory:   Completed-donation counts per donor
  HospitalDirectory: The hospital roster, in roster order
  DonorDirectory:    Donor profiles
  BloodRequestStore: Blood requests

TRANSACTIONS:
  LedgerStore.WithTx runs fn against a transactional view. If fn returns an
  error nothing fn wrote is kept. The allocation engine routes every lot
  update and journal row of one delta through a single WithTx call.

NOT FOUND CONVENTION:
  Single-entity finders return (nil, nil) when nothing matches, the same
  as the store getters they are modelled on. Engines turn nil into
  ErrNotFound with context.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite and PostgreSQL
  - bloodbank/store: in-memory, for tests and dev
*/
package bloodbank

import "context"

// LedgerStore persists inventory lots.
type LedgerStore interface {
	FindLotsByBloodType(ctx context.Context, bt BloodType) ([]InventoryLot, error)

	// FindAllOrderedByExpiry returns the lots for bt ordered by expiry date
	// ascending, ties broken by id ascending.
	FindAllOrderedByExpiry(ctx context.Context, bt BloodType) ([]InventoryLot, error)

	FindLotByKey(ctx context.Context, bt BloodType, location string) (*InventoryLot, error)
	FindLotByID(ctx context.Context, id int64) (*InventoryLot, error)
	ListLots(ctx context.Context) ([]InventoryLot, error)

	// SaveLot inserts a lot with ID 0 (assigning its ID) or updates an
	// existing one. An insert that duplicates (blood type, location)
	// returns ErrConflict.
	SaveLot(ctx context.Context, lot *InventoryLot) error
	DeleteLot(ctx context.Context, id int64) error

	AppendMovements(ctx context.Context, movements []Movement) error
	MovementExists(ctx context.Context, idempotencyKey string) (bool, error)
	ListMovements(ctx context.Context, bt *BloodType, limit int) ([]Movement, error)

	WithTx(ctx context.Context, fn func(LedgerStore) error) error
}

// OfferRegistry persists donation offers.
type OfferRegistry interface {
	// SaveOffer inserts an offer with ID 0, or updates one whose stored
	// Version equals offer.Version. On success offer.Version is incremented.
	// A version mismatch returns ErrConcurrentModification.
	SaveOffer(ctx context.Context, offer *DonationOffer) error
	FindOfferByID(ctx context.Context, id int64) (*DonationOffer, error)
	FindOffers(ctx context.Context, filter OfferFilter) ([]DonationOffer, error)
	CountOffersByStatus(ctx context.Context, status OfferStatus) (int, error)
}

// DonationHistory answers the eligibility gate's single question.
type DonationHistory interface {
	CountCompletedByDonor(ctx context.Context, donorID int64) (int, error)
}

// HospitalDirectory lists hospitals in roster order (id ascending).
type HospitalDirectory interface {
	ListHospitals(ctx context.Context) ([]Hospital, error)
}

type DonorDirectory interface {
	FindDonor(ctx context.Context, donorID int64) (*Donor, error)
}

type BloodRequestStore interface {
	SaveBloodRequest(ctx context.Context, req *BloodRequest) error
	FindBloodRequest(ctx context.Context, id int64) (*BloodRequest, error)
	ListBloodRequests(ctx context.Context, status *RequestStatus) ([]BloodRequest, error)
}
