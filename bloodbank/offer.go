/*
offer.go - Donation offer lifecycle

STATE MACHINE:

  ┌─────────┐  confirm (routed hospital)   ┌───────────┐
  │ pending │ ───────────────────────────▶ │ confirmed │
  └─────────┘                              └───────────┘
       │  reject (routed hospital)         ┌───────────┐
       ├─────────────────────────────────▶ │ rejected  │
       │                                   └───────────┘
       │  cancel (owning donor)            ┌───────────┐
       └─────────────────────────────────▶ │ cancelled │
                                           └───────────┘

  Every non-pending state is terminal. A transition from any other
  state fails with InvalidStateError.

OWNERSHIP:
  Offers are looked up by (id, acting party). An offer routed to another
  hospital, or created by another donor, is reported as ErrNotFound so
  callers cannot discover ids they do not own.

CONCURRENCY:
  SaveOffer carries the version read at the start of the transition. If
  another transition committed first the save fails with
  ErrConcurrentModification and the offer keeps the winner's state.
*/
package bloodbank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OfferService creates, routes and transitions donation offers.
type OfferService struct {
	Offers    OfferRegistry
	Hospitals HospitalDirectory
	Router    RoutingStrategy
	Now       func() time.Time
}

// OfferInput is what a donor submits.
type OfferInput struct {
	BloodType     BloodType
	PreferredDate time.Time
	Location      string
	Notes         string
}

// CreateOffer routes and stores a new pending offer for donorID.
func (s *OfferService) CreateOffer(ctx context.Context, donorID int64, in OfferInput) (offer *DonationOffer, err error) {
	ctx, span := startSpan(ctx, "offers.create", trace.WithAttributes(
		attribute.Int64("donor_id", donorID),
	))
	defer func() { endSpan(span, err) }()

	in.Location = strings.TrimSpace(in.Location)
	switch {
	case !in.BloodType.Valid():
		return nil, invalid("blood type is required")
	case in.PreferredDate.IsZero():
		return nil, invalid("preferred date is required")
	case in.Location == "":
		return nil, invalid("location is required")
	}

	hospitals, err := s.Hospitals.ListHospitals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list hospitals: %w", err)
	}

	now := s.now()
	offer = &DonationOffer{
		DonorID:       donorID,
		BloodType:     in.BloodType,
		PreferredDate: in.PreferredDate,
		Location:      in.Location,
		Notes:         in.Notes,
		Status:        OfferPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	route, ok, err := s.Router.Route(ctx, in.Location, in.BloodType, hospitals)
	if err != nil {
		return nil, fmt.Errorf("failed to route offer: %w", err)
	}
	if ok {
		id := route.HospitalID
		offer.RoutedToID = &id
		offer.RoutedToName = route.DisplayName
		offer.RoutedBy = route.Tier
	}

	if err := s.Offers.SaveOffer(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to save offer: %w", err)
	}
	return offer, nil
}

// Confirm books the donation. Only the hospital the offer was routed to may
// confirm it.
func (s *OfferService) Confirm(ctx context.Context, hospitalID, offerID int64, appointment time.Time, hospitalNotes string) (*DonationOffer, error) {
	return s.transition(ctx, "confirm", offerID, routedTo(hospitalID), func(o *DonationOffer) error {
		if appointment.IsZero() {
			return invalid("appointment date is required")
		}
		o.Status = OfferConfirmed
		o.AppointmentDate = &appointment
		o.HospitalNotes = hospitalNotes
		return nil
	})
}

// Reject declines the offer with a mandatory reason.
func (s *OfferService) Reject(ctx context.Context, hospitalID, offerID int64, reason string) (*DonationOffer, error) {
	return s.transition(ctx, "reject", offerID, routedTo(hospitalID), func(o *DonationOffer) error {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return invalid("rejection reason is required")
		}
		o.Status = OfferRejected
		o.RejectionReason = reason
		return nil
	})
}

// Cancel withdraws the offer on behalf of the donor who made it.
func (s *OfferService) Cancel(ctx context.Context, donorID, offerID int64) (*DonationOffer, error) {
	return s.transition(ctx, "cancel", offerID, ownedBy(donorID), func(o *DonationOffer) error {
		o.Status = OfferCancelled
		return nil
	})
}

func (s *OfferService) transition(
	ctx context.Context,
	action string,
	offerID int64,
	visible func(*DonationOffer) bool,
	apply func(*DonationOffer) error,
) (offer *DonationOffer, err error) {
	ctx, span := startSpan(ctx, "offers."+action, trace.WithAttributes(
		attribute.Int64("offer_id", offerID),
	))
	defer func() { endSpan(span, err) }()

	offer, err = s.Offers.FindOfferByID(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load offer: %w", err)
	}
	if offer == nil || !visible(offer) {
		return nil, notFound(fmt.Sprintf("donation offer %d", offerID))
	}
	if offer.Status != OfferPending {
		return nil, &InvalidStateError{Action: action, Want: "pending offers", Current: string(offer.Status)}
	}

	if err := apply(offer); err != nil {
		return nil, err
	}
	offer.UpdatedAt = s.now()

	if err := s.Offers.SaveOffer(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to %s offer %d: %w", action, offerID, err)
	}
	return offer, nil
}

func routedTo(hospitalID int64) func(*DonationOffer) bool {
	return func(o *DonationOffer) bool {
		return o.RoutedToID != nil && *o.RoutedToID == hospitalID
	}
}

func ownedBy(donorID int64) func(*DonationOffer) bool {
	return func(o *DonationOffer) bool {
		return o.DonorID == donorID
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *OfferService) ListOffers(ctx context.Context, filter OfferFilter) ([]DonationOffer, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalid("unknown offer status %q", *filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalid("date range end is before start")
	}
	return s.Offers.FindOffers(ctx, filter)
}

func (s *OfferService) CountByStatus(ctx context.Context, status OfferStatus) (int, error) {
	if !status.Valid() {
		return 0, invalid("unknown offer status %q", status)
	}
	return s.Offers.CountOffersByStatus(ctx, status)
}

// StatusSummary counts offers in every status, for dashboards.
func (s *OfferService) StatusSummary(ctx context.Context) (map[OfferStatus]int, error) {
	out := make(map[OfferStatus]int, len(AllOfferStatuses))
	for _, st := range AllOfferStatuses {
		n, err := s.Offers.CountOffersByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, nil
}

func (s *OfferService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
