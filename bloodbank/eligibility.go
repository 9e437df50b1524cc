package bloodbank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRequiredWithin is how far ahead a donor request is needed when
// the donor does not say.
const DefaultRequiredWithin = 7 * 24 * time.Hour

// EligibilityGate decides whether a donor may request blood for themself.
// It reads only; it never writes.
type EligibilityGate struct {
	Donors  DonorDirectory
	History DonationHistory
}

// Check returns the donor profile when donorID has at least one completed
// donation.
func (g *EligibilityGate) Check(ctx context.Context, donorID int64) (donor *Donor, err error) {
	ctx, span := startSpan(ctx, "eligibility.check", trace.WithAttributes(
		attribute.Int64("donor_id", donorID),
	))
	defer func() { endSpan(span, err) }()

	donor, err = g.Donors.FindDonor(ctx, donorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load donor: %w", err)
	}
	if donor == nil {
		return nil, notFound("donor profile not found")
	}

	completed, err := g.History.CountCompletedByDonor(ctx, donorID)
	if err != nil {
		return nil, fmt.Errorf("failed to count donations: %w", err)
	}
	span.SetAttributes(attribute.Int("completed_donations", completed))
	if completed == 0 {
		return nil, fmt.Errorf("%w: only donors with at least one prior donation may request blood", ErrForbidden)
	}
	return donor, nil
}

// =============================================================================
// REQUEST SERVICE
// =============================================================================

// RequestService creates blood requests and advances their status.
type RequestService struct {
	Requests BloodRequestStore
	Gate     *EligibilityGate
	Now      func() time.Time
}

// BloodRequestInput is the caller-supplied part of a request.
type BloodRequestInput struct {
	BloodGroup     BloodType
	UnitsRequested int
	Priority       RequestPriority // hospital requests only
	PatientName    string          // hospital requests only
	PatientAge     int             // hospital requests only
	RequiredBy     *time.Time
	Notes          string
}

// CreateDonorBloodRequest raises a request in the donor's own name. The
// donor is the patient, so patient fields get placeholders and priority is
// always high.
func (s *RequestService) CreateDonorBloodRequest(ctx context.Context, donorID int64, in BloodRequestInput) (*BloodRequest, error) {
	if err := validateRequestInput(in); err != nil {
		return nil, err
	}

	donor, err := s.Gate.Check(ctx, donorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	requiredBy := now.Add(DefaultRequiredWithin)
	if in.RequiredBy != nil {
		requiredBy = *in.RequiredBy
	}
	id := donorID
	req := &BloodRequest{
		BloodGroup:       in.BloodGroup,
		UnitsRequested:   in.UnitsRequested,
		Priority:         PriorityHigh,
		Status:           RequestPending,
		RequestedByID:    donorID,
		RequesterDonorID: &id,
		PatientName:      fmt.Sprintf("Self (%s)", donor.FullName()),
		PatientAge:       0,
		RequiredBy:       requiredBy,
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Requests.SaveBloodRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save blood request: %w", err)
	}
	return req, nil
}

// CreateHospitalBloodRequest raises a request on behalf of a hospital's patient.
func (s *RequestService) CreateHospitalBloodRequest(ctx context.Context, hospitalID int64, in BloodRequestInput) (*BloodRequest, error) {
	if err := validateRequestInput(in); err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, invalid("unknown priority %q", in.Priority)
	}
	if strings.TrimSpace(in.PatientName) == "" {
		return nil, invalid("patient name is required")
	}
	if in.PatientAge < 0 {
		return nil, invalid("patient age cannot be negative")
	}

	now := s.now()
	requiredBy := now.Add(DefaultRequiredWithin)
	if in.RequiredBy != nil {
		requiredBy = *in.RequiredBy
	}
	req := &BloodRequest{
		BloodGroup:     in.BloodGroup,
		UnitsRequested: in.UnitsRequested,
		Priority:       in.Priority,
		Status:         RequestPending,
		RequestedByID:  hospitalID,
		PatientName:    strings.TrimSpace(in.PatientName),
		PatientAge:     in.PatientAge,
		RequiredBy:     requiredBy,
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Requests.SaveBloodRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save blood request: %w", err)
	}
	return req, nil
}

// requestTransitions lists the statuses an administrator may move to.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:  {RequestApproved, RequestRejected},
	RequestApproved: {RequestFulfilled},
}

// AdvanceStatus moves a request along pending -> approved -> fulfilled or
// pending -> rejected.
func (s *RequestService) AdvanceStatus(ctx context.Context, requestID int64, to RequestStatus) (*BloodRequest, error) {
	req, err := s.Requests.FindBloodRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blood request: %w", err)
	}
	if req == nil {
		return nil, notFound(fmt.Sprintf("blood request %d", requestID))
	}

	allowed := false
	for _, next := range requestTransitions[req.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &InvalidStateError{
			Action:  "move to " + string(to),
			Want:    "requests in an earlier state",
			Current: string(req.Status),
		}
	}

	req.Status = to
	req.UpdatedAt = s.now()
	if err := s.Requests.SaveBloodRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save blood request: %w", err)
	}
	return req, nil
}

func (s *RequestService) ListBloodRequests(ctx context.Context, status *RequestStatus) ([]BloodRequest, error) {
	return s.Requests.ListBloodRequests(ctx, status)
}

func validateRequestInput(in BloodRequestInput) error {
	if !in.BloodGroup.Valid() {
		return invalid("blood group is required")
	}
	if in.UnitsRequested <= 0 {
		return invalid("units requested must be positive")
	}
	return nil
}

func (s *RequestService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
