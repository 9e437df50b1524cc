package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

// =============================================================================
// DONATION OFFERS (bloodbank.OfferRegistry)
// =============================================================================

const offerColumns = `id, donor_id, blood_type, preferred_date, location, notes, status,
	routed_to_id, routed_to_name, routed_by, appointment_date, hospital_notes,
	rejection_reason, version, created_at, updated_at`

// SaveOffer inserts an offer with ID 0 at version 1, or updates an offer
// whose stored version still equals offer.Version.
func (s *Store) SaveOffer(ctx context.Context, offer *bloodbank.DonationOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offer.ID == 0 {
		id, err := s.insertReturningID(ctx, s.db, `
			INSERT INTO donation_offers
			(donor_id, blood_type, preferred_date, location, notes, status,
			 routed_to_id, routed_to_name, routed_by, appointment_date, hospital_notes,
			 rejection_reason, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			offer.DonorID,
			offer.BloodType.Code(),
			formatTime(offer.PreferredDate),
			offer.Location,
			nullString(offer.Notes),
			string(offer.Status),
			nullInt64(offer.RoutedToID),
			nullString(offer.RoutedToName),
			nullString(string(offer.RoutedBy)),
			nullTime(offer.AppointmentDate),
			nullString(offer.HospitalNotes),
			nullString(offer.RejectionReason),
			formatTime(offer.CreatedAt),
			formatTime(offer.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert offer: %w", err)
		}
		offer.ID = id
		offer.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE donation_offers
		SET status = ?, appointment_date = ?, hospital_notes = ?, rejection_reason = ?,
		    notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`),
		string(offer.Status),
		nullTime(offer.AppointmentDate),
		nullString(offer.HospitalNotes),
		nullString(offer.RejectionReason),
		nullString(offer.Notes),
		formatTime(offer.UpdatedAt),
		offer.ID,
		offer.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var stored int
		err := s.db.QueryRowContext(ctx, s.rebind("SELECT version FROM donation_offers WHERE id = ?"), offer.ID).Scan(&stored)
		if errNoRows(err) {
			return fmt.Errorf("%w: donation offer %d", bloodbank.ErrNotFound, offer.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read offer version: %w", err)
		}
		return fmt.Errorf("%w: offer %d is at version %d, not %d",
			bloodbank.ErrConcurrentModification, offer.ID, stored, offer.Version)
	}
	offer.Version++
	return nil
}

func (s *Store) FindOfferByID(ctx context.Context, id int64) (*bloodbank.DonationOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offers, err := s.queryOffers(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, nil
	}
	return &offers[0], nil
}

// FindOffers returns offers matching every set filter field, newest first.
func (s *Store) FindOffers(ctx context.Context, filter bloodbank.OfferFilter) ([]bloodbank.DonationOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.BloodType != nil {
		where = append(where, "blood_type = ?")
		args = append(args, filter.BloodType.Code())
	}
	if filter.DonorID != nil {
		where = append(where, "donor_id = ?")
		args = append(args, *filter.DonorID)
	}
	if filter.HospitalID != nil {
		where = append(where, "routed_to_id = ?")
		args = append(args, *filter.HospitalID)
	}
	if filter.From != nil {
		where = append(where, "preferred_date >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "preferred_date <= ?")
		args = append(args, formatTime(*filter.To))
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	return s.queryOffers(ctx, clause+" ORDER BY id DESC", args...)
}

func (s *Store) CountOffersByStatus(ctx context.Context, status bloodbank.OfferStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM donation_offers WHERE status = ?"),
		string(status),
	).Scan(&count)
	return count, err
}

func (s *Store) queryOffers(ctx context.Context, clause string, args ...any) ([]bloodbank.DonationOffer, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+offerColumns+" FROM donation_offers "+clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	var out []bloodbank.DonationOffer
	for rows.Next() {
		var (
			o               bloodbank.DonationOffer
			code            string
			preferred       string
			notes           sql.NullString
			status          string
			routedToID      sql.NullInt64
			routedToName    sql.NullString
			routedBy        sql.NullString
			appointment     sql.NullString
			hospitalNotes   sql.NullString
			rejectionReason sql.NullString
			createdAt       string
			updatedAt       string
		)
		err := rows.Scan(
			&o.ID, &o.DonorID, &code, &preferred, &o.Location, &notes, &status,
			&routedToID, &routedToName, &routedBy, &appointment, &hospitalNotes,
			&rejectionReason, &o.Version, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		if o.BloodType, err = bloodbank.ParseBloodTypeCode(code); err != nil {
			return nil, err
		}
		o.PreferredDate = parseTime(preferred)
		o.Notes = notes.String
		o.Status = bloodbank.OfferStatus(status)
		if routedToID.Valid {
			id := routedToID.Int64
			o.RoutedToID = &id
		}
		o.RoutedToName = routedToName.String
		o.RoutedBy = bloodbank.RouteTier(routedBy.String)
		if appointment.Valid {
			at := parseTime(appointment.String)
			o.AppointmentDate = &at
		}
		o.HospitalNotes = hospitalNotes.String
		o.RejectionReason = rejectionReason.String
		o.CreatedAt = parseTime(createdAt)
		o.UpdatedAt = parseTime(updatedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// =============================================================================
// HOSPITALS AND DONORS
// =============================================================================

func (s *Store) SaveHospital(ctx context.Context, h *bloodbank.Hospital) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == 0 {
		id, err := s.insertReturningID(ctx, s.db,
			"INSERT INTO hospitals (first_name, last_name, address) VALUES (?, ?, ?)",
			h.FirstName, h.LastName, h.Address,
		)
		if err != nil {
			return fmt.Errorf("failed to insert hospital: %w", err)
		}
		h.ID = id
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE hospitals SET first_name = ?, last_name = ?, address = ? WHERE id = ?"),
		h.FirstName, h.LastName, h.Address, h.ID,
	)
	return err
}

// ListHospitals returns the roster in id order.
func (s *Store) ListHospitals(ctx context.Context) ([]bloodbank.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, first_name, last_name, address FROM hospitals ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query hospitals: %w", err)
	}
	defer rows.Close()

	var out []bloodbank.Hospital
	for rows.Next() {
		var h bloodbank.Hospital
		if err := rows.Scan(&h.ID, &h.FirstName, &h.LastName, &h.Address); err != nil {
			return nil, fmt.Errorf("failed to scan hospital: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// FindHospital returns nil, nil when id is unknown.
func (s *Store) FindHospital(ctx context.Context, id int64) (*bloodbank.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var h bloodbank.Hospital
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, first_name, last_name, address FROM hospitals WHERE id = ?"), id,
	).Scan(&h.ID, &h.FirstName, &h.LastName, &h.Address)
	if errNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hospital: %w", err)
	}
	return &h, nil
}

func (s *Store) SaveDonor(ctx context.Context, d *bloodbank.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == 0 {
		id, err := s.insertReturningID(ctx, s.db,
			"INSERT INTO donors (first_name, last_name, blood_type, location) VALUES (?, ?, ?, ?)",
			d.FirstName, d.LastName, d.BloodType.Code(), d.Location,
		)
		if err != nil {
			return fmt.Errorf("failed to insert donor: %w", err)
		}
		d.ID = id
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE donors SET first_name = ?, last_name = ?, blood_type = ?, location = ? WHERE id = ?"),
		d.FirstName, d.LastName, d.BloodType.Code(), d.Location, d.ID,
	)
	return err
}

func (s *Store) FindDonor(ctx context.Context, id int64) (*bloodbank.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	donors, err := s.queryDonors(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(donors) == 0 {
		return nil, nil
	}
	return &donors[0], nil
}

func (s *Store) ListDonors(ctx context.Context) ([]bloodbank.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDonors(ctx, "ORDER BY id")
}

func (s *Store) queryDonors(ctx context.Context, clause string, args ...any) ([]bloodbank.Donor, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT id, first_name, last_name, blood_type, location FROM donors "+clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query donors: %w", err)
	}
	defer rows.Close()

	var out []bloodbank.Donor
	for rows.Next() {
		var (
			d    bloodbank.Donor
			code string
		)
		if err := rows.Scan(&d.ID, &d.FirstName, &d.LastName, &code, &d.Location); err != nil {
			return nil, fmt.Errorf("failed to scan donor: %w", err)
		}
		if d.BloodType, err = bloodbank.ParseBloodTypeCode(code); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// DONATIONS (bloodbank.DonationHistory)
// =============================================================================

func (s *Store) SaveDonation(ctx context.Context, d *bloodbank.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.insertReturningID(ctx, s.db, `
		INSERT INTO donations (donor_id, hospital_id, blood_type, units, status, donated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.DonorID, d.HospitalID, d.BloodType.Code(), d.Units, string(d.Status), formatTime(d.DonatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert donation: %w", err)
	}
	d.ID = id
	return nil
}

func (s *Store) CountCompletedByDonor(ctx context.Context, donorID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM donations WHERE donor_id = ? AND status = ?"),
		donorID, string(bloodbank.DonationCompleted),
	).Scan(&count)
	return count, err
}

// =============================================================================
// BLOOD REQUESTS (bloodbank.BloodRequestStore)
// =============================================================================

const requestColumns = `id, blood_group, units_requested, priority, status, requested_by_id,
	requester_donor_id, patient_name, patient_age, required_by, notes, created_at, updated_at`

func (s *Store) SaveBloodRequest(ctx context.Context, r *bloodbank.BloodRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		id, err := s.insertReturningID(ctx, s.db, `
			INSERT INTO blood_requests
			(blood_group, units_requested, priority, status, requested_by_id, requester_donor_id,
			 patient_name, patient_age, required_by, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.BloodGroup.Code(),
			r.UnitsRequested,
			string(r.Priority),
			string(r.Status),
			r.RequestedByID,
			nullInt64(r.RequesterDonorID),
			r.PatientName,
			r.PatientAge,
			formatTime(r.RequiredBy),
			nullString(r.Notes),
			formatTime(r.CreatedAt),
			formatTime(r.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert blood request: %w", err)
		}
		r.ID = id
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE blood_requests
		SET priority = ?, status = ?, notes = ?, required_by = ?, updated_at = ?
		WHERE id = ?`),
		string(r.Priority), string(r.Status), nullString(r.Notes), formatTime(r.RequiredBy), formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update blood request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: blood request %d", bloodbank.ErrNotFound, r.ID)
	}
	return nil
}

func (s *Store) FindBloodRequest(ctx context.Context, id int64) (*bloodbank.BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reqs, err := s.queryBloodRequests(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return &reqs[0], nil
}

func (s *Store) ListBloodRequests(ctx context.Context, status *bloodbank.RequestStatus) ([]bloodbank.BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status != nil {
		return s.queryBloodRequests(ctx, "WHERE status = ? ORDER BY id", strings.ToLower(string(*status)))
	}
	return s.queryBloodRequests(ctx, "ORDER BY id")
}

func (s *Store) queryBloodRequests(ctx context.Context, clause string, args ...any) ([]bloodbank.BloodRequest, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+requestColumns+" FROM blood_requests "+clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blood requests: %w", err)
	}
	defer rows.Close()

	var out []bloodbank.BloodRequest
	for rows.Next() {
		var (
			r          bloodbank.BloodRequest
			code       string
			priority   string
			status     string
			donorID    sql.NullInt64
			requiredBy string
			notes      sql.NullString
			createdAt  string
			updatedAt  string
		)
		err := rows.Scan(
			&r.ID, &code, &r.UnitsRequested, &priority, &status, &r.RequestedByID,
			&donorID, &r.PatientName, &r.PatientAge, &requiredBy, &notes, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blood request: %w", err)
		}
		if r.BloodGroup, err = bloodbank.ParseBloodTypeCode(code); err != nil {
			return nil, err
		}
		r.Priority = bloodbank.RequestPriority(priority)
		r.Status = bloodbank.RequestStatus(status)
		if donorID.Valid {
			id := donorID.Int64
			r.RequesterDonorID = &id
		}
		r.RequiredBy = parseTime(requiredBy)
		r.Notes = notes.String
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
