// Package store provides in-memory implementations of the bloodbank
// collaborator interfaces.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lifeline/bloodbank-engine/bloodbank"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements every bloodbank store interface. Values are copied in
// and out, so callers never share state with the store.
type Memory struct {
	mu sync.RWMutex

	lots      map[int64]bloodbank.InventoryLot
	movements []bloodbank.Movement
	keys      map[string]bool

	offers    map[int64]bloodbank.DonationOffer
	hospitals map[int64]bloodbank.Hospital
	donors    map[int64]bloodbank.Donor
	donations map[int64]bloodbank.Donation
	requests  map[int64]bloodbank.BloodRequest

	nextID int64
}

var (
	_ bloodbank.LedgerStore       = (*Memory)(nil)
	_ bloodbank.LedgerStore       = (*txMemoryView)(nil)
	_ bloodbank.OfferRegistry     = (*Memory)(nil)
	_ bloodbank.DonationHistory   = (*Memory)(nil)
	_ bloodbank.HospitalDirectory = (*Memory)(nil)
	_ bloodbank.DonorDirectory    = (*Memory)(nil)
	_ bloodbank.BloodRequestStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		lots:      make(map[int64]bloodbank.InventoryLot),
		keys:      make(map[string]bool),
		offers:    make(map[int64]bloodbank.DonationOffer),
		hospitals: make(map[int64]bloodbank.Hospital),
		donors:    make(map[int64]bloodbank.Donor),
		donations: make(map[int64]bloodbank.Donation),
		requests:  make(map[int64]bloodbank.BloodRequest),
	}
}

func (m *Memory) newID() int64 {
	m.nextID++
	return m.nextID
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) FindLotsByBloodType(_ context.Context, bt bloodbank.BloodType) ([]bloodbank.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lotsByTypeLocked(bt), nil
}

func (m *Memory) FindAllOrderedByExpiry(_ context.Context, bt bloodbank.BloodType) ([]bloodbank.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lots := m.lotsByTypeLocked(bt)
	bloodbank.SortFEFO(lots)
	return lots, nil
}

func (m *Memory) FindLotByKey(_ context.Context, bt bloodbank.BloodType, location string) (*bloodbank.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lotByKeyLocked(bt, location), nil
}

func (m *Memory) FindLotByID(_ context.Context, id int64) (*bloodbank.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lot, ok := m.lots[id]
	if !ok {
		return nil, nil
	}
	return &lot, nil
}

func (m *Memory) ListLots(_ context.Context) ([]bloodbank.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bloodbank.InventoryLot, 0, len(m.lots))
	for _, lot := range m.lots {
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveLot(_ context.Context, lot *bloodbank.InventoryLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLotLocked(lot)
}

func (m *Memory) DeleteLot(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lots, id)
	return nil
}

func (m *Memory) AppendMovements(_ context.Context, movements []bloodbank.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendMovementsLocked(movements)
}

func (m *Memory) MovementExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[key], nil
}

// ListMovements returns the newest movements first.
func (m *Memory) ListMovements(_ context.Context, bt *bloodbank.BloodType, limit int) ([]bloodbank.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bloodbank.Movement
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if bt != nil && mv.BloodType != *bt {
			continue
		}
		out = append(out, mv)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// WithTx runs fn against a view that writes straight into m. If fn fails
// the state from before the call is restored.
func (m *Memory) WithTx(_ context.Context, fn func(bloodbank.LedgerStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *Memory) lotsByTypeLocked(bt bloodbank.BloodType) []bloodbank.InventoryLot {
	var out []bloodbank.InventoryLot
	for _, lot := range m.lots {
		if lot.BloodType == bt {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) lotByKeyLocked(bt bloodbank.BloodType, location string) *bloodbank.InventoryLot {
	for _, lot := range m.lots {
		if lot.BloodType == bt && lot.Location == location {
			found := lot
			return &found
		}
	}
	return nil
}

func (m *Memory) saveLotLocked(lot *bloodbank.InventoryLot) error {
	if lot.UnitsAvailable < 0 {
		return fmt.Errorf("%w: lot %d would go negative", bloodbank.ErrValidation, lot.ID)
	}
	if lot.ID == 0 {
		if m.lotByKeyLocked(lot.BloodType, lot.Location) != nil {
			return fmt.Errorf("%w: lot for %s at %q already exists", bloodbank.ErrConflict, lot.BloodType, lot.Location)
		}
		lot.ID = m.newID()
	} else if _, ok := m.lots[lot.ID]; !ok {
		return fmt.Errorf("%w: inventory lot %d", bloodbank.ErrNotFound, lot.ID)
	}
	m.lots[lot.ID] = *lot
	return nil
}

func (m *Memory) appendMovementsLocked(movements []bloodbank.Movement) error {
	for _, mv := range movements {
		if mv.IdempotencyKey != "" && m.keys[mv.IdempotencyKey] {
			return bloodbank.ErrDuplicateIdempotencyKey
		}
	}
	for _, mv := range movements {
		m.movements = append(m.movements, mv)
		if mv.IdempotencyKey != "" {
			m.keys[mv.IdempotencyKey] = true
		}
	}
	return nil
}

type memorySnapshot struct {
	lots      map[int64]bloodbank.InventoryLot
	movements []bloodbank.Movement
	keys      map[string]bool
	nextID    int64
}

func (m *Memory) snapshot() memorySnapshot {
	lots := make(map[int64]bloodbank.InventoryLot, len(m.lots))
	for k, v := range m.lots {
		lots[k] = v
	}
	keys := make(map[string]bool, len(m.keys))
	for k, v := range m.keys {
		keys[k] = v
	}
	return memorySnapshot{
		lots:      lots,
		movements: append([]bloodbank.Movement{}, m.movements...),
		keys:      keys,
		nextID:    m.nextID,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.lots = s.lots
	m.movements = s.movements
	m.keys = s.keys
	m.nextID = s.nextID
}

// txMemoryView is the LedgerStore handed to WithTx callbacks. The parent
// lock is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) FindLotsByBloodType(_ context.Context, bt bloodbank.BloodType) ([]bloodbank.InventoryLot, error) {
	return tv.parent.lotsByTypeLocked(bt), nil
}

func (tv *txMemoryView) FindAllOrderedByExpiry(_ context.Context, bt bloodbank.BloodType) ([]bloodbank.InventoryLot, error) {
	lots := tv.parent.lotsByTypeLocked(bt)
	bloodbank.SortFEFO(lots)
	return lots, nil
}

func (tv *txMemoryView) FindLotByKey(_ context.Context, bt bloodbank.BloodType, location string) (*bloodbank.InventoryLot, error) {
	return tv.parent.lotByKeyLocked(bt, location), nil
}

func (tv *txMemoryView) FindLotByID(_ context.Context, id int64) (*bloodbank.InventoryLot, error) {
	lot, ok := tv.parent.lots[id]
	if !ok {
		return nil, nil
	}
	return &lot, nil
}

func (tv *txMemoryView) ListLots(_ context.Context) ([]bloodbank.InventoryLot, error) {
	out := make([]bloodbank.InventoryLot, 0, len(tv.parent.lots))
	for _, lot := range tv.parent.lots {
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txMemoryView) SaveLot(_ context.Context, lot *bloodbank.InventoryLot) error {
	return tv.parent.saveLotLocked(lot)
}

func (tv *txMemoryView) DeleteLot(_ context.Context, id int64) error {
	delete(tv.parent.lots, id)
	return nil
}

func (tv *txMemoryView) AppendMovements(_ context.Context, movements []bloodbank.Movement) error {
	return tv.parent.appendMovementsLocked(movements)
}

func (tv *txMemoryView) MovementExists(_ context.Context, key string) (bool, error) {
	return tv.parent.keys[key], nil
}

func (tv *txMemoryView) ListMovements(_ context.Context, bt *bloodbank.BloodType, limit int) ([]bloodbank.Movement, error) {
	var out []bloodbank.Movement
	for i := len(tv.parent.movements) - 1; i >= 0; i-- {
		mv := tv.parent.movements[i]
		if bt != nil && mv.BloodType != *bt {
			continue
		}
		out = append(out, mv)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// WithTx on a view joins the enclosing transaction.
func (tv *txMemoryView) WithTx(_ context.Context, fn func(bloodbank.LedgerStore) error) error {
	return fn(tv)
}

// =============================================================================
// OFFER REGISTRY
// =============================================================================

func (m *Memory) SaveOffer(_ context.Context, offer *bloodbank.DonationOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offer.ID == 0 {
		offer.ID = m.newID()
		offer.Version = 1
		m.offers[offer.ID] = copyOffer(*offer)
		return nil
	}

	stored, ok := m.offers[offer.ID]
	if !ok {
		return fmt.Errorf("%w: donation offer %d", bloodbank.ErrNotFound, offer.ID)
	}
	if stored.Version != offer.Version {
		return fmt.Errorf("%w: offer %d is at version %d, not %d",
			bloodbank.ErrConcurrentModification, offer.ID, stored.Version, offer.Version)
	}
	offer.Version++
	m.offers[offer.ID] = copyOffer(*offer)
	return nil
}

func (m *Memory) FindOfferByID(_ context.Context, id int64) (*bloodbank.DonationOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, nil
	}
	o = copyOffer(o)
	return &o, nil
}

// FindOffers returns matching offers, newest first.
func (m *Memory) FindOffers(_ context.Context, filter bloodbank.OfferFilter) ([]bloodbank.DonationOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bloodbank.DonationOffer
	for _, o := range m.offers {
		if filter.Matches(o) {
			out = append(out, copyOffer(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) CountOffersByStatus(_ context.Context, status bloodbank.OfferStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.offers {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

func copyOffer(o bloodbank.DonationOffer) bloodbank.DonationOffer {
	if o.RoutedToID != nil {
		id := *o.RoutedToID
		o.RoutedToID = &id
	}
	if o.AppointmentDate != nil {
		at := *o.AppointmentDate
		o.AppointmentDate = &at
	}
	return o
}

// =============================================================================
// DIRECTORIES AND HISTORY
// =============================================================================

func (m *Memory) SaveHospital(_ context.Context, h *bloodbank.Hospital) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == 0 {
		h.ID = m.newID()
	}
	m.hospitals[h.ID] = *h
	return nil
}

// ListHospitals returns hospitals in roster order (id ascending).
func (m *Memory) ListHospitals(_ context.Context) ([]bloodbank.Hospital, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bloodbank.Hospital, 0, len(m.hospitals))
	for _, h := range m.hospitals {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveDonor(_ context.Context, d *bloodbank.Donor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		d.ID = m.newID()
	}
	m.donors[d.ID] = *d
	return nil
}

func (m *Memory) FindDonor(_ context.Context, id int64) (*bloodbank.Donor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.donors[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) SaveDonation(_ context.Context, d *bloodbank.Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		d.ID = m.newID()
	}
	m.donations[d.ID] = *d
	return nil
}

func (m *Memory) CountCompletedByDonor(_ context.Context, donorID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, d := range m.donations {
		if d.DonorID == donorID && d.Status == bloodbank.DonationCompleted {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// BLOOD REQUESTS
// =============================================================================

func (m *Memory) SaveBloodRequest(_ context.Context, r *bloodbank.BloodRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		r.ID = m.newID()
	} else if _, ok := m.requests[r.ID]; !ok {
		return fmt.Errorf("%w: blood request %d", bloodbank.ErrNotFound, r.ID)
	}
	stored := *r
	if r.RequesterDonorID != nil {
		id := *r.RequesterDonorID
		stored.RequesterDonorID = &id
	}
	m.requests[r.ID] = stored
	return nil
}

func (m *Memory) FindBloodRequest(_ context.Context, id int64) (*bloodbank.BloodRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListBloodRequests(_ context.Context, status *bloodbank.RequestStatus) ([]bloodbank.BloodRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bloodbank.BloodRequest
	for _, r := range m.requests {
		if status != nil && !strings.EqualFold(string(r.Status), string(*status)) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
