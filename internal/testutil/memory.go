package testutil

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/marketplace-settlement/internal/domain"
)

// Faults injects failures into the in-memory stores. Ops are named
// "get", "cas:<next status>", "append:<entry kind>", "create", "list",
// "complete" and "clear".
type Faults struct {
	fmu    sync.Mutex
	errs   map[string]error
	stalls map[string]bool
	before map[string]func()
	acks   map[string]error
}

// Fail makes every later call of op return err.
func (f *Faults) Fail(op string, err error) {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[op] = err
}

// Stall makes op block until its context is done.
func (f *Faults) Stall(op string) {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	if f.stalls == nil {
		f.stalls = make(map[string]bool)
	}
	f.stalls[op] = true
}

// Before runs fn once, ahead of the next call of op.
func (f *Faults) Before(op string, fn func()) {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	if f.before == nil {
		f.before = make(map[string]func())
	}
	f.before[op] = fn
}

// FailAfterWrite makes the next call of op apply its write and then
// return err, like a commit whose acknowledgement is lost.
func (f *Faults) FailAfterWrite(op string, err error) {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	if f.acks == nil {
		f.acks = make(map[string]error)
	}
	f.acks[op] = err
}

// Reset clears every injected fault.
func (f *Faults) Reset() {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	f.errs, f.stalls, f.before, f.acks = nil, nil, nil, nil
}

func (f *Faults) ack(op string) error {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	err := f.acks[op]
	delete(f.acks, op)
	return err
}

func (f *Faults) check(ctx context.Context, op string) error {
	f.fmu.Lock()
	err, stall, hook := f.errs[op], f.stalls[op], f.before[op]
	delete(f.before, op)
	f.fmu.Unlock()

	if hook != nil {
		hook()
	}
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

type MemAccounts struct {
	Faults
	mu   sync.Mutex
	rows map[string]domain.Account
}

func NewMemAccounts(accounts ...*domain.Account) *MemAccounts {
	m := &MemAccounts{rows: make(map[string]domain.Account)}
	for _, a := range accounts {
		m.rows[a.ID] = *a
	}
	return m
}

func (m *MemAccounts) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if err := m.check(ctx, "get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

type MemLedger struct {
	Faults
	mu      sync.Mutex
	entries map[uuid.UUID]domain.LedgerEntry
	order   []uuid.UUID
}

func NewMemLedger() *MemLedger {
	return &MemLedger{entries: make(map[uuid.UUID]domain.LedgerEntry)}
}

func (m *MemLedger) Append(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	if err := m.check(ctx, "append:"+string(entry.Kind)); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; ok {
		return false, nil
	}
	m.entries[entry.ID] = *entry
	m.order = append(m.order, entry.ID)
	return true, nil
}

func (m *MemLedger) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	if err := m.check(ctx, "get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

// Seed stores entry as if an earlier run had written it.
func (m *MemLedger) Seed(entry *domain.LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; !ok {
		m.order = append(m.order, entry.ID)
	}
	m.entries[entry.ID] = *entry
}

func (m *MemLedger) GetBySource(ctx context.Context, kind domain.TransactableKind, sourceID string) ([]domain.LedgerEntry, error) {
	if err := m.check(ctx, "list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerEntry
	for _, id := range m.order {
		e := m.entries[id]
		if e.SourceKind == kind && e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemLedger) GetByAccountID(ctx context.Context, accountID string, limit, offset int) ([]domain.LedgerEntry, int, error) {
	if err := m.check(ctx, "list"); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.LedgerEntry
	for _, id := range m.order {
		if e := m.entries[id]; e.AccountID == accountID {
			all = append(all, e)
		}
	}
	total := len(all)
	if offset >= total {
		return []domain.LedgerEntry{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

// All returns every entry in append order.
func (m *MemLedger) All() []domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LedgerEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}

type MemEvents struct {
	Faults
	mu     sync.Mutex
	events []domain.SettlementEvent
}

func (m *MemEvents) Create(ctx context.Context, event *domain.SettlementEvent) error {
	if err := m.check(ctx, "create"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.SourceKind == event.SourceKind && e.SourceID == event.SourceID && e.EventType == event.EventType {
			return nil
		}
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *MemEvents) GetBySource(ctx context.Context, kind domain.TransactableKind, sourceID string) ([]domain.SettlementEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SettlementEvent
	for _, e := range m.events {
		if e.SourceKind == kind && e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Types returns the recorded event types for one source, in order.
func (m *MemEvents) Types(kind domain.TransactableKind, sourceID string) []domain.SettlementEventType {
	events, _ := m.GetBySource(context.Background(), kind, sourceID)
	types := make([]domain.SettlementEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

// statusRows is the shared body of the in-memory transactable stores.
type statusRows[T any, S ~string] struct {
	Faults
	mu         sync.Mutex
	rows       map[string]*T
	status     func(*T) *S
	settlement func(*T) **domain.SettlementFields
	touched    map[string]time.Time
}

func (s *statusRows[T, S]) get(ctx context.Context, id string) (*T, error) {
	if err := s.check(ctx, "get"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *statusRows[T, S]) compareAndSet(ctx context.Context, id string, expected, next S, fields *domain.SettlementFields) (bool, error) {
	op := "cas:" + string(next)
	if err := s.check(ctx, op); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || *s.status(row) != expected {
		return false, nil
	}
	*s.status(row) = next
	if settled := s.settlement(row); fields != nil && *settled == nil {
		f := *fields
		*settled = &f
	}
	if err := s.ack(op); err != nil {
		return false, err
	}
	return true, nil
}

// SetStatus overwrites a row's status, as another writer would.
func (s *statusRows[T, S]) SetStatus(id string, status S) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.status(s.rows[id]) = status
}

func (s *statusRows[T, S]) Status(id string) S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.status(s.rows[id])
}

// MarkStuck records that id gained ledger entries at t.
func (s *statusRows[T, S]) MarkStuck(id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[id] = t
}

func (s *statusRows[T, S]) listStuck(ctx context.Context, statuses []S, cutoff time.Time, limit int) ([]string, error) {
	if err := s.check(ctx, "list"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, at := range s.touched {
		if at.Before(cutoff) && slices.Contains(statuses, *s.status(s.rows[id])) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type MemJobs struct {
	statusRows[domain.Job, domain.JobStatus]
}

func NewMemJobs(jobs ...*domain.Job) *MemJobs {
	m := &MemJobs{statusRows[domain.Job, domain.JobStatus]{
		rows:       make(map[string]*domain.Job),
		status:     func(j *domain.Job) *domain.JobStatus { return &j.Status },
		settlement: func(j *domain.Job) **domain.SettlementFields { return &j.Settlement },
		touched:    make(map[string]time.Time),
	}}
	for _, j := range jobs {
		cp := *j
		m.rows[j.ID] = &cp
	}
	return m
}

func (m *MemJobs) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	return m.get(ctx, id)
}

func (m *MemJobs) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.JobStatus, fields *domain.SettlementFields) (bool, error) {
	return m.compareAndSet(ctx, id, expected, next, fields)
}

func (m *MemJobs) ListStuck(ctx context.Context, statuses []domain.JobStatus, cutoff time.Time, limit int) ([]string, error) {
	return m.listStuck(ctx, statuses, cutoff, limit)
}

type MemProductDeals struct {
	statusRows[domain.ProductDeal, domain.ProductDealStatus]
}

func NewMemProductDeals(deals ...*domain.ProductDeal) *MemProductDeals {
	m := &MemProductDeals{statusRows[domain.ProductDeal, domain.ProductDealStatus]{
		rows:       make(map[string]*domain.ProductDeal),
		status:     func(d *domain.ProductDeal) *domain.ProductDealStatus { return &d.Status },
		settlement: func(d *domain.ProductDeal) **domain.SettlementFields { return &d.Settlement },
		touched:    make(map[string]time.Time),
	}}
	for _, d := range deals {
		cp := *d
		m.rows[d.ID] = &cp
	}
	return m
}

func (m *MemProductDeals) GetByID(ctx context.Context, id string) (*domain.ProductDeal, error) {
	return m.get(ctx, id)
}

func (m *MemProductDeals) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ProductDealStatus, fields *domain.SettlementFields) (bool, error) {
	return m.compareAndSet(ctx, id, expected, next, fields)
}

func (m *MemProductDeals) ListStuck(ctx context.Context, statuses []domain.ProductDealStatus, cutoff time.Time, limit int) ([]string, error) {
	return m.listStuck(ctx, statuses, cutoff, limit)
}

type MemToolRentals struct {
	statusRows[domain.ToolRental, domain.ToolRentalStatus]
}

func NewMemToolRentals(rentals ...*domain.ToolRental) *MemToolRentals {
	m := &MemToolRentals{statusRows[domain.ToolRental, domain.ToolRentalStatus]{
		rows:       make(map[string]*domain.ToolRental),
		status:     func(r *domain.ToolRental) *domain.ToolRentalStatus { return &r.Status },
		settlement: func(r *domain.ToolRental) **domain.SettlementFields { return &r.Settlement },
		touched:    make(map[string]time.Time),
	}}
	for _, r := range rentals {
		cp := *r
		m.rows[r.ID] = &cp
	}
	return m
}

func (m *MemToolRentals) GetByID(ctx context.Context, id string) (*domain.ToolRental, error) {
	return m.get(ctx, id)
}

func (m *MemToolRentals) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ToolRentalStatus, fields *domain.SettlementFields) (bool, error) {
	return m.compareAndSet(ctx, id, expected, next, fields)
}

func (m *MemToolRentals) ListStuck(ctx context.Context, statuses []domain.ToolRentalStatus, cutoff time.Time, limit int) ([]string, error) {
	return m.listStuck(ctx, statuses, cutoff, limit)
}

type MemAgreements struct {
	Faults
	mu   sync.Mutex
	rows map[string]domain.AgreementStatus
}

func NewMemAgreements() *MemAgreements {
	return &MemAgreements{rows: make(map[string]domain.AgreementStatus)}
}

func (m *MemAgreements) Put(jobID string, status domain.AgreementStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[jobID] = status
}

func (m *MemAgreements) Status(jobID string) domain.AgreementStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[jobID]
}

func (m *MemAgreements) CompleteIfActive(ctx context.Context, jobID string) (bool, error) {
	if err := m.check(ctx, "complete"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[jobID] != domain.AgreementStatusActive {
		return false, nil
	}
	m.rows[jobID] = domain.AgreementStatusCompleted
	return true, nil
}

type MemProducts struct {
	Faults
	mu   sync.Mutex
	rows map[string]domain.Product
}

func NewMemProducts(products ...*domain.Product) *MemProducts {
	m := &MemProducts{rows: make(map[string]domain.Product)}
	for _, p := range products {
		m.rows[p.ID] = *p
	}
	return m
}

func (m *MemProducts) Get(id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *MemProducts) ClearReservation(ctx context.Context, productID, dealID string) (bool, error) {
	if err := m.check(ctx, "clear"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[productID]
	if !ok || p.ActiveDealID == nil || *p.ActiveDealID != dealID {
		return false, nil
	}
	p.Reserved = false
	p.ActiveDealID = nil
	m.rows[productID] = p
	return true, nil
}
