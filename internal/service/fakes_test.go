package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/lab-booking-api/internal/models"
	"github.com/noah-isme/lab-booking-api/internal/repository"
)

// memoryBookings mirrors the store guarantees of BookingRepository: one
// occupying booking per slot, conditional replace and cascading waitlists.
type memoryBookings struct {
	mu      sync.Mutex
	rows    map[string]*models.Booking
	creates int

	// failAfter makes writes fail with failErr once that many writes succeeded.
	failAfter int
	failErr   error
	// createErr is returned by Create without touching the store.
	createErr error
}

func newMemoryBookings() *memoryBookings {
	return &memoryBookings{rows: make(map[string]*models.Booking), failAfter: -1}
}

func cloneBooking(b *models.Booking) *models.Booking {
	c := *b
	c.Waitlist = append([]models.WaitlistEntry{}, b.Waitlist...)
	return &c
}

func sameSlot(b *models.Booking, key models.SlotKey) bool {
	return b.LabCode == key.LabCode && b.Date.Equal(key.Date) && b.Period == key.Period
}

func (m *memoryBookings) occupant(key models.SlotKey) *models.Booking {
	for _, b := range m.rows {
		if b.Status.Occupying() && sameSlot(b, key) {
			return b
		}
	}
	return nil
}

func (m *memoryBookings) checkFailure() error {
	if m.failErr != nil && m.failAfter >= 0 && m.creates >= m.failAfter {
		return m.failErr
	}
	return nil
}

func (m *memoryBookings) insert(b *models.Booking) error {
	if b.Status.Occupying() && m.occupant(b.Key()) != nil {
		return repository.ErrSlotTaken
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Waitlist == nil {
		b.Waitlist = []models.WaitlistEntry{}
	}
	m.rows[b.ID] = cloneBooking(b)
	m.creates++
	return nil
}

// seed stores b directly, bypassing the failure switches.
func (m *memoryBookings) seed(b *models.Booking) *models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insert(b); err != nil {
		panic(err)
	}
	m.creates--
	return b
}

func (m *memoryBookings) FindByID(_ context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneBooking(b), nil
}

func (m *memoryBookings) FindActiveBySlot(_ context.Context, key models.SlotKey) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.occupant(key); b != nil {
		return cloneBooking(b), nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryBookings) ListActiveByLabDate(_ context.Context, labCode string, date time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.rows {
		if b.Status.Occupying() && b.LabCode == labCode && b.Date.Equal(date) {
			out = append(out, *cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func (m *memoryBookings) List(_ context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.rows {
		if filter.LabCode != "" && b.LabCode != filter.LabCode {
			continue
		}
		if filter.CreatedBy != "" && !b.OwnedBy(filter.CreatedBy) {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		if filter.From != nil && b.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && b.Date.After(*filter.To) {
			continue
		}
		out = append(out, *cloneBooking(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Period < out[j].Period
	})
	return out, len(out), nil
}

func (m *memoryBookings) Create(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if err := m.checkFailure(); err != nil {
		return err
	}
	return m.insert(b)
}

func (m *memoryBookings) Replace(_ context.Context, existingID string, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFailure(); err != nil {
		return err
	}
	old, ok := m.rows[existingID]
	if !ok || !old.Status.Occupying() {
		return repository.ErrSlotChanged
	}
	delete(m.rows, existingID)
	if err := m.insert(b); err != nil {
		m.rows[existingID] = old
		return err
	}
	return nil
}

func (m *memoryBookings) Transfer(_ context.Context, fromID string, b *models.Booking, promotedUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[fromID]
	if !ok || !old.Status.Occupying() {
		return repository.ErrSlotChanged
	}
	delete(m.rows, fromID)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	remaining := []models.WaitlistEntry{}
	for _, e := range old.Waitlist {
		if e.UserID == promotedUserID {
			continue
		}
		e.BookingID = b.ID
		remaining = append(remaining, e)
	}
	b.Waitlist = remaining
	if err := m.insert(b); err != nil {
		m.rows[fromID] = old
		return err
	}
	return nil
}

func (m *memoryBookings) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryBookings) UpdateStatus(_ context.Context, id string, from, to models.BookingStatus, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.Status != from {
		return repository.ErrStaleState
	}
	b.Status = to
	b.AdminReason = reason
	return nil
}

func (m *memoryBookings) AddWaitlistEntry(_ context.Context, entry *models.WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[entry.BookingID]
	if !ok {
		return sql.ErrNoRows
	}
	if b.Waitlisted(entry.UserID) {
		return repository.ErrDuplicateWaitlist
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	b.Waitlist = append(b.Waitlist, *entry)
	return nil
}

func (m *memoryBookings) RemoveWaitlistEntry(_ context.Context, bookingID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[bookingID]
	if !ok {
		return sql.ErrNoRows
	}
	for i, e := range b.Waitlist {
		if e.UserID == userID {
			b.Waitlist = append(b.Waitlist[:i], b.Waitlist[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryBookings) ListWaitlist(_ context.Context, bookingID string) ([]models.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[bookingID]
	if !ok {
		return []models.WaitlistEntry{}, nil
	}
	return append([]models.WaitlistEntry{}, b.Waitlist...), nil
}

func (m *memoryBookings) atSlot(key models.SlotKey) []models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.rows {
		if sameSlot(b, key) {
			out = append(out, *cloneBooking(b))
		}
	}
	return out
}

func (m *memoryBookings) approvedAt(key models.SlotKey) int {
	n := 0
	for _, b := range m.atSlot(key) {
		if b.Status == models.BookingApproved {
			n++
		}
	}
	return n
}

func (m *memoryBookings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memoryLabs struct {
	labs map[string]*models.Lab
	err  error
}

func (m *memoryLabs) FindByCode(_ context.Context, code string) (*models.Lab, error) {
	if m.err != nil {
		return nil, m.err
	}
	lab, ok := m.labs[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *lab
	return &c, nil
}

type memorySubjects map[string]models.Subject

func (m memorySubjects) FindByID(_ context.Context, id string) (*models.Subject, error) {
	s, ok := m[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

type memoryUsers map[string]models.User

func (m memoryUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (r *recordingAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.BookingEvent
}

func (r *recordingEvents) Publish(event models.BookingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) all() []models.BookingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.BookingEvent{}, r.events...)
}

type stubLocker struct {
	held    bool
	err     error
	locked  []string
	release []string
}

func (s *stubLocker) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.held {
		return false, nil
	}
	s.locked = append(s.locked, key)
	return true, nil
}

func (s *stubLocker) Unlock(_ context.Context, key string) error {
	s.release = append(s.release, key)
	return nil
}

var ist = time.FixedZone("IST", 5*3600+30*60)

// testNow is Monday 2025-05-19 09:00 in IST.
var testNow = time.Date(2025, 5, 19, 9, 0, 0, 0, ist)

func day(raw string) time.Time {
	d, err := models.ParseDate(raw)
	if err != nil {
		panic(err)
	}
	return d
}

type testEnv struct {
	bookings     *memoryBookings
	labs         *memoryLabs
	subjects     memorySubjects
	users        memoryUsers
	audit        *recordingAudit
	events       *recordingEvents
	locker       *stubLocker
	reservations *ReservationService
	waitlist     *WaitlistService
	batch        *BatchSchedulerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		bookings: newMemoryBookings(),
		labs: &memoryLabs{labs: map[string]*models.Lab{
			"CSE-1": {Code: "CSE-1", Name: "Systems Lab", Capacity: 60},
			"CSE-2": {Code: "CSE-2", Name: "Networks Lab", Capacity: 40},
		}},
		subjects: memorySubjects{"sub-os": {ID: "sub-os", Code: "CS301", Name: "Operating Systems"}},
		users: memoryUsers{
			"stu-1":   {ID: "stu-1", Email: "asha@example.com", FullName: "Asha", Role: models.RoleStudent, AccountStatus: models.AccountApproved},
			"stu-2":   {ID: "stu-2", Email: "bala@example.com", FullName: "Bala", Role: models.RoleStudent, AccountStatus: models.AccountApproved},
			"staff-1": {ID: "staff-1", Email: "ravi@example.com", FullName: "Ravi", Role: models.RoleStaff, AccountStatus: models.AccountApproved},
		},
		audit:  &recordingAudit{},
		events: &recordingEvents{},
		locker: &stubLocker{},
	}
	env.reservations = NewReservationService(env.bookings, env.labs, env.subjects, env.audit, env.events, nil, ReservationConfig{Location: ist}, nil, nil)
	env.reservations.now = func() time.Time { return testNow }
	env.waitlist = NewWaitlistService(env.bookings, env.labs, env.users, env.audit, env.events, nil, nil, nil)
	env.waitlist.now = func() time.Time { return testNow }
	env.batch = NewBatchSchedulerService(env.reservations, env.locker, env.audit, env.events, nil, BatchConfig{RecurrenceWeeks: 20, MaxSlots: 200}, nil, nil)
	return env
}

func student(id string) models.Identity {
	return models.Identity{UserID: id, Name: "Student " + id, Email: id + "@example.com", Role: models.RoleStudent, AccountStatus: models.AccountApproved}
}

func staff(id string) models.Identity {
	return models.Identity{UserID: id, Name: "Staff " + id, Email: id + "@example.com", Role: models.RoleStaff, AccountStatus: models.AccountApproved}
}

func admin(id string) models.Identity {
	return models.Identity{UserID: id, Name: "Admin " + id, Email: id + "@example.com", Role: models.RoleAdmin, AccountStatus: models.AccountApproved}
}

// seedBooking stores an occupying booking held by holder.
func (e *testEnv) seedBooking(holder models.Identity, key models.SlotKey, status models.BookingStatus) *models.Booking {
	owner := holder.UserID
	return e.bookings.seed(&models.Booking{
		LabCode:     key.LabCode,
		Date:        key.Date,
		Period:      key.Period,
		CreatedBy:   &owner,
		CreatorName: holder.Name,
		Role:        holder.Role,
		Type:        models.TypeRegular,
		Purpose:     "seeded",
		Status:      status,
		Priority:    holder.Role.Weight(),
	})
}
