package checkup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mchcare/mchcare/internal/domain/patient"
	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/notification"
)

var manila = time.FixedZone("PHT", 8*60*60)

type inTxKey struct{}

// fakeTx serializes transactions and restores the repo when fn fails.
type fakeTx struct {
	mu   sync.Mutex
	repo *mockRepo
}

func (t *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	restore := t.repo.snapshot()
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		restore()
		return err
	}
	return nil
}

// mockRepo also enforces the two partial unique indexes so tests notice a
// service that skips the guard.
type mockRepo struct {
	mu     sync.Mutex
	store  map[uuid.UUID]*Checkup
	locked []uuid.UUID
	// locks records "patient" and "row" acquisitions in order.
	locks []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Checkup)}
}

func (m *mockRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]Checkup, len(m.store))
	for id, c := range m.store {
		saved[id] = *c
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.store = make(map[uuid.UUID]*Checkup, len(saved))
		for id, c := range saved {
			c := c
			m.store[id] = &c
		}
	}
}

func (m *mockRepo) checkUnique(c *Checkup) error {
	for _, other := range m.store {
		if other.ID == c.ID || other.PatientID != c.PatientID {
			continue
		}
		if c.Status == StatusUpcoming && other.Status == StatusUpcoming {
			return upcomingConflict(other.Date, c.Date)
		}
		if c.Status == StatusDone && other.Status == StatusDone && sameDay(c.Date, other.Date) {
			return apperr.Conflict("a completed checkup already exists for this patient on %s", c.Date.Format(dateLayout))
		}
	}
	if c.Rescheduled && c.Status != StatusMissed {
		return apperr.Conflict("only missed checkups can be flagged as rescheduled")
	}
	return nil
}

func (m *mockRepo) Create(_ context.Context, c *Checkup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	if err := m.checkUnique(c); err != nil {
		return err
	}
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Checkup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("checkup", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Checkup, error) {
	if ctx.Value(inTxKey{}) == nil {
		return nil, fmt.Errorf("checkup GetForUpdate requires a transaction")
	}
	m.mu.Lock()
	m.locks = append(m.locks, "row")
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, c *Checkup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[c.ID]; !ok {
		return apperr.NotFound("checkup", c.ID)
	}
	if err := m.checkUnique(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("checkup", id)
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) FindUpcoming(_ context.Context, patientID uuid.UUID) (*Checkup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.store {
		if c.PatientID == patientID && c.Status == StatusUpcoming {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) FindByPatientDate(_ context.Context, patientID uuid.UUID, date time.Time, statuses ...string) ([]*Checkup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Checkup
	for _, c := range m.store {
		if c.PatientID != patientID || !sameDay(c.Date, date) {
			continue
		}
		match := len(statuses) == 0
		for _, s := range statuses {
			match = match || c.Status == s
		}
		if match {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) all(keep func(*Checkup) bool) []*Checkup {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Checkup
	for _, c := range m.store {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Checkup, int, error) {
	out := m.all(func(c *Checkup) bool {
		return (f.PatientID == nil || c.PatientID == *f.PatientID) &&
			(f.Status == "" || c.Status == f.Status) &&
			(f.Date == nil || sameDay(c.Date, *f.Date))
	})
	total := len(out)
	if offset >= total {
		return []*Checkup{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Checkup, error) {
	return m.all(func(c *Checkup) bool { return c.PatientID == patientID }), nil
}

func (m *mockRepo) MarkOverdueMissed(_ context.Context, day, now time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.store {
		if c.Status == StatusUpcoming && sameDay(c.Date, day) {
			at := now
			c.Status = StatusMissed
			c.AutoMissed = true
			c.MissedReason = reason
			c.MissedDate = &at
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) LockPatient(ctx context.Context, patientID uuid.UUID) error {
	if ctx.Value(inTxKey{}) == nil {
		return fmt.Errorf("checkup LockPatient requires a transaction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, patientID)
	m.locks = append(m.locks, "patient")
	return nil
}

func (m *mockRepo) count(status string) int {
	return len(m.all(func(c *Checkup) bool { return status == "" || c.Status == status }))
}

type mockDirectory struct {
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockDirectory) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	return p, nil
}

func (m *mockDirectory) GetChild(_ context.Context, id uuid.UUID) (*patient.Child, error) {
	return nil, apperr.NotFound("child record", id)
}

type pendingCall struct {
	checkupID, patientID uuid.UUID
}

type mockPending struct {
	calls  []pendingCall
	err    error
	owners map[uuid.UUID]uuid.UUID
}

func (m *mockPending) CheckOwner(_ context.Context, recordID, patientID uuid.UUID) error {
	owner, ok := m.owners[recordID]
	if !ok {
		return apperr.Validation("prenatal_record_id", "prenatal record does not exist")
	}
	if owner != patientID {
		return apperr.Validation("prenatal_record_id", "belongs to another patient")
	}
	return nil
}

func (m *mockPending) CreatePending(_ context.Context, checkupID, patientID uuid.UUID, _ *uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, pendingCall{checkupID, patientID})
	return nil
}

type mockPublisher struct {
	mu            sync.Mutex
	notifications []notification.Notification
	sms           []notification.SMS
}

func (m *mockPublisher) NotifyStaff(_ context.Context, n notification.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
}

func (m *mockPublisher) SendSMS(_ context.Context, msg notification.SMS) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sms = append(m.sms, msg)
}

type fixture struct {
	repo      *mockRepo
	pending   *mockPending
	publisher *mockPublisher
	dir       *mockDirectory
	svc       *Service
	patient   *patient.Patient
	now       time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		pending:   &mockPending{owners: make(map[uuid.UUID]uuid.UUID)},
		publisher: &mockPublisher{},
		now:       time.Date(2025, 6, 1, 10, 0, 0, 0, manila),
	}
	f.patient = &patient.Patient{ID: uuid.New(), FirstName: "Liza", LastName: "Reyes", ContactNumber: "09181234567"}
	f.dir = &mockDirectory{patients: map[uuid.UUID]*patient.Patient{f.patient.ID: f.patient}}
	f.svc = NewService(f.repo, f.dir, f.pending, &fakeTx{repo: f.repo}, f.publisher)
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) schedule(date time.Time) *Checkup {
	c, err := f.svc.Schedule(context.Background(), CreateInput{PatientID: f.patient.ID, Date: date, Time: "09:00"})
	if err != nil {
		panic(err)
	}
	return c
}

// missed schedules a checkup for today and marks it missed.
func (f *fixture) missed() *Checkup {
	c := f.schedule(f.now)
	got, err := f.svc.MarkMissed(context.Background(), c.ID, "")
	if err != nil {
		panic(err)
	}
	return got
}

func (f *fixture) addPatient(first string) *patient.Patient {
	p := &patient.Patient{ID: uuid.New(), FirstName: first, LastName: "Cruz", ContactNumber: "09170000000"}
	f.dir.patients[p.ID] = p
	return p
}

func intPtr(v int) *int { return &v }
