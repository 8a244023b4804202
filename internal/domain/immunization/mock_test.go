package immunization

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mchcare/mchcare/internal/domain/patient"
	"github.com/mchcare/mchcare/internal/domain/vaccine"
	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/notification"
)

type inTxKey struct{}

type snapshotter interface {
	snapshot() func()
}

// fakeTx serializes transactions and rolls back the registered stores when
// fn fails.
type fakeTx struct {
	mu     sync.Mutex
	stores []snapshotter
}

func (t *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var restores []func()
	for _, s := range t.stores {
		restores = append(restores, s.snapshot())
	}
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		for _, r := range restores {
			r()
		}
		return err
	}
	return nil
}

type mockRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Immunization
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Immunization)}
}

func (m *mockRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]Immunization, len(m.store))
	for id, im := range m.store {
		saved[id] = *im
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.store = make(map[uuid.UUID]*Immunization, len(saved))
		for id, im := range saved {
			im := im
			m.store[id] = &im
		}
	}
}

func (m *mockRepo) Create(_ context.Context, im *Immunization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	im.ID = uuid.New()
	im.CreatedAt, im.UpdatedAt = time.Now(), time.Now()
	cp := *im
	m.store[im.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Immunization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	im, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("immunization", id)
	}
	cp := *im
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Immunization, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, im *Immunization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[im.ID]; !ok {
		return apperr.NotFound("immunization", im.ID)
	}
	im.UpdatedAt = time.Now()
	cp := *im
	m.store[im.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("immunization", id)
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Immunization, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Immunization
	for _, im := range m.store {
		if f.ChildID != nil && im.ChildID != *f.ChildID {
			continue
		}
		if f.VaccineID != nil && (im.VaccineID == nil || *im.VaccineID != *f.VaccineID) {
			continue
		}
		if f.Status != "" && im.Status != f.Status {
			continue
		}
		cp := *im
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleDate.Before(out[j].ScheduleDate) })
	total := len(out)
	if limit <= 0 {
		return out, total, nil
	}
	if offset >= total {
		return []*Immunization{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

// mockStock mirrors the ledger: Consume fails without changing anything when
// stock would go negative.
type mockStock struct {
	mu       sync.Mutex
	vaccines map[uuid.UUID]*vaccine.Vaccine
	consumed []string
}

func newMockStock() *mockStock {
	return &mockStock{vaccines: make(map[uuid.UUID]*vaccine.Vaccine)}
}

func (m *mockStock) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock := make(map[uuid.UUID]int, len(m.vaccines))
	for id, v := range m.vaccines {
		stock[id] = v.CurrentStock
	}
	n := len(m.consumed)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for id, qty := range stock {
			m.vaccines[id].CurrentStock = qty
		}
		m.consumed = m.consumed[:n]
	}
}

func (m *mockStock) add(name string, stock int) *vaccine.Vaccine {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &vaccine.Vaccine{ID: uuid.New(), Name: name, Category: "routine", CurrentStock: stock, DoseCount: 1}
	m.vaccines[v.ID] = v
	return v
}

func (m *mockStock) level(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vaccines[id].CurrentStock
}

func (m *mockStock) GetVaccine(_ context.Context, id uuid.UUID) (*vaccine.Vaccine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaccines[id]
	if !ok {
		return nil, apperr.NotFound("vaccine", id)
	}
	cp := *v
	return &cp, nil
}

func (m *mockStock) Consume(_ context.Context, id uuid.UUID, qty int, reason string) (*vaccine.StockMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaccines[id]
	if !ok {
		return nil, apperr.NotFound("vaccine", id)
	}
	if v.CurrentStock < qty {
		return nil, &apperr.InsufficientStockError{VaccineID: id, VaccineName: v.Name, Available: v.CurrentStock, Requested: qty}
	}
	v.CurrentStock -= qty
	m.consumed = append(m.consumed, reason)
	return &vaccine.StockMovement{ID: uuid.New(), VaccineID: id, Quantity: -qty, BalanceAfter: v.CurrentStock, Reason: reason}, nil
}

type mockDirectory struct {
	children map[uuid.UUID]*patient.Child
}

func (m *mockDirectory) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	for _, c := range m.children {
		if c.Mother.ID == id {
			return c.Mother, nil
		}
	}
	return nil, apperr.NotFound("patient", id)
}

func (m *mockDirectory) GetChild(_ context.Context, id uuid.UUID) (*patient.Child, error) {
	c, ok := m.children[id]
	if !ok {
		return nil, apperr.NotFound("child record", id)
	}
	return c, nil
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
	stock     *mockStock
	dir       *mockDirectory
	publisher *mockPublisher
	svc       *Service
	child     *patient.Child
	today     time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		stock:     newMockStock(),
		publisher: &mockPublisher{},
		today:     time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	}
	mother := &patient.Patient{ID: uuid.New(), FirstName: "Maria", LastName: "Santos", ContactNumber: "09171234567"}
	f.child = &patient.Child{ID: uuid.New(), MotherID: mother.ID, FirstName: "Ana", LastName: "Santos", Mother: mother}
	f.dir = &mockDirectory{children: map[uuid.UUID]*patient.Child{f.child.ID: f.child}}

	tx := &fakeTx{stores: []snapshotter{f.repo, f.stock}}
	f.svc = NewService(f.repo, f.stock, f.dir, tx, f.publisher)
	f.svc.SetClock(func() time.Time { return f.today })
	return f
}

func (f *fixture) schedule(v *vaccine.Vaccine, dose string) *Immunization {
	im, err := f.svc.Create(context.Background(), CreateInput{
		ChildID:      f.child.ID,
		VaccineID:    v.ID,
		Dose:         dose,
		ScheduleDate: f.today,
	})
	if err != nil {
		panic(err)
	}
	return im
}
