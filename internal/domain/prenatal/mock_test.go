package prenatal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mchcare/mchcare/internal/domain/patient"
	"github.com/mchcare/mchcare/internal/platform/apperr"
)

type inTxKey struct{}

type fakeTx struct{ mu sync.Mutex }

func (t *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

type mockRecordRepo struct {
	records map[uuid.UUID]*Record
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[uuid.UUID]*Record)}
}

func (m *mockRecordRepo) Create(_ context.Context, r *Record) error {
	for _, other := range m.records {
		if other.PatientID == r.PatientID && other.Active() {
			return apperr.Conflict("patient already has an active prenatal record")
		}
	}
	r.ID = uuid.New()
	r.CreatedAt, r.UpdatedAt = time.Now(), time.Now()
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFound("prenatal record", id)
	}
	cp := *r
	return &cp, nil
}

func (m *mockRecordRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	if ctx.Value(inTxKey{}) == nil {
		return nil, fmt.Errorf("prenatal record GetForUpdate requires a transaction")
	}
	return m.GetByID(ctx, id)
}

func (m *mockRecordRepo) Update(_ context.Context, r *Record) error {
	if _, ok := m.records[r.ID]; !ok {
		return apperr.NotFound("prenatal record", r.ID)
	}
	cp := *r
	cp.Progress = nil
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRecordRepo) FindActive(_ context.Context, patientID uuid.UUID) (*Record, error) {
	for _, r := range m.records {
		if r.PatientID == patientID && r.Active() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Record, error) {
	var out []*Record
	for _, r := range m.records {
		if r.PatientID == patientID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockVisitRepo struct {
	visits map[uuid.UUID]*Visit
}

func newMockVisitRepo() *mockVisitRepo {
	return &mockVisitRepo{visits: make(map[uuid.UUID]*Visit)}
}

func (m *mockVisitRepo) CreatePending(_ context.Context, v *Visit) (bool, error) {
	for _, other := range m.visits {
		if other.CheckupID == v.CheckupID {
			return false, nil
		}
	}
	v.ID = uuid.New()
	v.CreatedAt, v.UpdatedAt = time.Now(), time.Now()
	cp := *v
	m.visits[v.ID] = &cp
	return true, nil
}

func (m *mockVisitRepo) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return nil, apperr.NotFound("prenatal checkup", id)
	}
	cp := *v
	return &cp, nil
}

func (m *mockVisitRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	if ctx.Value(inTxKey{}) == nil {
		return nil, fmt.Errorf("prenatal checkup GetForUpdate requires a transaction")
	}
	return m.GetByID(ctx, id)
}

func (m *mockVisitRepo) Update(_ context.Context, v *Visit) error {
	if _, ok := m.visits[v.ID]; !ok {
		return apperr.NotFound("prenatal checkup", v.ID)
	}
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m *mockVisitRepo) filter(keep func(*Visit) bool) []*Visit {
	var out []*Visit
	for _, v := range m.visits {
		if keep(v) {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out
}

func (m *mockVisitRepo) ListByCheckup(_ context.Context, checkupID uuid.UUID) ([]*Visit, error) {
	return m.filter(func(v *Visit) bool { return v.CheckupID == checkupID }), nil
}

func (m *mockVisitRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*Visit, error) {
	return m.filter(func(v *Visit) bool { return v.PrenatalRecordID != nil && *v.PrenatalRecordID == recordID }), nil
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

type fixture struct {
	records *mockRecordRepo
	visits  *mockVisitRepo
	svc     *Service
	patient *patient.Patient
	now     time.Time
}

func newFixture() *fixture {
	f := &fixture{
		records: newMockRecordRepo(),
		visits:  newMockVisitRepo(),
		now:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		patient: &patient.Patient{ID: uuid.New(), FirstName: "Joy", LastName: "Dela Cruz"},
	}
	dir := &mockDirectory{patients: map[uuid.UUID]*patient.Patient{f.patient.ID: f.patient}}
	f.svc = NewService(f.records, f.visits, dir, &fakeTx{})
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
