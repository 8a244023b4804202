package vaccine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mchcare/mchcare/internal/platform/apperr"
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

type mockVaccineRepo struct {
	mu         sync.Mutex
	store      map[uuid.UUID]*Vaccine
	referenced map[uuid.UUID]bool
	locked     int
}

func newMockVaccineRepo() *mockVaccineRepo {
	return &mockVaccineRepo{store: make(map[uuid.UUID]*Vaccine), referenced: make(map[uuid.UUID]bool)}
}

func (m *mockVaccineRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]Vaccine, len(m.store))
	for id, v := range m.store {
		saved[id] = *v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.store = make(map[uuid.UUID]*Vaccine, len(saved))
		for id, v := range saved {
			v := v
			m.store[id] = &v
		}
	}
}

func (m *mockVaccineRepo) add(name string, stock int) *Vaccine {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &Vaccine{ID: uuid.New(), Name: name, Category: "routine", CurrentStock: stock, DoseCount: 1}
	m.store[v.ID] = v
	return v
}

func (m *mockVaccineRepo) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store[id].CurrentStock
}

func (m *mockVaccineRepo) Create(_ context.Context, v *Vaccine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if strings.EqualFold(existing.Name, v.Name) {
			return apperr.Conflict("a vaccine named %q already exists", v.Name)
		}
	}
	v.ID = uuid.New()
	v.CreatedAt, v.UpdatedAt = time.Now(), time.Now()
	cp := *v
	m.store[v.ID] = &cp
	return nil
}

func (m *mockVaccineRepo) GetByID(_ context.Context, id uuid.UUID) (*Vaccine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("vaccine", id)
	}
	cp := *v
	return &cp, nil
}

func (m *mockVaccineRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Vaccine, error) {
	m.mu.Lock()
	m.locked++
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *mockVaccineRepo) Update(_ context.Context, v *Vaccine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.store[v.ID]
	if !ok {
		return apperr.NotFound("vaccine", v.ID)
	}
	existing.Name, existing.Category, existing.DosageML, existing.DoseCount = v.Name, v.Category, v.DosageML, v.DoseCount
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *mockVaccineRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[id]
	if !ok {
		return apperr.NotFound("vaccine", id)
	}
	if m.referenced[id] {
		return apperr.Conflict("vaccine %q is referenced by immunization records", v.Name)
	}
	delete(m.store, id)
	return nil
}

func (m *mockVaccineRepo) sorted(keep func(*Vaccine) bool) []*Vaccine {
	var out []*Vaccine
	for _, v := range m.store {
		if keep(v) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *mockVaccineRepo) List(_ context.Context, category string, limit, offset int) ([]*Vaccine, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(v *Vaccine) bool { return category == "" || v.Category == category })
	total := len(all)
	if offset >= total {
		return []*Vaccine{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockVaccineRepo) ListLowStock(_ context.Context, threshold int) ([]*Vaccine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(v *Vaccine) bool { return v.CurrentStock <= threshold }), nil
}

func (m *mockVaccineRepo) ApplyDelta(_ context.Context, id uuid.UUID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[id]
	if !ok {
		return 0, apperr.NotFound("vaccine", id)
	}
	if v.CurrentStock+delta < 0 {
		return 0, &apperr.InsufficientStockError{Available: v.CurrentStock, Requested: -delta}
	}
	v.CurrentStock += delta
	return v.CurrentStock, nil
}

type mockMovementRepo struct {
	mu    sync.Mutex
	items []*StockMovement
}

func (m *mockMovementRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.items = m.items[:n]
	}
}

func (m *mockMovementRepo) Create(_ context.Context, mv *StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv.ID = uuid.New()
	mv.CreatedAt = time.Now()
	cp := *mv
	m.items = append(m.items, &cp)
	return nil
}

func (m *mockMovementRepo) ListByVaccine(_ context.Context, vaccineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StockMovement
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].VaccineID == vaccineID {
			out = append(out, m.items[i])
		}
	}
	total := len(out)
	if offset >= total {
		return []*StockMovement{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockMovementRepo) sum(vaccineID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, mv := range m.items {
		if mv.VaccineID == vaccineID {
			total += mv.Quantity
		}
	}
	return total
}

func (m *mockMovementRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type fixture struct {
	vaccines  *mockVaccineRepo
	movements *mockMovementRepo
	tx        *fakeTx
	ledger    *Ledger
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{vaccines: newMockVaccineRepo(), movements: &mockMovementRepo{}}
	f.tx = &fakeTx{stores: []snapshotter{f.vaccines, f.movements}}
	f.ledger = NewLedger(f.vaccines, f.movements, f.tx)
	f.svc = NewService(f.vaccines, f.movements, f.ledger, f.tx)
	return f
}
