package checkup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubLocker struct {
	ok       bool
	err      error
	released int
	keys     []string
}

func (l *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

func newSweeper(f *fixture, at time.Time) *Sweeper {
	s := NewSweeper(f.repo, SweepConfig{CutoffHour: 17, Interval: time.Minute, Location: manila}, zerolog.Nop())
	s.now = func() time.Time { return at }
	return s
}

func TestSweep_BeforeCutoffDoesNothing(t *testing.T) {
	f := newFixture()
	c := f.schedule(f.now)

	n, err := newSweeper(f, time.Date(2025, 6, 1, 16, 59, 0, 0, manila)).RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("got %d, %v", n, err)
	}
	got, _ := f.svc.Get(context.Background(), c.ID)
	if got.Status != StatusUpcoming {
		t.Errorf("status = %q", got.Status)
	}
}

func TestSweep_MarksOnlyToday(t *testing.T) {
	f := newFixture()
	today := f.schedule(f.now)

	p := f.addPatient("Carla")
	tomorrow, err := f.svc.Schedule(context.Background(), CreateInput{PatientID: p.ID, Date: day(2025, 6, 2)})
	if err != nil {
		t.Fatal(err)
	}

	s := newSweeper(f, time.Date(2025, 6, 1, 17, 5, 0, 0, manila))
	n, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row swept, got %d", n)
	}

	got, _ := f.svc.Get(context.Background(), today.ID)
	if got.Status != StatusMissed || !got.AutoMissed || got.MissedReason != AutoMissedReason {
		t.Errorf("unexpected swept row: %+v", got)
	}
	got, _ = f.svc.Get(context.Background(), tomorrow.ID)
	if got.Status != StatusUpcoming {
		t.Errorf("tomorrow's checkup changed to %q", got.Status)
	}

	n, err = s.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second run: got %d, %v", n, err)
	}
}

func TestSweep_UsesLocalDate(t *testing.T) {
	f := newFixture()
	c := f.schedule(f.now)

	// 09:30 UTC is 17:30 in the clinic's zone.
	n, err := newSweeper(f, time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)).RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("got %d, %v", n, err)
	}
	got, _ := f.svc.Get(context.Background(), c.ID)
	if got.Status != StatusMissed {
		t.Errorf("status = %q", got.Status)
	}
}

func TestSweep_Locker(t *testing.T) {
	after := time.Date(2025, 6, 1, 18, 0, 0, 0, manila)

	t.Run("held elsewhere", func(t *testing.T) {
		f := newFixture()
		f.schedule(f.now)
		l := &stubLocker{}
		n, err := newSweeper(f, after).WithLocker(l).RunOnce(context.Background())
		if err != nil || n != 0 {
			t.Fatalf("got %d, %v", n, err)
		}
		if f.repo.count(StatusUpcoming) != 1 {
			t.Error("sweep ran without the lock")
		}
	})

	t.Run("acquired", func(t *testing.T) {
		f := newFixture()
		f.schedule(f.now)
		l := &stubLocker{ok: true}
		n, err := newSweeper(f, after).WithLocker(l).RunOnce(context.Background())
		if err != nil || n != 1 {
			t.Fatalf("got %d, %v", n, err)
		}
		if l.released != 1 || l.keys[0] != sweepLockKey {
			t.Errorf("lock not used correctly: %+v", l)
		}
	})

	t.Run("lock error falls through", func(t *testing.T) {
		f := newFixture()
		f.schedule(f.now)
		l := &stubLocker{err: errors.New("redis down")}
		n, err := newSweeper(f, after).WithLocker(l).RunOnce(context.Background())
		if err != nil || n != 1 {
			t.Fatalf("got %d, %v", n, err)
		}
	})
}

func TestSweep_StartStopsOnCancel(t *testing.T) {
	f := newFixture()
	f.schedule(f.now)
	s := newSweeper(f, time.Date(2025, 6, 1, 18, 0, 0, 0, manila))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for f.repo.count(StatusMissed) == 0 {
		select {
		case <-deadline:
			t.Fatal("first tick did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

type recordingObserver struct{ marked []int64 }

func (o *recordingObserver) SweepFinished(n int64, err error) {
	if err == nil {
		o.marked = append(o.marked, n)
	}
}

func TestSweep_ReportsToObserver(t *testing.T) {
	f := newFixture()
	f.schedule(f.now)
	obs := &recordingObserver{}

	early := newSweeper(f, time.Date(2025, 6, 1, 9, 0, 0, 0, manila)).WithObserver(obs)
	if _, err := early.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(obs.marked) != 0 {
		t.Fatalf("runs before the cutoff should not be reported: %v", obs.marked)
	}

	late := newSweeper(f, time.Date(2025, 6, 1, 18, 0, 0, 0, manila)).WithObserver(obs)
	for i := 0; i < 2; i++ {
		if _, err := late.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(obs.marked) != 2 || obs.marked[0] != 1 || obs.marked[1] != 0 {
		t.Errorf("observed %v, want [1 0]", obs.marked)
	}
}
