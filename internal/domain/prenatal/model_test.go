package prenatal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDueDate(t *testing.T) {
	assert.Equal(t, day(2025, 10, 8), DueDate(day(2025, 1, 1)))
	assert.Equal(t, day(2024, 12, 6), DueDate(time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)))
}

func TestGestationalAge(t *testing.T) {
	lmp := day(2025, 1, 1)
	tests := []struct {
		on    time.Time
		weeks int
		days  int
	}{
		{day(2025, 1, 1), 0, 0},
		{day(2025, 1, 7), 0, 6},
		{day(2025, 1, 8), 1, 0},
		{day(2025, 4, 9), 14, 0},
		{time.Date(2025, 4, 10, 23, 59, 0, 0, time.UTC), 14, 1},
		{day(2024, 12, 25), 0, 0},
	}
	for _, tt := range tests {
		w, d := GestationalAge(lmp, tt.on)
		assert.Equal(t, tt.weeks, w, tt.on.Format("2006-01-02"))
		assert.Equal(t, tt.days, d, tt.on.Format("2006-01-02"))
	}
}

func TestTrimester(t *testing.T) {
	for weeks, want := range map[int]int{0: 1, 13: 1, 14: 2, 27: 2, 28: 3, 41: 3} {
		assert.Equal(t, want, Trimester(weeks), "weeks=%d", weeks)
	}
}

func TestRecordProgressAt(t *testing.T) {
	r := &Record{LastMenstrualPeriod: day(2025, 1, 1)}
	p := r.ProgressAt(day(2025, 7, 20))
	assert.Equal(t, &Progress{Weeks: 28, Days: 4, Trimester: 3}, p)
	assert.True(t, r.Active())
}
