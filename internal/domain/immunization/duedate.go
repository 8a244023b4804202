package immunization

import (
	"strings"
	"time"
)

// doseOffsets maps vaccine -> dose -> days until the following dose. A dose
// that is absent, or present with 0, is the last in its series.
var doseOffsets = map[string]map[string]int{
	"dpt": {
		"1st dose": 30,
		"2nd dose": 30,
		"3rd dose": 365,
	},
	"opv": {
		"1st dose": 30,
		"2nd dose": 30,
	},
	"pentavalent": {
		"1st dose": 28,
		"2nd dose": 28,
	},
	"hepatitis b": {
		"1st dose": 30,
		"2nd dose": 150,
	},
	"pcv": {
		"1st dose": 30,
		"2nd dose": 30,
	},
	"mmr": {
		"1st dose": 90,
	},
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NextDueDate returns the date the next dose in the series is due, or nil
// when dose is the last one or the combination is unknown.
func NextDueDate(vaccine, dose string, from time.Time) *time.Time {
	days, ok := doseOffsets[normalize(vaccine)][normalize(dose)]
	if !ok || days == 0 {
		return nil
	}
	due := dateOnly(from).AddDate(0, 0, days)
	return &due
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
