// Package eligibility computes age, dose classification and certificate or
// reward eligibility from a child's records. Rules are pure functions; the
// Engine gathers inputs and applies them.
package eligibility

import (
	"fmt"
	"math"
	"time"

	"vaxledger/internal/records/models"
	"vaxledger/internal/schedule"
)

// OverdueGraceMonths is how long past its scheduled age a dose stays pending.
const OverdueGraceMonths = 1

// Age cutoffs in months.
const (
	SchoolReadinessAgeMonths = 72
	CompletionAgeMonths      = 216
)

// AgeInMonths returns whole calendar months from birth to now, floored at 0.
// A month counts only once the day of month has been reached.
func AgeInMonths(birth, now time.Time) int {
	by, bm, bd := birth.Date()
	ty, tm, td := now.In(birth.Location()).Date()
	months := (ty-by)*12 + int(tm-bm)
	if td < bd {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// ClassifyDose applies the overdue policy to a dose scheduled at doseAgeMonths.
// Completed and skipped doses keep their state.
func ClassifyDose(childAgeMonths, doseAgeMonths int, current models.DoseState) models.DoseState {
	if current.IsTerminal() {
		return current
	}
	if childAgeMonths <= doseAgeMonths+OverdueGraceMonths {
		return models.DosePending
	}
	return models.DoseOverdue
}

// CompletionRate is round(100*completed/total), 0 when total is 0.
func CompletionRate(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// Tally is the outcome of matching completed keys against a required set.
type Tally struct {
	Required  int
	Completed int
	Missing   []string
	// Extra counts completed keys outside the required set. They are
	// excluded from both numerator and denominator.
	Extra int
}

// Rate is the rounded completion percentage.
func (t Tally) Rate() int {
	return CompletionRate(t.Completed, t.Required)
}

// Complete is the strict 100% test on the unrounded counts.
func (t Tally) Complete() bool {
	return t.Required > 0 && t.Completed == t.Required
}

// Evaluate counts which required entries appear in completed.
func Evaluate(required []schedule.Entry, completed map[schedule.Key]bool) Tally {
	t := Tally{Required: len(required)}
	inRequired := make(map[schedule.Key]bool, len(required))
	for _, e := range required {
		inRequired[e.Key()] = true
		if completed[e.Key()] {
			t.Completed++
			continue
		}
		t.Missing = append(t.Missing, DoseLabel(e.VaccineName, e.DoseNumber))
	}
	for k, done := range completed {
		if done && !inRequired[k] {
			t.Extra++
		}
	}
	return t
}

// DoseLabel renders a human-readable dose name.
func DoseLabel(vaccine string, dose int) string {
	return fmt.Sprintf("%s dose %d", vaccine, dose)
}

// ScheduledDate adds whole calendar months to birth, clamping to the last day
// of the target month (Jan 31 + 1 month is Feb 28 or 29).
func ScheduledDate(birth time.Time, months int) time.Time {
	y, m, d := birth.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, birth.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, birth.Location())
}
