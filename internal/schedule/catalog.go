package schedule

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	dErrors "vaxledger/pkg/domain-errors"
)

// Catalog is the immutable reference schedule. It is safe for concurrent use.
type Catalog struct {
	entries []Entry
	byKey   map[Key]Entry
}

// NewCatalog validates entries and builds the lookup index. An empty list or a
// duplicate (vaccine, dose) is a configuration error.
func NewCatalog(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, dErrors.New(dErrors.CodeScheduleUnavailable, "schedule catalog is empty")
	}

	byKey := make(map[Key]Entry, len(entries))
	sorted := make([]Entry, 0, len(entries))
	for i, e := range entries {
		e.VaccineName = strings.TrimSpace(e.VaccineName)
		e.AgeBucketLabel = strings.TrimSpace(e.AgeBucketLabel)
		if err := validateEntry(e); err != nil {
			return nil, fmt.Errorf("schedule entry %d: %w", i+1, err)
		}
		if _, dup := byKey[e.Key()]; dup {
			return nil, dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("duplicate schedule entry %s dose %d", e.VaccineName, e.DoseNumber))
		}
		byKey[e.Key()] = e
		sorted = append(sorted, e)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AgeInMonths != b.AgeInMonths {
			return a.AgeInMonths < b.AgeInMonths
		}
		if a.VaccineName != b.VaccineName {
			return a.VaccineName < b.VaccineName
		}
		return a.DoseNumber < b.DoseNumber
	})

	return &Catalog{entries: sorted, byKey: byKey}, nil
}

func validateEntry(e Entry) error {
	switch {
	case e.VaccineName == "":
		return dErrors.New(dErrors.CodeValidation, "vaccine_name is required")
	case e.DoseNumber < 1:
		return dErrors.New(dErrors.CodeValidation, "dose_number must be at least 1")
	case e.TotalDoses < e.DoseNumber:
		return dErrors.New(dErrors.CodeValidation, "total_doses must be at least dose_number")
	case e.AgeInMonths < 0:
		return dErrors.New(dErrors.CodeValidation, "age_in_months must not be negative")
	case e.AgeBucketLabel == "":
		return dErrors.New(dErrors.CodeValidation, "age_bucket is required")
	}
	return nil
}

func (c *Catalog) available() error {
	if c == nil || len(c.entries) == 0 {
		return dErrors.New(dErrors.CodeScheduleUnavailable, "schedule catalog is unavailable")
	}
	return nil
}

// Entries returns every entry ordered by age, vaccine, dose.
func (c *Catalog) Entries() ([]Entry, error) {
	if err := c.available(); err != nil {
		return nil, err
	}
	return slices.Clone(c.entries), nil
}

// Lookup finds the entry for a (vaccine, dose). Vaccine matching ignores case.
func (c *Catalog) Lookup(ctx context.Context, vaccineName string, doseNumber int) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeTimeout, "schedule lookup cancelled")
	}
	if err := c.available(); err != nil {
		return Entry{}, err
	}
	e, ok := c.byKey[KeyOf(vaccineName, doseNumber)]
	if !ok {
		return Entry{}, dErrors.New(dErrors.CodeNotFound,
			fmt.Sprintf("no schedule entry for %s dose %d", vaccineName, doseNumber))
	}
	return e, nil
}

// ByVaccine returns all doses of a vaccine (case-insensitive exact name).
func (c *Catalog) ByVaccine(name string) ([]Entry, error) {
	return c.filter(func(e Entry) bool {
		return strings.EqualFold(e.VaccineName, strings.TrimSpace(name))
	})
}

// Search returns entries whose vaccine name contains substr, ignoring case.
func (c *Catalog) Search(substr string) ([]Entry, error) {
	needle := strings.ToLower(strings.TrimSpace(substr))
	return c.filter(func(e Entry) bool {
		return strings.Contains(strings.ToLower(e.VaccineName), needle)
	})
}

// UpToAge returns entries due at or before months.
func (c *Catalog) UpToAge(months int) ([]Entry, error) {
	return c.filter(func(e Entry) bool { return e.AgeInMonths <= months })
}

// Required returns every required entry.
func (c *Catalog) Required() ([]Entry, error) {
	return c.filter(func(e Entry) bool { return e.Required })
}

// RequiredWithin returns required entries whose bucket label is in labels.
func (c *Catalog) RequiredWithin(labels []string) ([]Entry, error) {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return c.filter(func(e Entry) bool {
		_, ok := set[e.AgeBucketLabel]
		return e.Required && ok
	})
}

// Buckets returns distinct bucket labels in age order.
func (c *Catalog) Buckets() ([]string, error) {
	if err := c.available(); err != nil {
		return nil, err
	}
	var labels []string
	seen := make(map[string]struct{})
	for _, e := range c.entries {
		if _, ok := seen[e.AgeBucketLabel]; ok {
			continue
		}
		seen[e.AgeBucketLabel] = struct{}{}
		labels = append(labels, e.AgeBucketLabel)
	}
	return labels, nil
}

func (c *Catalog) filter(keep func(Entry) bool) ([]Entry, error) {
	if err := c.available(); err != nil {
		return nil, err
	}
	out := make([]Entry, 0)
	for _, e := range c.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
