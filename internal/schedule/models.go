package schedule

import "strings"

// Entry is one required (vaccine, dose) at its recommended age.
type Entry struct {
	VaccineName    string `csv:"vaccine_name" yaml:"vaccine_name" json:"vaccine_name"`
	DoseNumber     int    `csv:"dose_number" yaml:"dose_number" json:"dose_number"`
	TotalDoses     int    `csv:"total_doses" yaml:"total_doses" json:"total_doses"`
	AgeBucketLabel string `csv:"age_bucket" yaml:"age_bucket" json:"age_bucket_label"`
	AgeInMonths    int    `csv:"age_in_months" yaml:"age_in_months" json:"age_in_months"`
	Required       bool   `csv:"required" yaml:"required" json:"required"`
}

// Key identifies a dose independent of display casing.
type Key struct {
	Vaccine string
	Dose    int
}

// KeyOf normalizes a vaccine name and dose into a lookup key.
func KeyOf(vaccineName string, doseNumber int) Key {
	return Key{Vaccine: strings.ToLower(strings.TrimSpace(vaccineName)), Dose: doseNumber}
}

func (e Entry) Key() Key {
	return KeyOf(e.VaccineName, e.DoseNumber)
}

// Age bucket labels used by the reference schedule.
const (
	BucketBirth      = "Birth"
	Bucket6Weeks     = "6 Weeks"
	Bucket10Weeks    = "10 Weeks"
	Bucket14Weeks    = "14 Weeks"
	Bucket6Months    = "6 Months"
	Bucket7Months    = "7 Months"
	Bucket9Months    = "9 Months"
	Bucket12Months   = "12 Months"
	Bucket15Months   = "15 Months"
	Bucket18Months   = "18 Months"
	Bucket4To6Years  = "4-6 Years"
	Bucket10Years    = "10 Years"
	Bucket11To12Year = "11-12 Years"
	Bucket16Years    = "16 Years"
)

// SchoolReadinessBuckets covers birth through 6 years.
var SchoolReadinessBuckets = []string{
	BucketBirth, Bucket6Weeks, Bucket10Weeks, Bucket14Weeks,
	Bucket6Months, Bucket7Months, Bucket9Months, Bucket12Months,
	Bucket15Months, Bucket18Months, Bucket4To6Years,
}

// CompletionBuckets covers birth through 18 years.
var CompletionBuckets = append(append([]string{}, SchoolReadinessBuckets...),
	Bucket10Years, Bucket11To12Year, Bucket16Years,
)
