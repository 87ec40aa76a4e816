package entity

import "time"

// Summary aggregates recorded diagnoses. Today and AvgConfidence cover Day
// only; Total covers every diagnosis since start.
type Summary struct {
	Day           time.Time
	Today         int
	Total         int
	AvgConfidence float64
}
