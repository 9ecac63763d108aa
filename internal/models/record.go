package models

import (
	"strings"
)

// RecordStatus is the persisted processing state of a dataset row.
// It is the only signal used to decide whether a row still needs work.
type RecordStatus string

const (
	StatusPending  RecordStatus = "pending"
	StatusFound    RecordStatus = "found"
	StatusNotFound RecordStatus = "not_found"
)

// Labels written to the dataset's status column.
const (
	LabelFound    = "encontrado"
	LabelNotFound = "no encontrado"
)

// ParseStatus maps a raw status cell to a RecordStatus.
// Matching is case-insensitive and by substring. The not-found labels are
// checked first because "no encontrado" contains "encontrado".
func ParseStatus(raw string) RecordStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return StatusPending
	case strings.Contains(s, LabelNotFound), strings.Contains(s, "not found"), strings.Contains(s, "not_found"):
		return StatusNotFound
	case strings.Contains(s, LabelFound), strings.Contains(s, "found"):
		return StatusFound
	}
	return StatusPending
}

// Label returns the normalized value written back to the dataset.
func (s RecordStatus) Label() string {
	switch s {
	case StatusFound:
		return LabelFound
	case StatusNotFound:
		return LabelNotFound
	}
	return ""
}

// IsResolved reports whether the record needs no further portal interaction.
func (s RecordStatus) IsResolved() bool {
	return s == StatusFound || s == StatusNotFound
}

func (s RecordStatus) String() string {
	return string(s)
}

// Record is one row of the dataset: a single certificate request.
type Record struct {
	Row            int          `json:"row"`
	Identifier     string       `json:"identifier"`
	RegistryOffice string       `json:"registry_office"`
	DocumentNumber string       `json:"document_number"`
	Status         RecordStatus `json:"status"`
}

// Sequence is the 1-based position of the record among data rows.
// Row 1 is the header, so the first data row has sequence 1.
func (r Record) Sequence() int {
	return r.Row - 1
}
