package models

import "strings"

// NotAvailable is the text rendered for an absent free-text field in persisted output.
const NotAvailable = "N/A"

// Record is one listing observation taken from a detail page.
// Nil pointers mean the extractor could not locate the field.
type Record struct {
	ID            *string  `json:"id"`
	URL           string   `json:"url"`
	Title         *string  `json:"title"`
	Address       *string  `json:"address"`
	Price         *string  `json:"price"`
	SurfaceArea   *float64 `json:"surface_area"`
	RoomCount     *int     `json:"room_count"`
	BathroomCount *int     `json:"bathroom_count"`
	EnergyClass   *string  `json:"energy_class"`
	Tags          []string `json:"tags"`
}

// Key returns the natural key of the record and whether it has one.
func (r Record) Key() (string, bool) {
	if r.ID == nil {
		return "", false
	}
	id := strings.TrimSpace(*r.ID)
	if id == "" {
		return "", false
	}
	return id, true
}

// Text returns a pointer to the trimmed string, or nil when it is blank.
func Text(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// SameText compares two optional strings; two absent values are equal.
func SameText(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func IntPtr(i int) *int {
	return &i
}

func Float64Ptr(f float64) *float64 {
	return &f
}
