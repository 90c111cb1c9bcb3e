package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusEmpty     RunStatus = "empty"
	RunStatusFailed    RunStatus = "failed"
)

// ScrapeRun is one execution of the crawl, fetch and reconcile pipeline.
type ScrapeRun struct {
	ID            string     `json:"id" db:"id"`
	SiteID        string     `json:"site_id" db:"site_id"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	PagesVisited  int        `json:"pages_visited" db:"pages_visited"`
	URLsFound     int        `json:"urls_found" db:"urls_found"`
	RecordsFound  int        `json:"records_found" db:"records_found"`
	ListingsNew   int        `json:"listings_new" db:"listings_new"`
	Updated       int        `json:"updated" db:"updated"`
	Disappeared   int        `json:"disappeared" db:"disappeared"`
	Reactivated   int        `json:"reactivated" db:"reactivated"`
	Unmatchable   int        `json:"unmatchable" db:"unmatchable"`
	TotalListings int        `json:"total_listings" db:"total_listings"`
	ExportURL     string     `json:"export_url" db:"export_url"`
	ErrorMessage  string     `json:"error_message" db:"error_message"`
}
