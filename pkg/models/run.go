package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether a run in this status is closed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Error types recorded on a run.
const (
	ErrTypeDiscovery      = "discovery"
	ErrTypeCategoryScrape = "category_scrape"
	ErrTypeSaveProduct    = "save_product"
	ErrTypeFatal          = "fatal"
)

// RunError is one non-fatal (or the final fatal) failure captured during a run.
type RunError struct {
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	URL      string `json:"url,omitempty"`
	Product  string `json:"product,omitempty"`
	Message  string `json:"message"`
}

// ScrapeRun is one execution of the orchestrator.
type ScrapeRun struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ProductsFound   int        `json:"products_found"`
	ProductsNew     int        `json:"products_new"`
	ProductsUpdated int        `json:"products_updated"`
	Status          RunStatus  `json:"status"`
	Errors          []RunError `json:"errors,omitempty"`
	Categories      []string   `json:"categories,omitempty"`
}

// Duration returns the wall time of a closed run, zero while running.
func (r ScrapeRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunSummary is the payload used to close a run.
type RunSummary struct {
	CompletedAt     time.Time
	ProductsFound   int
	ProductsNew     int
	ProductsUpdated int
	Status          RunStatus
	Errors          []RunError
	Categories      []string
}
