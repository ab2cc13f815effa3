package model

import "time"

// RunStatus represents the terminal state of a forecast run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one pipeline execution.
type Run struct {
	ID         string    `json:"id"`
	Country    string    `json:"country"`
	Indicator  string    `json:"indicator"`
	CutOffYear int       `json:"cut_off_year"`
	Horizon    int       `json:"horizon"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Summary    *Summary  `json:"summary,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
