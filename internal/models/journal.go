package models

import "time"

// RunRecord is one supervised attempt at the whole workflow. ID is the
// attempt ID; RunID groups the attempts of one supervised run.
type RunRecord struct {
	ID         string    `json:"id" badgerhold:"key"`
	RunID      string    `json:"run_id" badgerholdIndex:"RunID"`
	Attempt    int       `json:"attempt"`
	StartedAt  time.Time `json:"started_at" badgerholdIndex:"StartedAt"`
	FinishedAt time.Time `json:"finished_at"`
	Completed  bool      `json:"completed"`
	Err        string    `json:"error,omitempty"`
}

// AttemptRecord is one pass over a single dataset row.
type AttemptRecord struct {
	ID             string    `json:"id" badgerhold:"key"`
	RunID          string    `json:"run_id" badgerholdIndex:"RunID"`
	AttemptID      string    `json:"attempt_id"`
	Row            int       `json:"row" badgerholdIndex:"Row"`
	Identifier     string    `json:"identifier"`
	DocumentNumber string    `json:"document_number"`
	Outcome        string    `json:"outcome"`
	Artifact       string    `json:"artifact,omitempty"`
	Pages          int       `json:"pages,omitempty"`
	Err            string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}
