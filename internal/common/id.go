package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a supervised run ID with the "run_" prefix
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewAttemptID generates a workflow attempt ID with the "att_" prefix
// Format: att_<uuid>
func NewAttemptID() string {
	return "att_" + uuid.New().String()
}
