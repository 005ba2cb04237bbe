package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique login-run ID with the "run_" prefix
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewSnapshotID generates a unique diagnostic-snapshot ID with the "snap_" prefix
// Format: snap_<uuid>
func NewSnapshotID() string {
	return "snap_" + uuid.New().String()
}
