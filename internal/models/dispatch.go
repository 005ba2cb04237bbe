package models

import "time"

// DispatchStatus is the terminal outcome of delivering a token to the backend
type DispatchStatus string

const (
	DispatchStatusSuccess DispatchStatus = "success"
	DispatchStatusFailed  DispatchStatus = "failed"
)

// String returns the string representation of the DispatchStatus
func (s DispatchStatus) String() string {
	return string(s)
}

// DispatchResult records the outcome of a token dispatch, including how
// many HTTP attempts were consumed. Exactly one of these is produced per
// run that reaches the dispatch stage.
type DispatchResult struct {
	Status      DispatchStatus `json:"status"`
	Attempts    int            `json:"attempts"`              // HTTP attempts made, including the final one
	StatusCode  int            `json:"statusCode,omitempty"`  // Last HTTP status observed, 0 for connection errors
	LastError   string         `json:"lastError,omitempty"`   // Final error message when Status is failed
	CompletedAt time.Time      `json:"completedAt"`
}

// TokenPayload is the JSON body posted to the backend ingestion endpoint.
// Timestamp is a pointer so an unknown issue time serializes as null
// rather than a zero date.
type TokenPayload struct {
	AccessToken string     `json:"access_token"`
	Source      string     `json:"source"`
	Timestamp   *time.Time `json:"timestamp"`
}
