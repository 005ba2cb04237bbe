package models

import "time"

// RunState tracks how far a login run has progressed. States only move
// forward; Failed can be entered from any state.
type RunState string

const (
	RunStateIdle                 RunState = "idle"
	RunStateNavigatedToLogin     RunState = "navigated_to_login"
	RunStateCredentialsSubmitted RunState = "credentials_submitted"
	RunStateAwaitingOtp          RunState = "awaiting_otp"
	RunStateOtpSubmitted         RunState = "otp_submitted"
	RunStateAuthenticated        RunState = "authenticated"
	RunStateTokenExtracted       RunState = "token_extracted"
	RunStateFailed               RunState = "failed"
)

// IsValid checks if the run state is valid
func (s RunState) IsValid() bool {
	switch s {
	case RunStateIdle, RunStateNavigatedToLogin, RunStateCredentialsSubmitted,
		RunStateAwaitingOtp, RunStateOtpSubmitted, RunStateAuthenticated,
		RunStateTokenExtracted, RunStateFailed:
		return true
	}
	return false
}

// IsTerminal checks if the state ends a login attempt
func (s RunState) IsTerminal() bool {
	return s == RunStateTokenExtracted || s == RunStateFailed
}

// String returns the string representation of the RunState
func (s RunState) String() string {
	return string(s)
}

// RunStatus is the coarse lifecycle of a whole run, spanning all login
// attempts and the backend dispatch.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// IsValid checks if the run status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return true
	}
	return false
}

// String returns the string representation of the RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// RunTrigger records what started a run
type RunTrigger string

const (
	RunTriggerManual    RunTrigger = "manual"
	RunTriggerScheduled RunTrigger = "scheduled"
)

// String returns the string representation of the RunTrigger
func (t RunTrigger) String() string {
	return string(t)
}

// AttemptRecord captures a single login attempt inside a run
type AttemptRecord struct {
	Number      int         `json:"number"`                // 1-based attempt counter
	State       RunState    `json:"state"`                 // Furthest state reached
	FailureKind FailureKind `json:"failureKind,omitempty"` // Set when the attempt failed
	Error       string      `json:"error,omitempty"`       // Failure detail
	SnapshotID  string      `json:"snapshotId,omitempty"`  // Diagnostic snapshot reference
	StartedAt   time.Time   `json:"startedAt"`
	CompletedAt time.Time   `json:"completedAt,omitempty"`
}

// RunRecord is the persisted history of one token refresh run
type RunRecord struct {
	ID          string          `json:"id" badgerhold:"key"`
	Vendor      string          `json:"vendor"`                // Vendor profile the run used
	Trigger     RunTrigger      `json:"trigger"`               // What started the run
	Status      RunStatus       `json:"status"`                // Coarse lifecycle status
	State       RunState        `json:"state"`                 // Current or final state machine position
	Attempts    []AttemptRecord `json:"attempts"`              // Login attempts, oldest first
	Token       *ExtractedToken `json:"token,omitempty"`       // Set once extraction succeeds; value is redacted before serving
	Dispatch    *DispatchResult `json:"dispatch,omitempty"`    // Set once dispatch completes
	FailureKind FailureKind     `json:"failureKind,omitempty"` // Terminal failure classification
	Error       string          `json:"error,omitempty"`       // Terminal failure detail
	TriageNote  string          `json:"triageNote,omitempty"`  // Optional LLM triage summary for failed runs
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt time.Time       `json:"completedAt,omitempty"`
}

// Redacted returns a copy safe for serving over the API: the token value
// is masked, only tier and key survive.
func (r RunRecord) Redacted() RunRecord {
	if r.Token != nil {
		masked := *r.Token
		masked.Value = maskToken(masked.Value)
		r.Token = &masked
	}
	return r
}

func maskToken(value string) string {
	if len(value) <= 8 {
		return "********"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// Credentials are the vendor login inputs for a run. Secret and Pin never
// appear in logs or persisted records.
type Credentials struct {
	Identifier string `json:"identifier"` // Client code or user id
	Secret     string `json:"-"`          // Password, never serialized
	Pin        string `json:"-"`          // Optional second factor pin, never serialized
	TOTPKey    string `json:"-"`          // Optional TOTP seed, never serialized
}
