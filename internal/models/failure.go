package models

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a login run or dispatch attempt failed.
// The run coordinator keys its retry policy off this classification:
// transport-level kinds are retryable with a fresh browser session,
// business rejections are terminal until an operator intervenes.
type FailureKind string

const (
	// FailureTransport is a network or browser-engine level failure
	FailureTransport FailureKind = "transport_error"
	// FailureTimeout means a page never reached its expected state within the bounded wait
	FailureTimeout FailureKind = "timeout"
	// FailureOtpTimeout means no OTP arrived within the mailbox wait window
	FailureOtpTimeout FailureKind = "otp_timeout"
	// FailureLoginForm means expected login inputs were absent (site layout changed)
	FailureLoginForm FailureKind = "login_form_error"
	// FailureOtpPromptNotFound means the OTP prompt never appeared after submitting credentials
	FailureOtpPromptNotFound FailureKind = "otp_prompt_not_found"
	// FailureOtpRejected means the vendor refused the submitted OTP (wrong or stale)
	FailureOtpRejected FailureKind = "otp_rejected"
	// FailureTokenNotFound means no storage tier held a credential-shaped value after login
	FailureTokenNotFound FailureKind = "token_not_found"
	// FailureBackendRejected is a permanent dispatch rejection (4xx other than rate limiting)
	FailureBackendRejected FailureKind = "backend_rejected"
	// FailureBackendTransient is a retryable dispatch failure (connection error, 5xx, 408/429)
	FailureBackendTransient FailureKind = "backend_transient_failure"
)

// Retryable reports whether the run coordinator may retry the whole
// sequence after this kind. Business rejections return false: a blind
// retry cannot fix a changed page layout or a rejected OTP.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTransport, FailureTimeout, FailureOtpTimeout, FailureBackendTransient:
		return true
	}
	return false
}

// String returns the string representation of the FailureKind
func (k FailureKind) String() string {
	return string(k)
}

// FlowError is the tagged failure produced by login, extraction and dispatch.
// It carries the classification, the state the run had reached, and an
// optional snapshot directory reference for operator triage.
type FlowError struct {
	Kind        FailureKind
	State       RunState
	SnapshotDir string
	Err         error
}

// NewFlowError creates a FlowError for the given kind and state
func NewFlowError(kind FailureKind, state RunState, err error) *FlowError {
	return &FlowError{Kind: kind, State: state, Err: err}
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("%s at %s", e.Kind, e.State)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the carried kind is retryable
func (e *FlowError) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf extracts the FailureKind from an error chain.
// Errors that are not FlowErrors classify as transport failures:
// anything unrecognized coming out of the browser layer is an
// engine-level problem, not a business rejection.
func KindOf(err error) FailureKind {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Kind
	}
	return FailureTransport
}
