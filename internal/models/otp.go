package models

import "time"

// OtpSource identifies which channel delivered an OTP
type OtpSource string

const (
	OtpSourceWebhook OtpSource = "webhook"
	OtpSourceImap    OtpSource = "imap"
)

// IsValid checks if the OTP source is valid
func (s OtpSource) IsValid() bool {
	switch s {
	case OtpSourceWebhook, OtpSourceImap:
		return true
	}
	return false
}

// String returns the string representation of the OtpSource
func (s OtpSource) String() string {
	return string(s)
}

// OtpEvent is a single one-time password delivery. The mailbox holds at
// most one of these per run: a later deposit replaces an earlier one.
type OtpEvent struct {
	Value      string    `json:"value"`      // Digit string as received
	Source     OtpSource `json:"source"`     // Channel that delivered it
	RunID      string    `json:"runId"`      // Target run, empty for the default slot
	ReceivedAt time.Time `json:"receivedAt"` // Deposit time, set by the receiver
}

// Expired reports whether the event is older than maxAge. A zero or
// negative maxAge disables expiry.
func (e OtpEvent) Expired(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return time.Since(e.ReceivedAt) > maxAge
}
