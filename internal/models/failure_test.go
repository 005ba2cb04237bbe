package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailureKind_Retryable(t *testing.T) {
	tests := []struct {
		kind      FailureKind
		retryable bool
	}{
		{FailureTransport, true},
		{FailureTimeout, true},
		{FailureOtpTimeout, true},
		{FailureBackendTransient, true},
		{FailureLoginForm, false},
		{FailureOtpPromptNotFound, false},
		{FailureOtpRejected, false},
		{FailureTokenNotFound, false},
		{FailureBackendRejected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Retryable(); got != tt.retryable {
				t.Errorf("Retryable(): got %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestFlowError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("net: connection refused")
	flowErr := NewFlowError(FailureTransport, RunStateNavigatedToLogin, cause)

	if !errors.Is(flowErr, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	msg := flowErr.Error()
	want := "transport_error at navigated_to_login: net: connection refused"
	if msg != want {
		t.Errorf("Error(): got %q, want %q", msg, want)
	}

	bare := NewFlowError(FailureOtpTimeout, RunStateAwaitingOtp, nil)
	if bare.Error() != "otp_timeout at awaiting_otp" {
		t.Errorf("Error() without cause: got %q", bare.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{
			name: "direct flow error",
			err:  NewFlowError(FailureOtpRejected, RunStateOtpSubmitted, nil),
			want: FailureOtpRejected,
		},
		{
			name: "wrapped flow error",
			err:  fmt.Errorf("attempt 2: %w", NewFlowError(FailureTokenNotFound, RunStateAuthenticated, nil)),
			want: FailureTokenNotFound,
		},
		{
			name: "plain error classifies as transport",
			err:  errors.New("context deadline exceeded"),
			want: FailureTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(): got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlowError_ErrorsAsThroughWrapping(t *testing.T) {
	inner := NewFlowError(FailureLoginForm, RunStateNavigatedToLogin, errors.New("no #txtUser"))
	wrapped := fmt.Errorf("run run_abc failed: %w", inner)

	var flowErr *FlowError
	if !errors.As(wrapped, &flowErr) {
		t.Fatal("errors.As should unwrap to *FlowError")
	}
	if flowErr.Kind != FailureLoginForm {
		t.Errorf("Kind: got %v, want %v", flowErr.Kind, FailureLoginForm)
	}
	if flowErr.State != RunStateNavigatedToLogin {
		t.Errorf("State: got %v, want %v", flowErr.State, RunStateNavigatedToLogin)
	}
	if flowErr.Retryable() {
		t.Error("login_form_error should not be retryable")
	}
}
