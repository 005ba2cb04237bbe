// -----------------------------------------------------------------------
// Login Orchestrator - drives one vendor login attempt over a browser
// session: navigate, submit credentials, wait for the OTP prompt, consume
// an OTP from the mailbox, verify, then extract the token
// -----------------------------------------------------------------------

package login

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

const (
	DefaultPromptTimeout  = 30 * time.Second
	DefaultSuccessTimeout = 60 * time.Second
	DefaultOtpWait        = 5 * time.Minute
	DefaultPollInterval   = 500 * time.Millisecond
)

// Config holds the orchestrator's page and OTP timeouts
type Config struct {
	PromptTimeout  time.Duration // how long page elements get to appear
	SuccessTimeout time.Duration // how long the post-login marker gets to appear
	OtpWait        time.Duration // how long to wait for an OTP delivery
	PollInterval   time.Duration // success marker polling cadence
}

// DefaultConfig returns the standard orchestrator timeouts
func DefaultConfig() Config {
	return Config{
		PromptTimeout:  DefaultPromptTimeout,
		SuccessTimeout: DefaultSuccessTimeout,
		OtpWait:        DefaultOtpWait,
		PollInterval:   DefaultPollInterval,
	}
}

// Orchestrator executes the login state machine for one vendor profile.
// Every failure is returned as a *models.FlowError carrying the failure
// kind and the last state the attempt reached; the caller decides what is
// worth retrying.
type Orchestrator struct {
	profile     *models.VendorProfile
	credentials models.Credentials
	extractor   interfaces.TokenExtractor
	config      Config
	logger      arbor.ILogger
}

var _ interfaces.LoginService = (*Orchestrator)(nil)

// NewOrchestrator creates a login orchestrator for a vendor profile
func NewOrchestrator(profile *models.VendorProfile, credentials models.Credentials, extractor interfaces.TokenExtractor, config Config, logger arbor.ILogger) *Orchestrator {
	if config.PromptTimeout <= 0 {
		config.PromptTimeout = DefaultPromptTimeout
	}
	if config.SuccessTimeout <= 0 {
		config.SuccessTimeout = DefaultSuccessTimeout
	}
	if config.OtpWait <= 0 {
		config.OtpWait = DefaultOtpWait
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	return &Orchestrator{
		profile:     profile,
		credentials: credentials,
		extractor:   extractor,
		config:      config,
		logger:      logger,
	}
}

// Execute runs the login flow on a fresh browser session. The OTP is
// consumed from the mailbox only after the vendor's OTP prompt is
// confirmed on screen, so a code is never burned on a page that cannot
// accept it.
func (o *Orchestrator) Execute(ctx context.Context, session interfaces.BrowserSession, mailbox interfaces.OtpMailbox, onState interfaces.StateFunc) (*models.ExtractedToken, error) {
	state := models.RunStateIdle
	advance := func(next models.RunState) {
		state = next
		o.logger.Info().
			Str("vendor", o.profile.Name).
			Str("state", next.String()).
			Msg("Login state reached")
		if onState != nil {
			onState(next)
		}
	}

	sel := o.profile.Selectors
	if sel.SuccessSelector == "" && sel.SuccessURLFragment == "" {
		return nil, models.NewFlowError(models.FailureLoginForm, state,
			fmt.Errorf("profile %s defines no success marker", o.profile.Name))
	}

	if err := session.Navigate(ctx, o.profile.LoginURL); err != nil {
		return nil, o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to open login page: %w", err))
	}
	advance(models.RunStateNavigatedToLogin)

	if err := o.submitCredentials(ctx, session, state); err != nil {
		return nil, err
	}
	advance(models.RunStateCredentialsSubmitted)

	if err := session.WaitVisible(ctx, sel.OtpPrompt, o.config.PromptTimeout); err != nil {
		return nil, o.fail(ctx, models.FailureOtpPromptNotFound, state,
			fmt.Errorf("otp prompt %s did not appear: %w", sel.OtpPrompt, err))
	}
	advance(models.RunStateAwaitingOtp)

	event, err := mailbox.AwaitValue(ctx, o.config.OtpWait)
	if err != nil {
		return nil, o.fail(ctx, models.FailureOtpTimeout, state, fmt.Errorf("no otp arrived: %w", err))
	}
	o.logger.Info().
		Str("vendor", o.profile.Name).
		Str("source", event.Source.String()).
		Int("length", len(event.Value)).
		Msg("OTP consumed from mailbox")

	if err := o.submitOtp(ctx, session, event.Value, state); err != nil {
		return nil, err
	}
	advance(models.RunStateOtpSubmitted)

	if o.profile.HasPinStep() && o.credentials.Pin != "" {
		if err := o.submitPin(ctx, session, state); err != nil {
			return nil, err
		}
	}

	if err := o.awaitSuccess(ctx, session, state); err != nil {
		return nil, err
	}
	advance(models.RunStateAuthenticated)

	token, err := o.extractor.Extract(ctx, session)
	if err != nil {
		return nil, err
	}
	advance(models.RunStateTokenExtracted)

	return token, nil
}

// submitCredentials fills the identifier (and secret, when the profile
// has one) and proceeds. Absent fields mean the vendor changed their
// page layout, which no amount of retrying fixes.
func (o *Orchestrator) submitCredentials(ctx context.Context, session interfaces.BrowserSession, state models.RunState) error {
	sel := o.profile.Selectors

	if err := session.WaitVisible(ctx, sel.IdentifierInput, o.config.PromptTimeout); err != nil {
		return o.fail(ctx, models.FailureLoginForm, state,
			fmt.Errorf("identifier input %s not found: %w", sel.IdentifierInput, err))
	}
	if err := session.SetValue(ctx, sel.IdentifierInput, o.credentials.Identifier); err != nil {
		return o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to fill identifier: %w", err))
	}

	if sel.SecretInput != "" && o.credentials.Secret != "" {
		if err := session.WaitVisible(ctx, sel.SecretInput, o.config.PromptTimeout); err != nil {
			return o.fail(ctx, models.FailureLoginForm, state,
				fmt.Errorf("secret input %s not found: %w", sel.SecretInput, err))
		}
		if err := session.SetValue(ctx, sel.SecretInput, o.credentials.Secret); err != nil {
			return o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to fill secret: %w", err))
		}
	}

	if err := session.WaitVisible(ctx, sel.ProceedButton, o.config.PromptTimeout); err != nil {
		return o.fail(ctx, models.FailureLoginForm, state,
			fmt.Errorf("proceed button %s not found: %w", sel.ProceedButton, err))
	}
	if err := session.Click(ctx, sel.ProceedButton); err != nil {
		return o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to click proceed: %w", err))
	}

	return nil
}

// submitOtp types the code into the vendor's OTP inputs and clicks verify
func (o *Orchestrator) submitOtp(ctx context.Context, session interfaces.BrowserSession, value string, state models.RunState) error {
	sel := o.profile.Selectors

	if len(sel.OtpInputs) > 1 && len(value) != len(sel.OtpInputs) {
		return o.fail(ctx, models.FailureOtpRejected, state,
			fmt.Errorf("otp length %d does not fit %d input boxes", len(value), len(sel.OtpInputs)))
	}
	if err := o.typeDigits(ctx, session, sel.OtpInputs, value); err != nil {
		return o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to type otp: %w", err))
	}

	if err := session.WaitVisible(ctx, sel.OtpVerifyButton, o.config.PromptTimeout); err != nil {
		return o.fail(ctx, models.FailureLoginForm, state,
			fmt.Errorf("otp verify button %s not found: %w", sel.OtpVerifyButton, err))
	}
	if err := session.Click(ctx, sel.OtpVerifyButton); err != nil {
		return o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to click verify: %w", err))
	}

	return nil
}

// submitPin handles the post-OTP pin screen. Some vendors skip it when
// the device is remembered, so an absent pin prompt is only a failure
// when the success marker is also absent.
func (o *Orchestrator) submitPin(ctx context.Context, session interfaces.BrowserSession, state models.RunState) error {
	sel := o.profile.Selectors

	if err := session.WaitVisible(ctx, sel.PinInputs[0], o.config.PromptTimeout); err != nil {
		reached, checkErr := o.successReached(ctx, session)
		if checkErr == nil && reached {
			o.logger.Debug().Str("vendor", o.profile.Name).Msg("Pin step skipped by vendor")
			return nil
		}
		return o.fail(ctx, models.FailureOtpRejected, state,
			fmt.Errorf("pin prompt did not appear after otp verification: %w", err))
	}

	if len(sel.PinInputs) > 1 && len(o.credentials.Pin) != len(sel.PinInputs) {
		return o.fail(ctx, models.FailureLoginForm, state,
			fmt.Errorf("pin length %d does not fit %d input boxes", len(o.credentials.Pin), len(sel.PinInputs)))
	}
	if err := o.typeDigits(ctx, session, sel.PinInputs, o.credentials.Pin); err != nil {
		return o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to type pin: %w", err))
	}

	if err := session.Click(ctx, sel.PinSubmitButton); err != nil {
		return o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to submit pin: %w", err))
	}

	return nil
}

// awaitSuccess polls for the profile's success marker. No marker within
// the window means the vendor refused the submitted code.
func (o *Orchestrator) awaitSuccess(ctx context.Context, session interfaces.BrowserSession, state models.RunState) error {
	deadline := time.Now().Add(o.config.SuccessTimeout)

	for {
		reached, err := o.successReached(ctx, session)
		if err != nil {
			return o.fail(ctx, models.FailureTransport, state, fmt.Errorf("failed to check login result: %w", err))
		}
		if reached {
			return nil
		}

		if time.Now().After(deadline) {
			currentURL, _ := session.CurrentURL(ctx)
			return o.fail(ctx, models.FailureOtpRejected, state,
				fmt.Errorf("no success marker within %s (url: %s)", o.config.SuccessTimeout, currentURL))
		}

		select {
		case <-ctx.Done():
			return o.fail(ctx, models.FailureTimeout, state, ctx.Err())
		case <-time.After(o.config.PollInterval):
		}
	}
}

// successReached checks the profile's success selector and URL fragment
func (o *Orchestrator) successReached(ctx context.Context, session interfaces.BrowserSession) (bool, error) {
	sel := o.profile.Selectors

	if sel.SuccessSelector != "" {
		present, err := session.Exists(ctx, sel.SuccessSelector)
		if err != nil {
			return false, err
		}
		if present {
			return true, nil
		}
	}

	if sel.SuccessURLFragment != "" {
		currentURL, err := session.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		if strings.Contains(currentURL, sel.SuccessURLFragment) {
			return true, nil
		}
	}

	return false, nil
}

// typeDigits fills split per-digit inputs, or the whole value when the
// profile uses a single field
func (o *Orchestrator) typeDigits(ctx context.Context, session interfaces.PageDriver, inputs []string, value string) error {
	if len(inputs) == 1 {
		return session.SetValue(ctx, inputs[0], value)
	}

	for i, input := range inputs {
		if err := session.SetValue(ctx, input, string(value[i])); err != nil {
			return fmt.Errorf("failed to fill %s: %w", input, err)
		}
	}
	return nil
}

// fail tags an error with the failure kind and the state the attempt
// reached. A cancelled or expired run context overrides the kind: the
// step did not fail on its own, the run ran out of time.
func (o *Orchestrator) fail(ctx context.Context, kind models.FailureKind, state models.RunState, err error) error {
	if ctx.Err() != nil {
		kind = models.FailureTimeout
	}
	flowErr := models.NewFlowError(kind, state, err)
	o.logger.Warn().
		Str("vendor", o.profile.Name).
		Str("kind", kind.String()).
		Str("state", state.String()).
		Err(err).
		Msg("Login step failed")
	return flowErr
}
