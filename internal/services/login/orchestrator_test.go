package login

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

// fakeSession scripts a vendor login page: which selectors are visible,
// what typing and clicking does, and which click causes the success
// redirect.
type fakeSession struct {
	visible       map[string]bool
	values        map[string]string
	clicks        []string
	url           string
	navigated     []string
	navigateErr   error
	urlAfterClick map[string]string
	local         map[string]string
	session       map[string]string
	cookies       map[string]string
	closed        bool
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.navigated = append(f.navigated, url)
	f.url = url
	return nil
}

func (f *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if f.visible[selector] {
		return nil
	}
	return fmt.Errorf("selector %s not visible", selector)
}

func (f *fakeSession) Exists(ctx context.Context, selector string) (bool, error) {
	return f.visible[selector], nil
}

func (f *fakeSession) SetValue(ctx context.Context, selector, value string) error {
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[selector] = value
	return nil
}

func (f *fakeSession) Click(ctx context.Context, selector string) error {
	f.clicks = append(f.clicks, selector)
	if next, ok := f.urlAfterClick[selector]; ok {
		f.url = next
	}
	return nil
}

func (f *fakeSession) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakeSession) Title(ctx context.Context) (string, error)      { return "Vendor Login", nil }

func (f *fakeSession) LocalStorage(ctx context.Context) (map[string]string, error) {
	return f.local, nil
}
func (f *fakeSession) SessionStorage(ctx context.Context) (map[string]string, error) {
	return f.session, nil
}
func (f *fakeSession) Cookies(ctx context.Context) (map[string]string, error) {
	return f.cookies, nil
}
func (f *fakeSession) Screenshot(ctx context.Context) ([]byte, error) { return []byte{0x89}, nil }
func (f *fakeSession) HTML(ctx context.Context) (string, error)       { return "<html></html>", nil }
func (f *fakeSession) Close() error                                   { f.closed = true; return nil }

// fakeMailbox hands out one scripted OTP event or error and counts how
// often the orchestrator asked.
type fakeMailbox struct {
	event      models.OtpEvent
	err        error
	awaitCalls int
}

func (m *fakeMailbox) Deposit(event models.OtpEvent) {}

func (m *fakeMailbox) AwaitValue(ctx context.Context, timeout time.Duration) (models.OtpEvent, error) {
	m.awaitCalls++
	if m.err != nil {
		return models.OtpEvent{}, m.err
	}
	return m.event, nil
}

func (m *fakeMailbox) Peek() (models.OtpEvent, bool) { return m.event, m.event.Value != "" }
func (m *fakeMailbox) Clear()                        {}

type fakeExtractor struct {
	token *models.ExtractedToken
	err   error
	calls int
}

func (e *fakeExtractor) Extract(ctx context.Context, reader interfaces.TierReader) (*models.ExtractedToken, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.token, nil
}

func testProfile() *models.VendorProfile {
	return &models.VendorProfile{
		Name:      "testvendor",
		LoginURL:  "https://vendor.example/login",
		SourceTag: "testvendor",
		OtpLength: 4,
		Selectors: models.ProfileSelectors{
			IdentifierInput:    "#mobile",
			ProceedButton:      "#proceed",
			OtpPrompt:          "#otp1",
			OtpInputs:          []string{"#otp1", "#otp2", "#otp3", "#otp4"},
			OtpVerifyButton:    "#verify",
			PinInputs:          []string{"#pin1", "#pin2", "#pin3", "#pin4"},
			PinSubmitButton:    "#pinSubmit",
			SuccessURLFragment: "RequestToken=",
		},
	}
}

func testCredentials() models.Credentials {
	return models.Credentials{Identifier: "9876543210", Pin: "4321"}
}

func fastConfig() Config {
	return Config{
		PromptTimeout:  50 * time.Millisecond,
		SuccessTimeout: 100 * time.Millisecond,
		OtpWait:        50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}
}

func happySession() *fakeSession {
	return &fakeSession{
		visible: map[string]bool{
			"#mobile": true, "#proceed": true, "#otp1": true, "#verify": true, "#pin1": true,
		},
		url: "https://vendor.example/login",
		urlAfterClick: map[string]string{
			"#pinSubmit": "https://backend.example/callback?RequestToken=tok-123",
		},
	}
}

func newTestOrchestrator(profile *models.VendorProfile, extractor interfaces.TokenExtractor) *Orchestrator {
	return NewOrchestrator(profile, testCredentials(), extractor, fastConfig(), arbor.NewLogger())
}

func flowErrorFrom(t *testing.T, err error) *models.FlowError {
	t.Helper()
	var flowErr *models.FlowError
	require.ErrorAs(t, err, &flowErr)
	return flowErr
}

func TestExecute_HappyPath(t *testing.T) {
	session := happySession()
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234", Source: models.OtpSourceWebhook}}
	extractor := &fakeExtractor{token: &models.ExtractedToken{
		Value: "tok-123", Tier: models.TokenTierURL, Key: "RequestToken", ExtractedAt: time.Now().UTC(),
	}}

	var states []models.RunState
	orch := newTestOrchestrator(testProfile(), extractor)

	token, err := orch.Execute(context.Background(), session, mailbox, func(state models.RunState) {
		states = append(states, state)
	})
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "tok-123", token.Value)

	assert.Equal(t, []models.RunState{
		models.RunStateNavigatedToLogin,
		models.RunStateCredentialsSubmitted,
		models.RunStateAwaitingOtp,
		models.RunStateOtpSubmitted,
		models.RunStateAuthenticated,
		models.RunStateTokenExtracted,
	}, states)

	assert.Equal(t, []string{"https://vendor.example/login"}, session.navigated)
	assert.Equal(t, "9876543210", session.values["#mobile"])
	assert.Equal(t, 1, extractor.calls)
}

func TestExecute_TypesOtpDigitByDigit(t *testing.T) {
	session := happySession()
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234", Source: models.OtpSourceWebhook}}
	extractor := &fakeExtractor{token: &models.ExtractedToken{Value: "tok-123", Tier: models.TokenTierURL}}

	orch := newTestOrchestrator(testProfile(), extractor)
	_, err := orch.Execute(context.Background(), session, mailbox, nil)
	require.NoError(t, err)

	assert.Equal(t, "1", session.values["#otp1"])
	assert.Equal(t, "2", session.values["#otp2"])
	assert.Equal(t, "3", session.values["#otp3"])
	assert.Equal(t, "4", session.values["#otp4"])
	assert.Contains(t, session.clicks, "#verify")

	assert.Equal(t, "4", session.values["#pin1"])
	assert.Equal(t, "3", session.values["#pin2"])
	assert.Equal(t, "2", session.values["#pin3"])
	assert.Equal(t, "1", session.values["#pin4"])
	assert.Contains(t, session.clicks, "#pinSubmit")
}

func TestExecute_OtpPromptNotFound_NeverConsumesOtp(t *testing.T) {
	session := happySession()
	session.visible["#otp1"] = false
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234"}}
	extractor := &fakeExtractor{}

	orch := newTestOrchestrator(testProfile(), extractor)
	_, err := orch.Execute(context.Background(), session, mailbox, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureOtpPromptNotFound, flowErr.Kind)
	assert.Equal(t, models.RunStateCredentialsSubmitted, flowErr.State)
	assert.Equal(t, 0, mailbox.awaitCalls, "mailbox must not be consumed when the prompt never appeared")
	assert.Equal(t, 0, extractor.calls)
}

func TestExecute_OtpTimeout(t *testing.T) {
	session := happySession()
	mailbox := &fakeMailbox{err: errors.New("timed out waiting for otp")}
	extractor := &fakeExtractor{}

	orch := newTestOrchestrator(testProfile(), extractor)
	_, err := orch.Execute(context.Background(), session, mailbox, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureOtpTimeout, flowErr.Kind)
	assert.Equal(t, models.RunStateAwaitingOtp, flowErr.State)
	assert.Equal(t, 1, mailbox.awaitCalls)
}

func TestExecute_CancelledRunOverridesOtpTimeout(t *testing.T) {
	session := happySession()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mailbox := &fakeMailbox{err: context.Canceled}

	orch := newTestOrchestrator(testProfile(), &fakeExtractor{})
	_, err := orch.Execute(ctx, session, mailbox, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureTimeout, flowErr.Kind)
}

func TestExecute_LoginFormError(t *testing.T) {
	session := happySession()
	session.visible["#mobile"] = false
	mailbox := &fakeMailbox{}

	orch := newTestOrchestrator(testProfile(), &fakeExtractor{})
	_, err := orch.Execute(context.Background(), session, mailbox, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureLoginForm, flowErr.Kind)
	assert.Equal(t, models.RunStateNavigatedToLogin, flowErr.State)
	assert.Equal(t, 0, mailbox.awaitCalls)
}

func TestExecute_NavigateFailure(t *testing.T) {
	session := happySession()
	session.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	orch := newTestOrchestrator(testProfile(), &fakeExtractor{})
	_, err := orch.Execute(context.Background(), session, &fakeMailbox{}, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureTransport, flowErr.Kind)
	assert.Equal(t, models.RunStateIdle, flowErr.State)
	assert.True(t, flowErr.Retryable())
}

func TestExecute_OtpRejected(t *testing.T) {
	session := happySession()
	// Pin submit never redirects, so the success marker never shows up
	delete(session.urlAfterClick, "#pinSubmit")
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234"}}

	orch := newTestOrchestrator(testProfile(), &fakeExtractor{})
	_, err := orch.Execute(context.Background(), session, mailbox, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureOtpRejected, flowErr.Kind)
	assert.Equal(t, models.RunStateOtpSubmitted, flowErr.State)
	assert.False(t, flowErr.Retryable())
}

func TestExecute_OtpLengthMismatchRejected(t *testing.T) {
	session := happySession()
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "12345"}}

	orch := newTestOrchestrator(testProfile(), &fakeExtractor{})
	_, err := orch.Execute(context.Background(), session, mailbox, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureOtpRejected, flowErr.Kind)
	assert.Empty(t, session.values["#otp1"], "no digit should be typed for a code that cannot fit")
}

func TestExecute_PinSkippedWhenAlreadySucceeded(t *testing.T) {
	session := happySession()
	// Vendor remembered the device: verify click redirects straight to the
	// callback and the pin prompt never renders.
	session.visible["#pin1"] = false
	session.urlAfterClick = map[string]string{
		"#verify": "https://backend.example/callback?RequestToken=tok-9",
	}
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234"}}
	extractor := &fakeExtractor{token: &models.ExtractedToken{Value: "tok-9", Tier: models.TokenTierURL}}

	orch := newTestOrchestrator(testProfile(), extractor)
	token, err := orch.Execute(context.Background(), session, mailbox, nil)
	require.NoError(t, err)
	assert.Equal(t, "tok-9", token.Value)
	assert.NotContains(t, session.clicks, "#pinSubmit")
}

func TestExecute_PinPromptMissingWithoutSuccess(t *testing.T) {
	session := happySession()
	session.visible["#pin1"] = false

	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234"}}
	orch := newTestOrchestrator(testProfile(), &fakeExtractor{})
	_, err := orch.Execute(context.Background(), session, mailbox, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureOtpRejected, flowErr.Kind)
}

func TestExecute_NoPinStepProfile(t *testing.T) {
	profile := testProfile()
	profile.Selectors.PinInputs = nil
	profile.Selectors.PinSubmitButton = ""

	session := happySession()
	session.urlAfterClick = map[string]string{
		"#verify": "https://backend.example/callback?RequestToken=tok-1",
	}
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234"}}
	extractor := &fakeExtractor{token: &models.ExtractedToken{Value: "tok-1", Tier: models.TokenTierURL}}

	orch := newTestOrchestrator(profile, extractor)
	token, err := orch.Execute(context.Background(), session, mailbox, nil)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.Value)
}

func TestExecute_ExtractorFailurePropagates(t *testing.T) {
	session := happySession()
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234"}}
	extractor := &fakeExtractor{err: models.NewFlowError(models.FailureTokenNotFound, models.RunStateAuthenticated, errors.New("no tier held a token"))}

	var states []models.RunState
	orch := newTestOrchestrator(testProfile(), extractor)
	_, err := orch.Execute(context.Background(), session, mailbox, func(state models.RunState) {
		states = append(states, state)
	})

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureTokenNotFound, flowErr.Kind)
	assert.Contains(t, states, models.RunStateAuthenticated)
	assert.NotContains(t, states, models.RunStateTokenExtracted)
}

func TestExecute_ProfileWithoutSuccessMarker(t *testing.T) {
	profile := testProfile()
	profile.Selectors.SuccessURLFragment = ""
	profile.Selectors.SuccessSelector = ""

	orch := newTestOrchestrator(profile, &fakeExtractor{})
	_, err := orch.Execute(context.Background(), happySession(), &fakeMailbox{}, nil)

	flowErr := flowErrorFrom(t, err)
	assert.Equal(t, models.FailureLoginForm, flowErr.Kind)
}

func TestExecute_SuccessSelectorMarker(t *testing.T) {
	profile := testProfile()
	profile.Selectors.SuccessURLFragment = ""
	profile.Selectors.SuccessSelector = "#dashboard"
	profile.Selectors.PinInputs = nil
	profile.Selectors.PinSubmitButton = ""

	session := happySession()
	session.visible["#dashboard"] = true
	mailbox := &fakeMailbox{event: models.OtpEvent{Value: "1234"}}
	extractor := &fakeExtractor{token: &models.ExtractedToken{Value: "tok-2", Tier: models.TokenTierPersistent}}

	orch := newTestOrchestrator(profile, extractor)
	token, err := orch.Execute(context.Background(), session, mailbox, nil)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token.Value)
}
