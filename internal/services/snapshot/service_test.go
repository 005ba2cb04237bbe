package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/models"
)

const samplePageHTML = `<html><head><title>Vendor Login</title><script>var x = 1;</script></head><body>
<h1>Vendor Login</h1>
<input type="tel" id="mobileNumber" name="mobile" placeholder="Mobile Number">
<input type="hidden" id="csrf" name="csrf_token">
<button type="submit" id="btnProceed">Proceed</button>
<p>Enter your registered mobile number to continue.</p>
</body></html>`

// stubSession serves canned page artifacts; navigation methods are not
// exercised by the snapshot service.
type stubSession struct {
	url           string
	title         string
	html          string
	htmlErr       error
	screenshot    []byte
	screenshotErr error
}

func (s *stubSession) Navigate(ctx context.Context, url string) error { return nil }
func (s *stubSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (s *stubSession) Exists(ctx context.Context, selector string) (bool, error) { return false, nil }
func (s *stubSession) SetValue(ctx context.Context, selector, value string) error {
	return nil
}
func (s *stubSession) Click(ctx context.Context, selector string) error      { return nil }
func (s *stubSession) CurrentURL(ctx context.Context) (string, error)         { return s.url, nil }
func (s *stubSession) Title(ctx context.Context) (string, error)              { return s.title, nil }
func (s *stubSession) LocalStorage(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
func (s *stubSession) SessionStorage(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
func (s *stubSession) Cookies(ctx context.Context) (map[string]string, error) { return nil, nil }
func (s *stubSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.screenshot, s.screenshotErr
}
func (s *stubSession) HTML(ctx context.Context) (string, error) { return s.html, s.htmlErr }
func (s *stubSession) Close() error                             { return nil }

type stubReport struct {
	pdf []byte
	err error
}

func (r *stubReport) BuildSnapshotReport(markdown string, screenshot []byte, title string) ([]byte, error) {
	return r.pdf, r.err
}

func newStubSession() *stubSession {
	return &stubSession{
		url:        "https://vendor.example/login?step=otp",
		title:      "Vendor Login",
		html:       samplePageHTML,
		screenshot: []byte{0x89, 0x50, 0x4E, 0x47},
	}
}

func TestCapture_WritesBundle(t *testing.T) {
	dir := t.TempDir()
	service := NewService(dir, &stubReport{pdf: []byte("%PDF-stub")}, arbor.NewLogger())

	snapshot, err := service.Capture(context.Background(), newStubSession(),
		"run-1", 2, models.RunStateCredentialsSubmitted, models.FailureOtpPromptNotFound)
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	assert.Equal(t, "run-1", snapshot.RunID)
	assert.Equal(t, 2, snapshot.Attempt)
	assert.Equal(t, models.FailureOtpPromptNotFound, snapshot.FailureKind)
	assert.Equal(t, "https://vendor.example/login?step=otp", snapshot.PageURL)
	assert.Equal(t, "Vendor Login", snapshot.PageTitle)
	assert.NotEmpty(t, snapshot.ID)

	bundleDir := filepath.Join(dir, "run-1", "attempt_2")
	assert.Equal(t, bundleDir, snapshot.Dir)
	for _, name := range []string{
		models.SnapshotScreenshotFile,
		models.SnapshotHTMLFile,
		models.SnapshotMarkdownFile,
		models.SnapshotReportFile,
	} {
		_, err := os.Stat(filepath.Join(bundleDir, name))
		assert.NoError(t, err, "expected %s in bundle", name)
	}
}

func TestCapture_MarkdownContent(t *testing.T) {
	dir := t.TempDir()
	service := NewService(dir, nil, arbor.NewLogger())

	_, err := service.Capture(context.Background(), newStubSession(),
		"run-2", 1, models.RunStateCredentialsSubmitted, models.FailureOtpPromptNotFound)
	require.NoError(t, err)

	markdown, err := service.ReadMarkdown("run-2", 1)
	require.NoError(t, err)

	assert.Contains(t, markdown, "# Login Failure Snapshot")
	assert.Contains(t, markdown, "otp_prompt_not_found")
	assert.Contains(t, markdown, "credentials_submitted")
	// Field inventory picks up the page's actual elements
	assert.Contains(t, markdown, "mobileNumber")
	assert.Contains(t, markdown, "btnProceed")
	assert.Contains(t, markdown, "Proceed")
	// Page content survives markdown conversion, scripts do not
	assert.Contains(t, markdown, "Enter your registered mobile number")
	assert.NotContains(t, markdown, "var x = 1;")
}

func TestCapture_BestEffortOnDeadSession(t *testing.T) {
	dir := t.TempDir()
	service := NewService(dir, nil, arbor.NewLogger())

	session := newStubSession()
	session.screenshotErr = errors.New("target closed")
	session.htmlErr = errors.New("target closed")

	snapshot, err := service.Capture(context.Background(), session,
		"run-3", 1, models.RunStateOtpSubmitted, models.FailureOtpRejected)
	require.NoError(t, err)

	// Markdown summary still exists even with no page artifacts
	markdown, err := service.ReadMarkdown("run-3", 1)
	require.NoError(t, err)
	assert.Contains(t, markdown, "otp_rejected")
	assert.Contains(t, markdown, "_page HTML unavailable_")

	_, statErr := os.Stat(filepath.Join(snapshot.Dir, models.SnapshotScreenshotFile))
	assert.True(t, os.IsNotExist(statErr), "no screenshot file should be written")
}

func TestReadMarkdown_Missing(t *testing.T) {
	service := NewService(t.TempDir(), nil, arbor.NewLogger())

	_, err := service.ReadMarkdown("no-such-run", 1)
	require.Error(t, err)
}

func TestFieldInventory_CapsRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 60; i++ {
		b.WriteString(`<input type="text" id="field` + strings.Repeat("x", i%3) + `">`)
	}
	b.WriteString("</body></html>")

	inventory := fieldInventory(b.String())
	assert.Contains(t, inventory, "_...and 20 more elements_")
}

func TestPageContent_Truncates(t *testing.T) {
	long := "<html><body><p>" + strings.Repeat("word ", 2000) + "</p></body></html>"

	content := pageContent(long, "https://vendor.example/login")
	assert.LessOrEqual(t, len(content), maxContentChars+64)
	assert.Contains(t, content, "_truncated_")
}
