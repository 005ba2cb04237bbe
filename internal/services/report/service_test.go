package report

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const sampleMarkdown = `# Login Failure Snapshot

- **Run**: run-123
- **State**: credentials_submitted
- **Failure**: otp_prompt_not_found

## Form Fields

| Tag | Type | ID | Name |
|-----|------|----|------|
| input | tel | mobileNumber | mobile |
| button | submit | btnProceed | |

## Page Content

The vendor page said ` + "`session expired`" + ` and offered nothing else.
`

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBuildSnapshotReport(t *testing.T) {
	service := NewService(arbor.NewLogger())

	pdf, err := service.BuildSnapshotReport(sampleMarkdown, tinyPNG(t), "run-123 snapshot")
	require.NoError(t, err)
	require.NotEmpty(t, pdf)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF"), "output should be a PDF document")
}

func TestBuildSnapshotReport_NoScreenshot(t *testing.T) {
	service := NewService(arbor.NewLogger())

	pdf, err := service.BuildSnapshotReport(sampleMarkdown, nil, "run-123 snapshot")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF"))
}

func TestBuildSnapshotReport_BadScreenshotStillRenders(t *testing.T) {
	service := NewService(arbor.NewLogger())

	pdf, err := service.BuildSnapshotReport(sampleMarkdown, []byte("not a png"), "run-123 snapshot")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF"))
}

func TestBuildSnapshotReport_EmptyMarkdown(t *testing.T) {
	service := NewService(arbor.NewLogger())

	pdf, err := service.BuildSnapshotReport("", nil, "empty")
	require.NoError(t, err)
	assert.NotEmpty(t, pdf)
}
