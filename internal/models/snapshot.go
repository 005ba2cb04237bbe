package models

import "time"

// Snapshot is the diagnostic bundle captured when a login attempt fails
// on a business rejection. The directory holds screenshot.png, page.html
// and snapshot.md; the record itself is persisted with the run.
type Snapshot struct {
	ID          string      `json:"id"`
	RunID       string      `json:"runId"`
	Attempt     int         `json:"attempt"`     // Login attempt the capture belongs to
	State       RunState    `json:"state"`       // State the run was in when it failed
	FailureKind FailureKind `json:"failureKind"` // Classification that triggered the capture
	PageURL     string      `json:"pageUrl"`     // Browser URL at capture time
	PageTitle   string      `json:"pageTitle"`   // Document title at capture time
	Dir         string      `json:"dir"`         // Directory holding the capture artifacts
	CapturedAt  time.Time   `json:"capturedAt"`
}

// Snapshot artifact file names within a snapshot directory
const (
	SnapshotScreenshotFile = "screenshot.png"
	SnapshotHTMLFile       = "page.html"
	SnapshotMarkdownFile   = "snapshot.md"
	SnapshotReportFile     = "snapshot.pdf"
	SnapshotTriageFile     = "triage.txt"
)
