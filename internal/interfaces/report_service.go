package interfaces

// ReportService renders snapshot bundles into a single shareable document
type ReportService interface {
	// BuildSnapshotReport renders the markdown summary, followed by the
	// page screenshot when one was captured, into a PDF
	BuildSnapshotReport(markdown string, screenshot []byte, title string) ([]byte, error)
}
