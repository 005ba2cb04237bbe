// -----------------------------------------------------------------------
// Snapshot Service - when a login attempt fails on a business error,
// captures what the vendor page actually looked like: screenshot, raw
// HTML, and a markdown summary with a form-field inventory
// -----------------------------------------------------------------------

package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

const (
	// maxContentChars bounds the page-content section so triage prompts
	// and operator reads stay manageable
	maxContentChars = 4000
	maxFieldRows    = 40
)

var multiNewline = regexp.MustCompile(`\n{3,}`)

// Service implements interfaces.SnapshotService
type Service struct {
	baseDir string
	report  interfaces.ReportService
	logger  arbor.ILogger
}

var _ interfaces.SnapshotService = (*Service)(nil)

// NewService creates a snapshot service writing bundles under baseDir
func NewService(baseDir string, report interfaces.ReportService, logger arbor.ILogger) *Service {
	return &Service{
		baseDir: baseDir,
		report:  report,
		logger:  logger,
	}
}

// Dir returns the artifact directory for a run attempt
func (s *Service) Dir(runID string, attempt int) string {
	return filepath.Join(s.baseDir, runID, fmt.Sprintf("attempt_%d", attempt))
}

// Capture writes the snapshot bundle for a failed attempt. Artifact
// capture is best effort: a half-dead browser session should still
// produce whatever it can, and only an unwritable bundle directory is
// a hard failure.
func (s *Service) Capture(ctx context.Context, session interfaces.BrowserSession, runID string, attempt int, state models.RunState, kind models.FailureKind) (*models.Snapshot, error) {
	dir := s.Dir(runID, attempt)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	snapshot := &models.Snapshot{
		ID:          common.NewSnapshotID(),
		RunID:       runID,
		Attempt:     attempt,
		State:       state,
		FailureKind: kind,
		Dir:         dir,
		CapturedAt:  time.Now().UTC(),
	}

	if pageURL, err := session.CurrentURL(ctx); err == nil {
		snapshot.PageURL = pageURL
	} else {
		s.logger.Warn().Err(err).Str("run_id", runID).Msg("Snapshot could not read page URL")
	}
	if title, err := session.Title(ctx); err == nil {
		snapshot.PageTitle = title
	}

	var screenshot []byte
	if buf, err := session.Screenshot(ctx); err == nil {
		screenshot = buf
		if err := os.WriteFile(filepath.Join(dir, models.SnapshotScreenshotFile), buf, 0644); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write snapshot screenshot")
		}
	} else {
		s.logger.Warn().Err(err).Str("run_id", runID).Msg("Snapshot could not capture screenshot")
	}

	var pageHTML string
	if html, err := session.HTML(ctx); err == nil {
		pageHTML = html
		if err := os.WriteFile(filepath.Join(dir, models.SnapshotHTMLFile), []byte(html), 0644); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write snapshot html")
		}
	} else {
		s.logger.Warn().Err(err).Str("run_id", runID).Msg("Snapshot could not capture page html")
	}

	markdown := s.buildMarkdown(snapshot, pageHTML)
	if err := os.WriteFile(filepath.Join(dir, models.SnapshotMarkdownFile), []byte(markdown), 0644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot summary: %w", err)
	}

	if s.report != nil {
		title := fmt.Sprintf("Snapshot %s attempt %d", runID, attempt)
		if pdf, err := s.report.BuildSnapshotReport(markdown, screenshot, title); err == nil {
			if err := os.WriteFile(filepath.Join(dir, models.SnapshotReportFile), pdf, 0644); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to write snapshot report")
			}
		} else {
			s.logger.Warn().Err(err).Msg("Failed to build snapshot report")
		}
	}

	s.logger.Info().
		Str("run_id", runID).
		Int("attempt", attempt).
		Str("kind", kind.String()).
		Str("dir", dir).
		Msg("Failure snapshot captured")

	return snapshot, nil
}

// ReadMarkdown returns the markdown summary of a captured snapshot
func (s *Service) ReadMarkdown(runID string, attempt int) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID, attempt), models.SnapshotMarkdownFile))
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot summary: %w", err)
	}
	return string(data), nil
}

// buildMarkdown assembles the operator-facing summary: failure context,
// an inventory of every form field actually on the page, then the page
// content itself.
func (s *Service) buildMarkdown(snapshot *models.Snapshot, pageHTML string) string {
	var b strings.Builder

	b.WriteString("# Login Failure Snapshot\n\n")
	fmt.Fprintf(&b, "- **Run**: %s\n", snapshot.RunID)
	fmt.Fprintf(&b, "- **Attempt**: %d\n", snapshot.Attempt)
	fmt.Fprintf(&b, "- **State**: %s\n", snapshot.State)
	fmt.Fprintf(&b, "- **Failure**: %s\n", snapshot.FailureKind)
	if snapshot.PageURL != "" {
		fmt.Fprintf(&b, "- **Page URL**: %s\n", snapshot.PageURL)
	}
	if snapshot.PageTitle != "" {
		fmt.Fprintf(&b, "- **Page Title**: %s\n", snapshot.PageTitle)
	}
	fmt.Fprintf(&b, "- **Captured**: %s\n", snapshot.CapturedAt.Format(time.RFC3339))

	b.WriteString("\n## Form Fields\n\n")
	b.WriteString(fieldInventory(pageHTML))

	b.WriteString("\n## Page Content\n\n")
	b.WriteString(pageContent(pageHTML, snapshot.PageURL))
	b.WriteString("\n")

	return b.String()
}

// fieldInventory tabulates the interactive elements on the page. When a
// profile selector stops matching, this is the first place to look for
// what the vendor renamed it to.
func fieldInventory(pageHTML string) string {
	if pageHTML == "" {
		return "_page HTML unavailable_\n"
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return "_page HTML could not be parsed_\n"
	}

	var rows []string
	total := 0
	doc.Find("input, button, select, textarea").Each(func(_ int, el *goquery.Selection) {
		total++
		if len(rows) >= maxFieldRows {
			return
		}
		tag := goquery.NodeName(el)
		label := el.AttrOr("placeholder", "")
		if tag == "button" && label == "" {
			label = strings.TrimSpace(el.Text())
		}
		rows = append(rows, fmt.Sprintf("| %s | %s | %s | %s | %s |",
			tag,
			el.AttrOr("type", ""),
			el.AttrOr("id", ""),
			el.AttrOr("name", ""),
			label,
		))
	})

	if total == 0 {
		return "_no form fields found on the page_\n"
	}

	var b strings.Builder
	b.WriteString("| Tag | Type | ID | Name | Label |\n")
	b.WriteString("|-----|------|----|------|-------|\n")
	for _, row := range rows {
		b.WriteString(row)
		b.WriteString("\n")
	}
	if total > len(rows) {
		fmt.Fprintf(&b, "\n_...and %d more elements_\n", total-len(rows))
	}
	return b.String()
}

// pageContent converts the page body to markdown with boilerplate
// stripped, truncated to keep the summary readable
func pageContent(pageHTML, pageURL string) string {
	if pageHTML == "" {
		return "_page HTML unavailable_"
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return "_page HTML could not be parsed_"
	}
	doc.Find("script, style, noscript, svg").Remove()

	bodyHTML, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(bodyHTML) == "" {
		return "_page body is empty_"
	}

	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(bodyHTML)
	if err != nil {
		return "_content conversion failed_"
	}

	markdown = strings.TrimSpace(multiNewline.ReplaceAllString(markdown, "\n\n"))
	if len(markdown) > maxContentChars {
		markdown = markdown[:maxContentChars] + "\n\n_truncated_"
	}
	return markdown
}
