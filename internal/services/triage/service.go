package triage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
	"google.golang.org/genai"
)

const (
	defaultTimeout   = 2 * time.Minute
	defaultMaxTokens = 1024

	// systemPrompt frames the model as a login-flow diagnostician. The
	// snapshot markdown already carries the page structure so the model
	// can reason about what the browser actually saw.
	systemPrompt = "You are a diagnostic assistant for an automated vendor login system. " +
		"You are given the failure classification of a login run and a markdown snapshot " +
		"of the page where it failed. Explain the most likely root cause in plain language " +
		"and suggest one concrete next step for the operator. Be brief: two or three " +
		"sentences. Do not invent page content that is not in the snapshot."
)

// Service produces short LLM-written notes explaining why a login run
// failed. The provider is inferred from the configured model name:
// "claude-*" routes to Anthropic, "gemini-*" to Google. Disabled unless
// both a model and an API key resolve.
type Service struct {
	config common.TriageConfig
	logger arbor.ILogger
}

var _ interfaces.TriageService = (*Service)(nil)

// NewService creates a triage service from config. The service is cheap
// to construct; provider clients are created per request so a bad key
// surfaces as a Summarize error rather than a startup failure.
func NewService(config common.TriageConfig, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		logger: logger,
	}
}

// IsEnabled reports whether triage is configured
func (s *Service) IsEnabled() bool {
	return s.config.Enabled && s.config.Model != ""
}

// Summarize asks the configured model for a short diagnosis of the failed
// run. Token values never appear in the prompt; the run record is reduced
// to its failure classification and attempt history.
func (s *Service) Summarize(ctx context.Context, record *models.RunRecord, snapshotMarkdown string) (string, error) {
	if !s.IsEnabled() {
		return "", fmt.Errorf("triage is not enabled")
	}
	if record == nil {
		return "", fmt.Errorf("run record is required")
	}

	apiKey, err := s.resolveAPIKey()
	if err != nil {
		return "", err
	}

	prompt := buildPrompt(record, snapshotMarkdown)

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	start := time.Now()
	model := strings.ToLower(strings.TrimSpace(s.config.Model))

	var note string
	switch {
	case strings.HasPrefix(model, "claude-"):
		note, err = s.summarizeWithClaude(ctx, apiKey, prompt)
	case strings.HasPrefix(model, "gemini-"):
		note, err = s.summarizeWithGemini(ctx, apiKey, prompt)
	default:
		return "", fmt.Errorf("cannot infer provider from model %q (expected claude-* or gemini-*)", s.config.Model)
	}
	if err != nil {
		return "", fmt.Errorf("triage request failed: %w", err)
	}

	note = strings.TrimSpace(note)
	if note == "" {
		return "", fmt.Errorf("triage model returned an empty response")
	}

	s.logger.Info().
		Str("run_id", record.ID).
		Str("model", s.config.Model).
		Dur("duration", time.Since(start)).
		Int("note_length", len(note)).
		Msg("Triage note generated")

	return note, nil
}

func (s *Service) summarizeWithClaude(ctx context.Context, apiKey, prompt string) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	maxTokens := s.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}
	if s.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.config.Temperature))
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from Anthropic API")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func (s *Service) summarizeWithGemini(ctx context.Context, apiKey, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	if s.config.Temperature > 0 {
		config.Temperature = genai.Ptr(s.config.Temperature)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, s.config.Model, contents, config)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from Gemini API")
	}
	return resp.Text(), nil
}

// resolveAPIKey prefers the configured key and falls back to the
// provider's conventional environment variable.
func (s *Service) resolveAPIKey() (string, error) {
	if s.config.APIKey != "" {
		return s.config.APIKey, nil
	}

	model := strings.ToLower(strings.TrimSpace(s.config.Model))
	var envVar string
	switch {
	case strings.HasPrefix(model, "claude-"):
		envVar = "ANTHROPIC_API_KEY"
	case strings.HasPrefix(model, "gemini-"):
		envVar = "GEMINI_API_KEY"
	default:
		return "", fmt.Errorf("cannot infer provider from model %q (expected claude-* or gemini-*)", s.config.Model)
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no API key configured for triage (set triage.api_key or %s)", envVar)
}

func (s *Service) timeout() time.Duration {
	if s.config.Timeout != "" {
		if d, err := time.ParseDuration(s.config.Timeout); err == nil && d > 0 {
			return d
		}
		s.logger.Warn().Str("timeout", s.config.Timeout).Msg("Invalid triage timeout, using default")
	}
	return defaultTimeout
}

// buildPrompt reduces the run record to the failure context the model
// needs. Credentials and token values are never part of the record
// fields used here.
func buildPrompt(record *models.RunRecord, snapshotMarkdown string) string {
	var b strings.Builder

	b.WriteString("A scheduled vendor login run failed.\n\n")
	fmt.Fprintf(&b, "Vendor: %s\n", record.Vendor)
	fmt.Fprintf(&b, "Final state: %s\n", record.State)
	if record.FailureKind != "" {
		fmt.Fprintf(&b, "Failure classification: %s\n", record.FailureKind)
	}
	if record.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", record.Error)
	}
	fmt.Fprintf(&b, "Attempts: %d\n", len(record.Attempts))

	for _, attempt := range record.Attempts {
		fmt.Fprintf(&b, "  attempt %d: reached %s", attempt.Number, attempt.State)
		if attempt.FailureKind != "" {
			fmt.Fprintf(&b, ", failed as %s", attempt.FailureKind)
		}
		if attempt.Error != "" {
			fmt.Fprintf(&b, " (%s)", attempt.Error)
		}
		b.WriteString("\n")
	}

	if snapshotMarkdown != "" {
		b.WriteString("\nPage snapshot at the point of failure:\n\n")
		b.WriteString(snapshotMarkdown)
	} else {
		b.WriteString("\nNo page snapshot is available for this failure.\n")
	}

	return b.String()
}
