// -----------------------------------------------------------------------
// Backend Dispatcher - delivers the harvested token to the trading API
// Transient failures are retried with capped exponential backoff
// -----------------------------------------------------------------------

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

// tokenEndpointPath is the backend's token ingestion route
const tokenEndpointPath = "/api/auth/token"

// Service posts extracted tokens to the backend. It owns no browser
// resources; by the time Dispatch runs the session that produced the
// token is already closed.
type Service struct {
	baseURL string
	client  *http.Client
	retry   *RetryConfig
	logger  arbor.ILogger
}

// NewService creates a dispatcher from backend config
func NewService(config common.BackendConfig, logger arbor.ILogger) *Service {
	retry := NewDefaultRetryConfig()
	if config.MaxAttempts > 0 {
		retry.MaxAttempts = config.MaxAttempts
	}
	if config.InitialBackoff > 0 {
		retry.InitialBackoff = config.InitialBackoff.Std()
	}
	if config.MaxBackoff > 0 {
		retry.MaxBackoff = config.MaxBackoff.Std()
	}

	timeout := config.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Service{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
		logger:  logger,
	}
}

// Ensure Service satisfies the dispatcher contract
var _ interfaces.TokenDispatcher = (*Service)(nil)

// Dispatch delivers the token, retrying transient failures up to the
// configured attempt budget. Exactly one DispatchResult comes back; on
// failure the error carries the dispatch failure kind.
func (s *Service) Dispatch(ctx context.Context, token *models.ExtractedToken, sourceTag string) (*models.DispatchResult, error) {
	if token == nil || strings.TrimSpace(token.Value) == "" {
		return nil, fmt.Errorf("dispatch called with empty token")
	}

	payload := models.TokenPayload{
		AccessToken: token.Value,
		Source:      sourceTag,
	}
	if !token.ExtractedAt.IsZero() {
		ts := token.ExtractedAt.UTC()
		payload.Timestamp = &ts
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token payload: %w", err)
	}

	endpoint := s.baseURL + tokenEndpointPath
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		statusCode, attemptErr := s.post(ctx, endpoint, body)

		if attemptErr == nil {
			s.logger.Info().
				Int("attempt", attempt).
				Int("status", statusCode).
				Str("tier", string(token.Tier)).
				Msg("Token dispatched to backend")
			return &models.DispatchResult{
				Status:      models.DispatchStatusSuccess,
				Attempts:    attempt,
				StatusCode:  statusCode,
				CompletedAt: time.Now(),
			}, nil
		}

		// Permanent rejection: the backend understood the request and
		// refused it. More attempts cannot change its mind.
		if statusCode > 0 && !IsRetryableStatus(statusCode) {
			s.logger.Error().
				Int("attempt", attempt).
				Int("status", statusCode).
				Err(attemptErr).
				Msg("Backend rejected token")
			result := &models.DispatchResult{
				Status:      models.DispatchStatusFailed,
				Attempts:    attempt,
				StatusCode:  statusCode,
				LastError:   attemptErr.Error(),
				CompletedAt: time.Now(),
			}
			return result, models.NewFlowError(models.FailureBackendRejected, models.RunStateTokenExtracted, attemptErr)
		}

		lastErr = attemptErr
		s.logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", s.retry.MaxAttempts).
			Int("status", statusCode).
			Err(attemptErr).
			Msg("Dispatch attempt failed")

		if attempt == s.retry.MaxAttempts {
			break
		}

		backoff := s.retry.CalculateBackoff(attempt)
		s.logger.Debug().
			Str("backoff", backoff.String()).
			Msg("Backing off before retry")

		select {
		case <-ctx.Done():
			result := &models.DispatchResult{
				Status:      models.DispatchStatusFailed,
				Attempts:    attempt,
				StatusCode:  statusCode,
				LastError:   ctx.Err().Error(),
				CompletedAt: time.Now(),
			}
			return result, models.NewFlowError(models.FailureBackendTransient, models.RunStateTokenExtracted, ctx.Err())
		case <-time.After(backoff):
		}
	}

	result := &models.DispatchResult{
		Status:      models.DispatchStatusFailed,
		Attempts:    s.retry.MaxAttempts,
		LastError:   lastErr.Error(),
		CompletedAt: time.Now(),
	}
	return result, models.NewFlowError(models.FailureBackendTransient, models.RunStateTokenExtracted,
		fmt.Errorf("dispatch failed after %d attempts: %w", s.retry.MaxAttempts, lastErr))
}

// post performs one attempt. statusCode is 0 for connection-level
// failures; err is nil only on 2xx.
func (s *Service) post(ctx context.Context, endpoint string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(detail))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return resp.StatusCode, fmt.Errorf("backend returned %d: %s", resp.StatusCode, message)
}
