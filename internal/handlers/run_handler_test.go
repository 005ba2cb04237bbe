package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
	"github.com/ternarybob/claviger/internal/services/runner"
)

// mockRunService implements interfaces.RunService for testing
type mockRunService struct {
	startRunFunc func(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error)
	getRunFunc   func(id string) (*models.RunRecord, error)
	listRunsFunc func(limit int) ([]*models.RunRecord, error)
	activeID     string
}

func (m *mockRunService) StartRun(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error) {
	if m.startRunFunc != nil {
		return m.startRunFunc(ctx, trigger)
	}
	return nil, nil
}

func (m *mockRunService) ExecuteRun(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error) {
	if m.startRunFunc != nil {
		return m.startRunFunc(ctx, trigger)
	}
	return nil, nil
}

func (m *mockRunService) GetRun(id string) (*models.RunRecord, error) {
	if m.getRunFunc != nil {
		return m.getRunFunc(id)
	}
	return nil, nil
}

func (m *mockRunService) ListRuns(limit int) ([]*models.RunRecord, error) {
	if m.listRunsFunc != nil {
		return m.listRunsFunc(limit)
	}
	return nil, nil
}

func (m *mockRunService) ActiveRunID() (string, bool) {
	return m.activeID, m.activeID != ""
}

// mockSnapshotService implements interfaces.SnapshotService for testing
type mockSnapshotService struct {
	readMarkdownFunc func(runID string, attempt int) (string, error)
}

func (m *mockSnapshotService) Capture(ctx context.Context, session interfaces.BrowserSession, runID string, attempt int, state models.RunState, kind models.FailureKind) (*models.Snapshot, error) {
	return nil, nil
}

func (m *mockSnapshotService) ReadMarkdown(runID string, attempt int) (string, error) {
	if m.readMarkdownFunc != nil {
		return m.readMarkdownFunc(runID, attempt)
	}
	return "", errors.New("no snapshot")
}

func (m *mockSnapshotService) Dir(runID string, attempt int) string {
	return ""
}

func sampleRunRecord(id string) *models.RunRecord {
	return &models.RunRecord{
		ID:        id,
		Vendor:    "fivepaisa",
		Trigger:   models.RunTriggerManual,
		Status:    models.RunStatusSucceeded,
		State:     models.RunStateTokenExtracted,
		CreatedAt: time.Now().UTC(),
		Token: &models.ExtractedToken{
			Value:       "supersecrettoken123456",
			Tier:        models.TokenTierURL,
			Key:         "RequestToken",
			ExtractedAt: time.Now().UTC(),
		},
	}
}

func TestStartRunHandler_Accepted(t *testing.T) {
	record := sampleRunRecord("run-1")
	mock := &mockRunService{
		startRunFunc: func(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error) {
			if trigger != models.RunTriggerManual {
				t.Errorf("Expected manual trigger, got %q", trigger)
			}
			return record, nil
		},
	}

	handler := NewRunHandler(mock, &mockSnapshotService{}, arbor.NewLogger())
	req := httptest.NewRequest("POST", "/api/runs", nil)
	rec := httptest.NewRecorder()
	handler.StartRunHandler(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}

	body := rec.Body.String()
	if strings.Contains(body, "supersecrettoken123456") {
		t.Error("Response must not contain the raw token value")
	}
	if !strings.Contains(body, "supe...3456") {
		t.Errorf("Expected masked token in response, got %s", body)
	}
}

func TestStartRunHandler_Conflict(t *testing.T) {
	mock := &mockRunService{
		startRunFunc: func(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error) {
			return nil, runner.ErrRunActive
		},
	}

	handler := NewRunHandler(mock, &mockSnapshotService{}, arbor.NewLogger())
	req := httptest.NewRequest("POST", "/api/runs", nil)
	rec := httptest.NewRecorder()
	handler.StartRunHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rec.Code)
	}
}

func TestStartRunHandler_Error(t *testing.T) {
	mock := &mockRunService{
		startRunFunc: func(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error) {
			return nil, errors.New("browser failed to start")
		},
	}

	handler := NewRunHandler(mock, &mockSnapshotService{}, arbor.NewLogger())
	req := httptest.NewRequest("POST", "/api/runs", nil)
	rec := httptest.NewRecorder()
	handler.StartRunHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
}

func TestListRunsHandler(t *testing.T) {
	var seenLimit int
	mock := &mockRunService{
		listRunsFunc: func(limit int) ([]*models.RunRecord, error) {
			seenLimit = limit
			return []*models.RunRecord{sampleRunRecord("run-2"), sampleRunRecord("run-1")}, nil
		},
	}

	handler := NewRunHandler(mock, &mockSnapshotService{}, arbor.NewLogger())
	req := httptest.NewRequest("GET", "/api/runs?limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ListRunsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if seenLimit != 10 {
		t.Errorf("Expected limit 10 passed through, got %d", seenLimit)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if int(response["count"].(float64)) != 2 {
		t.Errorf("Expected count 2, got %v", response["count"])
	}
}

func TestGetRunHandler(t *testing.T) {
	mock := &mockRunService{
		getRunFunc: func(id string) (*models.RunRecord, error) {
			if id != "run-1" {
				t.Errorf("Expected run-1 requested, got %q", id)
			}
			return sampleRunRecord(id), nil
		},
	}

	handler := NewRunHandler(mock, &mockSnapshotService{}, arbor.NewLogger())
	req := httptest.NewRequest("GET", "/api/runs/run-1", nil)
	rec := httptest.NewRecorder()
	handler.GetRunHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, "supersecrettoken123456") {
		t.Error("Response must not contain the raw token value")
	}
}

func TestGetRunHandler_NotFound(t *testing.T) {
	// Storage surfaces missing runs as an error; the handler answers 404
	svc := &mockRunService{
		getRunFunc: func(id string) (*models.RunRecord, error) {
			return nil, fmt.Errorf("run not found: %s", id)
		},
	}
	handler := NewRunHandler(svc, &mockSnapshotService{}, arbor.NewLogger())
	req := httptest.NewRequest("GET", "/api/runs/missing", nil)
	rec := httptest.NewRecorder()
	handler.GetRunHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestGetRunHandler_MissingID(t *testing.T) {
	handler := NewRunHandler(&mockRunService{}, &mockSnapshotService{}, arbor.NewLogger())
	req := httptest.NewRequest("GET", "/api/runs/", nil)
	rec := httptest.NewRecorder()
	handler.GetRunHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestSnapshotHandler(t *testing.T) {
	record := sampleRunRecord("run-1")
	record.Status = models.RunStatusFailed
	record.Attempts = []models.AttemptRecord{
		{Number: 1, SnapshotID: ""},
		{Number: 2, SnapshotID: "run-1-attempt-2"},
	}

	mock := &mockRunService{
		getRunFunc: func(id string) (*models.RunRecord, error) {
			return record, nil
		},
	}
	snapshots := &mockSnapshotService{
		readMarkdownFunc: func(runID string, attempt int) (string, error) {
			if attempt != 2 {
				t.Errorf("Expected attempt 2 read, got %d", attempt)
			}
			return "# Login Failure Snapshot\n\n| Field | Value |\n|---|---|\n| input | identifier |\n", nil
		},
	}

	handler := NewRunHandler(mock, snapshots, arbor.NewLogger())
	req := httptest.NewRequest("GET", "/api/runs/run-1/snapshot", nil)
	rec := httptest.NewRecorder()
	handler.SnapshotHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html content type, got %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "<h1") {
		t.Errorf("Expected rendered heading, got %s", body)
	}
	if !strings.Contains(body, "<table>") {
		t.Errorf("Expected rendered table, got %s", body)
	}
}

func TestSnapshotHandler_NoSnapshot(t *testing.T) {
	record := sampleRunRecord("run-1")
	mock := &mockRunService{
		getRunFunc: func(id string) (*models.RunRecord, error) {
			return record, nil
		},
	}

	handler := NewRunHandler(mock, &mockSnapshotService{}, arbor.NewLogger())
	req := httptest.NewRequest("GET", "/api/runs/run-1/snapshot", nil)
	rec := httptest.NewRecorder()
	handler.SnapshotHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}
