package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// StoreRun upserts a run record. Called on start, every state change and
// completion, so the stored record always reflects run progress.
func (s *RunStorage) StoreRun(run *models.RunRecord) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run record requires an ID")
	}

	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}

// GetRun returns a stored run by ID
func (s *RunStorage) GetRun(id string) (*models.RunRecord, error) {
	var run models.RunRecord
	if err := s.db.Store().Get(id, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns recent runs, newest first
func (s *RunStorage) ListRuns(limit int) ([]*models.RunRecord, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.RunRecord
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.RunRecord, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// DeleteRun removes a run record. Missing records are not an error.
func (s *RunStorage) DeleteRun(id string) error {
	if err := s.db.Store().Delete(id, &models.RunRecord{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// CountRuns returns the number of stored run records
func (s *RunStorage) CountRuns() (int, error) {
	count, err := s.db.Store().Count(&models.RunRecord{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return int(count), nil
}

// PruneRuns deletes everything beyond the newest keep records and returns
// how many were removed
func (s *RunStorage) PruneRuns(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	var stale []models.RunRecord
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse().Skip(keep)
	if err := s.db.Store().Find(&stale, query); err != nil {
		return 0, fmt.Errorf("failed to find stale runs: %w", err)
	}

	pruned := 0
	for i := range stale {
		if err := s.db.Store().Delete(stale[i].ID, &models.RunRecord{}); err != nil {
			s.logger.Warn().Err(err).Str("run_id", stale[i].ID).Msg("Failed to prune run record")
			continue
		}
		pruned++
	}

	return pruned, nil
}

// ClearAll removes every run record
func (s *RunStorage) ClearAll() error {
	if err := s.db.Store().DeleteMatching(&models.RunRecord{}, badgerhold.Where("ID").Ne("")); err != nil {
		return fmt.Errorf("failed to clear runs: %w", err)
	}
	return nil
}
