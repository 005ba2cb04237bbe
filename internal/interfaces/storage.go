package interfaces

import (
	"time"

	"github.com/ternarybob/claviger/internal/models"
)

// RunStorage - interface for run history persistence
type RunStorage interface {
	// Run operations
	StoreRun(run *models.RunRecord) error
	GetRun(id string) (*models.RunRecord, error)
	ListRuns(limit int) ([]*models.RunRecord, error)
	DeleteRun(id string) error
	CountRuns() (int, error)

	// Retention operations
	PruneRuns(keep int) (int, error)

	// Bulk operations
	ClearAll() error
}

// OtpJournal - append-only journal of OTP deliveries with TTL expiry.
// The journal is diagnostic history; the live slot is the mailbox.
type OtpJournal interface {
	Append(event models.OtpEvent, ttl time.Duration) error
	Recent(limit int) ([]models.OtpEvent, error)
	Close() error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	RunStorage() RunStorage
	OtpJournal() OtpJournal
	DB() interface{}
	Close() error
}
