package badger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

// journalKeyPrefix namespaces journal entries in the shared badger keyspace
const journalKeyPrefix = "otp:"

// OtpJournal records accepted OTP deposits as raw badger entries with a
// TTL, so the operator can see notifier behavior without the journal
// growing unbounded. Codes are masked before they touch disk.
type OtpJournal struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewOtpJournal creates a new OtpJournal instance
func NewOtpJournal(db *BadgerDB, logger arbor.ILogger) interfaces.OtpJournal {
	return &OtpJournal{
		db:     db,
		logger: logger,
	}
}

// Append journals one accepted deposit under otp:{timestamp}. The entry
// expires on its own after ttl; a zero ttl keeps it until ClearAll-level
// intervention.
func (j *OtpJournal) Append(event models.OtpEvent, ttl time.Duration) error {
	entry := event
	entry.Value = strings.Repeat("*", len(event.Value))
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%d", journalKeyPrefix, entry.ReceivedAt.UnixNano()))

	err = j.db.Raw().Update(func(txn *badgerdb.Txn) error {
		e := badgerdb.NewEntry(key, value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to journal otp deposit: %w", err)
	}

	return nil
}

// Recent returns the newest journal entries first. Expired entries are
// dropped by badger itself and never come back.
func (j *OtpJournal) Recent(limit int) ([]models.OtpEvent, error) {
	prefix := []byte(journalKeyPrefix)
	var events []models.OtpEvent

	err := j.db.Raw().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek past the last key in the range
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(events) >= limit {
				break
			}

			err := it.Item().Value(func(val []byte) error {
				var event models.OtpEvent
				if err := json.Unmarshal(val, &event); err != nil {
					return err
				}
				events = append(events, event)
				return nil
			})
			if err != nil {
				j.logger.Warn().Err(err).Msg("Skipping unreadable journal entry")
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read otp journal: %w", err)
	}

	return events, nil
}

// Close is a no-op; the manager owns the database connection
func (j *OtpJournal) Close() error {
	return nil
}
