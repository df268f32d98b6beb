package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const recordBucketName = "records"

const dayFormat = "2006-01-02"

// BoltLedger implements the Ledger interface using BoltDB. Records are keyed
// by date so that recent-window lookups are cursor range scans.
type BoltLedger struct {
	db *bbolt.DB
}

// NewBoltLedger creates a new BoltLedger instance
func NewBoltLedger(path string) (*BoltLedger, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltLedger{db: db}, nil
}

// recordKey keys records as date/id so a cursor seek lands on the first
// record of a given day
func recordKey(date time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s/%s", date.Format(dayFormat), id))
}

// InsertRecord persists a new ledger record and returns its ID
func (b *BoltLedger) InsertRecord(ctx context.Context, record *Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put(recordKey(record.Date, record.ID), data)
	})
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// QueryRecentByDateAmount scans records dated within the trailing window and
// returns the IDs of those on the same day as date with an equal absolute
// amount
func (b *BoltLedger) QueryRecentByDateAmount(ctx context.Context, window time.Duration, date time.Time, absAmountCents int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := []byte(date.Add(-window).Format(dayFormat))
	end := []byte(date.Format(dayFormat) + "/\xff")
	targetDay := date.Format(dayFormat)

	matches := make([]string, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(recordBucketName)).Cursor()
		for k, v := c.Seek(start); k != nil && bytes.Compare(k, end) <= 0; k, v = c.Next() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			if record.Date.Format(dayFormat) != targetDay {
				continue
			}
			amount := record.AmountCents
			if amount < 0 {
				amount = -amount
			}
			if amount == absAmountCents {
				matches = append(matches, record.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// GetRecord retrieves a record by ID
func (b *BoltLedger) GetRecord(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(recordBucketName)).Cursor()
		suffix := []byte("/" + id)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if bytes.HasSuffix(k, suffix) {
				return json.Unmarshal(v, &record)
			}
		}
		return fmt.Errorf("record not found: %s", id)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Close closes the ledger store
func (b *BoltLedger) Close() error {
	return b.db.Close()
}
