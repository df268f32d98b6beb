package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	batchBucketName     = "batches"
	itemBucketName      = "items"
	itemIndexBucketName = "item_index"
)

// DB defines the interface for batch and item persistence
type DB interface {
	// SaveBatch saves a batch to the database
	SaveBatch(batch *Batch) error

	// GetBatch retrieves a batch by ID; returns ErrNotFound if absent
	GetBatch(id string) (*Batch, error)

	// FindActiveBatch returns the owner's batch in draft/processing/review,
	// or ErrNotFound if the owner has none
	FindActiveBatch(owner string) (*Batch, error)

	// DeleteBatch removes a batch record (items are deleted separately)
	DeleteBatch(id string) error

	// SaveItem saves an item to the database
	SaveItem(item *Item) error

	// GetItem retrieves an item by ID; returns ErrNotFound if absent
	GetItem(id string) (*Item, error)

	// ListItems returns a batch's items in creation (Seq) order
	ListItems(batchID string) ([]*Item, error)

	// DeleteItem removes a single item by ID
	DeleteItem(id string) error

	// DeleteItems removes all items belonging to a batch
	DeleteItems(batchID string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Items are keyed by
// batch ID and sequence number so a prefix scan yields them in creation
// order; a second bucket indexes item IDs to those keys.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{batchBucketName, itemBucketName, itemIndexBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// itemKey orders items by sequence number within their batch
func itemKey(batchID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s/%04d", batchID, seq))
}

// SaveBatch saves a batch to the database
func (b *BoltDB) SaveBatch(batch *Batch) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		data, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("marshaling batch: %w", err)
		}
		return bucket.Put([]byte(batch.ID), data)
	})
}

// GetBatch retrieves a batch by ID
func (b *BoltDB) GetBatch(id string) (*Batch, error) {
	var batch *Batch
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &batch)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// FindActiveBatch returns the owner's batch in draft/processing/review
func (b *BoltDB) FindActiveBatch(owner string) (*Batch, error) {
	var found *Batch
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var batch Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return fmt.Errorf("unmarshaling batch: %w", err)
			}
			if batch.Owner == owner && batch.Status.Active() {
				found = &batch
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("active batch for %s: %w", owner, ErrNotFound)
	}
	return found, nil
}

// DeleteBatch removes a batch record
func (b *BoltDB) DeleteBatch(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		return bucket.Delete([]byte(id))
	})
}

// SaveItem saves an item to the database
func (b *BoltDB) SaveItem(item *Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		key := itemKey(item.BatchID, item.Seq)
		if err := tx.Bucket([]byte(itemBucketName)).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket([]byte(itemIndexBucketName)).Put([]byte(item.ID), key)
	})
}

// GetItem retrieves an item by ID
func (b *BoltDB) GetItem(id string) (*Item, error) {
	var item *Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(itemIndexBucketName)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		data := tx.Bucket([]byte(itemBucketName)).Get(key)
		if data == nil {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns a batch's items in creation order
func (b *BoltDB) ListItems(batchID string) ([]*Item, error) {
	items := make([]*Item, 0)
	prefix := []byte(batchID + "/")
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(itemBucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteItem removes a single item by ID
func (b *BoltDB) DeleteItem(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		indexBucket := tx.Bucket([]byte(itemIndexBucketName))
		key := indexBucket.Get([]byte(id))
		if key == nil {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		if err := tx.Bucket([]byte(itemBucketName)).Delete(key); err != nil {
			return err
		}
		return indexBucket.Delete([]byte(id))
	})
}

// DeleteItems removes all items belonging to a batch
func (b *BoltDB) DeleteItems(batchID string) error {
	prefix := []byte(batchID + "/")
	return b.db.Update(func(tx *bbolt.Tx) error {
		itemBucket := tx.Bucket([]byte(itemBucketName))
		indexBucket := tx.Bucket([]byte(itemIndexBucketName))
		c := itemBucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			if err := indexBucket.Delete([]byte(item.ID)); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
