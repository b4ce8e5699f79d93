// Package vault stores named personalization tags, each backed by an
// ordered pool of single-use values. Consumption runs inside a single
// bbolt write transaction, so concurrent TakeNext calls can never hand
// the same value to two callers.
package vault

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mailburst/mailburst/internal/metrics"
)

var (
	bucketTags   = []byte("tags")
	bucketValues = []byte("tag_values")
)

// Tag is a named pool of single-use values.
type Tag struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// TagCounts reports pool usage for one tag.
type TagCounts struct {
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
}

type valueEntry struct {
	Value    string `json:"value"`
	Consumed bool   `json:"consumed"`
}

// Vault is the bbolt-backed tag store.
type Vault struct {
	db *bolt.DB
}

func Open(path string) (*Vault, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTags, bucketValues} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Vault{db: db}, nil
}

func (v *Vault) Close() error {
	return v.db.Close()
}

// CreateTag registers a new tag name. Names are unique.
func (v *Vault) CreateTag(name string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tag name is required")
	}

	var tag *Tag
	err := v.db.Update(func(tx *bolt.Tx) error {
		tags := tx.Bucket(bucketTags)

		var exists bool
		tags.ForEach(func(k, val []byte) error {
			var t Tag
			if err := json.Unmarshal(val, &t); err == nil && t.Name == name {
				exists = true
			}
			return nil
		})
		if exists {
			return fmt.Errorf("tag %q already exists", name)
		}

		id, err := tags.NextSequence()
		if err != nil {
			return err
		}

		tag = &Tag{ID: id, Name: name}
		data, err := json.Marshal(tag)
		if err != nil {
			return err
		}
		if err := tags.Put(itob(id), data); err != nil {
			return err
		}

		_, err = tx.Bucket(bucketValues).CreateBucketIfNotExists(itob(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// GetTag returns a tag by ID, nil if absent.
func (v *Vault) GetTag(id uint64) (*Tag, error) {
	var tag *Tag
	err := v.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTags).Get(itob(id))
		if data == nil {
			return nil
		}
		t := &Tag{}
		if err := json.Unmarshal(data, t); err != nil {
			return err
		}
		tag = t
		return nil
	})
	return tag, err
}

// ListTags returns all tags with their counts, in creation order.
func (v *Vault) ListTags() ([]Tag, map[uint64]TagCounts, error) {
	var tags []Tag
	counts := make(map[uint64]TagCounts)

	err := v.db.View(func(tx *bolt.Tx) error {
		values := tx.Bucket(bucketValues)
		return tx.Bucket(bucketTags).ForEach(func(k, val []byte) error {
			var t Tag
			if err := json.Unmarshal(val, &t); err != nil {
				return nil
			}
			tags = append(tags, t)
			counts[t.ID] = countValues(values.Bucket(k))
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return tags, counts, nil
}

// DeleteTag removes a tag and its value pool.
func (v *Vault) DeleteTag(id uint64) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTags).Delete(itob(id)); err != nil {
			return err
		}
		values := tx.Bucket(bucketValues)
		if values.Bucket(itob(id)) != nil {
			return values.DeleteBucket(itob(id))
		}
		return nil
	})
}

// AddValues splits raw text on newlines, trims each line, drops
// empties, and appends the rest as unconsumed values. Returns the
// number added.
func (v *Vault) AddValues(id uint64, rawText string) (int, error) {
	lines := strings.Split(strings.ReplaceAll(rawText, "\r\n", "\n"), "\n")

	added := 0
	err := v.db.Update(func(tx *bolt.Tx) error {
		pool, err := v.valuePool(tx, id)
		if err != nil {
			return err
		}

		for _, line := range lines {
			value := strings.TrimSpace(line)
			if value == "" {
				continue
			}

			seq, err := pool.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(valueEntry{Value: value})
			if err != nil {
				return err
			}
			if err := pool.Put(itob(seq), data); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// TakeNext atomically claims the oldest unconsumed value for the named
// tag. The read and the consumed mark happen in one write transaction.
// Returns ok=false when the tag is unknown or its pool is exhausted.
func (v *Vault) TakeNext(tagName string) (string, bool, error) {
	var (
		value string
		ok    bool
	)

	err := v.db.Update(func(tx *bolt.Tx) error {
		id, found := findTagByName(tx, tagName)
		if !found {
			return nil
		}

		pool := tx.Bucket(bucketValues).Bucket(itob(id))
		if pool == nil {
			return nil
		}

		c := pool.Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var entry valueEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				continue
			}
			if entry.Consumed {
				continue
			}

			entry.Consumed = true
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := pool.Put(k, data); err != nil {
				return err
			}

			value = entry.Value
			ok = true
			return nil
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if ok {
		metrics.IncTagValuesConsumed()
	}
	return value, ok, nil
}

// Reset clears all consumed flags for one tag. Values keep their
// order; nothing is deleted.
func (v *Vault) Reset(id uint64) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		pool, err := v.valuePool(tx, id)
		if err != nil {
			return err
		}

		c := pool.Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var entry valueEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				continue
			}
			if !entry.Consumed {
				continue
			}

			entry.Consumed = false
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := pool.Put(k, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Counts returns pool usage for one tag.
func (v *Vault) Counts(id uint64) (TagCounts, error) {
	var counts TagCounts
	err := v.db.View(func(tx *bolt.Tx) error {
		counts = countValues(tx.Bucket(bucketValues).Bucket(itob(id)))
		return nil
	})
	return counts, err
}

// Value is one pool entry as exposed to callers.
type Value struct {
	Value    string `json:"value"`
	Consumed bool   `json:"consumed"`
}

// Values returns the full pool for one tag in order, consumed or not.
func (v *Vault) Values(id uint64) ([]Value, error) {
	var values []Value
	err := v.db.View(func(tx *bolt.Tx) error {
		pool := tx.Bucket(bucketValues).Bucket(itob(id))
		if pool == nil {
			return nil
		}
		return pool.ForEach(func(k, raw []byte) error {
			var entry valueEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return nil
			}
			values = append(values, Value{Value: entry.Value, Consumed: entry.Consumed})
			return nil
		})
	})
	return values, err
}

// Unused returns the remaining unconsumed values in pool order.
func (v *Vault) Unused(id uint64) ([]string, error) {
	var values []string
	err := v.db.View(func(tx *bolt.Tx) error {
		pool := tx.Bucket(bucketValues).Bucket(itob(id))
		if pool == nil {
			return nil
		}
		return pool.ForEach(func(k, raw []byte) error {
			var entry valueEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return nil
			}
			if !entry.Consumed {
				values = append(values, entry.Value)
			}
			return nil
		})
	})
	return values, err
}

func (v *Vault) valuePool(tx *bolt.Tx, id uint64) (*bolt.Bucket, error) {
	if tx.Bucket(bucketTags).Get(itob(id)) == nil {
		return nil, fmt.Errorf("tag %d not found", id)
	}
	return tx.Bucket(bucketValues).CreateBucketIfNotExists(itob(id))
}

func findTagByName(tx *bolt.Tx, name string) (uint64, bool) {
	var (
		id    uint64
		found bool
	)
	tx.Bucket(bucketTags).ForEach(func(k, val []byte) error {
		var t Tag
		if err := json.Unmarshal(val, &t); err == nil && t.Name == name {
			id = t.ID
			found = true
		}
		return nil
	})
	return id, found
}

func countValues(pool *bolt.Bucket) TagCounts {
	var counts TagCounts
	if pool == nil {
		return counts
	}
	pool.ForEach(func(k, raw []byte) error {
		var entry valueEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil
		}
		counts.Total++
		if !entry.Consumed {
			counts.Remaining++
		}
		return nil
	})
	return counts
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
