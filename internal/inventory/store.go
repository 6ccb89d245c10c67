package inventory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/asset-scanner/internal/serial"
)

const (
	assetBucketName  = "assets"
	serialBucketName = "serials"
)

// Store defines the interface for inventory persistence
type Store interface {
	// SaveAsset creates or replaces an asset and indexes its serial
	SaveAsset(asset *Asset) error

	// GetAsset retrieves an asset by ID
	GetAsset(id string) (*Asset, error)

	// ListAssets returns all assets
	ListAssets() ([]*Asset, error)

	// DeleteAsset removes an asset and its serial index entries
	DeleteAsset(id string) error

	// FindBySerial looks an asset up by its serial or normalized serial
	FindBySerial(code string) (*Asset, error)

	// MarkVerified flags an asset as physically verified
	MarkVerified(id string, at time.Time) (*Asset, error)

	// Close closes the store
	Close() error
}

// BoltStore implements Store on top of bbolt
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the inventory file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{assetBucketName, serialBucketName} {
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

	return &BoltStore{db: db}, nil
}

// serialKeys returns the index keys for a stored serial: the uppercased
// serial and, when it differs, its normalized form.
func serialKeys(code string) []string {
	upper := strings.ToUpper(strings.TrimSpace(code))
	if upper == "" {
		return nil
	}
	keys := []string{upper}
	if n := serial.Normalize(upper); n != upper {
		keys = append(keys, n)
	}
	return keys
}

func getAsset(tx *bbolt.Tx, id string) (*Asset, error) {
	data := tx.Bucket([]byte(assetBucketName)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var asset Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("unmarshaling asset: %w", err)
	}
	return &asset, nil
}

func putAsset(tx *bbolt.Tx, asset *Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("marshaling asset: %w", err)
	}
	return tx.Bucket([]byte(assetBucketName)).Put([]byte(asset.ID), data)
}

func unindex(tx *bbolt.Tx, asset *Asset) error {
	idx := tx.Bucket([]byte(serialBucketName))
	for _, k := range serialKeys(asset.Serial) {
		if string(idx.Get([]byte(k))) != asset.ID {
			continue
		}
		if err := idx.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

// SaveAsset saves an asset and replaces its serial index entries
func (b *BoltStore) SaveAsset(asset *Asset) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if prev, err := getAsset(tx, asset.ID); err == nil {
			if err := unindex(tx, prev); err != nil {
				return fmt.Errorf("removing serial index: %w", err)
			}
		}
		if err := putAsset(tx, asset); err != nil {
			return err
		}
		idx := tx.Bucket([]byte(serialBucketName))
		for _, k := range serialKeys(asset.Serial) {
			if err := idx.Put([]byte(k), []byte(asset.ID)); err != nil {
				return fmt.Errorf("indexing serial: %w", err)
			}
		}
		return nil
	})
}

// GetAsset retrieves an asset by ID
func (b *BoltStore) GetAsset(id string) (*Asset, error) {
	var asset *Asset
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		asset, err = getAsset(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// ListAssets returns all assets ordered by ID
func (b *BoltStore) ListAssets() ([]*Asset, error) {
	assets := make([]*Asset, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(assetBucketName)).ForEach(func(k, v []byte) error {
			var asset Asset
			if err := json.Unmarshal(v, &asset); err != nil {
				return fmt.Errorf("unmarshaling asset: %w", err)
			}
			assets = append(assets, &asset)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// DeleteAsset removes an asset from the store
func (b *BoltStore) DeleteAsset(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		asset, err := getAsset(tx, id)
		if err != nil {
			return err
		}
		if err := unindex(tx, asset); err != nil {
			return fmt.Errorf("removing serial index: %w", err)
		}
		return tx.Bucket([]byte(assetBucketName)).Delete([]byte(id))
	})
}

// FindBySerial resolves a scanned code through the serial index. Codes
// are matched case-insensitively against both the stored serial and its
// normalized form.
func (b *BoltStore) FindBySerial(code string) (*Asset, error) {
	var asset *Asset
	err := b.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket([]byte(serialBucketName))
		for _, k := range serialKeys(code) {
			id := idx.Get([]byte(k))
			if id == nil {
				continue
			}
			var err error
			asset, err = getAsset(tx, string(id))
			return err
		}
		return fmt.Errorf("%w: serial %s", ErrNotFound, code)
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// MarkVerified sets the verified flag and timestamp on an asset
func (b *BoltStore) MarkVerified(id string, at time.Time) (*Asset, error) {
	var asset *Asset
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var err error
		asset, err = getAsset(tx, id)
		if err != nil {
			return err
		}
		asset.Verified = true
		asset.VerifiedAt = &at
		asset.UpdatedAt = at
		return putAsset(tx, asset)
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
