package store

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// LevelStore is a durable Store backed by LevelDB. The persistent
// signer's key slot lives here so a public key survives a restart.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) a LevelDB database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening leveldb at %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// Get returns the value for key, or ErrNotFound.
func (s *LevelStore) Get(key string) ([]byte, error) {
	value, err := s.db.Get([]byte(key), nil)
	if err == lderrors.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, nil
}

// Set writes the value for key.
func (s *LevelStore) Set(key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *LevelStore) Delete(key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

// Verify LevelStore implements Store.
var _ Store = (*LevelStore)(nil)
