package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"jardav/pkg/types"
)

const (
	mountPrefix   = "mount:"
	archivePrefix = "archive:"
)

type PersistentStore struct {
	db *badger.DB
}

func New(dataDir string) (*PersistentStore, error) {
	if dataDir == "" {
		dataDir = "./jardavData"
	}

	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &PersistentStore{
		db: db,
	}, nil
}

func (s *PersistentStore) Close() error {
	return s.db.Close()
}

func (s *PersistentStore) GetMount(id string) (*types.Mount, error) {
	var mount *types.Mount
	found, err := s.get(mountPrefix+id, func(val []byte) error {
		mount = &types.Mount{}
		return json.Unmarshal(val, mount)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get mount: %w", err)
	}
	if !found {
		return nil, nil
	}
	return mount, nil
}

func (s *PersistentStore) SetMount(mount *types.Mount) error {
	data, err := json.Marshal(mount)
	if err != nil {
		return fmt.Errorf("failed to marshal mount: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(mountPrefix+mount.ID), data)
	})
}

func (s *PersistentStore) DeleteMount(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(mountPrefix + id))
	})
}

// GetAllMounts returns every mount in key order.
func (s *PersistentStore) GetAllMounts() ([]types.Mount, error) {
	var mounts []types.Mount

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(mountPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				var mount types.Mount
				if err := json.Unmarshal(val, &mount); err != nil {
					return err
				}
				mounts = append(mounts, mount)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get all mounts: %w", err)
	}

	return mounts, nil
}

// ReplaceMounts swaps every mount of the given origin for mounts in a single
// transaction. Mounts of other origins are left alone.
func (s *PersistentStore) ReplaceMounts(origin string, mounts []types.Mount) error {
	existing, err := s.GetAllMounts()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range existing {
			if m.Origin != origin {
				continue
			}
			if err := txn.Delete([]byte(mountPrefix + m.ID)); err != nil {
				return err
			}
		}
		for _, m := range mounts {
			m.Origin = origin
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal mount: %w", err)
			}
			if err := txn.Set([]byte(mountPrefix+m.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PersistentStore) CountMounts() (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // We only need to count, not read values
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(mountPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			count++
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to count mounts: %w", err)
	}

	return count, nil
}

func (s *PersistentStore) GetArchiveMetadata(location string) (*types.ArchiveMetadata, error) {
	var metadata *types.ArchiveMetadata
	found, err := s.get(archivePrefix+location, func(val []byte) error {
		metadata = &types.ArchiveMetadata{}
		return json.Unmarshal(val, metadata)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get archive metadata: %w", err)
	}
	if !found {
		return nil, nil
	}
	return metadata, nil
}

func (s *PersistentStore) SetArchiveMetadata(metadata *types.ArchiveMetadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal archive metadata: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(archivePrefix+metadata.Location), data)
	})
}

func (s *PersistentStore) DeleteArchiveMetadata(location string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(archivePrefix + location))
	})
}

func (s *PersistentStore) RunGarbageCollection() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// get reads key and hands its value to decode. found is false when the key
// does not exist.
func (s *PersistentStore) get(key string, decode func(val []byte) error) (found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(decode)
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
