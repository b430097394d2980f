package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"audio-transcriber/pkg/models"

	"github.com/dgraph-io/badger/v3"
)

const (
	jobPrefix    = "job:"
	resultPrefix = "result:"

	// ResultTTL bounds how long a cached chunk result is reused.
	ResultTTL = 7 * 24 * time.Hour
)

// DiskStore persists finished jobs and caches successful chunk results.
type DiskStore interface {
	StoreJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	GetResult(key string) (*models.ChunkResult, bool, error)
	PutResult(key string, result *models.ChunkResult) error
	Close() error
}

type diskStore struct {
	db *badger.DB
}

func NewDiskStore(path string) (DiskStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &diskStore{db: db}, nil
}

func (s *diskStore) StoreJob(job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(jobPrefix+job.ID), data)
	})
}

func (s *diskStore) GetJob(id string) (*models.Job, error) {
	var job models.Job
	found, err := s.get(jobPrefix+id, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if !found {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *diskStore) GetResult(key string) (*models.ChunkResult, bool, error) {
	var result models.ChunkResult
	found, err := s.get(resultPrefix+key, &result)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get chunk result: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &result, true, nil
}

// PutResult caches a successful result. Failed results are not stored.
func (s *diskStore) PutResult(key string, result *models.ChunkResult) error {
	if result.Status != models.ChunkSucceeded {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk result: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(resultPrefix+key), data).WithTTL(ResultTTL))
	})
}

func (s *diskStore) get(key string, v interface{}) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *diskStore) Close() error {
	return s.db.Close()
}

var ErrJobNotFound = fmt.Errorf("job not found")
