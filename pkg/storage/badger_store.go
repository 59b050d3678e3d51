package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"cover-palette/pkg/log"
	"cover-palette/pkg/models"
	"cover-palette/pkg/utils"
)

const (
	detailKeyPrefix  = "detail:"
	imageKeyPrefix   = "img:"
	paletteKeyPrefix = "palette:"
	ledgerDBDir      = "ledger_db" // Subdirectory of state_dir holding the Badger files
)

var stageByPrefix = map[string]string{
	detailKeyPrefix:  "detail",
	imageKeyPrefix:   "download",
	paletteKeyPrefix: "palette",
}

// BadgerStore implements Ledger on BadgerDB. Values are JSON-encoded entries.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the ledger under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, ledgerDBDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}
	logger.Infof("Opening ledger at: %s", dbPath)

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogger(logger)).
		WithNumVersionsToKeep(1)
	return open(opts, logger)
}

// NewInMemoryStore opens a ledger that vanishes on Close
func NewInMemoryStore(logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(log.NewBadgerLogger(logger))
	return open(opts, logger)
}

func open(opts badger.Options, logger *logrus.Entry) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %q: %w", utils.ErrDatabase, opts.Dir, err)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate retries db.Update on transaction conflicts, which clear in microseconds
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// getJSON decodes key into dst. found is false for missing keys and undecodable values.
func (s *BadgerStore) getJSON(key string, dst any) (found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(key))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				s.log.Warnf("Key '%s' has an empty value, treating as not found", key)
				return nil
			}
			if errJSON := json.Unmarshal(val, dst); errJSON != nil {
				s.log.Warnf("Failed to decode entry for key '%s': %v. Treating as not found.", key, errJSON)
				return nil
			}
			found = true
			return nil
		})
	})
	if err != nil {
		s.log.Errorf("DB View error for key '%s': %v", key, err)
		return false, fmt.Errorf("%w: reading key '%s': %w", utils.ErrDatabase, key, err)
	}
	return found, nil
}

func (s *BadgerStore) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding entry for key '%s': %w", utils.ErrDatabase, key, err)
	}
	err = s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data))
	})
	if err != nil {
		s.log.WithField("key", key).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: writing key '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// CheckDetail implements DetailStore
func (s *BadgerStore) CheckDetail(detailURL string) (models.PageStatus, *models.DetailDBEntry, error) {
	var entry models.DetailDBEntry
	found, err := s.getJSON(detailKeyPrefix+detailURL, &entry)
	if err != nil {
		return models.PageStatusDBError, nil, err
	}
	if !found {
		return models.PageStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// UpdateDetail implements DetailStore
func (s *BadgerStore) UpdateDetail(detailURL string, entry *models.DetailDBEntry) error {
	if !entry.Status.IsValid() {
		return fmt.Errorf("%w: refusing to store detail status %q", utils.ErrDatabase, entry.Status)
	}
	return s.putJSON(detailKeyPrefix+detailURL, entry)
}

// ResetDetails implements DetailStore
func (s *BadgerStore) ResetDetails() error {
	if err := s.db.DropPrefix([]byte(detailKeyPrefix)); err != nil {
		return fmt.Errorf("%w: dropping detail cache: %w", utils.ErrDatabase, err)
	}
	s.log.Info("Detail page cache cleared")
	return nil
}

// CheckImage implements ImageStore
func (s *BadgerStore) CheckImage(filename string) (models.ImageStatus, *models.ImageDBEntry, error) {
	var entry models.ImageDBEntry
	found, err := s.getJSON(imageKeyPrefix+filename, &entry)
	if err != nil {
		return models.ImageStatusDBError, nil, err
	}
	if !found {
		return models.ImageStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// UpdateImage implements ImageStore
func (s *BadgerStore) UpdateImage(filename string, entry *models.ImageDBEntry) error {
	if !entry.Status.IsValid() {
		return fmt.Errorf("%w: refusing to store image status %q", utils.ErrDatabase, entry.Status)
	}
	return s.putJSON(imageKeyPrefix+filename, entry)
}

// CheckPalette implements PaletteStore
func (s *BadgerStore) CheckPalette(filename string) (models.ImageStatus, *models.PaletteDBEntry, error) {
	var entry models.PaletteDBEntry
	found, err := s.getJSON(paletteKeyPrefix+filename, &entry)
	if err != nil {
		return models.ImageStatusDBError, nil, err
	}
	if !found {
		return models.ImageStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// UpdatePalette implements PaletteStore
func (s *BadgerStore) UpdatePalette(filename string, entry *models.PaletteDBEntry) error {
	if !entry.Status.IsValid() {
		return fmt.Errorf("%w: refusing to store palette status %q", utils.ErrDatabase, entry.Status)
	}
	return s.putJSON(paletteKeyPrefix+filename, entry)
}

// Failures implements StoreAdmin
func (s *BadgerStore) Failures(ctx context.Context) ([]Failure, error) {
	var failures []Failure
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for _, prefix := range []string{detailKeyPrefix, imageKeyPrefix, paletteKeyPrefix} {
			p := []byte(prefix)
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := it.Item()
				key := string(item.Key()[len(p):])

				var head struct {
					Status    string `json:"status"`
					ErrorType string `json:"error_type"`
				}
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &head)
				}); err != nil {
					s.log.Warnf("Ledger scan: skipping undecodable entry '%s%s': %v", prefix, key, err)
					continue
				}
				if head.Status == string(models.ImageStatusFailure) {
					failures = append(failures, Failure{Stage: stageByPrefix[prefix], Key: key, ErrorType: head.ErrorType})
				}
			}
		}
		return nil
	})
	if err != nil {
		if utils.IsContextError(err) {
			return failures, err
		}
		return failures, fmt.Errorf("%w: scanning ledger: %w", utils.ErrDatabase, err)
	}
	return failures, nil
}

// RunGC implements StoreAdmin
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db.IsClosed() {
				return
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			switch {
			case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
				s.log.Debug("Ledger GC finished")
			default:
				s.log.Errorf("Ledger GC error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing ledger: %v", err)
		return fmt.Errorf("%w: closing ledger: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Ledger closed")
	return nil
}
