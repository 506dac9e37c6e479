// Package cache persists extracted FactRecords in BadgerDB, keyed by file
// content and extractor settings, so unchanged files are not parsed again.
// Import origins in a cached record reflect the project layout at the time
// it was stored; callers reclassify them on read.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/phobologic/pyrelate/internal/model"
	"github.com/phobologic/pyrelate/internal/sbom"
)

// ErrMiss is returned by Get when no entry exists.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "facts:"

// FactCache is safe for concurrent use.
type FactCache struct {
	db *badger.DB
}

// Open opens or creates a cache in dir. A nil logger disables badger's
// internal logging.
func Open(dir string, logger *slog.Logger) (*FactCache, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory opens a cache that is discarded on Close.
func OpenInMemory() (*FactCache, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), nil)
}

func open(opts badger.Options, logger *slog.Logger) (*FactCache, error) {
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening fact cache: %w", err)
	}
	return &FactCache{db: db}, nil
}

// Close flushes and closes the underlying database.
func (c *FactCache) Close() error {
	return c.db.Close()
}

func key(sha256, fingerprint string) []byte {
	return []byte(keyPrefix + sha256 + ":" + fingerprint)
}

// Get returns the facts stored for the content hash under the extractor
// fingerprint, or ErrMiss.
func (c *FactCache) Get(sha256, fingerprint string) (model.FactRecord, error) {
	var md sbom.Metadata
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(sha256, fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &md)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.FactRecord{}, ErrMiss
	}
	if err != nil {
		return model.FactRecord{}, fmt.Errorf("reading cached facts: %w", err)
	}
	return sbom.FromMetadata(md)
}

// Put stores facts for the content hash under the extractor fingerprint.
func (c *FactCache) Put(sha256, fingerprint string, facts *model.FactRecord) error {
	data, err := json.Marshal(sbom.ToMetadata(facts))
	if err != nil {
		return fmt.Errorf("encoding facts: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(sha256, fingerprint), data)
	})
	if err != nil {
		return fmt.Errorf("writing cached facts: %w", err)
	}
	return nil
}

// Len counts stored entries.
func (c *FactCache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
