// Package badgerjournal stores deployment journals in a local BadgerDB
// directory. It is the default journal of the deployer CLI.
package badgerjournal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v3"

	deployer "github.com/branched-services/go-deployer"
)

const keyPrefix = "journal\x00"

// Journal is a deployer.Journal backed by BadgerDB. Writes are synced to
// disk before Record returns.
type Journal struct {
	db *badger.DB
}

var (
	_ deployer.Journal = (*Journal)(nil)
	_ deployer.Lister  = (*Journal)(nil)
	_ deployer.Wiper   = (*Journal)(nil)
)

// Option configures Open.
type Option func(*badger.Options)

// WithLogger routes BadgerDB's internal logging to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *badger.Options) {
		o.Logger = &badgerLogger{logger: logger}
	}
}

// InMemory keeps the journal in memory only. dir is ignored.
func InMemory() Option {
	return func(o *badger.Options) {
		o.Dir = ""
		o.ValueDir = ""
		o.InMemory = true
	}
}

// Open opens (creating if needed) the journal stored in dir.
func Open(dir string, opts ...Option) (*Journal, error) {
	o := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	// Journals hold a few hundred small records at most.
	o.MemTableSize = 8 << 20
	o.ValueLogFileSize = 16 << 20
	o.BlockCacheSize = 8 << 20
	o.IndexCacheSize = 0
	for _, opt := range opts {
		opt(&o)
	}

	if !o.InMemory {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("badgerjournal: create %s: %w", dir, err)
		}
	}
	db, err := badger.Open(o)
	if err != nil {
		return nil, fmt.Errorf("badgerjournal: open %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record implements deployer.Journal.
func (j *Journal) Record(_ context.Context, planID, futureID string, rec deployer.ExecutionRecord) error {
	data, err := deployer.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("badgerjournal: encode %s: %w", futureID, err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(planID, futureID), data)
	})
	if err != nil {
		return fmt.Errorf("badgerjournal: write %s: %w", futureID, err)
	}
	return nil
}

// Lookup implements deployer.Journal.
func (j *Journal) Lookup(_ context.Context, planID, futureID string) (*deployer.ExecutionRecord, bool, error) {
	var data []byte
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(planID, futureID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badgerjournal: read %s: %w", futureID, err)
	}

	rec, err := deployer.UnmarshalRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("badgerjournal: decode %s: %w", futureID, err)
	}
	return rec, true, nil
}

// Records implements deployer.Lister.
func (j *Journal) Records(_ context.Context, planID string) ([]deployer.ExecutionRecord, error) {
	prefix := planPrefix(planID)
	var recs []deployer.ExecutionRecord

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := deployer.UnmarshalRecord(val)
				if err != nil {
					return fmt.Errorf("decode %s: %w", item.Key()[len(prefix):], err)
				}
				recs = append(recs, *rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerjournal: list %s: %w", planID, err)
	}

	deployer.SortRecords(recs)
	return recs, nil
}

// Wipe implements deployer.Wiper.
func (j *Journal) Wipe(_ context.Context, planID, futureID string) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(planID, futureID))
	})
	if err != nil {
		return fmt.Errorf("badgerjournal: wipe %s: %w", futureID, err)
	}
	return nil
}

func planPrefix(planID string) []byte {
	return []byte(keyPrefix + planID + "\x00")
}

func recordKey(planID, futureID string) []byte {
	return append(planPrefix(planID), futureID...)
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("badger: " + strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn("badger: " + strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug("badger: " + strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}
