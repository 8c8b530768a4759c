package jobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/core"
	badger "github.com/dgraph-io/badger/v4"
)

// ErrBadgerDirRequired indicates an on-disk badger store without a directory.
var ErrBadgerDirRequired = errors.New("badger directory is required for on-disk mode")

var jobKeyPrefix = []byte("job/")

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string
	// InMemory runs BadgerDB without disk persistence.
	InMemory bool
	// Log receives badger's warnings and errors. Nil silences them.
	Log *logger.Logger
}

// BadgerStore implements core.JobStore on an embedded BadgerDB. Each record
// carries its own revision; compare-and-set runs inside one transaction.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the database.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, ErrBadgerDirRequired
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}

	dbOpts = dbOpts.WithLogger(badgerLogger{log: opts.Log})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// Close releases the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Get implements core.JobStore.
func (b *BadgerStore) Get(_ context.Context, id string) (core.RenderJob, uint64, error) {
	var stored record

	err := b.db.View(func(txn *badger.Txn) error {
		var getErr error

		stored, getErr = readRecord(txn, id)

		return getErr
	})
	if err != nil {
		return core.RenderJob{}, 0, err
	}

	return stored.Job, stored.Revision, nil
}

// Put implements core.JobStore.
func (b *BadgerStore) Put(_ context.Context, job core.RenderJob) (uint64, error) {
	var revision uint64

	err := b.db.Update(func(txn *badger.Txn) error {
		current, readErr := readRecord(txn, job.ID)
		if readErr != nil && !errors.Is(readErr, core.ErrNotFound) {
			return readErr
		}

		revision = current.Revision + 1

		return writeRecord(txn, job, revision)
	})
	if err != nil {
		return 0, mapConflict(err, job.ID)
	}

	return revision, nil
}

// CompareAndSet implements core.JobStore.
func (b *BadgerStore) CompareAndSet(_ context.Context, job core.RenderJob, expected uint64) (uint64, error) {
	var revision uint64

	err := b.db.Update(func(txn *badger.Txn) error {
		current, readErr := readRecord(txn, job.ID)
		if readErr != nil {
			return readErr
		}

		if current.Revision != expected {
			return fmt.Errorf("%w: job %s is at revision %d, expected %d",
				core.ErrRevisionConflict, job.ID, current.Revision, expected)
		}

		revision = expected + 1

		return writeRecord(txn, job, revision)
	})
	if err != nil {
		return 0, mapConflict(err, job.ID)
	}

	return revision, nil
}

// List implements core.JobStore.
func (b *BadgerStore) List(_ context.Context) ([]core.RenderJob, error) {
	jobs := []core.RenderJob{}

	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = jobKeyPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(jobKeyPrefix); it.ValidForPrefix(jobKeyPrefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read job record: %w", err)
			}

			stored, err := decodeRecord(data)
			if err != nil {
				return err
			}

			jobs = append(jobs, stored.Job)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sortJobs(jobs)

	return jobs, nil
}

func jobKey(id string) []byte {
	return append(append([]byte(nil), jobKeyPrefix...), id...)
}

func readRecord(txn *badger.Txn, id string) (record, error) {
	item, err := txn.Get(jobKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return record{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}

		return record{}, fmt.Errorf("failed to get job '%s': %w", id, err)
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return record{}, fmt.Errorf("failed to read job '%s': %w", id, err)
	}

	return decodeRecord(data)
}

func writeRecord(txn *badger.Txn, job core.RenderJob, revision uint64) error {
	data, err := encodeRecord(job, revision)
	if err != nil {
		return err
	}

	return txn.Set(jobKey(job.ID), data)
}

// mapConflict reports badger's optimistic-transaction conflicts as revision
// conflicts.
func mapConflict(err error, id string) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: concurrent write to job %s", core.ErrRevisionConflict, id)
	}

	return err
}

// badgerLogger forwards badger's warnings and errors to the service logger
// and drops its info and debug chatter.
type badgerLogger struct {
	log *logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	if l.log != nil {
		l.log.Error("[badger] "+format, args...)
	}
}

func (l badgerLogger) Warningf(format string, args ...any) {
	if l.log != nil {
		l.log.Warn("[badger] "+format, args...)
	}
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
