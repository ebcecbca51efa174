package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Cabrel10/AetherionOS/internal/transcription"
)

// ErrNotFound is returned by Get for unknown transcript IDs
var ErrNotFound = errors.New("transcript not found")

const (
	timelinePrefix = "tr/"
	idPrefix       = "id/"
)

// Options configures the store
type Options struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// Retention expires records after this long. Zero keeps them.
	Retention time.Duration
	Logger    *slog.Logger
}

// Store is a transcript history backed by badger. Records are kept under a
// time-ordered key so listing newest first is a reverse prefix scan.
type Store struct {
	db        *badger.DB
	retention time.Duration
	logger    *slog.Logger
}

// Open opens or creates a store
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, fmt.Errorf("history dir is required for on-disk mode")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "history")

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{logger})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{logger})
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	return &Store{db: db, retention: opts.Retention, logger: logger}, nil
}

func timelineKey(t *transcription.Transcript) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", timelinePrefix, t.CreatedAt.UnixNano(), t.ID))
}

// Name returns the sink name
func (s *Store) Name() string {
	return "history"
}

// Deliver stores t. It makes the store usable as a transcript sink.
func (s *Store) Deliver(ctx context.Context, t *transcription.Transcript) error {
	return s.Put(t)
}

// Put stores t under its creation time and ID
func (s *Store) Put(t *transcription.Transcript) error {
	if t.ID == "" {
		return fmt.Errorf("transcript has no ID")
	}

	value, err := msgpack.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	key := timelineKey(t)
	return s.db.Update(func(txn *badger.Txn) error {
		record := badger.NewEntry(key, value)
		index := badger.NewEntry([]byte(idPrefix+t.ID), key)
		if s.retention > 0 {
			record = record.WithTTL(s.retention)
			index = index.WithTTL(s.retention)
		}
		if err := txn.SetEntry(record); err != nil {
			return err
		}
		return txn.SetEntry(index)
	})
}

// Get returns the transcript with the given ID
func (s *Store) Get(id string) (*transcription.Transcript, error) {
	var t transcription.Transcript
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(idPrefix + id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &t)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript %s: %w", id, err)
	}
	return &t, nil
}

// Filter narrows Recent. Zero fields match everything; stream 0 is a real stream
// (HTTP uploads use it), so StreamID is a pointer.
type Filter struct {
	StreamID *uint32
	Source   string
}

func (f Filter) match(t *transcription.Transcript) bool {
	if f.StreamID != nil && t.StreamID != *f.StreamID {
		return false
	}
	return f.Source == "" || t.Source == f.Source
}

// Recent returns up to limit transcripts matching filter, newest first
func (s *Store) Recent(limit int, filter Filter) ([]*transcription.Transcript, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []*transcription.Transcript
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = []byte(timelinePrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// one past every timeline key
		seek := []byte(timelinePrefix + "\xff")
		for it.Seek(seek); it.ValidForPrefix(iterOpts.Prefix) && len(out) < limit; it.Next() {
			var t transcription.Transcript
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			if !filter.match(&t) {
				continue
			}
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return out, nil
}

// Count returns the number of stored transcripts
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = []byte(timelinePrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close flushes and closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger output to slog, dropping info and debug chatter
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
