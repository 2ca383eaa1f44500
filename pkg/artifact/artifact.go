// Package artifact stores per-verification attribution records.
//
// The store is append-only: every verification writes one record under a
// fresh UUID, so concurrent writers never contend on a key. Records carry
// a TTL and expire through BadgerDB's native key expiry; an in-memory
// mode backs tests.
package artifact

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when an artifact id is absent or expired.
var ErrNotFound = errors.New("artifact: not found")

// Record is one verification's attribution artifact.
type Record struct {
	// ProbeID identifies the probe submission.
	ProbeID string `msgpack:"probe_id"`

	// UserID is the claimed identity.
	UserID string `msgpack:"user_id"`

	// RawScore is the maximum cosine against the user's prototypes.
	RawScore float64 `msgpack:"raw_score"`

	// Probability is the calibrated same-user probability.
	Probability float64 `msgpack:"probability"`

	// SpoofScore is the autoencoder reconstruction error.
	SpoofScore float64 `msgpack:"spoof_score"`

	// IsSpoof reports whether the spoof gate fired.
	IsSpoof bool `msgpack:"is_spoof"`

	// Accepted is the final decision.
	Accepted bool `msgpack:"accepted"`

	// ErrorKind records the internal failure category, empty on success.
	// It is never exposed at the external interface.
	ErrorKind string `msgpack:"error_kind,omitempty"`

	// Strategy names the attribution method that produced the map.
	Strategy string `msgpack:"strategy"`

	// Importance is the (channels × samples) attribution map, row-major
	// by channel. Empty when the verification failed before attribution.
	Importance [][]float32 `msgpack:"importance"`

	// CreatedAt is the record timestamp.
	CreatedAt time.Time `msgpack:"created_at"`
}

// Options configures the store.
type Options struct {
	// Dir is the BadgerDB directory. Required unless InMemory.
	Dir string

	// InMemory runs the store without disk persistence, for tests.
	InMemory bool

	// TTL is the record lifetime. Zero means DefaultTTL.
	TTL time.Duration
}

// DefaultTTL is the record lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// Store persists attribution records.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open creates or opens a store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("artifact: Options.Dir required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("artifact: open: %w", err)
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Put stores rec under a freshly generated identifier and returns it.
func (s *Store) Put(rec *Record) (string, error) {
	id := uuid.NewString()
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("artifact: encode: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(id), data).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("artifact: write: %w", err)
	}
	return id, nil
}

// Get retrieves a record by identifier.
func (s *Store) Get(id string) (*Record, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: read: %w", err)
	}
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("artifact: decode: %w", err)
	}
	return &rec, nil
}

// Bytes retrieves the raw encoded record, for pass-through serving.
func (s *Store) Bytes(id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: read: %w", err)
	}
	return data, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }
