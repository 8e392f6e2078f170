package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no record exists for the requested collection.
	ErrNotFound = errors.New("record not found")
)

// Record is one durably mirrored collection snapshot. Seq is the monotonic
// sequence of the last applied replacement for the collection.
type Record struct {
	Payload   []byte
	Seq       uint64
	UpdatedAt time.Time
}

// Store persists one record per logical collection so cached state survives
// process restarts. Implementations must be safe for concurrent use.
type Store interface {
	Get(collection string) (Record, error)
	Put(collection string, rec Record) error
	Delete(collection string) error
	Close() error
}
