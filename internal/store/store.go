// Package store holds poll records as single JSON documents with field-path
// granular writes and whole-key expiry, the contract the repository layer is
// written against.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the poll record does not exist (or has expired).
	ErrNotFound = errors.New("poll record not found")
	// ErrUnavailable means the backing store could not be reached in time.
	// Callers may retry a bounded number of times.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the poll record contract. One JSON document per poll, addressed by
// poll ID. Paths use the dotted form the document layout defines, e.g.
// ".participants.<id>" or ".hasStarted"; "." addresses the whole document.
type Store interface {
	// SetPoll writes the whole document and its expiry atomically.
	SetPoll(ctx context.Context, pollID string, doc []byte, ttl time.Duration) error
	// GetPoll reads the whole document.
	GetPoll(ctx context.Context, pollID string) ([]byte, error)
	// SetPath writes a single field path on an existing document.
	SetPath(ctx context.Context, pollID, path string, value []byte) error
	// DelPath removes a single field path. Removing an absent path is a no-op.
	DelPath(ctx context.Context, pollID, path string) error
	// DelPoll removes the whole document.
	DelPoll(ctx context.Context, pollID string) error
}

// Key returns the store key for a poll ID.
func Key(pollID string) string {
	return "polls:" + pollID
}
